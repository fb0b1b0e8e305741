package core_test

import (
	"testing"

	"TrancheLedger/internal/core"
)

func TestSequenceValidator_ExactNext(t *testing.T) {
	sv := core.NewSequenceValidator()

	if err := sv.ValidateSequence("flows", 0, false); err != nil {
		t.Fatalf("seq 0: %v", err)
	}
	sv.CommitSequence("flows", 0)
	if err := sv.ValidateSequence("flows", 1, false); err != nil {
		t.Fatalf("seq 1: %v", err)
	}
	sv.CommitSequence("flows", 1)
	if err := sv.ValidateSequence("flows", 3, false); err == nil {
		t.Error("gap must be rejected")
	}
	if err := sv.ValidateSequence("flows", 0, false); err == nil {
		t.Error("out-of-order new event must be rejected")
	}
	if err := sv.ValidateSequence("flows", 0, true); err != nil {
		t.Errorf("duplicate redelivery must pass: %v", err)
	}
}

func TestSequenceValidator_ValidateDoesNotConsume(t *testing.T) {
	sv := core.NewSequenceValidator()

	if err := sv.ValidateSequence("flows", 0, false); err != nil {
		t.Fatalf("seq 0: %v", err)
	}
	// Uncommitted: a resend at the same sequence is still in order.
	if err := sv.ValidateSequence("flows", 0, false); err != nil {
		t.Fatalf("resend before commit: %v", err)
	}
	if sv.GetExpectedSequence("flows") != 0 {
		t.Errorf("expected next 0, got %d", sv.GetExpectedSequence("flows"))
	}

	sv.CommitSequence("flows", 0)
	if err := sv.ValidateSequence("flows", 0, false); err == nil {
		t.Error("committed sequence must reject a non-duplicate resend")
	}
	if sv.GetExpectedSequence("flows") != 1 {
		t.Errorf("expected next 1, got %d", sv.GetExpectedSequence("flows"))
	}
}

func TestSequenceValidator_PartitionsIndependent(t *testing.T) {
	sv := core.NewSequenceValidator()

	if err := sv.ValidateSequence("flows", 0, false); err != nil {
		t.Fatalf("flows: %v", err)
	}
	sv.CommitSequence("flows", 0)
	if err := sv.ValidateSequence("settle", 0, false); err != nil {
		t.Fatalf("settle: %v", err)
	}
	sv.CommitSequence("settle", 0)
	if sv.GetExpectedSequence("flows") != 1 || sv.GetExpectedSequence("settle") != 1 {
		t.Error("partitions must advance independently")
	}
}

func TestSequenceValidator_QuoteGapsAccepted(t *testing.T) {
	sv := core.NewSequenceValidator()

	if err := sv.ValidateQuoteSequence("main", 1); err != nil {
		t.Fatalf("seq 1: %v", err)
	}
	if err := sv.ValidateQuoteSequence("main", 9); err != nil {
		t.Fatalf("gapped quote must be accepted: %v", err)
	}
	if err := sv.ValidateQuoteSequence("main", 4); err != nil {
		t.Fatalf("stale quote must be silently ignored: %v", err)
	}
	if sv.GetExpectedSequence("pool:main") != 10 {
		t.Errorf("expected next 10, got %d", sv.GetExpectedSequence("pool:main"))
	}
}

func TestIdempotencyChecker_LRU(t *testing.T) {
	ic := core.NewIdempotencyChecker(2, nil)

	if ic.IsDuplicate("TrancheDeposit", "a") {
		t.Error("fresh key must not be a duplicate")
	}
	ic.MarkProcessed("TrancheDeposit", "a")
	if !ic.IsDuplicate("TrancheDeposit", "a") {
		t.Error("marked key must be a duplicate")
	}
	if ic.IsDuplicate("TrancheWithdrawal", "a") {
		t.Error("key space is per event type")
	}

	// Capacity 2: adding b and c evicts a.
	ic.MarkProcessed("TrancheDeposit", "b")
	ic.MarkProcessed("TrancheDeposit", "c")
	if ic.IsDuplicate("TrancheDeposit", "a") {
		t.Error("evicted key must fall back to not-duplicate without a DB tier")
	}
}

type stubDBChecker struct {
	known map[string]bool
}

func (s *stubDBChecker) IsDuplicate(eventType, key string) (bool, error) {
	return s.known[eventType+":"+key], nil
}

func TestIdempotencyChecker_DBFallback(t *testing.T) {
	db := &stubDBChecker{known: map[string]bool{"TrancheDeposit:old": true}}
	ic := core.NewIdempotencyChecker(10, db)

	if !ic.IsDuplicate("TrancheDeposit", "old") {
		t.Error("tier-2 hit must report duplicate")
	}
	// Second lookup is served from the LRU.
	db.known = nil
	if !ic.IsDuplicate("TrancheDeposit", "old") {
		t.Error("tier-2 hit must be cached in the LRU")
	}
}
