package query_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"TrancheLedger/internal/persistence"
	"TrancheLedger/internal/query"
	"TrancheLedger/internal/testutil"

	"github.com/google/uuid"
)

func TestQueryService(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	migrator := persistence.NewMigrator(db, "../../migrations")
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	writer := persistence.NewEventLogWriter(db)

	h0 := bytes.Repeat([]byte{0x01}, 32)
	h1 := bytes.Repeat([]byte{0x02}, 32)
	h2 := bytes.Repeat([]byte{0x03}, 32)
	zero := make([]byte, 32)
	at := time.UnixMicro(1_700_000_000_000_000)

	events := []persistence.EventRow{
		{Sequence: 0, EventType: "TrancheDeposit", IdempotencyKey: "dep-1", Payload: []byte(`{}`), StateHash: h0, PrevHash: zero, Timestamp: at},
		{Sequence: 1, EventType: "SettlePeriod", IdempotencyKey: "period-1", Payload: []byte(`{}`), StateHash: h1, PrevHash: h0, Timestamp: at.Add(time.Hour)},
		{Sequence: 2, EventType: "BackstopShortfall", IdempotencyKey: "period-1:shortfall", Payload: []byte(`{"shortfall":"5"}`), StateHash: h2, PrevHash: h1, Timestamp: at.Add(time.Hour)},
	}
	if err := writer.WriteEventBatch(ctx, db, events); err != nil {
		t.Fatalf("write events: %v", err)
	}

	journals := []persistence.JournalRow{
		{
			JournalID: uuid.New().String(), BatchID: uuid.New().String(),
			EventRef: "dep-1", Sequence: 0,
			DebitAccount: "tranche:senior", CreditAccount: "external:collateral",
			Amount: "10000000000000000000000000", JournalType: 0, Timestamp: at.UnixMicro(),
		},
		{
			JournalID: uuid.New().String(), BatchID: uuid.New().String(),
			EventRef: "dep-1", Sequence: 0,
			DebitAccount: "tranche:junior", CreditAccount: "external:collateral",
			Amount: "2000000000000000000000000", JournalType: 0, Timestamp: at.UnixMicro(),
		},
		{
			JournalID: uuid.New().String(), BatchID: uuid.New().String(),
			EventRef: "period-1", Sequence: 1,
			DebitAccount: "system:mgmt_fees", CreditAccount: "tranche:junior",
			Amount: "500000000000000000000", JournalType: 2, Timestamp: at.Add(time.Hour).UnixMicro(),
		},
	}
	if err := writer.WriteJournalBatch(ctx, db, journals); err != nil {
		t.Fatalf("write journals: %v", err)
	}

	settlements := []persistence.SettlementRow{{
		Sequence: 1, EventRef: "period-1", ElapsedSeconds: 2_592_000,
		GrossValue: "11140712000000000000000000", NetValue: "11131545407100000000000000",
		Tier: "mid", Zone: "healthy",
		NewIndex: "1011049660000000000", NewSeniorSupply: "10000000000000000000000000",
		UserMint: "0", PerfFeeMint: "0", MgmtFeeValue: "500000000000000000000",
		ToJunior: "0", ToReserve: "0", FromReserve: "0", FromJunior: "0",
		Shortfall: "0", FinalSeniorValue: "10110496600000000000000000",
		BackstopNeeded: false, SettledAt: at.Add(time.Hour),
	}}
	if err := writer.WriteSettlementBatch(ctx, db, settlements); err != nil {
		t.Fatalf("write settlements: %v", err)
	}

	qs := query.NewQueryService(db)

	t.Run("tranche balance derives from journal", func(t *testing.T) {
		bal, err := qs.GetTrancheBalance(ctx, "senior")
		if err != nil {
			t.Fatalf("senior balance: %v", err)
		}
		if bal.Balance != "10000000000000000000000000" {
			t.Errorf("senior balance = %s", bal.Balance)
		}
		if bal.AsOfSequence != 2 {
			t.Errorf("as_of_sequence = %d, want 2", bal.AsOfSequence)
		}

		// Junior: 2e24 debit minus 5e20 credit (mgmt fee).
		bal, err = qs.GetTrancheBalance(ctx, "junior")
		if err != nil {
			t.Fatalf("junior balance: %v", err)
		}
		if bal.Balance != "1999500000000000000000000" {
			t.Errorf("junior balance = %s", bal.Balance)
		}

		if _, err := qs.GetTrancheBalance(ctx, "mezzanine"); err == nil {
			t.Error("unknown tranche must error")
		}
	})

	t.Run("protocol overview includes latest settlement", func(t *testing.T) {
		overview, err := qs.GetProtocolOverview(ctx)
		if err != nil {
			t.Fatalf("overview: %v", err)
		}
		if overview.Reserve.Balance != "0" {
			t.Errorf("reserve balance = %s, want 0", overview.Reserve.Balance)
		}
		if overview.LatestSettlement == nil {
			t.Fatal("missing latest settlement")
		}
		if overview.LatestSettlement.NewIndex != "1011049660000000000" {
			t.Errorf("new index = %s", overview.LatestSettlement.NewIndex)
		}
	})

	t.Run("settlement history pagination", func(t *testing.T) {
		records, err := qs.GetSettlementHistory(ctx, 10, nil)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("got %d records, want 1", len(records))
		}
		if records[0].Tier != "mid" || records[0].Zone != "healthy" {
			t.Errorf("tier/zone = %s/%s", records[0].Tier, records[0].Zone)
		}

		after := records[0].Sequence
		next, err := qs.GetSettlementHistory(ctx, 10, &after)
		if err != nil {
			t.Fatalf("next page: %v", err)
		}
		if len(next) != 0 {
			t.Errorf("expected empty next page, got %d", len(next))
		}
	})

	t.Run("journal history filters by account", func(t *testing.T) {
		entries, err := qs.GetJournalHistory(ctx, "tranche:junior", 10, nil)
		if err != nil {
			t.Fatalf("journal history: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("got %d entries, want 2", len(entries))
		}
		// Newest first.
		if entries[0].Sequence != 1 {
			t.Errorf("first entry sequence = %d, want 1", entries[0].Sequence)
		}
		if entries[0].Amount != "500000000000000000000" {
			t.Errorf("amount = %s", entries[0].Amount)
		}
	})

	t.Run("incidents surface derived alerts", func(t *testing.T) {
		incidents, err := qs.GetIncidents(ctx, 10, nil)
		if err != nil {
			t.Fatalf("incidents: %v", err)
		}
		if len(incidents) != 1 {
			t.Fatalf("got %d incidents, want 1", len(incidents))
		}
		if incidents[0].EventType != "BackstopShortfall" {
			t.Errorf("event type = %s", incidents[0].EventType)
		}
	})

	t.Run("integrity report on a healthy chain", func(t *testing.T) {
		report, err := qs.VerifyIntegrity(ctx)
		if err != nil {
			t.Fatalf("integrity: %v", err)
		}
		if !report.IsHealthy {
			t.Errorf("unhealthy report: breaks=%v negative=%v",
				report.HashChainBreaks, report.NegativeTranches)
		}
	})

	t.Run("integrity report flags a broken chain", func(t *testing.T) {
		broken := persistence.EventRow{
			Sequence: 3, EventType: "TrancheDeposit", IdempotencyKey: "dep-2",
			Payload: []byte(`{}`), StateHash: bytes.Repeat([]byte{0x04}, 32),
			PrevHash: bytes.Repeat([]byte{0xff}, 32), Timestamp: at.Add(2 * time.Hour),
		}
		if err := writer.WriteEventBatch(ctx, db, []persistence.EventRow{broken}); err != nil {
			t.Fatalf("write broken event: %v", err)
		}

		report, err := qs.VerifyIntegrity(ctx)
		if err != nil {
			t.Fatalf("integrity: %v", err)
		}
		if report.IsHealthy {
			t.Error("expected unhealthy report")
		}
		if len(report.HashChainBreaks) != 1 || report.HashChainBreaks[0] != 3 {
			t.Errorf("hash chain breaks = %v, want [3]", report.HashChainBreaks)
		}
	})
}
