package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeWithdrawalFee
	JournalTypeEarlyPenalty
	JournalTypeYieldAccrual
	JournalTypeMgmtFee
	JournalTypeSinkAccrual
	JournalTypeSpilloverToJunior
	JournalTypeSpilloverToReserve
	JournalTypeBackstopFromReserve
	JournalTypeBackstopFromJunior
	JournalTypeShortfall
	JournalTypeAdjustment
)

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups entries from one event
	EventRef      string      // Idempotency key of source event
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving value
	CreditAccount AccountKey  // Account giving up value
	Amount        *big.Int    // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (epoch microseconds)
}

// Batch represents the journal entries generated by one event
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each entry is a balanced
// transfer by construction (one positive amount moves from credit to
// debit), so Σ debits == Σ credits holds per-entry. Multi-leg events use
// multiple entries under one batch_id.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.Sign() <= 0 {
			return fmt.Errorf("journal %s has non-positive amount", j.JournalID)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}

	return nil
}
