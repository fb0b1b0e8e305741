package ledger

import (
	"fmt"
	"math/big"
)

// BalanceTracker maintains in-memory account balances. It mirrors the
// tranche value state as a double-entry audit trail: every transfer the
// core applies also lands here, so conservation can be checked
// independently of the protocol state.
type BalanceTracker struct {
	balances map[AccountKey]*big.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*big.Int),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.adjust(j.DebitAccount, j.Amount)
	bt.adjust(j.CreditAccount, new(big.Int).Neg(j.Amount))
}

func (bt *BalanceTracker) adjust(key AccountKey, delta *big.Int) {
	bal, ok := bt.balances[key]
	if !ok {
		bal = new(big.Int)
		bt.balances[key] = bal
	}
	bal.Add(bal, delta)
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns a copy of the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *big.Int {
	if bal, ok := bt.balances[key]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// TrancheBalance returns the tracked value of one tranche bucket.
func (bt *BalanceTracker) TrancheBalance(tranche string) (*big.Int, error) {
	key, ok := TrancheAccount(tranche)
	if !ok {
		return nil, fmt.Errorf("unknown tranche: %s", tranche)
	}
	return bt.GetBalance(key), nil
}

// ComputeGlobalBalance sums all account balances (zero for a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() *big.Int {
	total := new(big.Int)
	for _, bal := range bt.balances {
		total.Add(total, bal)
	}
	return total
}

// SetBalance overwrites an account balance (used during snapshot restore)
func (bt *BalanceTracker) SetBalance(key AccountKey, balance *big.Int) {
	bt.balances[key] = new(big.Int).Set(balance)
}

// Snapshot returns a detached copy of all balances
func (bt *BalanceTracker) Snapshot() map[AccountKey]*big.Int {
	snapshot := make(map[AccountKey]*big.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = new(big.Int).Set(v)
	}
	return snapshot
}
