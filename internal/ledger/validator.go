package ledger

import (
	"fmt"
	"math/big"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies the batch is well-formed and balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the ledger is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	total := v.tracker.ComputeGlobalBalance()
	if total.Sign() != 0 {
		return fmt.Errorf("global balance is non-zero: %s", total)
	}
	return nil
}

// ValidateTrancheNonNegative checks that no tranche bucket went negative
func (v *InvariantValidator) ValidateTrancheNonNegative() error {
	for _, tranche := range []string{"senior", "junior", "reserve"} {
		bal, err := v.tracker.TrancheBalance(tranche)
		if err != nil {
			return err
		}
		if bal.Sign() < 0 {
			return fmt.Errorf("tranche %s has negative balance: %s", tranche, bal)
		}
	}
	return nil
}

// ValidateTrancheMatches cross-checks a tracked tranche bucket against the
// protocol state's book value.
func (v *InvariantValidator) ValidateTrancheMatches(tranche string, bookValue *big.Int) error {
	bal, err := v.tracker.TrancheBalance(tranche)
	if err != nil {
		return err
	}
	if bal.Cmp(bookValue) != 0 {
		return fmt.Errorf("tranche %s diverged from book value: ledger=%s, book=%s", tranche, bal, bookValue)
	}
	return nil
}
