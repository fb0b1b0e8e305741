package oracle

import (
	"errors"
	"fmt"
	"math/big"

	"TrancheLedger/internal/fixedpoint"
)

// ErrValueDeviationTooHigh is returned when a manually supplied vault value
// deviates from the pool-derived value by more than the configured
// tolerance.
var ErrValueDeviationTooHigh = errors.New("oracle: manual value deviates from calculated value beyond tolerance")

// PoolQuote is a single atomic snapshot of an exchange pool. Both reserves
// and the LP supply are normalized to the engine's fixed-point scale before
// they reach this package; the stable side is defined to equal 1.0 in the
// unit of account.
type PoolQuote struct {
	ReserveStable *big.Int
	ReserveOther  *big.Int
	LPTotalSupply *big.Int
	StableIsFirst bool
}

// Config controls value derivation and manual-value validation.
type Config struct {
	StableIsFirst      bool
	MaxDeviationBps    uint64
	ValidationEnabled  bool
	UseCalculatedValue bool
}

// Source supplies pool snapshots. The production implementation reads an
// on-chain pool; tests inject fixture reserves.
type Source interface {
	PoolQuote() (PoolQuote, error)
}

// StaticSource is a Source returning a fixed quote. Used by tests and by
// replay paths where the quote was captured in the event log.
type StaticSource struct {
	Quote PoolQuote
}

func (s StaticSource) PoolQuote() (PoolQuote, error) { return s.Quote, nil }

// ImpliedPrice derives the price of the non-stable side from the reserve
// ratio: reserveStable × Precision / reserveOther.
func ImpliedPrice(q PoolQuote) (*big.Int, error) {
	price, err := fixedpoint.MulDiv(q.ReserveStable, fixedpoint.Precision, q.ReserveOther)
	if err != nil {
		return nil, fmt.Errorf("implied price: %w", err)
	}
	return price, nil
}

// PoolValue returns the total pool value in the unit of account:
// reserveStable + reserveOther × impliedPrice.
func PoolValue(q PoolQuote) (*big.Int, error) {
	price, err := ImpliedPrice(q)
	if err != nil {
		return nil, err
	}
	otherValue := new(big.Int).Mul(q.ReserveOther, price)
	otherValue.Quo(otherValue, fixedpoint.Precision)
	return otherValue.Add(otherValue, q.ReserveStable), nil
}

// LPPrice returns the value of one LP token: poolValue × Precision / lpSupply.
func LPPrice(q PoolQuote) (*big.Int, error) {
	value, err := PoolValue(q)
	if err != nil {
		return nil, err
	}
	price, err := fixedpoint.MulDiv(value, fixedpoint.Precision, q.LPTotalSupply)
	if err != nil {
		return nil, fmt.Errorf("lp price: %w", err)
	}
	return price, nil
}

// TotalVaultValue values an LP holding plus idle stable balance:
// lpBalance × lpPrice / Precision + idleStable. Pure — no pool access.
func TotalVaultValue(lpBalance, lpPrice, idleStable *big.Int) *big.Int {
	held := new(big.Int).Mul(lpBalance, lpPrice)
	held.Quo(held, fixedpoint.Precision)
	return held.Add(held, idleStable)
}

// ValidateManualValue checks a manually supplied value against the
// calculated one: |manual − calculated| / calculated must not exceed
// maxDeviationBps / 10_000.
func ValidateManualValue(manual, calculated *big.Int, maxDeviationBps uint64) error {
	if calculated.Sign() == 0 {
		return fixedpoint.ErrDivisionByZero
	}
	diff := new(big.Int).Sub(manual, calculated)
	diff.Abs(diff)
	// Compare diff × 10_000 > calculated × maxDeviationBps without division
	// so the check is exact.
	lhs := new(big.Int).Mul(diff, fixedpoint.BasisPoints)
	rhs := new(big.Int).Mul(calculated, new(big.Int).SetUint64(maxDeviationBps))
	if lhs.Cmp(rhs) > 0 {
		return fmt.Errorf("%w: manual=%s calculated=%s tolerance=%dbps",
			ErrValueDeviationTooHigh, manual, calculated, maxDeviationBps)
	}
	return nil
}
