package fixedpoint

import (
	"errors"
	"math/big"
)

// ErrDivisionByZero is returned when a conversion would divide by a zero
// supply, index, or denominator.
var ErrDivisionByZero = errors.New("fixedpoint: division by zero")

// Precision is the global fixed-point scale (1e18). Every value, supply,
// share count, rate, and index in the engine is an unsigned integer scaled
// by Precision.
var Precision = big.NewInt(1_000_000_000_000_000_000)

// BasisPoints is the denominator for bps-expressed configuration (10_000).
var BasisPoints = big.NewInt(10_000)

// MustBig parses a base-10 integer constant or panics. For package-level
// constants only.
func MustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("fixedpoint: invalid big integer constant: " + s)
	}
	return v
}

// MulDiv computes a × b / denom with the product carried at full width.
// Division truncates toward zero — the truncation direction systematically
// favors the protocol over users in fee and yield computations and must not
// be changed to any rounding mode.
func MulDiv(a, b, denom *big.Int) (*big.Int, error) {
	if denom == nil || denom.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, denom), nil
}

// BackingRatio returns value × Precision / supply, the collateralization of
// a tranche in fixed-point units (Precision == 100%).
func BackingRatio(value, supply *big.Int) (*big.Int, error) {
	return MulDiv(value, Precision, supply)
}

// BalanceFromShares converts constant shares into a balance under the given
// rebase index: shares × index / Precision.
func BalanceFromShares(shares, index *big.Int) *big.Int {
	out := new(big.Int).Mul(shares, index)
	return out.Quo(out, Precision)
}

// SharesFromBalance converts a balance back into shares under the given
// rebase index: balance × Precision / index.
func SharesFromBalance(balance, index *big.Int) (*big.Int, error) {
	return MulDiv(balance, Precision, index)
}

// ApplyBps returns amount × bps / 10_000, truncated.
func ApplyBps(amount *big.Int, bps uint64) *big.Int {
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Quo(out, BasisPoints)
}

// Clone returns a defensive copy, treating nil as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// Min returns the smaller of a and b as a fresh value.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
