package spillover

import (
	"errors"
	"fmt"
	"math/big"

	"TrancheLedger/internal/fixedpoint"
)

// ErrInvalidParameter is returned for threshold or split configuration that
// cannot describe a valid band.
var ErrInvalidParameter = errors.New("spillover: invalid configuration")

// Zone classifies the senior backing ratio against the operating band.
type Zone int

const (
	// ZoneHealthy covers the inclusive band [trigger, target]; no transfer.
	ZoneHealthy Zone = iota
	// ZoneSpillover is backing above target; excess collateral flows out.
	ZoneSpillover
	// ZoneBackstop is backing below trigger; collateral is pulled in.
	ZoneBackstop
)

func (z Zone) String() string {
	switch z {
	case ZoneHealthy:
		return "healthy"
	case ZoneSpillover:
		return "spillover"
	case ZoneBackstop:
		return "backstop"
	default:
		return "unknown"
	}
}

// Thresholds define the senior operating band in fixed-point ratios.
// Restore sits slightly above Trigger so a backstop pull leaves headroom
// rather than landing exactly on the band edge.
type Thresholds struct {
	Target  *big.Int // upper band, 1.10
	Trigger *big.Int // lower band, 1.00
	Restore *big.Int // backstop restoration floor, 1.009
}

// DefaultThresholds returns the standard {1.10, 1.00, 1.009} band.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Target:  fixedpoint.MustBig("1100000000000000000"),
		Trigger: fixedpoint.MustBig("1000000000000000000"),
		Restore: fixedpoint.MustBig("1009000000000000000"),
	}
}

// Split is the junior/reserve share of spilled excess, in basis points.
type Split struct {
	JuniorBps  uint64
	ReserveBps uint64
}

// DefaultSplit returns the standard 80/20 split.
func DefaultSplit() Split {
	return Split{JuniorBps: 8_000, ReserveBps: 2_000}
}

// Validate rejects a band where trigger ≥ target, a restore floor outside
// (trigger, target], or a split that does not sum to 100%.
func Validate(th Thresholds, sp Split) error {
	if th.Trigger.Cmp(th.Target) >= 0 {
		return fmt.Errorf("%w: trigger %s >= target %s", ErrInvalidParameter, th.Trigger, th.Target)
	}
	if th.Restore.Cmp(th.Trigger) < 0 || th.Restore.Cmp(th.Target) > 0 {
		return fmt.Errorf("%w: restore %s outside band", ErrInvalidParameter, th.Restore)
	}
	if sp.JuniorBps+sp.ReserveBps != 10_000 {
		return fmt.Errorf("%w: split %d+%d != 10000 bps", ErrInvalidParameter, sp.JuniorBps, sp.ReserveBps)
	}
	return nil
}

// Transfers is the cross-tranche movement required to keep senior inside
// its band. The engine computes amounts only — it never moves collateral.
type Transfers struct {
	Zone        Zone
	ToJunior    *big.Int
	ToReserve   *big.Int
	FromReserve *big.Int
	FromJunior  *big.Int
	Shortfall   *big.Int
	FinalSenior *big.Int
}

// Compute classifies the senior backing ratio and derives the exact
// transfer amounts. Value is conserved in every zone:
// finalSenior ∓ transfers == netSeniorValue + whatever left/entered the
// other tranches. Shortfall is reported as data, never clamped away.
func Compute(
	newSupply, netSeniorValue, juniorValue, reserveValue *big.Int,
	th Thresholds, sp Split,
) (*Transfers, error) {
	if err := Validate(th, sp); err != nil {
		return nil, err
	}

	backing, err := fixedpoint.BackingRatio(netSeniorValue, newSupply)
	if err != nil {
		return nil, err
	}

	zero := func() *big.Int { return new(big.Int) }

	switch {
	case backing.Cmp(th.Target) > 0:
		// Target value the senior tranche keeps; everything above spills.
		kept := new(big.Int).Mul(th.Target, newSupply)
		kept.Quo(kept, fixedpoint.Precision)

		excess := new(big.Int).Sub(netSeniorValue, kept)
		toJunior := fixedpoint.ApplyBps(excess, sp.JuniorBps)
		// Remainder, not a second bps cut — guarantees toJunior+toReserve
		// sums to the excess exactly.
		toReserve := new(big.Int).Sub(excess, toJunior)

		return &Transfers{
			Zone:        ZoneSpillover,
			ToJunior:    toJunior,
			ToReserve:   toReserve,
			FromReserve: zero(),
			FromJunior:  zero(),
			Shortfall:   zero(),
			FinalSenior: kept,
		}, nil

	case backing.Cmp(th.Trigger) < 0:
		floor := new(big.Int).Mul(th.Restore, newSupply)
		floor.Quo(floor, fixedpoint.Precision)

		deficit := new(big.Int).Sub(floor, netSeniorValue)

		// Reserve drains first, junior second; both uncapped.
		fromReserve := fixedpoint.Min(reserveValue, deficit)
		remaining := new(big.Int).Sub(deficit, fromReserve)
		fromJunior := fixedpoint.Min(juniorValue, remaining)
		shortfall := new(big.Int).Sub(remaining, fromJunior)

		finalSenior := new(big.Int).Add(netSeniorValue, fromReserve)
		finalSenior.Add(finalSenior, fromJunior)

		return &Transfers{
			Zone:        ZoneBackstop,
			ToJunior:    zero(),
			ToReserve:   zero(),
			FromReserve: fromReserve,
			FromJunior:  fromJunior,
			Shortfall:   shortfall,
			FinalSenior: finalSenior,
		}, nil

	default:
		return &Transfers{
			Zone:        ZoneHealthy,
			ToJunior:    zero(),
			ToReserve:   zero(),
			FromReserve: zero(),
			FromJunior:  zero(),
			Shortfall:   zero(),
			FinalSenior: fixedpoint.Clone(netSeniorValue),
		}, nil
	}
}
