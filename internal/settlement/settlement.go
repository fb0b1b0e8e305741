// Package settlement orchestrates one period close: value the senior
// tranche, charge the management fee, run the yield waterfall, classify the
// backing zone, and derive the new rebase index. The result is computed in
// full or not at all — hard errors surface before any field is produced,
// and the package never mutates caller state.
package settlement

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"TrancheLedger/internal/fees"
	"TrancheLedger/internal/fixedpoint"
	"TrancheLedger/internal/oracle"
	"TrancheLedger/internal/rate"
	"TrancheLedger/internal/spillover"
)

var (
	// ErrInvalidInput is returned for inputs that cannot describe a
	// settlement: negative elapsed time, or no value source at all.
	ErrInvalidInput = errors.New("settlement: invalid input")

	// ErrTooSoon is the advisory returned by GuardPeriod when the elapsed
	// time is below the configured minimum. Settle itself never raises it;
	// enforcement is host policy.
	ErrTooSoon = errors.New("settlement: period below configured minimum")
)

// Config is the full static parameter set for a settlement run.
type Config struct {
	Fees       fees.Config
	Tiers      []rate.Tier
	Thresholds spillover.Thresholds
	Split      spillover.Split
	Oracle     oracle.Config

	// MinPeriod feeds GuardPeriod only; the computation itself is valid
	// for any elapsed >= 0.
	MinPeriod time.Duration
}

// Validate checks every sub-configuration before any computation runs.
func (c Config) Validate() error {
	if err := c.Fees.Validate(); err != nil {
		return err
	}
	if err := rate.ValidateTiers(c.Tiers); err != nil {
		return err
	}
	return spillover.Validate(c.Thresholds, c.Split)
}

// GuardPeriod is the advisory minimum-period check. Hosts that want to
// refuse rapid re-settlement call it before Settle.
func (c Config) GuardPeriod(elapsed time.Duration) error {
	if elapsed < c.MinPeriod {
		return fmt.Errorf("%w: elapsed %s < %s", ErrTooSoon, elapsed, c.MinPeriod)
	}
	return nil
}

// Snapshot is the consistent protocol view a settlement reads. The caller
// owns serialization: at most one settlement per snapshot lineage.
type Snapshot struct {
	SeniorSupply   *big.Int
	SeniorIndex    *big.Int
	JuniorValue    *big.Int
	ReserveValue   *big.Int
	LastSettlement time.Time
}

// Valuation carries the inputs for deriving the gross senior value. Source
// may be nil when only a manual value is supplied, and Manual may be nil
// when the pool-derived value is authoritative.
type Valuation struct {
	Source     oracle.Source
	LPBalance  *big.Int
	IdleStable *big.Int
	Manual     *big.Int
}

// Result is the immutable outcome of one settlement. Applying it (minting
// shares, moving collateral) is the caller's job.
type Result struct {
	Elapsed    time.Duration
	GrossValue *big.Int
	NetValue   *big.Int

	SelectedTier    rate.Tier
	NewIndex        *big.Int
	NewSeniorSupply *big.Int
	UserMint        *big.Int
	PerfFeeMint     *big.Int
	MgmtFeeValue    *big.Int
	BackstopNeeded  bool

	Zone             spillover.Zone
	ToJunior         *big.Int
	ToReserve        *big.Int
	FromReserve      *big.Int
	FromJunior       *big.Int
	Shortfall        *big.Int
	FinalSeniorValue *big.Int
}

// Settle runs one full period close against the snapshot. Pure: identical
// inputs always yield an identical result.
func Settle(snap Snapshot, val Valuation, now time.Time, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	elapsed := now.Sub(snap.LastSettlement)
	if elapsed < 0 {
		return nil, fmt.Errorf("%w: settlement time %s precedes last settlement %s",
			ErrInvalidInput, now.UTC(), snap.LastSettlement.UTC())
	}

	gross, err := resolveValue(val, cfg.Oracle)
	if err != nil {
		return nil, err
	}

	mgmtFee := cfg.Fees.ManagementFee(gross, elapsed)
	netValue := new(big.Int).Sub(gross, mgmtFee)

	// Senior tokens target 1.0 in the unit of account, so fee value and
	// fee tokens coincide at the fixed-point scale.
	sel, err := rate.Select(snap.SeniorSupply, netValue, elapsed, cfg.Tiers, cfg.Fees.PerfFeeBps, mgmtFee)
	if err != nil {
		return nil, err
	}

	tr, err := spillover.Compute(sel.NewSupply, netValue, snap.JuniorValue, snap.ReserveValue,
		cfg.Thresholds, cfg.Split)
	if err != nil {
		return nil, err
	}

	return &Result{
		Elapsed:    elapsed,
		GrossValue: gross,
		NetValue:   netValue,

		SelectedTier:    sel.Tier,
		NewIndex:        rate.NewIndex(snap.SeniorIndex, sel.ScaledRate, cfg.Fees.PerfFeeBps),
		NewSeniorSupply: sel.NewSupply,
		UserMint:        sel.UserTokens,
		PerfFeeMint:     sel.FeeTokens,
		MgmtFeeValue:    mgmtFee,
		BackstopNeeded:  sel.BackstopNeeded,

		Zone:             tr.Zone,
		ToJunior:         tr.ToJunior,
		ToReserve:        tr.ToReserve,
		FromReserve:      tr.FromReserve,
		FromJunior:       tr.FromJunior,
		Shortfall:        tr.Shortfall,
		FinalSeniorValue: tr.FinalSenior,
	}, nil
}

// resolveValue picks the gross senior value per the oracle configuration.
// When both a pool source and a manual value are present and validation is
// enabled, the manual value must sit within the deviation tolerance of the
// pool-derived one regardless of which side is authoritative.
func resolveValue(val Valuation, cfg oracle.Config) (*big.Int, error) {
	var calculated *big.Int
	if val.Source != nil {
		quote, err := val.Source.PoolQuote()
		if err != nil {
			return nil, fmt.Errorf("settlement: pool quote: %w", err)
		}
		lpPrice, err := oracle.LPPrice(quote)
		if err != nil {
			return nil, err
		}
		calculated = oracle.TotalVaultValue(val.LPBalance, lpPrice, val.IdleStable)
	}

	if cfg.ValidationEnabled && calculated != nil && val.Manual != nil {
		if err := oracle.ValidateManualValue(val.Manual, calculated, cfg.MaxDeviationBps); err != nil {
			return nil, err
		}
	}

	if cfg.UseCalculatedValue {
		if calculated == nil {
			return nil, fmt.Errorf("%w: calculated value required but no pool source supplied", ErrInvalidInput)
		}
		return calculated, nil
	}
	if val.Manual == nil {
		return nil, fmt.Errorf("%w: manual value required but not supplied", ErrInvalidInput)
	}
	return fixedpoint.Clone(val.Manual), nil
}
