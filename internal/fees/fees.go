package fees

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"TrancheLedger/internal/fixedpoint"
)

// ErrInvalidParameter is returned for rate or fee configuration outside the
// [0, 10000] bps range.
var ErrInvalidParameter = errors.New("fees: parameter out of range")

var secondsPerYear = big.NewInt(365 * 24 * 60 * 60)

// Config holds all fee rates in basis points plus the withdrawal cooldown.
// Rates are injected configuration, never hardcoded in the engine.
type Config struct {
	AnnualMgmtBps    uint64
	PerfFeeBps       uint64
	WithdrawalFeeBps uint64
	EarlyPenaltyBps  uint64
	CooldownPeriod   time.Duration
}

// Validate rejects any bps rate outside [0, 10000].
func (c Config) Validate() error {
	for _, p := range []struct {
		name string
		bps  uint64
	}{
		{"annual_mgmt_bps", c.AnnualMgmtBps},
		{"perf_fee_bps", c.PerfFeeBps},
		{"withdrawal_fee_bps", c.WithdrawalFeeBps},
		{"early_penalty_bps", c.EarlyPenaltyBps},
	} {
		if p.bps > 10_000 {
			return fmt.Errorf("%w: %s=%d", ErrInvalidParameter, p.name, p.bps)
		}
	}
	return nil
}

// ManagementFee computes the time-prorated management fee:
// value × annualMgmtBps/10000 × elapsed/365d. The fee is never
// tier-dependent. A single truncating division at the end keeps the result
// exact at full width.
func (c Config) ManagementFee(value *big.Int, elapsed time.Duration) *big.Int {
	if value.Sign() == 0 || elapsed <= 0 || c.AnnualMgmtBps == 0 {
		return new(big.Int)
	}
	fee := new(big.Int).Mul(value, new(big.Int).SetUint64(c.AnnualMgmtBps))
	fee.Mul(fee, big.NewInt(int64(elapsed/time.Second)))
	denom := new(big.Int).Mul(fixedpoint.BasisPoints, secondsPerYear)
	return fee.Quo(fee, denom)
}

// PerformanceFee computes the fee on the yield leg only — userMint is the
// freshly minted yield, never principal.
func (c Config) PerformanceFee(userMint *big.Int) *big.Int {
	return fixedpoint.ApplyBps(userMint, c.PerfFeeBps)
}

// WithdrawalFee computes the flat withdrawal fee on the given amount.
func (c Config) WithdrawalFee(amount *big.Int) *big.Int {
	return fixedpoint.ApplyBps(amount, c.WithdrawalFeeBps)
}

// EarlyWithdrawalPenalty applies when the cooldown has not elapsed at
// withdrawal time; zero otherwise.
func (c Config) EarlyWithdrawalPenalty(amount *big.Int, cooldownStart, now time.Time) *big.Int {
	if now.Sub(cooldownStart) >= c.CooldownPeriod {
		return new(big.Int)
	}
	return fixedpoint.ApplyBps(amount, c.EarlyPenaltyBps)
}

// NetWithdrawal returns the amount a withdrawer receives after the early
// penalty and the withdrawal fee. The penalty is deducted first and the fee
// is charged on the remainder — sequential, not additive on gross.
func (c Config) NetWithdrawal(amount *big.Int, cooldownStart, now time.Time) (net, penalty, fee *big.Int) {
	penalty = c.EarlyWithdrawalPenalty(amount, cooldownStart, now)
	afterPenalty := new(big.Int).Sub(amount, penalty)
	fee = c.WithdrawalFee(afterPenalty)
	net = new(big.Int).Sub(afterPenalty, fee)
	return net, penalty, fee
}
