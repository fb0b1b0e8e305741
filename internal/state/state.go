// Package state holds the protocol tranche state and the transitions that
// are allowed to mutate it: share-level deposits and withdrawals, applying
// a settlement result, and the one-way index freeze. All balance reads are
// pure functions of shares and the current mode.
package state

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"TrancheLedger/internal/fixedpoint"
	"TrancheLedger/internal/settlement"
)

var (
	// ErrDepositCapExceeded is returned when a senior deposit would push
	// supply past 10x the reserve value.
	ErrDepositCapExceeded = errors.New("state: senior supply would exceed 10x reserve value")

	// ErrInsufficientShares is returned when a withdrawal exceeds the
	// tranche's outstanding shares.
	ErrInsufficientShares = errors.New("state: insufficient shares")

	// ErrFrozen is returned for a second freeze attempt; the transition is
	// one-way.
	ErrFrozen = errors.New("state: index already frozen")

	// ErrIndexRegression is returned when a settlement result carries an
	// index below the current one. The rebase index is non-decreasing.
	ErrIndexRegression = errors.New("state: rebase index must not decrease")
)

// depositCapMultiple caps senior supply at this multiple of reserve value.
var depositCapMultiple = big.NewInt(10)

// ModeKind discriminates the senior index variant.
type ModeKind int

const (
	// Rebasing compounds yield into the index every settlement.
	Rebasing ModeKind = iota
	// Frozen pins the index permanently; yield accrues to a fixed sink.
	Frozen
)

// Mode is the senior tranche's index variant. While Rebasing, Index grows
// with each settlement. Once Frozen, Index never changes again and newly
// minted yield accrues to SinkAccrued for the Sink account.
type Mode struct {
	Kind        ModeKind
	Index       *big.Int
	Sink        string
	SinkAccrued *big.Int
}

// Tranche is one accounting bucket. Senior balances derive from Shares via
// the mode index; Junior and Reserve are plain share/value buckets.
type Tranche struct {
	Shares         *big.Int
	Value          *big.Int
	LastSettlement time.Time
}

// ProtocolState is the complete mutable protocol view. Created once at
// genesis and mutated only through the methods below.
type ProtocolState struct {
	Senior  Tranche
	Junior  Tranche
	Reserve Tranche
	Mode    Mode
}

// Genesis creates the initial state: index 1.0, senior shares equal to the
// initial supply, and the given junior/reserve capitalization.
func Genesis(seniorSupply, juniorValue, reserveValue *big.Int, at time.Time) *ProtocolState {
	return &ProtocolState{
		Senior: Tranche{
			Shares:         fixedpoint.Clone(seniorSupply),
			Value:          fixedpoint.Clone(seniorSupply),
			LastSettlement: at,
		},
		Junior:  Tranche{Shares: fixedpoint.Clone(juniorValue), Value: fixedpoint.Clone(juniorValue), LastSettlement: at},
		Reserve: Tranche{Shares: fixedpoint.Clone(reserveValue), Value: fixedpoint.Clone(reserveValue), LastSettlement: at},
		Mode: Mode{
			Kind:        Rebasing,
			Index:       fixedpoint.Clone(fixedpoint.Precision),
			SinkAccrued: new(big.Int),
		},
	}
}

// BalanceOf converts senior shares into a balance under the current mode.
// Pure; never mutates the mode.
func (m Mode) BalanceOf(shares *big.Int) *big.Int {
	return fixedpoint.BalanceFromShares(shares, m.Index)
}

// SeniorSupply is the total senior balance: shares x index.
func (s *ProtocolState) SeniorSupply() *big.Int {
	return s.Mode.BalanceOf(s.Senior.Shares)
}

// CheckDepositCap is the read-only cap assertion: the prospective senior
// supply after depositing amount must not exceed 10x reserve value.
// Enforcement lives with the custody layer; this reports only.
func (s *ProtocolState) CheckDepositCap(amount *big.Int) error {
	prospective := new(big.Int).Add(s.SeniorSupply(), amount)
	limit := new(big.Int).Mul(s.Reserve.Value, depositCapMultiple)
	if prospective.Cmp(limit) > 0 {
		return fmt.Errorf("%w: prospective=%s cap=%s", ErrDepositCapExceeded, prospective, limit)
	}
	return nil
}

// DepositSenior converts a balance into shares at the current index and
// credits them. Deposits change shares, never the index.
func (s *ProtocolState) DepositSenior(amount *big.Int) (shares *big.Int, err error) {
	if err := s.CheckDepositCap(amount); err != nil {
		return nil, err
	}
	shares, err = fixedpoint.SharesFromBalance(amount, s.Mode.Index)
	if err != nil {
		return nil, err
	}
	s.Senior.Shares.Add(s.Senior.Shares, shares)
	s.Senior.Value.Add(s.Senior.Value, amount)
	return shares, nil
}

// WithdrawSenior burns shares for the given balance at the current index.
func (s *ProtocolState) WithdrawSenior(amount *big.Int) (shares *big.Int, err error) {
	shares, err = fixedpoint.SharesFromBalance(amount, s.Mode.Index)
	if err != nil {
		return nil, err
	}
	if shares.Cmp(s.Senior.Shares) > 0 {
		return nil, fmt.Errorf("%w: need %s shares, have %s", ErrInsufficientShares, shares, s.Senior.Shares)
	}
	s.Senior.Shares.Sub(s.Senior.Shares, shares)
	s.Senior.Value.Sub(s.Senior.Value, amount)
	return shares, nil
}

// DepositJunior and DepositReserve credit share-based tranches one-to-one.
func (s *ProtocolState) DepositJunior(amount *big.Int) {
	s.Junior.Shares.Add(s.Junior.Shares, amount)
	s.Junior.Value.Add(s.Junior.Value, amount)
}

func (s *ProtocolState) DepositReserve(amount *big.Int) {
	s.Reserve.Shares.Add(s.Reserve.Shares, amount)
	s.Reserve.Value.Add(s.Reserve.Value, amount)
}

// WithdrawJunior debits the junior tranche, rejecting overdrafts.
func (s *ProtocolState) WithdrawJunior(amount *big.Int) error {
	if amount.Cmp(s.Junior.Shares) > 0 {
		return fmt.Errorf("%w: junior has %s", ErrInsufficientShares, s.Junior.Shares)
	}
	s.Junior.Shares.Sub(s.Junior.Shares, amount)
	s.Junior.Value.Sub(s.Junior.Value, amount)
	return nil
}

// WithdrawReserve debits the reserve tranche, rejecting overdrafts.
func (s *ProtocolState) WithdrawReserve(amount *big.Int) error {
	if amount.Cmp(s.Reserve.Shares) > 0 {
		return fmt.Errorf("%w: reserve has %s", ErrInsufficientShares, s.Reserve.Shares)
	}
	s.Reserve.Shares.Sub(s.Reserve.Shares, amount)
	s.Reserve.Value.Sub(s.Reserve.Value, amount)
	return nil
}

// ApplySettlement commits a settlement result: index (or sink accrual when
// frozen), per-tranche values, and the settlement timestamp. The result is
// assumed internally consistent; the only guard here is the index
// monotonicity invariant.
func (s *ProtocolState) ApplySettlement(res *settlement.Result, at time.Time) error {
	switch s.Mode.Kind {
	case Rebasing:
		if res.NewIndex.Cmp(s.Mode.Index) < 0 {
			return fmt.Errorf("%w: current=%s new=%s", ErrIndexRegression, s.Mode.Index, res.NewIndex)
		}
		s.Mode.Index = fixedpoint.Clone(res.NewIndex)

		// User and performance-fee mints compound through the index; the
		// management fee is a separate mint of senior tokens, so it lands
		// as shares at the new index. Without this the reported
		// NewSeniorSupply is never attained.
		if res.MgmtFeeValue != nil && res.MgmtFeeValue.Sign() > 0 {
			feeShares, err := fixedpoint.SharesFromBalance(res.MgmtFeeValue, s.Mode.Index)
			if err != nil {
				return err
			}
			s.Senior.Shares.Add(s.Senior.Shares, feeShares)
		}
	case Frozen:
		// Index pinned: the period's mint accrues to the sink instead of
		// compounding into every holder's balance. Management fees route
		// to the sink as well.
		s.Mode.SinkAccrued.Add(s.Mode.SinkAccrued, res.UserMint)
		s.Mode.SinkAccrued.Add(s.Mode.SinkAccrued, res.PerfFeeMint)
		if res.MgmtFeeValue != nil {
			s.Mode.SinkAccrued.Add(s.Mode.SinkAccrued, res.MgmtFeeValue)
		}
	}

	s.Senior.Value = fixedpoint.Clone(res.FinalSeniorValue)
	s.Senior.LastSettlement = at

	s.Junior.Value.Add(s.Junior.Value, res.ToJunior)
	s.Junior.Value.Sub(s.Junior.Value, res.FromJunior)
	s.Junior.LastSettlement = at

	s.Reserve.Value.Add(s.Reserve.Value, res.ToReserve)
	s.Reserve.Value.Sub(s.Reserve.Value, res.FromReserve)
	s.Reserve.LastSettlement = at

	return nil
}

// Freeze pins the index permanently and directs future yield to sink. The
// transition is one-way.
func (s *ProtocolState) Freeze(sink string) error {
	if s.Mode.Kind == Frozen {
		return fmt.Errorf("%w: sink %s", ErrFrozen, s.Mode.Sink)
	}
	s.Mode.Kind = Frozen
	s.Mode.Sink = sink
	return nil
}

// Snapshot produces the consistent settlement input view.
func (s *ProtocolState) Snapshot() settlement.Snapshot {
	return settlement.Snapshot{
		SeniorSupply:   s.SeniorSupply(),
		SeniorIndex:    fixedpoint.Clone(s.Mode.Index),
		JuniorValue:    fixedpoint.Clone(s.Junior.Value),
		ReserveValue:   fixedpoint.Clone(s.Reserve.Value),
		LastSettlement: s.Senior.LastSettlement,
	}
}
