package event

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Tranche identifiers used by flow events.
const (
	TrancheSenior  = "senior"
	TrancheJunior  = "junior"
	TrancheReserve = "reserve"
)

// PoolReserveSnapshot is an atomic pool observation from the price feed.
// Gaps in QuoteSequence are tolerated; only the latest quote matters.
type PoolReserveSnapshot struct {
	PoolID        string
	ReserveStable *big.Int
	ReserveOther  *big.Int
	LPTotalSupply *big.Int
	QuoteSequence int64
	Timestamp     time.Time
}

func (p *PoolReserveSnapshot) IdempotencyKey() string {
	return fmt.Sprintf("%s:quote:%d", p.PoolID, p.QuoteSequence)
}

func (p *PoolReserveSnapshot) EventType() EventType { return EventTypePoolReserveSnapshot }
func (p *PoolReserveSnapshot) Partition() string    { return "pool:" + p.PoolID }
func (p *PoolReserveSnapshot) SourceSequence() int64 {
	return p.QuoteSequence
}
func (p *PoolReserveSnapshot) OccurredAt() time.Time { return p.Timestamp }

// VaultValuation is a manually supplied senior vault value from the
// operator, validated against the pool-derived value when configured.
type VaultValuation struct {
	ValuationID uuid.UUID
	Value       *big.Int
	Sequence    int64
	Timestamp   time.Time
}

func (v *VaultValuation) IdempotencyKey() string { return v.ValuationID.String() }
func (v *VaultValuation) EventType() EventType   { return EventTypeVaultValuation }
func (v *VaultValuation) Partition() string      { return "valuation" }
func (v *VaultValuation) SourceSequence() int64  { return v.Sequence }
func (v *VaultValuation) OccurredAt() time.Time  { return v.Timestamp }

// TrancheDeposit credits a tranche with new collateral.
type TrancheDeposit struct {
	DepositID uuid.UUID
	Account   uuid.UUID
	Tranche   string
	Amount    *big.Int
	Sequence  int64
	Timestamp time.Time
}

func (d *TrancheDeposit) IdempotencyKey() string { return d.DepositID.String() }
func (d *TrancheDeposit) EventType() EventType   { return EventTypeTrancheDeposit }
func (d *TrancheDeposit) Partition() string      { return "flows" }
func (d *TrancheDeposit) SourceSequence() int64  { return d.Sequence }
func (d *TrancheDeposit) OccurredAt() time.Time  { return d.Timestamp }

// TrancheWithdrawal debits a tranche. CooldownStart feeds the early
// withdrawal penalty.
type TrancheWithdrawal struct {
	WithdrawalID  uuid.UUID
	Account       uuid.UUID
	Tranche       string
	Amount        *big.Int
	CooldownStart time.Time
	Sequence      int64
	Timestamp     time.Time
}

func (w *TrancheWithdrawal) IdempotencyKey() string { return w.WithdrawalID.String() }
func (w *TrancheWithdrawal) EventType() EventType   { return EventTypeTrancheWithdrawal }
func (w *TrancheWithdrawal) Partition() string      { return "flows" }
func (w *TrancheWithdrawal) SourceSequence() int64  { return w.Sequence }
func (w *TrancheWithdrawal) OccurredAt() time.Time  { return w.Timestamp }

// SettlePeriod closes the accrual period as of its timestamp. ManualValue
// overrides the cached valuation when present.
type SettlePeriod struct {
	PeriodID    int64
	ManualValue *big.Int
	Sequence    int64
	Timestamp   time.Time
}

func (s *SettlePeriod) IdempotencyKey() string {
	return fmt.Sprintf("settle:%d", s.PeriodID)
}

func (s *SettlePeriod) EventType() EventType  { return EventTypeSettlePeriod }
func (s *SettlePeriod) Partition() string     { return "settle" }
func (s *SettlePeriod) SourceSequence() int64 { return s.Sequence }
func (s *SettlePeriod) OccurredAt() time.Time { return s.Timestamp }

// RebaseFreeze is the one-way admin transition pinning the senior index
// and redirecting future yield to the sink account.
type RebaseFreeze struct {
	RequestID uuid.UUID
	Sink      string
	Sequence  int64
	Timestamp time.Time
}

func (r *RebaseFreeze) IdempotencyKey() string { return r.RequestID.String() }
func (r *RebaseFreeze) EventType() EventType   { return EventTypeRebaseFreeze }
func (r *RebaseFreeze) Partition() string      { return "admin" }
func (r *RebaseFreeze) SourceSequence() int64  { return r.Sequence }
func (r *RebaseFreeze) OccurredAt() time.Time  { return r.Timestamp }
