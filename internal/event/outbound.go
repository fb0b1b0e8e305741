package event

import (
	"math/big"
	"time"
)

// Outbound events are derived by the core and published for downstream
// consumers. They never re-enter the ingestion path.

// SettlementCompleted summarizes a period close.
type SettlementCompleted struct {
	PeriodID         int64     `json:"period_id"`
	Elapsed          int64     `json:"elapsed_seconds"`
	SelectedTier     string    `json:"selected_tier"`
	Zone             string    `json:"zone"`
	NewIndex         *big.Int  `json:"new_index"`
	NewSeniorSupply  *big.Int  `json:"new_senior_supply"`
	FinalSeniorValue *big.Int  `json:"final_senior_value"`
	BackstopNeeded   bool      `json:"backstop_needed"`
	Timestamp        time.Time `json:"timestamp"`
}

// BackstopShortfall signals that the reserve and junior buffers together
// could not restore senior backing. Alert-only: the core keeps running.
type BackstopShortfall struct {
	PeriodID    int64     `json:"period_id"`
	Shortfall   *big.Int  `json:"shortfall"`
	FromReserve *big.Int  `json:"from_reserve"`
	FromJunior  *big.Int  `json:"from_junior"`
	Timestamp   time.Time `json:"timestamp"`
}

// ValuationRejected reports a manual valuation that deviated too far from
// the pool-derived value. The settle request is consumed without any state
// change.
type ValuationRejected struct {
	PeriodID        int64     `json:"period_id"`
	ManualValue     *big.Int  `json:"manual_value"`
	CalculatedValue *big.Int  `json:"calculated_value,omitempty"`
	Reason          string    `json:"reason"`
	Timestamp       time.Time `json:"timestamp"`
}
