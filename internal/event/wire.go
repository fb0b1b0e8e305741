package event

import (
	"encoding/json"
	"math/big"
)

// Envelope payloads are persisted to the event log and fed back through the
// ingestion parser on startup replay, so every inbound event marshals to
// the same snake_case wire shape the parser consumes: amounts as decimal
// strings, timestamps as epoch microseconds.

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func (p *PoolReserveSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		PoolID        string `json:"pool_id"`
		ReserveStable string `json:"reserve_stable"`
		ReserveOther  string `json:"reserve_other"`
		LPTotalSupply string `json:"lp_total_supply"`
		QuoteSequence int64  `json:"quote_sequence"`
		TimestampUs   int64  `json:"timestamp_us"`
	}{
		PoolID:        p.PoolID,
		ReserveStable: bigString(p.ReserveStable),
		ReserveOther:  bigString(p.ReserveOther),
		LPTotalSupply: bigString(p.LPTotalSupply),
		QuoteSequence: p.QuoteSequence,
		TimestampUs:   p.Timestamp.UnixMicro(),
	})
}

func (v *VaultValuation) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ValuationID string `json:"valuation_id"`
		Value       string `json:"value"`
		Sequence    int64  `json:"sequence"`
		TimestampUs int64  `json:"timestamp_us"`
	}{
		ValuationID: v.ValuationID.String(),
		Value:       bigString(v.Value),
		Sequence:    v.Sequence,
		TimestampUs: v.Timestamp.UnixMicro(),
	})
}

func (d *TrancheDeposit) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		DepositID   string `json:"deposit_id"`
		Account     string `json:"account"`
		Tranche     string `json:"tranche"`
		Amount      string `json:"amount"`
		Sequence    int64  `json:"sequence"`
		TimestampUs int64  `json:"timestamp_us"`
	}{
		DepositID:   d.DepositID.String(),
		Account:     d.Account.String(),
		Tranche:     d.Tranche,
		Amount:      bigString(d.Amount),
		Sequence:    d.Sequence,
		TimestampUs: d.Timestamp.UnixMicro(),
	})
}

func (w *TrancheWithdrawal) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		WithdrawalID    string `json:"withdrawal_id"`
		Account         string `json:"account"`
		Tranche         string `json:"tranche"`
		Amount          string `json:"amount"`
		CooldownStartUs int64  `json:"cooldown_start_us"`
		Sequence        int64  `json:"sequence"`
		TimestampUs     int64  `json:"timestamp_us"`
	}{
		WithdrawalID:    w.WithdrawalID.String(),
		Account:         w.Account.String(),
		Tranche:         w.Tranche,
		Amount:          bigString(w.Amount),
		CooldownStartUs: w.CooldownStart.UnixMicro(),
		Sequence:        w.Sequence,
		TimestampUs:     w.Timestamp.UnixMicro(),
	})
}

func (s *SettlePeriod) MarshalJSON() ([]byte, error) {
	// manual_value is optional on the wire; absent means the cached
	// valuation applies.
	var manual string
	if s.ManualValue != nil {
		manual = s.ManualValue.String()
	}
	return json.Marshal(struct {
		PeriodID    int64  `json:"period_id"`
		ManualValue string `json:"manual_value,omitempty"`
		Sequence    int64  `json:"sequence"`
		TimestampUs int64  `json:"timestamp_us"`
	}{
		PeriodID:    s.PeriodID,
		ManualValue: manual,
		Sequence:    s.Sequence,
		TimestampUs: s.Timestamp.UnixMicro(),
	})
}

func (r *RebaseFreeze) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		RequestID   string `json:"request_id"`
		Sink        string `json:"sink"`
		Sequence    int64  `json:"sequence"`
		TimestampUs int64  `json:"timestamp_us"`
	}{
		RequestID:   r.RequestID.String(),
		Sink:        r.Sink,
		Sequence:    r.Sequence,
		TimestampUs: r.Timestamp.UnixMicro(),
	})
}
