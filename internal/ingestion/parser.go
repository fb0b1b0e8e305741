package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"TrancheLedger/internal/event"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into
// a typed event.Event. The ingestion shell validates, parses, and converts
// raw events before sending to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "PoolReserveSnapshot":
		return parsePoolReserveSnapshot(raw.Data)
	case "VaultValuation":
		return parseVaultValuation(raw.Data)
	case "TrancheDeposit":
		return parseTrancheDeposit(raw.Data)
	case "TrancheWithdrawal":
		return parseTrancheWithdrawal(raw.Data)
	case "SettlePeriod":
		return parseSettlePeriod(raw.Data)
	case "RebaseFreeze":
		return parseRebaseFreeze(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// parseBig decodes a decimal string into a non-negative big.Int. Amounts
// travel as strings on the wire: JSON numbers cannot carry 1e18-scaled
// values without precision loss.
func parseBig(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("parse %s: empty", field)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse %s: not a decimal integer: %q", field, s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("parse %s: negative: %q", field, s)
	}
	return v, nil
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type poolReserveJSON struct {
	PoolID        string `json:"pool_id"`
	ReserveStable string `json:"reserve_stable"`
	ReserveOther  string `json:"reserve_other"`
	LPTotalSupply string `json:"lp_total_supply"`
	QuoteSequence int64  `json:"quote_sequence"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func parsePoolReserveSnapshot(data []byte) (*event.PoolReserveSnapshot, error) {
	var j poolReserveJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PoolReserveSnapshot: %w", err)
	}
	if j.PoolID == "" {
		return nil, fmt.Errorf("parse PoolReserveSnapshot: missing pool_id")
	}

	reserveStable, err := parseBig("reserve_stable", j.ReserveStable)
	if err != nil {
		return nil, err
	}
	reserveOther, err := parseBig("reserve_other", j.ReserveOther)
	if err != nil {
		return nil, err
	}
	lpSupply, err := parseBig("lp_total_supply", j.LPTotalSupply)
	if err != nil {
		return nil, err
	}

	return &event.PoolReserveSnapshot{
		PoolID:        j.PoolID,
		ReserveStable: reserveStable,
		ReserveOther:  reserveOther,
		LPTotalSupply: lpSupply,
		QuoteSequence: j.QuoteSequence,
		Timestamp:     time.UnixMicro(j.TimestampUs),
	}, nil
}

type vaultValuationJSON struct {
	ValuationID string `json:"valuation_id"`
	Value       string `json:"value"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseVaultValuation(data []byte) (*event.VaultValuation, error) {
	var j vaultValuationJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse VaultValuation: %w", err)
	}
	valuationID, err := uuid.Parse(j.ValuationID)
	if err != nil {
		return nil, fmt.Errorf("parse valuation_id: %w", err)
	}
	value, err := parseBig("value", j.Value)
	if err != nil {
		return nil, err
	}
	return &event.VaultValuation{
		ValuationID: valuationID,
		Value:       value,
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type trancheDepositJSON struct {
	DepositID   string `json:"deposit_id"`
	Account     string `json:"account"`
	Tranche     string `json:"tranche"`
	Amount      string `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseTrancheDeposit(data []byte) (*event.TrancheDeposit, error) {
	var j trancheDepositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TrancheDeposit: %w", err)
	}
	depositID, err := uuid.Parse(j.DepositID)
	if err != nil {
		return nil, fmt.Errorf("parse deposit_id: %w", err)
	}
	account, err := uuid.Parse(j.Account)
	if err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}
	if err := validTranche(j.Tranche); err != nil {
		return nil, err
	}
	amount, err := parseBig("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.TrancheDeposit{
		DepositID: depositID,
		Account:   account,
		Tranche:   j.Tranche,
		Amount:    amount,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type trancheWithdrawalJSON struct {
	WithdrawalID    string `json:"withdrawal_id"`
	Account         string `json:"account"`
	Tranche         string `json:"tranche"`
	Amount          string `json:"amount"`
	CooldownStartUs int64  `json:"cooldown_start_us"`
	Sequence        int64  `json:"sequence"`
	TimestampUs     int64  `json:"timestamp_us"`
}

func parseTrancheWithdrawal(data []byte) (*event.TrancheWithdrawal, error) {
	var j trancheWithdrawalJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TrancheWithdrawal: %w", err)
	}
	withdrawalID, err := uuid.Parse(j.WithdrawalID)
	if err != nil {
		return nil, fmt.Errorf("parse withdrawal_id: %w", err)
	}
	account, err := uuid.Parse(j.Account)
	if err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}
	if err := validTranche(j.Tranche); err != nil {
		return nil, err
	}
	amount, err := parseBig("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.TrancheWithdrawal{
		WithdrawalID:  withdrawalID,
		Account:       account,
		Tranche:       j.Tranche,
		Amount:        amount,
		CooldownStart: time.UnixMicro(j.CooldownStartUs),
		Sequence:      j.Sequence,
		Timestamp:     time.UnixMicro(j.TimestampUs),
	}, nil
}

type settlePeriodJSON struct {
	PeriodID    int64  `json:"period_id"`
	ManualValue string `json:"manual_value,omitempty"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseSettlePeriod(data []byte) (*event.SettlePeriod, error) {
	var j settlePeriodJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SettlePeriod: %w", err)
	}

	// manual_value is optional; absent means the cached valuation applies.
	var manual *big.Int
	if j.ManualValue != "" {
		var err error
		manual, err = parseBig("manual_value", j.ManualValue)
		if err != nil {
			return nil, err
		}
	}

	return &event.SettlePeriod{
		PeriodID:    j.PeriodID,
		ManualValue: manual,
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type rebaseFreezeJSON struct {
	RequestID   string `json:"request_id"`
	Sink        string `json:"sink"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseRebaseFreeze(data []byte) (*event.RebaseFreeze, error) {
	var j rebaseFreezeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RebaseFreeze: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	if j.Sink == "" {
		return nil, fmt.Errorf("parse RebaseFreeze: missing sink")
	}
	return &event.RebaseFreeze{
		RequestID: requestID,
		Sink:      j.Sink,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

func validTranche(tranche string) error {
	switch tranche {
	case event.TrancheSenior, event.TrancheJunior, event.TrancheReserve:
		return nil
	default:
		return fmt.Errorf("unknown tranche: %q", tranche)
	}
}
