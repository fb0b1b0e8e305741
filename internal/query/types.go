package query

import "encoding/json"

// TrancheBalance is one tranche's journal-derived balance. Amounts are
// 1e18-scaled decimal strings.
type TrancheBalance struct {
	Tranche      string `json:"tranche"`
	Balance      string `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// ProtocolOverview is the top-level read model: journal-derived tranche
// balances plus the latest period close.
type ProtocolOverview struct {
	Senior           TrancheBalance    `json:"senior"`
	Junior           TrancheBalance    `json:"junior"`
	Reserve          TrancheBalance    `json:"reserve"`
	LatestSettlement *SettlementRecord `json:"latest_settlement,omitempty"`
	AsOfSequence     int64             `json:"as_of_sequence"`
}

// SettlementRecord is one settled period for API queries.
type SettlementRecord struct {
	Sequence         int64  `json:"sequence"`
	EventRef         string `json:"event_ref"`
	ElapsedSeconds   int64  `json:"elapsed_seconds"`
	GrossValue       string `json:"gross_value"`
	NetValue         string `json:"net_value"`
	Tier             string `json:"tier"`
	Zone             string `json:"zone"`
	NewIndex         string `json:"new_index"`
	NewSeniorSupply  string `json:"new_senior_supply"`
	UserMint         string `json:"user_mint"`
	PerfFeeMint      string `json:"perf_fee_mint"`
	MgmtFeeValue     string `json:"mgmt_fee_value"`
	ToJunior         string `json:"to_junior"`
	ToReserve        string `json:"to_reserve"`
	FromReserve      string `json:"from_reserve"`
	FromJunior       string `json:"from_junior"`
	Shortfall        string `json:"shortfall"`
	FinalSeniorValue string `json:"final_senior_value"`
	BackstopNeeded   bool   `json:"backstop_needed"`
	SettledAtUs      int64  `json:"settled_at_us"`
	AsOfSequence     int64  `json:"as_of_sequence"`
}

// JournalHistoryEntry is one audit journal row for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        string `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IncidentRecord is an operator-facing derived event: a backstop draw that
// still left a shortfall, or a rejected manual valuation.
type IncidentRecord struct {
	Sequence    int64           `json:"sequence"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	TimestampUs int64           `json:"timestamp_us"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool     `json:"is_healthy"`
	HashChainBreaks  []int64  `json:"hash_chain_breaks,omitempty"`
	NegativeTranches []string `json:"negative_tranches,omitempty"`
	AsOfSequence     int64    `json:"as_of_sequence"`
}
