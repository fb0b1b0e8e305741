package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventLogWriter writes events, journals and settlement rows to Postgres
// using multi-row INSERT. Amount columns are NUMERIC and travel as decimal
// strings; they are 1e18-scaled and do not fit in int64.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Payload        []byte // JSON-encoded event payload
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Amount        string // decimal string, NUMERIC column
	JournalType   int32
	Timestamp     int64
}

// SettlementRow represents a row in event_log.settlements — one per
// period close, denormalized for the query API.
type SettlementRow struct {
	Sequence         int64
	EventRef         string
	ElapsedSeconds   int64
	GrossValue       string
	NetValue         string
	Tier             string
	Zone             string
	NewIndex         string
	NewSeniorSupply  string
	UserMint         string
	PerfFeeMint      string
	MgmtFeeValue     string
	ToJunior         string
	ToReserve        string
	FromReserve      string
	FromJunior       string
	Shortfall        string
	FinalSeniorValue string
	BackstopNeeded   bool
	SettledAt        time.Time
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// execer abstracts *sql.DB and *sql.Tx so batch writes can run inside the
// flush transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// WriteEventBatch writes a batch of events using multi-row INSERT.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*8)

	for i, e := range events {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*9)

	for i, j := range journals {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteSettlementBatch writes period close rows to event_log.settlements.
func (w *EventLogWriter) WriteSettlementBatch(ctx context.Context, ex execer, settlements []SettlementRow) error {
	if len(settlements) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.settlements
		(sequence, event_ref, elapsed_seconds, gross_value, net_value, tier, zone,
		 new_index, new_senior_supply, user_mint, perf_fee_mint, mgmt_fee_value,
		 to_junior, to_reserve, from_reserve, from_junior, shortfall,
		 final_senior_value, backstop_needed, settled_at)
		VALUES `

	values := make([]string, 0, len(settlements))
	args := make([]interface{}, 0, len(settlements)*20)

	for i, s := range settlements {
		base := i * 20
		placeholders := make([]string, 20)
		for n := range placeholders {
			placeholders[n] = fmt.Sprintf("$%d", base+n+1)
		}
		values = append(values, "("+strings.Join(placeholders, ", ")+")")
		args = append(args,
			s.Sequence, s.EventRef, s.ElapsedSeconds, s.GrossValue, s.NetValue,
			s.Tier, s.Zone, s.NewIndex, s.NewSeniorSupply, s.UserMint,
			s.PerfFeeMint, s.MgmtFeeValue, s.ToJunior, s.ToReserve,
			s.FromReserve, s.FromJunior, s.Shortfall, s.FinalSeniorValue,
			s.BackstopNeeded, s.SettledAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// MarshalEventPayload serializes an event payload to JSON for storage.
func MarshalEventPayload(payload interface{}) ([]byte, error) {
	return json.Marshal(payload)
}
