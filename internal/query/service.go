package query

import (
	"context"
	"database/sql"
	"fmt"
)

// QueryService provides read-only access to the persisted event log,
// journal and settlement tables. All responses include as_of_sequence —
// the highest persisted sequence at query time — for freshness semantics.
// The service never reads the core's in-memory state.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

var trancheAccounts = map[string]string{
	"senior":  "tranche:senior",
	"junior":  "tranche:junior",
	"reserve": "tranche:reserve",
}

// GetTrancheBalance derives a tranche's balance from the audit journal:
// the sum of debits minus the sum of credits against its account. Sums run
// on NUMERIC columns, so 1e18-scaled amounts never overflow.
func (qs *QueryService) GetTrancheBalance(ctx context.Context, tranche string) (*TrancheBalance, error) {
	account, ok := trancheAccounts[tranche]
	if !ok {
		return nil, fmt.Errorf("unknown tranche: %q", tranche)
	}

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	balance, err := qs.accountBalance(ctx, account)
	if err != nil {
		return nil, err
	}

	return &TrancheBalance{
		Tranche:      tranche,
		Balance:      balance,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetProtocolOverview returns all three tranche balances plus the most
// recent period close.
func (qs *QueryService) GetProtocolOverview(ctx context.Context) (*ProtocolOverview, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	overview := &ProtocolOverview{AsOfSequence: asOfSeq}
	for tranche, dest := range map[string]*TrancheBalance{
		"senior":  &overview.Senior,
		"junior":  &overview.Junior,
		"reserve": &overview.Reserve,
	} {
		balance, err := qs.accountBalance(ctx, trancheAccounts[tranche])
		if err != nil {
			return nil, err
		}
		*dest = TrancheBalance{Tranche: tranche, Balance: balance, AsOfSequence: asOfSeq}
	}

	settlements, err := qs.GetSettlementHistory(ctx, 1, nil)
	if err != nil {
		return nil, err
	}
	if len(settlements) > 0 {
		overview.LatestSettlement = &settlements[0]
	}

	return overview, nil
}

// GetSettlementHistory returns settled periods newest-first with
// cursor-based pagination: pass the last row's sequence as afterSequence
// to fetch the next page.
func (qs *QueryService) GetSettlementHistory(
	ctx context.Context,
	limit int,
	afterSequence *int64,
) ([]SettlementRecord, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sequence, event_ref, elapsed_seconds, gross_value, net_value,
		       tier, zone, new_index, new_senior_supply, user_mint,
		       perf_fee_mint, mgmt_fee_value, to_junior, to_reserve,
		       from_reserve, from_junior, shortfall, final_senior_value,
		       backstop_needed, settled_at
		FROM event_log.settlements
	`
	args := []interface{}{}
	argIdx := 1

	if afterSequence != nil {
		query += fmt.Sprintf(" WHERE sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SettlementRecord
	for rows.Next() {
		var r SettlementRecord
		var settledAt sql.NullTime
		r.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&r.Sequence, &r.EventRef, &r.ElapsedSeconds, &r.GrossValue, &r.NetValue,
			&r.Tier, &r.Zone, &r.NewIndex, &r.NewSeniorSupply, &r.UserMint,
			&r.PerfFeeMint, &r.MgmtFeeValue, &r.ToJunior, &r.ToReserve,
			&r.FromReserve, &r.FromJunior, &r.Shortfall, &r.FinalSeniorValue,
			&r.BackstopNeeded, &settledAt,
		); err != nil {
			return nil, err
		}
		if settledAt.Valid {
			r.SettledAtUs = settledAt.Time.UnixMicro()
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// GetJournalHistory returns journal entries touching an account,
// newest-first, with cursor-based pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	account string,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account = $1 OR credit_account = $1)
	`
	args := []interface{}{account}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetIncidents returns derived alert events — backstop shortfalls and
// rejected manual valuations — newest-first with pagination.
func (qs *QueryService) GetIncidents(
	ctx context.Context,
	limit int,
	afterSequence *int64,
) ([]IncidentRecord, error) {
	query := `
		SELECT sequence, event_type, payload, timestamp
		FROM event_log.events
		WHERE event_type IN ('BackstopShortfall', 'ValuationRejected')
	`
	args := []interface{}{}
	argIdx := 1

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var incidents []IncidentRecord
	for rows.Next() {
		var r IncidentRecord
		var ts sql.NullTime
		if err := rows.Scan(&r.Sequence, &r.EventType, &r.Payload, &ts); err != nil {
			return nil, err
		}
		if ts.Valid {
			r.TimestampUs = ts.Time.UnixMicro()
		}
		incidents = append(incidents, r)
	}

	return incidents, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the persisted hash chain and tranche balance
// invariants. A break at sequence N means event N's prev_hash does not
// match event N-1's state_hash.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	report := &IntegrityReport{AsOfSequence: asOfSeq}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Tranche balances derived from the journal must never go negative.
	for _, tranche := range []string{"senior", "junior", "reserve"} {
		balance, err := qs.accountBalance(ctx, trancheAccounts[tranche])
		if err != nil {
			return nil, err
		}
		if len(balance) > 0 && balance[0] == '-' {
			report.NegativeTranches = append(report.NegativeTranches, tranche)
		}
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.NegativeTranches) == 0
	return report, nil
}

// --- helpers ---

// getWatermark returns the highest persisted sequence. Reads lag the core
// by at most one flush interval; the watermark makes that lag visible.
func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := qs.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// accountBalance sums debits minus credits for one account as a decimal
// string. Debits increase a balance, credits decrease it.
func (qs *QueryService) accountBalance(ctx context.Context, account string) (string, error) {
	var balance string
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(
			CASE
				WHEN debit_account  = $1 THEN amount
				WHEN credit_account = $1 THEN -amount
				ELSE 0
			END
		), 0)::TEXT
		FROM event_log.journal
		WHERE debit_account = $1 OR credit_account = $1
	`, account).Scan(&balance)
	if err != nil {
		return "", err
	}
	return balance, nil
}
