package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"TrancheLedger/internal/event"
	"TrancheLedger/internal/fixedpoint"
	"TrancheLedger/internal/ledger"
	"TrancheLedger/internal/observability"
	"TrancheLedger/internal/oracle"
	"TrancheLedger/internal/settlement"
	"TrancheLedger/internal/state"
)

// VaultHoldings describes the strategy vault's position for pool-derived
// valuation: LP tokens held plus the idle stable balance.
type VaultHoldings struct {
	LPBalance  *big.Int
	IdleStable *big.Int
}

// Processor is the single-threaded deterministic core. It owns the
// protocol state, applies inbound events in global sequence order, and
// emits an envelope per applied event. It never reads the wall clock:
// every timestamp is a versioned input.
type Processor struct {
	sequence int64
	hasher   *StateHasher

	protocol *state.ProtocolState
	cfg      settlement.Config
	holdings VaultHoldings

	journalGen *ledger.JournalGenerator
	tracker    *ledger.BalanceTracker
	validator  *ledger.InvariantValidator

	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	// Latest observations, carried between events.
	latestQuote *event.PoolReserveSnapshot
	latestValue *big.Int

	persistChan chan<- CoreOutput
	publishChan chan<- CoreOutput
}

// CoreOutput is one applied event plus its side products.
type CoreOutput struct {
	Envelope *event.Envelope
	Batch    *ledger.Batch
	Result   *settlement.Result
}

func NewProcessor(
	protocol *state.ProtocolState,
	cfg settlement.Config,
	holdings VaultHoldings,
	startSequence int64,
	persistChan, publishChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *Processor {
	tracker := ledger.NewBalanceTracker()
	seedTracker(tracker, protocol)

	return &Processor{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		protocol:          protocol,
		cfg:               cfg,
		holdings:          holdings,
		journalGen:        ledger.NewJournalGenerator(startSequence),
		tracker:           tracker,
		validator:         ledger.NewInvariantValidator(tracker),
		idempotency:       NewIdempotencyChecker(1_000_000, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		publishChan:       publishChan,
	}
}

// seedTracker mirrors the genesis book values into the audit ledger so the
// cross-check holds from the first event.
func seedTracker(tracker *ledger.BalanceTracker, protocol *state.ProtocolState) {
	external := ledger.NewExternalAccountKey(ledger.SubTypeExternalCollateral)
	total := new(big.Int)
	for _, seed := range []struct {
		tranche string
		value   *big.Int
	}{
		{"senior", protocol.Senior.Value},
		{"junior", protocol.Junior.Value},
		{"reserve", protocol.Reserve.Value},
	} {
		key, _ := ledger.TrancheAccount(seed.tranche)
		tracker.SetBalance(key, seed.value)
		total.Add(total, seed.value)
	}
	tracker.SetBalance(external, new(big.Int).Neg(total))
}

// ProcessEvent is the main processing pipeline: dedup, order, dispatch,
// hash, emit.
func (p *Processor) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	isDuplicate := p.idempotency.IsDuplicate(eventType, idempotencyKey)

	partition := evt.Partition()
	quote, isQuote := evt.(*event.PoolReserveSnapshot)
	if isQuote {
		if err := p.sequenceValidator.ValidateQuoteSequence(quote.PoolID, quote.QuoteSequence); err != nil {
			return err
		}
	} else {
		if err := p.sequenceValidator.ValidateSequence(partition, evt.SourceSequence(), isDuplicate); err != nil {
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	if isDuplicate {
		if p.metrics != nil {
			p.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	batch, result, err := p.dispatchEvent(evt)
	if err != nil {
		return fmt.Errorf("dispatch failed: %w", err)
	}

	if batch != nil && len(batch.Journals) > 0 {
		if err := p.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := p.tracker.ApplyBatch(batch); err != nil {
			return fmt.Errorf("apply batch failed: %w", err)
		}
	}

	if err := p.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// The partition sequence is consumed only now that the event has been
	// applied; a rejected event leaves room for a corrected resend at the
	// same source sequence. Quote partitions advance at validation time
	// since their dispatch cannot fail.
	if !isQuote {
		p.sequenceValidator.CommitSequence(partition, evt.SourceSequence())
	}

	envelope := p.buildEnvelope(evt, idempotencyKey)
	output := CoreOutput{Envelope: envelope, Batch: batch, Result: result}
	p.sequence++

	p.emit(output)

	// Derived outbound events for a completed settlement.
	if result != nil {
		if settleEvt, ok := evt.(*event.SettlePeriod); ok {
			p.emitSettlementOutbound(settleEvt, result)
		}
	}

	p.idempotency.MarkProcessed(eventType, idempotencyKey)

	if p.metrics != nil {
		p.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		p.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		p.metrics.CoreSequence.Set(float64(p.sequence))
	}

	return nil
}

func (p *Processor) dispatchEvent(evt event.Event) (*ledger.Batch, *settlement.Result, error) {
	switch e := evt.(type) {
	case *event.PoolReserveSnapshot:
		p.handlePoolReserveSnapshot(e)
		return nil, nil, nil
	case *event.VaultValuation:
		p.latestValue = fixedpoint.Clone(e.Value)
		return nil, nil, nil
	case *event.TrancheDeposit:
		batch, err := p.handleDeposit(e)
		return batch, nil, err
	case *event.TrancheWithdrawal:
		batch, err := p.handleWithdrawal(e)
		return batch, nil, err
	case *event.SettlePeriod:
		return p.handleSettlePeriod(e)
	case *event.RebaseFreeze:
		return nil, nil, p.protocol.Freeze(e.Sink)
	default:
		return nil, nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// handlePoolReserveSnapshot caches the newest pool observation. Stale
// quotes are dropped without error.
func (p *Processor) handlePoolReserveSnapshot(evt *event.PoolReserveSnapshot) {
	if p.latestQuote != nil && evt.QuoteSequence <= p.latestQuote.QuoteSequence {
		return
	}
	p.latestQuote = evt
}

func (p *Processor) handleDeposit(evt *event.TrancheDeposit) (*ledger.Batch, error) {
	switch evt.Tranche {
	case event.TrancheSenior:
		if _, err := p.protocol.DepositSenior(evt.Amount); err != nil {
			return nil, err
		}
	case event.TrancheJunior:
		p.protocol.DepositJunior(evt.Amount)
	case event.TrancheReserve:
		p.protocol.DepositReserve(evt.Amount)
	default:
		return nil, fmt.Errorf("unknown tranche: %s", evt.Tranche)
	}

	return p.journalGen.GenerateDeposit(evt)
}

func (p *Processor) handleWithdrawal(evt *event.TrancheWithdrawal) (*ledger.Batch, error) {
	net, penalty, fee := p.cfg.Fees.NetWithdrawal(evt.Amount, evt.CooldownStart, evt.Timestamp)

	switch evt.Tranche {
	case event.TrancheSenior:
		if _, err := p.protocol.WithdrawSenior(evt.Amount); err != nil {
			return nil, err
		}
	case event.TrancheJunior:
		if err := p.protocol.WithdrawJunior(evt.Amount); err != nil {
			return nil, err
		}
	case event.TrancheReserve:
		if err := p.protocol.WithdrawReserve(evt.Amount); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown tranche: %s", evt.Tranche)
	}

	return p.journalGen.GenerateWithdrawal(evt, net, penalty, fee)
}

// handleSettlePeriod closes one accrual period. A valuation that fails the
// deviation check consumes the event without touching state — re-delivery
// would fail identically. A period that has already settled is a no-op at
// the dedup layer via its idempotency key.
func (p *Processor) handleSettlePeriod(evt *event.SettlePeriod) (*ledger.Batch, *settlement.Result, error) {
	snap := p.protocol.Snapshot()

	elapsed := evt.Timestamp.Sub(snap.LastSettlement)
	if err := p.cfg.GuardPeriod(elapsed); err != nil {
		if p.metrics != nil {
			p.metrics.CoreEventsRejected.WithLabelValues(evt.EventType().String(), "too_soon").Inc()
		}
		return nil, nil, err
	}

	val := settlement.Valuation{
		LPBalance:  p.holdings.LPBalance,
		IdleStable: p.holdings.IdleStable,
	}
	if p.latestQuote != nil {
		val.Source = oracle.StaticSource{Quote: oracle.PoolQuote{
			ReserveStable: p.latestQuote.ReserveStable,
			ReserveOther:  p.latestQuote.ReserveOther,
			LPTotalSupply: p.latestQuote.LPTotalSupply,
			StableIsFirst: p.cfg.Oracle.StableIsFirst,
		}}
	}
	if evt.ManualValue != nil {
		val.Manual = evt.ManualValue
	} else {
		val.Manual = p.latestValue
	}

	res, err := settlement.Settle(snap, val, evt.Timestamp, p.cfg)
	if err != nil {
		if errors.Is(err, oracle.ErrValueDeviationTooHigh) {
			p.emitValuationRejected(evt, val, err)
			if p.metrics != nil {
				p.metrics.ValuationRejections.Inc()
			}
			return nil, nil, nil
		}
		return nil, nil, err
	}

	priorSenior := fixedpoint.Clone(p.protocol.Senior.Value)
	frozen := p.protocol.Mode.Kind == state.Frozen

	batch, err := p.journalGen.GenerateSettlement(
		evt.IdempotencyKey(), priorSenior, res, frozen, evt.Timestamp.UnixMicro())
	if err != nil {
		return nil, nil, err
	}

	if err := p.protocol.ApplySettlement(res, evt.Timestamp); err != nil {
		return nil, nil, err
	}

	if p.metrics != nil {
		p.metrics.SettlementsTotal.WithLabelValues(res.SelectedTier.Name, res.Zone.String()).Inc()
		shortfall, _ := new(big.Float).SetInt(res.Shortfall).Float64()
		p.metrics.ShortfallValue.Set(shortfall / 1e18)
	}

	return batch, res, nil
}

// buildEnvelope wraps the applied event with its chained state hash.
func (p *Processor) buildEnvelope(evt event.Event, idempotencyKey string) *event.Envelope {
	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: event payload not serializable: %v", err))
	}

	prevHash := p.hasher.GetPrevHash()
	stateHash := p.hasher.ComputeHash(p.sequence, p.computeStateDigest())

	return &event.Envelope{
		Sequence:       p.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Timestamp:      evt.OccurredAt(),
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
}

// computeStateDigest builds the canonical byte encoding of the protocol
// state: tranche shares and values, the mode, and the sink accrual. Any
// two states with the same digest are behaviorally identical.
func (p *Processor) computeStateDigest() []byte {
	digest := make([]byte, 0, 256)

	digest = appendBig(digest, p.protocol.Senior.Shares)
	digest = appendBig(digest, p.protocol.Senior.Value)
	digest = appendBig(digest, p.protocol.Junior.Shares)
	digest = appendBig(digest, p.protocol.Junior.Value)
	digest = appendBig(digest, p.protocol.Reserve.Shares)
	digest = appendBig(digest, p.protocol.Reserve.Value)
	digest = appendBig(digest, p.protocol.Mode.Index)
	digest = append(digest, byte(p.protocol.Mode.Kind))
	digest = appendBig(digest, p.protocol.Mode.SinkAccrued)
	digest = append(digest, byte(len(p.protocol.Mode.Sink)))
	digest = append(digest, []byte(p.protocol.Mode.Sink)...)

	return digest
}

// appendBig encodes a big.Int as sign byte, 2-byte big-endian length, then
// magnitude bytes.
func appendBig(buf []byte, v *big.Int) []byte {
	if v == nil {
		return append(buf, 0, 0, 0)
	}
	sign := byte(0)
	if v.Sign() < 0 {
		sign = 1
	}
	mag := v.Bytes()
	buf = append(buf, sign, byte(len(mag)>>8), byte(len(mag)))
	return append(buf, mag...)
}

// postCheckInvariants cross-checks the audit ledger against the book
// values after every applied event.
func (p *Processor) postCheckInvariants() error {
	if err := p.validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	if err := p.validator.ValidateTrancheMatches("senior", p.protocol.Senior.Value); err != nil {
		return err
	}
	if err := p.validator.ValidateTrancheMatches("junior", p.protocol.Junior.Value); err != nil {
		return err
	}
	return p.validator.ValidateTrancheMatches("reserve", p.protocol.Reserve.Value)
}

// emit sends one output downstream. The persist channel uses a blocking
// send: the core stalls until the persistence worker drains, so no applied
// event is ever lost. The publish channel uses a non-blocking send with
// silent drop; consumers can rebuild from the event log.
func (p *Processor) emit(output CoreOutput) {
	p.persistChan <- output

	select {
	case p.publishChan <- output:
	default:
		if p.metrics != nil {
			p.metrics.PublishDrops.Inc()
		}
	}
}

// emitSettlementOutbound derives the SettlementCompleted (and, when the
// buffers ran dry, BackstopShortfall) envelopes for a period close. Each
// derived event takes its own sequence and extends the hash chain.
func (p *Processor) emitSettlementOutbound(evt *event.SettlePeriod, res *settlement.Result) {
	completed := &event.SettlementCompleted{
		PeriodID:         evt.PeriodID,
		Elapsed:          int64(res.Elapsed / time.Second),
		SelectedTier:     res.SelectedTier.Name,
		Zone:             res.Zone.String(),
		NewIndex:         res.NewIndex,
		NewSeniorSupply:  res.NewSeniorSupply,
		FinalSeniorValue: res.FinalSeniorValue,
		BackstopNeeded:   res.BackstopNeeded,
		Timestamp:        evt.Timestamp,
	}
	p.emitDerived(event.EventTypeSettlementCompleted,
		fmt.Sprintf("settlement_completed:%d", evt.PeriodID), evt.Timestamp, completed)

	if res.Shortfall.Sign() > 0 {
		shortfall := &event.BackstopShortfall{
			PeriodID:    evt.PeriodID,
			Shortfall:   res.Shortfall,
			FromReserve: res.FromReserve,
			FromJunior:  res.FromJunior,
			Timestamp:   evt.Timestamp,
		}
		p.emitDerived(event.EventTypeBackstopShortfall,
			fmt.Sprintf("backstop_shortfall:%d", evt.PeriodID), evt.Timestamp, shortfall)
	}
}

// emitValuationRejected records a deviation rejection as a derived event
// so the incident is queryable later.
func (p *Processor) emitValuationRejected(evt *event.SettlePeriod, val settlement.Valuation, cause error) {
	rejected := &event.ValuationRejected{
		PeriodID:    evt.PeriodID,
		ManualValue: val.Manual,
		Reason:      cause.Error(),
		Timestamp:   evt.Timestamp,
	}
	p.emitDerived(event.EventTypeValuationRejected,
		fmt.Sprintf("valuation_rejected:%d", evt.PeriodID), evt.Timestamp, rejected)
}

func (p *Processor) emitDerived(et event.EventType, key string, ts time.Time, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("FATAL: derived payload not serializable: %v", err))
	}

	prevHash := p.hasher.GetPrevHash()
	stateHash := p.hasher.ComputeHash(p.sequence, p.computeStateDigest())

	output := CoreOutput{
		Envelope: &event.Envelope{
			Sequence:       p.sequence,
			IdempotencyKey: key,
			EventType:      et,
			Timestamp:      ts,
			Payload:        raw,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		},
	}
	p.sequence++

	p.emit(output)
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Protocol        *state.ProtocolState
	LatestQuote     *event.PoolReserveSnapshot
	LatestValue     *big.Int
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (p *Processor) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        p.sequence - 1, // Last processed sequence
		StateHash:       p.hasher.GetPrevHash(),
		Protocol:        p.protocol,
		LatestQuote:     p.latestQuote,
		LatestValue:     p.latestValue,
		SequenceState:   p.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: p.idempotency.Keys(),
	}
}

// RestoreFromSnapshot restores the core's in-memory state. On warm restart
// the host loads the latest snapshot and then replays events past it. The
// audit ledger restarts from the restored book values; fee and penalty
// accounts are history and live only in the persisted journal rows.
func (p *Processor) RestoreFromSnapshot(snap *SnapshotState) {
	p.sequence = snap.Sequence + 1 // Next sequence to assign
	p.hasher.SetPrevHash(snap.StateHash)

	if snap.Protocol != nil {
		p.protocol = snap.Protocol
	}
	p.tracker = ledger.NewBalanceTracker()
	seedTracker(p.tracker, p.protocol)
	p.validator = ledger.NewInvariantValidator(p.tracker)

	p.latestQuote = snap.LatestQuote
	p.latestValue = snap.LatestValue

	for partition, nextSeq := range snap.SequenceState {
		p.sequenceValidator.RestorePartition(partition, nextSeq)
	}

	p.idempotency.Warm(snap.IdempotencyKeys)
	p.journalGen.SetSequence(p.sequence)
}

// AttachDBChecker enables tier-2 deduplication. Called by the host once
// startup replay has finished.
func (p *Processor) AttachDBChecker(dbChecker DBIdempotencyChecker) {
	p.idempotency.AttachDB(dbChecker)
}

// GetSequence returns the current global sequence number.
func (p *Processor) GetSequence() int64 {
	return p.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (p *Processor) GetStateHash() [32]byte {
	return p.hasher.GetPrevHash()
}

// Protocol exposes the owned state for read paths that run on the core
// goroutine (snapshots, shutdown reporting).
func (p *Processor) Protocol() *state.ProtocolState {
	return p.protocol
}
