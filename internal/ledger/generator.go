package ledger

import (
	"fmt"
	"math/big"

	"TrancheLedger/internal/event"
	"TrancheLedger/internal/settlement"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches from events
type JournalGenerator struct {
	sequence int64
}

func NewJournalGenerator(startSequence int64) *JournalGenerator {
	return &JournalGenerator{sequence: startSequence}
}

// SetSequence resets the generator sequence (used during recovery)
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

func (jg *JournalGenerator) newBatch(eventRef string, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 4),
	}
}

func (jg *JournalGenerator) addEntry(b *Batch, debit, credit AccountKey, amount *big.Int, jt JournalType) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        new(big.Int).Set(amount),
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// GenerateDeposit creates journals for a tranche deposit.
// Moves value: external:collateral → tranche bucket
func (jg *JournalGenerator) GenerateDeposit(evt *event.TrancheDeposit) (*Batch, error) {
	tranche, ok := TrancheAccount(evt.Tranche)
	if !ok {
		return nil, fmt.Errorf("unknown tranche: %s", evt.Tranche)
	}

	batch := jg.newBatch(evt.IdempotencyKey(), evt.Timestamp.UnixMicro())
	jg.addEntry(batch, tranche, NewExternalAccountKey(SubTypeExternalCollateral), evt.Amount, JournalTypeDeposit)
	jg.sequence++

	return batch, nil
}

// GenerateWithdrawal creates journals for a tranche withdrawal. The gross
// amount leaves the tranche bucket in three legs: the net payout to the
// withdrawer, the early penalty, and the withdrawal fee.
func (jg *JournalGenerator) GenerateWithdrawal(
	evt *event.TrancheWithdrawal,
	net, penalty, fee *big.Int,
) (*Batch, error) {
	tranche, ok := TrancheAccount(evt.Tranche)
	if !ok {
		return nil, fmt.Errorf("unknown tranche: %s", evt.Tranche)
	}

	batch := jg.newBatch(evt.IdempotencyKey(), evt.Timestamp.UnixMicro())
	jg.addEntry(batch, NewExternalAccountKey(SubTypeExternalCollateral), tranche, net, JournalTypeWithdrawal)
	jg.addEntry(batch, NewSystemAccountKey(SubTypeSystemPenalties), tranche, penalty, JournalTypeEarlyPenalty)
	jg.addEntry(batch, NewSystemAccountKey(SubTypeSystemWithdrawalFees), tranche, fee, JournalTypeWithdrawalFee)
	jg.sequence++

	return batch, nil
}

// GenerateSettlement creates journals for a period close. priorSenior is
// the senior book value before the close; frozen marks yield accrual that
// is redirected to the sink instead of compounding holder balances.
//
// After application the tracked senior balance lands exactly on
// res.FinalSeniorValue: prior + gain − spillover + backstop.
func (jg *JournalGenerator) GenerateSettlement(
	eventRef string,
	priorSenior *big.Int,
	res *settlement.Result,
	frozen bool,
	timestamp int64,
) (*Batch, error) {
	senior := NewTrancheAccountKey(SubTypeSeniorValue)
	junior := NewTrancheAccountKey(SubTypeJuniorValue)
	reserve := NewTrancheAccountKey(SubTypeReserveValue)
	yield := NewExternalAccountKey(SubTypeExternalYield)

	batch := jg.newBatch(eventRef, timestamp)

	// Management fee is carved out of gross value before accrual.
	jg.addEntry(batch, NewSystemAccountKey(SubTypeSystemMgmtFees), yield, res.MgmtFeeValue, JournalTypeMgmtFee)

	// Period gain or loss against the senior book value.
	gain := new(big.Int).Sub(res.NetValue, priorSenior)
	accrualType := JournalTypeYieldAccrual
	if frozen {
		accrualType = JournalTypeSinkAccrual
	}
	switch gain.Sign() {
	case 1:
		jg.addEntry(batch, senior, yield, gain, accrualType)
	case -1:
		jg.addEntry(batch, yield, senior, new(big.Int).Neg(gain), JournalTypeAdjustment)
	}

	// Spillover and backstop transfers between tranches.
	jg.addEntry(batch, junior, senior, res.ToJunior, JournalTypeSpilloverToJunior)
	jg.addEntry(batch, reserve, senior, res.ToReserve, JournalTypeSpilloverToReserve)
	jg.addEntry(batch, senior, reserve, res.FromReserve, JournalTypeBackstopFromReserve)
	jg.addEntry(batch, senior, junior, res.FromJunior, JournalTypeBackstopFromJunior)

	// Memo leg: unfunded senior deficit, recorded without touching the
	// tranche buckets.
	jg.addEntry(batch, NewSystemAccountKey(SubTypeSystemShortfall), yield, res.Shortfall, JournalTypeShortfall)

	jg.sequence++

	return batch, nil
}
