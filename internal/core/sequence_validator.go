package core

import (
	"fmt"
	"strings"
)

// SequenceValidator validates source sequences per partition.
// Not thread-safe — only accessed from the single-threaded deterministic core.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         NewSequenceMetrics(),
	}
}

// ValidateSequence enforces exact-next ordering for a partition. Pool
// quote partitions ("pool:*") go through ValidateQuoteSequence instead.
// Validation never consumes the sequence: the caller commits it with
// CommitSequence once the event has actually been applied, so an event
// that fails dispatch can be corrected and resent at the same sequence.
func (sv *SequenceValidator) ValidateSequence(
	partition string,
	sourceSequence int64,
	isDuplicate bool,
) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if isDuplicate {
			// Already processed, nothing to do
			return nil
		}
		sv.metrics.RecordOutOfOrder(partition)
		return fmt.Errorf("out-of-order event: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		return nil
	}

	sv.metrics.RecordGap(partition, expected, sourceSequence)
	return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
		partition, expected, sourceSequence)
}

// CommitSequence advances the partition past an applied event.
func (sv *SequenceValidator) CommitSequence(partition string, sourceSequence int64) {
	if next := sourceSequence + 1; next > sv.expectedNextSeq[partition] {
		sv.expectedNextSeq[partition] = next
	}
}

// ValidateQuoteSequence validates pool reserve quotes. Gaps are tolerated
// and stale quotes are silently ignored: only the newest observation
// matters for valuation.
func (sv *SequenceValidator) ValidateQuoteSequence(poolID string, quoteSequence int64) error {
	partition := "pool:" + poolID

	expected := sv.expectedNextSeq[partition]

	if quoteSequence <= expected {
		return nil
	}

	if quoteSequence > expected+1 {
		sv.metrics.RecordQuoteGap(poolID, expected, quoteSequence)
	}

	sv.expectedNextSeq[partition] = quoteSequence + 1

	return nil
}

// IsQuotePartition reports whether a partition uses the gap-tolerant path.
func IsQuotePartition(partition string) bool {
	return strings.HasPrefix(partition, "pool:")
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// RestorePartition initializes expected sequence (used during recovery)
func (sv *SequenceValidator) RestorePartition(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// GetAllPartitions returns a copy of the partition state for snapshotting.
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for partition, seq := range sv.expectedNextSeq {
		out[partition] = seq
	}
	return out
}

// --- Metrics ---

// SequenceMetrics tracks sequence validation stats.
// Not thread-safe — only accessed from the single-threaded deterministic core.
type SequenceMetrics struct {
	gaps       map[string]int64 // partition -> gap count
	outOfOrder map[string]int64 // partition -> out-of-order count
	quoteGaps  map[string]int64 // pool_id -> quote gap count
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
		quoteGaps:  make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(partition string, expected, got int64) {
	m.gaps[partition]++
}

func (m *SequenceMetrics) RecordOutOfOrder(partition string) {
	m.outOfOrder[partition]++
}

func (m *SequenceMetrics) RecordQuoteGap(poolID string, expected, got int64) {
	m.quoteGaps[poolID]++
}

func (m *SequenceMetrics) GetGaps(partition string) int64 {
	return m.gaps[partition]
}

func (m *SequenceMetrics) GetOutOfOrder(partition string) int64 {
	return m.outOfOrder[partition]
}

func (m *SequenceMetrics) GetQuoteGaps(poolID string) int64 {
	return m.quoteGaps[poolID]
}
