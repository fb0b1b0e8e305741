package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePoolReserveSnapshot
	EventTypeVaultValuation
	EventTypeTrancheDeposit
	EventTypeTrancheWithdrawal
	EventTypeSettlePeriod
	EventTypeRebaseFreeze
	EventTypeSettlementCompleted
	EventTypeBackstopShortfall
	EventTypeValuationRejected
)

// Envelope wraps every event in the log.
type Envelope struct {
	// Global monotonic sequence assigned by the core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all inbound event payloads implement.
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Partition returns the ordering partition for sequence validation
	Partition() string

	// SourceSequence returns the upstream ordering key
	SourceSequence() int64

	// OccurredAt returns the versioned input timestamp
	OccurredAt() time.Time
}

func (et EventType) String() string {
	switch et {
	case EventTypePoolReserveSnapshot:
		return "PoolReserveSnapshot"
	case EventTypeVaultValuation:
		return "VaultValuation"
	case EventTypeTrancheDeposit:
		return "TrancheDeposit"
	case EventTypeTrancheWithdrawal:
		return "TrancheWithdrawal"
	case EventTypeSettlePeriod:
		return "SettlePeriod"
	case EventTypeRebaseFreeze:
		return "RebaseFreeze"
	case EventTypeSettlementCompleted:
		return "SettlementCompleted"
	case EventTypeBackstopShortfall:
		return "BackstopShortfall"
	case EventTypeValuationRejected:
		return "ValuationRejected"
	default:
		return "Unknown"
	}
}
