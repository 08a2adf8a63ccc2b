// Package events holds the domain event envelope, the discriminator registry used to
// decode outbox payloads, and the in-process router that fans decoded events out to local
// handlers.
package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProcessingStrategy tells the unit of work whether to publish right after commit.
type ProcessingStrategy int

const (
	// StrategyBackground leaves the event to the outbox poller.
	StrategyBackground ProcessingStrategy = iota
	// StrategyImmediate is published synchronously after commit and dispatched with high priority.
	StrategyImmediate
)

func (s ProcessingStrategy) String() string {
	switch s {
	case StrategyImmediate:
		return "immediate"
	default:
		return "background"
	}
}

func (s ProcessingStrategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ProcessingStrategy) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "immediate":
		*s = StrategyImmediate
	case "background", "":
		*s = StrategyBackground
	default:
		return fmt.Errorf("unknown processing strategy %q", text)
	}
	return nil
}

// Envelope is the metadata every event carries. Concrete events embed it.
type Envelope struct {
	ID            uuid.UUID          `json:"id"`
	OccurredAt    time.Time          `json:"occurred_at"`
	AggregateID   uuid.UUID          `json:"aggregate_id"`
	AggregateType string             `json:"aggregate_type"`
	Strategy      ProcessingStrategy `json:"processing_strategy"`
}

// NewEnvelope stamps a fresh id and the current UTC time.
func NewEnvelope(aggregateID uuid.UUID, aggregateType string, strategy ProcessingStrategy) Envelope {
	return Envelope{
		ID:            uuid.New(),
		OccurredAt:    time.Now().UTC(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Strategy:      strategy,
	}
}

// Header returns the envelope; promoted onto every event that embeds Envelope.
func (e Envelope) Header() Envelope { return e }

// Event is a domain event that can travel through the outbox.
type Event interface {
	Header() Envelope
	// EventType is the stable discriminator stored in the outbox type column.
	EventType() string
}
