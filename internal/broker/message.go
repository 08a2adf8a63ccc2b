// Package broker carries dispatched outbox records to an external message broker.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/ticket-service/internal/model"
)

// ErrPublish wraps every failure to hand a message to the broker.
var ErrPublish = errors.New("broker publish failed")

// Publisher is a closable outbox transport.
type Publisher interface {
	Publish(ctx context.Context, msg *model.OutboxMessage) error
	Close() error
}

// EventMessage is the wire format consumers receive.
type EventMessage struct {
	ID            uuid.UUID `json:"id"`
	EventType     string    `json:"event_type"`
	ServiceName   string    `json:"service_name"`
	AggregateID   uuid.UUID `json:"aggregate_id"`
	AggregateType string    `json:"aggregate_type"`
	OccurredOn    time.Time `json:"occurred_on"`
	Content       string    `json:"content"`
	Metadata      string    `json:"metadata,omitempty"`
}

func NewEventMessage(msg *model.OutboxMessage, serviceName string, now time.Time) EventMessage {
	return EventMessage{
		ID:            msg.ID,
		EventType:     msg.Type,
		ServiceName:   serviceName,
		AggregateID:   msg.AggregateID,
		AggregateType: msg.AggregateType,
		OccurredOn:    msg.CreatedAt.UTC(),
		Content:       msg.Content,
		Metadata:      "processed_at " + now.UTC().Format(time.RFC3339Nano),
	}
}

// RoutingKey is "<prefix>.<lower aggregate type>", e.g. events.ticketcard.
func RoutingKey(prefix, aggregateType string) string {
	return prefix + "." + strings.ToLower(aggregateType)
}

func encode(msg *model.OutboxMessage, serviceName string, now time.Time) ([]byte, error) {
	body, err := json.Marshal(NewEventMessage(msg, serviceName, now))
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %v", ErrPublish, msg.ID, err)
	}
	return body, nil
}
