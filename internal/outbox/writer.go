// Package outbox persists domain events next to the state change that raised them and
// dispatches the stored records to local handlers and the external broker.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/ticket-service/internal/events"
	"github.com/richardliu001/ticket-service/internal/model"
	"github.com/richardliu001/ticket-service/internal/repo"
	"gorm.io/gorm"
)

var ErrDuplicateEvent = errors.New("duplicate event id in unit of work")

// Writer turns events into outbox rows on the caller's transaction. It never commits.
type Writer struct {
	store *repo.OutboxStore
}

func NewWriter(store *repo.OutboxStore) *Writer {
	return &Writer{store: store}
}

// Write serializes every event and inserts one row per event with tx, stamped with the
// envelope's OccurredAt. Any serialization error is returned before the first insert. The
// result maps envelope id to stored row.
func (w *Writer) Write(ctx context.Context, tx *gorm.DB, evts []events.Event) (map[uuid.UUID]*model.OutboxMessage, error) {
	out := make(map[uuid.UUID]*model.OutboxMessage, len(evts))
	if len(evts) == 0 {
		return out, nil
	}

	msgs := make([]*model.OutboxMessage, 0, len(evts))
	for _, evt := range evts {
		eventType, content, err := events.Encode(evt)
		if err != nil {
			return nil, err
		}
		h := evt.Header()
		if _, dup := out[h.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEvent, h.ID)
		}

		createdAt := h.OccurredAt.UTC()
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		priority := model.PriorityNormal
		if h.Strategy == events.StrategyImmediate {
			priority = model.PriorityHigh
		}
		m := &model.OutboxMessage{
			ID:            h.ID,
			Type:          eventType,
			Content:       string(content),
			CreatedAt:     createdAt,
			AggregateID:   h.AggregateID,
			AggregateType: h.AggregateType,
			Priority:      priority,
		}
		msgs = append(msgs, m)
		out[h.ID] = m
	}

	if err := w.store.Create(ctx, tx, msgs); err != nil {
		return nil, fmt.Errorf("insert outbox rows: %w", err)
	}
	return out, nil
}
