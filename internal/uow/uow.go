// Package uow runs a business operation and the outbox rows for the events it raised in
// one database transaction.
package uow

import (
	"context"

	"github.com/google/uuid"
	"github.com/richardliu001/ticket-service/internal/events"
	"github.com/richardliu001/ticket-service/internal/model"
	"github.com/richardliu001/ticket-service/internal/outbox"
	"github.com/richardliu001/ticket-service/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Session is handed to the operation. All writes go through Tx; events are collected
// with Record and written to the outbox right before commit.
type Session struct {
	Tx     *gorm.DB
	events []events.Event
}

func (s *Session) Record(evts ...events.Event) {
	s.events = append(s.events, evts...)
}

func (s *Session) Events() []events.Event { return s.events }

type UnitOfWork struct {
	db        *gorm.DB
	writer    *outbox.Writer
	store     *repo.OutboxStore
	router    *events.Router
	transport outbox.Transport
	log       *zap.SugaredLogger
}

// New builds a unit of work. transport may be nil; immediate events then only reach local
// handlers before being marked processed.
func New(db *gorm.DB, writer *outbox.Writer, store *repo.OutboxStore, router *events.Router,
	transport outbox.Transport, log *zap.SugaredLogger) *UnitOfWork {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &UnitOfWork{db: db, writer: writer, store: store, router: router, transport: transport, log: log}
}

// Do runs fn in a transaction and commits its writes together with one outbox row per
// recorded event. If fn or the outbox write fails nothing is committed. After commit,
// immediate events are published in-process; any failure there is logged and the row is
// left for the poller.
func (u *UnitOfWork) Do(ctx context.Context, fn func(s *Session) error) error {
	var (
		recorded []events.Event
		written  map[uuid.UUID]*model.OutboxMessage
	)
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s := &Session{Tx: tx}
		if err := fn(s); err != nil {
			return err
		}
		var err error
		written, err = u.writer.Write(ctx, tx, s.events)
		if err != nil {
			return err
		}
		recorded = s.events
		return nil
	})
	if err != nil {
		return err
	}

	for _, evt := range recorded {
		if evt.Header().Strategy != events.StrategyImmediate {
			continue
		}
		u.publishImmediate(ctx, evt, written[evt.Header().ID])
	}
	return nil
}

func (u *UnitOfWork) publishImmediate(ctx context.Context, evt events.Event, msg *model.OutboxMessage) {
	id := evt.Header().ID
	if err := u.router.Publish(ctx, evt); err != nil {
		u.log.Warnf("immediate publish id=%s type=%s left to poller: %v", id, evt.EventType(), err)
		return
	}
	if u.transport != nil && msg != nil {
		if err := u.transport.Publish(ctx, msg); err != nil {
			u.log.Warnf("immediate transport id=%s type=%s left to poller: %v", id, evt.EventType(), err)
			return
		}
	}
	if err := u.store.MarkProcessed(ctx, nil, id); err != nil {
		u.log.Warnf("mark immediate id=%s processed: %v", id, err)
		return
	}
	u.log.Debugf("immediate event %s (%s) delivered", id, evt.EventType())
}
