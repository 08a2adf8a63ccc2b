package service

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/ticket-service/internal/events"
	"github.com/richardliu001/ticket-service/internal/model"
	"github.com/richardliu001/ticket-service/internal/repo"
	"go.uber.org/zap"
)

// TicketCacheProjector keeps the Redis ticket snapshot in step with ticket events
// dispatched from the outbox. Events older than the cached snapshot are ignored.
type TicketCacheProjector struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

func NewTicketCacheProjector(r repo.RepositoryInterface, logger *zap.SugaredLogger) *TicketCacheProjector {
	return &TicketCacheProjector{repo: r, log: logger}
}

// Register subscribes the projector to every ticket event.
func (p *TicketCacheProjector) Register(router *events.Router) {
	for _, t := range []string{
		events.TypeTicketCreated,
		events.TypeTicketStatusChanged,
		events.TypeTicketAssigned,
		events.TypeTicketDeleted,
	} {
		router.Subscribe(t, p)
	}
}

func (p *TicketCacheProjector) Handle(ctx context.Context, evt events.Event) error {
	h := evt.Header()
	switch e := evt.(type) {
	case *events.TicketCreated:
		if cur, err := p.repo.GetCachedTicket(ctx, h.AggregateID); err == nil && !h.OccurredAt.After(cur.UpdatedAt) {
			return nil
		}
		return p.write(ctx, repo.TicketSnapshot{
			ID:        h.AggregateID,
			Title:     e.Title,
			Status:    model.TicketStatusOpen,
			UpdatedAt: h.OccurredAt.UTC(),
		})
	case *events.TicketStatusChanged:
		return p.patch(ctx, h, func(s *repo.TicketSnapshot) { s.Status = model.TicketStatus(e.NewStatus) })
	case *events.TicketAssigned:
		return p.patch(ctx, h, func(s *repo.TicketSnapshot) { s.AssigneeID = e.NewAssigneeID })
	case *events.TicketDeleted:
		return p.ignoreDisabled(p.repo.EvictTicket(ctx, h.AggregateID))
	default:
		p.log.Debugf("cache projector ignores %s", evt.EventType())
		return nil
	}
}

// patch applies fn to the cached snapshot. A missing snapshot is left missing; the next
// read fills it from the database.
func (p *TicketCacheProjector) patch(ctx context.Context, h events.Envelope, fn func(*repo.TicketSnapshot)) error {
	snap, err := p.repo.GetCachedTicket(ctx, h.AggregateID)
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return p.ignoreDisabled(err)
	}
	if !h.OccurredAt.After(snap.UpdatedAt) {
		return nil
	}
	fn(snap)
	snap.UpdatedAt = h.OccurredAt.UTC()
	return p.write(ctx, *snap)
}

func (p *TicketCacheProjector) write(ctx context.Context, snap repo.TicketSnapshot) error {
	return p.ignoreDisabled(p.repo.CacheTicket(ctx, snap))
}

func (p *TicketCacheProjector) ignoreDisabled(err error) error {
	if errors.Is(err, repo.ErrCacheDisabled) {
		return nil
	}
	return err
}
