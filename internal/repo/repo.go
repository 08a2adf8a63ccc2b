package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/richardliu001/ticket-service/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrTicketNotFound is returned when no live ticket has the requested id.
	ErrTicketNotFound  = errors.New("ticket not found")
	// ErrVersionConflict is returned when another writer bumped the ticket version first.
	ErrVersionConflict = errors.New("optimistic lock conflict")
	// ErrCacheDisabled is returned by cache methods when no Redis client is configured.
	ErrCacheDisabled   = errors.New("ticket cache disabled")
)

const ticketCacheTTL = 5 * time.Minute

// TicketSnapshot is the cached read model of a ticket.
type TicketSnapshot struct {
	ID         uuid.UUID          `json:"id"`
	Title      string             `json:"title"`
	Status     model.TicketStatus `json:"status"`
	AssigneeID *uuid.UUID         `json:"assignee_id,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// RepositoryInterface restricts Repo methods so services can be tested against fakes.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	GetTicket(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Ticket, error)
	GetTicketForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Ticket, error)
	CreateTicket(ctx context.Context, tx *gorm.DB, t *model.Ticket) error
	UpdateTicket(ctx context.Context, tx *gorm.DB, t *model.Ticket, oldVersion uint64) error
	DeleteTicket(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	CreateStatusHistory(ctx context.Context, tx *gorm.DB, h *model.TicketStatusHistory) error
	ListStatusHistory(ctx context.Context, ticketID uuid.UUID) ([]model.TicketStatusHistory, error)
	CacheTicket(ctx context.Context, snap TicketSnapshot) error
	GetCachedTicket(ctx context.Context, id uuid.UUID) (*TicketSnapshot, error)
	EvictTicket(ctx context.Context, id uuid.UUID) error
}

// Repository implements RepositoryInterface.
type Repository struct {
	db  *gorm.DB
	rdb *redis.Client
	log *zap.SugaredLogger
}

// NewRepository constructs repo. rdb may be nil, which disables the ticket cache.
func NewRepository(db *gorm.DB, rdb *redis.Client, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

func (r *Repository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx)
}

// GetTicket loads a live ticket.
func (r *Repository) GetTicket(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Ticket, error) {
	var t model.Ticket
	if err := r.conn(ctx, tx).Where("id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

// GetTicketForUpdate locks ticket row.
func (r *Repository) GetTicketForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Ticket, error) {
	var t model.Ticket
	if err := r.conn(ctx, tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

// CreateTicket inserts record.
func (r *Repository) CreateTicket(ctx context.Context, tx *gorm.DB, t *model.Ticket) error {
	return r.conn(ctx, tx).Create(t).Error
}

// UpdateTicket writes the mutable columns of t with optimistic lock and bumps t.Version.
func (r *Repository) UpdateTicket(ctx context.Context, tx *gorm.DB, t *model.Ticket, oldVersion uint64) error {
	now := time.Now().UTC()
	res := r.conn(ctx, tx).
		Model(&model.Ticket{}).
		Where("id = ? AND version = ?", t.ID, oldVersion).
		Updates(map[string]interface{}{
			"title":               t.Title,
			"description":         t.Description,
			"priority":            t.Priority,
			"status":              t.Status,
			"assigned_to_user_id": t.AssignedToUserID,
			"due_date":            t.DueDate,
			"resolved_at":         t.ResolvedAt,
			"closed_at":           t.ClosedAt,
			"resolution_notes":    t.ResolutionNotes,
			"tags":                t.Tags,
			"estimated_hours":     t.EstimatedHours,
			"version":             oldVersion + 1,
			"updated_at":          now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	t.Version = oldVersion + 1
	t.UpdatedAt = now
	return nil
}

// DeleteTicket soft-deletes the ticket.
func (r *Repository) DeleteTicket(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	res := r.conn(ctx, tx).Where("id = ?", id).Delete(&model.Ticket{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTicketNotFound
	}
	return nil
}

// CreateStatusHistory inserts record.
func (r *Repository) CreateStatusHistory(ctx context.Context, tx *gorm.DB, h *model.TicketStatusHistory) error {
	return r.conn(ctx, tx).Create(h).Error
}

// ListStatusHistory returns status changes oldest first.
func (r *Repository) ListStatusHistory(ctx context.Context, ticketID uuid.UUID) ([]model.TicketStatusHistory, error) {
	var rows []model.TicketStatusHistory
	err := r.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("id asc").
		Find(&rows).Error
	return rows, err
}

func ticketCacheKey(id uuid.UUID) string { return fmt.Sprintf("ticket:%s", id) }

// CacheTicket writes Redis.
func (r *Repository) CacheTicket(ctx context.Context, snap TicketSnapshot) error {
	if r.rdb == nil {
		return ErrCacheDisabled
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, ticketCacheKey(snap.ID), string(raw), ticketCacheTTL).Err()
}

// GetCachedTicket reads Redis.
func (r *Repository) GetCachedTicket(ctx context.Context, id uuid.UUID) (*TicketSnapshot, error) {
	if r.rdb == nil {
		return nil, ErrCacheDisabled
	}
	str, err := r.rdb.Get(ctx, ticketCacheKey(id)).Result()
	if err != nil {
		return nil, err
	}
	var snap TicketSnapshot
	if err := json.Unmarshal([]byte(str), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// EvictTicket drops the cached snapshot.
func (r *Repository) EvictTicket(ctx context.Context, id uuid.UUID) error {
	if r.rdb == nil {
		return ErrCacheDisabled
	}
	return r.rdb.Del(ctx, ticketCacheKey(id)).Err()
}

// SnapshotOf builds the cache view of t.
func SnapshotOf(t *model.Ticket) TicketSnapshot {
	return TicketSnapshot{
		ID:         t.ID,
		Title:      t.Title,
		Status:     t.Status,
		AssigneeID: t.AssignedToUserID,
		UpdatedAt:  t.UpdatedAt.UTC(),
	}
}
