package repo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/richardliu001/ticket-service/internal/clock"
	"github.com/richardliu001/ticket-service/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxErrorLength = 2000

var (
	ErrOutboxMessageNotFound   = errors.New("outbox message not found")
	// ErrOutboxMessageNotPending is returned when a state change targets a processed row.
	ErrOutboxMessageNotPending = errors.New("outbox message already processed")
	ErrInvalidPartition        = errors.New("invalid partition")
)

// Partition restricts dispatch to rows whose partition key falls in bucket ID of Count.
type Partition struct {
	ID    int
	Count int
}

// NewPartition returns nil when count is zero, which selects every row.
func NewPartition(id, count int) *Partition {
	if count == 0 {
		return nil
	}
	return &Partition{ID: id, Count: count}
}

func (p *Partition) Validate() error {
	if p == nil {
		return nil
	}
	if p.Count <= 0 || p.ID < 0 || p.ID >= p.Count {
		return fmt.Errorf("%w: %d/%d", ErrInvalidPartition, p.ID, p.Count)
	}
	return nil
}

func (p *Partition) String() string {
	if p == nil {
		return "all"
	}
	return fmt.Sprintf("%d/%d", p.ID, p.Count)
}

// Contains reports whether id hashes into p. A nil partition contains every id.
func (p *Partition) Contains(id uuid.UUID) bool {
	if p == nil {
		return true
	}
	return PartitionKey(id)%int64(p.Count) == int64(p.ID)
}

// PartitionKey is the stable non-negative hash of an outbox id stored in partition_key.
func PartitionKey(id uuid.UUID) int64 {
	return int64(xxhash.Sum64(id[:]) & math.MaxInt32)
}

// OutboxStats counts rows per delivery state.
type OutboxStats struct {
	Pending   int64 `json:"pending"`
	Claimed   int64 `json:"claimed"`
	Failed    int64 `json:"failed"`
	Processed int64 `json:"processed"`
}

// OutboxStore owns the outbox_message table.
type OutboxStore struct {
	db         *gorm.DB
	log        *zap.SugaredLogger
	clk        clock.Clock
	lease      time.Duration
	maxRetries int
}

type OutboxStoreOption func(*OutboxStore)

// WithClaimLease lets claims older than d be taken over. Zero keeps claims forever.
func WithClaimLease(d time.Duration) OutboxStoreOption {
	return func(s *OutboxStore) { s.lease = d }
}

// WithMaxRetries hides rows that failed n times from selection. Zero means unlimited.
func WithMaxRetries(n int) OutboxStoreOption {
	return func(s *OutboxStore) { s.maxRetries = n }
}

// WithClock sets the time source used for claim timestamps and lease expiry.
func WithClock(c clock.Clock) OutboxStoreOption {
	return func(s *OutboxStore) { s.clk = c }
}

func NewOutboxStore(db *gorm.DB, log *zap.SugaredLogger, opts ...OutboxStoreOption) *OutboxStore {
	s := &OutboxStore{db: db, log: log, clk: clock.Real()}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}
	return s
}

func (s *OutboxStore) ClaimLease() time.Duration { return s.lease }

// Now is the store's current UTC time. Callers judging claim expiry use it so they agree
// with the claim predicate.
func (s *OutboxStore) Now() time.Time { return s.clk.Now().UTC() }

func (s *OutboxStore) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		tx = s.db
	}
	return tx.WithContext(ctx)
}

// Create inserts msgs with tx, filling in partition keys.
func (s *OutboxStore) Create(ctx context.Context, tx *gorm.DB, msgs []*model.OutboxMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	for _, m := range msgs {
		m.PartitionKey = PartitionKey(m.ID)
	}
	return s.conn(ctx, tx).Create(&msgs).Error
}

func (s *OutboxStore) GetByID(ctx context.Context, id uuid.UUID) (*model.OutboxMessage, error) {
	var m model.OutboxMessage
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOutboxMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListUnclaimed selects up to limit dispatchable rows: unprocessed, unclaimed (or with an
// expired claim), under the retry cap, optionally within one partition. High priority rows
// come first, then oldest first.
func (s *OutboxStore) ListUnclaimed(ctx context.Context, limit int, p *Partition) ([]model.OutboxMessage, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	q := s.eligible(s.db.WithContext(ctx))
	if p != nil {
		q = q.Where("partition_key % ? = ?", p.Count, p.ID)
	}
	var msgs []model.OutboxMessage
	err := q.Order("priority DESC").
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

func (s *OutboxStore) eligible(q *gorm.DB) *gorm.DB {
	q = q.Where("processed_at IS NULL")
	if s.lease > 0 {
		q = q.Where("(is_claimed = ? OR claimed_at < ?)", false, s.Now().Add(-s.lease))
	} else {
		q = q.Where("is_claimed = ?", false)
	}
	if s.maxRetries > 0 {
		q = q.Where("retry_count < ?", s.maxRetries)
	}
	return q
}

// TryClaim marks the row claimed by claimant in one conditional UPDATE. It reports true only
// when this call flipped the row; a lost race, a processed row, a missing row and any driver
// error all report false.
func (s *OutboxStore) TryClaim(ctx context.Context, tx *gorm.DB, id uuid.UUID, claimant string) bool {
	now := s.Now()
	q := s.conn(ctx, tx).Model(&model.OutboxMessage{}).
		Where("id = ? AND processed_at IS NULL", id)
	if s.lease > 0 {
		q = q.Where("(is_claimed = ? OR claimed_at < ?)", false, now.Add(-s.lease))
	} else {
		q = q.Where("is_claimed = ?", false)
	}
	res := q.Updates(map[string]interface{}{
		"is_claimed": true,
		"claimed_by": claimant,
		"claimed_at": now,
	})
	if res.Error != nil {
		s.log.Warnf("claim outbox id=%s by %s: %v", id, claimant, res.Error)
		return false
	}
	return res.RowsAffected == 1
}

// MarkProcessed sets processed_at once.
func (s *OutboxStore) MarkProcessed(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	res := s.conn(ctx, tx).Model(&model.OutboxMessage{}).
		Where("id = ? AND processed_at IS NULL", id).
		Update("processed_at", s.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOutboxMessageNotPending
	}
	return nil
}

// MarkFailed records reason and bumps retry_count. With release the claim columns are
// cleared so the next poll can pick the row up again.
func (s *OutboxStore) MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, reason string, release bool) error {
	if len(reason) > maxErrorLength {
		reason = reason[:maxErrorLength]
	}
	updates := map[string]interface{}{
		"error":       reason,
		"retry_count": gorm.Expr("retry_count + 1"),
	}
	if release {
		updates["is_claimed"] = false
		updates["claimed_by"] = nil
		updates["claimed_at"] = nil
	}
	res := s.conn(ctx, tx).Model(&model.OutboxMessage{}).
		Where("id = ? AND processed_at IS NULL", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOutboxMessageNotPending
	}
	return nil
}

// ReleaseClaim clears the claim on an unprocessed row. It reports whether a claim was held.
func (s *OutboxStore) ReleaseClaim(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	res := s.conn(ctx, tx).Model(&model.OutboxMessage{}).
		Where("id = ? AND processed_at IS NULL AND is_claimed = ?", id, true).
		Updates(map[string]interface{}{
			"is_claimed": false,
			"claimed_by": nil,
			"claimed_at": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *OutboxStore) Stats(ctx context.Context) (OutboxStats, error) {
	var st OutboxStats
	count := func(dst *int64, query string, args ...interface{}) error {
		return s.db.WithContext(ctx).Model(&model.OutboxMessage{}).Where(query, args...).Count(dst).Error
	}
	if err := count(&st.Pending, "processed_at IS NULL AND is_claimed = ?", false); err != nil {
		return st, err
	}
	if err := count(&st.Claimed, "processed_at IS NULL AND is_claimed = ?", true); err != nil {
		return st, err
	}
	if err := count(&st.Failed, "processed_at IS NULL AND error IS NOT NULL"); err != nil {
		return st, err
	}
	if err := count(&st.Processed, "processed_at IS NOT NULL"); err != nil {
		return st, err
	}
	return st, nil
}
