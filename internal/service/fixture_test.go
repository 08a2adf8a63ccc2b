package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/richardliu001/ticket-service/internal/events"
	"github.com/richardliu001/ticket-service/internal/model"
	"github.com/richardliu001/ticket-service/internal/outbox"
	"github.com/richardliu001/ticket-service/internal/repo"
	"github.com/richardliu001/ticket-service/internal/uow"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// memCache replaces the Redis half of the repository with a map.
type memCache struct {
	*repo.Repository
	mu    sync.Mutex
	snaps map[uuid.UUID]repo.TicketSnapshot
}

func newMemCache(r *repo.Repository) *memCache {
	return &memCache{Repository: r, snaps: map[uuid.UUID]repo.TicketSnapshot{}}
}

func (m *memCache) CacheTicket(_ context.Context, snap repo.TicketSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.ID] = snap
	return nil
}

func (m *memCache) GetCachedTicket(_ context.Context, id uuid.UUID) (*repo.TicketSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[id]
	if !ok {
		return nil, redis.Nil
	}
	return &snap, nil
}

func (m *memCache) EvictTicket(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, id)
	return nil
}

func (m *memCache) cached(id uuid.UUID) (repo.TicketSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[id]
	return s, ok
}

type sentTransport struct {
	mu   sync.Mutex
	sent []*model.OutboxMessage
}

func (s *sentTransport) Publish(_ context.Context, msg *model.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *sentTransport) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, m := range s.sent {
		out = append(out, m.Type)
	}
	return out
}

type fixture struct {
	db        *gorm.DB
	store     *repo.OutboxStore
	router    *events.Router
	transport *sentTransport
	cache     *memCache
	svc       *TicketService
	log       *zap.SugaredLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.Ticket{}, &model.TicketStatusHistory{}, &model.OutboxMessage{}))

	log := zap.NewNop().Sugar()
	store := repo.NewOutboxStore(db, log)
	router := events.NewRouter(log)
	tr := &sentTransport{}
	cache := newMemCache(repo.NewRepository(db, nil, log))
	NewTicketCacheProjector(cache, log).Register(router)

	u := uow.New(db, outbox.NewWriter(store), store, router, tr, log)
	return &fixture{
		db:        db,
		store:     store,
		router:    router,
		transport: tr,
		cache:     cache,
		svc:       NewTicketService(cache, u, log),
		log:       log,
	}
}

func (f *fixture) outboxRows(t *testing.T, aggregateID uuid.UUID) []model.OutboxMessage {
	t.Helper()
	var rows []model.OutboxMessage
	require.NoError(t, f.db.Where("aggregate_id = ?", aggregateID).Order("created_at asc").Find(&rows).Error)
	return rows
}

func (f *fixture) processor() *outbox.Processor {
	return outbox.NewProcessor(f.db, f.store, events.NewTicketRegistry(), f.router, f.transport, "poller-1", f.log)
}

func validCreate() CreateTicketInput {
	return CreateTicketInput{
		Title:       "Payment page returns 500",
		Description: "Customers cannot pay with saved cards",
		Priority:    model.TicketPriorityCritical,
		Type:        model.TicketTypeBug,
		CustomerID:  uuid.New(),
		CategoryID:  uuid.New(),
		Tags:        []string{"payments", "prod"},
	}
}
