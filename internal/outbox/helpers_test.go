package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/richardliu001/ticket-service/internal/events"
	"github.com/richardliu001/ticket-service/internal/model"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&model.Ticket{}, &model.OutboxMessage{}))
	return db
}

func created(strategy events.ProcessingStrategy) *events.TicketCreated {
	return &events.TicketCreated{
		Envelope:   events.NewEnvelope(uuid.New(), model.TicketAggregateType, strategy),
		Title:      "cannot log in",
		Priority:   string(model.TicketPriorityHigh),
		Type:       string(model.TicketTypeSupport),
		CustomerID: uuid.New(),
		CategoryID: uuid.New(),
	}
}

type fakeTransport struct {
	mu        sync.Mutex
	failures  int
	published []uuid.UUID
}

var errBrokerDown = errors.New("broker down")

func (f *fakeTransport) Publish(_ context.Context, msg *model.OutboxMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errBrokerDown
	}
	f.published = append(f.published, msg.ID)
	return nil
}

func (f *fakeTransport) Published() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.published...)
}
