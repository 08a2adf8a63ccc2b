package repo

import (
	"context"
	"sync"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/google/uuid"
	"github.com/richardliu001/ticket-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func seedTicket(t *testing.T, db *gorm.DB) *model.Ticket {
	t.Helper()
	tk := &model.Ticket{
		ID:          uuid.New(),
		Title:       "VPN drops every hour",
		Description: "since the last client update",
		Priority:    model.TicketPriorityMedium,
		Status:      model.TicketStatusOpen,
		Type:        model.TicketTypeIncident,
		CustomerID:  uuid.New(),
		CategoryID:  uuid.New(),
	}
	require.NoError(t, db.Create(tk).Error)
	return tk
}

func TestOptimisticLock_ConcurrentUpdate(t *testing.T) {
	db := newTestDB(t)
	seeded := seedTicket(t, db)
	r := NewRepository(db, nil, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		conflict int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tk := *seeded
			tk.Status = model.TicketStatusInProgress
			err := db.Transaction(func(tx *gorm.DB) error {
				return r.UpdateTicket(ctx, tx, &tk, seeded.Version)
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
			} else {
				assert.ErrorIs(t, err, ErrVersionConflict)
				conflict++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success, "only one writer should win with optimistic lock")
	assert.Equal(t, 1, conflict)

	final, err := r.GetTicket(ctx, nil, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, seeded.Version+1, final.Version)
	assert.Equal(t, model.TicketStatusInProgress, final.Status)
}

func TestRepository_GetForUpdateAndDelete(t *testing.T) {
	db := newTestDB(t)
	seeded := seedTicket(t, db)
	r := NewRepository(db, nil, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		tk, err := r.GetTicketForUpdate(ctx, tx, seeded.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, seeded.Title, tk.Title)
		return r.DeleteTicket(ctx, tx, tk.ID)
	})
	require.NoError(t, err)

	_, err = r.GetTicket(ctx, nil, seeded.ID)
	assert.ErrorIs(t, err, ErrTicketNotFound)
	assert.ErrorIs(t, r.DeleteTicket(ctx, nil, seeded.ID), ErrTicketNotFound)
	_, err = r.GetTicketForUpdate(ctx, nil, uuid.New())
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestRepository_StatusHistoryOrder(t *testing.T) {
	db := newTestDB(t)
	seeded := seedTicket(t, db)
	r := NewRepository(db, nil, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()
	by := uuid.New()

	require.NoError(t, r.CreateStatusHistory(ctx, nil, &model.TicketStatusHistory{
		TicketID: seeded.ID, OldStatus: model.TicketStatusOpen, NewStatus: model.TicketStatusInProgress, ChangedBy: by,
	}))
	require.NoError(t, r.CreateStatusHistory(ctx, nil, &model.TicketStatusHistory{
		TicketID: seeded.ID, OldStatus: model.TicketStatusInProgress, NewStatus: model.TicketStatusResolved, ChangedBy: by,
	}))

	rows, err := r.ListStatusHistory(ctx, seeded.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, model.TicketStatusInProgress, rows[0].NewStatus)
	assert.Equal(t, model.TicketStatusResolved, rows[1].NewStatus)
}

func TestRepository_TicketCache(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	r := NewRepository(nil, rdb, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	snap := TicketSnapshot{ID: uuid.New(), Title: "cached", Status: model.TicketStatusOpen}
	raw := `{"id":"` + snap.ID.String() + `","title":"cached","status":"OPEN","updated_at":"0001-01-01T00:00:00Z"}`
	mock.ExpectSet("ticket:"+snap.ID.String(), raw, ticketCacheTTL).SetVal("OK")
	mock.ExpectGet("ticket:" + snap.ID.String()).SetVal(raw)
	mock.ExpectDel("ticket:" + snap.ID.String()).SetVal(1)

	require.NoError(t, r.CacheTicket(ctx, snap))
	got, err := r.GetCachedTicket(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap, *got)
	require.NoError(t, r.EvictTicket(ctx, snap.ID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_CacheDisabledWithoutRedis(t *testing.T) {
	r := NewRepository(nil, nil, zaptest.NewLogger(t).Sugar())
	assert.ErrorIs(t, r.CacheTicket(context.Background(), TicketSnapshot{}), ErrCacheDisabled)
	_, err := r.GetCachedTicket(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrCacheDisabled)
	assert.ErrorIs(t, r.EvictTicket(context.Background(), uuid.New()), ErrCacheDisabled)
}
