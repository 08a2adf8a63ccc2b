package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/ticket-service/internal/clock"
	"github.com/richardliu001/ticket-service/internal/events"
	"github.com/richardliu001/ticket-service/internal/model"
	"github.com/richardliu001/ticket-service/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type harness struct {
	db        *gorm.DB
	store     *repo.OutboxStore
	router    *events.Router
	transport *fakeTransport
	writer    *Writer
}

func newHarness(t *testing.T, storeOpts ...repo.OutboxStoreOption) *harness {
	t.Helper()
	db := newTestDB(t)
	log := zaptest.NewLogger(t).Sugar()
	store := repo.NewOutboxStore(db, log, storeOpts...)
	return &harness{
		db:        db,
		store:     store,
		router:    events.NewRouter(log),
		transport: &fakeTransport{},
		writer:    NewWriter(store),
	}
}

func (h *harness) processor(t *testing.T, opts ...ProcessorOption) *Processor {
	return NewProcessor(h.db, h.store, events.NewTicketRegistry(), h.router, h.transport,
		"poller-test", zaptest.NewLogger(t).Sugar(), opts...)
}

func (h *harness) seed(t *testing.T, evts ...events.Event) {
	t.Helper()
	_, err := h.writer.Write(context.Background(), h.db, evts)
	require.NoError(t, err)
}

func (h *harness) row(t *testing.T, id uuid.UUID) *model.OutboxMessage {
	t.Helper()
	m, err := h.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return m
}

func TestProcessBatch_RespectsBatchSize(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.processor(t)

	var evts []events.Event
	for i := 0; i < 25; i++ {
		evts = append(evts, created(events.StrategyBackground))
	}
	h.seed(t, evts...)

	first, err := p.ProcessBatch(ctx, 20, nil)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Selected: 20, Processed: 20}, first)

	second, err := p.ProcessBatch(ctx, 20, nil)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Selected: 5, Processed: 5}, second)

	third, err := p.ProcessBatch(ctx, 20, nil)
	require.NoError(t, err)
	assert.Zero(t, third.Selected)
	assert.Len(t, h.transport.Published(), 25)

	st, err := h.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(25), st.Processed)
}

func TestProcessBatch_HighPriorityFirst(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.processor(t)

	normal := created(events.StrategyBackground)
	high := created(events.StrategyImmediate)
	h.seed(t, normal)
	h.seed(t, high)

	res, err := p.ProcessBatch(ctx, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, []uuid.UUID{high.ID, normal.ID}, h.transport.Published())
}

func TestProcessBatch_LocalHandlersSeeDecodedEvent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	evt := created(events.StrategyBackground)
	h.seed(t, evt)

	var got *events.TicketCreated
	h.router.Subscribe(events.TypeTicketCreated, events.HandlerFunc(func(_ context.Context, e events.Event) error {
		got = e.(*events.TicketCreated)
		return nil
	}))

	res, err := h.processor(t).ProcessBatch(ctx, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	require.NotNil(t, got)
	assert.Equal(t, evt.ID, got.ID)
	assert.Equal(t, evt.CustomerID, got.CustomerID)

	row := h.row(t, evt.ID)
	assert.NotNil(t, row.ProcessedAt)
	assert.Equal(t, "poller-test", *row.ClaimedBy)
}

func TestProcessBatch_TamperedTypeRecordsFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	evt := created(events.StrategyBackground)
	h.seed(t, evt)
	require.NoError(t, h.db.Model(&model.OutboxMessage{}).
		Where("id = ?", evt.ID).Update("type", "Tampered.Type, Unknown").Error)

	p := h.processor(t, WithReleaseOnFailure(true))
	var res BatchResult
	var err error
	assert.NotPanics(t, func() { res, err = p.ProcessBatch(ctx, 10, nil) })
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Selected: 1, Failed: 1}, res)

	row := h.row(t, evt.ID)
	assert.Nil(t, row.ProcessedAt)
	require.NotNil(t, row.Error)
	assert.Contains(t, *row.Error, events.ErrUnknownEventType.Error())
	assert.True(t, row.IsClaimed, "decode failures keep the claim")
	assert.Empty(t, h.transport.Published())
}

func TestProcessBatch_TransportFailureKeepsClaim(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.transport.failures = 1
	p := h.processor(t)
	evt := created(events.StrategyBackground)
	h.seed(t, evt)

	res, err := p.ProcessBatch(ctx, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	row := h.row(t, evt.ID)
	assert.Equal(t, 1, row.RetryCount)
	assert.Nil(t, row.ProcessedAt)
	assert.True(t, row.IsClaimed)
	assert.Contains(t, *row.Error, errBrokerDown.Error())

	res, err = p.ProcessBatch(ctx, 10, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Selected, "claimed row is not retried")

	released, err := h.store.ReleaseClaim(ctx, nil, evt.ID)
	require.NoError(t, err)
	require.True(t, released)

	res, err = p.ProcessBatch(ctx, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	row = h.row(t, evt.ID)
	assert.NotNil(t, row.ProcessedAt)
	assert.Equal(t, 1, row.RetryCount)
}

func TestProcessBatch_TransportFailureReleasedAndRetried(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.transport.failures = 1
	p := h.processor(t, WithReleaseOnFailure(true))
	evt := created(events.StrategyBackground)
	h.seed(t, evt)

	res, err := p.ProcessBatch(ctx, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	row := h.row(t, evt.ID)
	assert.False(t, row.IsClaimed)
	assert.Nil(t, row.ClaimedAt)
	assert.Equal(t, 1, row.RetryCount)

	res, err = p.ProcessBatch(ctx, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, []uuid.UUID{evt.ID}, h.transport.Published())
}

func TestProcessBatch_HandlerFailureSkipsTransport(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.router.Subscribe(events.TypeTicketCreated, events.HandlerFunc(func(context.Context, events.Event) error {
		return errors.New("projection unavailable")
	}))
	evt := created(events.StrategyBackground)
	other := &events.TicketDeleted{
		Envelope: events.NewEnvelope(uuid.New(), model.TicketAggregateType, events.StrategyBackground),
	}
	h.seed(t, evt, other)

	res, err := h.processor(t).ProcessBatch(ctx, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Selected: 2, Processed: 1, Failed: 1}, res)
	assert.Equal(t, []uuid.UUID{other.ID}, h.transport.Published())
	assert.Contains(t, *h.row(t, evt.ID).Error, "projection unavailable")
}

func TestProcessBatch_HandlerPanicIsContained(t *testing.T) {
	h := newHarness(t)
	h.router.Subscribe(events.TypeTicketCreated, events.HandlerFunc(func(context.Context, events.Event) error {
		panic("nil map")
	}))
	evt := created(events.StrategyBackground)
	h.seed(t, evt)

	res, err := h.processor(t).ProcessBatch(context.Background(), 10, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, *h.row(t, evt.ID).Error, "nil map")
}

func TestProcessBatch_LostClaimIsSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.processor(t)
	evt := created(events.StrategyBackground)
	h.seed(t, evt)

	snapshot := h.row(t, evt.ID)
	require.True(t, h.store.TryClaim(ctx, nil, evt.ID, "someone-else"))

	assert.Equal(t, outcomeSkipped, p.processRecord(ctx, snapshot))
	assert.Empty(t, h.transport.Published())
	assert.Equal(t, "someone-else", *h.row(t, evt.ID).ClaimedBy)

	claimed := h.row(t, evt.ID)
	assert.Equal(t, outcomeSkipped, p.processRecord(ctx, claimed), "snapshot already shows a claim")
}

func TestProcessRecord_ProcessedSnapshotIsSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.processor(t)
	evt := created(events.StrategyBackground)
	h.seed(t, evt)

	res, err := p.ProcessBatch(ctx, 10, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)

	done := h.row(t, evt.ID)
	require.True(t, done.Processed())
	assert.Equal(t, outcomeSkipped, p.processRecord(ctx, done))
	assert.Len(t, h.transport.Published(), 1)
}

func TestProcessBatch_ExpiredLeaseIsReclaimed(t *testing.T) {
	ctx := context.Background()
	fake := clock.Fake(time.Date(2025, 5, 22, 9, 0, 0, 0, time.UTC))
	h := newHarness(t, repo.WithClaimLease(time.Minute), repo.WithClock(fake))
	p := h.processor(t)
	evt := created(events.StrategyBackground)
	h.seed(t, evt)

	require.True(t, h.store.TryClaim(ctx, nil, evt.ID, "crashed-poller"))
	res, err := p.ProcessBatch(ctx, 10, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Selected)

	fake.Advance(2 * time.Minute)
	res, err = p.ProcessBatch(ctx, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, "poller-test", *h.row(t, evt.ID).ClaimedBy)
}

func TestProcessBatch_PartitionOnlyTouchesItsRows(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.processor(t)
	var evts []events.Event
	for i := 0; i < 12; i++ {
		evts = append(evts, created(events.StrategyBackground))
	}
	h.seed(t, evts...)

	part := &repo.Partition{ID: 1, Count: 2}
	res, err := p.ProcessBatch(ctx, 100, part)
	require.NoError(t, err)
	for _, id := range h.transport.Published() {
		assert.True(t, part.Contains(id))
	}

	rest, err := p.ProcessBatch(ctx, 100, &repo.Partition{ID: 0, Count: 2})
	require.NoError(t, err)
	assert.Equal(t, 12, res.Processed+rest.Processed)
}

func TestProcessBatch_CancellationStopsBetweenRecords(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.router.Subscribe(events.TypeTicketCreated, events.HandlerFunc(func(context.Context, events.Event) error {
		cancel()
		return nil
	}))
	h.seed(t, created(events.StrategyBackground), created(events.StrategyBackground), created(events.StrategyBackground))

	res, err := h.processor(t).ProcessBatch(ctx, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Selected: 3, Processed: 1}, res)

	st, err := h.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Processed, "in-flight record still committed")
	assert.Equal(t, int64(2), st.Pending)
}

func TestProcessBatch_ZeroLimit(t *testing.T) {
	h := newHarness(t)
	h.seed(t, created(events.StrategyBackground))
	res, err := h.processor(t).ProcessBatch(context.Background(), 0, nil)
	require.NoError(t, err)
	assert.Zero(t, res)
}

func TestProcessBatch_InvalidPartition(t *testing.T) {
	h := newHarness(t)
	_, err := h.processor(t).ProcessBatch(context.Background(), 10, &repo.Partition{ID: 2, Count: 2})
	assert.ErrorIs(t, err, repo.ErrInvalidPartition)
}
