package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/richardliu001/ticket-service/internal/events"
	"github.com/richardliu001/ticket-service/internal/model"
	"github.com/richardliu001/ticket-service/internal/repo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errHandlerPanic = errors.New("handler panicked")

// Transport delivers a stored record to the external broker.
type Transport interface {
	Publish(ctx context.Context, msg *model.OutboxMessage) error
}

// BatchResult counts what one ProcessBatch call did with the rows it selected.
type BatchResult struct {
	Selected  int
	Skipped   int
	Processed int
	Failed    int
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeProcessed
	outcomeFailed
)

// Processor claims and dispatches outbox rows one at a time.
type Processor struct {
	db               *gorm.DB
	store            *repo.OutboxStore
	registry         *events.Registry
	router           *events.Router
	transport        Transport
	log              *zap.SugaredLogger
	tracer           trace.Tracer
	instanceID       string
	releaseOnFailure bool
}

type ProcessorOption func(*Processor)

func WithTracer(t trace.Tracer) ProcessorOption {
	return func(p *Processor) { p.tracer = t }
}

// WithReleaseOnFailure clears the claim when a handler or the transport fails so the row
// is retried on the next cycle. Decode failures always keep the claim.
func WithReleaseOnFailure(release bool) ProcessorOption {
	return func(p *Processor) { p.releaseOnFailure = release }
}

// NewProcessor wires a processor. transport may be nil, in which case only local handlers run.
func NewProcessor(
	db *gorm.DB,
	store *repo.OutboxStore,
	registry *events.Registry,
	router *events.Router,
	transport Transport,
	instanceID string,
	log *zap.SugaredLogger,
	opts ...ProcessorOption,
) *Processor {
	p := &Processor{
		db:         db,
		store:      store,
		registry:   registry,
		router:     router,
		transport:  transport,
		log:        log,
		instanceID: instanceID,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = zap.NewNop().Sugar()
	}
	if p.tracer == nil {
		p.tracer = noop.NewTracerProvider().Tracer("ticket-service.outbox")
	}
	return p
}

// ProcessBatch selects up to maxMessages dispatchable rows and handles each in its own
// transaction. Only a failed selection is returned as an error.
func (p *Processor) ProcessBatch(ctx context.Context, maxMessages int, partition *repo.Partition) (BatchResult, error) {
	var res BatchResult
	if maxMessages <= 0 {
		return res, nil
	}

	ctx, span := p.tracer.Start(ctx, "outbox.process_batch",
		trace.WithAttributes(
			attribute.String("outbox.instance", p.instanceID),
			attribute.String("outbox.partition", partition.String()),
		))
	defer span.End()

	msgs, err := p.store.ListUnclaimed(ctx, maxMessages, partition)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select outbox batch")
		return res, fmt.Errorf("select outbox batch: %w", err)
	}
	res.Selected = len(msgs)

	for i := range msgs {
		if ctx.Err() != nil {
			break
		}
		switch p.processRecord(ctx, &msgs[i]) {
		case outcomeProcessed:
			res.Processed++
		case outcomeFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	}

	span.SetAttributes(
		attribute.Int("outbox.selected", res.Selected),
		attribute.Int("outbox.processed", res.Processed),
		attribute.Int("outbox.failed", res.Failed),
	)
	if res.Processed > 0 || res.Failed > 0 {
		p.log.Infof("outbox batch partition=%s selected=%d processed=%d failed=%d skipped=%d",
			partition, res.Selected, res.Processed, res.Failed, res.Skipped)
	}
	return res, nil
}

func (p *Processor) processRecord(parent context.Context, msg *model.OutboxMessage) outcome {
	// in-flight record work must not be torn down halfway by shutdown
	ctx := context.WithoutCancel(parent)
	ctx, span := p.tracer.Start(ctx, "outbox.process_record",
		trace.WithAttributes(
			attribute.String("outbox.id", msg.ID.String()),
			attribute.String("outbox.type", msg.Type),
		))
	defer span.End()

	if msg.Processed() || msg.ClaimActive(p.store.Now(), p.store.ClaimLease()) {
		return outcomeSkipped
	}

	result := outcomeSkipped
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !p.store.TryClaim(ctx, tx, msg.ID, p.instanceID) {
			return nil
		}

		evt, err := p.registry.Decode(msg.Type, []byte(msg.Content))
		if err != nil {
			result = outcomeFailed
			return p.fail(ctx, tx, span, msg, err, false)
		}
		if err := p.deliver(ctx, evt, msg); err != nil {
			result = outcomeFailed
			return p.fail(ctx, tx, span, msg, err, p.releaseOnFailure)
		}
		if err := p.store.MarkProcessed(ctx, tx, msg.ID); err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
		result = outcomeProcessed
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "outbox record transaction")
		p.log.Errorf("outbox id=%s type=%s: %v", msg.ID, msg.Type, err)
		return outcomeFailed
	}
	return result
}

func (p *Processor) deliver(ctx context.Context, evt events.Event, msg *model.OutboxMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errHandlerPanic, r)
		}
	}()

	if err := p.router.Publish(ctx, evt); err != nil {
		return err
	}
	if p.transport == nil {
		return nil
	}
	return p.transport.Publish(ctx, msg)
}

func (p *Processor) fail(ctx context.Context, tx *gorm.DB, span trace.Span, msg *model.OutboxMessage, cause error, release bool) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, "outbox record failed")
	p.log.Warnf("outbox id=%s type=%s retry=%d release=%t: %v",
		msg.ID, msg.Type, msg.RetryCount+1, release, cause)
	if err := p.store.MarkFailed(ctx, tx, msg.ID, cause.Error(), release); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}
