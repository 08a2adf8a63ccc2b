package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/richardliu001/ticket-service/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one Kafka message per record, keyed by aggregate id so a
// ticket's events land on one partition.
type KafkaPublisher struct {
	w       messageWriter
	service string
	log     *zap.SugaredLogger
	now     func() time.Time
}

// NewKafkaWriter builds the writer used in production.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

func NewKafkaPublisher(w messageWriter, serviceName string, log *zap.SugaredLogger) *KafkaPublisher {
	return &KafkaPublisher{w: w, service: serviceName, log: log, now: time.Now}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg *model.OutboxMessage) error {
	now := p.now()
	body, err := encode(msg, p.service, now)
	if err != nil {
		return err
	}
	km := kafka.Message{
		Key:   []byte(msg.AggregateID.String()),
		Value: body,
		Time:  now,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.Type)},
			{Key: "routing_key", Value: []byte(RoutingKey("events", msg.AggregateType))},
		},
	}
	if err := p.w.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("%w: kafka %s: %v", ErrPublish, msg.ID, err)
	}
	p.log.Debugf("kafka published %s (%s)", msg.ID, msg.Type)
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }
