package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/richardliu001/ticket-service/internal/model"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher publishes persistent JSON messages to a durable topic exchange with
// routing key events.<aggregate type>.
type RabbitPublisher struct {
	ch       amqpChannel
	conn     *amqp.Connection
	exchange string
	service  string
	log      *zap.SugaredLogger
	now      func() time.Time
}

// DialRabbit connects, opens a channel and declares the exchange.
func DialRabbit(url, exchange, serviceName string, log *zap.SugaredLogger) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	p, err := NewRabbitPublisher(ch, exchange, serviceName, log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func NewRabbitPublisher(ch amqpChannel, exchange, serviceName string, log *zap.SugaredLogger) (*RabbitPublisher, error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	log.Infof("rabbitmq publisher ready exchange=%s", exchange)
	return &RabbitPublisher{ch: ch, exchange: exchange, service: serviceName, log: log, now: time.Now}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, msg *model.OutboxMessage) error {
	now := p.now()
	body, err := encode(msg, p.service, now)
	if err != nil {
		return err
	}
	key := RoutingKey("events", msg.AggregateType)
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID.String(),
		Type:         msg.Type,
		Timestamp:    now,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("%w: rabbitmq %s: %v", ErrPublish, msg.ID, err)
	}
	p.log.Infof("published %s type=%s routing_key=%s", msg.ID, msg.Type, key)
	return nil
}

func (p *RabbitPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
