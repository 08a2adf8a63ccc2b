package broker

import (
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/ticket-service/internal/config"
	"go.uber.org/zap"
)

// New builds the publisher selected by cfg.Transport.Kind. rdb is only used for the
// redis transport.
func New(cfg *config.Config, rdb *redis.Client, log *zap.SugaredLogger) (Publisher, error) {
	service := cfg.Transport.ServiceName
	switch cfg.Transport.Kind {
	case config.TransportKafka:
		return NewKafkaPublisher(NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), service, log), nil
	case config.TransportRabbitMQ:
		p, err := DialRabbit(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, service, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.TransportRedis:
		if rdb == nil {
			return nil, fmt.Errorf("%w: redis transport without client", config.ErrInvalidConfig)
		}
		return NewRedisPublisher(rdb, cfg.Redis.ChannelPrefix, service, log), nil
	default:
		return nil, fmt.Errorf("%w: unknown transport kind %q", config.ErrInvalidConfig, cfg.Transport.Kind)
	}
}
