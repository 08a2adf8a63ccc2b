package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/ticket-service/internal/model"
	"go.uber.org/zap"
)

// RedisPublisher fans records out over Redis pub/sub on channel <prefix>.<aggregate type>.
// Delivery is fire-and-forget for subscribers that are not connected.
type RedisPublisher struct {
	rdb     *redis.Client
	prefix  string
	service string
	log     *zap.SugaredLogger
	now     func() time.Time
}

func NewRedisPublisher(rdb *redis.Client, prefix, serviceName string, log *zap.SugaredLogger) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, prefix: prefix, service: serviceName, log: log, now: time.Now}
}

func (p *RedisPublisher) Publish(ctx context.Context, msg *model.OutboxMessage) error {
	body, err := encode(msg, p.service, p.now())
	if err != nil {
		return err
	}
	channel := RoutingKey(p.prefix, msg.AggregateType)
	receivers, err := p.rdb.Publish(ctx, channel, string(body)).Result()
	if err != nil {
		return fmt.Errorf("%w: redis %s: %v", ErrPublish, msg.ID, err)
	}
	p.log.Debugf("redis published %s to %s receivers=%d", msg.ID, channel, receivers)
	return nil
}

// Close is a no-op; the client is shared with the ticket cache and closed by its owner.
func (p *RedisPublisher) Close() error { return nil }
