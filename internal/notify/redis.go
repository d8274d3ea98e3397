package notify

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mmeshcher/digibite-marketplace/internal/model"
)

// Channel задаёт канал Redis, через который экземпляры сервиса обмениваются изменениями заказов.
const Channel = "digibite:orders"

// RedisPublisher публикует изменения заказов в Redis, чтобы их получили хабы всех экземпляров.
type RedisPublisher struct {
	rdb    redis.UniversalClient
	logger *zap.Logger
	// fallback получает событие, если Redis недоступен.
	fallback *Hub
}

// NewRedisPublisher создаёт издателя. При ошибке Redis событие доставляется только в локальный хаб.
func NewRedisPublisher(rdb redis.UniversalClient, fallback *Hub, logger *zap.Logger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{rdb: rdb, fallback: fallback, logger: logger}
}

// OrderChanged публикует снимок заказа. Ошибки только логируются: доставка не гарантируется.
func (p *RedisPublisher) OrderChanged(ctx context.Context, o model.Order) {
	payload, err := json.Marshal(o)
	if err != nil {
		p.logger.Error("encode order event", zap.Error(err), zap.String("order", o.Reference))
		return
	}
	if err := p.rdb.Publish(ctx, Channel, payload).Err(); err != nil {
		p.logger.Warn("publish order event", zap.Error(err), zap.String("order", o.Reference))
		if p.fallback != nil {
			p.fallback.Publish(o)
		}
	}
}

// Relay читает канал Redis и передаёт события в локальный хаб.
type Relay struct {
	rdb    redis.UniversalClient
	hub    *Hub
	logger *zap.Logger
}

// NewRelay создаёт ретранслятор событий из Redis в хаб.
func NewRelay(rdb redis.UniversalClient, hub *Hub, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{rdb: rdb, hub: hub, logger: logger}
}

// Run слушает канал до отмены контекста.
func (r *Relay) Run(ctx context.Context) (err error) {
	sub := r.rdb.Subscribe(ctx, Channel)
	defer func() {
		err = multierr.Append(err, sub.Close())
	}()

	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *Relay) handle(payload string) {
	var o model.Order
	if err := json.Unmarshal([]byte(payload), &o); err != nil {
		r.logger.Warn("decode order event", zap.Error(err))
		return
	}
	r.hub.Publish(o)
}
