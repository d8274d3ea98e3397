// Package notify доставляет изменения заказов подписчикам в реальном времени.
package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/digibite-marketplace/internal/model"
)

const defaultBuffer = 16

// TopicKind определяет, по какому признаку подписчик получает заказы.
type TopicKind string

const (
	TopicOrder  TopicKind = "order"
	TopicTenant TopicKind = "tenant"
	TopicUser   TopicKind = "user"
)

// Topic идентифицирует поток изменений: один заказ, все заказы заведения или все заказы покупателя.
type Topic struct {
	Kind TopicKind
	ID   uuid.UUID
}

// OrderTopic возвращает топик изменений одного заказа.
func OrderTopic(id uuid.UUID) Topic { return Topic{Kind: TopicOrder, ID: id} }

// TenantTopic возвращает топик заказов заведения.
func TenantTopic(id uuid.UUID) Topic { return Topic{Kind: TopicTenant, ID: id} }

// UserTopic возвращает топик заказов покупателя.
func UserTopic(id uuid.UUID) Topic { return Topic{Kind: TopicUser, ID: id} }

type subscriber struct {
	ch   chan model.Order
	once sync.Once
}

// Hub рассылает снимки заказов подписчикам внутри процесса.
// Медленный подписчик теряет события, отправка никогда не блокирует издателя.
type Hub struct {
	mu     sync.RWMutex
	subs   map[Topic]map[*subscriber]struct{}
	buffer int
	logger *zap.Logger
}

// NewHub создаёт пустой хаб.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[Topic]map[*subscriber]struct{}),
		buffer: defaultBuffer,
		logger: logger,
	}
}

// Subscribe подписывает на топик. Возвращённую функцию отписки можно вызывать многократно.
func (h *Hub) Subscribe(topic Topic) (<-chan model.Order, func()) {
	s := &subscriber{ch: make(chan model.Order, h.buffer)}

	h.mu.Lock()
	set, ok := h.subs[topic]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[topic] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		s.once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()

			if set, ok := h.subs[topic]; ok {
				delete(set, s)
				if len(set) == 0 {
					delete(h.subs, topic)
				}
			}
			close(s.ch)
		})
	}
	return s.ch, unsubscribe
}

// Publish рассылает снимок заказа в топики заказа, заведения и покупателя.
func (h *Hub) Publish(o model.Order) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, topic := range []Topic{OrderTopic(o.ID), TenantTopic(o.TenantID), UserTopic(o.UserID)} {
		for s := range h.subs[topic] {
			select {
			case s.ch <- o:
			default:
				h.logger.Debug("dropping order event for slow subscriber",
					zap.String("topic", string(topic.Kind)), zap.String("order", o.Reference))
			}
		}
	}
}

// OrderChanged реализует уведомление об изменении заказа для одного процесса.
func (h *Hub) OrderChanged(_ context.Context, o model.Order) {
	h.Publish(o)
}

// Subscribers возвращает число подписчиков топика.
func (h *Hub) Subscribers(topic Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}
