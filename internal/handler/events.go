package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/digibite-marketplace/internal/model"
	"github.com/mmeshcher/digibite-marketplace/internal/notify"
)

var heartbeatInterval = 25 * time.Second

// OrderEvents транслирует изменения одного заказа в формате Server-Sent Events.
// Первым событием отправляется текущее состояние заказа.
func (h *Handler) OrderEvents(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	id, err := uuidParam(r, "orderID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// Подписка оформляется до чтения снимка, иначе изменение между ними потеряется.
	events, unsubscribe := h.opts.Events.Subscribe(notify.OrderTopic(id))
	defer unsubscribe()

	order, err := h.service.GetOrder(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.stream(w, r, events, order)
}

// UserEvents транслирует изменения всех заказов покупателя.
func (h *Handler) UserEvents(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	events, unsubscribe := h.opts.Events.Subscribe(notify.UserTopic(actor.UserID))
	defer unsubscribe()

	h.stream(w, r, events, nil)
}

// TenantEvents транслирует изменения заказов заведения продавца.
func (h *Handler) TenantEvents(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	tenantID, err := h.service.TenantOf(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	events, unsubscribe := h.opts.Events.Subscribe(notify.TenantTopic(tenantID))
	defer unsubscribe()

	h.stream(w, r, events, nil)
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request, events <-chan model.Order, snapshot *model.Order) {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("event stream keeps server write timeout", zap.Error(err))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(o *model.Order) error {
		data, err := json.Marshal(newOrderResponse(o))
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: order\ndata: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	if snapshot != nil {
		if err := send(snapshot); err != nil {
			return
		}
		if snapshot.Status.IsTerminal() {
			return
		}
	} else if err := rc.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case o, ok := <-events:
			if !ok {
				return
			}
			if err := send(&o); err != nil {
				h.logger.Debug("event stream closed", zap.Error(err))
				return
			}
			if snapshot != nil && o.Status.IsTerminal() {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
