package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/digibite-marketplace/internal/gateway"
	"github.com/mmeshcher/digibite-marketplace/internal/model"
	"github.com/mmeshcher/digibite-marketplace/internal/service"
)

const maxWebhookBytes = 64 << 10

type webhookResponse struct {
	Status string `json:"status"`
}

// PaymentWebhook принимает уведомления платёжного шлюза.
// Шлюз повторяет доставку при любом ответе кроме 2xx, поэтому уведомления, которые
// нельзя применить, подтверждаются и только логируются. Исключения: нечитаемое тело (400),
// неверная подпись в строгом режиме (401) и отсутствие ключа сервера (503).
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if h.opts.ServerKey == "" {
		// Без ключа подпись может вычислить кто угодно.
		h.opts.Metrics.Webhook("disabled")
		h.logger.Warn("gateway notification rejected: server key is not configured")
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	var n gateway.Notification
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBytes)).Decode(&n); err != nil || n.OrderID == "" {
		h.opts.Metrics.Webhook("malformed")
		h.logger.Warn("malformed gateway notification", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	log := h.logger.With(
		zap.String("order", n.OrderID),
		zap.String("transaction_status", n.TransactionStatus),
	)

	if !n.VerifySignature(h.opts.ServerKey) {
		h.opts.Metrics.Webhook("bad_signature")
		if h.opts.StrictSignatures {
			log.Warn("gateway notification rejected: signature mismatch")
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		log.Warn("gateway notification signature mismatch, processing anyway")
	}

	amount, err := n.Amount()
	if err != nil {
		h.opts.Metrics.Webhook("bad_amount")
		log.Error("gateway notification amount is invalid", zap.Error(err))
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ok"})
		return
	}

	res, err := h.service.ApplyExternalStatus(r.Context(), service.ExternalStatus{
		Reference:         n.OrderID,
		TransactionStatus: n.TransactionStatus,
		FraudStatus:       n.FraudStatus,
		GrossAmount:       amount,
		PaymentType:       n.PaymentType,
		Source:            "webhook",
	})
	switch {
	case errors.Is(err, model.ErrOrderNotFound):
		h.opts.Metrics.Webhook(string(service.OutcomeUnknownOrder))
	case err != nil:
		h.opts.Metrics.Webhook("error")
		log.Error("gateway notification not applied", zap.Error(err))
	default:
		h.opts.Metrics.Webhook(string(res.Outcome))
	}

	writeJSON(w, http.StatusOK, webhookResponse{Status: "ok"})
}
