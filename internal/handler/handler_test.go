package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mmeshcher/digibite-marketplace/internal/gateway"
	"github.com/mmeshcher/digibite-marketplace/internal/middleware"
	"github.com/mmeshcher/digibite-marketplace/internal/model"
	"github.com/mmeshcher/digibite-marketplace/internal/notify"
	"github.com/mmeshcher/digibite-marketplace/internal/service"
	"github.com/mmeshcher/digibite-marketplace/internal/validation"
)

const testServerKey = "SB-Mid-server-test"

// stubService реализует только методы, нужные тестам. Остальные вызовы паникуют.
type stubService struct {
	Service

	checkoutReq  service.CheckoutRequest
	checkoutResp *service.CheckoutResult
	checkoutErr  error

	orderResp *model.Order
	orderErr  error

	pendingErr error

	mu         sync.Mutex
	applied    []service.ExternalStatus
	applyResp  *service.ApplyResult
	applyErr   error
	statsResp  *model.OrderStats
	resolved   []uuid.UUID
	resolveErr error
}

func (s *stubService) Checkout(_ context.Context, _ uuid.UUID, req service.CheckoutRequest) (*service.CheckoutResult, error) {
	s.checkoutReq = req
	return s.checkoutResp, s.checkoutErr
}

func (s *stubService) GetOrder(_ context.Context, _ service.Actor, _ uuid.UUID) (*model.Order, error) {
	return s.orderResp, s.orderErr
}

func (s *stubService) GetPendingOrder(_ context.Context, _, _ uuid.UUID) (*model.Order, error) {
	return s.orderResp, s.pendingErr
}

func (s *stubService) ApplyExternalStatus(_ context.Context, ext service.ExternalStatus) (*service.ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, ext)
	return s.applyResp, s.applyErr
}

func (s *stubService) SellerStats(_ context.Context, _ service.Actor) (*model.OrderStats, error) {
	return s.statsResp, nil
}

func (s *stubService) ApproveWithdrawal(_ context.Context, _ service.Actor, id uuid.UUID, notes string) (*model.Withdrawal, error) {
	s.resolved = append(s.resolved, id)
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	return &model.Withdrawal{ID: id, Status: model.WithdrawalStatusApproved, AdminNotes: &notes}, nil
}

func (s *stubService) appliedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applied)
}

type testEnv struct {
	h   *Handler
	hub *notify.Hub
	svc *stubService
}

func newTestHandler(t *testing.T, svc *stubService, strict bool) testEnv {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")
	hub := notify.NewHub(logger)

	h := NewHandler(svc, logger, auth, Options{
		ServerKey:        testServerKey,
		StrictSignatures: strict,
		Events:           hub,
	})
	return testEnv{h: h, hub: hub, svc: svc}
}

func (e testEnv) token(t *testing.T, role model.Role) string {
	t.Helper()
	token, err := e.h.authMiddleware.IssueToken(uuid.New(), role, time.Hour)
	require.NoError(t, err)
	return token
}

func (e testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.h.SetupRouter().ServeHTTP(rec, req)
	return rec
}

func sampleOrder(status model.OrderStatus) *model.Order {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &model.Order{
		ID:            uuid.New(),
		Reference:     "DIGIBITE-1772359200000-ABCDEFGHI",
		UserID:        uuid.New(),
		TenantID:      uuid.New(),
		Subtotal:      25000,
		ServiceFee:    1000,
		Total:         26000,
		Status:        status,
		PaymentMethod: model.PaymentMethodGateway,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestCheckout(t *testing.T) {
	order := sampleOrder(model.OrderStatusPending)
	tenantID := uuid.New()
	productID := uuid.New()
	validBody := map[string]any{
		"tenant_id": tenantID.String(),
		"items":     []map[string]any{{"product_id": productID.String(), "quantity": 2}},
	}

	tests := []struct {
		name       string
		svc        *stubService
		body       any
		wantStatus int
	}{
		{
			name:       "created",
			svc:        &stubService{checkoutResp: &service.CheckoutResult{Order: order}},
			body:       validBody,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "resumed",
			svc:        &stubService{checkoutResp: &service.CheckoutResult{Order: order, Resumed: true}},
			body:       validBody,
			wantStatus: http.StatusOK,
		},
		{
			name:       "invalid body",
			svc:        &stubService{},
			body:       map[string]any{"tenant_id": "nope", "items": []any{}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "product from another tenant",
			svc:        &stubService{checkoutErr: fmt.Errorf("item 0: %w", model.ErrProductNotInTenant)},
			body:       validBody,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "gateway unavailable",
			svc:        &stubService{checkoutErr: &gateway.APIError{StatusCode: 503, Body: "down"}},
			body:       validBody,
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestHandler(t, tt.svc, true)
			rec := env.do(t, http.MethodPost, "/api/checkout", env.token(t, model.RoleCustomer), tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestCheckout_DefaultsToGatewayAndReturnsOrder(t *testing.T) {
	order := sampleOrder(model.OrderStatusPending)
	svc := &stubService{checkoutResp: &service.CheckoutResult{Order: order, SessionPending: true}}
	env := newTestHandler(t, svc, true)

	rec := env.do(t, http.MethodPost, "/api/checkout", env.token(t, model.RoleCustomer), map[string]any{
		"tenant_id": uuid.NewString(),
		"items":     []map[string]any{{"product_id": uuid.NewString(), "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, model.PaymentMethodGateway, svc.checkoutReq.PaymentMethod)

	var resp checkoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, order.Reference, resp.Order.Reference)
	assert.True(t, resp.SessionPending)
	assert.Equal(t, "2026-03-01T10:00:00Z", resp.Order.CreatedAt)
}

func TestCheckout_PendingConflictCarriesOrder(t *testing.T) {
	existing := sampleOrder(model.OrderStatusPending)
	svc := &stubService{checkoutErr: &model.PendingOrderError{Order: existing}}
	env := newTestHandler(t, svc, true)

	rec := env.do(t, http.MethodPost, "/api/checkout", env.token(t, model.RoleCustomer), map[string]any{
		"tenant_id": existing.TenantID.String(),
		"items":     []map[string]any{{"product_id": uuid.NewString(), "quantity": 1}},
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Order)
	assert.Equal(t, existing.ID.String(), resp.Order.ID)
}

func TestCheckout_Unauthorized(t *testing.T) {
	env := newTestHandler(t, &stubService{}, true)
	rec := env.do(t, http.MethodPost, "/api/checkout", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetPendingOrder_NoContent(t *testing.T) {
	env := newTestHandler(t, &stubService{pendingErr: model.ErrOrderNotFound}, true)
	rec := env.do(t, http.MethodGet, "/api/orders/pending?tenant_id="+uuid.NewString(), env.token(t, model.RoleCustomer), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/orders/pending", env.token(t, model.RoleCustomer), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOrder_InvalidID(t *testing.T) {
	env := newTestHandler(t, &stubService{}, true)
	rec := env.do(t, http.MethodGet, "/api/orders/not-a-uuid", env.token(t, model.RoleCustomer), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func webhookBody(orderID, status, gross, key string) map[string]string {
	return map[string]string{
		"order_id":           orderID,
		"status_code":        "200",
		"gross_amount":       gross,
		"transaction_status": status,
		"fraud_status":       "accept",
		"payment_type":       "qris",
		"signature_key":      gateway.Signature(orderID, "200", gross, key),
	}
}

func TestPaymentWebhook(t *testing.T) {
	ref := "DIGIBITE-1772359200000-ABCDEFGHI"

	tests := []struct {
		name        string
		strict      bool
		body        any
		applyErr    error
		wantStatus  int
		wantApplied int
	}{
		{
			name:        "valid signature",
			strict:      true,
			body:        webhookBody(ref, "settlement", "26000.00", testServerKey),
			wantStatus:  http.StatusOK,
			wantApplied: 1,
		},
		{
			name:       "bad signature strict",
			strict:     true,
			body:       webhookBody(ref, "settlement", "26000.00", "wrong-key"),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:        "bad signature lenient",
			strict:      false,
			body:        webhookBody(ref, "settlement", "26000.00", "wrong-key"),
			wantStatus:  http.StatusOK,
			wantApplied: 1,
		},
		{
			name:        "unknown order acknowledged",
			strict:      true,
			body:        webhookBody(ref, "settlement", "26000.00", testServerKey),
			applyErr:    model.ErrOrderNotFound,
			wantStatus:  http.StatusOK,
			wantApplied: 1,
		},
		{
			name:        "internal error acknowledged",
			strict:      true,
			body:        webhookBody(ref, "settlement", "26000.00", testServerKey),
			applyErr:    errors.New("db down"),
			wantStatus:  http.StatusOK,
			wantApplied: 1,
		},
		{
			name:       "fractional amount acknowledged",
			strict:     true,
			body:       webhookBody(ref, "settlement", "26000.50", testServerKey),
			wantStatus: http.StatusOK,
		},
		{
			name:       "malformed",
			strict:     true,
			body:       "not an object",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{
				applyResp: &service.ApplyResult{Outcome: service.OutcomeApplied},
				applyErr:  tt.applyErr,
			}
			env := newTestHandler(t, svc, tt.strict)

			rec := env.do(t, http.MethodPost, "/api/webhooks/midtrans", "", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantApplied, svc.appliedCount())
		})
	}
}

func TestPaymentWebhook_PassesNormalizedStatus(t *testing.T) {
	svc := &stubService{applyResp: &service.ApplyResult{Outcome: service.OutcomeApplied}}
	env := newTestHandler(t, svc, true)

	ref := "DIGIBITE-1772359200000-ABCDEFGHI"
	rec := env.do(t, http.MethodPost, "/api/webhooks/midtrans", "", webhookBody(ref, "capture", "26000.00", testServerKey))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.applied, 1)

	got := svc.applied[0]
	assert.Equal(t, ref, got.Reference)
	assert.Equal(t, "capture", got.TransactionStatus)
	assert.Equal(t, "accept", got.FraudStatus)
	assert.Equal(t, int64(26000), got.GrossAmount)
	assert.Equal(t, "qris", got.PaymentType)
	assert.Equal(t, "webhook", got.Source)
}

func TestPaymentWebhook_RejectedWithoutServerKey(t *testing.T) {
	for _, strict := range []bool{true, false} {
		svc := &stubService{applyResp: &service.ApplyResult{Outcome: service.OutcomeApplied}}
		env := newTestHandler(t, svc, strict)
		env.h.opts.ServerKey = ""

		ref := "DIGIBITE-1772359200000-ABCDEFGHI"
		rec := env.do(t, http.MethodPost, "/api/webhooks/midtrans", "", webhookBody(ref, "settlement", "26000.00", ""))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "strict=%v", strict)
		assert.Zero(t, svc.appliedCount(), "strict=%v", strict)
	}
}

func TestRoleGroups(t *testing.T) {
	svc := &stubService{statsResp: &model.OrderStats{Pending: 1, Balance: 5000}}
	env := newTestHandler(t, svc, true)

	rec := env.do(t, http.MethodGet, "/api/seller/stats", env.token(t, model.RoleCustomer), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/seller/stats", env.token(t, model.RoleSeller), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats model.OrderStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(5000), stats.Balance)

	id := uuid.New()
	path := "/api/admin/withdrawals/" + id.String() + "/approve"
	rec = env.do(t, http.MethodPost, path, env.token(t, model.RoleSeller), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, path, env.token(t, model.RoleAdmin), map[string]string{"admin_notes": "transferred"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uuid.UUID{id}, svc.resolved)

	var wd withdrawalResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wd))
	assert.Equal(t, "approved", wd.Status)
	require.NotNil(t, wd.AdminNotes)
	assert.Equal(t, "transferred", *wd.AdminNotes)
}

func TestApproveWithdrawal_InsufficientBalance(t *testing.T) {
	env := newTestHandler(t, &stubService{resolveErr: model.ErrInsufficientBalance}, true)
	rec := env.do(t, http.MethodPost, "/api/admin/withdrawals/"+uuid.NewString()+"/approve", env.token(t, model.RoleAdmin), nil)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&validation.Error{Message: "validation failed"}, http.StatusBadRequest},
		{model.ErrBelowMinimum, http.StatusUnprocessableEntity},
		{model.ErrInsufficientBalance, http.StatusPaymentRequired},
		{fmt.Errorf("wrap: %w", model.ErrWithdrawalNotFound), http.StatusNotFound},
		{&model.TransitionError{From: model.OrderStatusCompleted, To: model.OrderStatusPaid}, http.StatusConflict},
		{model.ErrCartTenantSwitch, http.StatusConflict},
		{model.ErrForbidden, http.StatusForbidden},
		{context.DeadlineExceeded, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorStatus(tt.err), tt.err.Error())
	}
}

func TestOrderEvents_SnapshotThenUpdates(t *testing.T) {
	order := sampleOrder(model.OrderStatusPending)
	svc := &stubService{orderResp: order}
	env := newTestHandler(t, svc, true)

	srv := httptest.NewServer(env.h.SetupRouter())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/orders/"+order.ID.String()+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+env.token(t, model.RoleCustomer))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan orderResponse, 4)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var o orderResponse
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &o) == nil {
				events <- o
			}
		}
	}()

	first := <-events
	assert.Equal(t, "pending", first.Status)
	assert.Equal(t, 1, env.hub.Subscribers(notify.OrderTopic(order.ID)))

	paid := *order
	paid.Status = model.OrderStatusPaid
	env.hub.Publish(paid)

	select {
	case got := <-events:
		assert.Equal(t, "paid", got.Status)
	case <-ctx.Done():
		t.Fatal("no event after publish")
	}

	completed := paid
	completed.Status = model.OrderStatusCompleted
	env.hub.Publish(completed)

	select {
	case got := <-events:
		assert.Equal(t, "completed", got.Status)
	case <-ctx.Done():
		t.Fatal("no terminal event")
	}

	_, open := <-events
	assert.False(t, open, "stream must close after a terminal status")
}

func TestOrderEvents_ForbiddenReleasesSubscription(t *testing.T) {
	svc := &stubService{orderErr: model.ErrForbidden}
	env := newTestHandler(t, svc, true)
	id := uuid.New()

	rec := env.do(t, http.MethodGet, "/api/orders/"+id.String()+"/events", env.token(t, model.RoleCustomer), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, env.hub.Subscribers(notify.OrderTopic(id)))
}

func TestUserEvents_LogsUnsupportedWriteDeadline(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	hub := notify.NewHub(zap.NewNop())
	h := NewHandler(&stubService{}, zap.New(core), middleware.NewAuthMiddleware("test-secret"), Options{
		ServerKey: testServerKey,
		Events:    hub,
	})

	ctx, cancel := context.WithCancel(middleware.WithIdentity(context.Background(),
		middleware.Identity{UserID: uuid.New(), Role: model.RoleCustomer}))
	cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.UserEvents(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	entries := logs.FilterMessage("event stream keeps server write timeout").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
}
