// Package gateway предоставляет клиент платёжного шлюза Midtrans.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrTransactionNotFound возвращается, если шлюз не знает транзакцию с указанным номером.
var ErrTransactionNotFound = errors.New("transaction not found")

// APIError описывает неуспешный ответ шлюза.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway responded %d: %s", e.StatusCode, e.Body)
}

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
type Client struct {
	snapURL   string
	apiURL    string
	serverKey string
	finishURL string
	http      *retryablehttp.Client
}

// Item описывает позицию платёжной сессии.
type Item struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

// Customer описывает покупателя в платёжной сессии.
type Customer struct {
	FirstName string `json:"first_name"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
}

// SessionRequest содержит данные для создания платёжной сессии.
type SessionRequest struct {
	OrderRef    string
	GrossAmount int64
	Items       []Item
	Customer    Customer
}

// Session описывает выданную шлюзом платёжную сессию.
type Session struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

type transactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type callbacks struct {
	Finish string `json:"finish,omitempty"`
}

type snapRequest struct {
	TransactionDetails transactionDetails `json:"transaction_details"`
	CustomerDetails    Customer           `json:"customer_details"`
	ItemDetails        []Item             `json:"item_details"`
	Callbacks          *callbacks         `json:"callbacks,omitempty"`
}

// NewClient создаёт клиент шлюза. Запросы статуса повторяются при временных ошибках,
// создание сессии не повторяется, чтобы не порождать вторую сессию.
func NewClient(snapURL, apiURL, serverKey, finishURL string, timeout time.Duration) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = timeout

	return &Client{
		snapURL:   normalizeBase(snapURL),
		apiURL:    normalizeBase(apiURL),
		serverKey: serverKey,
		finishURL: finishURL,
		http:      rc,
	}
}

func normalizeBase(base string) string {
	base = strings.TrimRight(base, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base
}

// ServerKey возвращает ключ сервера, которым подписываются уведомления.
func (c *Client) ServerKey() string {
	return c.serverKey
}

// CreateSession создаёт платёжную сессию Snap для заказа.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if c == nil || c.snapURL == "" {
		return nil, fmt.Errorf("gateway client not configured")
	}

	payload := snapRequest{
		TransactionDetails: transactionDetails{
			OrderID:     req.OrderRef,
			GrossAmount: req.GrossAmount,
		},
		CustomerDetails: req.Customer,
		ItemDetails:     ReconcileItems(req.Items, req.GrossAmount),
	}
	if c.finishURL != "" {
		payload.Callbacks = &callbacks{Finish: strings.TrimRight(c.finishURL, "/") + "/user/history"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.snapURL+"/snap/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, readAPIError(resp)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if session.Token == "" {
		return nil, fmt.Errorf("gateway returned empty session token")
	}

	return &session, nil
}

// TransactionStatus запрашивает текущий статус транзакции по номеру заказа.
func (c *Client) TransactionStatus(ctx context.Context, orderRef string) (*Notification, error) {
	if c == nil || c.apiURL == "" {
		return nil, fmt.Errorf("gateway client not configured")
	}

	endpoint := fmt.Sprintf("%s/v2/%s/status", c.apiURL, url.PathEscape(orderRef))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req.Request)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTransactionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}

	var n Notification
	if err := json.NewDecoder(resp.Body).Decode(&n); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	// Core API отвечает 200 и кладёт код ошибки в тело.
	if n.StatusCode == "404" {
		return nil, ErrTransactionNotFound
	}

	return &n, nil
}

func (c *Client) authorize(req *http.Request) {
	req.SetBasicAuth(c.serverKey, "")
	req.Header.Set("Accept", "application/json")
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// ReconcileItems дополняет позиции строкой сервисного сбора, если их сумма меньше суммы платежа.
// Шлюз отклоняет сессии, где сумма позиций не равна gross_amount.
func ReconcileItems(items []Item, grossAmount int64) []Item {
	var sum int64
	for _, it := range items {
		sum += it.Price * int64(it.Quantity)
	}

	res := make([]Item, len(items), len(items)+1)
	copy(res, items)

	if diff := grossAmount - sum; diff > 0 {
		res = append(res, Item{
			ID:       "SERVICE_FEE",
			Name:     "Biaya Layanan",
			Price:    diff,
			Quantity: 1,
		})
	}
	return res
}
