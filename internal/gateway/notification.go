package gateway

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"
)

// Notification описывает уведомление шлюза о транзакции. Тот же формат возвращает запрос статуса.
type Notification struct {
	TransactionTime   string `json:"transaction_time"`
	TransactionStatus string `json:"transaction_status"`
	TransactionID     string `json:"transaction_id"`
	StatusMessage     string `json:"status_message"`
	StatusCode        string `json:"status_code"`
	SignatureKey      string `json:"signature_key"`
	SettlementTime    string `json:"settlement_time,omitempty"`
	PaymentType       string `json:"payment_type"`
	OrderID           string `json:"order_id"`
	MerchantID        string `json:"merchant_id"`
	GrossAmount       string `json:"gross_amount"`
	FraudStatus       string `json:"fraud_status"`
	Currency          string `json:"currency"`
}

// Amount возвращает сумму платежа в минимальных единицах валюты.
func (n *Notification) Amount() (int64, error) {
	d, err := decimal.NewFromString(n.GrossAmount)
	if err != nil {
		return 0, fmt.Errorf("parse gross amount %q: %w", n.GrossAmount, err)
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("gross amount %q has a fractional part", n.GrossAmount)
	}
	return d.IntPart(), nil
}

// Signature вычисляет подпись уведомления: SHA-512 от order_id + status_code + gross_amount + server key.
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// VerifySignature проверяет подпись уведомления.
func (n *Notification) VerifySignature(serverKey string) bool {
	expected := Signature(n.OrderID, n.StatusCode, n.GrossAmount, serverKey)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(n.SignatureKey)) == 1
}
