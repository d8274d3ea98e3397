package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// WithdrawalStatus описывает статус заявки на вывод средств.
type WithdrawalStatus string

const (
	WithdrawalStatusPending  WithdrawalStatus = "pending"
	WithdrawalStatusApproved WithdrawalStatus = "approved"
	WithdrawalStatusRejected WithdrawalStatus = "rejected"
)

// BankAccount содержит реквизиты для перевода.
type BankAccount struct {
	BankName      string
	AccountNumber string
	AccountHolder string
}

// Complete сообщает, заполнены ли все реквизиты.
func (b BankAccount) Complete() bool {
	return strings.TrimSpace(b.BankName) != "" &&
		strings.TrimSpace(b.AccountNumber) != "" &&
		strings.TrimSpace(b.AccountHolder) != ""
}

// Withdrawal описывает заявку продавца на вывод средств.
type Withdrawal struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Amount      int64
	Bank        BankAccount
	Notes       string
	AdminNotes  *string
	Status      WithdrawalStatus
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// Resolve завершает заявку. Повторная обработка запрещена.
func (w *Withdrawal) Resolve(status WithdrawalStatus, adminNotes string, now time.Time) error {
	if w.Status != WithdrawalStatusPending {
		return ErrWithdrawalProcessed
	}
	w.Status = status
	if adminNotes != "" {
		w.AdminNotes = &adminNotes
	}
	w.ProcessedAt = &now
	return nil
}

// WithdrawalCounts содержит количество заявок по статусам.
type WithdrawalCounts struct {
	Pending       int   `json:"pending"`
	PendingAmount int64 `json:"pending_amount"`
	Approved      int   `json:"approved"`
	Rejected      int   `json:"rejected"`
}
