// Package ar implements the accounts receivable subledger: client invoices,
// their approval posting, receipts applied against open invoices, and the
// overdue sweep.
package ar

import (
	"time"

	"github.com/google/uuid"
)

// InvoiceStatus enumerates the invoice lifecycle. The overdue status is set
// by a periodic sweep; overdue invoices remain payable.
type InvoiceStatus string

const (
	InvoiceDraft           InvoiceStatus = "draft"
	InvoicePendingApproval InvoiceStatus = "pending_approval"
	InvoiceApproved        InvoiceStatus = "approved"
	InvoicePartiallyPaid   InvoiceStatus = "partially_paid"
	InvoicePaid            InvoiceStatus = "paid"
	InvoiceOverdue         InvoiceStatus = "overdue"
	InvoiceVoided          InvoiceStatus = "voided"
)

// ReceiptStatus starts pending; receipts post on creation and are marked
// cleared once the bank confirms them.
type ReceiptStatus string

const (
	ReceiptPending ReceiptStatus = "pending"
	ReceiptCleared ReceiptStatus = "cleared"
	ReceiptVoided  ReceiptStatus = "voided"
)

// Invoice is money owed by a client. Amounts are minor units; BalanceDue
// tracks what remains after receipt applications.
type Invoice struct {
	ID         int64
	CompanyID  int64
	ClientID   int64
	Number     string
	Date       time.Time
	DueDate    time.Time
	Currency   string
	Amount     int64
	BalanceDue int64
	Status     InvoiceStatus
	Memo       string
	// EntryID links the journal entry created at approval.
	EntryID   *int64
	Lines     []InvoiceLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InvoiceLine is one revenue distribution of an invoice. A zero AccountID
// falls back to the company's default revenue account at posting.
type InvoiceLine struct {
	ID          int64
	InvoiceID   int64
	AccountID   int64
	Amount      int64
	JobID       *int64
	CostCode    *string
	Description string
}

// Receipt is money received from a client, applied across invoices.
type Receipt struct {
	ID             int64
	CompanyID      int64
	ClientID       int64
	Date           time.Time
	Currency       string
	Amount         int64
	Applied        int64
	Method         string
	Reference      string
	Status         ReceiptStatus
	EntryID        *int64
	IdempotencyKey uuid.UUID
	Applications   []Application
	CreatedAt      time.Time
}

// Application allocates part of a receipt to one invoice.
type Application struct {
	ID        int64
	ReceiptID int64
	InvoiceID int64
	Amount    int64
}

// AgingRow buckets one client's open balances by days past due.
type AgingRow struct {
	ClientID int64
	Current  int64
	Days30   int64
	Days60   int64
	Days90   int64
	Over90   int64
	Total    int64
}
