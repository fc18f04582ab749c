// Package ap implements the accounts payable subledger: vendor bills, their
// approval posting, and payments applied against open bills.
package ap

import (
	"time"

	"github.com/google/uuid"
)

// BillStatus enumerates the bill lifecycle. Approval posts the bill to the
// general ledger; payment application drives the paid transitions.
type BillStatus string

const (
	BillDraft           BillStatus = "draft"
	BillPendingApproval BillStatus = "pending_approval"
	BillApproved        BillStatus = "approved"
	BillPartiallyPaid   BillStatus = "partially_paid"
	BillPaid            BillStatus = "paid"
	BillVoided          BillStatus = "voided"
)

// PaymentStatus starts pending; payments post on creation and are marked
// cleared once the bank confirms them.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentCleared PaymentStatus = "cleared"
	PaymentVoided  PaymentStatus = "voided"
)

// Bill is a vendor invoice owed by the company. Amounts are minor units;
// BalanceDue tracks what remains after payment applications.
type Bill struct {
	ID         int64
	CompanyID  int64
	VendorID   int64
	Number     string
	Date       time.Time
	DueDate    time.Time
	Currency   string
	Amount     int64
	BalanceDue int64
	Status     BillStatus
	Memo       string
	// EntryID links the journal entry created at approval.
	EntryID   *int64
	Lines     []BillLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BillLine is one cost distribution of a bill.
type BillLine struct {
	ID          int64
	BillID      int64
	AccountID   int64
	Amount      int64
	JobID       *int64
	CostCode    *string
	Description string
}

// Payment is money sent to a vendor, applied across one or more bills.
type Payment struct {
	ID             int64
	CompanyID      int64
	VendorID       int64
	Date           time.Time
	Currency       string
	Amount         int64
	Applied        int64
	Method         string
	Reference      string
	Status         PaymentStatus
	EntryID        *int64
	IdempotencyKey uuid.UUID
	Applications   []Application
	CreatedAt      time.Time
}

// Application allocates part of a payment to one bill.
type Application struct {
	ID        int64
	PaymentID int64
	BillID    int64
	Amount    int64
}

// AgingRow buckets one vendor's open balances by days past due.
type AgingRow struct {
	VendorID int64
	Current  int64
	Days30   int64
	Days60   int64
	Days90   int64
	Over90   int64
	Total    int64
}
