package journal

import (
	"strconv"
	"time"
)

// Status enumerates the journal entry lifecycle. Drafts are editable, posted
// entries are immutable and reflected in balances, voided entries stay in
// history with a linked reversal.
type Status string

const (
	StatusDraft  Status = "draft"
	StatusPosted Status = "posted"
	StatusVoided Status = "voided"
)

// SourceModule tags the subledger transaction an entry originates from.
type SourceModule string

const (
	SourceManual    SourceModule = "manual"
	SourceAPBill    SourceModule = "ap_bill"
	SourceAPPayment SourceModule = "ap_payment"
	SourceARInvoice SourceModule = "ar_invoice"
	SourceARReceipt SourceModule = "ar_receipt"
	SourcePayroll   SourceModule = "payroll"
)

// KnownSource reports whether m is a recognised source module.
func KnownSource(m SourceModule) bool {
	switch m {
	case SourceManual, SourceAPBill, SourceAPPayment, SourceARInvoice, SourceARReceipt, SourcePayroll:
		return true
	}
	return false
}

// Source identifies the originating transaction. The (module, ref) pair is
// unique across entries, which makes bridge postings exactly-once.
type Source struct {
	Module SourceModule
	Ref    string
}

// ManualSource tags a manually keyed entry; ref is the caller's opaque
// reference, typically an idempotency key.
func ManualSource(ref string) Source {
	return Source{Module: SourceManual, Ref: ref}
}

// APBillSource tags the approval posting of an AP bill.
func APBillSource(billID int64) Source {
	return Source{Module: SourceAPBill, Ref: strconv.FormatInt(billID, 10)}
}

// APPaymentSource tags the posting of an AP payment.
func APPaymentSource(paymentID int64) Source {
	return Source{Module: SourceAPPayment, Ref: strconv.FormatInt(paymentID, 10)}
}

// ARInvoiceSource tags the approval posting of an AR invoice.
func ARInvoiceSource(invoiceID int64) Source {
	return Source{Module: SourceARInvoice, Ref: strconv.FormatInt(invoiceID, 10)}
}

// ARReceiptSource tags the posting of an AR receipt.
func ARReceiptSource(receiptID int64) Source {
	return Source{Module: SourceARReceipt, Ref: strconv.FormatInt(receiptID, 10)}
}

// PayrollSource tags a payroll run posting.
func PayrollSource(runID int64) Source {
	return Source{Module: SourcePayroll, Ref: strconv.FormatInt(runID, 10)}
}

// ReversalSource derives the source of a reversal entry. It keeps the
// original module and keys off the reversed entry id, so an entry can only
// ever be reversed once.
func ReversalSource(original Source, originalEntryID int64) Source {
	return Source{Module: original.Module, Ref: "reversal:" + strconv.FormatInt(originalEntryID, 10)}
}

// Entry captures posting metadata and owns an ordered set of lines.
type Entry struct {
	ID         int64
	CompanyID  int64
	Date       time.Time
	Reference  string
	Memo       string
	Currency   string
	Source     Source
	Status     Status
	ReversalOf *int64
	ReversedBy *int64
	CreatedBy  int64
	PostedAt   *time.Time
	VoidedAt   *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Lines      []Line
}

// Line stores a debit or credit amount in minor units against an account,
// with optional job/cost-code/counterparty tags the ledger carries opaquely.
type Line struct {
	ID        int64
	EntryID   int64
	AccountID int64
	Debit     int64
	Credit    int64
	JobID     *int64
	CostCode  *string
	VendorID  *int64
	ClientID  *int64
	CreatedAt time.Time
}
