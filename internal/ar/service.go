package ar

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/girderhq/girder/internal/directory"
	"github.com/girderhq/girder/internal/journal"
	"github.com/girderhq/girder/internal/money"
	"github.com/girderhq/girder/internal/posting"
	"github.com/girderhq/girder/internal/shared"
)

// AuditPort records AR mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts posting and receipt activity.
type MetricsPort interface {
	EntryPosted(source string)
	EntryVoided(source string)
	ReceiptRecorded()
}

// BalanceCachePort drops cached balance read models after a posting.
type BalanceCachePort interface {
	Invalidate(ctx context.Context, companyID int64)
}

// Service owns the AR subledger.
type Service struct {
	repo      Repository
	resolver  posting.MapResolver
	dir       directory.Directory
	audit     AuditPort
	metrics   MetricsPort
	balances  BalanceCachePort
	tolerance int64
	now       func() time.Time
}

// NewService constructs the AR service.
func NewService(repo Repository, resolver posting.MapResolver, dir directory.Directory, audit AuditPort, metrics MetricsPort, tolerance int64) *Service {
	return &Service{repo: repo, resolver: resolver, dir: dir, audit: audit, metrics: metrics, tolerance: tolerance, now: time.Now}
}

// WithNow overrides the clock, used in tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithBalanceCache attaches the cached trial-balance invalidator.
func (s *Service) WithBalanceCache(c BalanceCachePort) {
	s.balances = c
}

func (s *Service) invalidateBalances(ctx context.Context, companyID int64) {
	if s.balances != nil {
		s.balances.Invalidate(ctx, companyID)
	}
}

// InvoiceLineInput is one revenue distribution of a new invoice. AccountID
// may be zero to use the company's default revenue account.
type InvoiceLineInput struct {
	AccountID   int64
	Amount      int64
	JobID       *int64
	CostCode    *string
	Description string
}

// CreateInvoiceInput groups fields for a new client invoice.
type CreateInvoiceInput struct {
	CompanyID int64
	ClientID  int64
	Number    string
	Date      time.Time
	DueDate   time.Time
	Currency  string
	Amount    int64
	Memo      string
	Lines     []InvoiceLineInput
	ActorID   int64
}

// CreateInvoice records a draft invoice. The line total must match the
// header amount; a difference within the rounding tolerance is absorbed into
// the last line and audited.
func (s *Service) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (Invoice, error) {
	if in.CompanyID == 0 || in.ClientID == 0 {
		return Invoice{}, shared.Validationf("ar: company and client required")
	}
	if strings.TrimSpace(in.Number) == "" {
		return Invoice{}, shared.Validationf("ar: invoice number required")
	}
	if in.Date.IsZero() || in.DueDate.IsZero() {
		return Invoice{}, shared.Validationf("ar: date and due date required")
	}
	if in.DueDate.Before(in.Date) {
		return Invoice{}, shared.Validationf("ar: due date before invoice date")
	}
	if !money.Valid(in.Currency) {
		return Invoice{}, shared.Validationf("ar: unknown currency %q", in.Currency)
	}
	if in.Amount <= 0 {
		return Invoice{}, shared.Validationf("ar: amount must be positive")
	}
	if len(in.Lines) == 0 {
		return Invoice{}, shared.Validationf("ar: at least one line required")
	}
	var sum int64
	for idx, line := range in.Lines {
		if line.Amount <= 0 {
			return Invoice{}, shared.Validationf("ar: line %d amount must be positive", idx)
		}
		sum += line.Amount
	}
	diff := in.Amount - sum
	if money.Abs(diff) > s.tolerance {
		return Invoice{}, shared.Validationf("ar: lines total %d does not match amount %d", sum, in.Amount)
	}
	ok, err := s.dir.ClientExists(ctx, in.CompanyID, in.ClientID)
	if err != nil {
		return Invoice{}, err
	}
	if !ok {
		return Invoice{}, shared.Referentialf("ar: client %d not found", in.ClientID)
	}

	lines := make([]InvoiceLine, 0, len(in.Lines))
	for _, l := range in.Lines {
		lines = append(lines, InvoiceLine{
			AccountID:   l.AccountID,
			Amount:      l.Amount,
			JobID:       l.JobID,
			CostCode:    l.CostCode,
			Description: l.Description,
		})
	}
	if diff != 0 {
		lines[len(lines)-1].Amount += diff
	}

	var created Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.InsertInvoice(ctx, Invoice{
			CompanyID:  in.CompanyID,
			ClientID:   in.ClientID,
			Number:     in.Number,
			Date:       in.Date,
			DueDate:    in.DueDate,
			Currency:   in.Currency,
			Amount:     in.Amount,
			BalanceDue: in.Amount,
			Status:     InvoiceDraft,
			Memo:       in.Memo,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertInvoiceLines(ctx, inv.ID, lines); err != nil {
			return err
		}
		inv.Lines = lines
		created = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordInvoice(ctx, in.ActorID, created, "ar.invoice.create", nil)
	if diff != 0 {
		s.recordInvoice(ctx, in.ActorID, created, "ar.invoice.rounding_adjusted", map[string]any{"adjustment_minor": diff})
	}
	return created, nil
}

// SubmitInvoice moves a draft to pending approval.
func (s *Service) SubmitInvoice(ctx context.Context, companyID, id, actorID int64) (Invoice, error) {
	var invoice Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, companyID, id)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceDraft {
			return shared.Statef("ar: only draft invoices can be submitted")
		}
		if err := tx.UpdateInvoiceStatus(ctx, id, InvoicePendingApproval, nil); err != nil {
			return err
		}
		inv.Status = InvoicePendingApproval
		invoice = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordInvoice(ctx, actorID, invoice, "ar.invoice.submit", nil)
	return invoice, nil
}

// ApproveInvoice posts a draft or pending invoice: debit AR control for the
// total, credit each revenue distribution, in the same transaction that flips
// the status.
func (s *Service) ApproveInvoice(ctx context.Context, companyID, id, actorID int64) (Invoice, error) {
	m, err := s.resolver.Resolve(ctx, companyID)
	if err != nil {
		return Invoice{}, err
	}
	var invoice Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, companyID, id)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceDraft && inv.Status != InvoicePendingApproval {
			return shared.Statef("ar: only draft or pending invoices can be approved")
		}
		dists := make([]posting.Distribution, 0, len(inv.Lines))
		for _, line := range inv.Lines {
			dists = append(dists, posting.Distribution{
				AccountID: line.AccountID,
				Amount:    line.Amount,
				JobID:     line.JobID,
				CostCode:  line.CostCode,
			})
		}
		lines, err := posting.InvoiceLines(m, inv.ClientID, dists, inv.Amount)
		if err != nil {
			return err
		}
		entry, err := journal.CreatePostedTx(ctx, tx.Journal(), journal.CreateInput{
			CompanyID: companyID,
			Date:      inv.Date,
			Reference: inv.Number,
			Memo:      fmt.Sprintf("AR invoice %s", inv.Number),
			Currency:  inv.Currency,
			Source:    journal.ARInvoiceSource(inv.ID),
			CreatedBy: actorID,
			Lines:     lines,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateInvoiceStatus(ctx, id, InvoiceApproved, &entry.ID); err != nil {
			return err
		}
		inv.Status = InvoiceApproved
		inv.EntryID = &entry.ID
		invoice = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordInvoice(ctx, actorID, invoice, "ar.invoice.approve", map[string]any{"entry_id": *invoice.EntryID})
	s.invalidateBalances(ctx, companyID)
	if s.metrics != nil {
		s.metrics.EntryPosted(string(journal.SourceARInvoice))
	}
	return invoice, nil
}

// VoidInvoice voids an invoice before any receipt touches it. Approved and
// overdue invoices get their posting reversed.
func (s *Service) VoidInvoice(ctx context.Context, companyID, id, actorID int64, reason string) (Invoice, error) {
	var invoice Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, companyID, id)
		if err != nil {
			return err
		}
		if inv.Status == InvoiceVoided {
			return shared.Conflictf("ar: invoice already voided")
		}
		if inv.BalanceDue != inv.Amount {
			return shared.Conflictf("ar: invoice has receipts applied, void the receipts first")
		}
		if inv.EntryID != nil {
			if _, _, err := journal.VoidTx(ctx, tx.Journal(), journal.VoidInput{
				CompanyID: companyID,
				EntryID:   *inv.EntryID,
				ActorID:   actorID,
				Reason:    reason,
			}, s.now()); err != nil {
				return err
			}
		}
		if err := tx.UpdateInvoiceStatus(ctx, id, InvoiceVoided, nil); err != nil {
			return err
		}
		inv.Status = InvoiceVoided
		invoice = inv
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordInvoice(ctx, actorID, invoice, "ar.invoice.void", map[string]any{"reason": reason})
	if invoice.EntryID != nil {
		s.invalidateBalances(ctx, companyID)
		if s.metrics != nil {
			s.metrics.EntryVoided(string(journal.SourceARInvoice))
		}
	}
	return invoice, nil
}

// ApplicationInput allocates part of a receipt to one invoice.
type ApplicationInput struct {
	InvoiceID int64
	Amount    int64
}

// RecordReceiptInput groups fields for a new client receipt.
type RecordReceiptInput struct {
	CompanyID      int64
	ClientID       int64
	Date           time.Time
	Currency       string
	Amount         int64
	Method         string
	Reference      string
	IdempotencyKey uuid.UUID
	Applications   []ApplicationInput
	ActorID        int64
}

// RecordReceipt records a client receipt and applies it across open
// invoices, posting debit cash / credit AR control for the applied total.
// Overdue invoices remain payable. A replayed idempotency key returns the
// original receipt unchanged.
func (s *Service) RecordReceipt(ctx context.Context, in RecordReceiptInput) (Receipt, error) {
	if in.CompanyID == 0 || in.ClientID == 0 {
		return Receipt{}, shared.Validationf("ar: company and client required")
	}
	if in.Date.IsZero() {
		return Receipt{}, shared.Validationf("ar: receipt date required")
	}
	if !money.Valid(in.Currency) {
		return Receipt{}, shared.Validationf("ar: unknown currency %q", in.Currency)
	}
	if in.Amount <= 0 {
		return Receipt{}, shared.Validationf("ar: amount must be positive")
	}
	if len(in.Applications) == 0 {
		return Receipt{}, shared.Validationf("ar: at least one application required")
	}
	seen := make(map[int64]bool, len(in.Applications))
	var applied int64
	for idx, app := range in.Applications {
		if app.InvoiceID == 0 {
			return Receipt{}, shared.Validationf("ar: application %d missing invoice", idx)
		}
		if app.Amount <= 0 {
			return Receipt{}, shared.Validationf("ar: application %d amount must be positive", idx)
		}
		if seen[app.InvoiceID] {
			return Receipt{}, shared.Validationf("ar: invoice %d applied twice", app.InvoiceID)
		}
		seen[app.InvoiceID] = true
		applied += app.Amount
	}
	if applied > in.Amount {
		return Receipt{}, shared.Validationf("ar: applications total %d exceeds receipt amount %d", applied, in.Amount)
	}
	if in.IdempotencyKey != uuid.Nil {
		existing, err := s.repo.GetReceiptByIdempotencyKey(ctx, in.CompanyID, in.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if shared.KindOf(err) != shared.KindNotFound {
			return Receipt{}, err
		}
	}
	ok, err := s.dir.ClientExists(ctx, in.CompanyID, in.ClientID)
	if err != nil {
		return Receipt{}, err
	}
	if !ok {
		return Receipt{}, shared.Referentialf("ar: client %d not found", in.ClientID)
	}
	m, err := s.resolver.Resolve(ctx, in.CompanyID)
	if err != nil {
		return Receipt{}, err
	}

	// Invoices are locked in ascending id order.
	apps := make([]ApplicationInput, len(in.Applications))
	copy(apps, in.Applications)
	sort.Slice(apps, func(i, j int) bool { return apps[i].InvoiceID < apps[j].InvoiceID })

	var receipt Receipt
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		type update struct {
			invoiceID int64
			delta     int64
			status    InvoiceStatus
		}
		updates := make([]update, 0, len(apps))
		for _, app := range apps {
			inv, err := tx.GetInvoiceForUpdate(ctx, in.CompanyID, app.InvoiceID)
			if err != nil {
				return err
			}
			if inv.ClientID != in.ClientID {
				return shared.Validationf("ar: invoice %d belongs to another client", inv.ID)
			}
			if inv.Currency != in.Currency {
				return shared.Validationf("ar: invoice %d currency %s does not match receipt", inv.ID, inv.Currency)
			}
			if inv.Status != InvoiceApproved && inv.Status != InvoicePartiallyPaid && inv.Status != InvoiceOverdue {
				return shared.Statef("ar: invoice %d is not open for payment", inv.ID)
			}
			if app.Amount > inv.BalanceDue {
				return shared.Conflictf("ar: application %d exceeds invoice %d balance due %d", app.Amount, inv.ID, inv.BalanceDue)
			}
			status := s.openStatus(inv.DueDate)
			if inv.BalanceDue-app.Amount == 0 {
				status = InvoicePaid
			}
			updates = append(updates, update{invoiceID: inv.ID, delta: -app.Amount, status: status})
		}
		rc, err := tx.InsertReceipt(ctx, Receipt{
			CompanyID:      in.CompanyID,
			ClientID:       in.ClientID,
			Date:           in.Date,
			Currency:       in.Currency,
			Amount:         in.Amount,
			Applied:        applied,
			Method:         in.Method,
			Reference:      in.Reference,
			Status:         ReceiptPending,
			IdempotencyKey: in.IdempotencyKey,
		})
		if err != nil {
			return err
		}
		records := make([]Application, 0, len(apps))
		for _, app := range apps {
			records = append(records, Application{ReceiptID: rc.ID, InvoiceID: app.InvoiceID, Amount: app.Amount})
		}
		if err := tx.InsertApplications(ctx, rc.ID, records); err != nil {
			return err
		}
		for _, u := range updates {
			if err := tx.AdjustInvoiceBalance(ctx, u.invoiceID, u.delta, u.status); err != nil {
				return err
			}
		}
		lines, err := posting.ReceiptLines(m, in.ClientID, applied)
		if err != nil {
			return err
		}
		entry, err := journal.CreatePostedTx(ctx, tx.Journal(), journal.CreateInput{
			CompanyID: in.CompanyID,
			Date:      in.Date,
			Reference: in.Reference,
			Memo:      fmt.Sprintf("AR receipt from client %d", in.ClientID),
			Currency:  in.Currency,
			Source:    journal.ARReceiptSource(rc.ID),
			CreatedBy: in.ActorID,
			Lines:     lines,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateReceiptStatus(ctx, rc.ID, ReceiptPending, &entry.ID); err != nil {
			return err
		}
		rc.EntryID = &entry.ID
		rc.Applications = records
		receipt = rc
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	s.recordReceipt(ctx, in.ActorID, receipt, "ar.receipt.record", map[string]any{"applied_minor": applied})
	s.invalidateBalances(ctx, in.CompanyID)
	if s.metrics != nil {
		s.metrics.ReceiptRecorded()
		s.metrics.EntryPosted(string(journal.SourceARReceipt))
	}
	return receipt, nil
}

// ClearReceipt marks a pending receipt cleared by the bank. The posting is
// untouched; clearing only advances the status.
func (s *Service) ClearReceipt(ctx context.Context, companyID, id, actorID int64) (Receipt, error) {
	var receipt Receipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rc, err := tx.GetReceiptForUpdate(ctx, companyID, id)
		if err != nil {
			return err
		}
		if rc.Status != ReceiptPending {
			return shared.Statef("ar: only pending receipts can be cleared")
		}
		if err := tx.UpdateReceiptStatus(ctx, rc.ID, ReceiptCleared, nil); err != nil {
			return err
		}
		rc.Status = ReceiptCleared
		receipt = rc
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	s.recordReceipt(ctx, actorID, receipt, "ar.receipt.clear", nil)
	return receipt, nil
}

// VoidReceipt reverses a receipt: its posting is reversed and every applied
// invoice gets its balance due restored.
func (s *Service) VoidReceipt(ctx context.Context, companyID, id, actorID int64, reason string) (Receipt, error) {
	var receipt Receipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rc, err := tx.GetReceiptForUpdate(ctx, companyID, id)
		if err != nil {
			return err
		}
		if rc.Status == ReceiptVoided {
			return shared.Conflictf("ar: receipt already voided")
		}
		apps, err := tx.GetApplications(ctx, rc.ID)
		if err != nil {
			return err
		}
		sort.Slice(apps, func(i, j int) bool { return apps[i].InvoiceID < apps[j].InvoiceID })
		for _, app := range apps {
			inv, err := tx.GetInvoiceForUpdate(ctx, companyID, app.InvoiceID)
			if err != nil {
				return err
			}
			status := InvoicePartiallyPaid
			if inv.BalanceDue+app.Amount == inv.Amount {
				status = InvoiceApproved
			}
			if inv.DueDate.Before(s.now()) {
				status = InvoiceOverdue
			}
			if err := tx.AdjustInvoiceBalance(ctx, inv.ID, app.Amount, status); err != nil {
				return err
			}
		}
		if rc.EntryID != nil {
			if _, _, err := journal.VoidTx(ctx, tx.Journal(), journal.VoidInput{
				CompanyID: companyID,
				EntryID:   *rc.EntryID,
				ActorID:   actorID,
				Reason:    reason,
			}, s.now()); err != nil {
				return err
			}
		}
		if err := tx.UpdateReceiptStatus(ctx, rc.ID, ReceiptVoided, nil); err != nil {
			return err
		}
		rc.Status = ReceiptVoided
		rc.Applications = apps
		receipt = rc
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	s.recordReceipt(ctx, actorID, receipt, "ar.receipt.void", map[string]any{"reason": reason})
	s.invalidateBalances(ctx, companyID)
	if s.metrics != nil {
		s.metrics.EntryVoided(string(journal.SourceARReceipt))
	}
	return receipt, nil
}

// MarkOverdue flips open invoices past their due date to overdue. Run
// periodically by the worker.
func (s *Service) MarkOverdue(ctx context.Context) (int64, error) {
	return s.repo.MarkOverdue(ctx, s.now())
}

// GetInvoice returns one invoice with its lines.
func (s *Service) GetInvoice(ctx context.Context, companyID, id int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, companyID, id)
}

// ListInvoices returns invoices matching the filter, newest first.
func (s *Service) ListInvoices(ctx context.Context, companyID int64, filter InvoiceFilter) ([]Invoice, error) {
	return s.repo.ListInvoices(ctx, companyID, filter)
}

// GetReceipt returns one receipt with its applications.
func (s *Service) GetReceipt(ctx context.Context, companyID, id int64) (Receipt, error) {
	return s.repo.GetReceipt(ctx, companyID, id)
}

// ListReceipts returns receipts, optionally scoped to a client.
func (s *Service) ListReceipts(ctx context.Context, companyID, clientID int64, limit, offset int) ([]Receipt, error) {
	return s.repo.ListReceipts(ctx, companyID, clientID, limit, offset)
}

// Aging buckets open balances by days past due.
func (s *Service) Aging(ctx context.Context, companyID int64, asOf time.Time) ([]AgingRow, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	return s.repo.Aging(ctx, companyID, asOf)
}

// openStatus picks the open status for an invoice carrying a balance:
// overdue past the due date, partially paid otherwise.
func (s *Service) openStatus(dueDate time.Time) InvoiceStatus {
	if dueDate.Before(s.now()) {
		return InvoiceOverdue
	}
	return InvoicePartiallyPaid
}

func (s *Service) recordInvoice(ctx context.Context, actorID int64, inv Invoice, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = inv.Number
	meta["client_id"] = inv.ClientID
	meta["amount"] = money.Format(inv.Currency, inv.Amount)
	_ = s.audit.Record(ctx, shared.AuditLog{
		CompanyID: inv.CompanyID,
		ActorID:   actorID,
		Action:    action,
		Entity:    "ar_invoice",
		EntityID:  fmt.Sprintf("%d", inv.ID),
		Meta:      meta,
		At:        s.now(),
	})
}

func (s *Service) recordReceipt(ctx context.Context, actorID int64, rc Receipt, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["client_id"] = rc.ClientID
	meta["amount"] = money.Format(rc.Currency, rc.Amount)
	_ = s.audit.Record(ctx, shared.AuditLog{
		CompanyID: rc.CompanyID,
		ActorID:   actorID,
		Action:    action,
		Entity:    "ar_receipt",
		EntityID:  fmt.Sprintf("%d", rc.ID),
		Meta:      meta,
		At:        s.now(),
	})
}
