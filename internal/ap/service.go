package ap

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

// AuditPort records AP mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts posting and payment activity.
type MetricsPort interface {
	EntryPosted(source string)
	EntryVoided(source string)
	PaymentRecorded()
}

// BalanceCachePort drops cached balance read models after a posting.
type BalanceCachePort interface {
	Invalidate(ctx context.Context, companyID int64)
}

// Service owns the AP subledger.
type Service struct {
	repo     Repository
	resolver posting.MapResolver
	dir      directory.Directory
	audit    AuditPort
	metrics  MetricsPort
	balances BalanceCachePort
	// tolerance is the largest header-versus-lines difference, in minor
	// units, absorbed into the last line instead of rejected.
	tolerance int64
	now       func() time.Time
}

// NewService constructs the AP service.
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

// BillLineInput is one cost distribution of a new bill.
type BillLineInput struct {
	AccountID   int64
	Amount      int64
	JobID       *int64
	CostCode    *string
	Description string
}

// CreateBillInput groups fields for a new vendor bill.
type CreateBillInput struct {
	CompanyID int64
	VendorID  int64
	Number    string
	Date      time.Time
	DueDate   time.Time
	Currency  string
	Amount    int64
	Memo      string
	Lines     []BillLineInput
	ActorID   int64
}

// CreateBill records a draft bill. The line total must match the header
// amount; a difference within the rounding tolerance is absorbed into the
// last line and audited.
func (s *Service) CreateBill(ctx context.Context, in CreateBillInput) (Bill, error) {
	if in.CompanyID == 0 || in.VendorID == 0 {
		return Bill{}, shared.Validationf("ap: company and vendor required")
	}
	if strings.TrimSpace(in.Number) == "" {
		return Bill{}, shared.Validationf("ap: bill number required")
	}
	if in.Date.IsZero() || in.DueDate.IsZero() {
		return Bill{}, shared.Validationf("ap: date and due date required")
	}
	if in.DueDate.Before(in.Date) {
		return Bill{}, shared.Validationf("ap: due date before bill date")
	}
	if !money.Valid(in.Currency) {
		return Bill{}, shared.Validationf("ap: unknown currency %q", in.Currency)
	}
	if in.Amount <= 0 {
		return Bill{}, shared.Validationf("ap: amount must be positive")
	}
	if len(in.Lines) == 0 {
		return Bill{}, shared.Validationf("ap: at least one line required")
	}
	var sum int64
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return Bill{}, shared.Validationf("ap: line %d missing account", idx)
		}
		if line.Amount <= 0 {
			return Bill{}, shared.Validationf("ap: line %d amount must be positive", idx)
		}
		sum += line.Amount
	}
	diff := in.Amount - sum
	if money.Abs(diff) > s.tolerance {
		return Bill{}, shared.Validationf("ap: lines total %d does not match amount %d", sum, in.Amount)
	}
	ok, err := s.dir.VendorExists(ctx, in.CompanyID, in.VendorID)
	if err != nil {
		return Bill{}, err
	}
	if !ok {
		return Bill{}, shared.Referentialf("ap: vendor %d not found", in.VendorID)
	}

	lines := make([]BillLine, 0, len(in.Lines))
	for _, l := range in.Lines {
		lines = append(lines, BillLine{
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

	var created Bill
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.InsertBill(ctx, Bill{
			CompanyID:  in.CompanyID,
			VendorID:   in.VendorID,
			Number:     in.Number,
			Date:       in.Date,
			DueDate:    in.DueDate,
			Currency:   in.Currency,
			Amount:     in.Amount,
			BalanceDue: in.Amount,
			Status:     BillDraft,
			Memo:       in.Memo,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertBillLines(ctx, b.ID, lines); err != nil {
			return err
		}
		b.Lines = lines
		created = b
		return nil
	})
	if err != nil {
		return Bill{}, err
	}
	s.recordBill(ctx, in.ActorID, created, "ap.bill.create", nil)
	if diff != 0 {
		s.recordBill(ctx, in.ActorID, created, "ap.bill.rounding_adjusted", map[string]any{"adjustment_minor": diff})
	}
	return created, nil
}

// SubmitBill moves a draft to pending approval.
func (s *Service) SubmitBill(ctx context.Context, companyID, id, actorID int64) (Bill, error) {
	var bill Bill
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBillForUpdate(ctx, companyID, id)
		if err != nil {
			return err
		}
		if b.Status != BillDraft {
			return shared.Statef("ap: only draft bills can be submitted")
		}
		if err := tx.UpdateBillStatus(ctx, id, BillPendingApproval, nil); err != nil {
			return err
		}
		b.Status = BillPendingApproval
		bill = b
		return nil
	})
	if err != nil {
		return Bill{}, err
	}
	s.recordBill(ctx, actorID, bill, "ap.bill.submit", nil)
	return bill, nil
}

// ApproveBill posts a draft or pending bill to the ledger: each cost line is
// debited and the AP control account credited, in the same transaction that
// flips the status.
func (s *Service) ApproveBill(ctx context.Context, companyID, id, actorID int64) (Bill, error) {
	m, err := s.resolver.Resolve(ctx, companyID)
	if err != nil {
		return Bill{}, err
	}
	var bill Bill
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBillForUpdate(ctx, companyID, id)
		if err != nil {
			return err
		}
		if b.Status != BillDraft && b.Status != BillPendingApproval {
			return shared.Statef("ap: only draft or pending bills can be approved")
		}
		dists := make([]posting.Distribution, 0, len(b.Lines))
		for _, line := range b.Lines {
			dists = append(dists, posting.Distribution{
				AccountID: line.AccountID,
				Amount:    line.Amount,
				JobID:     line.JobID,
				CostCode:  line.CostCode,
			})
		}
		lines, err := posting.BillLines(m, b.VendorID, dists, b.Amount)
		if err != nil {
			return err
		}
		entry, err := journal.CreatePostedTx(ctx, tx.Journal(), journal.CreateInput{
			CompanyID: companyID,
			Date:      b.Date,
			Reference: b.Number,
			Memo:      fmt.Sprintf("AP bill %s", b.Number),
			Currency:  b.Currency,
			Source:    journal.APBillSource(b.ID),
			CreatedBy: actorID,
			Lines:     lines,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateBillStatus(ctx, id, BillApproved, &entry.ID); err != nil {
			return err
		}
		b.Status = BillApproved
		b.EntryID = &entry.ID
		bill = b
		return nil
	})
	if err != nil {
		return Bill{}, err
	}
	s.recordBill(ctx, actorID, bill, "ap.bill.approve", map[string]any{"entry_id": *bill.EntryID})
	s.invalidateBalances(ctx, companyID)
	if s.metrics != nil {
		s.metrics.EntryPosted(string(journal.SourceAPBill))
	}
	return bill, nil
}

// VoidBill voids a bill before any payment touches it. Approved bills get
// their posting reversed; drafts and pending bills just flip status.
func (s *Service) VoidBill(ctx context.Context, companyID, id, actorID int64, reason string) (Bill, error) {
	var bill Bill
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBillForUpdate(ctx, companyID, id)
		if err != nil {
			return err
		}
		if b.Status == BillVoided {
			return shared.Conflictf("ap: bill already voided")
		}
		if b.BalanceDue != b.Amount {
			return shared.Conflictf("ap: bill has payments applied, void the payments first")
		}
		if b.EntryID != nil {
			if _, _, err := journal.VoidTx(ctx, tx.Journal(), journal.VoidInput{
				CompanyID: companyID,
				EntryID:   *b.EntryID,
				ActorID:   actorID,
				Reason:    reason,
			}, s.now()); err != nil {
				return err
			}
		}
		if err := tx.UpdateBillStatus(ctx, id, BillVoided, nil); err != nil {
			return err
		}
		b.Status = BillVoided
		bill = b
		return nil
	})
	if err != nil {
		return Bill{}, err
	}
	s.recordBill(ctx, actorID, bill, "ap.bill.void", map[string]any{"reason": reason})
	if bill.EntryID != nil {
		s.invalidateBalances(ctx, companyID)
		if s.metrics != nil {
			s.metrics.EntryVoided(string(journal.SourceAPBill))
		}
	}
	return bill, nil
}

// ApplicationInput allocates part of a payment to one bill.
type ApplicationInput struct {
	BillID int64
	Amount int64
}

// RecordPaymentInput groups fields for a new vendor payment.
type RecordPaymentInput struct {
	CompanyID      int64
	VendorID       int64
	Date           time.Time
	Currency       string
	Amount         int64
	Method         string
	Reference      string
	IdempotencyKey uuid.UUID
	Applications   []ApplicationInput
	ActorID        int64
}

// RecordPayment records a vendor payment and applies it across open bills,
// posting debit AP control / credit cash for the applied total. A replayed
// idempotency key returns the original payment unchanged.
func (s *Service) RecordPayment(ctx context.Context, in RecordPaymentInput) (Payment, error) {
	if in.CompanyID == 0 || in.VendorID == 0 {
		return Payment{}, shared.Validationf("ap: company and vendor required")
	}
	if in.Date.IsZero() {
		return Payment{}, shared.Validationf("ap: payment date required")
	}
	if !money.Valid(in.Currency) {
		return Payment{}, shared.Validationf("ap: unknown currency %q", in.Currency)
	}
	if in.Amount <= 0 {
		return Payment{}, shared.Validationf("ap: amount must be positive")
	}
	if len(in.Applications) == 0 {
		return Payment{}, shared.Validationf("ap: at least one application required")
	}
	seen := make(map[int64]bool, len(in.Applications))
	var applied int64
	for idx, app := range in.Applications {
		if app.BillID == 0 {
			return Payment{}, shared.Validationf("ap: application %d missing bill", idx)
		}
		if app.Amount <= 0 {
			return Payment{}, shared.Validationf("ap: application %d amount must be positive", idx)
		}
		if seen[app.BillID] {
			return Payment{}, shared.Validationf("ap: bill %d applied twice", app.BillID)
		}
		seen[app.BillID] = true
		applied += app.Amount
	}
	if applied > in.Amount {
		return Payment{}, shared.Validationf("ap: applications total %d exceeds payment amount %d", applied, in.Amount)
	}
	if in.IdempotencyKey != uuid.Nil {
		existing, err := s.repo.GetPaymentByIdempotencyKey(ctx, in.CompanyID, in.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if shared.KindOf(err) != shared.KindNotFound {
			return Payment{}, err
		}
	}
	ok, err := s.dir.VendorExists(ctx, in.CompanyID, in.VendorID)
	if err != nil {
		return Payment{}, err
	}
	if !ok {
		return Payment{}, shared.Referentialf("ap: vendor %d not found", in.VendorID)
	}
	m, err := s.resolver.Resolve(ctx, in.CompanyID)
	if err != nil {
		return Payment{}, err
	}

	// Bills are locked in ascending id order.
	apps := make([]ApplicationInput, len(in.Applications))
	copy(apps, in.Applications)
	sort.Slice(apps, func(i, j int) bool { return apps[i].BillID < apps[j].BillID })

	var payment Payment
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		type update struct {
			billID int64
			delta  int64
			status BillStatus
		}
		updates := make([]update, 0, len(apps))
		for _, app := range apps {
			b, err := tx.GetBillForUpdate(ctx, in.CompanyID, app.BillID)
			if err != nil {
				return err
			}
			if b.VendorID != in.VendorID {
				return shared.Validationf("ap: bill %d belongs to another vendor", b.ID)
			}
			if b.Currency != in.Currency {
				return shared.Validationf("ap: bill %d currency %s does not match payment", b.ID, b.Currency)
			}
			if b.Status != BillApproved && b.Status != BillPartiallyPaid {
				return shared.Statef("ap: bill %d is not open for payment", b.ID)
			}
			if app.Amount > b.BalanceDue {
				return shared.Conflictf("ap: application %d exceeds bill %d balance due %d", app.Amount, b.ID, b.BalanceDue)
			}
			status := BillPartiallyPaid
			if b.BalanceDue-app.Amount == 0 {
				status = BillPaid
			}
			updates = append(updates, update{billID: b.ID, delta: -app.Amount, status: status})
		}
		p, err := tx.InsertPayment(ctx, Payment{
			CompanyID:      in.CompanyID,
			VendorID:       in.VendorID,
			Date:           in.Date,
			Currency:       in.Currency,
			Amount:         in.Amount,
			Applied:        applied,
			Method:         in.Method,
			Reference:      in.Reference,
			Status:         PaymentPending,
			IdempotencyKey: in.IdempotencyKey,
		})
		if err != nil {
			return err
		}
		records := make([]Application, 0, len(apps))
		for _, app := range apps {
			records = append(records, Application{PaymentID: p.ID, BillID: app.BillID, Amount: app.Amount})
		}
		if err := tx.InsertApplications(ctx, p.ID, records); err != nil {
			return err
		}
		for _, u := range updates {
			if err := tx.AdjustBillBalance(ctx, u.billID, u.delta, u.status); err != nil {
				return err
			}
		}
		lines, err := posting.PaymentLines(m, in.VendorID, applied)
		if err != nil {
			return err
		}
		entry, err := journal.CreatePostedTx(ctx, tx.Journal(), journal.CreateInput{
			CompanyID: in.CompanyID,
			Date:      in.Date,
			Reference: in.Reference,
			Memo:      fmt.Sprintf("AP payment to vendor %d", in.VendorID),
			Currency:  in.Currency,
			Source:    journal.APPaymentSource(p.ID),
			CreatedBy: in.ActorID,
			Lines:     lines,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdatePaymentStatus(ctx, p.ID, PaymentPending, &entry.ID); err != nil {
			return err
		}
		p.EntryID = &entry.ID
		p.Applications = records
		payment = p
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	s.recordPayment(ctx, in.ActorID, payment, "ap.payment.record", map[string]any{"applied_minor": applied})
	s.invalidateBalances(ctx, in.CompanyID)
	if s.metrics != nil {
		s.metrics.PaymentRecorded()
		s.metrics.EntryPosted(string(journal.SourceAPPayment))
	}
	return payment, nil
}

// ClearPayment marks a pending payment cleared by the bank. The posting is
// untouched; clearing only advances the status.
func (s *Service) ClearPayment(ctx context.Context, companyID, id, actorID int64) (Payment, error) {
	var payment Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPaymentForUpdate(ctx, companyID, id)
		if err != nil {
			return err
		}
		if p.Status != PaymentPending {
			return shared.Statef("ap: only pending payments can be cleared")
		}
		if err := tx.UpdatePaymentStatus(ctx, p.ID, PaymentCleared, nil); err != nil {
			return err
		}
		p.Status = PaymentCleared
		payment = p
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	s.recordPayment(ctx, actorID, payment, "ap.payment.clear", nil)
	return payment, nil
}

// VoidPayment reverses a payment: its posting is reversed and every applied
// bill gets its balance due restored.
func (s *Service) VoidPayment(ctx context.Context, companyID, id, actorID int64, reason string) (Payment, error) {
	var payment Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPaymentForUpdate(ctx, companyID, id)
		if err != nil {
			return err
		}
		if p.Status == PaymentVoided {
			return shared.Conflictf("ap: payment already voided")
		}
		apps, err := tx.GetApplications(ctx, p.ID)
		if err != nil {
			return err
		}
		sort.Slice(apps, func(i, j int) bool { return apps[i].BillID < apps[j].BillID })
		for _, app := range apps {
			b, err := tx.GetBillForUpdate(ctx, companyID, app.BillID)
			if err != nil {
				return err
			}
			status := BillPartiallyPaid
			if b.BalanceDue+app.Amount == b.Amount {
				status = BillApproved
			}
			if err := tx.AdjustBillBalance(ctx, b.ID, app.Amount, status); err != nil {
				return err
			}
		}
		if p.EntryID != nil {
			if _, _, err := journal.VoidTx(ctx, tx.Journal(), journal.VoidInput{
				CompanyID: companyID,
				EntryID:   *p.EntryID,
				ActorID:   actorID,
				Reason:    reason,
			}, s.now()); err != nil {
				return err
			}
		}
		if err := tx.UpdatePaymentStatus(ctx, p.ID, PaymentVoided, nil); err != nil {
			return err
		}
		p.Status = PaymentVoided
		p.Applications = apps
		payment = p
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	s.recordPayment(ctx, actorID, payment, "ap.payment.void", map[string]any{"reason": reason})
	s.invalidateBalances(ctx, companyID)
	if s.metrics != nil {
		s.metrics.EntryVoided(string(journal.SourceAPPayment))
	}
	return payment, nil
}

// GetBill returns one bill with its lines.
func (s *Service) GetBill(ctx context.Context, companyID, id int64) (Bill, error) {
	return s.repo.GetBill(ctx, companyID, id)
}

// ListBills returns bills matching the filter, newest first.
func (s *Service) ListBills(ctx context.Context, companyID int64, filter BillFilter) ([]Bill, error) {
	return s.repo.ListBills(ctx, companyID, filter)
}

// GetPayment returns one payment with its applications.
func (s *Service) GetPayment(ctx context.Context, companyID, id int64) (Payment, error) {
	return s.repo.GetPayment(ctx, companyID, id)
}

// ListPayments returns payments, optionally scoped to a vendor.
func (s *Service) ListPayments(ctx context.Context, companyID, vendorID int64, limit, offset int) ([]Payment, error) {
	return s.repo.ListPayments(ctx, companyID, vendorID, limit, offset)
}

// Aging buckets open balances by days past due.
func (s *Service) Aging(ctx context.Context, companyID int64, asOf time.Time) ([]AgingRow, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	return s.repo.Aging(ctx, companyID, asOf)
}

func (s *Service) recordBill(ctx context.Context, actorID int64, b Bill, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = b.Number
	meta["vendor_id"] = b.VendorID
	meta["amount"] = money.Format(b.Currency, b.Amount)
	_ = s.audit.Record(ctx, shared.AuditLog{
		CompanyID: b.CompanyID,
		ActorID:   actorID,
		Action:    action,
		Entity:    "ap_bill",
		EntityID:  fmt.Sprintf("%d", b.ID),
		Meta:      meta,
		At:        s.now(),
	})
}

func (s *Service) recordPayment(ctx context.Context, actorID int64, p Payment, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["vendor_id"] = p.VendorID
	meta["amount"] = money.Format(p.Currency, p.Amount)
	_ = s.audit.Record(ctx, shared.AuditLog{
		CompanyID: p.CompanyID,
		ActorID:   actorID,
		Action:    action,
		Entity:    "ap_payment",
		EntityID:  fmt.Sprintf("%d", p.ID),
		Meta:      meta,
		At:        s.now(),
	})
}
