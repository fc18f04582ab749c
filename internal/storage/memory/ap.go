package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/girderhq/girder/internal/ap"
	"github.com/girderhq/girder/internal/journal"
	"github.com/girderhq/girder/internal/shared"
)

// APRepository implements ap.Repository over the store.
type APRepository struct {
	store *Store
}

// NewAPRepository returns the in-memory AP repository.
func NewAPRepository(store *Store) *APRepository {
	return &APRepository{store: store}
}

func (r *APRepository) GetBill(_ context.Context, companyID, id int64) (ap.Bill, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return getBill(r.store, companyID, id)
}

func (r *APRepository) ListBills(_ context.Context, companyID int64, filter ap.BillFilter) ([]ap.Bill, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []ap.Bill
	for _, b := range r.store.bills {
		if b.CompanyID != companyID {
			continue
		}
		if filter.VendorID != 0 && b.VendorID != filter.VendorID {
			continue
		}
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *APRepository) GetPayment(_ context.Context, companyID, id int64) (ap.Payment, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return getPayment(r.store, companyID, id)
}

func (r *APRepository) GetPaymentByIdempotencyKey(_ context.Context, companyID int64, key uuid.UUID) (ap.Payment, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	id, ok := r.store.paymentKeys[scopedUUIDKey(companyID, key)]
	if !ok {
		return ap.Payment{}, shared.NotFoundf("ap: payment not found")
	}
	return getPayment(r.store, companyID, id)
}

func (r *APRepository) ListPayments(_ context.Context, companyID int64, vendorID int64, _, _ int) ([]ap.Payment, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []ap.Payment
	for _, p := range r.store.payments {
		if p.CompanyID != companyID {
			continue
		}
		if vendorID != 0 && p.VendorID != vendorID {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *APRepository) Aging(_ context.Context, companyID int64, asOf time.Time) ([]ap.AgingRow, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	byVendor := map[int64]*ap.AgingRow{}
	for _, b := range r.store.bills {
		if b.CompanyID != companyID || b.BalanceDue <= 0 {
			continue
		}
		if b.Status != ap.BillApproved && b.Status != ap.BillPartiallyPaid {
			continue
		}
		row, ok := byVendor[b.VendorID]
		if !ok {
			row = &ap.AgingRow{VendorID: b.VendorID}
			byVendor[b.VendorID] = row
		}
		bucketAmount(asOf, b.DueDate, b.BalanceDue, &row.Current, &row.Days30, &row.Days60, &row.Days90, &row.Over90)
		row.Total += b.BalanceDue
	}
	var out []ap.AgingRow
	for _, row := range byVendor {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VendorID < out[j].VendorID })
	return out, nil
}

func (r *APRepository) WithTx(ctx context.Context, fn func(context.Context, ap.TxRepository) error) error {
	return r.store.withTx(func() error {
		return fn(ctx, &apTx{store: r.store})
	})
}

func getBill(store *Store, companyID, id int64) (ap.Bill, error) {
	b, ok := store.bills[id]
	if !ok || b.CompanyID != companyID {
		return ap.Bill{}, shared.NotFoundf("ap: bill not found")
	}
	b.Lines = append([]ap.BillLine(nil), store.billLines[id]...)
	return b, nil
}

func getPayment(store *Store, companyID, id int64) (ap.Payment, error) {
	p, ok := store.payments[id]
	if !ok || p.CompanyID != companyID {
		return ap.Payment{}, shared.NotFoundf("ap: payment not found")
	}
	p.Applications = append([]ap.Application(nil), store.payApps[id]...)
	return p, nil
}

type apTx struct {
	store *Store
}

func (t *apTx) Journal() journal.TxRepository {
	return &journalTx{store: t.store}
}

func (t *apTx) InsertBill(_ context.Context, b ap.Bill) (ap.Bill, error) {
	for _, existing := range t.store.bills {
		if existing.CompanyID == b.CompanyID && existing.VendorID == b.VendorID && existing.Number == b.Number {
			return ap.Bill{}, shared.Conflictf("ap: bill number %q already exists for vendor", b.Number)
		}
	}
	now := time.Now()
	b.ID = t.store.nextID()
	b.CreatedAt = now
	b.UpdatedAt = now
	lines := b.Lines
	b.Lines = nil
	t.store.bills[b.ID] = b
	b.Lines = lines
	return b, nil
}

func (t *apTx) InsertBillLines(_ context.Context, billID int64, lines []ap.BillLine) error {
	for _, line := range lines {
		line.ID = t.store.nextID()
		line.BillID = billID
		t.store.billLines[billID] = append(t.store.billLines[billID], line)
	}
	return nil
}

func (t *apTx) GetBillForUpdate(_ context.Context, companyID, id int64) (ap.Bill, error) {
	return getBill(t.store, companyID, id)
}

func (t *apTx) GetBillLines(_ context.Context, billID int64) ([]ap.BillLine, error) {
	return append([]ap.BillLine(nil), t.store.billLines[billID]...), nil
}

func (t *apTx) UpdateBillStatus(_ context.Context, id int64, status ap.BillStatus, entryID *int64) error {
	b, ok := t.store.bills[id]
	if !ok {
		return shared.NotFoundf("ap: bill not found")
	}
	b.Status = status
	if entryID != nil {
		b.EntryID = entryID
	}
	b.UpdatedAt = time.Now()
	t.store.bills[id] = b
	return nil
}

func (t *apTx) AdjustBillBalance(_ context.Context, id int64, delta int64, status ap.BillStatus) error {
	b, ok := t.store.bills[id]
	if !ok {
		return shared.NotFoundf("ap: bill not found")
	}
	b.BalanceDue += delta
	b.Status = status
	b.UpdatedAt = time.Now()
	t.store.bills[id] = b
	return nil
}

func (t *apTx) InsertPayment(_ context.Context, p ap.Payment) (ap.Payment, error) {
	if p.IdempotencyKey != uuid.Nil {
		if _, exists := t.store.paymentKeys[scopedUUIDKey(p.CompanyID, p.IdempotencyKey)]; exists {
			return ap.Payment{}, shared.Conflictf("ap: duplicate payment idempotency key")
		}
	}
	p.ID = t.store.nextID()
	p.CreatedAt = time.Now()
	apps := p.Applications
	p.Applications = nil
	t.store.payments[p.ID] = p
	if p.IdempotencyKey != uuid.Nil {
		t.store.paymentKeys[scopedUUIDKey(p.CompanyID, p.IdempotencyKey)] = p.ID
	}
	p.Applications = apps
	return p, nil
}

func (t *apTx) InsertApplications(_ context.Context, paymentID int64, apps []ap.Application) error {
	for _, app := range apps {
		app.ID = t.store.nextID()
		app.PaymentID = paymentID
		t.store.payApps[paymentID] = append(t.store.payApps[paymentID], app)
	}
	return nil
}

func (t *apTx) GetPaymentForUpdate(_ context.Context, companyID, id int64) (ap.Payment, error) {
	p, ok := t.store.payments[id]
	if !ok || p.CompanyID != companyID {
		return ap.Payment{}, shared.NotFoundf("ap: payment not found")
	}
	return p, nil
}

func (t *apTx) GetApplications(_ context.Context, paymentID int64) ([]ap.Application, error) {
	return append([]ap.Application(nil), t.store.payApps[paymentID]...), nil
}

func (t *apTx) UpdatePaymentStatus(_ context.Context, id int64, status ap.PaymentStatus, entryID *int64) error {
	p, ok := t.store.payments[id]
	if !ok {
		return shared.NotFoundf("ap: payment not found")
	}
	p.Status = status
	if entryID != nil {
		p.EntryID = entryID
	}
	t.store.payments[id] = p
	return nil
}

// bucketAmount adds amount to the aging bucket for dueDate relative to asOf.
func bucketAmount(asOf, dueDate time.Time, amount int64, current, d30, d60, d90, over *int64) {
	switch days := int(asOf.Sub(dueDate).Hours() / 24); {
	case days <= 0:
		*current += amount
	case days <= 30:
		*d30 += amount
	case days <= 60:
		*d60 += amount
	case days <= 90:
		*d90 += amount
	default:
		*over += amount
	}
}
