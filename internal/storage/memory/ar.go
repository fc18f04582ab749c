package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/girderhq/girder/internal/ar"
	"github.com/girderhq/girder/internal/journal"
	"github.com/girderhq/girder/internal/shared"
)

// ARRepository implements ar.Repository over the store.
type ARRepository struct {
	store *Store
}

// NewARRepository returns the in-memory AR repository.
func NewARRepository(store *Store) *ARRepository {
	return &ARRepository{store: store}
}

func (r *ARRepository) GetInvoice(_ context.Context, companyID, id int64) (ar.Invoice, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return getInvoice(r.store, companyID, id)
}

func (r *ARRepository) ListInvoices(_ context.Context, companyID int64, filter ar.InvoiceFilter) ([]ar.Invoice, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []ar.Invoice
	for _, inv := range r.store.invoices {
		if inv.CompanyID != companyID {
			continue
		}
		if filter.ClientID != 0 && inv.ClientID != filter.ClientID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *ARRepository) GetReceipt(_ context.Context, companyID, id int64) (ar.Receipt, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return getReceipt(r.store, companyID, id)
}

func (r *ARRepository) GetReceiptByIdempotencyKey(_ context.Context, companyID int64, key uuid.UUID) (ar.Receipt, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	id, ok := r.store.receiptKeys[scopedUUIDKey(companyID, key)]
	if !ok {
		return ar.Receipt{}, shared.NotFoundf("ar: receipt not found")
	}
	return getReceipt(r.store, companyID, id)
}

func (r *ARRepository) ListReceipts(_ context.Context, companyID int64, clientID int64, _, _ int) ([]ar.Receipt, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []ar.Receipt
	for _, rc := range r.store.receipts {
		if rc.CompanyID != companyID {
			continue
		}
		if clientID != 0 && rc.ClientID != clientID {
			continue
		}
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *ARRepository) Aging(_ context.Context, companyID int64, asOf time.Time) ([]ar.AgingRow, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	byClient := map[int64]*ar.AgingRow{}
	for _, inv := range r.store.invoices {
		if inv.CompanyID != companyID || inv.BalanceDue <= 0 {
			continue
		}
		if inv.Status != ar.InvoiceApproved && inv.Status != ar.InvoicePartiallyPaid && inv.Status != ar.InvoiceOverdue {
			continue
		}
		row, ok := byClient[inv.ClientID]
		if !ok {
			row = &ar.AgingRow{ClientID: inv.ClientID}
			byClient[inv.ClientID] = row
		}
		bucketAmount(asOf, inv.DueDate, inv.BalanceDue, &row.Current, &row.Days30, &row.Days60, &row.Days90, &row.Over90)
		row.Total += inv.BalanceDue
	}
	var out []ar.AgingRow
	for _, row := range byClient {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

func (r *ARRepository) MarkOverdue(_ context.Context, asOf time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for id, inv := range r.store.invoices {
		if inv.Status != ar.InvoiceApproved && inv.Status != ar.InvoicePartiallyPaid {
			continue
		}
		if inv.BalanceDue <= 0 || !inv.DueDate.Before(asOf) {
			continue
		}
		inv.Status = ar.InvoiceOverdue
		inv.UpdatedAt = time.Now()
		r.store.invoices[id] = inv
		n++
	}
	return n, nil
}

func (r *ARRepository) WithTx(ctx context.Context, fn func(context.Context, ar.TxRepository) error) error {
	return r.store.withTx(func() error {
		return fn(ctx, &arTx{store: r.store})
	})
}

func getInvoice(store *Store, companyID, id int64) (ar.Invoice, error) {
	inv, ok := store.invoices[id]
	if !ok || inv.CompanyID != companyID {
		return ar.Invoice{}, shared.NotFoundf("ar: invoice not found")
	}
	inv.Lines = append([]ar.InvoiceLine(nil), store.invLines[id]...)
	return inv, nil
}

func getReceipt(store *Store, companyID, id int64) (ar.Receipt, error) {
	rc, ok := store.receipts[id]
	if !ok || rc.CompanyID != companyID {
		return ar.Receipt{}, shared.NotFoundf("ar: receipt not found")
	}
	rc.Applications = append([]ar.Application(nil), store.rcptApps[id]...)
	return rc, nil
}

type arTx struct {
	store *Store
}

func (t *arTx) Journal() journal.TxRepository {
	return &journalTx{store: t.store}
}

func (t *arTx) InsertInvoice(_ context.Context, inv ar.Invoice) (ar.Invoice, error) {
	for _, existing := range t.store.invoices {
		if existing.CompanyID == inv.CompanyID && existing.Number == inv.Number {
			return ar.Invoice{}, shared.Conflictf("ar: invoice number %q already exists", inv.Number)
		}
	}
	now := time.Now()
	inv.ID = t.store.nextID()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	lines := inv.Lines
	inv.Lines = nil
	t.store.invoices[inv.ID] = inv
	inv.Lines = lines
	return inv, nil
}

func (t *arTx) InsertInvoiceLines(_ context.Context, invoiceID int64, lines []ar.InvoiceLine) error {
	for _, line := range lines {
		line.ID = t.store.nextID()
		line.InvoiceID = invoiceID
		t.store.invLines[invoiceID] = append(t.store.invLines[invoiceID], line)
	}
	return nil
}

func (t *arTx) GetInvoiceForUpdate(_ context.Context, companyID, id int64) (ar.Invoice, error) {
	return getInvoice(t.store, companyID, id)
}

func (t *arTx) UpdateInvoiceStatus(_ context.Context, id int64, status ar.InvoiceStatus, entryID *int64) error {
	inv, ok := t.store.invoices[id]
	if !ok {
		return shared.NotFoundf("ar: invoice not found")
	}
	inv.Status = status
	if entryID != nil {
		inv.EntryID = entryID
	}
	inv.UpdatedAt = time.Now()
	t.store.invoices[id] = inv
	return nil
}

func (t *arTx) AdjustInvoiceBalance(_ context.Context, id int64, delta int64, status ar.InvoiceStatus) error {
	inv, ok := t.store.invoices[id]
	if !ok {
		return shared.NotFoundf("ar: invoice not found")
	}
	inv.BalanceDue += delta
	inv.Status = status
	inv.UpdatedAt = time.Now()
	t.store.invoices[id] = inv
	return nil
}

func (t *arTx) InsertReceipt(_ context.Context, rc ar.Receipt) (ar.Receipt, error) {
	if rc.IdempotencyKey != uuid.Nil {
		if _, exists := t.store.receiptKeys[scopedUUIDKey(rc.CompanyID, rc.IdempotencyKey)]; exists {
			return ar.Receipt{}, shared.Conflictf("ar: duplicate receipt idempotency key")
		}
	}
	rc.ID = t.store.nextID()
	rc.CreatedAt = time.Now()
	apps := rc.Applications
	rc.Applications = nil
	t.store.receipts[rc.ID] = rc
	if rc.IdempotencyKey != uuid.Nil {
		t.store.receiptKeys[scopedUUIDKey(rc.CompanyID, rc.IdempotencyKey)] = rc.ID
	}
	rc.Applications = apps
	return rc, nil
}

func (t *arTx) InsertApplications(_ context.Context, receiptID int64, apps []ar.Application) error {
	for _, app := range apps {
		app.ID = t.store.nextID()
		app.ReceiptID = receiptID
		t.store.rcptApps[receiptID] = append(t.store.rcptApps[receiptID], app)
	}
	return nil
}

func (t *arTx) GetReceiptForUpdate(_ context.Context, companyID, id int64) (ar.Receipt, error) {
	rc, ok := t.store.receipts[id]
	if !ok || rc.CompanyID != companyID {
		return ar.Receipt{}, shared.NotFoundf("ar: receipt not found")
	}
	return rc, nil
}

func (t *arTx) GetApplications(_ context.Context, receiptID int64) ([]ar.Application, error) {
	return append([]ar.Application(nil), t.store.rcptApps[receiptID]...), nil
}

func (t *arTx) UpdateReceiptStatus(_ context.Context, id int64, status ar.ReceiptStatus, entryID *int64) error {
	rc, ok := t.store.receipts[id]
	if !ok {
		return shared.NotFoundf("ar: receipt not found")
	}
	rc.Status = status
	if entryID != nil {
		rc.EntryID = entryID
	}
	t.store.receipts[id] = rc
	return nil
}
