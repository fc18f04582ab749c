package ar_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/girderhq/girder/internal/ar"
	"github.com/girderhq/girder/internal/coa"
	"github.com/girderhq/girder/internal/posting"
	"github.com/girderhq/girder/internal/shared"
	"github.com/girderhq/girder/internal/storage/memory"
)

const (
	companyID = int64(1)
	clientID  = int64(20)
)

var now = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store     *memory.Store
	svc       *ar.Service
	cash      coa.Account
	arControl coa.Account
	revenue   coa.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	coaSvc := coa.NewService(memory.NewCoaRepository(store), store.Audit())

	f := &fixture{store: store}
	f.cash = mustAccount(t, coaSvc, "1000", "Cash", coa.TypeAsset)
	f.arControl = mustAccount(t, coaSvc, "1200", "AR Control", coa.TypeAsset)
	apControl := mustAccount(t, coaSvc, "2000", "AP Control", coa.TypeLiability)
	f.revenue = mustAccount(t, coaSvc, "4000", "Contract Revenue", coa.TypeRevenue)

	store.SetMappings(companyID, posting.AccountMap{
		APControl: apControl.ID,
		ARControl: f.arControl.ID,
		Cash:      f.cash.ID,
		Revenue:   f.revenue.ID,
	})
	store.AddClient(companyID, clientID)

	f.svc = ar.NewService(
		memory.NewARRepository(store),
		memory.NewMapResolver(store),
		memory.NewDirectory(store),
		store.Audit(),
		nil,
		1,
	)
	f.svc.WithNow(func() time.Time { return now })
	return f
}

func mustAccount(t *testing.T, svc *coa.Service, number, name string, typ coa.AccountType) coa.Account {
	t.Helper()
	a, err := svc.Create(context.Background(), coa.CreateInput{
		CompanyID: companyID,
		Number:    number,
		Name:      name,
		Type:      typ,
		ActorID:   1,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) invoiceInput(number string, amount int64) ar.CreateInvoiceInput {
	return ar.CreateInvoiceInput{
		CompanyID: companyID,
		ClientID:  clientID,
		Number:    number,
		Date:      time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		DueDate:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Currency:  "USD",
		Amount:    amount,
		Lines:     []ar.InvoiceLineInput{{Amount: amount}},
		ActorID:   1,
	}
}

func (f *fixture) approvedInvoice(t *testing.T, in ar.CreateInvoiceInput) ar.Invoice {
	t.Helper()
	ctx := context.Background()
	inv, err := f.svc.CreateInvoice(ctx, in)
	require.NoError(t, err)
	_, err = f.svc.SubmitInvoice(ctx, companyID, inv.ID, 1)
	require.NoError(t, err)
	approved, err := f.svc.ApproveInvoice(ctx, companyID, inv.ID, 1)
	require.NoError(t, err)
	return approved
}

func (f *fixture) receipt(invID, amount int64) ar.RecordReceiptInput {
	return ar.RecordReceiptInput{
		CompanyID:    companyID,
		ClientID:     clientID,
		Date:         now,
		Currency:     "USD",
		Amount:       amount,
		Method:       "ach",
		Applications: []ar.ApplicationInput{{InvoiceID: invID, Amount: amount}},
		ActorID:      1,
	}
}

func TestApproveInvoicePostsToLedger(t *testing.T) {
	f := newFixture(t)
	inv := f.approvedInvoice(t, f.invoiceInput("INV-1", 500_000))

	require.Equal(t, ar.InvoiceApproved, inv.Status)
	require.NotNil(t, inv.EntryID)
	// Debit AR control, credit revenue; the empty line account fell back to
	// the default revenue account.
	require.Equal(t, int64(500_000), f.store.Balance(f.arControl.ID))
	require.Equal(t, int64(500_000), f.store.Balance(f.revenue.ID))
}

func TestApproveInvoiceFromDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv, err := f.svc.CreateInvoice(ctx, f.invoiceInput("INV-1", 100_000))
	require.NoError(t, err)
	require.Equal(t, ar.InvoiceDraft, inv.Status)

	// Drafts may be approved directly, without a submit step.
	approved, err := f.svc.ApproveInvoice(ctx, companyID, inv.ID, 1)
	require.NoError(t, err)
	require.Equal(t, ar.InvoiceApproved, approved.Status)
	require.NotNil(t, approved.EntryID)

	_, err = f.svc.ApproveInvoice(ctx, companyID, inv.ID, 1)
	require.Equal(t, shared.KindState, shared.KindOf(err))
}

func TestSubmitInvoiceMovesToPendingApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv, err := f.svc.CreateInvoice(ctx, f.invoiceInput("INV-1", 100_000))
	require.NoError(t, err)
	submitted, err := f.svc.SubmitInvoice(ctx, companyID, inv.ID, 1)
	require.NoError(t, err)
	require.Equal(t, ar.InvoicePendingApproval, submitted.Status)
}

func TestCreateInvoiceUnknownClient(t *testing.T) {
	f := newFixture(t)
	in := f.invoiceInput("INV-1", 1000)
	in.ClientID = 777
	_, err := f.svc.CreateInvoice(context.Background(), in)
	require.Equal(t, shared.KindReferential, shared.KindOf(err))
}

func TestCreateInvoiceAbsorbsRounding(t *testing.T) {
	f := newFixture(t)
	in := f.invoiceInput("INV-1", 100_001)
	in.Lines = []ar.InvoiceLineInput{{Amount: 50_000}, {Amount: 50_000}}
	inv, err := f.svc.CreateInvoice(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, int64(50_001), inv.Lines[1].Amount)

	found := false
	for _, log := range f.store.AuditLogs() {
		if log.Action == "ar.invoice.rounding_adjusted" {
			found = true
		}
	}
	require.True(t, found)
}

func TestRecordReceiptPartial(t *testing.T) {
	f := newFixture(t)
	inv := f.approvedInvoice(t, f.invoiceInput("INV-1", 500_000))

	rc, err := f.svc.RecordReceipt(context.Background(), f.receipt(inv.ID, 200_000))
	require.NoError(t, err)
	require.NotNil(t, rc.EntryID)

	got, err := f.svc.GetInvoice(context.Background(), companyID, inv.ID)
	require.NoError(t, err)
	require.Equal(t, ar.InvoicePartiallyPaid, got.Status)
	require.Equal(t, int64(300_000), got.BalanceDue)
	require.Equal(t, int64(200_000), f.store.Balance(f.cash.ID))
	require.Equal(t, int64(300_000), f.store.Balance(f.arControl.ID))
}

func TestRecordReceiptOverApplication(t *testing.T) {
	f := newFixture(t)
	inv := f.approvedInvoice(t, f.invoiceInput("INV-1", 100_000))

	_, err := f.svc.RecordReceipt(context.Background(), f.receipt(inv.ID, 150_000))
	require.Equal(t, shared.KindConflict, shared.KindOf(err))

	got, err := f.svc.GetInvoice(context.Background(), companyID, inv.ID)
	require.NoError(t, err)
	require.Equal(t, int64(100_000), got.BalanceDue)
	require.Zero(t, f.store.Balance(f.cash.ID))
}

func TestRecordReceiptWrongClient(t *testing.T) {
	f := newFixture(t)
	f.store.AddClient(companyID, 21)
	inv := f.approvedInvoice(t, f.invoiceInput("INV-1", 100_000))

	in := f.receipt(inv.ID, 100_000)
	in.ClientID = 21
	_, err := f.svc.RecordReceipt(context.Background(), in)
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestRecordReceiptCurrencyMismatch(t *testing.T) {
	f := newFixture(t)
	inv := f.approvedInvoice(t, f.invoiceInput("INV-1", 100_000))

	in := f.receipt(inv.ID, 100_000)
	in.Currency = "EUR"
	_, err := f.svc.RecordReceipt(context.Background(), in)
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestRecordReceiptIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	inv := f.approvedInvoice(t, f.invoiceInput("INV-1", 100_000))

	in := f.receipt(inv.ID, 100_000)
	in.IdempotencyKey = uuid.New()
	first, err := f.svc.RecordReceipt(context.Background(), in)
	require.NoError(t, err)
	replay, err := f.svc.RecordReceipt(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, first.ID, replay.ID)
	require.Equal(t, int64(100_000), f.store.Balance(f.cash.ID))
}

func TestClearReceipt(t *testing.T) {
	f := newFixture(t)
	inv := f.approvedInvoice(t, f.invoiceInput("INV-1", 100_000))

	rc, err := f.svc.RecordReceipt(context.Background(), f.receipt(inv.ID, 100_000))
	require.NoError(t, err)
	require.Equal(t, ar.ReceiptPending, rc.Status)

	cleared, err := f.svc.ClearReceipt(context.Background(), companyID, rc.ID, 1)
	require.NoError(t, err)
	require.Equal(t, ar.ReceiptCleared, cleared.Status)

	_, err = f.svc.ClearReceipt(context.Background(), companyID, rc.ID, 1)
	require.Equal(t, shared.KindState, shared.KindOf(err))
}

func TestMarkOverdueFlipsPastDueInvoices(t *testing.T) {
	f := newFixture(t)
	past := f.invoiceInput("INV-1", 100_000)
	past.DueDate = time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	overdue := f.approvedInvoice(t, past)
	current := f.approvedInvoice(t, f.invoiceInput("INV-2", 50_000))

	n, err := f.svc.MarkOverdue(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err := f.svc.GetInvoice(context.Background(), companyID, overdue.ID)
	require.NoError(t, err)
	require.Equal(t, ar.InvoiceOverdue, got.Status)

	untouched, err := f.svc.GetInvoice(context.Background(), companyID, current.ID)
	require.NoError(t, err)
	require.Equal(t, ar.InvoiceApproved, untouched.Status)
}

func TestOverdueInvoiceRemainsPayable(t *testing.T) {
	f := newFixture(t)
	past := f.invoiceInput("INV-1", 100_000)
	past.DueDate = time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	inv := f.approvedInvoice(t, past)

	_, err := f.svc.MarkOverdue(context.Background())
	require.NoError(t, err)

	// Partial receipt leaves the invoice overdue; it is still past due.
	_, err = f.svc.RecordReceipt(context.Background(), f.receipt(inv.ID, 40_000))
	require.NoError(t, err)
	got, err := f.svc.GetInvoice(context.Background(), companyID, inv.ID)
	require.NoError(t, err)
	require.Equal(t, ar.InvoiceOverdue, got.Status)
	require.Equal(t, int64(60_000), got.BalanceDue)

	// Paying it off clears the status.
	_, err = f.svc.RecordReceipt(context.Background(), f.receipt(inv.ID, 60_000))
	require.NoError(t, err)
	got, err = f.svc.GetInvoice(context.Background(), companyID, inv.ID)
	require.NoError(t, err)
	require.Equal(t, ar.InvoicePaid, got.Status)
	require.Zero(t, got.BalanceDue)
}

func TestVoidReceiptRestoresOverdueStatus(t *testing.T) {
	f := newFixture(t)
	past := f.invoiceInput("INV-1", 100_000)
	past.DueDate = time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	inv := f.approvedInvoice(t, past)

	rc, err := f.svc.RecordReceipt(context.Background(), f.receipt(inv.ID, 100_000))
	require.NoError(t, err)

	_, err = f.svc.VoidReceipt(context.Background(), companyID, rc.ID, 1, "bounced check")
	require.NoError(t, err)

	got, err := f.svc.GetInvoice(context.Background(), companyID, inv.ID)
	require.NoError(t, err)
	require.Equal(t, ar.InvoiceOverdue, got.Status)
	require.Equal(t, int64(100_000), got.BalanceDue)
	require.Zero(t, f.store.Balance(f.cash.ID))
}

func TestVoidReceiptRestoresApprovedStatus(t *testing.T) {
	f := newFixture(t)
	inv := f.approvedInvoice(t, f.invoiceInput("INV-1", 100_000))

	rc, err := f.svc.RecordReceipt(context.Background(), f.receipt(inv.ID, 100_000))
	require.NoError(t, err)

	_, err = f.svc.VoidReceipt(context.Background(), companyID, rc.ID, 1, "")
	require.NoError(t, err)

	got, err := f.svc.GetInvoice(context.Background(), companyID, inv.ID)
	require.NoError(t, err)
	require.Equal(t, ar.InvoiceApproved, got.Status)
	require.Equal(t, int64(100_000), got.BalanceDue)
}

func TestVoidInvoiceWithReceiptsBlocked(t *testing.T) {
	f := newFixture(t)
	inv := f.approvedInvoice(t, f.invoiceInput("INV-1", 100_000))
	_, err := f.svc.RecordReceipt(context.Background(), f.receipt(inv.ID, 30_000))
	require.NoError(t, err)

	_, err = f.svc.VoidInvoice(context.Background(), companyID, inv.ID, 1, "")
	require.Equal(t, shared.KindConflict, shared.KindOf(err))
}

func TestVoidInvoiceReversesPosting(t *testing.T) {
	f := newFixture(t)
	inv := f.approvedInvoice(t, f.invoiceInput("INV-1", 100_000))

	voided, err := f.svc.VoidInvoice(context.Background(), companyID, inv.ID, 1, "billed wrong job")
	require.NoError(t, err)
	require.Equal(t, ar.InvoiceVoided, voided.Status)
	require.Zero(t, f.store.Balance(f.arControl.ID))
	require.Zero(t, f.store.Balance(f.revenue.ID))
}
