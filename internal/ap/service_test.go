package ap_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/girderhq/girder/internal/ap"
	"github.com/girderhq/girder/internal/coa"
	"github.com/girderhq/girder/internal/posting"
	"github.com/girderhq/girder/internal/shared"
	"github.com/girderhq/girder/internal/storage/memory"
)

const (
	companyID = int64(1)
	vendorID  = int64(10)
)

type fixture struct {
	store     *memory.Store
	svc       *ap.Service
	cash      coa.Account
	apControl coa.Account
	expense   coa.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	coaSvc := coa.NewService(memory.NewCoaRepository(store), store.Audit())

	f := &fixture{store: store}
	f.cash = mustAccount(t, coaSvc, "1000", "Cash", coa.TypeAsset)
	arControl := mustAccount(t, coaSvc, "1200", "AR Control", coa.TypeAsset)
	f.apControl = mustAccount(t, coaSvc, "2000", "AP Control", coa.TypeLiability)
	revenue := mustAccount(t, coaSvc, "4000", "Revenue", coa.TypeRevenue)
	f.expense = mustAccount(t, coaSvc, "5000", "Job Costs", coa.TypeExpense)

	store.SetMappings(companyID, posting.AccountMap{
		APControl: f.apControl.ID,
		ARControl: arControl.ID,
		Cash:      f.cash.ID,
		Revenue:   revenue.ID,
	})
	store.AddVendor(companyID, vendorID)

	f.svc = ap.NewService(
		memory.NewAPRepository(store),
		memory.NewMapResolver(store),
		memory.NewDirectory(store),
		store.Audit(),
		nil,
		1,
	)
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

func (f *fixture) billInput(number string, amount int64) ap.CreateBillInput {
	return ap.CreateBillInput{
		CompanyID: companyID,
		VendorID:  vendorID,
		Number:    number,
		Date:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		DueDate:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Currency:  "USD",
		Amount:    amount,
		Lines:     []ap.BillLineInput{{AccountID: f.expense.ID, Amount: amount}},
		ActorID:   1,
	}
}

func (f *fixture) approvedBill(t *testing.T, number string, amount int64) ap.Bill {
	t.Helper()
	ctx := context.Background()
	bill, err := f.svc.CreateBill(ctx, f.billInput(number, amount))
	require.NoError(t, err)
	_, err = f.svc.SubmitBill(ctx, companyID, bill.ID, 1)
	require.NoError(t, err)
	approved, err := f.svc.ApproveBill(ctx, companyID, bill.ID, 1)
	require.NoError(t, err)
	return approved
}

func hasAudit(store *memory.Store, action string) bool {
	for _, log := range store.AuditLogs() {
		if log.Action == action {
			return true
		}
	}
	return false
}

func TestApproveBillPostsToLedger(t *testing.T) {
	f := newFixture(t)
	bill := f.approvedBill(t, "BILL-1", 1_000_000)

	require.Equal(t, ap.BillApproved, bill.Status)
	require.NotNil(t, bill.EntryID)
	require.Equal(t, int64(1_000_000), bill.BalanceDue)
	// Debit job costs, credit AP control.
	require.Equal(t, int64(1_000_000), f.store.Balance(f.expense.ID))
	require.Equal(t, int64(1_000_000), f.store.Balance(f.apControl.ID))
}

func TestApproveBillFromDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill, err := f.svc.CreateBill(ctx, f.billInput("BILL-1", 50000))
	require.NoError(t, err)
	require.Equal(t, ap.BillDraft, bill.Status)

	// Drafts may be approved directly, without a submit step.
	approved, err := f.svc.ApproveBill(ctx, companyID, bill.ID, 1)
	require.NoError(t, err)
	require.Equal(t, ap.BillApproved, approved.Status)
	require.NotNil(t, approved.EntryID)
}

func TestApproveBillAlreadyApproved(t *testing.T) {
	f := newFixture(t)
	bill := f.approvedBill(t, "BILL-1", 50000)
	_, err := f.svc.ApproveBill(context.Background(), companyID, bill.ID, 1)
	require.Equal(t, shared.KindState, shared.KindOf(err))
}

func TestSubmitBillMovesToPendingApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bill, err := f.svc.CreateBill(ctx, f.billInput("BILL-1", 50000))
	require.NoError(t, err)
	submitted, err := f.svc.SubmitBill(ctx, companyID, bill.ID, 1)
	require.NoError(t, err)
	require.Equal(t, ap.BillPendingApproval, submitted.Status)
}

func TestCreateBillUnknownVendor(t *testing.T) {
	f := newFixture(t)
	in := f.billInput("BILL-1", 50000)
	in.VendorID = 999
	_, err := f.svc.CreateBill(context.Background(), in)
	require.Equal(t, shared.KindReferential, shared.KindOf(err))
}

func TestCreateBillLinesMustMatchAmount(t *testing.T) {
	f := newFixture(t)
	in := f.billInput("BILL-1", 100000)
	in.Lines = []ap.BillLineInput{{AccountID: f.expense.ID, Amount: 99990}}
	_, err := f.svc.CreateBill(context.Background(), in)
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestCreateBillAbsorbsRoundingIntoLastLine(t *testing.T) {
	f := newFixture(t)
	in := f.billInput("BILL-1", 100001)
	in.Lines = []ap.BillLineInput{
		{AccountID: f.expense.ID, Amount: 50000},
		{AccountID: f.expense.ID, Amount: 50000},
	}
	bill, err := f.svc.CreateBill(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, int64(50001), bill.Lines[1].Amount)
	require.True(t, hasAudit(f.store, "ap.bill.rounding_adjusted"))
}

func TestRecordPaymentPartial(t *testing.T) {
	f := newFixture(t)
	bill := f.approvedBill(t, "BILL-1", 1_000_000)

	payment, err := f.svc.RecordPayment(context.Background(), ap.RecordPaymentInput{
		CompanyID:    companyID,
		VendorID:     vendorID,
		Date:         time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		Currency:     "USD",
		Amount:       600_000,
		Method:       "check",
		Reference:    "CHK-2041",
		Applications: []ap.ApplicationInput{{BillID: bill.ID, Amount: 600_000}},
		ActorID:      1,
	})
	require.NoError(t, err)
	require.NotNil(t, payment.EntryID)

	got, err := f.svc.GetBill(context.Background(), companyID, bill.ID)
	require.NoError(t, err)
	require.Equal(t, ap.BillPartiallyPaid, got.Status)
	require.Equal(t, int64(400_000), got.BalanceDue)
	// AP control debited back down, cash credited away.
	require.Equal(t, int64(400_000), f.store.Balance(f.apControl.ID))
	require.Equal(t, int64(-600_000), f.store.Balance(f.cash.ID))
}

func TestRecordPaymentAcrossBills(t *testing.T) {
	f := newFixture(t)
	first := f.approvedBill(t, "BILL-1", 100_000)
	second := f.approvedBill(t, "BILL-2", 200_000)

	_, err := f.svc.RecordPayment(context.Background(), ap.RecordPaymentInput{
		CompanyID: companyID,
		VendorID:  vendorID,
		Date:      time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		Currency:  "USD",
		Amount:    150_000,
		Applications: []ap.ApplicationInput{
			{BillID: first.ID, Amount: 100_000},
			{BillID: second.ID, Amount: 50_000},
		},
		ActorID: 1,
	})
	require.NoError(t, err)

	gotFirst, err := f.svc.GetBill(context.Background(), companyID, first.ID)
	require.NoError(t, err)
	require.Equal(t, ap.BillPaid, gotFirst.Status)
	require.Zero(t, gotFirst.BalanceDue)

	gotSecond, err := f.svc.GetBill(context.Background(), companyID, second.ID)
	require.NoError(t, err)
	require.Equal(t, ap.BillPartiallyPaid, gotSecond.Status)
	require.Equal(t, int64(150_000), gotSecond.BalanceDue)
}

func TestRecordPaymentOverApplication(t *testing.T) {
	f := newFixture(t)
	bill := f.approvedBill(t, "BILL-1", 300_000)

	_, err := f.svc.RecordPayment(context.Background(), ap.RecordPaymentInput{
		CompanyID:    companyID,
		VendorID:     vendorID,
		Date:         time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		Currency:     "USD",
		Amount:       500_000,
		Applications: []ap.ApplicationInput{{BillID: bill.ID, Amount: 500_000}},
		ActorID:      1,
	})
	require.Equal(t, shared.KindConflict, shared.KindOf(err))

	// Nothing moved.
	got, err := f.svc.GetBill(context.Background(), companyID, bill.ID)
	require.NoError(t, err)
	require.Equal(t, int64(300_000), got.BalanceDue)
	require.Zero(t, f.store.Balance(f.cash.ID))
}

func TestRecordPaymentApplicationsExceedAmount(t *testing.T) {
	f := newFixture(t)
	bill := f.approvedBill(t, "BILL-1", 300_000)

	_, err := f.svc.RecordPayment(context.Background(), ap.RecordPaymentInput{
		CompanyID:    companyID,
		VendorID:     vendorID,
		Date:         time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		Currency:     "USD",
		Amount:       100_000,
		Applications: []ap.ApplicationInput{{BillID: bill.ID, Amount: 200_000}},
		ActorID:      1,
	})
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestRecordPaymentIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	bill := f.approvedBill(t, "BILL-1", 120_000)

	in := ap.RecordPaymentInput{
		CompanyID:      companyID,
		VendorID:       vendorID,
		Date:           time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		Currency:       "USD",
		Amount:         120_000,
		IdempotencyKey: uuid.New(),
		Applications:   []ap.ApplicationInput{{BillID: bill.ID, Amount: 120_000}},
		ActorID:        1,
	}
	first, err := f.svc.RecordPayment(context.Background(), in)
	require.NoError(t, err)
	replay, err := f.svc.RecordPayment(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, first.ID, replay.ID)

	// Applied once.
	got, err := f.svc.GetBill(context.Background(), companyID, bill.ID)
	require.NoError(t, err)
	require.Zero(t, got.BalanceDue)
	require.Equal(t, int64(-120_000), f.store.Balance(f.cash.ID))
}

func TestClearPayment(t *testing.T) {
	f := newFixture(t)
	bill := f.approvedBill(t, "BILL-1", 90_000)
	payment, err := f.svc.RecordPayment(context.Background(), ap.RecordPaymentInput{
		CompanyID:    companyID,
		VendorID:     vendorID,
		Date:         time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		Currency:     "USD",
		Amount:       90_000,
		Applications: []ap.ApplicationInput{{BillID: bill.ID, Amount: 90_000}},
		ActorID:      1,
	})
	require.NoError(t, err)
	require.Equal(t, ap.PaymentPending, payment.Status)

	cleared, err := f.svc.ClearPayment(context.Background(), companyID, payment.ID, 1)
	require.NoError(t, err)
	require.Equal(t, ap.PaymentCleared, cleared.Status)
	require.True(t, hasAudit(f.store, "ap.payment.clear"))

	_, err = f.svc.ClearPayment(context.Background(), companyID, payment.ID, 1)
	require.Equal(t, shared.KindState, shared.KindOf(err))
}

func TestVoidPaymentRestoresBalances(t *testing.T) {
	f := newFixture(t)
	bill := f.approvedBill(t, "BILL-1", 120_000)

	payment, err := f.svc.RecordPayment(context.Background(), ap.RecordPaymentInput{
		CompanyID:    companyID,
		VendorID:     vendorID,
		Date:         time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		Currency:     "USD",
		Amount:       120_000,
		Applications: []ap.ApplicationInput{{BillID: bill.ID, Amount: 120_000}},
		ActorID:      1,
	})
	require.NoError(t, err)

	voided, err := f.svc.VoidPayment(context.Background(), companyID, payment.ID, 1, "wrong vendor account")
	require.NoError(t, err)
	require.Equal(t, ap.PaymentVoided, voided.Status)

	got, err := f.svc.GetBill(context.Background(), companyID, bill.ID)
	require.NoError(t, err)
	require.Equal(t, ap.BillApproved, got.Status)
	require.Equal(t, int64(120_000), got.BalanceDue)
	require.Zero(t, f.store.Balance(f.cash.ID))
	require.Equal(t, int64(120_000), f.store.Balance(f.apControl.ID))
}

func TestVoidPaymentTwice(t *testing.T) {
	f := newFixture(t)
	bill := f.approvedBill(t, "BILL-1", 50_000)
	payment, err := f.svc.RecordPayment(context.Background(), ap.RecordPaymentInput{
		CompanyID:    companyID,
		VendorID:     vendorID,
		Date:         time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		Currency:     "USD",
		Amount:       50_000,
		Applications: []ap.ApplicationInput{{BillID: bill.ID, Amount: 50_000}},
		ActorID:      1,
	})
	require.NoError(t, err)

	_, err = f.svc.VoidPayment(context.Background(), companyID, payment.ID, 1, "")
	require.NoError(t, err)
	_, err = f.svc.VoidPayment(context.Background(), companyID, payment.ID, 1, "")
	require.Equal(t, shared.KindConflict, shared.KindOf(err))
}

func TestVoidBillReversesPosting(t *testing.T) {
	f := newFixture(t)
	bill := f.approvedBill(t, "BILL-1", 75_000)

	voided, err := f.svc.VoidBill(context.Background(), companyID, bill.ID, 1, "duplicate entry")
	require.NoError(t, err)
	require.Equal(t, ap.BillVoided, voided.Status)
	require.Zero(t, f.store.Balance(f.expense.ID))
	require.Zero(t, f.store.Balance(f.apControl.ID))
}

func TestVoidBillWithPaymentsBlocked(t *testing.T) {
	f := newFixture(t)
	bill := f.approvedBill(t, "BILL-1", 80_000)
	_, err := f.svc.RecordPayment(context.Background(), ap.RecordPaymentInput{
		CompanyID:    companyID,
		VendorID:     vendorID,
		Date:         time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		Currency:     "USD",
		Amount:       30_000,
		Applications: []ap.ApplicationInput{{BillID: bill.ID, Amount: 30_000}},
		ActorID:      1,
	})
	require.NoError(t, err)

	_, err = f.svc.VoidBill(context.Background(), companyID, bill.ID, 1, "")
	require.Equal(t, shared.KindConflict, shared.KindOf(err))
}

func TestAgingBucketsOpenBills(t *testing.T) {
	f := newFixture(t)
	current := f.approvedBill(t, "BILL-1", 10_000)
	_ = current
	old := f.billInput("BILL-2", 20_000)
	old.Date = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	old.DueDate = time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	bill, err := f.svc.CreateBill(context.Background(), old)
	require.NoError(t, err)
	_, err = f.svc.SubmitBill(context.Background(), companyID, bill.ID, 1)
	require.NoError(t, err)
	_, err = f.svc.ApproveBill(context.Background(), companyID, bill.ID, 1)
	require.NoError(t, err)

	rows, err := f.svc.Aging(context.Background(), companyID, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, vendorID, rows[0].VendorID)
	require.Equal(t, int64(10_000), rows[0].Current)
	require.Equal(t, int64(20_000), rows[0].Days60)
	require.Equal(t, int64(30_000), rows[0].Total)
}
