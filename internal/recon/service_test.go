package recon_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/girderhq/girder/internal/ap"
	"github.com/girderhq/girder/internal/coa"
	"github.com/girderhq/girder/internal/journal"
	"github.com/girderhq/girder/internal/posting"
	"github.com/girderhq/girder/internal/recon"
	"github.com/girderhq/girder/internal/storage/memory"
)

type driftRecorder struct {
	companyID int64
	total     int64
	calls     int
}

func (d *driftRecorder) VerifyDrift(companyID, totalAbsDrift int64) {
	d.companyID = companyID
	d.total = totalAbsDrift
	d.calls++
}

type fixture struct {
	store   *memory.Store
	svc     *recon.Service
	metrics *driftRecorder
	cash    coa.Account
	revenue coa.Account
}

func newFixture(t *testing.T, cache *recon.TrialBalanceCache) *fixture {
	t.Helper()
	store := memory.NewStore()
	coaSvc := coa.NewService(memory.NewCoaRepository(store), store.Audit())

	f := &fixture{store: store, metrics: &driftRecorder{}}
	f.cash = mustAccount(t, coaSvc, "1000", "Cash", coa.TypeAsset)
	f.revenue = mustAccount(t, coaSvc, "4000", "Revenue", coa.TypeRevenue)
	f.svc = recon.NewService(memory.NewReconRepository(store), cache, store.Audit(), f.metrics)
	return f
}

func mustAccount(t *testing.T, svc *coa.Service, number, name string, typ coa.AccountType) coa.Account {
	t.Helper()
	a, err := svc.Create(context.Background(), coa.CreateInput{
		CompanyID: 1,
		Number:    number,
		Name:      name,
		Type:      typ,
		ActorID:   1,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) post(t *testing.T, amount int64) journal.Entry {
	t.Helper()
	jSvc := journal.NewService(memory.NewJournalRepository(f.store), f.store.Audit(), nil)
	entry, err := jSvc.Create(context.Background(), journal.CreateInput{
		CompanyID: 1,
		Date:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Currency:  "USD",
		CreatedBy: 1,
		Lines: []journal.LineInput{
			{AccountID: f.cash.ID, Debit: amount},
			{AccountID: f.revenue.ID, Credit: amount},
		},
	}, true)
	require.NoError(t, err)
	return entry
}

func TestVerifyCleanLedger(t *testing.T) {
	f := newFixture(t, nil)
	f.post(t, 80_000)

	report, err := f.svc.Verify(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, report.Clean())
	require.Equal(t, 2, report.Accounts)
	require.Zero(t, report.TotalDrift)
	require.Equal(t, 1, f.metrics.calls)
	require.Zero(t, f.metrics.total)
}

func TestVerifyCleanAfterVoid(t *testing.T) {
	f := newFixture(t, nil)
	entry := f.post(t, 80_000)

	jSvc := journal.NewService(memory.NewJournalRepository(f.store), f.store.Audit(), nil)
	_, _, err := jSvc.Void(context.Background(), journal.VoidInput{CompanyID: 1, EntryID: entry.ID, ActorID: 1})
	require.NoError(t, err)

	// Voided entries stay in the recompute; the reversal cancels them out.
	report, err := f.svc.Verify(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, report.Clean())
}

func TestVerifyDetectsDrift(t *testing.T) {
	f := newFixture(t, nil)
	f.post(t, 80_000)
	f.store.Corrupt(f.cash.ID, 250)

	report, err := f.svc.Verify(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, report.Clean())
	require.Len(t, report.Drifts, 1)

	drift := report.Drifts[0]
	require.Equal(t, recon.EntityAccount, drift.Entity)
	require.Equal(t, f.cash.ID, drift.ID)
	require.Equal(t, int64(80_250), drift.Cached)
	require.Equal(t, int64(80_000), drift.Computed)
	require.Equal(t, int64(250), drift.Delta)
	require.Equal(t, int64(250), report.TotalDrift)
	require.Equal(t, int64(250), f.metrics.total)

	// Drift is surfaced, never repaired.
	require.Equal(t, int64(80_250), f.store.Balance(f.cash.ID))

	found := false
	for _, log := range f.store.AuditLogs() {
		if log.Action == "recon.drift_detected" {
			found = true
		}
	}
	require.True(t, found)
}

func TestVerifyDetectsBillBalanceDrift(t *testing.T) {
	store := memory.NewStore()
	coaSvc := coa.NewService(memory.NewCoaRepository(store), store.Audit())

	cash := mustAccount(t, coaSvc, "1000", "Cash", coa.TypeAsset)
	arControl := mustAccount(t, coaSvc, "1200", "AR Control", coa.TypeAsset)
	apControl := mustAccount(t, coaSvc, "2000", "AP Control", coa.TypeLiability)
	revenue := mustAccount(t, coaSvc, "4000", "Revenue", coa.TypeRevenue)
	expense := mustAccount(t, coaSvc, "5000", "Job Costs", coa.TypeExpense)
	store.SetMappings(1, posting.AccountMap{
		APControl: apControl.ID,
		ARControl: arControl.ID,
		Cash:      cash.ID,
		Revenue:   revenue.ID,
	})
	store.AddVendor(1, 10)

	apSvc := ap.NewService(
		memory.NewAPRepository(store),
		memory.NewMapResolver(store),
		memory.NewDirectory(store),
		store.Audit(),
		nil,
		1,
	)
	ctx := context.Background()
	bill, err := apSvc.CreateBill(ctx, ap.CreateBillInput{
		CompanyID: 1,
		VendorID:  10,
		Number:    "BILL-100",
		Date:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		DueDate:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Currency:  "USD",
		Amount:    100_000,
		Lines:     []ap.BillLineInput{{AccountID: expense.ID, Amount: 100_000}},
		ActorID:   1,
	})
	require.NoError(t, err)
	_, err = apSvc.SubmitBill(ctx, 1, bill.ID, 1)
	require.NoError(t, err)
	_, err = apSvc.ApproveBill(ctx, 1, bill.ID, 1)
	require.NoError(t, err)

	svc := recon.NewService(memory.NewReconRepository(store), nil, store.Audit(), nil)

	clean, err := svc.Verify(ctx, 1)
	require.NoError(t, err)
	require.True(t, clean.Clean())
	require.Equal(t, 1, clean.Documents)

	store.CorruptBill(bill.ID, -5_000)
	report, err := svc.Verify(ctx, 1)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)

	drift := report.Drifts[0]
	require.Equal(t, recon.EntityBill, drift.Entity)
	require.Equal(t, bill.ID, drift.ID)
	require.Equal(t, int64(95_000), drift.Cached)
	require.Equal(t, int64(100_000), drift.Computed)
	require.Equal(t, int64(-5_000), drift.Delta)
	require.Equal(t, int64(5_000), report.TotalDrift)
}

func TestVerifyAll(t *testing.T) {
	f := newFixture(t, nil)
	f.post(t, 10_000)

	reports, err := f.svc.VerifyAll(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, int64(1), reports[0].CompanyID)
}

func TestTrialBalanceColumns(t *testing.T) {
	f := newFixture(t, nil)
	f.post(t, 60_000)

	rows, err := f.svc.TrialBalance(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	var debit, credit int64
	for _, row := range rows {
		debit += row.Debit
		credit += row.Credit
	}
	require.Equal(t, debit, credit)
	require.Equal(t, "1000", rows[0].Number)
	require.Equal(t, int64(60_000), rows[0].Debit)
	require.Zero(t, rows[0].Credit)
	require.Equal(t, int64(60_000), rows[1].Credit)
}

func TestTrialBalanceNegativeBalanceFlipsColumn(t *testing.T) {
	f := newFixture(t, nil)
	f.post(t, 60_000)
	// Push cash negative: an overdrawn debit-normal account reports on the
	// credit column.
	f.store.Corrupt(f.cash.ID, -100_000)

	rows, err := f.svc.TrialBalance(context.Background(), 1)
	require.NoError(t, err)
	require.Zero(t, rows[0].Debit)
	require.Equal(t, int64(40_000), rows[0].Credit)
}

func TestTrialBalanceServedFromCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := recon.NewTrialBalanceCache(client, time.Minute)

	f := newFixture(t, cache)
	f.post(t, 60_000)

	first, err := f.svc.TrialBalance(context.Background(), 1)
	require.NoError(t, err)

	// A later balance change is invisible until the snapshot expires or is
	// invalidated.
	f.store.Corrupt(f.cash.ID, 5_000)
	cached, err := f.svc.TrialBalance(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, first, cached)

	cache.Invalidate(context.Background(), 1)
	fresh, err := f.svc.TrialBalance(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int64(65_000), fresh[0].Debit)
}

func TestTrialBalanceInvalidatedOnPosting(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := recon.NewTrialBalanceCache(client, time.Minute)

	f := newFixture(t, cache)
	jSvc := journal.NewService(memory.NewJournalRepository(f.store), f.store.Audit(), nil)
	jSvc.WithBalanceCache(cache)
	post := func(amount int64) {
		_, err := jSvc.Create(context.Background(), journal.CreateInput{
			CompanyID: 1,
			Date:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			Currency:  "USD",
			CreatedBy: 1,
			Lines: []journal.LineInput{
				{AccountID: f.cash.ID, Debit: amount},
				{AccountID: f.revenue.ID, Credit: amount},
			},
		}, true)
		require.NoError(t, err)
	}

	post(60_000)
	first, err := f.svc.TrialBalance(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int64(60_000), first[0].Debit)

	// Posting drops the snapshot, so the next read sees the new entry.
	post(15_000)
	fresh, err := f.svc.TrialBalance(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int64(75_000), fresh[0].Debit)
}

func TestTrialBalanceCacheNilClient(t *testing.T) {
	cache := recon.NewTrialBalanceCache(nil, time.Minute)
	f := newFixture(t, cache)
	f.post(t, 60_000)

	rows, err := f.svc.TrialBalance(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}
