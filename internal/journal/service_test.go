package journal_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/girderhq/girder/internal/coa"
	"github.com/girderhq/girder/internal/journal"
	"github.com/girderhq/girder/internal/shared"
	"github.com/girderhq/girder/internal/storage/memory"
)

type fixture struct {
	store   *memory.Store
	svc     *journal.Service
	cash    coa.Account
	revenue coa.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	coaSvc := coa.NewService(memory.NewCoaRepository(store), store.Audit())
	f := &fixture{
		store: store,
		svc:   journal.NewService(memory.NewJournalRepository(store), store.Audit(), nil),
	}
	f.cash = mustAccount(t, coaSvc, "1000", "Cash", coa.TypeAsset)
	f.revenue = mustAccount(t, coaSvc, "4000", "Contract Revenue", coa.TypeRevenue)
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

func (f *fixture) input(debit, credit int64) journal.CreateInput {
	return journal.CreateInput{
		CompanyID: 1,
		Date:      time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Currency:  "USD",
		CreatedBy: 1,
		Lines: []journal.LineInput{
			{AccountID: f.cash.ID, Debit: debit},
			{AccountID: f.revenue.ID, Credit: credit},
		},
	}
}

func TestCreateRejectsUnbalancedLines(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), f.input(50000, 48000), false)
	require.Error(t, err)
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestCreateRejectsSingleLine(t *testing.T) {
	f := newFixture(t)
	in := f.input(50000, 50000)
	in.Lines = in.Lines[:1]
	_, err := f.svc.Create(context.Background(), in, false)
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestCreateRejectsTwoSidedLine(t *testing.T) {
	f := newFixture(t)
	in := f.input(50000, 50000)
	in.Lines[0].Credit = 100
	_, err := f.svc.Create(context.Background(), in, false)
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestCreateDraftLeavesBalancesUntouched(t *testing.T) {
	f := newFixture(t)
	entry, err := f.svc.Create(context.Background(), f.input(50000, 50000), false)
	require.NoError(t, err)
	require.Equal(t, journal.StatusDraft, entry.Status)
	require.Zero(t, f.store.Balance(f.cash.ID))
	require.Zero(t, f.store.Balance(f.revenue.ID))
}

func TestPostAppliesBalanceDeltas(t *testing.T) {
	f := newFixture(t)
	entry, err := f.svc.Create(context.Background(), f.input(50000, 50000), false)
	require.NoError(t, err)

	posted, err := f.svc.Post(context.Background(), 1, entry.ID, 1)
	require.NoError(t, err)
	require.Equal(t, journal.StatusPosted, posted.Status)

	got, err := f.svc.Get(context.Background(), 1, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PostedAt)
	// Cash is debit-normal, revenue credit-normal: both increase.
	require.Equal(t, int64(50000), f.store.Balance(f.cash.ID))
	require.Equal(t, int64(50000), f.store.Balance(f.revenue.ID))
}

func TestPostTwiceIsStateError(t *testing.T) {
	f := newFixture(t)
	entry, err := f.svc.Create(context.Background(), f.input(50000, 50000), true)
	require.NoError(t, err)
	_, err = f.svc.Post(context.Background(), 1, entry.ID, 1)
	require.Equal(t, shared.KindState, shared.KindOf(err))
}

func TestCreateIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	in := f.input(50000, 50000)
	in.IdempotencyKey = uuid.New()

	first, err := f.svc.Create(context.Background(), in, true)
	require.NoError(t, err)
	replay, err := f.svc.Create(context.Background(), in, true)
	require.NoError(t, err)
	require.Equal(t, first.ID, replay.ID)
	// Balances applied once.
	require.Equal(t, int64(50000), f.store.Balance(f.cash.ID))
}

func TestUpdateDraftOnlyForDrafts(t *testing.T) {
	f := newFixture(t)
	entry, err := f.svc.Create(context.Background(), f.input(50000, 50000), false)
	require.NoError(t, err)

	updated, err := f.svc.UpdateDraft(context.Background(), journal.UpdateDraftInput{
		CompanyID: 1,
		EntryID:   entry.ID,
		Date:      entry.Date,
		Memo:      "revised",
		ActorID:   1,
		Lines: []journal.LineInput{
			{AccountID: f.cash.ID, Debit: 75000},
			{AccountID: f.revenue.ID, Credit: 75000},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "revised", updated.Memo)

	_, err = f.svc.Post(context.Background(), 1, entry.ID, 1)
	require.NoError(t, err)
	require.Equal(t, int64(75000), f.store.Balance(f.cash.ID))

	_, err = f.svc.UpdateDraft(context.Background(), journal.UpdateDraftInput{
		CompanyID: 1,
		EntryID:   entry.ID,
		Date:      entry.Date,
		ActorID:   1,
		Lines: []journal.LineInput{
			{AccountID: f.cash.ID, Debit: 100},
			{AccountID: f.revenue.ID, Credit: 100},
		},
	})
	require.Equal(t, shared.KindState, shared.KindOf(err))
}

func TestVoidCreatesReversalAndRestoresBalances(t *testing.T) {
	f := newFixture(t)
	entry, err := f.svc.Create(context.Background(), f.input(50000, 50000), true)
	require.NoError(t, err)

	original, reversal, err := f.svc.Void(context.Background(), journal.VoidInput{
		CompanyID: 1,
		EntryID:   entry.ID,
		ActorID:   1,
		Reason:    "keyed against wrong job",
	})
	require.NoError(t, err)
	require.Equal(t, journal.StatusVoided, original.Status)
	require.Equal(t, journal.StatusPosted, reversal.Status)
	require.NotNil(t, original.ReversedBy)
	require.Equal(t, reversal.ID, *original.ReversedBy)

	stored, err := f.svc.Get(context.Background(), 1, reversal.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ReversalOf)
	require.Equal(t, original.ID, *stored.ReversalOf)
	require.Zero(t, f.store.Balance(f.cash.ID))
	require.Zero(t, f.store.Balance(f.revenue.ID))
}

func TestVoidTwiceIsConflict(t *testing.T) {
	f := newFixture(t)
	entry, err := f.svc.Create(context.Background(), f.input(50000, 50000), true)
	require.NoError(t, err)

	_, _, err = f.svc.Void(context.Background(), journal.VoidInput{CompanyID: 1, EntryID: entry.ID, ActorID: 1})
	require.NoError(t, err)
	_, _, err = f.svc.Void(context.Background(), journal.VoidInput{CompanyID: 1, EntryID: entry.ID, ActorID: 1})
	require.Equal(t, shared.KindConflict, shared.KindOf(err))
}

func TestVoidDraftIsStateError(t *testing.T) {
	f := newFixture(t)
	entry, err := f.svc.Create(context.Background(), f.input(50000, 50000), false)
	require.NoError(t, err)
	_, _, err = f.svc.Void(context.Background(), journal.VoidInput{CompanyID: 1, EntryID: entry.ID, ActorID: 1})
	require.Equal(t, shared.KindState, shared.KindOf(err))
}

func TestPostToInactiveAccountIsReferential(t *testing.T) {
	f := newFixture(t)
	coaSvc := coa.NewService(memory.NewCoaRepository(f.store), f.store.Audit())
	require.NoError(t, coaSvc.Deactivate(context.Background(), 1, f.revenue.ID, 1))

	_, err := f.svc.Create(context.Background(), f.input(50000, 50000), true)
	require.Equal(t, shared.KindReferential, shared.KindOf(err))
	// Failed posting rolls back entirely.
	require.Zero(t, f.store.Balance(f.cash.ID))
}
