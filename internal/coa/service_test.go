package coa_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/girderhq/girder/internal/coa"
	"github.com/girderhq/girder/internal/journal"
	"github.com/girderhq/girder/internal/shared"
	"github.com/girderhq/girder/internal/storage/memory"
)

func newService(t *testing.T) (*memory.Store, *coa.Service) {
	t.Helper()
	store := memory.NewStore()
	return store, coa.NewService(memory.NewCoaRepository(store), store.Audit())
}

func create(t *testing.T, svc *coa.Service, in coa.CreateInput) coa.Account {
	t.Helper()
	if in.CompanyID == 0 {
		in.CompanyID = 1
	}
	in.ActorID = 1
	a, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	return a
}

func TestCreateAccountDefaultsNormalBalance(t *testing.T) {
	_, svc := newService(t)
	a := create(t, svc, coa.CreateInput{Number: "1000", Name: "Cash", Type: coa.TypeAsset})
	require.Equal(t, coa.NormalDebit, a.NormalBalance)
	require.True(t, a.Active)

	b := create(t, svc, coa.CreateInput{Number: "2000", Name: "Accounts Payable", Type: coa.TypeLiability})
	require.Equal(t, coa.NormalCredit, b.NormalBalance)
}

func TestCreateAccountRejectsMismatchedNormalBalance(t *testing.T) {
	_, svc := newService(t)
	_, err := svc.Create(context.Background(), coa.CreateInput{
		CompanyID:     1,
		Number:        "1000",
		Name:          "Cash",
		Type:          coa.TypeAsset,
		NormalBalance: coa.NormalCredit,
	})
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestCreateAccountDuplicateNumber(t *testing.T) {
	_, svc := newService(t)
	create(t, svc, coa.CreateInput{Number: "1000", Name: "Cash", Type: coa.TypeAsset})
	_, err := svc.Create(context.Background(), coa.CreateInput{
		CompanyID: 1,
		Number:    "1000",
		Name:      "Petty Cash",
		Type:      coa.TypeAsset,
	})
	require.Equal(t, shared.KindConflict, shared.KindOf(err))
}

func TestCreateAccountUnknownParent(t *testing.T) {
	_, svc := newService(t)
	missing := int64(999)
	_, err := svc.Create(context.Background(), coa.CreateInput{
		CompanyID: 1,
		Number:    "1010",
		Name:      "Job Cash",
		Type:      coa.TypeAsset,
		ParentID:  &missing,
	})
	require.Equal(t, shared.KindReferential, shared.KindOf(err))
}

func TestUpdateAccountParentCycle(t *testing.T) {
	_, svc := newService(t)
	root := create(t, svc, coa.CreateInput{Number: "5000", Name: "Job Costs", Type: coa.TypeExpense})
	child := create(t, svc, coa.CreateInput{Number: "5100", Name: "Materials", Type: coa.TypeExpense, ParentID: &root.ID})

	_, err := svc.Update(context.Background(), coa.UpdateInput{
		CompanyID: 1,
		ID:        root.ID,
		ParentID:  &child.ID,
		ActorID:   1,
	})
	require.Equal(t, shared.KindValidation, shared.KindOf(err))

	_, err = svc.Update(context.Background(), coa.UpdateInput{
		CompanyID: 1,
		ID:        root.ID,
		ParentID:  &root.ID,
		ActorID:   1,
	})
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestUpdateAccountTypeFrozenAfterPosting(t *testing.T) {
	store, svc := newService(t)
	cash := create(t, svc, coa.CreateInput{Number: "1000", Name: "Cash", Type: coa.TypeAsset})
	revenue := create(t, svc, coa.CreateInput{Number: "4000", Name: "Revenue", Type: coa.TypeRevenue})

	jSvc := journal.NewService(memory.NewJournalRepository(store), store.Audit(), nil)
	_, err := jSvc.Create(context.Background(), journal.CreateInput{
		CompanyID: 1,
		Date:      time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Currency:  "USD",
		CreatedBy: 1,
		Lines: []journal.LineInput{
			{AccountID: cash.ID, Debit: 1000},
			{AccountID: revenue.ID, Credit: 1000},
		},
	}, true)
	require.NoError(t, err)

	newType := coa.TypeLiability
	_, err = svc.Update(context.Background(), coa.UpdateInput{
		CompanyID: 1,
		ID:        cash.ID,
		Type:      &newType,
		ActorID:   1,
	})
	require.Equal(t, shared.KindReferential, shared.KindOf(err))
}

func TestUpdateAccountTypeBeforePosting(t *testing.T) {
	_, svc := newService(t)
	a := create(t, svc, coa.CreateInput{Number: "6000", Name: "Misc", Type: coa.TypeExpense})

	newType := coa.TypeCOGS
	updated, err := svc.Update(context.Background(), coa.UpdateInput{
		CompanyID: 1,
		ID:        a.ID,
		Type:      &newType,
		ActorID:   1,
	})
	require.NoError(t, err)
	require.Equal(t, coa.TypeCOGS, updated.Type)
	require.Equal(t, coa.NormalDebit, updated.NormalBalance)
}

func TestDeactivateAccount(t *testing.T) {
	_, svc := newService(t)
	a := create(t, svc, coa.CreateInput{Number: "1500", Name: "Old Equipment", Type: coa.TypeAsset})

	require.NoError(t, svc.Deactivate(context.Background(), 1, a.ID, 1))

	got, err := svc.Get(context.Background(), 1, a.ID)
	require.NoError(t, err)
	require.False(t, got.Active)

	err = svc.Deactivate(context.Background(), 1, a.ID, 1)
	require.Equal(t, shared.KindState, shared.KindOf(err))
}

func TestDeactivateAccountWithBalance(t *testing.T) {
	store, svc := newService(t)
	cash := create(t, svc, coa.CreateInput{Number: "1000", Name: "Cash", Type: coa.TypeAsset})
	revenue := create(t, svc, coa.CreateInput{Number: "4000", Name: "Revenue", Type: coa.TypeRevenue})

	jSvc := journal.NewService(memory.NewJournalRepository(store), store.Audit(), nil)
	_, err := jSvc.Create(context.Background(), journal.CreateInput{
		CompanyID: 1,
		Date:      time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Currency:  "USD",
		CreatedBy: 1,
		Lines: []journal.LineInput{
			{AccountID: cash.ID, Debit: 2500},
			{AccountID: revenue.ID, Credit: 2500},
		},
	}, true)
	require.NoError(t, err)

	err = svc.Deactivate(context.Background(), 1, cash.ID, 1)
	require.Equal(t, shared.KindReferential, shared.KindOf(err))
}

func TestDeactivateSystemAccount(t *testing.T) {
	_, svc := newService(t)
	a := create(t, svc, coa.CreateInput{Number: "2000", Name: "AP Control", Type: coa.TypeLiability, System: true})
	err := svc.Deactivate(context.Background(), 1, a.ID, 1)
	require.Equal(t, shared.KindReferential, shared.KindOf(err))
}

func TestDeactivateAccountReferencedByDraft(t *testing.T) {
	store, svc := newService(t)
	cash := create(t, svc, coa.CreateInput{Number: "1000", Name: "Cash", Type: coa.TypeAsset})
	revenue := create(t, svc, coa.CreateInput{Number: "4000", Name: "Revenue", Type: coa.TypeRevenue})

	jSvc := journal.NewService(memory.NewJournalRepository(store), store.Audit(), nil)
	_, err := jSvc.Create(context.Background(), journal.CreateInput{
		CompanyID: 1,
		Date:      time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Currency:  "USD",
		CreatedBy: 1,
		Lines: []journal.LineInput{
			{AccountID: cash.ID, Debit: 900},
			{AccountID: revenue.ID, Credit: 900},
		},
	}, false)
	require.NoError(t, err)

	err = svc.Deactivate(context.Background(), 1, revenue.ID, 1)
	require.Equal(t, shared.KindReferential, shared.KindOf(err))
}

func TestTreeRollsUpChildBalances(t *testing.T) {
	store, svc := newService(t)
	costs := create(t, svc, coa.CreateInput{Number: "5000", Name: "Job Costs", Type: coa.TypeExpense})
	materials := create(t, svc, coa.CreateInput{Number: "5100", Name: "Materials", Type: coa.TypeExpense, ParentID: &costs.ID})
	labor := create(t, svc, coa.CreateInput{Number: "5200", Name: "Labor", Type: coa.TypeExpense, ParentID: &costs.ID})
	cash := create(t, svc, coa.CreateInput{Number: "1000", Name: "Cash", Type: coa.TypeAsset})

	jSvc := journal.NewService(memory.NewJournalRepository(store), store.Audit(), nil)
	_, err := jSvc.Create(context.Background(), journal.CreateInput{
		CompanyID: 1,
		Date:      time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Currency:  "USD",
		CreatedBy: 1,
		Lines: []journal.LineInput{
			{AccountID: materials.ID, Debit: 3000},
			{AccountID: labor.ID, Debit: 2000},
			{AccountID: cash.ID, Credit: 5000},
		},
	}, true)
	require.NoError(t, err)

	roots, err := svc.Tree(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, roots, 2)
	require.Equal(t, "1000", roots[0].Account.Number)

	node := roots[1]
	require.Equal(t, "5000", node.Account.Number)
	require.Zero(t, node.Balance)
	require.Equal(t, int64(5000), node.RolledUp)
	require.Len(t, node.Children, 2)
	require.Equal(t, "5100", node.Children[0].Account.Number)
	require.Equal(t, int64(3000), node.Children[0].RolledUp)
}

func TestListWithBalances(t *testing.T) {
	store, svc := newService(t)
	cash := create(t, svc, coa.CreateInput{Number: "1000", Name: "Cash", Type: coa.TypeAsset})
	revenue := create(t, svc, coa.CreateInput{Number: "4000", Name: "Revenue", Type: coa.TypeRevenue})

	jSvc := journal.NewService(memory.NewJournalRepository(store), store.Audit(), nil)
	_, err := jSvc.Create(context.Background(), journal.CreateInput{
		CompanyID: 1,
		Date:      time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Currency:  "USD",
		CreatedBy: 1,
		Lines: []journal.LineInput{
			{AccountID: cash.ID, Debit: 4200},
			{AccountID: revenue.ID, Credit: 4200},
		},
	}, true)
	require.NoError(t, err)

	rows, err := svc.ListWithBalances(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "1000", rows[0].Number)
	require.Equal(t, int64(4200), rows[0].Balance)
	require.Equal(t, int64(4200), rows[1].Balance)
}
