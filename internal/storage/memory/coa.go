package memory

import (
	"context"
	"sort"

	"github.com/girderhq/girder/internal/coa"
	"github.com/girderhq/girder/internal/journal"
	"github.com/girderhq/girder/internal/shared"
)

// CoaRepository implements coa.Repository over the store.
type CoaRepository struct {
	store *Store
}

// NewCoaRepository returns the in-memory chart of accounts repository.
func NewCoaRepository(store *Store) *CoaRepository {
	return &CoaRepository{store: store}
}

func (r *CoaRepository) getAccount(companyID, id int64) (coa.Account, error) {
	a, ok := r.store.accounts[id]
	if !ok || a.CompanyID != companyID {
		return coa.Account{}, shared.NotFoundf("coa: account not found")
	}
	return a, nil
}

func (r *CoaRepository) Get(_ context.Context, companyID, id int64) (coa.Account, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.getAccount(companyID, id)
}

func (r *CoaRepository) GetByNumber(_ context.Context, companyID int64, number string) (coa.Account, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, a := range r.store.accounts {
		if a.CompanyID == companyID && a.Number == number {
			return a, nil
		}
	}
	return coa.Account{}, shared.NotFoundf("coa: account not found")
}

func (r *CoaRepository) List(_ context.Context, companyID int64) ([]coa.Account, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []coa.Account
	for _, a := range r.store.accounts {
		if a.CompanyID == companyID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (r *CoaRepository) ListWithBalances(_ context.Context, companyID int64) ([]coa.AccountWithBalance, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []coa.AccountWithBalance
	for _, a := range r.store.accounts {
		if a.CompanyID == companyID {
			out = append(out, coa.AccountWithBalance{Account: a, Balance: r.store.balances[a.ID]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (r *CoaRepository) WithTx(ctx context.Context, fn func(context.Context, coa.TxRepository) error) error {
	return r.store.withTx(func() error {
		return fn(ctx, &coaTx{store: r.store})
	})
}

type coaTx struct {
	store *Store
}

func (t *coaTx) Insert(_ context.Context, a coa.Account) (coa.Account, error) {
	for _, existing := range t.store.accounts {
		if existing.CompanyID == a.CompanyID && existing.Number == a.Number {
			return coa.Account{}, shared.Conflictf("coa: account number %q already exists", a.Number)
		}
	}
	a.ID = t.store.nextID()
	t.store.accounts[a.ID] = a
	t.store.balances[a.ID] = 0
	return a, nil
}

func (t *coaTx) Update(_ context.Context, a coa.Account) error {
	if _, ok := t.store.accounts[a.ID]; !ok {
		return shared.NotFoundf("coa: account not found")
	}
	t.store.accounts[a.ID] = a
	return nil
}

func (t *coaTx) SetActive(_ context.Context, companyID, id int64, active bool) error {
	a, ok := t.store.accounts[id]
	if !ok || a.CompanyID != companyID {
		return shared.NotFoundf("coa: account not found")
	}
	a.Active = active
	t.store.accounts[id] = a
	return nil
}

func (t *coaTx) Get(_ context.Context, companyID, id int64) (coa.Account, error) {
	a, ok := t.store.accounts[id]
	if !ok || a.CompanyID != companyID {
		return coa.Account{}, shared.NotFoundf("coa: account not found")
	}
	return a, nil
}

func (t *coaTx) PostedLineCount(_ context.Context, accountID int64) (int64, error) {
	return t.countLines(accountID, func(st journal.Status) bool {
		return st == journal.StatusPosted || st == journal.StatusVoided
	}), nil
}

func (t *coaTx) DraftLineCount(_ context.Context, accountID int64) (int64, error) {
	return t.countLines(accountID, func(st journal.Status) bool {
		return st == journal.StatusDraft
	}), nil
}

func (t *coaTx) countLines(accountID int64, match func(journal.Status) bool) int64 {
	var n int64
	for entryID, lines := range t.store.lines {
		entry, ok := t.store.entries[entryID]
		if !ok || !match(entry.Status) {
			continue
		}
		for _, line := range lines {
			if line.AccountID == accountID {
				n++
			}
		}
	}
	return n
}

func (t *coaTx) CachedBalance(_ context.Context, companyID, accountID int64) (int64, error) {
	a, ok := t.store.accounts[accountID]
	if !ok || a.CompanyID != companyID {
		return 0, shared.NotFoundf("coa: account not found")
	}
	return t.store.balances[accountID], nil
}
