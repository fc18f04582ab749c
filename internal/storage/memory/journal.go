package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/girderhq/girder/internal/journal"
	"github.com/girderhq/girder/internal/shared"
)

// JournalRepository implements journal.Repository over the store.
type JournalRepository struct {
	store *Store
}

// NewJournalRepository returns the in-memory journal repository.
func NewJournalRepository(store *Store) *JournalRepository {
	return &JournalRepository{store: store}
}

func (r *JournalRepository) Get(_ context.Context, companyID, id int64) (journal.Entry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return getEntry(r.store, companyID, id)
}

func (r *JournalRepository) GetByIdempotencyKey(_ context.Context, companyID int64, key uuid.UUID) (journal.Entry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	id, ok := r.store.entryKeys[scopedUUIDKey(companyID, key)]
	if !ok {
		return journal.Entry{}, shared.NotFoundf("journal: entry not found")
	}
	return getEntry(r.store, companyID, id)
}

func (r *JournalRepository) List(_ context.Context, companyID int64, filter journal.ListFilter) ([]journal.Entry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []journal.Entry
	for _, e := range r.store.entries {
		if e.CompanyID != companyID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.Source != "" && e.Source.Module != filter.Source {
			continue
		}
		if !filter.From.IsZero() && e.Date.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.Date.After(filter.To) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *JournalRepository) WithTx(ctx context.Context, fn func(context.Context, journal.TxRepository) error) error {
	return r.store.withTx(func() error {
		return fn(ctx, &journalTx{store: r.store})
	})
}

func getEntry(store *Store, companyID, id int64) (journal.Entry, error) {
	e, ok := store.entries[id]
	if !ok || e.CompanyID != companyID {
		return journal.Entry{}, shared.NotFoundf("journal: entry not found")
	}
	e.Lines = append([]journal.Line(nil), store.lines[id]...)
	return e, nil
}

// journalTx implements journal.TxRepository. The store lock is held by the
// enclosing transaction.
type journalTx struct {
	store *Store
}

func (t *journalTx) InsertEntry(_ context.Context, in journal.CreateInput, status journal.Status) (journal.Entry, error) {
	if in.IdempotencyKey != uuid.Nil {
		if _, exists := t.store.entryKeys[scopedUUIDKey(in.CompanyID, in.IdempotencyKey)]; exists {
			return journal.Entry{}, shared.Conflictf("journal: duplicate idempotency key")
		}
	}
	now := time.Now()
	e := journal.Entry{
		ID:        t.store.nextID(),
		CompanyID: in.CompanyID,
		Date:      in.Date,
		Reference: in.Reference,
		Memo:      in.Memo,
		Currency:  in.Currency,
		Source:    in.Source,
		Status:    status,
		CreatedBy: in.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.store.entries[e.ID] = e
	if in.IdempotencyKey != uuid.Nil {
		t.store.entryKeys[scopedUUIDKey(in.CompanyID, in.IdempotencyKey)] = e.ID
	}
	return e, nil
}

func (t *journalTx) InsertLines(_ context.Context, entryID int64, lines []journal.LineInput) error {
	for _, in := range lines {
		t.store.lines[entryID] = append(t.store.lines[entryID], journal.Line{
			ID:        t.store.nextID(),
			EntryID:   entryID,
			AccountID: in.AccountID,
			Debit:     in.Debit,
			Credit:    in.Credit,
			JobID:     in.JobID,
			CostCode:  in.CostCode,
			VendorID:  in.VendorID,
			ClientID:  in.ClientID,
		})
	}
	return nil
}

func (t *journalTx) LinkSource(_ context.Context, companyID int64, src journal.Source, entryID int64) error {
	key := sourceKey(companyID, src)
	if _, exists := t.store.sources[key]; exists {
		return shared.Conflictf("journal: source %s/%s already posted", src.Module, src.Ref)
	}
	t.store.sources[key] = entryID
	return nil
}

func (t *journalTx) GetEntryForUpdate(_ context.Context, companyID, id int64) (journal.Entry, error) {
	e, ok := t.store.entries[id]
	if !ok || e.CompanyID != companyID {
		return journal.Entry{}, shared.NotFoundf("journal: entry not found")
	}
	return e, nil
}

func (t *journalTx) GetLines(_ context.Context, entryID int64) ([]journal.Line, error) {
	return append([]journal.Line(nil), t.store.lines[entryID]...), nil
}

func (t *journalTx) UpdateEntryStatus(_ context.Context, id int64, status journal.Status) error {
	e, ok := t.store.entries[id]
	if !ok {
		return shared.NotFoundf("journal: entry not found")
	}
	now := time.Now()
	e.Status = status
	e.UpdatedAt = now
	switch status {
	case journal.StatusPosted:
		e.PostedAt = &now
	case journal.StatusVoided:
		e.VoidedAt = &now
	}
	t.store.entries[id] = e
	return nil
}

func (t *journalTx) SetReversal(_ context.Context, originalID, reversalID int64) error {
	original, ok := t.store.entries[originalID]
	if !ok {
		return shared.NotFoundf("journal: entry not found")
	}
	reversal, ok := t.store.entries[reversalID]
	if !ok {
		return shared.NotFoundf("journal: entry not found")
	}
	original.ReversedBy = &reversal.ID
	reversal.ReversalOf = &original.ID
	t.store.entries[originalID] = original
	t.store.entries[reversalID] = reversal
	return nil
}

func (t *journalTx) ReplaceDraft(ctx context.Context, in journal.UpdateDraftInput) error {
	e, ok := t.store.entries[in.EntryID]
	if !ok || e.CompanyID != in.CompanyID || e.Status != journal.StatusDraft {
		return shared.NotFoundf("journal: draft entry not found")
	}
	e.Date = in.Date
	e.Reference = in.Reference
	e.Memo = in.Memo
	e.UpdatedAt = time.Now()
	t.store.entries[in.EntryID] = e
	t.store.lines[in.EntryID] = nil
	return t.InsertLines(ctx, in.EntryID, in.Lines)
}

func (t *journalTx) AccountsForPosting(_ context.Context, companyID int64, ids []int64) ([]journal.PostingAccount, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var out []journal.PostingAccount
	for _, id := range sorted {
		a, ok := t.store.accounts[id]
		if !ok || a.CompanyID != companyID {
			continue
		}
		out = append(out, journal.PostingAccount{ID: a.ID, NormalBalance: a.NormalBalance, Active: a.Active})
	}
	return out, nil
}

func (t *journalTx) ApplyBalanceDeltas(_ context.Context, companyID int64, deltas []journal.BalanceDelta) error {
	for _, d := range deltas {
		a, ok := t.store.accounts[d.AccountID]
		if !ok || a.CompanyID != companyID {
			return shared.Fatalf("journal: balance row missing for account %d", d.AccountID)
		}
		t.store.balances[d.AccountID] += d.Delta
	}
	return nil
}

func scopedUUIDKey(companyID int64, key uuid.UUID) string {
	return fmt.Sprintf("%d:%s", companyID, key)
}
