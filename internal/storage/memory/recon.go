package memory

import (
	"context"
	"sort"

	"github.com/girderhq/girder/internal/ap"
	"github.com/girderhq/girder/internal/ar"
	"github.com/girderhq/girder/internal/coa"
	"github.com/girderhq/girder/internal/journal"
	"github.com/girderhq/girder/internal/recon"
)

// ReconRepository implements recon.Repository over the store.
type ReconRepository struct {
	store *Store
}

// NewReconRepository returns the in-memory reconciliation repository.
func NewReconRepository(store *Store) *ReconRepository {
	return &ReconRepository{store: store}
}

// BalancePairs recomputes each account's balance from posted and voided
// entries, matching what the cached balance should hold.
func (r *ReconRepository) BalancePairs(_ context.Context, companyID int64) ([]recon.BalancePair, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	computed := map[int64]int64{}
	for entryID, lines := range r.store.lines {
		entry, ok := r.store.entries[entryID]
		if !ok || entry.CompanyID != companyID {
			continue
		}
		if entry.Status != journal.StatusPosted && entry.Status != journal.StatusVoided {
			continue
		}
		for _, line := range lines {
			a, ok := r.store.accounts[line.AccountID]
			if !ok {
				continue
			}
			delta := line.Debit - line.Credit
			if a.NormalBalance == coa.NormalCredit {
				delta = -delta
			}
			computed[line.AccountID] += delta
		}
	}
	var pairs []recon.BalancePair
	for id, a := range r.store.accounts {
		if a.CompanyID != companyID {
			continue
		}
		pairs = append(pairs, recon.BalancePair{
			AccountID:     id,
			Number:        a.Number,
			NormalBalance: string(a.NormalBalance),
			Cached:        r.store.balances[id],
			Computed:      computed[id],
		})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Number < pairs[j].Number })
	return pairs, nil
}

// DocPairs recomputes bill and invoice balances from amount minus
// applications whose payment or receipt is still live.
func (r *ReconRepository) DocPairs(_ context.Context, companyID int64) ([]recon.DocPair, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	appliedToBill := map[int64]int64{}
	for paymentID, apps := range r.store.payApps {
		p, ok := r.store.payments[paymentID]
		if !ok || p.Status == ap.PaymentVoided {
			continue
		}
		for _, app := range apps {
			appliedToBill[app.BillID] += app.Amount
		}
	}
	appliedToInvoice := map[int64]int64{}
	for receiptID, apps := range r.store.rcptApps {
		rc, ok := r.store.receipts[receiptID]
		if !ok || rc.Status == ar.ReceiptVoided {
			continue
		}
		for _, app := range apps {
			appliedToInvoice[app.InvoiceID] += app.Amount
		}
	}

	var pairs []recon.DocPair
	for id, b := range r.store.bills {
		if b.CompanyID != companyID || b.Status == ap.BillVoided {
			continue
		}
		pairs = append(pairs, recon.DocPair{
			Entity:   recon.EntityBill,
			ID:       id,
			Number:   b.Number,
			Cached:   b.BalanceDue,
			Computed: b.Amount - appliedToBill[id],
		})
	}
	for id, inv := range r.store.invoices {
		if inv.CompanyID != companyID || inv.Status == ar.InvoiceVoided {
			continue
		}
		pairs = append(pairs, recon.DocPair{
			Entity:   recon.EntityInvoice,
			ID:       id,
			Number:   inv.Number,
			Cached:   inv.BalanceDue,
			Computed: inv.Amount - appliedToInvoice[id],
		})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Entity != pairs[j].Entity {
			return pairs[i].Entity < pairs[j].Entity
		}
		return pairs[i].ID < pairs[j].ID
	})
	return pairs, nil
}

func (r *ReconRepository) CompanyIDs(_ context.Context) ([]int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	seen := map[int64]bool{}
	var ids []int64
	for _, a := range r.store.accounts {
		if !seen[a.CompanyID] {
			seen[a.CompanyID] = true
			ids = append(ids, a.CompanyID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Corrupt shifts one cached account balance, for drift tests.
func (s *Store) Corrupt(accountID, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[accountID] += delta
}

// CorruptBill shifts one bill's cached balance due, for drift tests.
func (s *Store) CorruptBill(billID, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bills[billID]
	b.BalanceDue += delta
	s.bills[billID] = b
}
