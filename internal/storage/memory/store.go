// Package memory provides in-memory implementations of the repository
// interfaces. It backs the service tests; behavior mirrors the pgx
// repositories, including lock-free snapshots for transaction rollback.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/girderhq/girder/internal/ap"
	"github.com/girderhq/girder/internal/ar"
	"github.com/girderhq/girder/internal/coa"
	"github.com/girderhq/girder/internal/journal"
	"github.com/girderhq/girder/internal/posting"
	"github.com/girderhq/girder/internal/shared"
)

// Store holds all ledger state behind one mutex. Every repository handed out
// by the constructors below shares it.
type Store struct {
	mu  sync.Mutex
	seq int64

	accounts map[int64]coa.Account
	balances map[int64]int64

	entries   map[int64]journal.Entry
	lines     map[int64][]journal.Line
	sources   map[string]int64
	entryKeys map[string]int64

	bills       map[int64]ap.Bill
	billLines   map[int64][]ap.BillLine
	payments    map[int64]ap.Payment
	payApps     map[int64][]ap.Application
	paymentKeys map[string]int64

	invoices    map[int64]ar.Invoice
	invLines    map[int64][]ar.InvoiceLine
	receipts    map[int64]ar.Receipt
	rcptApps    map[int64][]ar.Application
	receiptKeys map[string]int64

	vendors  map[string]bool
	clients  map[string]bool
	mappings map[int64]posting.AccountMap

	logs []shared.AuditLog
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		accounts:    map[int64]coa.Account{},
		balances:    map[int64]int64{},
		entries:     map[int64]journal.Entry{},
		lines:       map[int64][]journal.Line{},
		sources:     map[string]int64{},
		entryKeys:   map[string]int64{},
		bills:       map[int64]ap.Bill{},
		billLines:   map[int64][]ap.BillLine{},
		payments:    map[int64]ap.Payment{},
		payApps:     map[int64][]ap.Application{},
		paymentKeys: map[string]int64{},
		invoices:    map[int64]ar.Invoice{},
		invLines:    map[int64][]ar.InvoiceLine{},
		receipts:    map[int64]ar.Receipt{},
		rcptApps:    map[int64][]ar.Application{},
		receiptKeys: map[string]int64{},
		vendors:     map[string]bool{},
		clients:     map[string]bool{},
		mappings:    map[int64]posting.AccountMap{},
	}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// AddVendor registers a vendor for existence checks.
func (s *Store) AddVendor(companyID, vendorID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vendors[scopedKey(companyID, vendorID)] = true
}

// AddClient registers a client for existence checks.
func (s *Store) AddClient(companyID, clientID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[scopedKey(companyID, clientID)] = true
}

// SetMappings configures a company's posting account map.
func (s *Store) SetMappings(companyID int64, m posting.AccountMap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[companyID] = m
}

// Balance returns an account's cached balance in minor units.
func (s *Store) Balance(accountID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[accountID]
}

// AuditLogs returns every recorded audit entry.
func (s *Store) AuditLogs() []shared.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]shared.AuditLog, len(s.logs))
	copy(out, s.logs)
	return out
}

// Audit returns an audit recorder writing into the store.
func (s *Store) Audit() *AuditRecorder {
	return &AuditRecorder{store: s}
}

// AuditRecorder satisfies the services' audit ports.
type AuditRecorder struct {
	store *Store
}

// Record appends one audit log.
func (a *AuditRecorder) Record(_ context.Context, log shared.AuditLog) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	a.store.logs = append(a.store.logs, log)
	return nil
}

// snapshot deep-copies mutable state so a failed transaction can roll back.
func (s *Store) snapshot() *Store {
	snap := NewStore()
	snap.seq = s.seq
	for k, v := range s.accounts {
		snap.accounts[k] = v
	}
	for k, v := range s.balances {
		snap.balances[k] = v
	}
	for k, v := range s.entries {
		snap.entries[k] = v
	}
	for k, v := range s.lines {
		snap.lines[k] = append([]journal.Line(nil), v...)
	}
	for k, v := range s.sources {
		snap.sources[k] = v
	}
	for k, v := range s.entryKeys {
		snap.entryKeys[k] = v
	}
	for k, v := range s.bills {
		snap.bills[k] = v
	}
	for k, v := range s.billLines {
		snap.billLines[k] = append([]ap.BillLine(nil), v...)
	}
	for k, v := range s.payments {
		snap.payments[k] = v
	}
	for k, v := range s.payApps {
		snap.payApps[k] = append([]ap.Application(nil), v...)
	}
	for k, v := range s.paymentKeys {
		snap.paymentKeys[k] = v
	}
	for k, v := range s.invoices {
		snap.invoices[k] = v
	}
	for k, v := range s.invLines {
		snap.invLines[k] = append([]ar.InvoiceLine(nil), v...)
	}
	for k, v := range s.receipts {
		snap.receipts[k] = v
	}
	for k, v := range s.rcptApps {
		snap.rcptApps[k] = append([]ar.Application(nil), v...)
	}
	for k, v := range s.receiptKeys {
		snap.receiptKeys[k] = v
	}
	return snap
}

// restore puts back a snapshot taken before a failed transaction.
func (s *Store) restore(snap *Store) {
	s.seq = snap.seq
	s.accounts = snap.accounts
	s.balances = snap.balances
	s.entries = snap.entries
	s.lines = snap.lines
	s.sources = snap.sources
	s.entryKeys = snap.entryKeys
	s.bills = snap.bills
	s.billLines = snap.billLines
	s.payments = snap.payments
	s.payApps = snap.payApps
	s.paymentKeys = snap.paymentKeys
	s.invoices = snap.invoices
	s.invLines = snap.invLines
	s.receipts = snap.receipts
	s.rcptApps = snap.rcptApps
	s.receiptKeys = snap.receiptKeys
}

// withTx runs fn under the store lock with snapshot rollback on error.
func (s *Store) withTx(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	if err := fn(); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func scopedKey(companyID, id int64) string {
	return fmt.Sprintf("%d:%d", companyID, id)
}

func sourceKey(companyID int64, src journal.Source) string {
	return fmt.Sprintf("%d:%s:%s", companyID, src.Module, src.Ref)
}
