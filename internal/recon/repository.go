// Package recon recomputes account balances from posted journal history and
// compares them to the cached running balances. The journal is the source of
// truth; any disagreement is drift to surface, never to silently repair.
package recon

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BalancePair is one account's cached balance next to the balance recomputed
// from posted lines, both in minor units.
type BalancePair struct {
	AccountID     int64
	Number        string
	NormalBalance string
	Cached        int64
	Computed      int64
}

// DocPair is one bill or invoice's cached balance due next to the balance
// recomputed from its amount minus live applications, both in minor units.
type DocPair struct {
	Entity   string
	ID       int64
	Number   string
	Cached   int64
	Computed int64
}

// Repository reads balance state for verification.
type Repository interface {
	BalancePairs(ctx context.Context, companyID int64) ([]BalancePair, error)
	DocPairs(ctx context.Context, companyID int64) ([]DocPair, error)
	CompanyIDs(ctx context.Context) ([]int64, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the pgx-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// BalancePairs recomputes each account's balance by summing posted journal
// lines signed by the account's normal balance.
func (r *repository) BalancePairs(ctx context.Context, companyID int64) ([]BalancePair, error) {
	rows, err := r.db.Query(ctx, `SELECT a.id, a.number, a.normal_balance, b.balance_minor,
  COALESCE(SUM(CASE WHEN a.normal_balance = 'debit'
    THEN l.debit_minor - l.credit_minor
    ELSE l.credit_minor - l.debit_minor END), 0)
FROM accounts a
JOIN account_balances b ON b.account_id = a.id
LEFT JOIN journal_lines l ON l.account_id = a.id
LEFT JOIN journal_entries e ON e.id = l.entry_id AND e.status IN ('posted','voided')
WHERE a.company_id = $1 AND (l.id IS NULL OR e.id IS NOT NULL)
GROUP BY a.id, a.number, a.normal_balance, b.balance_minor
ORDER BY a.number`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pairs []BalancePair
	for rows.Next() {
		var p BalancePair
		if err := rows.Scan(&p.AccountID, &p.Number, &p.NormalBalance, &p.Cached, &p.Computed); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// DocPairs recomputes each open bill's and invoice's balance due from its
// amount minus applications whose payment or receipt is still live. Voided
// documents keep their application rows, so those are filtered by status.
func (r *repository) DocPairs(ctx context.Context, companyID int64) ([]DocPair, error) {
	rows, err := r.db.Query(ctx, `SELECT 'bill', b.id, b.number, b.balance_due_minor,
  b.amount_minor - COALESCE(SUM(CASE WHEN p.id IS NOT NULL THEN a.amount_minor ELSE 0 END), 0)
FROM ap_bills b
LEFT JOIN ap_payment_applications a ON a.bill_id = b.id
LEFT JOIN ap_payments p ON p.id = a.payment_id AND p.status <> 'voided'
WHERE b.company_id = $1 AND b.status <> 'voided'
GROUP BY b.id, b.number, b.balance_due_minor, b.amount_minor
UNION ALL
SELECT 'invoice', i.id, i.number, i.balance_due_minor,
  i.amount_minor - COALESCE(SUM(CASE WHEN rc.id IS NOT NULL THEN a.amount_minor ELSE 0 END), 0)
FROM ar_invoices i
LEFT JOIN ar_receipt_applications a ON a.invoice_id = i.id
LEFT JOIN ar_receipts rc ON rc.id = a.receipt_id AND rc.status <> 'voided'
WHERE i.company_id = $1 AND i.status <> 'voided'
GROUP BY i.id, i.number, i.balance_due_minor, i.amount_minor
ORDER BY 1, 2`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pairs []DocPair
	for rows.Next() {
		var p DocPair
		if err := rows.Scan(&p.Entity, &p.ID, &p.Number, &p.Cached, &p.Computed); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

func (r *repository) CompanyIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT company_id FROM accounts ORDER BY company_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
