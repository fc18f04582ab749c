// Package posting maps subledger transactions onto balanced journal lines.
// The line builders are pure: given the same mapping and amounts they always
// produce the same lines, which keeps subledger postings reproducible.
package posting

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/girderhq/girder/internal/shared"
)

// Purpose names a control or default account role a company must map.
type Purpose string

const (
	PurposeAPControl Purpose = "ap_control"
	PurposeARControl Purpose = "ar_control"
	PurposeCash      Purpose = "cash"
	PurposeRevenue   Purpose = "revenue_default"
)

// AccountMap resolves each purpose to a GL account for one company.
type AccountMap struct {
	APControl int64
	ARControl int64
	Cash      int64
	Revenue   int64
}

// MapResolver loads a company's posting account map.
type MapResolver interface {
	Resolve(ctx context.Context, companyID int64) (AccountMap, error)
}

type resolver struct {
	db *pgxpool.Pool
}

// NewResolver returns the pgx-backed resolver over account_mappings.
func NewResolver(db *pgxpool.Pool) MapResolver {
	return &resolver{db: db}
}

func (r *resolver) Resolve(ctx context.Context, companyID int64) (AccountMap, error) {
	rows, err := r.db.Query(ctx, `SELECT purpose, account_id FROM account_mappings WHERE company_id=$1`, companyID)
	if err != nil {
		return AccountMap{}, err
	}
	defer rows.Close()
	var m AccountMap
	for rows.Next() {
		var purpose Purpose
		var accountID int64
		if err := rows.Scan(&purpose, &accountID); err != nil {
			return AccountMap{}, err
		}
		switch purpose {
		case PurposeAPControl:
			m.APControl = accountID
		case PurposeARControl:
			m.ARControl = accountID
		case PurposeCash:
			m.Cash = accountID
		case PurposeRevenue:
			m.Revenue = accountID
		}
	}
	if err := rows.Err(); err != nil {
		return AccountMap{}, err
	}
	if m.APControl == 0 || m.ARControl == 0 || m.Cash == 0 || m.Revenue == 0 {
		return AccountMap{}, shared.Referentialf("posting: account mappings incomplete for company %d", companyID)
	}
	return m, nil
}

// SetMapping upserts one purpose mapping for a company.
func (r *resolver) SetMapping(ctx context.Context, companyID int64, purpose Purpose, accountID int64) error {
	_, err := r.db.Exec(ctx, `INSERT INTO account_mappings (company_id, purpose, account_id) VALUES ($1,$2,$3)
ON CONFLICT (company_id, purpose) DO UPDATE SET account_id = EXCLUDED.account_id`, companyID, purpose, accountID)
	return err
}
