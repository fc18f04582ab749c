// Package directory answers existence checks for counterparties. Vendor and
// client master data is owned elsewhere; the ledger only verifies references.
package directory

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Directory reports whether counterparties exist for a company.
type Directory interface {
	VendorExists(ctx context.Context, companyID, vendorID int64) (bool, error)
	ClientExists(ctx context.Context, companyID, clientID int64) (bool, error)
}

type pgDirectory struct {
	db *pgxpool.Pool
}

// New returns the pgx-backed directory.
func New(db *pgxpool.Pool) Directory {
	return &pgDirectory{db: db}
}

func (d *pgDirectory) VendorExists(ctx context.Context, companyID, vendorID int64) (bool, error) {
	var exists bool
	err := d.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM vendors WHERE company_id=$1 AND id=$2 AND active)`, companyID, vendorID).Scan(&exists)
	return exists, err
}

func (d *pgDirectory) ClientExists(ctx context.Context, companyID, clientID int64) (bool, error) {
	var exists bool
	err := d.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM clients WHERE company_id=$1 AND id=$2 AND active)`, companyID, clientID).Scan(&exists)
	return exists, err
}
