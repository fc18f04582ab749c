package ar

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/girderhq/girder/internal/journal"
	"github.com/girderhq/girder/internal/shared"
)

// Repository encapsulates DB operations for the AR subledger.
type Repository interface {
	GetInvoice(ctx context.Context, companyID, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, companyID int64, filter InvoiceFilter) ([]Invoice, error)
	GetReceipt(ctx context.Context, companyID, id int64) (Receipt, error)
	ListReceipts(ctx context.Context, companyID int64, clientID int64, limit, offset int) ([]Receipt, error)
	GetReceiptByIdempotencyKey(ctx context.Context, companyID int64, key uuid.UUID) (Receipt, error)
	Aging(ctx context.Context, companyID int64, asOf time.Time) ([]AgingRow, error)
	// MarkOverdue flips open invoices past due to overdue across all
	// companies and returns how many changed.
	MarkOverdue(ctx context.Context, asOf time.Time) (int64, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// InvoiceFilter narrows invoice listings.
type InvoiceFilter struct {
	ClientID int64
	Status   InvoiceStatus
	Limit    int
	Offset   int
}

// TxRepository exposes AR mutations within a transaction, plus a journal
// view of the same transaction so postings commit with the subledger change.
type TxRepository interface {
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	InsertInvoiceLines(ctx context.Context, invoiceID int64, lines []InvoiceLine) error
	GetInvoiceForUpdate(ctx context.Context, companyID, id int64) (Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus, entryID *int64) error
	AdjustInvoiceBalance(ctx context.Context, id int64, delta int64, status InvoiceStatus) error
	InsertReceipt(ctx context.Context, rc Receipt) (Receipt, error)
	InsertApplications(ctx context.Context, receiptID int64, apps []Application) error
	GetReceiptForUpdate(ctx context.Context, companyID, id int64) (Receipt, error)
	GetApplications(ctx context.Context, receiptID int64) ([]Application, error)
	UpdateReceiptStatus(ctx context.Context, id int64, status ReceiptStatus, entryID *int64) error

	Journal() journal.TxRepository
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the pgx-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const invoiceCols = `id, company_id, client_id, number, date, due_date, currency, amount_minor, balance_due_minor, status, memo, entry_id, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.CompanyID, &inv.ClientID, &inv.Number, &inv.Date, &inv.DueDate, &inv.Currency, &inv.Amount, &inv.BalanceDue, &inv.Status, &inv.Memo, &inv.EntryID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, shared.NotFoundf("ar: invoice not found")
		}
		return Invoice{}, err
	}
	return inv, nil
}

const receiptCols = `id, company_id, client_id, date, currency, amount_minor, applied_minor, method, reference, status, entry_id, idempotency_key, created_at`

func scanReceipt(row pgx.Row) (Receipt, error) {
	var rc Receipt
	var key *uuid.UUID
	err := row.Scan(&rc.ID, &rc.CompanyID, &rc.ClientID, &rc.Date, &rc.Currency, &rc.Amount, &rc.Applied, &rc.Method, &rc.Reference, &rc.Status, &rc.EntryID, &key, &rc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Receipt{}, shared.NotFoundf("ar: receipt not found")
		}
		return Receipt{}, err
	}
	if key != nil {
		rc.IdempotencyKey = *key
	}
	return rc, nil
}

func (r *repository) GetInvoice(ctx context.Context, companyID, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.db.QueryRow(ctx, `SELECT `+invoiceCols+` FROM ar_invoices WHERE company_id=$1 AND id=$2`, companyID, id))
	if err != nil {
		return Invoice{}, err
	}
	inv.Lines, err = queryInvoiceLines(ctx, r.db, id)
	return inv, err
}

func (r *repository) ListInvoices(ctx context.Context, companyID int64, filter InvoiceFilter) ([]Invoice, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `SELECT `+invoiceCols+` FROM ar_invoices
WHERE company_id=$1 AND ($2=0 OR client_id=$2) AND ($3='' OR status=$3)
ORDER BY id DESC LIMIT $4 OFFSET $5`, companyID, filter.ClientID, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func (r *repository) GetReceipt(ctx context.Context, companyID, id int64) (Receipt, error) {
	rc, err := scanReceipt(r.db.QueryRow(ctx, `SELECT `+receiptCols+` FROM ar_receipts WHERE company_id=$1 AND id=$2`, companyID, id))
	if err != nil {
		return Receipt{}, err
	}
	rc.Applications, err = queryApplications(ctx, r.db, id)
	return rc, err
}

func (r *repository) GetReceiptByIdempotencyKey(ctx context.Context, companyID int64, key uuid.UUID) (Receipt, error) {
	rc, err := scanReceipt(r.db.QueryRow(ctx, `SELECT `+receiptCols+` FROM ar_receipts WHERE company_id=$1 AND idempotency_key=$2`, companyID, key))
	if err != nil {
		return Receipt{}, err
	}
	rc.Applications, err = queryApplications(ctx, r.db, rc.ID)
	return rc, err
}

func (r *repository) ListReceipts(ctx context.Context, companyID int64, clientID int64, limit, offset int) ([]Receipt, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `SELECT `+receiptCols+` FROM ar_receipts
WHERE company_id=$1 AND ($2=0 OR client_id=$2) ORDER BY id DESC LIMIT $3 OFFSET $4`, companyID, clientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var receipts []Receipt
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, rc)
	}
	return receipts, rows.Err()
}

// Aging buckets open invoice balances by days past due as of the given date.
func (r *repository) Aging(ctx context.Context, companyID int64, asOf time.Time) ([]AgingRow, error) {
	rows, err := r.db.Query(ctx, `SELECT client_id,
  COALESCE(SUM(balance_due_minor) FILTER (WHERE due_date >= $2), 0),
  COALESCE(SUM(balance_due_minor) FILTER (WHERE due_date < $2 AND due_date >= $2 - INTERVAL '30 days'), 0),
  COALESCE(SUM(balance_due_minor) FILTER (WHERE due_date < $2 - INTERVAL '30 days' AND due_date >= $2 - INTERVAL '60 days'), 0),
  COALESCE(SUM(balance_due_minor) FILTER (WHERE due_date < $2 - INTERVAL '60 days' AND due_date >= $2 - INTERVAL '90 days'), 0),
  COALESCE(SUM(balance_due_minor) FILTER (WHERE due_date < $2 - INTERVAL '90 days'), 0),
  COALESCE(SUM(balance_due_minor), 0)
FROM ar_invoices
WHERE company_id=$1 AND status IN ('approved','partially_paid','overdue') AND balance_due_minor > 0
GROUP BY client_id ORDER BY client_id`, companyID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AgingRow
	for rows.Next() {
		var row AgingRow
		if err := rows.Scan(&row.ClientID, &row.Current, &row.Days30, &row.Days60, &row.Days90, &row.Over90, &row.Total); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *repository) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE ar_invoices SET status='overdue', updated_at=NOW()
WHERE status IN ('approved','partially_paid') AND due_date < $1 AND balance_due_minor > 0`, asOf)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Journal() journal.TxRepository {
	return journal.NewTxRepository(r.tx)
}

func (r *txRepository) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO ar_invoices (company_id, client_id, number, date, due_date, currency, amount_minor, balance_due_minor, status, memo)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id, created_at, updated_at`,
		inv.CompanyID, inv.ClientID, inv.Number, inv.Date, inv.DueDate, inv.Currency, inv.Amount, inv.BalanceDue, inv.Status, inv.Memo)
	if err := row.Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Invoice{}, shared.Conflictf("ar: invoice number %q already exists", inv.Number)
		}
		return Invoice{}, err
	}
	return inv, nil
}

func (r *txRepository) InsertInvoiceLines(ctx context.Context, invoiceID int64, lines []InvoiceLine) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO ar_invoice_lines (invoice_id, account_id, amount_minor, job_id, cost_code, description)
VALUES ($1,$2,$3,$4,$5,$6)`, invoiceID, line.AccountID, line.Amount, line.JobID, line.CostCode, line.Description); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetInvoiceForUpdate(ctx context.Context, companyID, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.tx.QueryRow(ctx, `SELECT `+invoiceCols+` FROM ar_invoices WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, id))
	if err != nil {
		return Invoice{}, err
	}
	inv.Lines, err = queryInvoiceLines(ctx, r.tx, id)
	return inv, err
}

func (r *txRepository) UpdateInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus, entryID *int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ar_invoices SET status=$2, entry_id=COALESCE($3, entry_id), updated_at=NOW() WHERE id=$1`, id, status, entryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundf("ar: invoice not found")
	}
	return nil
}

func (r *txRepository) AdjustInvoiceBalance(ctx context.Context, id int64, delta int64, status InvoiceStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ar_invoices SET balance_due_minor = balance_due_minor + $2, status=$3, updated_at=NOW() WHERE id=$1`, id, delta, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundf("ar: invoice not found")
	}
	return nil
}

func (r *txRepository) InsertReceipt(ctx context.Context, rc Receipt) (Receipt, error) {
	var key any
	if rc.IdempotencyKey != uuid.Nil {
		key = rc.IdempotencyKey
	}
	row := r.tx.QueryRow(ctx, `INSERT INTO ar_receipts (company_id, client_id, date, currency, amount_minor, applied_minor, method, reference, status, idempotency_key)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id, created_at`,
		rc.CompanyID, rc.ClientID, rc.Date, rc.Currency, rc.Amount, rc.Applied, rc.Method, rc.Reference, rc.Status, key)
	if err := row.Scan(&rc.ID, &rc.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Receipt{}, shared.Conflictf("ar: duplicate receipt idempotency key")
		}
		return Receipt{}, err
	}
	return rc, nil
}

func (r *txRepository) InsertApplications(ctx context.Context, receiptID int64, apps []Application) error {
	for _, app := range apps {
		if _, err := r.tx.Exec(ctx, `INSERT INTO ar_receipt_applications (receipt_id, invoice_id, amount_minor) VALUES ($1,$2,$3)`,
			receiptID, app.InvoiceID, app.Amount); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetReceiptForUpdate(ctx context.Context, companyID, id int64) (Receipt, error) {
	return scanReceipt(r.tx.QueryRow(ctx, `SELECT `+receiptCols+` FROM ar_receipts WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, id))
}

func (r *txRepository) GetApplications(ctx context.Context, receiptID int64) ([]Application, error) {
	return queryApplications(ctx, r.tx, receiptID)
}

func (r *txRepository) UpdateReceiptStatus(ctx context.Context, id int64, status ReceiptStatus, entryID *int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ar_receipts SET status=$2, entry_id=COALESCE($3, entry_id) WHERE id=$1`, id, status, entryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundf("ar: receipt not found")
	}
	return nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryInvoiceLines(ctx context.Context, q queryer, invoiceID int64) ([]InvoiceLine, error) {
	rows, err := q.Query(ctx, `SELECT id, invoice_id, account_id, amount_minor, job_id, cost_code, description FROM ar_invoice_lines WHERE invoice_id=$1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []InvoiceLine
	for rows.Next() {
		var line InvoiceLine
		if err := rows.Scan(&line.ID, &line.InvoiceID, &line.AccountID, &line.Amount, &line.JobID, &line.CostCode, &line.Description); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func queryApplications(ctx context.Context, q queryer, receiptID int64) ([]Application, error) {
	rows, err := q.Query(ctx, `SELECT id, receipt_id, invoice_id, amount_minor FROM ar_receipt_applications WHERE receipt_id=$1 ORDER BY id`, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var apps []Application
	for rows.Next() {
		var app Application
		if err := rows.Scan(&app.ID, &app.ReceiptID, &app.InvoiceID, &app.Amount); err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}
