package ap

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

// Repository encapsulates DB operations for the AP subledger.
type Repository interface {
	GetBill(ctx context.Context, companyID, id int64) (Bill, error)
	ListBills(ctx context.Context, companyID int64, filter BillFilter) ([]Bill, error)
	GetPayment(ctx context.Context, companyID, id int64) (Payment, error)
	ListPayments(ctx context.Context, companyID int64, vendorID int64, limit, offset int) ([]Payment, error)
	GetPaymentByIdempotencyKey(ctx context.Context, companyID int64, key uuid.UUID) (Payment, error)
	Aging(ctx context.Context, companyID int64, asOf time.Time) ([]AgingRow, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// BillFilter narrows bill listings.
type BillFilter struct {
	VendorID int64
	Status   BillStatus
	Limit    int
	Offset   int
}

// TxRepository exposes AP mutations within a transaction, plus a journal
// view of the same transaction so postings commit with the subledger change.
type TxRepository interface {
	InsertBill(ctx context.Context, b Bill) (Bill, error)
	InsertBillLines(ctx context.Context, billID int64, lines []BillLine) error
	GetBillForUpdate(ctx context.Context, companyID, id int64) (Bill, error)
	GetBillLines(ctx context.Context, billID int64) ([]BillLine, error)
	UpdateBillStatus(ctx context.Context, id int64, status BillStatus, entryID *int64) error
	AdjustBillBalance(ctx context.Context, id int64, delta int64, status BillStatus) error
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	InsertApplications(ctx context.Context, paymentID int64, apps []Application) error
	GetPaymentForUpdate(ctx context.Context, companyID, id int64) (Payment, error)
	GetApplications(ctx context.Context, paymentID int64) ([]Application, error)
	UpdatePaymentStatus(ctx context.Context, id int64, status PaymentStatus, entryID *int64) error

	Journal() journal.TxRepository
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the pgx-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const billCols = `id, company_id, vendor_id, number, date, due_date, currency, amount_minor, balance_due_minor, status, memo, entry_id, created_at, updated_at`

func scanBill(row pgx.Row) (Bill, error) {
	var b Bill
	err := row.Scan(&b.ID, &b.CompanyID, &b.VendorID, &b.Number, &b.Date, &b.DueDate, &b.Currency, &b.Amount, &b.BalanceDue, &b.Status, &b.Memo, &b.EntryID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bill{}, shared.NotFoundf("ap: bill not found")
		}
		return Bill{}, err
	}
	return b, nil
}

const paymentCols = `id, company_id, vendor_id, date, currency, amount_minor, applied_minor, method, reference, status, entry_id, idempotency_key, created_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var key *uuid.UUID
	err := row.Scan(&p.ID, &p.CompanyID, &p.VendorID, &p.Date, &p.Currency, &p.Amount, &p.Applied, &p.Method, &p.Reference, &p.Status, &p.EntryID, &key, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, shared.NotFoundf("ap: payment not found")
		}
		return Payment{}, err
	}
	if key != nil {
		p.IdempotencyKey = *key
	}
	return p, nil
}

func (r *repository) GetBill(ctx context.Context, companyID, id int64) (Bill, error) {
	bill, err := scanBill(r.db.QueryRow(ctx, `SELECT `+billCols+` FROM ap_bills WHERE company_id=$1 AND id=$2`, companyID, id))
	if err != nil {
		return Bill{}, err
	}
	bill.Lines, err = queryBillLines(ctx, r.db, id)
	return bill, err
}

func (r *repository) ListBills(ctx context.Context, companyID int64, filter BillFilter) ([]Bill, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `SELECT `+billCols+` FROM ap_bills
WHERE company_id=$1 AND ($2=0 OR vendor_id=$2) AND ($3='' OR status=$3)
ORDER BY id DESC LIMIT $4 OFFSET $5`, companyID, filter.VendorID, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var bills []Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

func (r *repository) GetPayment(ctx context.Context, companyID, id int64) (Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentCols+` FROM ap_payments WHERE company_id=$1 AND id=$2`, companyID, id))
	if err != nil {
		return Payment{}, err
	}
	p.Applications, err = queryApplications(ctx, r.db, id)
	return p, err
}

func (r *repository) GetPaymentByIdempotencyKey(ctx context.Context, companyID int64, key uuid.UUID) (Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentCols+` FROM ap_payments WHERE company_id=$1 AND idempotency_key=$2`, companyID, key))
	if err != nil {
		return Payment{}, err
	}
	p.Applications, err = queryApplications(ctx, r.db, p.ID)
	return p, err
}

func (r *repository) ListPayments(ctx context.Context, companyID int64, vendorID int64, limit, offset int) ([]Payment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `SELECT `+paymentCols+` FROM ap_payments
WHERE company_id=$1 AND ($2=0 OR vendor_id=$2) ORDER BY id DESC LIMIT $3 OFFSET $4`, companyID, vendorID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// Aging buckets open bill balances by days past due as of the given date.
func (r *repository) Aging(ctx context.Context, companyID int64, asOf time.Time) ([]AgingRow, error) {
	rows, err := r.db.Query(ctx, `SELECT vendor_id,
  COALESCE(SUM(balance_due_minor) FILTER (WHERE due_date >= $2), 0),
  COALESCE(SUM(balance_due_minor) FILTER (WHERE due_date < $2 AND due_date >= $2 - INTERVAL '30 days'), 0),
  COALESCE(SUM(balance_due_minor) FILTER (WHERE due_date < $2 - INTERVAL '30 days' AND due_date >= $2 - INTERVAL '60 days'), 0),
  COALESCE(SUM(balance_due_minor) FILTER (WHERE due_date < $2 - INTERVAL '60 days' AND due_date >= $2 - INTERVAL '90 days'), 0),
  COALESCE(SUM(balance_due_minor) FILTER (WHERE due_date < $2 - INTERVAL '90 days'), 0),
  COALESCE(SUM(balance_due_minor), 0)
FROM ap_bills
WHERE company_id=$1 AND status IN ('approved','partially_paid') AND balance_due_minor > 0
GROUP BY vendor_id ORDER BY vendor_id`, companyID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AgingRow
	for rows.Next() {
		var row AgingRow
		if err := rows.Scan(&row.VendorID, &row.Current, &row.Days30, &row.Days60, &row.Days90, &row.Over90, &row.Total); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
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

func (r *txRepository) InsertBill(ctx context.Context, b Bill) (Bill, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO ap_bills (company_id, vendor_id, number, date, due_date, currency, amount_minor, balance_due_minor, status, memo)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id, created_at, updated_at`,
		b.CompanyID, b.VendorID, b.Number, b.Date, b.DueDate, b.Currency, b.Amount, b.BalanceDue, b.Status, b.Memo)
	if err := row.Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Bill{}, shared.Conflictf("ap: bill number %q already exists for vendor", b.Number)
		}
		return Bill{}, err
	}
	return b, nil
}

func (r *txRepository) InsertBillLines(ctx context.Context, billID int64, lines []BillLine) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO ap_bill_lines (bill_id, account_id, amount_minor, job_id, cost_code, description)
VALUES ($1,$2,$3,$4,$5,$6)`, billID, line.AccountID, line.Amount, line.JobID, line.CostCode, line.Description); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetBillForUpdate(ctx context.Context, companyID, id int64) (Bill, error) {
	bill, err := scanBill(r.tx.QueryRow(ctx, `SELECT `+billCols+` FROM ap_bills WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, id))
	if err != nil {
		return Bill{}, err
	}
	bill.Lines, err = queryBillLines(ctx, r.tx, id)
	return bill, err
}

func (r *txRepository) GetBillLines(ctx context.Context, billID int64) ([]BillLine, error) {
	return queryBillLines(ctx, r.tx, billID)
}

func (r *txRepository) UpdateBillStatus(ctx context.Context, id int64, status BillStatus, entryID *int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ap_bills SET status=$2, entry_id=COALESCE($3, entry_id), updated_at=NOW() WHERE id=$1`, id, status, entryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundf("ap: bill not found")
	}
	return nil
}

func (r *txRepository) AdjustBillBalance(ctx context.Context, id int64, delta int64, status BillStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ap_bills SET balance_due_minor = balance_due_minor + $2, status=$3, updated_at=NOW() WHERE id=$1`, id, delta, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundf("ap: bill not found")
	}
	return nil
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	var key any
	if p.IdempotencyKey != uuid.Nil {
		key = p.IdempotencyKey
	}
	row := r.tx.QueryRow(ctx, `INSERT INTO ap_payments (company_id, vendor_id, date, currency, amount_minor, applied_minor, method, reference, status, idempotency_key)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id, created_at`,
		p.CompanyID, p.VendorID, p.Date, p.Currency, p.Amount, p.Applied, p.Method, p.Reference, p.Status, key)
	if err := row.Scan(&p.ID, &p.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Payment{}, shared.Conflictf("ap: duplicate payment idempotency key")
		}
		return Payment{}, err
	}
	return p, nil
}

func (r *txRepository) InsertApplications(ctx context.Context, paymentID int64, apps []Application) error {
	for _, app := range apps {
		if _, err := r.tx.Exec(ctx, `INSERT INTO ap_payment_applications (payment_id, bill_id, amount_minor) VALUES ($1,$2,$3)`,
			paymentID, app.BillID, app.Amount); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetPaymentForUpdate(ctx context.Context, companyID, id int64) (Payment, error) {
	return scanPayment(r.tx.QueryRow(ctx, `SELECT `+paymentCols+` FROM ap_payments WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, id))
}

func (r *txRepository) GetApplications(ctx context.Context, paymentID int64) ([]Application, error) {
	return queryApplications(ctx, r.tx, paymentID)
}

func (r *txRepository) UpdatePaymentStatus(ctx context.Context, id int64, status PaymentStatus, entryID *int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ap_payments SET status=$2, entry_id=COALESCE($3, entry_id) WHERE id=$1`, id, status, entryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundf("ap: payment not found")
	}
	return nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryBillLines(ctx context.Context, q queryer, billID int64) ([]BillLine, error) {
	rows, err := q.Query(ctx, `SELECT id, bill_id, account_id, amount_minor, job_id, cost_code, description FROM ap_bill_lines WHERE bill_id=$1 ORDER BY id`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []BillLine
	for rows.Next() {
		var line BillLine
		if err := rows.Scan(&line.ID, &line.BillID, &line.AccountID, &line.Amount, &line.JobID, &line.CostCode, &line.Description); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func queryApplications(ctx context.Context, q queryer, paymentID int64) ([]Application, error) {
	rows, err := q.Query(ctx, `SELECT id, payment_id, bill_id, amount_minor FROM ap_payment_applications WHERE payment_id=$1 ORDER BY id`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var apps []Application
	for rows.Next() {
		var app Application
		if err := rows.Scan(&app.ID, &app.PaymentID, &app.BillID, &app.Amount); err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}
