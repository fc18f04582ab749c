package journal

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/girderhq/girder/internal/coa"
	"github.com/girderhq/girder/internal/shared"
)

// Repository encapsulates DB operations for journal entries.
type Repository interface {
	Get(ctx context.Context, companyID, id int64) (Entry, error)
	List(ctx context.Context, companyID int64, filter ListFilter) ([]Entry, error)
	GetByIdempotencyKey(ctx context.Context, companyID int64, key uuid.UUID) (Entry, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// PostingAccount carries what the engine needs to apply balance deltas.
type PostingAccount struct {
	ID            int64
	NormalBalance coa.NormalBalance
	Active        bool
}

// BalanceDelta is a signed minor-unit adjustment to one account's cached
// running balance.
type BalanceDelta struct {
	AccountID int64
	Delta     int64
}

// TxRepository exposes journal mutations within a transaction. AP/AR embed
// it in their own transactions so a subledger update and its posting commit
// or roll back together.
type TxRepository interface {
	InsertEntry(ctx context.Context, in CreateInput, status Status) (Entry, error)
	InsertLines(ctx context.Context, entryID int64, lines []LineInput) error
	LinkSource(ctx context.Context, companyID int64, src Source, entryID int64) error
	GetEntryForUpdate(ctx context.Context, companyID, id int64) (Entry, error)
	GetLines(ctx context.Context, entryID int64) ([]Line, error)
	UpdateEntryStatus(ctx context.Context, id int64, status Status) error
	SetReversal(ctx context.Context, originalID, reversalID int64) error
	ReplaceDraft(ctx context.Context, in UpdateDraftInput) error

	// AccountsForPosting locks the touched balance rows in ascending
	// account id order; deltas for one entry are then applied together.
	AccountsForPosting(ctx context.Context, companyID int64, ids []int64) ([]PostingAccount, error)
	ApplyBalanceDeltas(ctx context.Context, companyID int64, deltas []BalanceDelta) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the pgx-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const entryCols = `id, company_id, date, reference, memo, currency, source_module, source_ref, status, reversal_of, reversed_by, created_by, posted_at, voided_at, created_at, updated_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.CompanyID, &e.Date, &e.Reference, &e.Memo, &e.Currency, &e.Source.Module, &e.Source.Ref, &e.Status, &e.ReversalOf, &e.ReversedBy, &e.CreatedBy, &e.PostedAt, &e.VoidedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, shared.NotFoundf("journal: entry not found")
		}
		return Entry{}, err
	}
	return e, nil
}

func (r *repository) Get(ctx context.Context, companyID, id int64) (Entry, error) {
	entry, err := scanEntry(r.db.QueryRow(ctx, `SELECT `+entryCols+` FROM journal_entries WHERE company_id=$1 AND id=$2`, companyID, id))
	if err != nil {
		return Entry{}, err
	}
	lines, err := queryLines(ctx, r.db, id)
	if err != nil {
		return Entry{}, err
	}
	entry.Lines = lines
	return entry, nil
}

func (r *repository) GetByIdempotencyKey(ctx context.Context, companyID int64, key uuid.UUID) (Entry, error) {
	entry, err := scanEntry(r.db.QueryRow(ctx, `SELECT `+entryCols+` FROM journal_entries WHERE company_id=$1 AND idempotency_key=$2`, companyID, key))
	if err != nil {
		return Entry{}, err
	}
	lines, err := queryLines(ctx, r.db, entry.ID)
	if err != nil {
		return Entry{}, err
	}
	entry.Lines = lines
	return entry, nil
}

func (r *repository) List(ctx context.Context, companyID int64, filter ListFilter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `SELECT `+entryCols+` FROM journal_entries
WHERE company_id=$1
  AND ($2='' OR status=$2)
  AND ($3='' OR source_module=$3)
  AND ($4::timestamptz IS NULL OR date >= $4)
  AND ($5::timestamptz IS NULL OR date <= $5)
ORDER BY id DESC LIMIT $6 OFFSET $7`,
		companyID, string(filter.Status), string(filter.Source), nullTime(filter.From), nullTime(filter.To), limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
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

// NewTxRepository wraps an existing pgx transaction, letting the subledgers
// post journal entries inside their own transaction boundary.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertEntry(ctx context.Context, in CreateInput, status Status) (Entry, error) {
	var key any
	if in.IdempotencyKey != uuid.Nil {
		key = in.IdempotencyKey
	}
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (company_id, date, reference, memo, currency, source_module, source_ref, status, created_by, idempotency_key)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id, created_at, updated_at`,
		in.CompanyID, in.Date, in.Reference, in.Memo, in.Currency, in.Source.Module, in.Source.Ref, status, in.CreatedBy, key)
	entry := Entry{
		CompanyID: in.CompanyID,
		Date:      in.Date,
		Reference: in.Reference,
		Memo:      in.Memo,
		Currency:  in.Currency,
		Source:    in.Source,
		Status:    status,
		CreatedBy: in.CreatedBy,
	}
	if err := row.Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Entry{}, shared.Conflictf("journal: duplicate idempotency key")
		}
		return Entry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertLines(ctx context.Context, entryID int64, lines []LineInput) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO journal_lines (entry_id, account_id, debit_minor, credit_minor, job_id, cost_code, vendor_id, client_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, entryID, line.AccountID, line.Debit, line.Credit, line.JobID, line.CostCode, line.VendorID, line.ClientID); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) LinkSource(ctx context.Context, companyID int64, src Source, entryID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO journal_sources (company_id, module, ref, entry_id) VALUES ($1,$2,$3,$4)`, companyID, src.Module, src.Ref, entryID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return shared.Conflictf("journal: source %s/%s already posted", src.Module, src.Ref)
		}
		return err
	}
	return nil
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, companyID, id int64) (Entry, error) {
	return scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryCols+` FROM journal_entries WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, id))
}

func (r *txRepository) GetLines(ctx context.Context, entryID int64) ([]Line, error) {
	return queryLines(ctx, r.tx, entryID)
}

func (r *txRepository) UpdateEntryStatus(ctx context.Context, id int64, status Status) error {
	var stamp string
	switch status {
	case StatusPosted:
		stamp = `, posted_at=NOW()`
	case StatusVoided:
		stamp = `, voided_at=NOW()`
	}
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status=$2, updated_at=NOW()`+stamp+` WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundf("journal: entry not found")
	}
	return nil
}

func (r *txRepository) SetReversal(ctx context.Context, originalID, reversalID int64) error {
	if _, err := r.tx.Exec(ctx, `UPDATE journal_entries SET reversed_by=$2, updated_at=NOW() WHERE id=$1`, originalID, reversalID); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx, `UPDATE journal_entries SET reversal_of=$2, updated_at=NOW() WHERE id=$1`, reversalID, originalID)
	return err
}

func (r *txRepository) ReplaceDraft(ctx context.Context, in UpdateDraftInput) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET date=$3, reference=$4, memo=$5, updated_at=NOW() WHERE company_id=$1 AND id=$2 AND status='draft'`,
		in.CompanyID, in.EntryID, in.Date, in.Reference, in.Memo)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundf("journal: draft entry not found")
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM journal_lines WHERE entry_id=$1`, in.EntryID); err != nil {
		return err
	}
	return r.InsertLines(ctx, in.EntryID, in.Lines)
}

func (r *txRepository) AccountsForPosting(ctx context.Context, companyID int64, ids []int64) ([]PostingAccount, error) {
	rows, err := r.tx.Query(ctx, `SELECT a.id, a.normal_balance, a.active
FROM accounts a JOIN account_balances b ON b.account_id = a.id
WHERE a.company_id=$1 AND a.id = ANY($2)
ORDER BY a.id ASC
FOR UPDATE OF b`, companyID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []PostingAccount
	for rows.Next() {
		var a PostingAccount
		if err := rows.Scan(&a.ID, &a.NormalBalance, &a.Active); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *txRepository) ApplyBalanceDeltas(ctx context.Context, companyID int64, deltas []BalanceDelta) error {
	for _, d := range deltas {
		cmd, err := r.tx.Exec(ctx, `UPDATE account_balances SET balance_minor = balance_minor + $3, version = version + 1 WHERE company_id=$1 AND account_id=$2`, companyID, d.AccountID, d.Delta)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return shared.Fatalf("journal: balance row missing for account %d", d.AccountID)
		}
	}
	return nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q queryer, entryID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, entry_id, account_id, debit_minor, credit_minor, job_id, cost_code, vendor_id, client_id, created_at
FROM journal_lines WHERE entry_id=$1 ORDER BY id ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.Debit, &line.Credit, &line.JobID, &line.CostCode, &line.VendorID, &line.ClientID, &line.CreatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func nullTime(t interface{ IsZero() bool }) any {
	if t.IsZero() {
		return nil
	}
	return t
}
