package coa

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/girderhq/girder/internal/shared"
)

// Repository encapsulates DB operations for the chart of accounts.
type Repository interface {
	Get(ctx context.Context, companyID, id int64) (Account, error)
	GetByNumber(ctx context.Context, companyID int64, number string) (Account, error)
	List(ctx context.Context, companyID int64) ([]Account, error)
	ListWithBalances(ctx context.Context, companyID int64) ([]AccountWithBalance, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes account mutations available within a transaction.
type TxRepository interface {
	Insert(ctx context.Context, a Account) (Account, error)
	Update(ctx context.Context, a Account) error
	SetActive(ctx context.Context, companyID, id int64, active bool) error
	Get(ctx context.Context, companyID, id int64) (Account, error)
	PostedLineCount(ctx context.Context, accountID int64) (int64, error)
	DraftLineCount(ctx context.Context, accountID int64) (int64, error)
	CachedBalance(ctx context.Context, companyID, accountID int64) (int64, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the pgx-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const accountCols = `id, company_id, number, name, account_type, normal_balance, parent_id, active, is_system, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.CompanyID, &a.Number, &a.Name, &a.Type, &a.NormalBalance, &a.ParentID, &a.Active, &a.System, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.NotFoundf("coa: account not found")
		}
		return Account{}, err
	}
	return a, nil
}

func (r *repository) Get(ctx context.Context, companyID, id int64) (Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE company_id=$1 AND id=$2`, companyID, id))
}

func (r *repository) GetByNumber(ctx context.Context, companyID int64, number string) (Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE company_id=$1 AND number=$2`, companyID, number))
}

func (r *repository) List(ctx context.Context, companyID int64) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountCols+` FROM accounts WHERE company_id=$1 ORDER BY number ASC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *repository) ListWithBalances(ctx context.Context, companyID int64) ([]AccountWithBalance, error) {
	rows, err := r.db.Query(ctx, `SELECT a.id, a.company_id, a.number, a.name, a.account_type, a.normal_balance, a.parent_id, a.active, a.is_system, a.created_at, a.updated_at, COALESCE(b.balance_minor, 0)
FROM accounts a LEFT JOIN account_balances b ON b.account_id = a.id
WHERE a.company_id=$1 ORDER BY a.number ASC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountWithBalance
	for rows.Next() {
		var a AccountWithBalance
		if err := rows.Scan(&a.ID, &a.CompanyID, &a.Number, &a.Name, &a.Type, &a.NormalBalance, &a.ParentID, &a.Active, &a.System, &a.CreatedAt, &a.UpdatedAt, &a.Balance); err != nil {
			return nil, err
		}
		out = append(out, a)
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

func (r *txRepository) Insert(ctx context.Context, a Account) (Account, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO accounts (company_id, number, name, account_type, normal_balance, parent_id, active, is_system)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id, created_at, updated_at`,
		a.CompanyID, a.Number, a.Name, a.Type, a.NormalBalance, a.ParentID, a.Active, a.System)
	if err := row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Account{}, shared.Conflictf("coa: account number %s already exists", a.Number)
		}
		return Account{}, err
	}
	if _, err := r.tx.Exec(ctx, `INSERT INTO account_balances (company_id, account_id, balance_minor) VALUES ($1,$2,0)`, a.CompanyID, a.ID); err != nil {
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) Update(ctx context.Context, a Account) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET name=$3, account_type=$4, normal_balance=$5, parent_id=$6, updated_at=NOW() WHERE company_id=$1 AND id=$2`,
		a.CompanyID, a.ID, a.Name, a.Type, a.NormalBalance, a.ParentID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundf("coa: account not found")
	}
	return nil
}

func (r *txRepository) SetActive(ctx context.Context, companyID, id int64, active bool) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET active=$3, updated_at=NOW() WHERE company_id=$1 AND id=$2`, companyID, id, active)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundf("coa: account not found")
	}
	return nil
}

func (r *txRepository) Get(ctx context.Context, companyID, id int64) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, id))
}

func (r *txRepository) PostedLineCount(ctx context.Context, accountID int64) (int64, error) {
	var n int64
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM journal_lines l JOIN journal_entries e ON e.id=l.entry_id WHERE l.account_id=$1 AND e.status IN ('posted','voided')`, accountID).Scan(&n)
	return n, err
}

func (r *txRepository) DraftLineCount(ctx context.Context, accountID int64) (int64, error) {
	var n int64
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM journal_lines l JOIN journal_entries e ON e.id=l.entry_id WHERE l.account_id=$1 AND e.status='draft'`, accountID).Scan(&n)
	return n, err
}

func (r *txRepository) CachedBalance(ctx context.Context, companyID, accountID int64) (int64, error) {
	var balance int64
	err := r.tx.QueryRow(ctx, `SELECT balance_minor FROM account_balances WHERE company_id=$1 AND account_id=$2`, companyID, accountID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}
