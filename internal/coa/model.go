package coa

import "time"

// AccountType enumerates the broad classification of a GL account.
type AccountType string

const (
	TypeAsset     AccountType = "asset"
	TypeLiability AccountType = "liability"
	TypeEquity    AccountType = "equity"
	TypeRevenue   AccountType = "revenue"
	TypeExpense   AccountType = "expense"
	TypeCOGS      AccountType = "cogs"
)

// NormalBalance is the side on which an account naturally increases.
type NormalBalance string

const (
	NormalDebit  NormalBalance = "debit"
	NormalCredit NormalBalance = "credit"
)

// NormalBalanceFor returns the conventional normal balance for an account
// type, false when the type is unknown.
func NormalBalanceFor(t AccountType) (NormalBalance, bool) {
	switch t {
	case TypeAsset, TypeExpense, TypeCOGS:
		return NormalDebit, true
	case TypeLiability, TypeEquity, TypeRevenue:
		return NormalCredit, true
	default:
		return "", false
	}
}

// Account is a node in a company's chart of accounts.
type Account struct {
	ID            int64
	CompanyID     int64
	Number        string
	Name          string
	Type          AccountType
	NormalBalance NormalBalance
	ParentID      *int64
	Active        bool
	// System accounts (control accounts, retained earnings) cannot be
	// deactivated or retyped.
	System    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccountWithBalance pairs an account with its cached running balance in
// minor units. The balance is derived state; journal history is the source
// of truth and reconciliation verifies the two agree.
type AccountWithBalance struct {
	Account
	Balance int64
}
