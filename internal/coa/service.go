package coa

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/girderhq/girder/internal/shared"
)

// AuditPort records chart-of-accounts mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns the GL account tree.
type Service struct {
	repo  Repository
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the chart of accounts service.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock, used in tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateInput groups fields for a new account.
type CreateInput struct {
	CompanyID     int64
	Number        string
	Name          string
	Type          AccountType
	NormalBalance NormalBalance
	ParentID      *int64
	System        bool
	ActorID       int64
}

// parentChainLimit bounds cycle walks; real charts are a handful of levels deep.
const parentChainLimit = 32

// Create adds an account after enforcing the type/normal-balance pairing,
// per-company number uniqueness and an acyclic parent chain.
func (s *Service) Create(ctx context.Context, in CreateInput) (Account, error) {
	if in.CompanyID == 0 {
		return Account{}, shared.Validationf("coa: company required")
	}
	if strings.TrimSpace(in.Number) == "" || strings.TrimSpace(in.Name) == "" {
		return Account{}, shared.Validationf("coa: number and name required")
	}
	conventional, ok := NormalBalanceFor(in.Type)
	if !ok {
		return Account{}, shared.Validationf("coa: unknown account type %q", in.Type)
	}
	if in.NormalBalance == "" {
		in.NormalBalance = conventional
	}
	if in.NormalBalance != conventional {
		return Account{}, shared.Validationf("coa: %s accounts are %s-normal", in.Type, conventional)
	}

	var created Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.ParentID != nil {
			if err := s.walkParents(ctx, tx, in.CompanyID, *in.ParentID, 0); err != nil {
				return err
			}
		}
		a, err := tx.Insert(ctx, Account{
			CompanyID:     in.CompanyID,
			Number:        in.Number,
			Name:          in.Name,
			Type:          in.Type,
			NormalBalance: in.NormalBalance,
			ParentID:      in.ParentID,
			Active:        true,
			System:        in.System,
		})
		if err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.record(ctx, in.ActorID, created, "coa.account.create", nil)
	return created, nil
}

// UpdateInput carries mutable account fields. A nil field is left unchanged.
type UpdateInput struct {
	CompanyID   int64
	ID          int64
	Name        *string
	Type        *AccountType
	ParentID    *int64
	ClearParent bool
	ActorID     int64
}

// Update edits an account. The account type is frozen once any posted line
// references the account.
func (s *Service) Update(ctx context.Context, in UpdateInput) (Account, error) {
	var updated Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.Get(ctx, in.CompanyID, in.ID)
		if err != nil {
			return err
		}
		if in.Name != nil {
			if strings.TrimSpace(*in.Name) == "" {
				return shared.Validationf("coa: name required")
			}
			a.Name = *in.Name
		}
		if in.Type != nil && *in.Type != a.Type {
			if a.System {
				return shared.Referentialf("coa: system account type is fixed")
			}
			posted, err := tx.PostedLineCount(ctx, a.ID)
			if err != nil {
				return err
			}
			if posted > 0 {
				return shared.Referentialf("coa: account %s has posted history, type cannot change", a.Number)
			}
			conventional, ok := NormalBalanceFor(*in.Type)
			if !ok {
				return shared.Validationf("coa: unknown account type %q", *in.Type)
			}
			a.Type = *in.Type
			a.NormalBalance = conventional
		}
		if in.ClearParent {
			a.ParentID = nil
		} else if in.ParentID != nil {
			if *in.ParentID == a.ID {
				return shared.Validationf("coa: account cannot be its own parent")
			}
			if err := s.walkParents(ctx, tx, in.CompanyID, *in.ParentID, a.ID); err != nil {
				return err
			}
			a.ParentID = in.ParentID
		}
		if err := tx.Update(ctx, a); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.record(ctx, in.ActorID, updated, "coa.account.update", nil)
	return updated, nil
}

// Deactivate soft-disables an account. Blocked while the account carries a
// balance or is referenced by unposted drafts.
func (s *Service) Deactivate(ctx context.Context, companyID, id, actorID int64) error {
	var target Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.Get(ctx, companyID, id)
		if err != nil {
			return err
		}
		if a.System {
			return shared.Referentialf("coa: system account cannot be deactivated")
		}
		if !a.Active {
			return shared.Statef("coa: account already inactive")
		}
		balance, err := tx.CachedBalance(ctx, companyID, id)
		if err != nil {
			return err
		}
		if balance != 0 {
			return shared.Referentialf("coa: account %s carries a balance", a.Number)
		}
		drafts, err := tx.DraftLineCount(ctx, id)
		if err != nil {
			return err
		}
		if drafts > 0 {
			return shared.Referentialf("coa: account %s is referenced by draft entries", a.Number)
		}
		target = a
		return tx.SetActive(ctx, companyID, id, false)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, target, "coa.account.deactivate", nil)
	return nil
}

// Get returns a single account.
func (s *Service) Get(ctx context.Context, companyID, id int64) (Account, error) {
	return s.repo.Get(ctx, companyID, id)
}

// List returns the company's accounts ordered by number.
func (s *Service) List(ctx context.Context, companyID int64) ([]Account, error) {
	return s.repo.List(ctx, companyID)
}

// ListWithBalances returns accounts with their cached running balances.
func (s *Service) ListWithBalances(ctx context.Context, companyID int64) ([]AccountWithBalance, error) {
	return s.repo.ListWithBalances(ctx, companyID)
}

// TreeNode is one account in the nested chart, carrying its own balance and
// the balance rolled up from its descendants.
type TreeNode struct {
	Account  Account
	Balance  int64
	RolledUp int64
	Children []*TreeNode
}

// Tree returns the chart nested by parent with balances rolled up the chain.
// Accounts whose parent is missing surface as roots rather than vanishing.
func (s *Service) Tree(ctx context.Context, companyID int64) ([]*TreeNode, error) {
	accounts, err := s.repo.ListWithBalances(ctx, companyID)
	if err != nil {
		return nil, err
	}
	nodes := make(map[int64]*TreeNode, len(accounts))
	for _, a := range accounts {
		nodes[a.Account.ID] = &TreeNode{Account: a.Account, Balance: a.Balance}
	}
	var roots []*TreeNode
	for _, a := range accounts {
		node := nodes[a.Account.ID]
		if a.Account.ParentID != nil {
			if parent, ok := nodes[*a.Account.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	for _, root := range roots {
		rollUp(root)
	}
	return roots, nil
}

func rollUp(n *TreeNode) int64 {
	n.RolledUp = n.Balance
	for _, c := range n.Children {
		n.RolledUp += rollUp(c)
	}
	return n.RolledUp
}

// walkParents verifies the parent exists and its ancestor chain terminates
// without passing through selfID (zero when creating).
func (s *Service) walkParents(ctx context.Context, tx TxRepository, companyID, parentID, selfID int64) error {
	current := parentID
	for depth := 0; depth < parentChainLimit; depth++ {
		if selfID != 0 && current == selfID {
			return shared.Validationf("coa: parent chain would form a cycle")
		}
		parent, err := tx.Get(ctx, companyID, current)
		if err != nil {
			if shared.KindOf(err) == shared.KindNotFound {
				return shared.Referentialf("coa: parent account %d not found", current)
			}
			return err
		}
		if parent.ParentID == nil {
			return nil
		}
		current = *parent.ParentID
	}
	return shared.Validationf("coa: parent chain too deep")
}

func (s *Service) record(ctx context.Context, actorID int64, a Account, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = a.Number
	_ = s.audit.Record(ctx, shared.AuditLog{
		CompanyID: a.CompanyID,
		ActorID:   actorID,
		Action:    action,
		Entity:    "account",
		EntityID:  fmt.Sprintf("%d", a.ID),
		Meta:      meta,
		At:        s.now(),
	})
}
