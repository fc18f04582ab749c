package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/girderhq/girder/internal/shared"
)

// AuditPort records journal mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts posting activity by source module.
type MetricsPort interface {
	EntryPosted(source string)
	EntryVoided(source string)
}

// BalanceCachePort drops cached balance read models after a posting.
type BalanceCachePort interface {
	Invalidate(ctx context.Context, companyID int64)
}

// Service owns manual journal entries and the posting lifecycle.
type Service struct {
	repo     Repository
	audit    AuditPort
	metrics  MetricsPort
	balances BalanceCachePort
	now      func() time.Time
}

// NewService constructs the journal service.
func NewService(repo Repository, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, audit: audit, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock, used in tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithBalanceCache attaches the cached trial-balance invalidator.
func (s *Service) WithBalanceCache(c BalanceCachePort) {
	s.balances = c
}

func (s *Service) invalidateBalances(ctx context.Context, companyID int64) {
	if s.balances != nil {
		s.balances.Invalidate(ctx, companyID)
	}
}

// Create records a manual entry, as draft or posted per the AutoPost flag.
// When the input carries an idempotency key and an entry already exists for
// it, that entry is returned unchanged.
func (s *Service) Create(ctx context.Context, in CreateInput, autoPost bool) (Entry, error) {
	if in.Source.Module == "" {
		in.Source.Module = SourceManual
	}
	if in.Source.Module == SourceManual && in.Source.Ref == "" {
		if in.IdempotencyKey != uuid.Nil {
			in.Source.Ref = in.IdempotencyKey.String()
		} else {
			in.Source.Ref = uuid.NewString()
		}
	}
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	if in.IdempotencyKey != uuid.Nil {
		existing, err := s.repo.GetByIdempotencyKey(ctx, in.CompanyID, in.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if shared.KindOf(err) != shared.KindNotFound {
			return Entry{}, err
		}
	}
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if autoPost {
			entry, err = CreatePostedTx(ctx, tx, in)
		} else {
			entry, err = CreateDraftTx(ctx, tx, in)
		}
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	entry.Lines = linesFromInputs(entry.ID, in.Lines)
	s.record(ctx, in.CreatedBy, entry, "journal.entry.create", map[string]any{"status": string(entry.Status)})
	if autoPost {
		s.invalidateBalances(ctx, in.CompanyID)
		if s.metrics != nil {
			s.metrics.EntryPosted(string(entry.Source.Module))
		}
	}
	return entry, nil
}

// UpdateDraft replaces a draft's header and lines. Posted and voided entries
// are immutable.
func (s *Service) UpdateDraft(ctx context.Context, in UpdateDraftInput) (Entry, error) {
	if in.Date.IsZero() {
		return Entry{}, shared.Validationf("journal: date required")
	}
	if err := validateLines(in.Lines); err != nil {
		return Entry{}, err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, in.CompanyID, in.EntryID)
		if err != nil {
			return err
		}
		if entry.Status != StatusDraft {
			return shared.Statef("journal: only drafts can be edited")
		}
		return tx.ReplaceDraft(ctx, in)
	})
	if err != nil {
		return Entry{}, err
	}
	entry, err := s.repo.Get(ctx, in.CompanyID, in.EntryID)
	if err != nil {
		return Entry{}, err
	}
	s.record(ctx, in.ActorID, entry, "journal.entry.update", nil)
	return entry, nil
}

// Post transitions a draft to posted, applying its balance deltas.
func (s *Service) Post(ctx context.Context, companyID, entryID, actorID int64) (Entry, error) {
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = PostTx(ctx, tx, companyID, entryID)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	s.record(ctx, actorID, entry, "journal.entry.post", nil)
	s.invalidateBalances(ctx, companyID)
	if s.metrics != nil {
		s.metrics.EntryPosted(string(entry.Source.Module))
	}
	return entry, nil
}

// Void reverses a posted entry and returns the voided original together with
// its reversal.
func (s *Service) Void(ctx context.Context, in VoidInput) (Entry, Entry, error) {
	var original, reversal Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		original, reversal, err = VoidTx(ctx, tx, in, s.now())
		return err
	})
	if err != nil {
		return Entry{}, Entry{}, err
	}
	s.record(ctx, in.ActorID, original, "journal.entry.void", map[string]any{
		"reversal_id": reversal.ID,
		"reason":      in.Reason,
	})
	s.invalidateBalances(ctx, in.CompanyID)
	if s.metrics != nil {
		s.metrics.EntryVoided(string(original.Source.Module))
	}
	return original, reversal, nil
}

// Get returns one entry with its lines.
func (s *Service) Get(ctx context.Context, companyID, id int64) (Entry, error) {
	return s.repo.Get(ctx, companyID, id)
}

// List returns entries matching the filter, newest first.
func (s *Service) List(ctx context.Context, companyID int64, filter ListFilter) ([]Entry, error) {
	return s.repo.List(ctx, companyID, filter)
}

func (s *Service) record(ctx context.Context, actorID int64, e Entry, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["source"] = fmt.Sprintf("%s/%s", e.Source.Module, e.Source.Ref)
	_ = s.audit.Record(ctx, shared.AuditLog{
		CompanyID: e.CompanyID,
		ActorID:   actorID,
		Action:    action,
		Entity:    "journal_entry",
		EntityID:  fmt.Sprintf("%d", e.ID),
		Meta:      meta,
		At:        s.now(),
	})
}

func linesFromInputs(entryID int64, inputs []LineInput) []Line {
	out := make([]Line, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, Line{
			EntryID:   entryID,
			AccountID: in.AccountID,
			Debit:     in.Debit,
			Credit:    in.Credit,
			JobID:     in.JobID,
			CostCode:  in.CostCode,
			VendorID:  in.VendorID,
			ClientID:  in.ClientID,
		})
	}
	return out
}
