package recon

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/girderhq/girder/internal/shared"
)

// Entities a verification run checks.
const (
	EntityAccount = "account"
	EntityBill    = "bill"
	EntityInvoice = "invoice"
)

// Drift is one account, bill, or invoice whose cached balance disagrees with
// the balance recomputed from history.
type Drift struct {
	Entity   string
	ID       int64
	Number   string
	Cached   int64
	Computed int64
	Delta    int64
}

// Report is the outcome of one company verification.
type Report struct {
	CompanyID  int64
	CheckedAt  time.Time
	Accounts   int
	Documents  int
	Drifts     []Drift
	TotalDrift int64
}

// Clean reports whether every cached balance matched.
func (r Report) Clean() bool {
	return len(r.Drifts) == 0
}

// AuditPort records verification outcomes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort exposes the per-company drift gauge.
type MetricsPort interface {
	VerifyDrift(companyID int64, totalAbsDrift int64)
}

// Service verifies cached balances against the journal.
type Service struct {
	repo    Repository
	cache   *TrialBalanceCache
	audit   AuditPort
	metrics MetricsPort
	now     func() time.Time
}

// NewService constructs the reconciliation service. The cache may be nil.
func NewService(repo Repository, cache *TrialBalanceCache, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, cache: cache, audit: audit, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock, used in tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Verify recomputes one company's account balances from posted history and
// its bill/invoice balances from live applications, reporting everything that
// drifted from its cached value.
func (s *Service) Verify(ctx context.Context, companyID int64) (Report, error) {
	if companyID == 0 {
		return Report{}, shared.Validationf("recon: company required")
	}
	pairs, err := s.repo.BalancePairs(ctx, companyID)
	if err != nil {
		return Report{}, err
	}
	docs, err := s.repo.DocPairs(ctx, companyID)
	if err != nil {
		return Report{}, err
	}
	report := Report{
		CompanyID: companyID,
		CheckedAt: s.now(),
		Accounts:  len(pairs),
		Documents: len(docs),
	}
	for _, p := range pairs {
		if p.Cached == p.Computed {
			continue
		}
		delta := p.Cached - p.Computed
		report.Drifts = append(report.Drifts, Drift{
			Entity:   EntityAccount,
			ID:       p.AccountID,
			Number:   p.Number,
			Cached:   p.Cached,
			Computed: p.Computed,
			Delta:    delta,
		})
		report.TotalDrift += abs(delta)
	}
	for _, d := range docs {
		if d.Cached == d.Computed {
			continue
		}
		delta := d.Cached - d.Computed
		report.Drifts = append(report.Drifts, Drift{
			Entity:   d.Entity,
			ID:       d.ID,
			Number:   d.Number,
			Cached:   d.Cached,
			Computed: d.Computed,
			Delta:    delta,
		})
		report.TotalDrift += abs(delta)
	}
	if s.metrics != nil {
		s.metrics.VerifyDrift(companyID, report.TotalDrift)
	}
	if !report.Clean() && s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			CompanyID: companyID,
			Action:    "recon.drift_detected",
			Entity:    "company",
			EntityID:  fmt.Sprintf("%d", companyID),
			Meta: map[string]any{
				"entities_drifted": len(report.Drifts),
				"total_drift":      report.TotalDrift,
			},
			At: report.CheckedAt,
		})
	}
	return report, nil
}

// verifyConcurrency bounds how many companies are recomputed at once.
const verifyConcurrency = 4

// VerifyAll verifies every company, for the periodic sweep.
func (s *Service) VerifyAll(ctx context.Context) ([]Report, error) {
	ids, err := s.repo.CompanyIDs(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]Report, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(verifyConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			report, err := s.Verify(ctx, id)
			if err != nil {
				return err
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// TrialBalanceRow is one account's balance split to its debit or credit
// column.
type TrialBalanceRow struct {
	AccountID int64  `json:"account_id"`
	Number    string `json:"number"`
	Debit     int64  `json:"debit_minor"`
	Credit    int64  `json:"credit_minor"`
}

// TrialBalance lists every account's cached balance in trial balance form.
// Results are served from the cache when fresh.
func (s *Service) TrialBalance(ctx context.Context, companyID int64) ([]TrialBalanceRow, error) {
	if companyID == 0 {
		return nil, shared.Validationf("recon: company required")
	}
	if s.cache != nil {
		if rows, ok := s.cache.Get(ctx, companyID); ok {
			return rows, nil
		}
	}
	pairs, err := s.repo.BalancePairs(ctx, companyID)
	if err != nil {
		return nil, err
	}
	rows := make([]TrialBalanceRow, 0, len(pairs))
	for _, p := range pairs {
		row := TrialBalanceRow{AccountID: p.AccountID, Number: p.Number}
		// A positive balance sits on the account's normal side; a negative
		// one flips to the opposite column.
		side := p.NormalBalance
		amount := p.Cached
		if amount < 0 {
			amount = -amount
			if side == "debit" {
				side = "credit"
			} else {
				side = "debit"
			}
		}
		if side == "debit" {
			row.Debit = amount
		} else {
			row.Credit = amount
		}
		rows = append(rows, row)
	}
	if s.cache != nil {
		s.cache.Set(ctx, companyID, rows)
	}
	return rows, nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
