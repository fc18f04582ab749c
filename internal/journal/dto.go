package journal

import (
	"time"

	"github.com/google/uuid"

	"github.com/girderhq/girder/internal/money"
	"github.com/girderhq/girder/internal/shared"
)

// LineInput describes one journal line of a creation request. Amounts are
// minor units; exactly one of Debit/Credit must be positive.
type LineInput struct {
	AccountID int64
	Debit     int64
	Credit    int64
	JobID     *int64
	CostCode  *string
	VendorID  *int64
	ClientID  *int64
}

// CreateInput groups fields required to create a journal entry.
type CreateInput struct {
	CompanyID      int64
	Date           time.Time
	Reference      string
	Memo           string
	Currency       string
	Source         Source
	IdempotencyKey uuid.UUID
	CreatedBy      int64
	Lines          []LineInput
}

// Validate enforces the balanced-entry invariants before any write: at least
// two lines, each line single-sided and positive, and debits equal to
// credits exactly.
func (in CreateInput) Validate() error {
	if in.CompanyID == 0 {
		return shared.Validationf("journal: company required")
	}
	if in.Date.IsZero() {
		return shared.Validationf("journal: date required")
	}
	if !money.Valid(in.Currency) {
		return shared.Validationf("journal: unknown currency %q", in.Currency)
	}
	if !KnownSource(in.Source.Module) {
		return shared.Validationf("journal: unknown source module %q", in.Source.Module)
	}
	if in.Source.Ref == "" {
		return shared.Validationf("journal: source ref required")
	}
	return validateLines(in.Lines)
}

// validateLines checks the line set on its own: at least two lines, each
// single-sided and positive, debits equal to credits exactly.
func validateLines(lines []LineInput) error {
	if len(lines) < 2 {
		return shared.Validationf("journal: entry requires at least two lines")
	}
	var debit, credit int64
	for idx, line := range lines {
		if line.AccountID == 0 {
			return shared.Validationf("journal: line %d missing account", idx)
		}
		if line.Debit < 0 || line.Credit < 0 {
			return shared.Validationf("journal: line %d negative amount", idx)
		}
		if line.Debit > 0 && line.Credit > 0 {
			return shared.Validationf("journal: line %d cannot be both debit and credit", idx)
		}
		if line.Debit == 0 && line.Credit == 0 {
			return shared.Validationf("journal: line %d has no amount", idx)
		}
		debit += line.Debit
		credit += line.Credit
	}
	if debit != credit {
		return shared.Validationf("journal: lines do not balance, debits %d credits %d", debit, credit)
	}
	return nil
}

// UpdateDraftInput replaces an editable draft's header fields and lines.
type UpdateDraftInput struct {
	CompanyID int64
	EntryID   int64
	Date      time.Time
	Reference string
	Memo      string
	ActorID   int64
	Lines     []LineInput
}

// VoidInput wraps parameters for voiding a posted entry.
type VoidInput struct {
	CompanyID int64
	EntryID   int64
	ActorID   int64
	Reason    string
}

// ListFilter narrows entry listings.
type ListFilter struct {
	Status Status
	Source SourceModule
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// reverseLines flips every line's debit and credit.
func reverseLines(lines []Line) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, LineInput{
			AccountID: line.AccountID,
			Debit:     line.Credit,
			Credit:    line.Debit,
			JobID:     line.JobID,
			CostCode:  line.CostCode,
			VendorID:  line.VendorID,
			ClientID:  line.ClientID,
		})
	}
	return out
}
