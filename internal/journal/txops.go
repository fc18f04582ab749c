package journal

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/girderhq/girder/internal/coa"
	"github.com/girderhq/girder/internal/shared"
)

// The functions here run inside an open transaction. The journal service
// uses them for manual entries; the AP and AR subledgers call them through
// their own TxRepository so a bill approval and its posting share one commit.

// CreateDraftTx inserts a draft entry with its lines. Balances are untouched
// until the entry is posted.
func CreateDraftTx(ctx context.Context, tx TxRepository, in CreateInput) (Entry, error) {
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	entry, err := tx.InsertEntry(ctx, in, StatusDraft)
	if err != nil {
		return Entry{}, err
	}
	if err := tx.InsertLines(ctx, entry.ID, in.Lines); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// CreatePostedTx inserts an entry and posts it in one step: source link,
// balance application and status all land in the caller's transaction.
func CreatePostedTx(ctx context.Context, tx TxRepository, in CreateInput) (Entry, error) {
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	entry, err := tx.InsertEntry(ctx, in, StatusPosted)
	if err != nil {
		return Entry{}, err
	}
	if err := tx.InsertLines(ctx, entry.ID, in.Lines); err != nil {
		return Entry{}, err
	}
	if err := tx.LinkSource(ctx, in.CompanyID, in.Source, entry.ID); err != nil {
		return Entry{}, err
	}
	if err := applyLines(ctx, tx, in.CompanyID, in.Lines, 1); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// PostTx transitions a draft to posted and applies its balance deltas.
func PostTx(ctx context.Context, tx TxRepository, companyID, entryID int64) (Entry, error) {
	entry, err := tx.GetEntryForUpdate(ctx, companyID, entryID)
	if err != nil {
		return Entry{}, err
	}
	switch entry.Status {
	case StatusPosted:
		return Entry{}, shared.Statef("journal: entry %d already posted", entryID)
	case StatusVoided:
		return Entry{}, shared.Statef("journal: entry %d is voided", entryID)
	}
	lines, err := tx.GetLines(ctx, entryID)
	if err != nil {
		return Entry{}, err
	}
	inputs := lineInputs(lines)
	if err := (CreateInput{
		CompanyID: entry.CompanyID,
		Date:      entry.Date,
		Currency:  entry.Currency,
		Source:    entry.Source,
		Lines:     inputs,
	}).Validate(); err != nil {
		return Entry{}, err
	}
	if err := tx.LinkSource(ctx, companyID, entry.Source, entryID); err != nil {
		return Entry{}, err
	}
	if err := applyLines(ctx, tx, companyID, inputs, 1); err != nil {
		return Entry{}, err
	}
	if err := tx.UpdateEntryStatus(ctx, entryID, StatusPosted); err != nil {
		return Entry{}, err
	}
	entry.Status = StatusPosted
	entry.Lines = lines
	return entry, nil
}

// VoidTx voids a posted entry by creating a posted reversal entry with every
// line flipped, then marks the original voided and links the pair. The
// reversal's source ref is derived from the original id, so a second void
// attempt trips the unique source link.
func VoidTx(ctx context.Context, tx TxRepository, in VoidInput, at time.Time) (original Entry, reversal Entry, err error) {
	original, err = tx.GetEntryForUpdate(ctx, in.CompanyID, in.EntryID)
	if err != nil {
		return Entry{}, Entry{}, err
	}
	if original.Status == StatusVoided {
		return Entry{}, Entry{}, shared.Conflictf("journal: entry %d already voided", in.EntryID)
	}
	if original.Status != StatusPosted {
		return Entry{}, Entry{}, shared.Statef("journal: only posted entries can be voided")
	}
	if original.ReversedBy != nil {
		return Entry{}, Entry{}, shared.Conflictf("journal: entry %d already reversed", in.EntryID)
	}
	lines, err := tx.GetLines(ctx, in.EntryID)
	if err != nil {
		return Entry{}, Entry{}, err
	}
	memo := fmt.Sprintf("Reversal of entry %d", original.ID)
	if in.Reason != "" {
		memo += ": " + in.Reason
	}
	reversal, err = CreatePostedTx(ctx, tx, CreateInput{
		CompanyID: original.CompanyID,
		Date:      at,
		Reference: original.Reference,
		Memo:      memo,
		Currency:  original.Currency,
		Source:    ReversalSource(original.Source, original.ID),
		CreatedBy: in.ActorID,
		Lines:     reverseLines(lines),
	})
	if err != nil {
		return Entry{}, Entry{}, err
	}
	if err := tx.UpdateEntryStatus(ctx, original.ID, StatusVoided); err != nil {
		return Entry{}, Entry{}, err
	}
	if err := tx.SetReversal(ctx, original.ID, reversal.ID); err != nil {
		return Entry{}, Entry{}, err
	}
	original.Status = StatusVoided
	original.ReversedBy = &reversal.ID
	original.Lines = lines
	return original, reversal, nil
}

// applyLines locks the touched accounts, checks they are active, and applies
// signed deltas per normal balance: a debit increases a debit-normal account
// and decreases a credit-normal one. sign of -1 unapplies.
func applyLines(ctx context.Context, tx TxRepository, companyID int64, lines []LineInput, sign int64) error {
	type sum struct{ debit, credit int64 }
	sums := make(map[int64]sum, len(lines))
	for _, line := range lines {
		s := sums[line.AccountID]
		s.debit += line.Debit
		s.credit += line.Credit
		sums[line.AccountID] = s
	}
	ids := make([]int64, 0, len(sums))
	for id := range sums {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	accounts, err := tx.AccountsForPosting(ctx, companyID, ids)
	if err != nil {
		return err
	}
	byID := make(map[int64]PostingAccount, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	deltas := make([]BalanceDelta, 0, len(ids))
	for _, id := range ids {
		a, ok := byID[id]
		if !ok {
			return shared.Referentialf("journal: account %d not found", id)
		}
		if !a.Active {
			return shared.Referentialf("journal: account %d is inactive", id)
		}
		s := sums[id]
		delta := s.debit - s.credit
		if a.NormalBalance == coa.NormalCredit {
			delta = -delta
		}
		deltas = append(deltas, BalanceDelta{AccountID: id, Delta: sign * delta})
	}
	return tx.ApplyBalanceDeltas(ctx, companyID, deltas)
}

func lineInputs(lines []Line) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, LineInput{
			AccountID: line.AccountID,
			Debit:     line.Debit,
			Credit:    line.Credit,
			JobID:     line.JobID,
			CostCode:  line.CostCode,
			VendorID:  line.VendorID,
			ClientID:  line.ClientID,
		})
	}
	return out
}
