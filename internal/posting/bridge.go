package posting

import (
	"github.com/girderhq/girder/internal/journal"
	"github.com/girderhq/girder/internal/shared"
)

// Distribution is one expense or revenue split of a subledger document, in
// minor units, with optional job costing tags carried through to the ledger.
type Distribution struct {
	AccountID int64
	Amount    int64
	JobID     *int64
	CostCode  *string
}

// BillLines maps an approved AP bill: debit each cost distribution, credit
// the AP control account for the bill total. The control line comes last.
func BillLines(m AccountMap, vendorID int64, dists []Distribution, total int64) ([]journal.LineInput, error) {
	lines := make([]journal.LineInput, 0, len(dists)+1)
	var sum int64
	for _, d := range dists {
		lines = append(lines, journal.LineInput{
			AccountID: d.AccountID,
			Debit:     d.Amount,
			JobID:     d.JobID,
			CostCode:  d.CostCode,
			VendorID:  &vendorID,
		})
		sum += d.Amount
	}
	if sum != total {
		return nil, shared.Fatalf("posting: bill distributions %d do not equal total %d", sum, total)
	}
	lines = append(lines, journal.LineInput{AccountID: m.APControl, Credit: total, VendorID: &vendorID})
	return lines, nil
}

// PaymentLines maps an AP payment for its applied total: debit AP control,
// credit cash.
func PaymentLines(m AccountMap, vendorID, applied int64) ([]journal.LineInput, error) {
	if applied <= 0 {
		return nil, shared.Fatalf("posting: payment applied total %d not positive", applied)
	}
	return []journal.LineInput{
		{AccountID: m.APControl, Debit: applied, VendorID: &vendorID},
		{AccountID: m.Cash, Credit: applied, VendorID: &vendorID},
	}, nil
}

// InvoiceLines maps an approved AR invoice: debit the AR control account for
// the total, credit each revenue distribution. Distributions with no account
// fall to the company's default revenue account.
func InvoiceLines(m AccountMap, clientID int64, dists []Distribution, total int64) ([]journal.LineInput, error) {
	lines := []journal.LineInput{{AccountID: m.ARControl, Debit: total, ClientID: &clientID}}
	var sum int64
	for _, d := range dists {
		account := d.AccountID
		if account == 0 {
			account = m.Revenue
		}
		lines = append(lines, journal.LineInput{
			AccountID: account,
			Credit:    d.Amount,
			JobID:     d.JobID,
			CostCode:  d.CostCode,
			ClientID:  &clientID,
		})
		sum += d.Amount
	}
	if sum != total {
		return nil, shared.Fatalf("posting: invoice distributions %d do not equal total %d", sum, total)
	}
	return lines, nil
}

// ReceiptLines maps an AR receipt for its applied total: debit cash, credit
// AR control.
func ReceiptLines(m AccountMap, clientID, applied int64) ([]journal.LineInput, error) {
	if applied <= 0 {
		return nil, shared.Fatalf("posting: receipt applied total %d not positive", applied)
	}
	return []journal.LineInput{
		{AccountID: m.Cash, Debit: applied, ClientID: &clientID},
		{AccountID: m.ARControl, Credit: applied, ClientID: &clientID},
	}, nil
}
