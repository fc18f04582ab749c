package posting

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/girderhq/girder/internal/shared"
)

var testMap = AccountMap{APControl: 20, ARControl: 12, Cash: 10, Revenue: 40}

func TestBillLines(t *testing.T) {
	job := int64(7)
	lines, err := BillLines(testMap, 5, []Distribution{
		{AccountID: 51, Amount: 60000, JobID: &job},
		{AccountID: 52, Amount: 40000},
	}, 100000)
	require.NoError(t, err)
	require.Len(t, lines, 3)

	require.Equal(t, int64(51), lines[0].AccountID)
	require.Equal(t, int64(60000), lines[0].Debit)
	require.Equal(t, &job, lines[0].JobID)

	// Control credit comes last and carries the full total.
	last := lines[2]
	require.Equal(t, testMap.APControl, last.AccountID)
	require.Equal(t, int64(100000), last.Credit)
	require.NotNil(t, last.VendorID)
	require.Equal(t, int64(5), *last.VendorID)

	var debit, credit int64
	for _, l := range lines {
		debit += l.Debit
		credit += l.Credit
	}
	require.Equal(t, debit, credit)
}

func TestBillLinesMismatchedTotal(t *testing.T) {
	_, err := BillLines(testMap, 5, []Distribution{{AccountID: 51, Amount: 99999}}, 100000)
	require.Equal(t, shared.KindFatal, shared.KindOf(err))
}

func TestPaymentLines(t *testing.T) {
	lines, err := PaymentLines(testMap, 5, 60000)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, testMap.APControl, lines[0].AccountID)
	require.Equal(t, int64(60000), lines[0].Debit)
	require.Equal(t, testMap.Cash, lines[1].AccountID)
	require.Equal(t, int64(60000), lines[1].Credit)
}

func TestPaymentLinesRejectsZeroApplied(t *testing.T) {
	_, err := PaymentLines(testMap, 5, 0)
	require.Equal(t, shared.KindFatal, shared.KindOf(err))
}

func TestInvoiceLines(t *testing.T) {
	lines, err := InvoiceLines(testMap, 9, []Distribution{
		{AccountID: 41, Amount: 70000},
		{AccountID: 0, Amount: 30000},
	}, 100000)
	require.NoError(t, err)
	require.Len(t, lines, 3)

	// Control debit comes first.
	require.Equal(t, testMap.ARControl, lines[0].AccountID)
	require.Equal(t, int64(100000), lines[0].Debit)
	require.Equal(t, int64(41), lines[1].AccountID)
	// Zero account falls back to the default revenue account.
	require.Equal(t, testMap.Revenue, lines[2].AccountID)
	require.Equal(t, int64(30000), lines[2].Credit)
}

func TestInvoiceLinesMismatchedTotal(t *testing.T) {
	_, err := InvoiceLines(testMap, 9, []Distribution{{AccountID: 41, Amount: 1}}, 2)
	require.Equal(t, shared.KindFatal, shared.KindOf(err))
}

func TestReceiptLines(t *testing.T) {
	lines, err := ReceiptLines(testMap, 9, 45000)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, testMap.Cash, lines[0].AccountID)
	require.Equal(t, int64(45000), lines[0].Debit)
	require.Equal(t, testMap.ARControl, lines[1].AccountID)
	require.Equal(t, int64(45000), lines[1].Credit)
}
