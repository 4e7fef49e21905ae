package reporting

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian/internal/ledger"
	"github.com/meridian-erp/meridian/internal/money"
	"github.com/meridian-erp/meridian/internal/shared"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func row(t *testing.T, code string, side ledger.BalanceSide, balance string) ledger.TrialBalanceRow {
	t.Helper()
	return ledger.TrialBalanceRow{Code: code, Name: code, Side: side, Balance: dec(t, balance)}
}

func TestGroupTrialBalance(t *testing.T) {
	tb := ledger.TrialBalance{
		Rows: []ledger.TrialBalanceRow{
			row(t, "40.100", ledger.SideCredit, "300"),
			row(t, "10.200", ledger.SideDebit, "120"),
			row(t, "10.100", ledger.SideDebit, "180"),
			row(t, "20.100", ledger.SideCredit, "0"),
		},
		TotalDebits:  dec(t, "300"),
		TotalCredits: dec(t, "300"),
	}

	grouped := GroupTrialBalance(tb)
	require.Len(t, grouped.Groups, 3)

	// Groups come back sorted by key, rows within a group by code.
	require.Equal(t, "10", grouped.Groups[0].Key)
	require.Equal(t, "20", grouped.Groups[1].Key)
	require.Equal(t, "40", grouped.Groups[2].Key)
	require.Equal(t, "10.100", grouped.Groups[0].Rows[0].Code)
	require.Equal(t, "10.200", grouped.Groups[0].Rows[1].Code)

	require.True(t, grouped.Groups[0].Debits.Equal(dec(t, "300")))
	require.True(t, grouped.Groups[0].Credits.IsZero())
	require.True(t, grouped.Groups[2].Credits.Equal(dec(t, "300")))
	require.True(t, grouped.TotalDebits.Equal(dec(t, "300")))
	require.True(t, grouped.TotalCredits.Equal(dec(t, "300")))
}

func TestGroupKey(t *testing.T) {
	require.Equal(t, "10", groupKey("10.100"))
	require.Equal(t, "1000", groupKey("1000.5"))
	require.Equal(t, "10", groupKey("1050"))
	require.Equal(t, "9", groupKey("9"))
}

type memDocs struct {
	docs []OpenDocument
}

func (r *memDocs) OpenDocuments(_ context.Context, kind DocumentKind, partyID int64, asOf time.Time) ([]OpenDocument, error) {
	out := make([]OpenDocument, 0)
	for _, doc := range r.docs {
		if doc.Kind == kind && doc.PartyID == partyID && !doc.IssueDate.After(asOf) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// memConverter resolves per currency and date, so tests can verify each
// document converts at its own issue date.
type memConverter struct {
	rates map[string]decimal.Decimal // "CUR@2006-01-02"
}

func (c *memConverter) Convert(_ context.Context, amount money.Money, toCurrency string, onDate time.Time) (money.Money, error) {
	if amount.Currency() == toCurrency {
		return amount, nil
	}
	rate, ok := c.rates[amount.Currency()+"@"+onDate.Format("2006-01-02")]
	if !ok {
		return money.Money{}, fmt.Errorf("no rate for %s on %s: %w", amount.Currency(), onDate.Format("2006-01-02"), shared.ErrNotFound)
	}
	return money.New(amount.Amount().Mul(rate), toCurrency).RoundToMinorUnit(), nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestOutstandingBalanceConvertsAtIssueDate(t *testing.T) {
	docs := &memDocs{docs: []OpenDocument{
		{ID: 1, Kind: DocumentReceivable, PartyID: 5, Reference: "INV-1", Currency: "EUR",
			Total: dec(t, "100"), AmountPaid: dec(t, "40"), IssueDate: day(2026, 1, 10)},
		{ID: 2, Kind: DocumentReceivable, PartyID: 5, Reference: "INV-2", Currency: "EUR",
			Total: dec(t, "200"), AmountPaid: dec(t, "0"), IssueDate: day(2026, 2, 10)},
		{ID: 3, Kind: DocumentReceivable, PartyID: 5, Reference: "INV-3", Currency: "USD",
			Total: dec(t, "50"), AmountPaid: dec(t, "0"), IssueDate: day(2026, 2, 20)},
	}}
	converter := &memConverter{rates: map[string]decimal.Decimal{
		"EUR@2026-01-10": dec(t, "1.10"),
		"EUR@2026-02-10": dec(t, "1.20"),
	}}
	svc := NewService(docs, converter, nil)

	report, err := svc.OutstandingBalance(context.Background(), DocumentReceivable, 5, "USD", day(2026, 3, 1))
	require.NoError(t, err)
	require.False(t, report.Partial)
	require.Len(t, report.Lines, 3)

	// 60*1.10 + 200*1.20 + 50 = 66 + 240 + 50 = 356
	require.True(t, report.Total.Equal(money.New(dec(t, "356"), "USD")), "got %s", report.Total)
	require.True(t, report.Lines[0].Converted.Equal(money.New(dec(t, "66"), "USD")))
	require.True(t, report.Lines[1].Converted.Equal(money.New(dec(t, "240"), "USD")))
}

func TestOutstandingBalanceSkipsUnconvertibleDocuments(t *testing.T) {
	docs := &memDocs{docs: []OpenDocument{
		{ID: 1, Kind: DocumentPayable, PartyID: 9, Reference: "BILL-1", Currency: "EUR",
			Total: dec(t, "100"), IssueDate: day(2026, 1, 10)},
		{ID: 2, Kind: DocumentPayable, PartyID: 9, Reference: "BILL-2", Currency: "THB",
			Total: dec(t, "5000"), IssueDate: day(2026, 1, 15)},
	}}
	converter := &memConverter{rates: map[string]decimal.Decimal{
		"EUR@2026-01-10": dec(t, "1.10"),
	}}
	svc := NewService(docs, converter, nil)

	report, err := svc.OutstandingBalance(context.Background(), DocumentPayable, 9, "USD", day(2026, 3, 1))
	require.NoError(t, err)
	require.True(t, report.Partial)
	require.Equal(t, []int64{2}, report.Skipped)
	require.Len(t, report.Lines, 1)
	require.True(t, report.Total.Equal(money.New(dec(t, "110"), "USD")))
}

func TestOutstandingBalanceAsOfFilter(t *testing.T) {
	docs := &memDocs{docs: []OpenDocument{
		{ID: 1, Kind: DocumentReceivable, PartyID: 5, Reference: "INV-1", Currency: "USD",
			Total: dec(t, "100"), IssueDate: day(2026, 1, 10)},
		{ID: 2, Kind: DocumentReceivable, PartyID: 5, Reference: "INV-2", Currency: "USD",
			Total: dec(t, "200"), IssueDate: day(2026, 4, 10)},
	}}
	svc := NewService(docs, &memConverter{}, nil)

	report, err := svc.OutstandingBalance(context.Background(), DocumentReceivable, 5, "USD", day(2026, 3, 1))
	require.NoError(t, err)
	require.Len(t, report.Lines, 1)
	require.True(t, report.Total.Equal(money.New(dec(t, "100"), "USD")))
}

func TestOutstandingBalanceEmpty(t *testing.T) {
	svc := NewService(&memDocs{}, &memConverter{}, nil)

	report, err := svc.OutstandingBalance(context.Background(), DocumentReceivable, 5, "USD", day(2026, 3, 1))
	require.NoError(t, err)
	require.False(t, report.Partial)
	require.Empty(t, report.Lines)
	require.True(t, report.Total.IsZero())
	require.Equal(t, "USD", report.Total.Currency())
}

func TestOpenDocumentRemaining(t *testing.T) {
	doc := OpenDocument{Currency: "EUR", Total: dec(t, "100"), AmountPaid: dec(t, "33.50")}
	require.True(t, doc.Remaining().Equal(money.New(dec(t, "66.50"), "EUR")))
}
