package reporting

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/money"
	"github.com/meridian-erp/meridian/internal/shared"
)

// DocumentKind distinguishes receivable from payable documents.
type DocumentKind string

const (
	DocumentReceivable DocumentKind = "AR"
	DocumentPayable    DocumentKind = "AP"
)

// OpenDocument is an unpaid or partially paid invoice or bill.
type OpenDocument struct {
	ID         int64
	Kind       DocumentKind
	PartyID    int64
	Reference  string
	Currency   string
	Total      decimal.Decimal
	AmountPaid decimal.Decimal
	IssueDate  time.Time
}

// Remaining is the unpaid portion in the document's native currency.
func (d OpenDocument) Remaining() money.Money {
	return money.New(d.Total.Sub(d.AmountPaid), d.Currency)
}

// OutstandingLine is one document's contribution to the report.
type OutstandingLine struct {
	DocumentID int64
	Reference  string
	Remaining  money.Money
	Converted  money.Money
}

// OutstandingReport sums a party's open documents in the reporting
// currency. Partial is set when documents were skipped for lack of a
// historical rate; their IDs are listed in Skipped.
type OutstandingReport struct {
	PartyID  int64
	Kind     DocumentKind
	Currency string
	AsOf     time.Time
	Total    money.Money
	Lines    []OutstandingLine
	Partial  bool
	Skipped  []int64
}

// DocumentsPort lists open documents.
type DocumentsPort interface {
	OpenDocuments(ctx context.Context, kind DocumentKind, partyID int64, asOf time.Time) ([]OpenDocument, error)
}

// ConverterPort converts amounts at a historical date.
type ConverterPort interface {
	Convert(ctx context.Context, amount money.Money, toCurrency string, onDate time.Time) (money.Money, error)
}

// Service builds read-only aggregations from ledger and rate-table
// queries. It holds no state of its own.
type Service struct {
	docs      DocumentsPort
	converter ConverterPort
	logger    *slog.Logger
}

// NewService builds Service. Logger is optional.
func NewService(docs DocumentsPort, converter ConverterPort, logger *slog.Logger) *Service {
	return &Service{docs: docs, converter: converter, logger: logger}
}

// OutstandingBalance sums the unpaid portion of a party's open
// documents in the reporting currency. Each document converts at its
// own issue date: historical obligations use the rate in effect when
// they were created, not the report date. A document with no
// applicable rate is skipped and the report marked partial rather than
// aborted.
func (s *Service) OutstandingBalance(ctx context.Context, kind DocumentKind, partyID int64, reportingCurrency string, asOf time.Time) (OutstandingReport, error) {
	documents, err := s.docs.OpenDocuments(ctx, kind, partyID, asOf)
	if err != nil {
		return OutstandingReport{}, err
	}
	report := OutstandingReport{
		PartyID:  partyID,
		Kind:     kind,
		Currency: reportingCurrency,
		AsOf:     asOf,
		Total:    money.Zero(reportingCurrency),
	}
	for _, doc := range documents {
		remaining := doc.Remaining()
		converted, err := s.converter.Convert(ctx, remaining, reportingCurrency, doc.IssueDate)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				if s.logger != nil {
					s.logger.Warn("document excluded from outstanding balance",
						slog.Int64("document_id", doc.ID),
						slog.String("currency", doc.Currency),
						slog.String("issue_date", doc.IssueDate.Format("2006-01-02")),
						slog.Any("error", err))
				}
				report.Partial = true
				report.Skipped = append(report.Skipped, doc.ID)
				continue
			}
			return OutstandingReport{}, err
		}
		total, err := report.Total.Add(converted)
		if err != nil {
			return OutstandingReport{}, err
		}
		report.Total = total
		report.Lines = append(report.Lines, OutstandingLine{
			DocumentID: doc.ID,
			Reference:  doc.Reference,
			Remaining:  remaining,
			Converted:  converted,
		})
	}
	return report, nil
}
