package reporting

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads open documents from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// OpenDocuments lists a party's unpaid or partially paid documents
// issued on or before asOf.
func (r *Repository) OpenDocuments(ctx context.Context, kind DocumentKind, partyID int64, asOf time.Time) ([]OpenDocument, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, kind, party_id, reference, currency, total, amount_paid, issue_date
FROM open_documents
WHERE kind=$1 AND party_id=$2 AND amount_paid < total AND issue_date <= $3
ORDER BY issue_date, id`, string(kind), partyID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var documents []OpenDocument
	for rows.Next() {
		var doc OpenDocument
		if err := rows.Scan(&doc.ID, &doc.Kind, &doc.PartyID, &doc.Reference, &doc.Currency, &doc.Total, &doc.AmountPaid, &doc.IssueDate); err != nil {
			return nil, err
		}
		documents = append(documents, doc)
	}
	return documents, rows.Err()
}
