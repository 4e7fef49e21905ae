package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian/internal/shared"
)

// Recorder persists audit logs in PostgreSQL. Recording is best
// effort: a failed write is logged, never propagated into the
// operation being audited.
type Recorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRecorder constructs Recorder.
func NewRecorder(pool *pgxpool.Pool, logger *slog.Logger) *Recorder {
	return &Recorder{pool: pool, logger: logger}
}

// Record writes one audit entry.
func (r *Recorder) Record(ctx context.Context, log shared.AuditLog) error {
	if r == nil || r.pool == nil {
		return nil
	}
	meta, err := json.Marshal(log.Meta)
	if err != nil {
		meta = []byte("{}")
	}
	at := log.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, created_at)
VALUES ($1,$2,$3,$4,$5,$6)`, log.ActorID, log.Action, log.Entity, log.EntityID, meta, at)
	if err != nil && r.logger != nil {
		r.logger.Warn("audit record failed", slog.String("action", log.Action), slog.Any("error", err))
	}
	return err
}
