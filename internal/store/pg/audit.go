package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/decode-soumyadipta/KhananNetra-backend/internal/audit"
)

// AuditSink appends audit records to the durable table. The recorder treats
// a failed append as a fallback condition, never as a caller error.
type AuditSink struct {
	store *Store
}

var _ audit.Sink = (*AuditSink)(nil)

// NewAuditSink wraps the store as an audit sink.
func NewAuditSink(store *Store) *AuditSink {
	return &AuditSink{store: store}
}

func (s *AuditSink) Append(ctx context.Context, rec *audit.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	_, err = s.store.q.ExecContext(ctx, `
		insert into audit_records (id, occurred_at, actor_principal_id, target_principal_id, action, risk, result, record)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.OccurredAt, rec.Actor.PrincipalID, rec.Target.PrincipalID,
		string(rec.Action), string(rec.Risk), string(rec.Result), doc)
	return err
}
