package pg

import (
	"context"
	"fmt"

	"github.com/decode-soumyadipta/KhananNetra-backend/internal/catalog"
)

// EnsureCatalog upserts the externally maintained permission catalog so ops
// tooling can query it relationally. The in-process catalog stays the source
// of truth for evaluation.
func (s *Store) EnsureCatalog(ctx context.Context, defs []catalog.Definition) error {
	for _, d := range defs {
		if _, err := s.q.ExecContext(ctx, `
			insert into permission_catalog (key, module, resource, action, category, scope, severity, active, deprecated)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			on conflict (key) do update
			set module = excluded.module, resource = excluded.resource, action = excluded.action,
			    category = excluded.category, scope = excluded.scope, severity = excluded.severity,
			    active = excluded.active, deprecated = excluded.deprecated
		`, d.Key, d.Module, d.Resource, d.Action, d.Category, d.Scope, d.Severity, d.Active, d.Deprecated); err != nil {
			return fmt.Errorf("ensure catalog entry %s: %w", d.Key, err)
		}
	}
	return nil
}
