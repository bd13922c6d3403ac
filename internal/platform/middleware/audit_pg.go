package middleware

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medflow/billing/internal/platform/db"
)

// AuditStorePG writes audit entries to the audit_log table of the tenant
// schema the request resolved to.
type AuditStorePG struct {
	pool *pgxpool.Pool
}

func NewAuditStorePG(pool *pgxpool.Pool) *AuditStorePG {
	return &AuditStorePG{pool: pool}
}

func (s *AuditStorePG) RecordAccess(ctx context.Context, e AuditEntry) error {
	roles := e.UserRoles
	if roles == nil {
		roles = []string{}
	}
	_, err := db.QuerierFrom(ctx, s.pool).Exec(ctx, `
		INSERT INTO audit_log (request_id, user_id, user_roles, resource, resource_id, action,
			method, path, remote_ip, status_code, created_at)
		VALUES (NULLIF($1, ''), NULLIF($2, ''), $3, $4, NULLIF($5, ''), $6, $7, $8, NULLIF($9, ''), $10, $11)`,
		e.RequestID, e.UserID, roles, e.Resource, e.ResourceID, e.Action,
		e.Method, e.Path, e.IPAddress, e.StatusCode, e.Timestamp)
	return err
}
