package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// SessionContext carries the identity and accessible scope id sets handed to
// the database session so row-level-security policies filter on the same
// boundary the engine resolved. The `app.*` settings match the set_config
// names the RLS policies read.
type SessionContext struct {
	UserID      string
	RoleCode    string
	CompanyIDs  []string
	EstateIDs   []string
	DivisionIDs []string
	BlockIDs    []string
}

// Apply sets the session variables on the given transaction. The settings are
// transaction-local (set_config is_local=true) so they never leak across
// pooled connections.
func (s SessionContext) Apply(ctx context.Context, tx pgx.Tx) error {
	settings := []struct {
		name  string
		value string
	}{
		{"app.user_id", s.UserID},
		{"app.user_role", s.RoleCode},
		{"app.company_ids", strings.Join(s.CompanyIDs, ",")},
		{"app.estate_ids", strings.Join(s.EstateIDs, ",")},
		{"app.division_ids", strings.Join(s.DivisionIDs, ",")},
		{"app.block_ids", strings.Join(s.BlockIDs, ",")},
	}
	for _, setting := range settings {
		if _, err := tx.Exec(ctx, `SELECT set_config($1, $2, true)`, setting.name, setting.value); err != nil {
			return fmt.Errorf("platform/db: set %s: %w", setting.name, err)
		}
	}
	return nil
}
