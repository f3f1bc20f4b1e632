package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agrinova/accessd/internal/override"
	"github.com/agrinova/accessd/internal/shared"
)

// OverrideStore yields the live overrides of a user for one permission,
// newest first.
type OverrideStore interface {
	ActiveForPermission(ctx context.Context, userID uuid.UUID, permission string) ([]override.Override, error)
}

// UserStore resolves a user to their active role.
type UserStore interface {
	RoleOf(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
}

// resolve computes a decision from scratch. Overrides whose scope exactly
// matches the request win over the role hierarchy, deny over grant. An
// unknown or inactive user resolves to deny rather than an error.
func (s *Service) resolve(ctx context.Context, userID uuid.UUID, item CheckItem, rolesGen int64) (Decision, error) {
	now := time.Now().UTC()
	d := Decision{ComputedAt: now}

	ovs, err := s.overrides.ActiveForPermission(ctx, userID, item.Permission)
	if err != nil {
		return d, err
	}
	if matched, ok := matchOverride(s.logger, ovs, item.Scope, now); ok {
		d.Allowed = matched.Decision == override.Grant
		d.MatchedOverrideID = &matched.ID
		return d, nil
	}

	roleID, err := s.users.RoleOf(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return d, nil
		}
		return d, err
	}
	codes, err := s.effectivePermissions(ctx, roleID, rolesGen)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return d, nil
		}
		return d, err
	}
	for _, code := range codes {
		if code == item.Permission {
			d.Allowed = true
			d.SourceRoleID = &roleID
			return d, nil
		}
	}
	return d, nil
}

// matchOverride picks the winning override for the requested scope. The rows
// arrive newest first, so the first hit per decision kind wins; an older
// duplicate of the same tuple only draws an integrity warning. Deny beats
// grant when both match.
func matchOverride(logger *slog.Logger, ovs []override.Override, scope *override.Scope, now time.Time) (override.Override, bool) {
	var grant, deny *override.Override
	for i := range ovs {
		ov := ovs[i]
		if ov.Expired(now) || !ov.Matches(scope) {
			continue
		}
		switch ov.Decision {
		case override.Deny:
			if deny == nil {
				deny = &ovs[i]
			} else {
				logger.Warn("duplicate override tuple",
					slog.String("user_id", ov.UserID.String()),
					slog.String("permission", ov.PermissionCode),
					slog.String("scope", ov.ScopeKey()))
			}
		case override.Grant:
			if grant == nil {
				grant = &ovs[i]
			} else {
				logger.Warn("duplicate override tuple",
					slog.String("user_id", ov.UserID.String()),
					slog.String("permission", ov.PermissionCode),
					slog.String("scope", ov.ScopeKey()))
			}
		}
	}
	if deny != nil {
		return *deny, true
	}
	if grant != nil {
		return *grant, true
	}
	return override.Override{}, false
}
