package engine

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/agrinova/accessd/internal/catalog"
	"github.com/agrinova/accessd/internal/shared"
)

// RoleStore supplies the inputs of hierarchy resolution.
type RoleStore interface {
	ActiveRoles(ctx context.Context) ([]catalog.Role, error)
	DirectPermissionsByRole(ctx context.Context) (map[uuid.UUID][]string, error)
}

// effectivePermissions computes the effective permission set of a role: its
// direct assignments plus the direct assignments of every active role whose
// level is numerically lower. Ties inherit from each other. This is the
// documented inheritance direction, preserved as-is.
//
// Roles that have vanished or been deactivated since the role list was read
// simply contribute nothing; resolution never fails on them.
func (s *Service) effectivePermissions(ctx context.Context, roleID uuid.UUID, rolesGen int64) ([]string, error) {
	if codes, ok, err := s.cache.GetRolePermissions(ctx, roleID, rolesGen); err == nil && ok {
		return codes, nil
	}

	roles, err := s.roles.ActiveRoles(ctx)
	if err != nil {
		return nil, err
	}
	var target *catalog.Role
	for i := range roles {
		if roles[i].ID == roleID {
			target = &roles[i]
			break
		}
	}
	if target == nil {
		return nil, shared.ErrNotFound
	}

	direct, err := s.roles.DirectPermissionsByRole(ctx)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{})
	for _, role := range roles {
		if role.Level > target.Level {
			continue
		}
		for _, code := range direct[role.ID] {
			set[code] = struct{}{}
		}
	}
	codes := make([]string, 0, len(set))
	for code := range set {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	if err := s.cache.PutRolePermissions(ctx, roleID, rolesGen, codes); err != nil {
		s.logger.Debug("memoize role permissions", slog.Any("error", err))
	}
	return codes, nil
}

// EffectiveRolePermissions exposes hierarchy resolution to the management
// surface for inspection.
func (s *Service) EffectiveRolePermissions(ctx context.Context, roleID uuid.UUID) ([]string, error) {
	_, rolesGen, err := s.cache.Generations(ctx, uuid.Nil)
	if err != nil {
		rolesGen = -1 // cache unavailable, compute without memoization
	}
	return s.effectivePermissions(ctx, roleID, rolesGen)
}
