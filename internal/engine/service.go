package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agrinova/accessd/internal/shared"
)

// Audit modes for decision logging.
const (
	AuditModeOff    = "off"
	AuditModeDenied = "denied"
	AuditModeAll    = "all"
)

const checkConcurrency = 4

// Config tunes the check path.
type Config struct {
	CacheTTL     time.Duration
	CheckTimeout time.Duration
	AuditMode    string
}

// AuditRecorder writes decision records outside any transaction.
type AuditRecorder interface {
	Record(ctx context.Context, entry shared.AuditEntry) error
}

// RoleStatsStore and OverrideStatsStore feed the stats endpoint.
type RoleStatsStore interface {
	CountActiveRoles(ctx context.Context) (int, error)
	PermissionDistribution(ctx context.Context) (map[string]int, error)
}

type OverrideStatsStore interface {
	CountActive(ctx context.Context) (int, error)
}

// Service answers permission checks. All public methods fail closed: any
// error on the resolution path yields a deny alongside the error.
type Service struct {
	logger    *slog.Logger
	roles     RoleStore
	overrides OverrideStore
	users     UserStore
	cache     *Cache
	audit     AuditRecorder
	metrics   *Metrics
	cfg       Config

	roleStats     RoleStatsStore
	overrideStats OverrideStatsStore

	hits   atomic.Int64
	misses atomic.Int64
}

func NewService(
	logger *slog.Logger,
	roles RoleStore,
	overrides OverrideStore,
	users UserStore,
	cache *Cache,
	audit AuditRecorder,
	metrics *Metrics,
	cfg Config,
) *Service {
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 2 * time.Second
	}
	if cfg.AuditMode == "" {
		cfg.AuditMode = AuditModeDenied
	}
	return &Service{
		logger:    logger,
		roles:     roles,
		overrides: overrides,
		users:     users,
		cache:     cache,
		audit:     audit,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// WithStats attaches the counting stores used by the stats endpoint.
func (s *Service) WithStats(roles RoleStatsStore, overrides OverrideStatsStore) *Service {
	s.roleStats = roles
	s.overrideStats = overrides
	return s
}

// HasPermission answers a single check, consulting the decision cache first.
// A cache outage downgrades to direct computation; a store outage denies.
func (s *Service) HasPermission(ctx context.Context, userID uuid.UUID, item CheckItem) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CheckTimeout)
	defer cancel()

	userGen, rolesGen, genErr := s.cache.Generations(ctx, userID)
	if genErr != nil {
		s.logger.Warn("decision cache unavailable, computing directly", slog.Any("error", genErr))
		rolesGen = -1
		d, err := s.check(ctx, userID, item, rolesGen)
		s.record(ctx, userID, item, d, err)
		return d, err
	}

	key := s.cache.DecisionKey(userID, item.Permission, scopeKey(item.Scope), userGen, rolesGen)
	if d, ok, err := s.cache.GetDecision(ctx, key); err == nil && ok {
		s.hits.Add(1)
		s.metrics.observe(d, true)
		s.record(ctx, userID, item, d, nil)
		return d, nil
	}
	s.misses.Add(1)

	d, err := s.check(ctx, userID, item, rolesGen)
	if err != nil {
		s.record(ctx, userID, item, d, err)
		return d, err
	}
	if err := s.cache.PutDecision(ctx, key, d); err != nil {
		s.logger.Debug("cache decision", slog.Any("error", err))
	}
	s.metrics.observe(d, false)
	s.record(ctx, userID, item, d, nil)
	return d, nil
}

func (s *Service) check(ctx context.Context, userID uuid.UUID, item CheckItem, rolesGen int64) (Decision, error) {
	d, err := s.resolve(ctx, userID, item, rolesGen)
	if err != nil {
		return Decision{ComputedAt: time.Now().UTC()}, fmt.Errorf("resolve %s for %s: %w: %v", item.Permission, userID, shared.ErrUnavailable, err)
	}
	return d, nil
}

// HasAny reports whether any of the permissions is allowed at the scope.
func (s *Service) HasAny(ctx context.Context, userID uuid.UUID, items []CheckItem) (bool, error) {
	for _, item := range items {
		d, err := s.HasPermission(ctx, userID, item)
		if err != nil {
			return false, err
		}
		if d.Allowed {
			return true, nil
		}
	}
	return false, nil
}

// HasAll reports whether every permission is allowed at the scope.
func (s *Service) HasAll(ctx context.Context, userID uuid.UUID, items []CheckItem) (bool, error) {
	if len(items) == 0 {
		return false, nil
	}
	for _, item := range items {
		d, err := s.HasPermission(ctx, userID, item)
		if err != nil {
			return false, err
		}
		if !d.Allowed {
			return false, nil
		}
	}
	return true, nil
}

// CheckMany resolves a batch of independent checks concurrently. The result
// map is keyed by CheckItem.Key. Duplicate items collapse to one entry.
func (s *Service) CheckMany(ctx context.Context, userID uuid.UUID, items []CheckItem) (map[string]Decision, error) {
	results := make(map[string]Decision, len(items))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(checkConcurrency)
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		key := item.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		g.Go(func() error {
			d, err := s.HasPermission(ctx, userID, item)
			if err != nil {
				return err
			}
			mu.Lock()
			results[key] = d
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// record appends a decision record according to the configured audit mode.
// Failures are logged, never surfaced: auditing must not change the answer.
func (s *Service) record(ctx context.Context, userID uuid.UUID, item CheckItem, d Decision, checkErr error) {
	if s.audit == nil || s.cfg.AuditMode == AuditModeOff {
		return
	}
	if s.cfg.AuditMode == AuditModeDenied && d.Allowed {
		return
	}
	entry := shared.AuditEntry{
		ActorID:  userID.String(),
		Action:   "authz.check",
		Entity:   "decision",
		EntityID: item.Key(),
		After: map[string]any{
			"allowed":     d.Allowed,
			"permission":  item.Permission,
			"scope":       scopeKey(item.Scope),
			"override_id": d.MatchedOverrideID,
			"role_id":     d.SourceRoleID,
		},
		At: d.ComputedAt,
	}
	if checkErr != nil {
		entry.Action = "authz.check.error"
	} else if !d.Allowed {
		entry.Action = "authz.check.denied"
	}
	if err := s.audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("record decision", slog.Any("error", err))
	}
}

// StatsReport summarises engine activity for operators.
type StatsReport struct {
	CacheHits              int64          `json:"cacheHits"`
	CacheMisses            int64          `json:"cacheMisses"`
	HitRate                float64        `json:"hitRate"`
	ActiveRoles            int            `json:"activeRoles"`
	ActiveOverrides        int            `json:"activeOverrides"`
	PermissionDistribution map[string]int `json:"permissionDistribution"`
	GeneratedAt            time.Time      `json:"generatedAt"`
}

// Stats reports process-local cache counters plus store-wide counts.
func (s *Service) Stats(ctx context.Context) (StatsReport, error) {
	report := StatsReport{
		CacheHits:   s.hits.Load(),
		CacheMisses: s.misses.Load(),
		GeneratedAt: time.Now().UTC(),
	}
	if total := report.CacheHits + report.CacheMisses; total > 0 {
		report.HitRate = float64(report.CacheHits) / float64(total)
	}
	if s.roleStats != nil {
		n, err := s.roleStats.CountActiveRoles(ctx)
		if err != nil {
			return report, err
		}
		report.ActiveRoles = n
		dist, err := s.roleStats.PermissionDistribution(ctx)
		if err != nil {
			return report, err
		}
		report.PermissionDistribution = dist
	}
	if s.overrideStats != nil {
		n, err := s.overrideStats.CountActive(ctx)
		if err != nil {
			return report, err
		}
		report.ActiveOverrides = n
	}
	return report, nil
}
