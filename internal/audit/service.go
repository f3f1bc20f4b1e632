package audit

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	List(ctx context.Context, f Filter) ([]Record, bool, error)
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service serves the read-only audit timeline and the retention sweep.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
}

func NewService(logger *slog.Logger, repo RepositoryPort) *Service {
	return &Service{logger: logger, repo: repo}
}

// TimelinePage is one page of the timeline.
type TimelinePage struct {
	Records  []Record `json:"records"`
	Page     int      `json:"page"`
	PageSize int      `json:"pageSize"`
	HasNext  bool     `json:"hasNext"`
}

// Timeline lists records matching the filter, newest first.
func (s *Service) Timeline(ctx context.Context, f Filter) (TimelinePage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	records, hasNext, err := s.repo.List(ctx, f)
	if err != nil {
		return TimelinePage{}, err
	}
	return TimelinePage{Records: records, Page: f.Page, PageSize: f.PageSize, HasNext: hasNext}, nil
}

// Prune removes records older than the retention window.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	removed, err := s.repo.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 && s.logger != nil {
		s.logger.Info("audit retention sweep",
			slog.Int64("removed", removed),
			slog.Time("cutoff", cutoff))
	}
	return removed, nil
}
