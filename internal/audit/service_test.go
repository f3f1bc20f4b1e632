package audit

import (
	"context"
	"testing"
	"time"
)

type stubRepo struct {
	records []Record
	pruned  int64

	lastFilter Filter
	lastCutoff time.Time
}

func (s *stubRepo) List(ctx context.Context, f Filter) ([]Record, bool, error) {
	s.lastFilter = f
	if len(s.records) > f.PageSize {
		return s.records[:f.PageSize], true, nil
	}
	return s.records, false, nil
}

func (s *stubRepo) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	s.lastCutoff = cutoff
	return s.pruned, nil
}

func mockRecord(action string) Record {
	return Record{Action: action, Entity: "role", EntityID: "1", OccurredAt: time.Now().UTC()}
}

func TestTimelineDefaultsAndCapsPaging(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(nil, repo)

	if _, err := svc.Timeline(context.Background(), Filter{}); err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastFilter.Page != 1 || repo.lastFilter.PageSize != defaultPageSize {
		t.Fatalf("expected defaults, got page=%d size=%d", repo.lastFilter.Page, repo.lastFilter.PageSize)
	}

	if _, err := svc.Timeline(context.Background(), Filter{Page: 3, PageSize: 500}); err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastFilter.PageSize != maxPageSize {
		t.Fatalf("expected page size capped at %d, got %d", maxPageSize, repo.lastFilter.PageSize)
	}
}

func TestTimelineReportsHasNext(t *testing.T) {
	repo := &stubRepo{records: []Record{
		mockRecord("role.create"),
		mockRecord("role.update"),
		mockRecord("role.delete"),
	}}
	svc := NewService(nil, repo)

	page, err := svc.Timeline(context.Background(), Filter{PageSize: 2})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(page.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(page.Records))
	}
	if !page.HasNext {
		t.Fatal("expected hasNext true")
	}
}

func TestPruneUsesRetentionCutoff(t *testing.T) {
	repo := &stubRepo{pruned: 7}
	svc := NewService(nil, repo)

	removed, err := svc.Prune(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 7 {
		t.Fatalf("expected 7 removed, got %d", removed)
	}
	want := time.Now().UTC().Add(-30 * 24 * time.Hour)
	if diff := repo.lastCutoff.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("cutoff %v too far from %v", repo.lastCutoff, want)
	}
}
