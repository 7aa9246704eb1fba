package service

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/isotope-submissions-api/internal/models"
	"github.com/noah-isme/isotope-submissions-api/internal/repository"
	appErrors "github.com/noah-isme/isotope-submissions-api/pkg/errors"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	deleted []string
	failGet bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (m *memoryCache) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return errors.New("redis: connection refused")
	}
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *memoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, pattern)
	for key := range m.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(m.entries, key)
		}
	}
	return nil
}

type catalogStoreStub struct {
	submissions []models.Submission
	approved    []models.ApprovedMeasurement
	reads       int
	err         error
}

func (s *catalogStoreStub) ReadSubmissions(context.Context) ([]models.Submission, error) {
	s.reads++
	return append([]models.Submission(nil), s.submissions...), s.err
}

func (s *catalogStoreStub) FindSubmission(_ context.Context, id string) (*models.Submission, error) {
	for _, sub := range s.submissions {
		if sub.ID == id {
			copy := sub
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *catalogStoreStub) ReadApproved(context.Context) ([]models.ApprovedMeasurement, error) {
	s.reads++
	return append([]models.ApprovedMeasurement(nil), s.approved...), s.err
}

func catalogFixture() *catalogStoreStub {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &catalogStoreStub{
		submissions: []models.Submission{
			{ID: "a", SubmittedAt: base, Status: models.SubmissionStatusPending},
			{ID: "b", SubmittedAt: base.Add(time.Hour), Status: models.SubmissionStatusApproved},
			{ID: "c", SubmittedAt: base, Status: models.SubmissionStatusRejected},
		},
		approved: []models.ApprovedMeasurement{
			{ID: "m1", SourceSubmissionID: "b", ApprovedAt: base.Add(2 * time.Hour)},
			{ID: "m2", SourceSubmissionID: "x", ApprovedAt: base.Add(3 * time.Hour)},
		},
	}
}

func TestCatalogListSubmissionsOrdersNewestFirst(t *testing.T) {
	svc := NewCatalogService(catalogFixture(), nil, zap.NewNop())

	all, _, err := svc.ListSubmissions(context.Background(), models.SubmissionFilter{})
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, s := range all {
		ids = append(ids, s.ID)
	}
	require.Equal(t, []string{"b", "c", "a"}, ids)

	pending, _, err := svc.ListSubmissions(context.Background(), models.SubmissionFilter{Status: []models.SubmissionStatus{models.SubmissionStatusPending}})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "a", pending[0].ID)
}

func TestCatalogListApprovedOrdersNewestFirst(t *testing.T) {
	svc := NewCatalogService(catalogFixture(), nil, zap.NewNop())
	approved, _, err := svc.ListApproved(context.Background())
	require.NoError(t, err)
	require.Equal(t, "m2", approved[0].ID)
	require.Equal(t, "m1", approved[1].ID)
}

func TestCatalogGetSubmissionNotFound(t *testing.T) {
	svc := NewCatalogService(catalogFixture(), nil, zap.NewNop())
	_, err := svc.GetSubmission(context.Background(), "missing")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestCatalogServesFromCacheUntilInvalidated(t *testing.T) {
	store := catalogFixture()
	repo := newMemoryCache()
	cache := NewCacheService(repo, NewMetricsService(), time.Minute, zap.NewNop(), true)
	svc := NewCatalogService(store, cache, zap.NewNop())
	ctx := context.Background()

	_, hit, err := svc.ListApproved(ctx)
	require.NoError(t, err)
	require.False(t, hit)
	approved, hit, err := svc.ListApproved(ctx)
	require.NoError(t, err)
	require.True(t, hit)
	require.Len(t, approved, 2)
	require.Equal(t, 1, store.reads)

	svc.InvalidateProjections(ctx)
	require.ElementsMatch(t, []string{"submissions:*", "approved:*"}, repo.deleted)

	_, _, err = svc.ListApproved(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, store.reads)
}

func TestCatalogFallsBackToStoreWhenCacheFails(t *testing.T) {
	store := catalogFixture()
	repo := newMemoryCache()
	repo.failGet = true
	svc := NewCatalogService(store, NewCacheService(repo, nil, 0, zap.NewNop(), true), zap.NewNop())

	all, _, err := svc.ListSubmissions(context.Background(), models.SubmissionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestCatalogStoreFailureIsStorageUnavailable(t *testing.T) {
	store := catalogFixture()
	store.err = repository.ErrStorageUnavailable
	svc := NewCatalogService(store, nil, zap.NewNop())
	_, _, err := svc.ListSubmissions(context.Background(), models.SubmissionFilter{})
	require.ErrorIs(t, err, appErrors.ErrStorageUnavailable)
}

func TestSortSubmissionsBreaksTiesByID(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	subs := []models.Submission{{ID: "a", SubmittedAt: at}, {ID: "c", SubmittedAt: at}, {ID: "b", SubmittedAt: at}}
	SortSubmissions(subs)
	require.Equal(t, "c", subs[0].ID)
	require.Equal(t, "b", subs[1].ID)
	require.Equal(t, "a", subs[2].ID)
}
