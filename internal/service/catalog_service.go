package service

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/isotope-submissions-api/internal/models"
)

const (
	cacheKeySubmissions = "submissions:all"
	cacheKeyApproved    = "approved:all"
)

type catalogStore interface {
	ReadSubmissions(ctx context.Context) ([]models.Submission, error)
	FindSubmission(ctx context.Context, id string) (*models.Submission, error)
	ReadApproved(ctx context.Context) ([]models.ApprovedMeasurement, error)
}

// CatalogService serves read-only projections of both collections. It never
// writes to the store, so it can run alongside reviews and sees either the
// state before or after each write.
type CatalogService struct {
	store  catalogStore
	cache  *CacheService
	logger *zap.Logger
}

// NewCatalogService constructs the service. cache may be nil.
func NewCatalogService(store catalogStore, cache *CacheService, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{store: store, cache: cache, logger: logger}
}

// ListSubmissions returns submissions newest first, optionally filtered by
// status, and whether the listing came from cache.
func (s *CatalogService) ListSubmissions(ctx context.Context, filter models.SubmissionFilter) ([]models.Submission, bool, error) {
	var all []models.Submission
	cacheHit := s.cache.Get(ctx, cacheKeySubmissions, &all)
	if !cacheHit {
		var err error
		all, err = s.store.ReadSubmissions(ctx)
		if err != nil {
			return nil, false, translateStoreError(err, "")
		}
		s.cache.Set(ctx, cacheKeySubmissions, all, 0)
	}

	result := make([]models.Submission, 0, len(all))
	for _, submission := range all {
		if filter.Matches(submission) {
			result = append(result, submission)
		}
	}
	SortSubmissions(result)
	return result, cacheHit, nil
}

// GetSubmission returns one submission by id.
func (s *CatalogService) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	submission, err := s.store.FindSubmission(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, translateStoreError(err, "submission not found")
	}
	return submission, nil
}

// ListApproved returns published measurements, most recently approved first.
func (s *CatalogService) ListApproved(ctx context.Context) ([]models.ApprovedMeasurement, bool, error) {
	var approved []models.ApprovedMeasurement
	cacheHit := s.cache.Get(ctx, cacheKeyApproved, &approved)
	if !cacheHit {
		var err error
		approved, err = s.store.ReadApproved(ctx)
		if err != nil {
			return nil, false, translateStoreError(err, "")
		}
		s.cache.Set(ctx, cacheKeyApproved, approved, 0)
	}
	SortApproved(approved)
	return approved, cacheHit, nil
}

// InvalidateProjections drops cached listings.
func (s *CatalogService) InvalidateProjections(ctx context.Context) {
	s.cache.Invalidate(ctx, "submissions:*", "approved:*")
}

// SortSubmissions orders by submitted_at descending; ties fall back to id
// descending so the order is stable across backends.
func SortSubmissions(submissions []models.Submission) {
	sort.SliceStable(submissions, func(i, j int) bool {
		a, b := submissions[i], submissions[j]
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.After(b.SubmittedAt)
		}
		return a.ID > b.ID
	})
}

// SortApproved orders by approved_at descending, then id descending.
func SortApproved(approved []models.ApprovedMeasurement) {
	sort.SliceStable(approved, func(i, j int) bool {
		a, b := approved[i], approved[j]
		if !a.ApprovedAt.Equal(b.ApprovedAt) {
			return a.ApprovedAt.After(b.ApprovedAt)
		}
		return a.ID > b.ID
	})
}
