package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/isotope-submissions-api/internal/dto"
	"github.com/noah-isme/isotope-submissions-api/internal/models"
	"github.com/noah-isme/isotope-submissions-api/internal/repository"
	appErrors "github.com/noah-isme/isotope-submissions-api/pkg/errors"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type observerStub struct {
	mu   sync.Mutex
	seen []models.Submission
	boom bool
}

func (o *observerStub) SubmissionReceived(_ context.Context, s models.Submission) {
	o.mu.Lock()
	o.seen = append(o.seen, s)
	o.mu.Unlock()
	if o.boom {
		panic("smtp exploded")
	}
}

func newLifecycle(t *testing.T, opts ...SubmissionServiceOption) (*SubmissionService, *CatalogService, *repository.CSVStore) {
	t.Helper()
	store, err := repository.NewCSVStore(t.TempDir(), 10*time.Second)
	require.NoError(t, err)
	clock := newStepClock()
	opts = append([]SubmissionServiceOption{WithClock(clock.Now)}, opts...)
	svc := NewSubmissionService(store, nil, zap.NewNop(), opts...)
	return svc, NewCatalogService(store, nil, zap.NewNop()), store
}

func wiseRequest() dto.SubmitRequest {
	return dto.SubmitRequest{TargetName: "WISE 1828", CarbonRatio: "88 ± 13", Reference: "Smith 2024"}
}

func TestSubmitThenApproveScenario(t *testing.T) {
	svc, catalog, _ := newLifecycle(t)
	ctx := context.Background()

	submission, err := svc.Submit(ctx, wiseRequest())
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, submission.Status)
	require.Equal(t, "WISE 1828", submission.TargetName)
	require.Equal(t, "88 ± 13", submission.CarbonRatio)
	require.Equal(t, "Smith 2024", submission.Reference)
	require.Equal(t, "", submission.OxygenRatio)
	require.Nil(t, submission.ReviewedAt)

	measurement, err := svc.Approve(ctx, submission.ID, "looks good")
	require.NoError(t, err)
	require.Equal(t, "88 ± 13", measurement.CarbonRatio)
	require.Equal(t, "Smith 2024", measurement.Reference)
	require.Equal(t, submission.ID, measurement.SourceSubmissionID)
	require.Equal(t, submission.MeasurementFields, measurement.MeasurementFields)
	require.NotEqual(t, submission.ID, measurement.ID)

	approved, _, err := catalog.ListApproved(ctx)
	require.NoError(t, err)
	require.Len(t, approved, 1)

	stored, err := catalog.GetSubmission(ctx, submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusApproved, stored.Status)
	require.Equal(t, "looks good", stored.ReviewerNotes)
	require.NotNil(t, stored.ReviewedAt)
	require.True(t, stored.ReviewedAt.Equal(measurement.ApprovedAt))
}

func TestSubmitRequiresFields(t *testing.T) {
	cases := map[string]func(*dto.SubmitRequest){
		"targetName":  func(r *dto.SubmitRequest) { r.TargetName = "" },
		"carbonRatio": func(r *dto.SubmitRequest) { r.CarbonRatio = "   " },
		"reference":   func(r *dto.SubmitRequest) { r.Reference = "\t" },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			svc, catalog, _ := newLifecycle(t)
			req := wiseRequest()
			mutate(&req)

			_, err := svc.Submit(context.Background(), req)
			require.ErrorIs(t, err, appErrors.ErrValidation)
			appErr := appErrors.FromError(err)
			require.Equal(t, field, appErr.Field)
			require.Equal(t, "Missing required field: "+field, appErr.Message)

			all, _, err := catalog.ListSubmissions(context.Background(), models.SubmissionFilter{})
			require.NoError(t, err)
			require.Empty(t, all)
		})
	}
}

func TestSubmitReportsFirstMissingFieldInFormOrder(t *testing.T) {
	svc, _, _ := newLifecycle(t)
	_, err := svc.Submit(context.Background(), dto.SubmitRequest{Reference: "Smith 2024"})
	require.Equal(t, "targetName", appErrors.FromError(err).Field)
}

func TestSubmitTrimsFields(t *testing.T) {
	svc, _, _ := newLifecycle(t)
	req := wiseRequest()
	req.TargetName = "  WISE 1828  "
	req.Instrument = " ALMA "
	submission, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "WISE 1828", submission.TargetName)
	require.Equal(t, "ALMA", submission.Instrument)
}

func TestApproveTwiceIsInvalidTransition(t *testing.T) {
	svc, catalog, _ := newLifecycle(t)
	ctx := context.Background()
	submission, err := svc.Submit(ctx, wiseRequest())
	require.NoError(t, err)

	_, err = svc.Approve(ctx, submission.ID, "")
	require.NoError(t, err)
	_, err = svc.Approve(ctx, submission.ID, "")
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)

	approved, _, err := catalog.ListApproved(ctx)
	require.NoError(t, err)
	require.Len(t, approved, 1)
}

func TestRejectThenApproveIsInvalidTransition(t *testing.T) {
	svc, catalog, _ := newLifecycle(t)
	ctx := context.Background()
	submission, err := svc.Submit(ctx, wiseRequest())
	require.NoError(t, err)

	rejected, err := svc.Reject(ctx, submission.ID, "duplicate of earlier entry")
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusRejected, rejected.Status)
	require.NotNil(t, rejected.ReviewedAt)

	_, err = svc.Approve(ctx, submission.ID, "")
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)
	_, err = svc.Reject(ctx, submission.ID, "")
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)

	approved, _, err := catalog.ListApproved(ctx)
	require.NoError(t, err)
	require.Empty(t, approved)
}

func TestReviewUnknownIDIsNotFound(t *testing.T) {
	svc, _, _ := newLifecycle(t)
	_, err := svc.Approve(context.Background(), "nope", "")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
	_, err = svc.Reject(context.Background(), "nope", "")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestConcurrentSubmitsAreAllKept(t *testing.T) {
	svc, catalog, _ := newLifecycle(t)
	ctx := context.Background()

	const n = 100
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := wiseRequest()
			req.Notes = fmt.Sprintf("run %d", i)
			submission, err := svc.Submit(ctx, req)
			if err != nil {
				t.Error(err)
				return
			}
			ids <- submission.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	unique := make(map[string]struct{}, n)
	for id := range ids {
		unique[id] = struct{}{}
	}
	require.Len(t, unique, n)

	all, _, err := catalog.ListSubmissions(ctx, models.SubmissionFilter{})
	require.NoError(t, err)
	require.Len(t, all, n)
}

func TestConcurrentApprovalsOnDistinctIDs(t *testing.T) {
	svc, catalog, _ := newLifecycle(t)
	ctx := context.Background()

	const n = 30
	submissions := make([]*models.Submission, n)
	for i := range submissions {
		req := wiseRequest()
		req.TargetName = fmt.Sprintf("target-%02d", i)
		s, err := svc.Submit(ctx, req)
		require.NoError(t, err)
		submissions[i] = s
	}

	var wg sync.WaitGroup
	for _, s := range submissions {
		wg.Add(1)
		go func(s *models.Submission) {
			defer wg.Done()
			if _, err := svc.Approve(ctx, s.ID, "ok"); err != nil {
				t.Error(err)
			}
		}(s)
	}
	wg.Wait()

	approved, _, err := catalog.ListApproved(ctx)
	require.NoError(t, err)
	require.Len(t, approved, n)
	bySource := make(map[string]models.ApprovedMeasurement, n)
	for _, m := range approved {
		bySource[m.SourceSubmissionID] = m
	}
	for _, s := range submissions {
		stored, err := catalog.GetSubmission(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, models.SubmissionStatusApproved, stored.Status)
		require.Equal(t, s.TargetName, bySource[s.ID].TargetName)
	}
}

func TestObserversDoNotAffectSubmission(t *testing.T) {
	observer := &observerStub{boom: true}
	svc, catalog, _ := newLifecycle(t, WithObservers(observer))

	submission, err := svc.Submit(context.Background(), wiseRequest())
	require.NoError(t, err)
	require.Len(t, observer.seen, 1)
	require.Equal(t, submission.ID, observer.seen[0].ID)

	all, _, err := catalog.ListSubmissions(context.Background(), models.SubmissionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestAutoApprovePublishesImmediately(t *testing.T) {
	svc, catalog, _ := newLifecycle(t, WithAutoApprove(true))
	require.True(t, svc.AutoApprove())

	submission, err := svc.Submit(context.Background(), wiseRequest())
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusApproved, submission.Status)
	require.Equal(t, AutoApproveNotes, submission.ReviewerNotes)

	approved, _, err := catalog.ListApproved(context.Background())
	require.NoError(t, err)
	require.Len(t, approved, 1)
}

type failingStore struct {
	appendErr error
	reviewErr error
}

func (f *failingStore) AppendSubmission(context.Context, models.Submission) error { return f.appendErr }

func (f *failingStore) Review(context.Context, string, repository.ReviewFunc) (*models.Submission, *models.ApprovedMeasurement, error) {
	return nil, nil, f.reviewErr
}

func TestStoreFailuresAreTranslated(t *testing.T) {
	lockTimeout := fmt.Errorf("lock pending_submissions.csv: %w: %w", repository.ErrStorageUnavailable, context.DeadlineExceeded)
	svc := NewSubmissionService(&failingStore{appendErr: lockTimeout}, nil, zap.NewNop())
	_, err := svc.Submit(context.Background(), wiseRequest())
	require.ErrorIs(t, err, appErrors.ErrStorageUnavailable)

	cases := []struct {
		name string
		err  error
		want *appErrors.Error
	}{
		{"storage", lockTimeout, appErrors.ErrStorageUnavailable},
		{"stale", repository.ErrStaleRecord, appErrors.ErrInvalidTransition},
		{"duplicate promotion", repository.ErrDuplicatePromotion, appErrors.ErrInconsistentState},
		{"partial", &repository.PartialPromotionError{SubmissionID: "s", MeasurementID: "m", Err: lockTimeout}, appErrors.ErrStorageUnavailable},
		{"corrupt", repository.ErrCorruptRecord, appErrors.ErrInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewSubmissionService(&failingStore{reviewErr: tc.err}, nil, zap.NewNop())
			_, err := svc.Approve(context.Background(), "s", "")
			require.ErrorIs(t, err, tc.want)
			require.True(t, errors.Is(err, tc.err))
		})
	}
}
