package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/isotope-submissions-api/internal/models"
	"github.com/noah-isme/isotope-submissions-api/internal/repository"
	appErrors "github.com/noah-isme/isotope-submissions-api/pkg/errors"
)

func inconsistentFixture() *catalogStoreStub {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &catalogStoreStub{
		submissions: []models.Submission{
			{ID: "a", SubmittedAt: at, Status: models.SubmissionStatusApproved},
			{ID: "b", SubmittedAt: at, Status: models.SubmissionStatusPending},
			{ID: "c", SubmittedAt: at, Status: models.SubmissionStatusApproved},
			{ID: "d", SubmittedAt: at, Status: models.SubmissionStatusApproved},
			{ID: "e", SubmittedAt: at, Status: models.SubmissionStatusRejected},
		},
		approved: []models.ApprovedMeasurement{
			{ID: "m1", SourceSubmissionID: "a", ApprovedAt: at},
			{ID: "m2", SourceSubmissionID: "b", ApprovedAt: at},
			{ID: "m3", SourceSubmissionID: "d", ApprovedAt: at},
			{ID: "m4", SourceSubmissionID: "d", ApprovedAt: at},
			{ID: "m5", SourceSubmissionID: "z", ApprovedAt: at},
		},
	}
}

func TestReconcileFindsEveryKind(t *testing.T) {
	store := inconsistentFixture()
	report := Reconcile(store.submissions, store.approved)

	require.False(t, report.Consistent())
	require.Equal(t, 5, report.Submissions)
	require.Equal(t, 5, report.Measurements)
	require.Len(t, report.Issues, 4)

	require.Equal(t, models.IssueSourceNotApproved, report.Issues[0].Kind)
	require.Equal(t, "b", report.Issues[0].SubmissionID)
	require.Equal(t, models.SubmissionStatusPending, report.Issues[0].Status)

	require.Equal(t, models.IssueMissingMeasurement, report.Issues[1].Kind)
	require.Equal(t, "c", report.Issues[1].SubmissionID)

	require.Equal(t, models.IssueDuplicateMeasurement, report.Issues[2].Kind)
	require.ElementsMatch(t, []string{"m3", "m4"}, report.Issues[2].MeasurementIDs)

	require.Equal(t, models.IssueOrphanMeasurement, report.Issues[3].Kind)
	require.Equal(t, "z", report.Issues[3].SubmissionID)
}

func TestReconcileCleanState(t *testing.T) {
	report := Reconcile(
		[]models.Submission{{ID: "a", Status: models.SubmissionStatusApproved}, {ID: "b", Status: models.SubmissionStatusPending}},
		[]models.ApprovedMeasurement{{ID: "m1", SourceSubmissionID: "a"}},
	)
	require.True(t, report.Consistent())
	require.NotNil(t, report.Issues)
}

func TestReconcileRunSetsGauges(t *testing.T) {
	metrics := NewMetricsService()
	svc := NewReconcileService(inconsistentFixture(), metrics, zap.NewNop())

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.False(t, report.CheckedAt.IsZero())
	require.Len(t, report.Issues, 4)

	for _, kind := range reconcileKinds {
		require.Equal(t, 1.0, testutil.ToFloat64(metrics.reconcileIssues.WithLabelValues(kind)), kind)
	}

	clean := NewReconcileService(&catalogStoreStub{}, metrics, zap.NewNop())
	_, err = clean.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.reconcileIssues.WithLabelValues(string(models.IssueOrphanMeasurement))))
}

func TestReconcileRunAfterRealLifecycleIsClean(t *testing.T) {
	svc, _, store := newLifecycle(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		s, err := svc.Submit(ctx, wiseRequest())
		require.NoError(t, err)
		if i == 0 {
			_, err = svc.Approve(ctx, s.ID, "ok")
		} else if i == 1 {
			_, err = svc.Reject(ctx, s.ID, "no")
		}
		require.NoError(t, err)
	}

	report, err := NewReconcileService(store, nil, zap.NewNop()).Run(ctx)
	require.NoError(t, err)
	require.True(t, report.Consistent())
	require.Equal(t, 3, report.Submissions)
	require.Equal(t, 1, report.Measurements)
}

func TestReconcileRunReadFailure(t *testing.T) {
	store := &catalogStoreStub{err: repository.ErrStorageUnavailable}
	_, err := NewReconcileService(store, nil, zap.NewNop()).Run(context.Background())
	require.ErrorIs(t, err, appErrors.ErrStorageUnavailable)
}
