package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/isotope-submissions-api/internal/models"
)

var reconcileKinds = []string{
	string(models.IssueOrphanMeasurement),
	string(models.IssueSourceNotApproved),
	string(models.IssueMissingMeasurement),
	string(models.IssueDuplicateMeasurement),
}

type reconcileStore interface {
	ReadSubmissions(ctx context.Context) ([]models.Submission, error)
	ReadApproved(ctx context.Context) ([]models.ApprovedMeasurement, error)
}

// ReconcileService cross-checks both collections. It reports mismatches and
// never repairs them.
type ReconcileService struct {
	store   reconcileStore
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewReconcileService constructs the service.
func NewReconcileService(store reconcileStore, metrics *MetricsService, logger *zap.Logger) *ReconcileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcileService{store: store, metrics: metrics, logger: logger, now: time.Now}
}

// Run performs one sweep. Issues are logged at error level and returned in
// the report; the error result is reserved for read failures.
func (s *ReconcileService) Run(ctx context.Context) (*models.ReconcileReport, error) {
	// Measurements are read first: a promotion racing the sweep then shows up
	// at worst as a missing measurement, which a rerun clears.
	approved, err := s.store.ReadApproved(ctx)
	if err != nil {
		return nil, translateStoreError(err, "")
	}
	submissions, err := s.store.ReadSubmissions(ctx)
	if err != nil {
		return nil, translateStoreError(err, "")
	}

	report := Reconcile(submissions, approved)
	report.CheckedAt = s.now().UTC()

	counts := make(map[string]int, len(reconcileKinds))
	for _, issue := range report.Issues {
		counts[string(issue.Kind)]++
		s.logger.Error("inconsistent submission state",
			zap.String("kind", string(issue.Kind)),
			zap.String("submission_id", issue.SubmissionID),
			zap.Strings("measurement_ids", issue.MeasurementIDs),
			zap.String("detail", issue.Detail))
	}
	s.metrics.SetReconcileIssues(counts, reconcileKinds)
	if report.Consistent() {
		s.logger.Info("reconciliation clean",
			zap.Int("submissions", report.Submissions),
			zap.Int("measurements", report.Measurements))
	}
	return report, nil
}

// Reconcile compares the collections and lists every inconsistency, ordered
// by submission id.
func Reconcile(submissions []models.Submission, approved []models.ApprovedMeasurement) *models.ReconcileReport {
	bySource := make(map[string][]string, len(approved))
	for _, m := range approved {
		bySource[m.SourceSubmissionID] = append(bySource[m.SourceSubmissionID], m.ID)
	}
	byID := make(map[string]models.Submission, len(submissions))
	for _, sub := range submissions {
		byID[sub.ID] = sub
	}

	report := &models.ReconcileReport{
		Submissions:  len(submissions),
		Measurements: len(approved),
		Issues:       make([]models.ReconcileIssue, 0),
	}
	for source, ids := range bySource {
		sub, ok := byID[source]
		switch {
		case !ok:
			report.Issues = append(report.Issues, models.ReconcileIssue{
				Kind: models.IssueOrphanMeasurement, SubmissionID: source, MeasurementIDs: ids,
				Detail: "measurement references a submission that does not exist",
			})
		case sub.Status != models.SubmissionStatusApproved:
			report.Issues = append(report.Issues, models.ReconcileIssue{
				Kind: models.IssueSourceNotApproved, SubmissionID: source, MeasurementIDs: ids, Status: sub.Status,
				Detail: fmt.Sprintf("measurement exists but submission is %s", sub.Status),
			})
		}
		if len(ids) > 1 {
			report.Issues = append(report.Issues, models.ReconcileIssue{
				Kind: models.IssueDuplicateMeasurement, SubmissionID: source, MeasurementIDs: ids,
				Detail: fmt.Sprintf("%d measurements share one submission", len(ids)),
			})
		}
	}
	for _, sub := range submissions {
		if sub.Status == models.SubmissionStatusApproved && len(bySource[sub.ID]) == 0 {
			report.Issues = append(report.Issues, models.ReconcileIssue{
				Kind: models.IssueMissingMeasurement, SubmissionID: sub.ID, Status: sub.Status,
				Detail: "submission is approved but has no measurement",
			})
		}
	}

	sort.Slice(report.Issues, func(i, j int) bool {
		a, b := report.Issues[i], report.Issues[j]
		if a.SubmissionID != b.SubmissionID {
			return a.SubmissionID < b.SubmissionID
		}
		return a.Kind < b.Kind
	})
	return report
}
