package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/isotope-submissions-api/internal/dto"
	"github.com/noah-isme/isotope-submissions-api/internal/idgen"
	"github.com/noah-isme/isotope-submissions-api/internal/models"
	"github.com/noah-isme/isotope-submissions-api/internal/repository"
	appErrors "github.com/noah-isme/isotope-submissions-api/pkg/errors"
)

// AutoApproveNotes is recorded as reviewer notes on auto-approved submissions.
const AutoApproveNotes = "auto-approved"

type submissionStore interface {
	AppendSubmission(ctx context.Context, submission models.Submission) error
	Review(ctx context.Context, id string, fn repository.ReviewFunc) (*models.Submission, *models.ApprovedMeasurement, error)
}

// SubmissionObserver is told about every accepted submission. Implementations
// must not block; the submission is already durable when they run.
type SubmissionObserver interface {
	SubmissionReceived(ctx context.Context, submission models.Submission)
}

type projectionInvalidator interface {
	InvalidateProjections(ctx context.Context)
}

// SubmissionService owns the submission state machine: submit creates a
// pending record, approve promotes it into the published set, reject closes it.
type SubmissionService struct {
	store       submissionStore
	ids         idgen.Generator
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
	observers   []SubmissionObserver
	metrics     *MetricsService
	projections projectionInvalidator
	autoApprove bool
}

// SubmissionServiceOption configures the service.
type SubmissionServiceOption func(*SubmissionService)

// WithIDGenerator overrides the identifier generator.
func WithIDGenerator(gen idgen.Generator) SubmissionServiceOption {
	return func(s *SubmissionService) {
		if gen != nil {
			s.ids = gen
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SubmissionServiceOption {
	return func(s *SubmissionService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithObservers registers submit observers.
func WithObservers(observers ...SubmissionObserver) SubmissionServiceOption {
	return func(s *SubmissionService) {
		for _, o := range observers {
			if o != nil {
				s.observers = append(s.observers, o)
			}
		}
	}
}

// WithAutoApprove promotes every submission immediately after it is stored.
func WithAutoApprove(enabled bool) SubmissionServiceOption {
	return func(s *SubmissionService) {
		s.autoApprove = enabled
	}
}

// WithLifecycleMetrics records operation outcomes.
func WithLifecycleMetrics(metrics *MetricsService) SubmissionServiceOption {
	return func(s *SubmissionService) {
		s.metrics = metrics
	}
}

// WithProjectionInvalidator drops cached listings after every write.
func WithProjectionInvalidator(p projectionInvalidator) SubmissionServiceOption {
	return func(s *SubmissionService) {
		s.projections = p
	}
}

// NewSubmissionService constructs the service with defaults.
func NewSubmissionService(store submissionStore, validate *validator.Validate, logger *zap.Logger, opts ...SubmissionServiceOption) *SubmissionService {
	if validate == nil {
		validate = validator.New()
	}
	validate.RegisterTagNameFunc(jsonFieldName)
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &SubmissionService{
		store:     store,
		ids:       idgen.New(),
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	if svc.autoApprove {
		svc.logger.Warn("auto-approve enabled: submissions are published without reviewer involvement")
	}
	return svc
}

// AutoApprove reports whether submissions skip review.
func (s *SubmissionService) AutoApprove() bool {
	return s.autoApprove
}

// Submit validates and stores a new pending submission.
func (s *SubmissionService) Submit(ctx context.Context, req dto.SubmitRequest) (*models.Submission, error) {
	req.Normalize()
	if err := s.validate(req); err != nil {
		s.metrics.RecordLifecycle("submit", OutcomeRejected)
		return nil, err
	}

	submission := models.Submission{
		ID:                s.ids.NewID(),
		SubmittedAt:       s.now().UTC(),
		Status:            models.SubmissionStatusPending,
		MeasurementFields: req.Fields(),
		SubmitterEmail:    req.SubmitterEmail,
	}
	if err := s.store.AppendSubmission(ctx, submission); err != nil {
		s.metrics.RecordLifecycle("submit", OutcomeError)
		s.logger.Error("failed to store submission", zap.String("submission_id", submission.ID), zap.Error(err))
		return nil, translateStoreError(err, "submission not found")
	}
	s.metrics.RecordLifecycle("submit", OutcomeSuccess)
	s.invalidate(ctx)
	s.logger.Info("submission received",
		zap.String("submission_id", submission.ID),
		zap.String("target_name", submission.TargetName))

	s.notify(ctx, submission)

	if s.autoApprove {
		measurement, err := s.Approve(ctx, submission.ID, AutoApproveNotes)
		if err != nil {
			s.logger.Error("auto-approve failed; submission left pending",
				zap.String("submission_id", submission.ID), zap.Error(err))
			return &submission, nil
		}
		reviewedAt := measurement.ApprovedAt
		submission.Status = models.SubmissionStatusApproved
		submission.ReviewedAt = &reviewedAt
		submission.ReviewerNotes = AutoApproveNotes
	}
	return &submission, nil
}

// Approve promotes a pending submission into the published set.
func (s *SubmissionService) Approve(ctx context.Context, id, reviewerNotes string) (*models.ApprovedMeasurement, error) {
	id = strings.TrimSpace(id)
	notes := strings.TrimSpace(reviewerNotes)
	_, measurement, err := s.store.Review(ctx, id, func(current models.Submission) (models.Submission, *models.ApprovedMeasurement, error) {
		if !current.Status.CanTransitionTo(models.SubmissionStatusApproved) {
			return models.Submission{}, nil, invalidTransition(current)
		}
		reviewedAt := s.now().UTC()
		current.Status = models.SubmissionStatusApproved
		current.ReviewedAt = &reviewedAt
		current.ReviewerNotes = notes
		return current, &models.ApprovedMeasurement{
			ID:                 s.ids.NewID(),
			SourceSubmissionID: current.ID,
			MeasurementFields:  current.MeasurementFields,
			ApprovedAt:         reviewedAt,
		}, nil
	})
	if err != nil {
		return nil, s.reviewFailed(ctx, "approve", id, err)
	}
	s.metrics.RecordLifecycle("approve", OutcomeSuccess)
	s.invalidate(ctx)
	s.logger.Info("submission approved",
		zap.String("submission_id", id),
		zap.String("measurement_id", measurement.ID))
	return measurement, nil
}

// Reject closes a pending submission without publishing it.
func (s *SubmissionService) Reject(ctx context.Context, id, reviewerNotes string) (*models.Submission, error) {
	id = strings.TrimSpace(id)
	notes := strings.TrimSpace(reviewerNotes)
	updated, _, err := s.store.Review(ctx, id, func(current models.Submission) (models.Submission, *models.ApprovedMeasurement, error) {
		if !current.Status.CanTransitionTo(models.SubmissionStatusRejected) {
			return models.Submission{}, nil, invalidTransition(current)
		}
		reviewedAt := s.now().UTC()
		current.Status = models.SubmissionStatusRejected
		current.ReviewedAt = &reviewedAt
		current.ReviewerNotes = notes
		return current, nil, nil
	})
	if err != nil {
		return nil, s.reviewFailed(ctx, "reject", id, err)
	}
	s.metrics.RecordLifecycle("reject", OutcomeSuccess)
	s.invalidate(ctx)
	s.logger.Info("submission rejected", zap.String("submission_id", id))
	return updated, nil
}

func (s *SubmissionService) reviewFailed(ctx context.Context, op, id string, err error) error {
	translated := translateStoreError(err, "submission not found")
	appErr := appErrors.FromError(translated)

	var partial *repository.PartialPromotionError
	switch {
	case errors.As(err, &partial):
		// The measurement is published; listings must show it.
		s.invalidate(ctx)
		s.logger.Error("promotion partially applied; reconciliation required",
			zap.String("submission_id", partial.SubmissionID),
			zap.String("measurement_id", partial.MeasurementID),
			zap.Error(err))
	case appErr.Status >= 500:
		s.logger.Error("review failed", zap.String("operation", op), zap.String("submission_id", id), zap.Error(err))
	}

	outcome := OutcomeError
	if appErr.Status < 500 {
		outcome = OutcomeRejected
	}
	s.metrics.RecordLifecycle(op, outcome)
	return translated
}

func (s *SubmissionService) validate(req dto.SubmitRequest) error {
	err := s.validator.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return appErrors.MissingField(verrs[0].Field())
	}
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, appErrors.ErrValidation.Message)
}

func (s *SubmissionService) notify(ctx context.Context, submission models.Submission) {
	for _, observer := range s.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("submission observer panicked",
						zap.String("submission_id", submission.ID), zap.Any("panic", r))
				}
			}()
			observer.SubmissionReceived(context.WithoutCancel(ctx), submission)
		}()
	}
}

func (s *SubmissionService) invalidate(ctx context.Context) {
	if s.projections != nil {
		s.projections.InvalidateProjections(ctx)
	}
}

func invalidTransition(current models.Submission) error {
	return appErrors.Clone(appErrors.ErrInvalidTransition,
		fmt.Sprintf("submission %s is already %s", current.ID, current.Status))
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return field.Name
	}
	return name
}
