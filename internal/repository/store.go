package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/isotope-submissions-api/internal/models"
)

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("record not found")
	// ErrStorageUnavailable covers I/O failures and lock acquisition timeouts.
	// Callers may retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrDuplicateID is returned when appending a submission whose id exists.
	ErrDuplicateID = errors.New("duplicate submission id")
	// ErrDuplicatePromotion is returned when a measurement already exists for
	// the submission being promoted.
	ErrDuplicatePromotion = errors.New("measurement already exists for submission")
	// ErrStaleRecord is returned when a conditional status update matched no row.
	ErrStaleRecord = errors.New("submission changed concurrently")
	// ErrCorruptRecord is returned when persisted content cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt record")
)

// ReviewFunc decides a submission. It receives the freshly read record and
// returns the updated record plus, for approvals, the measurement to publish.
// An error aborts the review without writing anything.
type ReviewFunc func(current models.Submission) (models.Submission, *models.ApprovedMeasurement, error)

// Store persists the submissions and approved collections.
type Store interface {
	// AppendSubmission durably adds a new submission.
	AppendSubmission(ctx context.Context, submission models.Submission) error
	// ReadSubmissions returns a consistent snapshot of every submission.
	ReadSubmissions(ctx context.Context) ([]models.Submission, error)
	FindSubmission(ctx context.Context, id string) (*models.Submission, error)
	// ReadApproved returns a consistent snapshot of every approved measurement.
	ReadApproved(ctx context.Context) ([]models.ApprovedMeasurement, error)
	FindApproved(ctx context.Context, id string) (*models.ApprovedMeasurement, error)
	// Review runs fn inside the submissions critical section and persists its
	// outcome. When fn promotes, the measurement is written before the
	// submission status so a failure in between leaves a measurement without
	// an approved source, never the reverse.
	Review(ctx context.Context, id string, fn ReviewFunc) (*models.Submission, *models.ApprovedMeasurement, error)
	// Ping reports whether the backing medium is reachable.
	Ping(ctx context.Context) error
	// Backend names the storage medium for status reporting.
	Backend() string
	Close() error
}

// PartialPromotionError reports a promotion whose measurement was written
// but whose submission status update failed. It unwraps to
// ErrStorageUnavailable and needs a reconciliation pass.
type PartialPromotionError struct {
	SubmissionID  string
	MeasurementID string
	Err           error
}

func (e *PartialPromotionError) Error() string {
	return fmt.Sprintf("measurement %s recorded but submission %s not marked approved: %v", e.MeasurementID, e.SubmissionID, e.Err)
}

// Unwrap exposes the underlying storage failure.
func (e *PartialPromotionError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

func validateReview(id string, updated models.Submission) error {
	if updated.ID != id {
		return fmt.Errorf("review of %s returned record %s", id, updated.ID)
	}
	return nil
}
