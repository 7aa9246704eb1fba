package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/noah-isme/isotope-submissions-api/internal/models"
	"github.com/noah-isme/isotope-submissions-api/pkg/storage"
)

// File names inside the data directory.
const (
	SubmissionsFile = "pending_submissions.csv"
	ApprovedFile    = "approved_measurements.csv"
)

const lockRetryDelay = 10 * time.Millisecond

// fileCollection is one CSV file plus the locks guarding writes to it. Every
// write replaces the whole file through an atomic rename, so readers never
// take a lock and always see a complete file.
type fileCollection[T any] struct {
	name   string
	path   string
	header []string
	encode func(T) []string
	decode func(csvRow) (T, error)
	id     func(T) string

	sem   chan struct{} // in-process writer exclusion
	file  *flock.Flock  // cross-process writer exclusion
	write func(path string, data []byte, perm os.FileMode) error
}

func newFileCollection[T any](dir, filename string, header []string, encode func(T) []string, decode func(csvRow) (T, error), id func(T) string) *fileCollection[T] {
	path := filepath.Join(dir, filename)
	return &fileCollection[T]{
		name:   filename,
		path:   path,
		header: header,
		encode: encode,
		decode: decode,
		id:     id,
		sem:    make(chan struct{}, 1),
		file:   flock.New(path + ".lock"),
		write:  storage.WriteFileAtomic,
	}
}

// lock acquires writer exclusion within timeout. The returned func releases it.
func (c *fileCollection[T]) lock(ctx context.Context, timeout time.Duration) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, storageErr("lock "+c.name, ctx.Err())
	}
	ok, err := c.file.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !ok {
		<-c.sem
		if err == nil {
			err = ctx.Err()
		}
		return nil, storageErr("lock "+c.name, err)
	}
	return func() {
		_ = c.file.Unlock()
		<-c.sem
	}, nil
}

func (c *fileCollection[T]) readAll() ([]T, error) {
	content, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, storageErr("read "+c.name, err)
	}
	records, err := readCSV(content, c.decode)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.name, err)
	}
	return records, nil
}

// replaceAll must be called with the collection locked.
func (c *fileCollection[T]) replaceAll(records []T) error {
	content, err := writeCSV(c.header, records, c.encode)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.name, err)
	}
	if err := c.write(c.path, content, 0o644); err != nil {
		return storageErr("write "+c.name, err)
	}
	return nil
}

func (c *fileCollection[T]) find(id string) (*T, error) {
	records, err := c.readAll()
	if err != nil {
		return nil, err
	}
	for i := range records {
		if c.id(records[i]) == id {
			return &records[i], nil
		}
	}
	return nil, ErrNotFound
}

// CSVStore keeps both collections as CSV files in one data directory.
type CSVStore struct {
	dir         string
	lockTimeout time.Duration
	submissions *fileCollection[models.Submission]
	approved    *fileCollection[models.ApprovedMeasurement]
}

// NewCSVStore prepares the data directory and removes temp files left by
// interrupted writes.
func NewCSVStore(dir string, lockTimeout time.Duration) (*CSVStore, error) {
	if dir == "" {
		dir = "./data"
	}
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storageErr("create data dir", err)
	}
	if _, err := storage.RemoveStaleTemps(dir, time.Minute); err != nil {
		return nil, storageErr("clean data dir", err)
	}
	return &CSVStore{
		dir:         dir,
		lockTimeout: lockTimeout,
		submissions: newFileCollection(dir, SubmissionsFile, submissionColumns, encodeSubmission, decodeSubmission,
			func(s models.Submission) string { return s.ID }),
		approved: newFileCollection(dir, ApprovedFile, approvedColumns, encodeApproved, decodeApproved,
			func(m models.ApprovedMeasurement) string { return m.ID }),
	}, nil
}

// Backend implements Store.
func (s *CSVStore) Backend() string { return "csv" }

// Dir returns the data directory.
func (s *CSVStore) Dir() string { return s.dir }

// Ping implements Store.
func (s *CSVStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(s.dir)
	if err != nil {
		return storageErr("stat data dir", err)
	}
	if !info.IsDir() {
		return storageErr("stat data dir", fmt.Errorf("%s is not a directory", s.dir))
	}
	return nil
}

// AppendSubmission implements Store.
func (s *CSVStore) AppendSubmission(ctx context.Context, submission models.Submission) error {
	unlock, err := s.submissions.lock(ctx, s.lockTimeout)
	if err != nil {
		return err
	}
	defer unlock()

	records, err := s.submissions.readAll()
	if err != nil {
		return err
	}
	for _, existing := range records {
		if existing.ID == submission.ID {
			return fmt.Errorf("append %s: %w", submission.ID, ErrDuplicateID)
		}
	}
	return s.submissions.replaceAll(append(records, submission))
}

// ReadSubmissions implements Store.
func (s *CSVStore) ReadSubmissions(ctx context.Context) ([]models.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.submissions.readAll()
}

// FindSubmission implements Store.
func (s *CSVStore) FindSubmission(ctx context.Context, id string) (*models.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.submissions.find(id)
}

// ReadApproved implements Store.
func (s *CSVStore) ReadApproved(ctx context.Context) ([]models.ApprovedMeasurement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.approved.readAll()
}

// FindApproved implements Store.
func (s *CSVStore) FindApproved(ctx context.Context, id string) (*models.ApprovedMeasurement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.approved.find(id)
}

// Review implements Store. The submissions lock is held for the whole
// read-modify-write; the approved lock is taken inside it, never the other
// way round.
func (s *CSVStore) Review(ctx context.Context, id string, fn ReviewFunc) (*models.Submission, *models.ApprovedMeasurement, error) {
	unlock, err := s.submissions.lock(ctx, s.lockTimeout)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	records, err := s.submissions.readAll()
	if err != nil {
		return nil, nil, err
	}
	idx := -1
	for i := range records {
		if records[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil, ErrNotFound
	}

	updated, promoted, err := fn(records[idx])
	if err != nil {
		return nil, nil, err
	}
	if err := validateReview(id, updated); err != nil {
		return nil, nil, err
	}

	if promoted != nil {
		if err := s.appendPromotion(ctx, *promoted); err != nil {
			return nil, nil, err
		}
	}

	records[idx] = updated
	if err := s.submissions.replaceAll(records); err != nil {
		if promoted != nil {
			return nil, nil, &PartialPromotionError{SubmissionID: id, MeasurementID: promoted.ID, Err: err}
		}
		return nil, nil, err
	}
	return &updated, promoted, nil
}

func (s *CSVStore) appendPromotion(ctx context.Context, measurement models.ApprovedMeasurement) error {
	unlock, err := s.approved.lock(ctx, s.lockTimeout)
	if err != nil {
		return err
	}
	defer unlock()

	existing, err := s.approved.readAll()
	if err != nil {
		return err
	}
	for _, m := range existing {
		if m.SourceSubmissionID == measurement.SourceSubmissionID {
			return fmt.Errorf("promote %s: %w (measurement %s)", measurement.SourceSubmissionID, ErrDuplicatePromotion, m.ID)
		}
	}
	return s.approved.replaceAll(append(existing, measurement))
}

// Close implements Store.
func (s *CSVStore) Close() error {
	return nil
}
