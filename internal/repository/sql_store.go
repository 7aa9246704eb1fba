package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/isotope-submissions-api/internal/models"
)

// SQL dialects understood by SQLStore.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const submissionSelect = `SELECT id, submitted_at, status, target_name, category, carbon_ratio, oxygen_ratio,
       instrument, reference, doi, notes, submitter_email, reviewed_at, reviewer_notes
FROM submissions`

const approvedSelect = `SELECT id, source_submission_id, target_name, category, carbon_ratio, oxygen_ratio,
       instrument, reference, doi, notes, approved_at
FROM approved_measurements`

// SQLStore keeps both collections in a relational database. A review runs in
// one transaction, so a promotion is all-or-nothing.
type SQLStore struct {
	db          *sqlx.DB
	dialect     string
	lockTimeout time.Duration
}

// NewSQLStore wraps an open database. The dialect is derived from the driver
// name; anything other than postgres is treated as SQLite.
func NewSQLStore(db *sqlx.DB, lockTimeout time.Duration) *SQLStore {
	dialect := DialectSQLite
	if db.DriverName() == "postgres" {
		dialect = DialectPostgres
	}
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &SQLStore{db: db, dialect: dialect, lockTimeout: lockTimeout}
}

// EnsureSchema creates the tables when they do not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaFor(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storageErr("ensure schema", err)
		}
	}
	return nil
}

// Backend implements Store.
func (s *SQLStore) Backend() string { return s.dialect }

// AppendSubmission implements Store.
func (s *SQLStore) AppendSubmission(ctx context.Context, submission models.Submission) error {
	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	const query = `INSERT INTO submissions
	(id, submitted_at, status, target_name, category, carbon_ratio, oxygen_ratio, instrument, reference, doi, notes, submitter_email, reviewed_at, reviewer_notes)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	f := submission.MeasurementFields
	_, err := s.db.ExecContext(ctx, s.db.Rebind(query),
		submission.ID, submission.SubmittedAt.UTC(), string(submission.Status),
		f.TargetName, f.Category, f.CarbonRatio, f.OxygenRatio, f.Instrument, f.Reference, f.DOI, f.Notes,
		submission.SubmitterEmail, submission.ReviewedAt, submission.ReviewerNotes,
	)
	if err != nil {
		if _, findErr := s.FindSubmission(ctx, submission.ID); findErr == nil {
			return fmt.Errorf("append %s: %w", submission.ID, ErrDuplicateID)
		}
		return storageErr("insert submission", err)
	}
	return nil
}

// ReadSubmissions implements Store.
func (s *SQLStore) ReadSubmissions(ctx context.Context) ([]models.Submission, error) {
	var submissions []models.Submission
	if err := s.db.SelectContext(ctx, &submissions, submissionSelect+` ORDER BY submitted_at DESC, id DESC`); err != nil {
		return nil, storageErr("list submissions", err)
	}
	return normaliseSubmissions(submissions), nil
}

// FindSubmission implements Store.
func (s *SQLStore) FindSubmission(ctx context.Context, id string) (*models.Submission, error) {
	var submission models.Submission
	if err := s.db.GetContext(ctx, &submission, s.db.Rebind(submissionSelect+` WHERE id = ?`), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get submission", err)
	}
	normaliseSubmission(&submission)
	return &submission, nil
}

// ReadApproved implements Store.
func (s *SQLStore) ReadApproved(ctx context.Context) ([]models.ApprovedMeasurement, error) {
	var approved []models.ApprovedMeasurement
	if err := s.db.SelectContext(ctx, &approved, approvedSelect+` ORDER BY approved_at DESC, id DESC`); err != nil {
		return nil, storageErr("list approved", err)
	}
	for i := range approved {
		approved[i].ApprovedAt = approved[i].ApprovedAt.UTC()
	}
	return approved, nil
}

// FindApproved implements Store.
func (s *SQLStore) FindApproved(ctx context.Context, id string) (*models.ApprovedMeasurement, error) {
	var measurement models.ApprovedMeasurement
	if err := s.db.GetContext(ctx, &measurement, s.db.Rebind(approvedSelect+` WHERE id = ?`), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get approved", err)
	}
	measurement.ApprovedAt = measurement.ApprovedAt.UTC()
	return &measurement, nil
}

// Review implements Store. Only the transaction is used between Begin and
// Commit, since the SQLite pool holds a single connection.
func (s *SQLStore) Review(ctx context.Context, id string, fn ReviewFunc) (*models.Submission, *models.ApprovedMeasurement, error) {
	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, storageErr("begin review", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	query := submissionSelect + ` WHERE id = ?`
	if s.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}
	var current models.Submission
	if err := tx.GetContext(ctx, &current, tx.Rebind(query), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, storageErr("load submission", err)
	}
	normaliseSubmission(&current)

	updated, promoted, err := fn(current)
	if err != nil {
		return nil, nil, err
	}
	if err := validateReview(id, updated); err != nil {
		return nil, nil, err
	}

	if promoted != nil {
		var existing []string
		if err := tx.SelectContext(ctx, &existing, tx.Rebind(`SELECT id FROM approved_measurements WHERE source_submission_id = ?`), id); err != nil {
			return nil, nil, storageErr("check promotion", err)
		}
		if len(existing) > 0 {
			return nil, nil, fmt.Errorf("promote %s: %w (measurement %s)", id, ErrDuplicatePromotion, existing[0])
		}
		f := promoted.MeasurementFields
		const insert = `INSERT INTO approved_measurements
		(id, source_submission_id, target_name, category, carbon_ratio, oxygen_ratio, instrument, reference, doi, notes, approved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, tx.Rebind(insert),
			promoted.ID, promoted.SourceSubmissionID,
			f.TargetName, f.Category, f.CarbonRatio, f.OxygenRatio, f.Instrument, f.Reference, f.DOI, f.Notes,
			promoted.ApprovedAt.UTC(),
		); err != nil {
			return nil, nil, storageErr("insert approved", err)
		}
	}

	const update = `UPDATE submissions SET status = ?, reviewed_at = ?, reviewer_notes = ? WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, tx.Rebind(update), string(updated.Status), updated.ReviewedAt, updated.ReviewerNotes, id, string(current.Status))
	if err != nil {
		return nil, nil, storageErr("update submission", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, nil, storageErr("update submission", err)
	}
	if affected == 0 {
		return nil, nil, ErrStaleRecord
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, storageErr("commit review", err)
	}
	committed = true
	return &updated, promoted, nil
}

// Ping implements Store.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("ping database", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func normaliseSubmissions(submissions []models.Submission) []models.Submission {
	for i := range submissions {
		normaliseSubmission(&submissions[i])
	}
	return submissions
}

func normaliseSubmission(s *models.Submission) {
	s.SubmittedAt = s.SubmittedAt.UTC()
	if s.ReviewedAt != nil {
		t := s.ReviewedAt.UTC()
		s.ReviewedAt = &t
	}
}

func schemaFor(dialect string) []string {
	ts := "TIMESTAMPTZ"
	if dialect == DialectSQLite {
		ts = "DATETIME"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS submissions (
	id TEXT PRIMARY KEY,
	submitted_at ` + ts + ` NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
	target_name TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	carbon_ratio TEXT NOT NULL,
	oxygen_ratio TEXT NOT NULL DEFAULT '',
	instrument TEXT NOT NULL DEFAULT '',
	reference TEXT NOT NULL,
	doi TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	submitter_email TEXT NOT NULL DEFAULT '',
	reviewed_at ` + ts + `,
	reviewer_notes TEXT NOT NULL DEFAULT ''
)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_submitted_at ON submissions (submitted_at)`,
		`CREATE TABLE IF NOT EXISTS approved_measurements (
	id TEXT PRIMARY KEY,
	source_submission_id TEXT NOT NULL UNIQUE REFERENCES submissions (id),
	target_name TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	carbon_ratio TEXT NOT NULL,
	oxygen_ratio TEXT NOT NULL DEFAULT '',
	instrument TEXT NOT NULL DEFAULT '',
	reference TEXT NOT NULL,
	doi TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	approved_at ` + ts + ` NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_approved_measurements_approved_at ON approved_measurements (approved_at)`,
	}
}
