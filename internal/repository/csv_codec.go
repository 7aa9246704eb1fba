package repository

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/noah-isme/isotope-submissions-api/internal/models"
)

const csvTimeLayout = time.RFC3339Nano

var submissionColumns = []string{
	"id", "submitted_at", "status",
	"target_name", "category", "carbon_ratio", "oxygen_ratio", "instrument", "reference", "doi", "notes",
	"submitter_email", "reviewed_at", "reviewer_notes",
}

var approvedColumns = []string{
	"id", "source_submission_id",
	"target_name", "category", "carbon_ratio", "oxygen_ratio", "instrument", "reference", "doi", "notes",
	"approved_at",
}

// csvRow is a decoded line keyed by header name. Missing columns read as "".
type csvRow map[string]string

func encodeSubmission(s models.Submission) []string {
	reviewedAt := ""
	if s.ReviewedAt != nil {
		reviewedAt = s.ReviewedAt.UTC().Format(csvTimeLayout)
	}
	f := s.MeasurementFields
	return []string{
		s.ID, s.SubmittedAt.UTC().Format(csvTimeLayout), string(s.Status),
		f.TargetName, f.Category, f.CarbonRatio, f.OxygenRatio, f.Instrument, f.Reference, f.DOI, f.Notes,
		s.SubmitterEmail, reviewedAt, s.ReviewerNotes,
	}
}

func decodeSubmission(row csvRow) (models.Submission, error) {
	submittedAt, err := parseCSVTime(row["submitted_at"])
	if err != nil {
		return models.Submission{}, fmt.Errorf("submitted_at: %w", err)
	}
	status := models.SubmissionStatus(row["status"])
	if !status.Valid() {
		return models.Submission{}, fmt.Errorf("unknown status %q", row["status"])
	}
	s := models.Submission{
		ID:                row["id"],
		SubmittedAt:       submittedAt,
		Status:            status,
		MeasurementFields: decodeFields(row),
		SubmitterEmail:    row["submitter_email"],
		ReviewerNotes:     row["reviewer_notes"],
	}
	if raw := row["reviewed_at"]; raw != "" {
		reviewedAt, err := parseCSVTime(raw)
		if err != nil {
			return models.Submission{}, fmt.Errorf("reviewed_at: %w", err)
		}
		s.ReviewedAt = &reviewedAt
	}
	return s, nil
}

func encodeApproved(m models.ApprovedMeasurement) []string {
	f := m.MeasurementFields
	return []string{
		m.ID, m.SourceSubmissionID,
		f.TargetName, f.Category, f.CarbonRatio, f.OxygenRatio, f.Instrument, f.Reference, f.DOI, f.Notes,
		m.ApprovedAt.UTC().Format(csvTimeLayout),
	}
}

func decodeApproved(row csvRow) (models.ApprovedMeasurement, error) {
	approvedAt, err := parseCSVTime(row["approved_at"])
	if err != nil {
		return models.ApprovedMeasurement{}, fmt.Errorf("approved_at: %w", err)
	}
	return models.ApprovedMeasurement{
		ID:                 row["id"],
		SourceSubmissionID: row["source_submission_id"],
		MeasurementFields:  decodeFields(row),
		ApprovedAt:         approvedAt,
	}, nil
}

func decodeFields(row csvRow) models.MeasurementFields {
	return models.MeasurementFields{
		TargetName:  row["target_name"],
		Category:    row["category"],
		CarbonRatio: row["carbon_ratio"],
		OxygenRatio: row["oxygen_ratio"],
		Instrument:  row["instrument"],
		Reference:   row["reference"],
		DOI:         row["doi"],
		Notes:       row["notes"],
	}
}

func parseCSVTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	return time.Parse(csvTimeLayout, raw)
}

// readCSV decodes content produced by writeCSV. Every row must carry an id.
func readCSV[T any](content []byte, decode func(csvRow) (T, error)) ([]T, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, nil
	}
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrCorruptRecord, err)
	}
	records := make([]T, 0)
	for line := 2; ; line++ {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCorruptRecord, line, err)
		}
		row := make(csvRow, len(header))
		for i, name := range header {
			if i < len(fields) {
				row[name] = fields[i]
			}
		}
		if row["id"] == "" {
			return nil, fmt.Errorf("%w: line %d: missing id", ErrCorruptRecord, line)
		}
		record, err := decode(row)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCorruptRecord, line, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func writeCSV[T any](header []string, records []T, encode func(T) []string) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(header); err != nil {
		return nil, err
	}
	for _, record := range records {
		if err := writer.Write(encode(record)); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
