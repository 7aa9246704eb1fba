package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/isotope-submissions-api/internal/models"
	"github.com/noah-isme/isotope-submissions-api/pkg/config"
	"github.com/noah-isme/isotope-submissions-api/pkg/jobs"
)

// JobTypeSubmissionEmail identifies queued submit notifications.
const JobTypeSubmissionEmail = "submission_email"

const channelEmail = "email"

// Notification outcomes.
const (
	OutcomeQueued  = "queued"
	OutcomeDropped = "dropped"
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
)

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type outcomeRecorder interface {
	RecordNotification(channel, outcome string)
}

// SendFunc delivers a raw RFC 5322 message. smtp.SendMail satisfies it.
type SendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier hands accepted submissions to the mail queue. It never
// blocks or fails the submit path.
type EmailNotifier struct {
	cfg     config.EmailConfig
	queue   jobDispatcher
	metrics outcomeRecorder
	logger  *zap.Logger
}

// NewEmailNotifier constructs the notifier. It reports an error when email is
// enabled without the addresses needed to send.
func NewEmailNotifier(cfg config.EmailConfig, queue jobDispatcher, metrics outcomeRecorder, logger *zap.Logger) (*EmailNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Enabled {
		if err := validateConfig(cfg); err != nil {
			return nil, err
		}
		if queue == nil {
			return nil, errors.New("email notifier requires a queue")
		}
	}
	return &EmailNotifier{cfg: cfg, queue: queue, metrics: metrics, logger: logger}, nil
}

// Enabled reports whether notifications are sent.
func (n *EmailNotifier) Enabled() bool {
	return n != nil && n.cfg.Enabled
}

// SubmissionReceived enqueues the admin notification for submission.
func (n *EmailNotifier) SubmissionReceived(_ context.Context, submission models.Submission) {
	if !n.Enabled() {
		return
	}
	err := n.queue.Enqueue(jobs.Job{ID: submission.ID, Type: JobTypeSubmissionEmail, Payload: submission})
	if err != nil {
		n.record(OutcomeDropped)
		n.logger.Warn("notification not queued", zap.String("submission_id", submission.ID), zap.Error(err))
		return
	}
	n.record(OutcomeQueued)
}

func (n *EmailNotifier) record(outcome string) {
	if n.metrics != nil {
		n.metrics.RecordNotification(channelEmail, outcome)
	}
}

// EmailWorker sends queued notifications over SMTP.
type EmailWorker struct {
	cfg     config.EmailConfig
	send    SendFunc
	metrics outcomeRecorder
	logger  *zap.Logger
}

// NewEmailWorker constructs a worker. send defaults to smtp.SendMail, which
// upgrades to STARTTLS when the server offers it.
func NewEmailWorker(cfg config.EmailConfig, send SendFunc, metrics outcomeRecorder, logger *zap.Logger) *EmailWorker {
	if send == nil {
		send = smtp.SendMail
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailWorker{cfg: cfg, send: send, metrics: metrics, logger: logger}
}

// Handle processes a queue job. Returned errors are retried by the queue.
func (w *EmailWorker) Handle(ctx context.Context, job jobs.Job) error {
	submission, ok := job.Payload.(models.Submission)
	if !ok {
		w.logger.Error("unexpected notification payload", zap.String("job_id", job.ID), zap.String("type", fmt.Sprintf("%T", job.Payload)))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := BuildMessage(w.cfg, submission)
	addr := net.JoinHostPort(w.cfg.SMTPHost, strconv.Itoa(w.cfg.SMTPPort))
	var auth smtp.Auth
	if w.cfg.Username != "" {
		auth = smtp.PlainAuth("", w.cfg.Username, w.cfg.Password, w.cfg.SMTPHost)
	}
	if err := w.send(addr, auth, w.cfg.Sender, []string{w.cfg.AdminEmail}, msg); err != nil {
		w.record(OutcomeFailed)
		return fmt.Errorf("send notification for %s: %w", submission.ID, err)
	}
	w.record(OutcomeSent)
	w.logger.Info("notification email sent", zap.String("submission_id", submission.ID), zap.Int("attempt", job.Attempt+1))
	return nil
}

func (w *EmailWorker) record(outcome string) {
	if w.metrics != nil {
		w.metrics.RecordNotification(channelEmail, outcome)
	}
}

// BuildMessage renders the plain-text admin notification for submission.
func BuildMessage(cfg config.EmailConfig, submission models.Submission) []byte {
	f := submission.MeasurementFields
	subject := mime.QEncoding.Encode("utf-8", "New Isotope Ratio Measurement Submission: "+f.TargetName)

	var body strings.Builder
	body.WriteString("New measurement submission received:\r\n\r\n")
	line := func(label, value string) {
		fmt.Fprintf(&body, "%s: %s\r\n", label, value)
	}
	line("Submission ID", submission.ID)
	line("Target Name", f.TargetName)
	line("Category", orDefault(f.Category, "Not specified"))
	line("Carbon Ratio (¹²C/¹³C)", f.CarbonRatio)
	line("Oxygen Ratio (¹⁶O/¹⁸O)", orDefault(f.OxygenRatio, "Not provided"))
	line("Instrument", orDefault(f.Instrument, "Not specified"))
	line("Reference", f.Reference)
	line("DOI", orDefault(f.DOI, "Not provided"))
	line("Notes", orDefault(f.Notes, "None"))
	line("Submitter Email", orDefault(submission.SubmitterEmail, "Not provided"))
	body.WriteString("\r\n")
	line("Submitted on", submission.SubmittedAt.UTC().Format(time.RFC3339))
	body.WriteString("\r\nPlease review this submission in the admin interface")
	if cfg.AdminURL != "" {
		body.WriteString(": " + cfg.AdminURL)
	}
	body.WriteString("\r\n")

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", cfg.Sender)
	fmt.Fprintf(&msg, "To: %s\r\n", cfg.AdminEmail)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", submission.SubmittedAt.UTC().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	msg.WriteString(body.String())
	return msg.Bytes()
}

func validateConfig(cfg config.EmailConfig) error {
	var missing []string
	if cfg.SMTPHost == "" {
		missing = append(missing, "SMTP_HOST")
	}
	if cfg.SMTPPort <= 0 {
		missing = append(missing, "SMTP_PORT")
	}
	if cfg.Sender == "" {
		missing = append(missing, "EMAIL_SENDER")
	}
	if cfg.AdminEmail == "" {
		missing = append(missing, "EMAIL_ADMIN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("email enabled but %s not set", strings.Join(missing, ", "))
	}
	return nil
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
