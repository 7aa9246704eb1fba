package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/noah-isme/isotope-submissions-api/internal/models"
	"github.com/noah-isme/isotope-submissions-api/pkg/config"
	"github.com/noah-isme/isotope-submissions-api/pkg/jobs"
)

func emailConfig() config.EmailConfig {
	return config.EmailConfig{
		Enabled:    true,
		SMTPHost:   "smtp.example.org",
		SMTPPort:   587,
		Username:   "bot@example.org",
		Password:   "secret",
		Sender:     "bot@example.org",
		AdminEmail: "admin@example.org",
		AdminURL:   "https://example.org/admin.html",
	}
}

func sampleSubmission() models.Submission {
	return models.Submission{
		ID:          "sub-1",
		SubmittedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Status:      models.SubmissionStatusPending,
		MeasurementFields: models.MeasurementFields{
			TargetName:  "WISE 1828",
			CarbonRatio: "88 ± 13",
			Reference:   "Smith 2024",
			Instrument:  "JWST",
		},
	}
}

type recorderStub struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recorderStub) RecordNotification(_ string, outcome string) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, outcome)
	r.mu.Unlock()
}

func (r *recorderStub) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.outcomes...)
}

type dispatcherStub struct {
	jobs []jobs.Job
	err  error
}

func (d *dispatcherStub) Enqueue(job jobs.Job) error {
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

func TestBuildMessageListsAllFields(t *testing.T) {
	msg := string(BuildMessage(emailConfig(), sampleSubmission()))

	require.Contains(t, msg, "To: admin@example.org\r\n")
	require.Contains(t, msg, "Subject: New Isotope Ratio Measurement Submission: WISE 1828\r\n")
	require.Contains(t, msg, "Submission ID: sub-1")
	require.Contains(t, msg, "Carbon Ratio (¹²C/¹³C): 88 ± 13")
	require.Contains(t, msg, "Category: Not specified")
	require.Contains(t, msg, "Oxygen Ratio (¹⁶O/¹⁸O): Not provided")
	require.Contains(t, msg, "Instrument: JWST")
	require.Contains(t, msg, "DOI: Not provided")
	require.Contains(t, msg, "Notes: None")
	require.Contains(t, msg, "Submitter Email: Not provided")
	require.Contains(t, msg, "Submitted on: 2024-05-01T12:00:00Z")
	require.Contains(t, msg, "https://example.org/admin.html")

	headers, _, ok := strings.Cut(msg, "\r\n\r\n")
	require.True(t, ok)
	require.Contains(t, headers, "Content-Type: text/plain; charset=UTF-8")

	sub := sampleSubmission()
	sub.TargetName = "ε Eridani"
	msg = string(BuildMessage(emailConfig(), sub))
	require.Contains(t, msg, "Subject: =?utf-8?q?")
}

func TestNewEmailNotifierValidatesConfig(t *testing.T) {
	cfg := emailConfig()
	cfg.AdminEmail = ""
	_, err := NewEmailNotifier(cfg, &dispatcherStub{}, nil, zap.NewNop())
	require.ErrorContains(t, err, "EMAIL_ADMIN")

	cfg.Enabled = false
	notifier, err := NewEmailNotifier(cfg, nil, nil, zap.NewNop())
	require.NoError(t, err)
	require.False(t, notifier.Enabled())
	notifier.SubmissionReceived(context.Background(), sampleSubmission())
}

func TestNotifierEnqueues(t *testing.T) {
	queue := &dispatcherStub{}
	rec := &recorderStub{}
	notifier, err := NewEmailNotifier(emailConfig(), queue, rec, zap.NewNop())
	require.NoError(t, err)

	notifier.SubmissionReceived(context.Background(), sampleSubmission())
	require.Len(t, queue.jobs, 1)
	require.Equal(t, JobTypeSubmissionEmail, queue.jobs[0].Type)
	require.Equal(t, []string{OutcomeQueued}, rec.snapshot())
}

func TestNotifierDropsWhenQueueFull(t *testing.T) {
	rec := &recorderStub{}
	notifier, err := NewEmailNotifier(emailConfig(), &dispatcherStub{err: jobs.ErrQueueFull}, rec, zap.NewNop())
	require.NoError(t, err)

	notifier.SubmissionReceived(context.Background(), sampleSubmission())
	require.Equal(t, []string{OutcomeDropped}, rec.snapshot())
}

func TestWorkerSendsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotAuth smtp.Auth
	send := func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo = addr, auth, from, to
		return nil
	}
	rec := &recorderStub{}
	worker := NewEmailWorker(emailConfig(), send, rec, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "sub-1", Payload: sampleSubmission()})
	require.NoError(t, err)
	require.Equal(t, "smtp.example.org:587", gotAddr)
	require.NotNil(t, gotAuth)
	require.Equal(t, "bot@example.org", gotFrom)
	require.Equal(t, []string{"admin@example.org"}, gotTo)
	require.Equal(t, []string{OutcomeSent}, rec.snapshot())
}

func TestWorkerIgnoresUnknownPayload(t *testing.T) {
	worker := NewEmailWorker(emailConfig(), func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send must not be called")
		return nil
	}, nil, zap.NewNop())
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: "x", Payload: "nope"}))
}

func TestFailedSendIsRetriedThroughQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	var mu sync.Mutex
	attempts := 0
	send := func(string, smtp.Auth, string, []string, []byte) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("421 service not available")
		}
		return nil
	}
	rec := &recorderStub{}
	worker := NewEmailWorker(emailConfig(), send, rec, zap.NewNop())
	queue := jobs.NewQueue("email", worker.Handle, jobs.QueueConfig{MaxRetries: 3, RetryDelay: time.Millisecond})
	queue.Start(context.Background())

	notifier, err := NewEmailNotifier(emailConfig(), queue, rec, zap.NewNop())
	require.NoError(t, err)
	notifier.SubmissionReceived(context.Background(), sampleSubmission())

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 4
	}, time.Second, 5*time.Millisecond)
	require.ElementsMatch(t, []string{OutcomeQueued, OutcomeFailed, OutcomeFailed, OutcomeSent}, rec.snapshot())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	queue.Stop(ctx)
}
