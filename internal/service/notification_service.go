package service

import (
	"context"
	"fmt"
	"html"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/ireporter/internal/models"
	"github.com/noah-isme/ireporter/pkg/jobs"
	"github.com/noah-isme/ireporter/pkg/mailer"
)

const (
	// EmailSentMessage is surfaced to reviewers when the author was notified.
	EmailSentMessage = "Email sent successfully. Please check your email."
	// EmailQueuedMessage is surfaced when the first delivery attempt failed.
	EmailQueuedMessage = "Status updated. The email notification failed and has been queued for retry."
	// EmailFailedMessage is surfaced when delivery failed and no retry is possible.
	EmailFailedMessage = "Status updated. The email notification could not be sent."
	// EmailSkippedMessage is surfaced when the author has no email address.
	EmailSkippedMessage = "Status updated. The author has no email address on file."

	statusEmailJob     = "status_email"
	statusEmailSubject = "Status Change Notification"
)

type mailSender interface {
	Send(ctx context.Context, msg mailer.Message) (mailer.SendResult, error)
}

type retryQueue interface {
	Enqueue(job jobs.Job) error
	Register(jobType string, handler jobs.Handler)
}

// NotificationService emails report authors when their report changes status.
type NotificationService struct {
	mailer  mailSender
	queue   retryQueue
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService wires the mailer and registers the retry handler on
// the queue when one is given.
func NewNotificationService(m mailSender, queue retryQueue, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{mailer: m, queue: queue, metrics: metrics, logger: logger}
	if queue != nil {
		queue.Register(statusEmailJob, s.retry)
	}
	return s
}

// NotifyStatusChange sends the status email once and queues a retry on failure.
func (s *NotificationService) NotifyStatusChange(ctx context.Context, author *models.User, report models.Report) string {
	if author == nil || author.Email == "" {
		s.metrics.RecordNotification("skipped")
		return EmailSkippedMessage
	}
	msg := statusEmail(author.Email, report)

	_, err := s.mailer.Send(ctx, msg)
	if err == nil {
		s.metrics.RecordNotification("sent")
		return EmailSentMessage
	}
	s.logger.Warn("status email failed", zap.String("report_id", report.ID), zap.Error(err))

	if s.queue == nil {
		s.metrics.RecordNotification("dropped")
		return EmailFailedMessage
	}
	if err := s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: statusEmailJob, Payload: msg}); err != nil {
		s.logger.Error("status email retry could not be queued", zap.String("report_id", report.ID), zap.Error(err))
		s.metrics.RecordNotification("dropped")
		return EmailFailedMessage
	}
	s.metrics.RecordNotification("queued")
	return EmailQueuedMessage
}

func (s *NotificationService) retry(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(mailer.Message)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	if _, err := s.mailer.Send(ctx, msg); err != nil {
		return err
	}
	s.metrics.RecordNotification("sent")
	s.logger.Info("status email delivered on retry", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

func statusEmail(to string, report models.Report) mailer.Message {
	label := report.Kind.Label()
	status := report.Status.Label()
	return mailer.Message{
		To:      []string{to},
		Subject: statusEmailSubject,
		HTML: fmt.Sprintf("<p>Your %s report <strong>%s</strong> status has been changed to: %s</p>",
			html.EscapeString(label), html.EscapeString(report.Title), html.EscapeString(status)),
		Text: fmt.Sprintf("Your %s report %q status has been changed to: %s", label, report.Title, status),
	}
}
