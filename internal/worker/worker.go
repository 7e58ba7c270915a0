package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerdesk/backend/internal/emaillogs"
	"github.com/ledgerdesk/backend/internal/models"
	"github.com/ledgerdesk/backend/pkg/queue"
)

// Sender delivers a rendered email. Actual transport (SMTP, provider API)
// is plugged in from main; the default only records the attempt.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender is a Sender that logs instead of delivering. Used when no
// transport is configured.
type LogSender struct {
	Logger *zap.Logger
}

// Send logs the outgoing email and reports success.
func (s LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.Logger.Info("email (log transport)", zap.String("to", to), zap.String("subject", subject))
	return nil
}

// InvitationMailer processes invitation email jobs: record an email log,
// hand the message to the Sender, and stamp the outcome.
type InvitationMailer struct {
	logs     *emaillogs.Repository
	queue    *queue.Queue
	sender   Sender
	fromName string
	logger   *zap.Logger
}

// NewInvitationMailer creates an invitation email processor.
func NewInvitationMailer(logs *emaillogs.Repository, q *queue.Queue, sender Sender, fromName string, logger *zap.Logger) *InvitationMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sender == nil {
		sender = LogSender{Logger: logger}
	}
	return &InvitationMailer{logs: logs, queue: q, sender: sender, fromName: fromName, logger: logger}
}

// Process executes one invitation email job.
func (p *InvitationMailer) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeInvitationEmail {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.InvitationEmailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	subject := fmt.Sprintf("%s has invited you to join their workspace", p.fromName)
	body := fmt.Sprintf(
		"You have been invited. Accept before %s using token %s.",
		payload.ExpiresAt.Format(time.RFC1123), payload.Token,
	)

	el := &models.EmailLog{
		OrganizationID: &payload.OrganizationID,
		MembershipID:   &payload.MembershipID,
		EmailType:      models.EmailTypeInvitation,
		RecipientEmail: payload.RecipientEmail,
		Subject:        subject,
		Status:         models.EmailLogStatusPending,
	}
	if err := p.logs.Create(ctx, el); err != nil {
		return fmt.Errorf("create email log: %w", err)
	}

	if err := p.sender.Send(ctx, payload.RecipientEmail, subject, body); err != nil {
		if logErr := p.logs.MarkFailed(ctx, el.ID, err.Error()); logErr != nil {
			p.logger.Error("mark email failed", zap.Error(logErr), zap.String("email_log_id", el.ID.String()))
		}
		return fmt.Errorf("send: %w", err)
	}
	if err := p.logs.MarkSent(ctx, el.ID, time.Now()); err != nil {
		p.logger.Error("mark email sent", zap.Error(err), zap.String("email_log_id", el.ID.String()))
	}

	p.logger.Info("invitation email processed",
		zap.String("membership_id", payload.MembershipID.String()),
		zap.String("recipient", payload.RecipientEmail))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *InvitationMailer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("invitation worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
