// Package notifier hands invitation notifications to the background
// worker. It runs strictly after the membership is committed: an enqueue
// failure is logged and never undoes the invite.
package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/ledgerdesk/backend/internal/models"
	"github.com/ledgerdesk/backend/pkg/queue"
)

// QueueNotifier enqueues invitation email jobs onto Redis.
type QueueNotifier struct {
	queue  *queue.Queue
	logger *zap.Logger
}

// New creates a queue-backed notifier.
func New(q *queue.Queue, logger *zap.Logger) *QueueNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueNotifier{queue: q, logger: logger}
}

// InvitationCreated enqueues an invitation email for the invitee.
func (n *QueueNotifier) InvitationCreated(ctx context.Context, m *models.Membership, token string) {
	payload := queue.InvitationEmailPayload{
		MembershipID:   m.ID,
		OrganizationID: m.OrganizationID,
		RecipientEmail: m.Email,
		Token:          token,
	}
	if m.InvitationExpiry != nil {
		payload.ExpiresAt = *m.InvitationExpiry
	}
	if err := n.queue.EnqueueInvitationEmail(ctx, payload); err != nil {
		n.logger.Error("invitation email enqueue failed",
			zap.Error(err),
			zap.String("membership_id", m.ID.String()),
			zap.String("email", m.Email),
		)
	}
}
