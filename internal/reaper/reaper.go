// Package reaper reclaims expired, unaccepted invitations. The sweep is a
// pure function of an explicit now plus persisted state; scheduling lives
// outside (cmd/reaper under cron, or the in-server ticker loop).
package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerdesk/backend/internal/memberships"
)

// Store is the persistence surface the reaper needs. Implemented by
// *memberships.Repository.
type Store interface {
	DeleteExpiredInvitations(ctx context.Context, now time.Time) ([]memberships.ExpiredInvitation, error)
}

// Reaper deletes pending memberships whose invitation expired without
// being accepted.
type Reaper struct {
	store  Store
	logger *zap.Logger
}

// New creates a reaper.
func New(store Store, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{store: store, logger: logger}
}

// Sweep deletes every invitation that expired before now and was never
// accepted, and returns how many were reclaimed. The store re-evaluates
// the predicate at delete time, so an invitation accepted while the sweep
// runs is left alone. A second sweep with no intervening activity deletes
// nothing. On error nothing was partially deleted and the error propagates
// to the scheduler.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) (int, error) {
	reclaimed, err := r.store.DeleteExpiredInvitations(ctx, now)
	if err != nil {
		r.logger.Error("invitation sweep failed", zap.Error(err))
		return 0, err
	}
	for _, inv := range reclaimed {
		r.logger.Info("expired invitation reclaimed",
			zap.String("membership_id", inv.ID.String()),
			zap.String("organization_id", inv.OrganizationID.String()),
			zap.String("email", inv.Email),
			zap.String("role", string(inv.Role)),
			zap.Time("expired_at", inv.Expiry),
		)
	}
	r.logger.Info("invitation sweep completed",
		zap.Int("deleted_count", len(reclaimed)),
		zap.Time("timestamp", now),
	)
	return len(reclaimed), nil
}

// Run sweeps on every tick until ctx is done. Sweep errors are logged and
// the loop keeps going; the next tick retries from current state.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopping")
			return
		case <-ticker.C:
			_, _ = r.Sweep(ctx, time.Now())
		}
	}
}
