// Package quota enforces the per-user daily message budget.
package quota

import (
	"context"

	"github.com/haventech/haven/internal/domain"
)

// Store is the persistence surface the limiter needs.
type Store interface {
	ReserveUsage(ctx context.Context, userID string, dailyLimit int) (bool, error)
	UsageFor(ctx context.Context, userID string) (*domain.Usage, error)
}

// Limiter reserves quota atomically: the check and the consume are one
// operation keyed by user and UTC calendar day, so gating a turn and
// recording its usage cannot diverge.
type Limiter struct {
	store      Store
	dailyLimit int
}

func New(store Store, dailyLimit int) *Limiter {
	return &Limiter{store: store, dailyLimit: dailyLimit}
}

// Reserve consumes one message from today's budget. False means the
// limit is reached and the turn must stop.
func (l *Limiter) Reserve(ctx context.Context, userID string) (bool, error) {
	return l.store.ReserveUsage(ctx, userID, l.dailyLimit)
}

// Usage reports today's counters for the stats command.
func (l *Limiter) Usage(ctx context.Context, userID string) (*domain.Usage, error) {
	u, err := l.store.UsageFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		u = &domain.Usage{UserID: userID, Limit: l.dailyLimit}
	}
	return u, nil
}
