package tor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// IdentityRenewer requests a new exit identity. *Controller implements it.
type IdentityRenewer interface {
	NewIdentity(ctx context.Context) error
}

// Rotator renews the Tor identity and then waits for the new circuits to
// settle before returning.
type Rotator struct {
	renewer IdentityRenewer
	settle  time.Duration
	sleep   func(ctx context.Context, d time.Duration) error

	rotations atomic.Int64
}

// NewRotator returns a rotator that waits settle after every renewal.
func NewRotator(renewer IdentityRenewer, settle time.Duration) *Rotator {
	return &Rotator{
		renewer: renewer,
		settle:  settle,
		sleep:   sleepContext,
	}
}

// Rotate requests a new identity and blocks for the settle delay. Renewal
// errors are returned untouched; the caller decides whether they are fatal.
func (r *Rotator) Rotate(ctx context.Context) error {
	if err := r.renewer.NewIdentity(ctx); err != nil {
		return err
	}
	n := r.rotations.Add(1)
	slog.Info("tor identity renewed, waiting for new circuit",
		slog.Int64("rotation", n),
		slog.Duration("settle", r.settle),
	)
	return r.sleep(ctx, r.settle)
}

// Count returns the number of successful renewals.
func (r *Rotator) Count() int {
	return int(r.rotations.Load())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
