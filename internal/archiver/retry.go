package archiver

import (
	"context"
	"math/rand"
	"time"
)

// BackoffType selects the retry delay curve for CAS writes.
type BackoffType int

const (
	BackoffExpJitter BackoffType = iota
	BackoffExp
	BackoffFixed
	BackoffNone
)

// RetryPolicy bounds how hard a failed segment write is retried before the
// archiver reports degraded archival.
type RetryPolicy struct {
	Type        BackoffType
	Base        time.Duration
	Cap         time.Duration
	Factor      float64
	MaxAttempts uint32
}

// DefaultRetryPolicy returns the production defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Type: BackoffExpJitter, Base: 200 * time.Millisecond, Cap: 30 * time.Second, Factor: 2.0, MaxAttempts: 5}
}

// Backoff computes the delay before the given 1-based attempt.
func Backoff(pol RetryPolicy, attempt uint32) time.Duration {
	switch pol.Type {
	case BackoffNone:
		return 0
	case BackoffFixed:
		if pol.Base <= 0 {
			return 0
		}
		if pol.Cap > 0 && pol.Base > pol.Cap {
			return pol.Cap
		}
		return pol.Base
	default:
		base := pol.Base
		if base <= 0 {
			base = 200 * time.Millisecond
		}
		factor := pol.Factor
		if factor <= 0 {
			factor = 2.0
		}
		d := time.Duration(float64(base) * pow(factor, float64(attempt-1)))
		if pol.Cap > 0 && d > pol.Cap {
			d = pol.Cap
		}
		if pol.Type == BackoffExpJitter && d > 0 {
			// full jitter in [d/2, d)
			d = d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
		}
		return d
	}
}

func pow(base, exp float64) float64 {
	out := 1.0
	for exp >= 1 {
		out *= base
		exp--
	}
	return out
}

// sleep waits for d unless ctx is done first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
