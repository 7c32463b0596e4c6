package utils

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Permanent wraps an error that should not be retried.
type Permanent struct{ Err error }

func (p Permanent) Error() string { return p.Err.Error() }
func (p Permanent) Unwrap() error { return p.Err }

type Backoff struct {
	base       time.Duration
	maxRetries int
	jitter     bool
}

func NewBackoff(base time.Duration, maxRetries int) Backoff {
	return Backoff{base: base, maxRetries: maxRetries, jitter: true}
}

// Delay is the wait after attempt i (0-based): base * 2^i plus up to base of jitter.
func (b Backoff) Delay(i int) time.Duration {
	d := time.Duration(1<<i) * b.base
	if b.jitter && b.base > 0 {
		d += time.Duration(rand.Int63n(int64(b.base)))
	}
	return d
}

// Do calls fn until it succeeds, returns a Permanent error, retries run out
// or ctx is done. The last error is returned.
func (b Backoff) Do(ctx context.Context, fn func(i int) error) error {
	var err error
	for i := 0; i <= b.maxRetries; i++ {
		err = fn(i)
		if err == nil {
			return nil
		}
		var perm Permanent
		if errors.As(err, &perm) {
			return perm.Err
		}
		if i == b.maxRetries {
			break
		}
		t := time.NewTimer(b.Delay(i))
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
	return err
}
