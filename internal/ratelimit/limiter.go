// Package ratelimit wraps a token-bucket limiter for outbound actor calls.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Status is a point-in-time snapshot of the limiter.
type Status struct {
	Rate   float64 `json:"rate"`
	Burst  int     `json:"burst"`
	Tokens float64 `json:"tokens"`
}

// Limiter gates outbound requests to a shared upstream. A single Limiter
// is shared by every component that talks to the same API surface, so the
// aggregate request rate stays under the account quota no matter how many
// jobs run through it.
type Limiter struct {
	l *rate.Limiter
}

// New builds a limiter allowing rps sustained requests per second with the
// given burst. rps <= 0 disables limiting entirely.
func New(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return &Limiter{l: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{l: rate.NewLimiter(rate.Limit(rps), burst)}
}

// TryAcquire consumes a token if one is available right now. It never
// blocks; callers that can defer work use the false return to back off.
func (lm *Limiter) TryAcquire() bool {
	return lm.l.Allow()
}

// Wait blocks until a token is available or the context ends.
func (lm *Limiter) Wait(ctx context.Context) error {
	return lm.l.Wait(ctx)
}

// Status reports the configured rate and the tokens currently available.
func (lm *Limiter) Status() Status {
	return Status{
		Rate:   float64(lm.l.Limit()),
		Burst:  lm.l.Burst(),
		Tokens: lm.l.TokensAt(time.Now()),
	}
}
