package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

type Limiter struct {
	github        *rate.Limiter
	bettercodehub *rate.Limiter
	nvd           *rate.Limiter
}

// New builds per-upstream token buckets from requests-per-minute budgets.
// A non-positive budget disables limiting for that upstream.
func New(githubReqPerMin, bettercodehubReqPerMin int) *Limiter {
	return &Limiter{
		github:        perMinute(githubReqPerMin),
		bettercodehub: perMinute(bettercodehubReqPerMin),
	}
}

// WithNVD adds a budget for the NVD vulnerability API.
func (l *Limiter) WithNVD(reqPerMin int) *Limiter {
	l.nvd = perMinute(reqPerMin)
	return l
}

func perMinute(n int) *rate.Limiter {
	if n <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(float64(n)/60.0), n)
}

func (l *Limiter) WaitGithub(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.github.Wait(ctx)
}

func (l *Limiter) WaitBetterCodeHub(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.bettercodehub.Wait(ctx)
}

func (l *Limiter) WaitNVD(ctx context.Context) error {
	if l == nil || l.nvd == nil {
		return nil
	}
	return l.nvd.Wait(ctx)
}
