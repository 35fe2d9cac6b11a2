// SPDX-License-Identifier: MIT

package gracenote

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces the minimum inter-request interval toward the provider and
// adds an adaptive cooldown while the provider is actively blocking.
// The cooldown doubles on every reported block and decays back toward the
// base once requests succeed again.
type Pacer struct {
	limiter *rate.Limiter

	mu            sync.Mutex
	cooldownUntil time.Time
	cooldown      time.Duration
	baseCooldown  time.Duration
}

// NewPacer returns a pacer with the given minimum interval between requests
// and the initial blocking cooldown.
func NewPacer(minInterval, blockCooldown time.Duration) *Pacer {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	if blockCooldown <= 0 {
		blockCooldown = 30 * time.Second
	}
	return &Pacer{
		limiter:      rate.NewLimiter(rate.Every(minInterval), 1),
		cooldown:     blockCooldown,
		baseCooldown: blockCooldown,
	}
}

// Wait blocks until the next request may be issued: first any active
// blocking cooldown, then the steady-state pacing interval.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	until := p.cooldownUntil
	p.mu.Unlock()

	if wait := time.Until(until); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return p.limiter.Wait(ctx)
}

// ReportBlocked records a provider block. Subsequent Wait calls stall until
// the cooldown expires; repeated blocks double the cooldown up to ten times
// the base.
func (p *Pacer) ReportBlocked() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	d := p.cooldown
	p.cooldownUntil = time.Now().Add(d)
	if next := p.cooldown * 2; next <= p.baseCooldown*10 {
		p.cooldown = next
	}
	return d
}

// ReportSuccess decays the cooldown toward its base after successful
// requests.
func (p *Pacer) ReportSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cooldown > p.baseCooldown {
		p.cooldown /= 2
		if p.cooldown < p.baseCooldown {
			p.cooldown = p.baseCooldown
		}
	}
}

// CooldownActive reports whether a blocking cooldown is currently in force.
func (p *Pacer) CooldownActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Now().Before(p.cooldownUntil)
}
