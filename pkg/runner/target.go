// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runner

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/foreman/pkg/client"
)

// TargetConfig tunes the per-server resilience behavior.
type TargetConfig struct {
	// FailureThreshold is the number of consecutive non-auth poll failures
	// before the circuit opens. Default: 3.
	FailureThreshold int

	// ResetWindow is how long an open circuit suppresses polls before a
	// single half-open probe is allowed. Default: 30s.
	ResetWindow time.Duration

	// AuthBackoffCap bounds the exponential authorization backoff.
	// Default: 60s.
	AuthBackoffCap time.Duration

	// PollRate optionally caps poll attempts to this target.
	// Zero means unlimited.
	PollRate rate.Limit

	// PollBurst is the burst size for PollRate. Default: 1 when PollRate
	// is set.
	PollBurst int
}

func (c TargetConfig) withDefaults() TargetConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.ResetWindow <= 0 {
		c.ResetWindow = 30 * time.Second
	}
	if c.AuthBackoffCap <= 0 {
		c.AuthBackoffCap = 60 * time.Second
	}
	if c.PollRate > 0 && c.PollBurst <= 0 {
		c.PollBurst = 1
	}
	return c
}

// ServerTarget is one remote server endpoint together with its private
// resilience state: a circuit breaker for transient failures and an
// exponential backoff for authorization rejections.
//
// The state is local bookkeeping for the runner that owns the worker; it is
// never shared across workers. All methods are safe under concurrent poll
// attempts.
type ServerTarget struct {
	name   string
	poll   client.PollClient
	update client.UpdateClient

	cfg     TargetConfig
	limiter *rate.Limiter

	mu                  sync.Mutex
	authFailures        int
	lastAuthFailure     time.Time
	consecutiveFailures int
	circuitOpenUntil    time.Time
	halfOpen            bool

	now func() time.Time // test hook
}

// TargetStatus is a point-in-time snapshot of a target's resilience state.
type TargetStatus struct {
	Name                string
	CircuitOpen         bool
	ConsecutiveFailures int
	AuthFailures        int
}

// NewServerTarget wraps a client pair for one server endpoint.
func NewServerTarget(name string, poll client.PollClient, update client.UpdateClient, cfg TargetConfig) *ServerTarget {
	cfg = cfg.withDefaults()
	t := &ServerTarget{
		name:   name,
		poll:   poll,
		update: update,
		cfg:    cfg,
		now:    time.Now,
	}
	if cfg.PollRate > 0 {
		t.limiter = rate.NewLimiter(cfg.PollRate, cfg.PollBurst)
	}
	return t
}

// Name returns the target's identity, used in events and logs.
func (t *ServerTarget) Name() string {
	return t.name
}

// Allow reports whether a poll may be issued to this target now. While the
// circuit is open or the auth backoff has not elapsed, the target is
// skipped. When the reset window elapses, exactly one caller is granted the
// half-open probe; others keep seeing the target as unavailable until the
// probe's outcome is recorded.
func (t *ServerTarget) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	if t.authFailures > 0 {
		if now.Before(t.lastAuthFailure.Add(t.authBackoff())) {
			return false
		}
	}

	if !t.circuitOpenUntil.IsZero() && now.Before(t.circuitOpenUntil) {
		return false
	}
	if t.halfOpen {
		// A probe is already in flight.
		return false
	}
	if !t.circuitOpenUntil.IsZero() {
		if !t.allowRate() {
			return false
		}
		// Reset window elapsed: grant this caller the probe.
		t.circuitOpenUntil = time.Time{}
		t.halfOpen = true
		return true
	}

	return t.allowRate()
}

func (t *ServerTarget) allowRate() bool {
	if t.limiter == nil {
		return true
	}
	return t.limiter.Allow()
}

// RecordSuccess resets the target's failure state after a successful call.
func (t *ServerTarget) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.authFailures = 0
	t.consecutiveFailures = 0
	t.circuitOpenUntil = time.Time{}
	t.halfOpen = false
}

// RecordFailure updates the resilience state after a failed poll and
// reports whether this failure opened (or reopened) the circuit.
// Authorization rejections feed the auth backoff; any other failure counts
// toward the circuit breaker threshold. A failed half-open probe reopens
// the circuit for another full reset window.
func (t *ServerTarget) RecordFailure(err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if client.IsAuthError(err) {
		t.authFailures++
		t.lastAuthFailure = t.now()
		t.halfOpen = false
		return false
	}

	t.consecutiveFailures++
	if t.halfOpen || t.consecutiveFailures >= t.cfg.FailureThreshold {
		t.circuitOpenUntil = t.now().Add(t.cfg.ResetWindow)
		t.halfOpen = false
		return true
	}
	return false
}

// RecordAuthResult feeds update-call outcomes into the auth backoff without
// touching the circuit breaker, which tracks poll failures only.
func (t *ServerTarget) RecordAuthResult(err error) {
	if err == nil {
		t.mu.Lock()
		t.authFailures = 0
		t.mu.Unlock()
		return
	}
	if !client.IsAuthError(err) {
		return
	}
	t.mu.Lock()
	t.authFailures++
	t.lastAuthFailure = t.now()
	t.mu.Unlock()
}

// Status returns a snapshot of the target's resilience state.
func (t *ServerTarget) Status() TargetStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TargetStatus{
		Name:                t.name,
		CircuitOpen:         !t.circuitOpenUntil.IsZero() && t.now().Before(t.circuitOpenUntil),
		ConsecutiveFailures: t.consecutiveFailures,
		AuthFailures:        t.authFailures,
	}
}

// authBackoff returns the current authorization backoff: 2^failures
// seconds, capped. Callers hold t.mu.
func (t *ServerTarget) authBackoff() time.Duration {
	shift := t.authFailures
	if shift > 20 {
		shift = 20
	}
	backoff := time.Duration(1<<uint(shift)) * time.Second
	if backoff > t.cfg.AuthBackoffCap {
		backoff = t.cfg.AuthBackoffCap
	}
	return backoff
}
