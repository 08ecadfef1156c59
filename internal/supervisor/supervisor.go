// Package supervisor owns the reconnect loop: it creates a new Session,
// waits for it to close, and decides how long to back off before trying
// again. It also exposes the Enabled/Disabled toggle the interactive CLI
// uses to pause tunneling without stopping the local HTTP surface.
package supervisor

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberdesk-hq/cyberdriver/internal/logging"
	"github.com/cyberdesk-hq/cyberdriver/internal/session"
)

var log = logging.L("supervisor")

const (
	initialBackoff  = 1 * time.Second
	maxBackoff      = 60 * time.Second
	backoffFactor   = 2.0
	stableThreshold = 30 * time.Second
)

// SessionFactory builds a fresh Session for each reconnect attempt.
type SessionFactory func() *session.Session

// Supervisor drives the create-run-backoff loop described for the tunnel's
// top-level lifecycle.
type Supervisor struct {
	newSession SessionFactory
	onReject   func(reason string)

	enabled atomic.Bool

	mu         sync.Mutex
	cancelCur  context.CancelFunc
	wakeEnable chan struct{}
	disableCh  chan struct{}

	done chan struct{}
}

// Options configures a Supervisor at construction time.
type Options struct {
	NewSession SessionFactory
	// OnReject is invoked when a session reports a fatal keepalive-link
	// rejection; the default behavior (nil) merely logs.
	OnReject func(reason string)
}

// New builds a Supervisor starting in the Enabled pseudostate.
func New(opts Options) *Supervisor {
	s := &Supervisor{
		newSession: opts.NewSession,
		onReject:   opts.OnReject,
		wakeEnable: make(chan struct{}, 1),
		disableCh:  make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.enabled.Store(true)
	return s
}

// currentDisableCh returns the channel that closes the next time Disable is
// called, for use in a select alongside a backoff sleep.
func (s *Supervisor) currentDisableCh() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disableCh
}

// Enable transitions to Enabled, starting a new session immediately with
// backoff reset. A no-op if already enabled.
func (s *Supervisor) Enable() {
	if s.enabled.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.disableCh = make(chan struct{})
		s.mu.Unlock()
		select {
		case s.wakeEnable <- struct{}{}:
		default:
		}
		log.Info("supervisor enabled")
	}
}

// Disable transitions to Disabled, cancelling the current session and any
// pending backoff sleep. The local HTTP surface keeps serving.
func (s *Supervisor) Disable() {
	if s.enabled.CompareAndSwap(true, false) {
		s.mu.Lock()
		if s.cancelCur != nil {
			s.cancelCur()
		}
		close(s.disableCh)
		s.mu.Unlock()
		log.Info("supervisor disabled")
	}
}

// Enabled reports the current pseudostate.
func (s *Supervisor) Enabled() bool { return s.enabled.Load() }

// Done returns a channel that closes once Run returns.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Run blocks until ctx is cancelled, driving the reconnect loop while
// Enabled and idling while Disabled.
func (s *Supervisor) Run(ctx context.Context) {
	defer close(s.done)

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		if !s.enabled.Load() {
			select {
			case <-ctx.Done():
				return
			case <-s.wakeEnable:
				backoff = initialBackoff
				continue
			}
		}

		sessCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.cancelCur = cancel
		s.mu.Unlock()

		sess := s.newSession()
		started := time.Now()
		result := sess.Run(sessCtx)
		cancel()

		s.mu.Lock()
		s.cancelCur = nil
		s.mu.Unlock()

		if result.Rejected {
			log.Error("keepalive link rejected, exiting", "reason", result.RejectReason)
			if s.onReject != nil {
				s.onReject(result.RejectReason)
			}
			return
		}

		if ctx.Err() != nil {
			return
		}

		if time.Since(started) >= stableThreshold {
			backoff = initialBackoff
		}

		sleep := jitter(backoff)
		backoff = nextBackoff(backoff)
		log.Info("session ended, reconnecting", "cause", result.Cause, "delay", sleep)

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		case <-s.currentDisableCh():
			// Disable() already cancelled sessCtx; loop back and idle.
		}
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := time.Duration(float64(cur) * backoffFactor)
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}

// jitter applies a uniform random factor in [0.8, 1.2] to avoid thundering
// herds across many agents reconnecting at once.
func jitter(base time.Duration) time.Duration {
	factor := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(base) * factor)
}
