package keepalive

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/cyberdesk-hq/cyberdriver/internal/activity"
	"github.com/cyberdesk-hq/cyberdriver/internal/inputsynth"
	"github.com/cyberdesk-hq/cyberdriver/internal/logging"
)

var log = logging.L("keepalive")

// fillerPhrases is the fixed pool of short phrases typed during a keepalive
// action.
var fillerPhrases = []string{
	"ok", "hm", "checking", "one sec", "working on it",
}

// Config are the tunable parameters of the idle-driven loop, sourced from
// internal/config.Config's keepalive_* fields.
type Config struct {
	Threshold time.Duration
	ClickX    int
	ClickY    int
	ClickSet  bool
}

// Worker periodically synthesizes a small burst of harmless mouse and
// keyboard activity whenever the shared activity clock has been idle past a
// threshold, so a session that looks inactive to an upstream idle-killer
// stays alive. It only ever touches the ActivityClock and the Gate; it
// never sees a Session.
type Worker struct {
	cfg    Config
	clock  *activity.Clock
	gate   *Gate
	device *inputsynth.Device

	paused atomic.Bool
}

// NewWorker builds a Worker sharing clock and gate with the dispatcher.
func NewWorker(cfg Config, clock *activity.Clock, gate *Gate, device *inputsynth.Device) *Worker {
	return &Worker{cfg: cfg, clock: clock, gate: gate, device: device}
}

// Pause stops the loop from starting new keepalive actions; it does not
// interrupt one already in progress. Controlled by the supervisor's
// Enabled/Disabled toggle and the interactive CLI.
func (w *Worker) Pause() { w.paused.Store(true) }

// Resume re-enables the loop.
func (w *Worker) Resume() { w.paused.Store(false) }

// Run blocks until ctx is cancelled, performing keepalive actions whenever
// the activity clock has been idle for at least the configured threshold.
func (w *Worker) Run(ctx context.Context) {
	if w.cfg.Threshold <= 0 {
		return
	}

	const pollInterval = 1 * time.Second
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.paused.Load() {
				continue
			}
			if w.clock.IdleFor() < w.cfg.Threshold {
				continue
			}
			w.performAction(ctx)
		}
	}
}

// performAction acquires the gate exclusively, runs one keepalive action,
// releases the gate, and re-touches the clock with jitter so the next idle
// window starts from now.
func (w *Worker) performAction(ctx context.Context) {
	w.gate.AcquireExclusive()
	defer w.gate.ReleaseExclusive()

	log.Debug("keepalive action starting")

	x, y := w.clickTarget()
	if err := w.device.MoveTo(x, y, true); err != nil {
		log.Warn("keepalive move failed", "error", err)
	}
	if err := w.device.Click("left", "click", &x, &y); err != nil {
		log.Warn("keepalive click failed", "error", err)
	}

	phraseCount := 2 + rand.Intn(4) // 2..5 inclusive
	for i := 0; i < phraseCount; i++ {
		select {
		case <-ctx.Done():
			w.clock.TouchWithJitter()
			return
		default:
		}
		phrase := fillerPhrases[rand.Intn(len(fillerPhrases))]
		for _, r := range phrase {
			if err := w.device.TypeText(string(r)); err != nil {
				log.Warn("keepalive type failed", "error", err)
			}
			interKeystroke := time.Duration(80+rand.Intn(170)) * time.Millisecond
			time.Sleep(interKeystroke)
		}
	}

	if err := w.device.KeySequence("esc"); err != nil {
		log.Warn("keepalive escape failed", "error", err)
	}

	log.Debug("keepalive action complete", "phrases", phraseCount)
	w.clock.TouchWithJitter()
}

// clickTarget returns the configured click point, or the bottom-left of the
// primary screen inset 10px from each edge when unconfigured. It never
// clamps a configured point: virtual displays may legitimately require
// coordinates at or near an edge.
func (w *Worker) clickTarget() (int, int) {
	if w.cfg.ClickSet {
		return w.cfg.ClickX, w.cfg.ClickY
	}
	const (
		fallbackHeight = 1080
		inset          = 10
	)
	return inset, fallbackHeight - inset
}
