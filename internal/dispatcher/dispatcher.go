// Package dispatcher turns inbound tunnel Request frames into calls against
// the local HTTP surface, bounding how many run concurrently within one
// session. It is a generalized form of a bounded worker pool: a fixed
// goroutine count, a bounded submit queue, and a context-aware Drain for
// graceful session close.
package dispatcher

import (
	"context"
	"net/url"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberdesk-hq/cyberdriver/internal/activity"
	"github.com/cyberdesk-hq/cyberdriver/internal/keepalive"
	"github.com/cyberdesk-hq/cyberdriver/internal/logging"
	"github.com/cyberdesk-hq/cyberdriver/internal/tunnel"
)

var log = logging.L("dispatcher")

// RequestDeadline is the soft per-request deadline; on expiry the worker is
// cancelled and a 504 response is emitted if the send still succeeds.
const RequestDeadline = 120 * time.Second

// Invoker is the in-process HTTP entrypoint a dispatcher calls into. It is
// satisfied by *surface.Server.
type Invoker interface {
	Invoke(method, path string, query url.Values, headers map[string]string, body []byte) (status int, respHeaders map[string]string, respBody []byte)
}

// Dispatcher runs Request frames against an Invoker with bounded
// concurrency, writing Response frames back onto a caller-supplied outbound
// channel.
type Dispatcher struct {
	invoker Invoker
	gate    *keepalive.Gate
	clock   *activity.Clock
	out     chan<- tunnel.Frame

	// ctx is owned by the Session: it is cancelled when the session closes
	// or begins draining, which cancels every in-flight worker's request
	// context in one stroke instead of leaving them to run to completion
	// against a socket that is already gone.
	ctx context.Context

	queue     chan tunnel.Frame
	wg        sync.WaitGroup
	accepting atomic.Bool
	stopOnce  sync.Once
	stopChan  chan struct{}

	mu      sync.Mutex
	inFlight map[string]struct{}
}

// Options configures a Dispatcher at construction time.
type Options struct {
	Ctx        context.Context
	Invoker    Invoker
	Gate       *keepalive.Gate
	Clock      *activity.Clock
	Out        chan<- tunnel.Frame
	MaxWorkers int
	QueueSize  int
}

// New builds a Dispatcher with maxWorkers goroutines draining a queue of
// queueSize. Defaults match the documented cap of 16 concurrent requests per
// session.
func New(opts Options) *Dispatcher {
	maxWorkers := opts.MaxWorkers
	if maxWorkers < 1 {
		maxWorkers = 16
	}
	queueSize := opts.QueueSize
	if queueSize < 1 {
		queueSize = 64
	}
	ctx := opts.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	d := &Dispatcher{
		invoker:  opts.Invoker,
		gate:     opts.Gate,
		clock:    opts.Clock,
		out:      opts.Out,
		ctx:      ctx,
		queue:    make(chan tunnel.Frame, queueSize),
		stopChan: make(chan struct{}),
		inFlight: make(map[string]struct{}),
	}
	d.accepting.Store(true)

	for i := 0; i < maxWorkers; i++ {
		go d.worker()
	}

	log.Info("dispatcher started", "workers", maxWorkers, "queueSize", queueSize)
	return d
}

// Submit enqueues a Request frame. A duplicate id (one already in flight or
// queued) is answered immediately with 409 and the original is left
// untouched. Returns false if the dispatcher has stopped accepting work.
func (d *Dispatcher) Submit(req tunnel.Frame) bool {
	if !d.accepting.Load() {
		return false
	}

	d.mu.Lock()
	if _, dup := d.inFlight[req.Header.ID]; dup {
		d.mu.Unlock()
		d.sendConflict(req.Header.ID)
		return true
	}
	d.inFlight[req.Header.ID] = struct{}{}
	d.mu.Unlock()

	d.wg.Add(1)
	select {
	case d.queue <- req:
		return true
	default:
		d.wg.Done()
		d.mu.Lock()
		delete(d.inFlight, req.Header.ID)
		d.mu.Unlock()
		log.Warn("dispatcher queue full, request rejected", "id", req.Header.ID)
		return false
	}
}

// StopAccepting prevents new submissions; in-flight and queued work
// continues until Drain.
func (d *Dispatcher) StopAccepting() {
	d.accepting.Store(false)
}

// Drain waits for all in-flight and queued work to finish, bounded by ctx.
func (d *Dispatcher) Drain(ctx context.Context) {
	d.stopOnce.Do(func() { close(d.stopChan) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("dispatcher drained")
	case <-ctx.Done():
		log.Warn("dispatcher drain timed out")
	}
}

func (d *Dispatcher) worker() {
	for {
		select {
		case req, ok := <-d.queue:
			if !ok {
				return
			}
			d.handle(req)
		case <-d.stopChan:
			for {
				select {
				case req, ok := <-d.queue:
					if !ok {
						return
					}
					d.handle(req)
				default:
					return
				}
			}
		}
	}
}

// handle runs one Request frame to completion: gate acquisition, activity
// touch, invocation with a soft deadline, and response delivery.
func (d *Dispatcher) handle(req tunnel.Frame) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		delete(d.inFlight, req.Header.ID)
		d.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Error("dispatcher worker panic", "panic", r, "stack", string(debug.Stack()))
			d.sendResponse(req.Header.ID, 500, nil, []byte(`{"error":"internal error"}`))
		}
	}()

	d.gate.AcquireShared()
	defer d.gate.ReleaseShared()

	d.clock.TouchWithJitter()

	ctx, cancel := context.WithTimeout(d.ctx, RequestDeadline)
	defer cancel()

	query := make(url.Values, len(req.Header.Query))
	for k, v := range req.Header.Query {
		query.Set(k, v)
	}

	resultCh := make(chan tunnel.Frame, 1)
	go func() {
		status, headers, body := d.invoker.Invoke(req.Header.Method, req.Header.Path, query, req.Header.Headers, req.Body)
		resultCh <- buildResponse(req.Header.ID, status, headers, body)
	}()

	select {
	case resp := <-resultCh:
		d.send(resp)
	case <-ctx.Done():
		log.Warn("request exceeded soft deadline", "id", req.Header.ID, "path", req.Header.Path)
		d.sendResponse(req.Header.ID, 504, nil, []byte(`{"error":"request timed out"}`))
	}
}

func buildResponse(id string, status int, headers map[string]string, body []byte) tunnel.Frame {
	return tunnel.Frame{
		Kind: tunnel.KindResponse,
		Header: tunnel.Header{
			ID:      id,
			Status:  status,
			Headers: headers,
		},
		Body: body,
	}
}

func (d *Dispatcher) sendResponse(id string, status int, headers map[string]string, body []byte) {
	d.send(buildResponse(id, status, headers, body))
}

func (d *Dispatcher) sendConflict(id string) {
	d.sendResponse(id, 409, map[string]string{"Content-Type": "application/json"}, []byte(`{"error":"duplicate request id"}`))
}

// send delivers a Response frame to the outbound queue. Backpressure here
// blocks the calling worker, matching the documented "never drop" policy,
// but only while the session is still alive: once d.ctx is cancelled
// nothing is left to read s.out, so send abandons the frame rather than
// leaking the worker goroutine forever.
func (d *Dispatcher) send(frame tunnel.Frame) {
	select {
	case d.out <- frame:
	case <-d.ctx.Done():
	}
}

// SendUnavailable answers a Request frame that slipped in during Draining
// with 503, without going through the worker pool.
func (d *Dispatcher) SendUnavailable(id string) {
	d.sendResponse(id, 503, map[string]string{"Content-Type": "application/json"}, []byte(`{"error":"session draining"}`))
}
