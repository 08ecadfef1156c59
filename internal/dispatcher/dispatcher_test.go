package dispatcher

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/cyberdesk-hq/cyberdriver/internal/activity"
	"github.com/cyberdesk-hq/cyberdriver/internal/keepalive"
	"github.com/cyberdesk-hq/cyberdriver/internal/tunnel"
)

type fakeInvoker struct {
	statusFor func(path string) int
	delay     time.Duration
}

func (f *fakeInvoker) Invoke(method, path string, query url.Values, headers map[string]string, body []byte) (int, map[string]string, []byte) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	status := 200
	if f.statusFor != nil {
		status = f.statusFor(path)
	}
	return status, map[string]string{"Content-Type": "application/json"}, []byte(`{}`)
}

func newTestDispatcher(inv Invoker, out chan tunnel.Frame) *Dispatcher {
	return New(Options{
		Invoker:    inv,
		Gate:       &keepalive.Gate{},
		Clock:      activity.New(),
		Out:        out,
		MaxWorkers: 2,
		QueueSize:  10,
	})
}

func TestSubmitDeliversResponseWithMatchingID(t *testing.T) {
	out := make(chan tunnel.Frame, 10)
	d := newTestDispatcher(&fakeInvoker{}, out)

	ok := d.Submit(tunnel.Frame{Kind: tunnel.KindRequest, Header: tunnel.Header{ID: "req-1", Method: "GET", Path: "/healthz"}})
	if !ok {
		t.Fatal("Submit returned false")
	}

	select {
	case resp := <-out:
		if resp.Header.ID != "req-1" {
			t.Fatalf("response id = %q, want req-1", resp.Header.ID)
		}
		if resp.Header.Status != 200 {
			t.Fatalf("status = %d, want 200", resp.Header.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}

	d.StopAccepting()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d.Drain(ctx)
}

func TestSubmitDuplicateIDReturns409(t *testing.T) {
	out := make(chan tunnel.Frame, 10)
	d := newTestDispatcher(&fakeInvoker{delay: 200 * time.Millisecond}, out)

	d.Submit(tunnel.Frame{Kind: tunnel.KindRequest, Header: tunnel.Header{ID: "dup", Method: "GET", Path: "/healthz"}})
	time.Sleep(20 * time.Millisecond) // let the first request claim the id
	d.Submit(tunnel.Frame{Kind: tunnel.KindRequest, Header: tunnel.Header{ID: "dup", Method: "GET", Path: "/healthz"}})

	first := <-out
	second := <-out

	var conflict, ok tunnel.Frame
	if first.Header.Status == 409 {
		conflict, ok = first, second
	} else {
		conflict, ok = second, first
	}
	if conflict.Header.Status != 409 {
		t.Fatalf("expected one 409 response, got statuses %d and %d", first.Header.Status, second.Header.Status)
	}
	if ok.Header.Status != 200 {
		t.Fatalf("expected the original request to still succeed, got %d", ok.Header.Status)
	}

	d.StopAccepting()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d.Drain(ctx)
}

func TestSubmitAfterStopAcceptingReturnsFalse(t *testing.T) {
	out := make(chan tunnel.Frame, 10)
	d := newTestDispatcher(&fakeInvoker{}, out)
	d.StopAccepting()

	if d.Submit(tunnel.Frame{Kind: tunnel.KindRequest, Header: tunnel.Header{ID: "late"}}) {
		t.Fatal("Submit after StopAccepting should return false")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d.Drain(ctx)
}

func TestDrainRespectsContextDeadline(t *testing.T) {
	out := make(chan tunnel.Frame, 10)
	d := newTestDispatcher(&fakeInvoker{delay: 5 * time.Second}, out)
	d.Submit(tunnel.Frame{Kind: tunnel.KindRequest, Header: tunnel.Header{ID: "slow"}})

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	d.StopAccepting()
	d.Drain(ctx)
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Fatalf("Drain should have timed out quickly, took %v", elapsed)
	}
}

func TestCtxCancelAbortsInFlightWorkerPromptly(t *testing.T) {
	out := make(chan tunnel.Frame, 10)
	ctx, cancel := context.WithCancel(context.Background())
	d := New(Options{
		Ctx:        ctx,
		Invoker:    &fakeInvoker{delay: 5 * time.Second},
		Gate:       &keepalive.Gate{},
		Clock:      activity.New(),
		Out:        out,
		MaxWorkers: 2,
		QueueSize:  10,
	})

	d.Submit(tunnel.Frame{Kind: tunnel.KindRequest, Header: tunnel.Header{ID: "long"}})

	start := time.Now()
	cancel()
	d.StopAccepting()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Second)
	defer drainCancel()
	d.Drain(drainCtx)
	elapsed := time.Since(start)

	if elapsed > 500*time.Millisecond {
		t.Fatalf("worker did not abort promptly after Ctx cancellation, took %v", elapsed)
	}
}

func TestSendAbandonsFrameOnceCtxCancelled(t *testing.T) {
	out := make(chan tunnel.Frame) // unbuffered and never read, so a blocking send would hang forever
	ctx, cancel := context.WithCancel(context.Background())
	d := New(Options{
		Ctx:        ctx,
		Invoker:    &fakeInvoker{},
		Gate:       &keepalive.Gate{},
		Clock:      activity.New(),
		Out:        out,
		MaxWorkers: 1,
		QueueSize:  1,
	})

	cancel()
	done := make(chan struct{})
	go func() {
		d.send(tunnel.Frame{Kind: tunnel.KindResponse, Header: tunnel.Header{ID: "x"}})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("send blocked forever after ctx was cancelled with no reader on out")
	}
}

func TestGateExcludesKeepaliveFromConcurrentRequest(t *testing.T) {
	out := make(chan tunnel.Frame, 10)
	gate := &keepalive.Gate{}
	d := New(Options{
		Invoker:    &fakeInvoker{delay: 50 * time.Millisecond},
		Gate:       gate,
		Clock:      activity.New(),
		Out:        out,
		MaxWorkers: 2,
		QueueSize:  10,
	})

	gate.AcquireExclusive()
	released := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		gate.ReleaseExclusive()
		close(released)
	}()

	start := time.Now()
	d.Submit(tunnel.Frame{Kind: tunnel.KindRequest, Header: tunnel.Header{ID: "blocked"}})
	<-out
	if time.Since(start) < 40*time.Millisecond {
		t.Fatal("request should have waited for the exclusive gate holder")
	}
	<-released

	d.StopAccepting()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d.Drain(ctx)
}
