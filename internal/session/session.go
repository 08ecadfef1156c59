// Package session owns a single WebSocket connection end to end: dial,
// handshake, the running reader/writer pair, draining, and close. A Session
// is one-shot — it never retries itself; the caller (internal/supervisor)
// is responsible for creating a new one after Run returns.
package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cyberdesk-hq/cyberdriver/internal/activity"
	"github.com/cyberdesk-hq/cyberdriver/internal/dispatcher"
	"github.com/cyberdesk-hq/cyberdriver/internal/keepalive"
	"github.com/cyberdesk-hq/cyberdriver/internal/logging"
	"github.com/cyberdesk-hq/cyberdriver/internal/tunnel"
)

var log = logging.L("session")

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	pingInterval     = 20 * time.Second
	inboundTimeout   = 45 * time.Second
	drainTimeout     = 5 * time.Second
	outboundQueueLen = 64
)

// State is one of the documented session states.
type State int32

const (
	StateDialing State = iota
	StateHandshaking
	StateRunning
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDialing:
		return "dialing"
	case StateHandshaking:
		return "handshaking"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config is everything a Session needs to dial and handshake.
type Config struct {
	URL          string // e.g. wss://controller.example.com/agent
	Secret       string
	Fingerprint  string
	Version      string
	Capabilities []string
	KeepaliveFor string
	TLSConfig    *tls.Config

	Invoker    dispatcher.Invoker
	Gate       *keepalive.Gate
	Clock      *activity.Clock
	MaxWorkers int
	QueueSize  int
}

// Result is what Run returns once the session reaches Closed.
type Result struct {
	Cause    error
	Rejected bool
	RejectReason string
	Started  time.Time
	Ended    time.Time
}

// Duration reports how long the session stayed up, for the supervisor's
// backoff-reset decision.
func (r Result) Duration() time.Duration { return r.Ended.Sub(r.Started) }

// Session is a one-shot WebSocket tunnel client.
type Session struct {
	cfg   Config
	state atomic.Int32

	conn   *websocket.Conn
	connMu sync.Mutex

	out chan tunnel.Frame
	d   *dispatcher.Dispatcher

	lastInbound atomic.Int64 // UnixNano
}

// New builds a Session ready for Run.
func New(cfg Config) *Session {
	return &Session{
		cfg: cfg,
		out: make(chan tunnel.Frame, outboundQueueLen),
	}
}

// State reports the session's current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Run blocks until the session reaches Closed, driving it through every
// state transition. ctx cancellation forces an immediate Draining → Closed.
func (s *Session) Run(ctx context.Context) Result {
	result := Result{Started: time.Now()}

	s.setState(StateDialing)
	if err := s.dial(); err != nil {
		result.Cause = fmt.Errorf("dial: %w", err)
		s.setState(StateClosed)
		result.Ended = time.Now()
		return result
	}

	s.setState(StateHandshaking)
	welcome, err := s.handshake()
	if err != nil {
		result.Cause = fmt.Errorf("handshake: %w", err)
		s.closeConn()
		s.setState(StateClosed)
		result.Ended = time.Now()
		return result
	}
	if welcome.Rejected {
		result.Rejected = true
		result.RejectReason = welcome.Message
		s.closeConn()
		s.setState(StateClosed)
		result.Ended = time.Now()
		return result
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Dispatcher workers inherit runCtx, so cancelling it (session close, or
	// the readLoop exiting for any reason) cancels every in-flight worker's
	// request context in one stroke rather than letting them run to
	// completion against a socket that is already gone.
	s.d = dispatcher.New(dispatcher.Options{
		Ctx:        runCtx,
		Invoker:    s.cfg.Invoker,
		Gate:       s.cfg.Gate,
		Clock:      s.cfg.Clock,
		Out:        s.out,
		MaxWorkers: s.cfg.MaxWorkers,
		QueueSize:  s.cfg.QueueSize,
	})

	s.setState(StateRunning)
	s.touchInbound()

	readerDone := make(chan struct{})
	var byeReason string
	go func() {
		defer close(readerDone)
		byeReason = s.readLoop(runCtx, cancel)
	}()

	// Closing the socket is the only way to unblock a goroutine parked in
	// ReadMessage, so an externally cancelled ctx must force it directly.
	go func() {
		<-runCtx.Done()
		s.closeConn()
	}()

	s.writeLoop(runCtx)
	<-readerDone

	s.setState(StateDraining)
	s.drain()

	s.setState(StateClosed)
	s.closeConn()
	result.Ended = time.Now()
	if byeReason != "" {
		result.Cause = fmt.Errorf("session closed: %s", byeReason)
	} else if ctx.Err() != nil {
		result.Cause = ctx.Err()
	}
	return result
}

func (s *Session) dial() error {
	wsURL, err := toWebSocketURL(s.cfg.URL)
	if err != nil {
		return err
	}

	header := map[string][]string{"X-Cyberdriver-Secret": {s.cfg.Secret}}
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		TLSClientConfig:  s.cfg.TLSConfig,
	}

	conn, _, err := dialer.Dial(wsURL, header)
	if err != nil {
		return err
	}
	conn.SetReadLimit(int64(tunnel.MaxFrameBodyBytes) + 4096)

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	log.Info("dialed", "url", wsURL)
	return nil
}

func toWebSocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	if !strings.HasSuffix(u.Path, "/agent") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/agent"
	}
	return u.String(), nil
}

func (s *Session) handshake() (tunnel.Header, error) {
	hello := tunnel.Frame{
		Kind: tunnel.KindHello,
		Header: tunnel.Header{
			Fingerprint:  s.cfg.Fingerprint,
			Version:      s.cfg.Version,
			Capabilities: s.cfg.Capabilities,
			KeepaliveFor: s.cfg.KeepaliveFor,
		},
	}
	if err := s.writeFrame(hello); err != nil {
		return tunnel.Header{}, err
	}

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return tunnel.Header{}, err
	}
	frame, err := tunnel.Decode(raw)
	if err != nil {
		return tunnel.Header{}, err
	}
	if frame.Kind != tunnel.KindWelcome {
		return tunnel.Header{}, fmt.Errorf("expected welcome, got %s", frame.Kind)
	}
	return frame.Header, nil
}

// readLoop decodes inbound frames until the socket fails or a Bye arrives;
// it returns the Bye reason, or "" on a transport failure.
func (s *Session) readLoop(ctx context.Context, cancel context.CancelFunc) string {
	defer cancel()

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()

	watchdog := time.AfterFunc(inboundTimeout, func() {
		log.Warn("no inbound frame within timeout, closing")
		conn.Close()
	})
	defer watchdog.Stop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("read error", "error", err)
			}
			return ""
		}
		watchdog.Reset(inboundTimeout)
		s.touchInbound()

		frame, err := tunnel.Decode(raw)
		if err != nil {
			log.Warn("protocol fault", "error", err)
			s.sendBye("protocol_error", err.Error())
			return "protocol_error"
		}

		switch frame.Kind {
		case tunnel.KindRequest:
			if s.State() == StateDraining {
				s.d.SendUnavailable(frame.Header.ID)
				continue
			}
			if !s.d.Submit(frame) {
				s.d.SendUnavailable(frame.Header.ID)
			}
		case tunnel.KindPing:
			s.send(tunnel.Frame{Kind: tunnel.KindPong, Header: tunnel.Header{Nonce: frame.Header.Nonce}})
		case tunnel.KindPong:
			// inbound touch above already refreshed the deadline
		case tunnel.KindBye:
			return frame.Header.ReasonCode
		default:
			log.Warn("unexpected frame kind in running state", "kind", frame.Kind.String())
		}
	}
}

// writeLoop is the single owner of the socket's send side: it drains s.out
// and emits periodic pings when nothing else has gone out recently.
func (s *Session) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	lastSent := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-s.out:
			if !ok {
				return
			}
			if err := s.writeFrame(frame); err != nil {
				log.Warn("write error", "error", err)
				return
			}
			lastSent = time.Now()
		case now := <-ticker.C:
			if now.Sub(lastSent) < pingInterval {
				continue
			}
			if err := s.writeFrame(tunnel.Frame{Kind: tunnel.KindPing, Header: tunnel.Header{Nonce: rand.Int63()}}); err != nil {
				log.Warn("ping write error", "error", err)
				return
			}
			lastSent = time.Now()
		}
	}
}

// send enqueues a frame from any goroutine; full queues block, never drop.
func (s *Session) send(frame tunnel.Frame) { s.out <- frame }

func (s *Session) sendBye(reasonCode, message string) {
	_ = s.writeFrame(tunnel.Frame{Kind: tunnel.KindBye, Header: tunnel.Header{ReasonCode: reasonCode, Message: message}})
}

func (s *Session) writeFrame(frame tunnel.Frame) error {
	encoded, err := tunnel.Encode(frame)
	if err != nil {
		return err
	}

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("session: no connection")
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.BinaryMessage, encoded)
}

// drain stops accepting new requests and waits briefly for in-flight work.
func (s *Session) drain() {
	if s.d == nil {
		return
	}
	s.d.StopAccepting()
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	s.d.Drain(ctx)
}

func (s *Session) closeConn() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return
	}
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	_ = s.conn.Close()
	s.conn = nil
}

// touchInbound only records the last-inbound instant; the watchdog deadline
// is reset separately in readLoop. The shared activity
// clock is touched exclusively by the dispatcher on actual Request frames
// (dispatcher.go's handle), so heartbeat Ping/Pong traffic here never masks
// real idleness from the keepalive worker.
func (s *Session) touchInbound() {
	s.lastInbound.Store(time.Now().UnixNano())
}
