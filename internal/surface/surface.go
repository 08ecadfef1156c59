// Package surface is the local HTTP API: a conventional router bound to
// 127.0.0.1:<port>, reachable both by external HTTP clients and, without
// touching a socket, by the dispatcher through Invoke. Route registration is
// a small table of (method, path-pattern) -> handler consulted identically
// by the network listener and by Invoke, so the two paths can never drift
// in what they accept.
package surface

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/cyberdesk-hq/cyberdriver/internal/capture"
	"github.com/cyberdesk-hq/cyberdriver/internal/inputsynth"
	"github.com/cyberdesk-hq/cyberdriver/internal/logging"
	"github.com/cyberdesk-hq/cyberdriver/internal/shellexec"
)

var log = logging.L("surface")

// Response is what a route handler returns; the dispatcher and the network
// listener both convert this to bytes on the wire.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

func jsonResponse(status int, v any) Response {
	body, err := json.Marshal(v)
	if err != nil {
		return Response{Status: 500, Body: []byte(`{"error":"failed to marshal response"}`)}
	}
	return Response{Status: status, Headers: map[string]string{"Content-Type": "application/json"}, Body: body}
}

func errorResponse(status int, format string, args ...any) Response {
	return jsonResponse(status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

// handlerFunc is a route handler operating purely on the in-process request
// shape; it never sees whether the caller arrived over the network or via
// Invoke.
type handlerFunc func(req request) Response

type request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    []byte
}

type route struct {
	method  string
	prefix  string // path, or a prefix when wildcard is true
	wildcard bool
	handler handlerFunc
}

// Server is the local HTTP surface.
type Server struct {
	version      string
	fingerprint  string
	routes       []route
	device       *inputsynth.Device
	capturer     capture.Capturer
	shell        *shellexec.Runner
	shellEnabled bool
}

// Options configures a Server at construction time.
type Options struct {
	Version      string
	Fingerprint  string
	ShellEnabled bool
}

// New builds a Server with every endpoint registered.
func New(opts Options) *Server {
	s := &Server{
		version:      opts.Version,
		fingerprint:  opts.Fingerprint,
		device:       inputsynth.NewDevice(),
		capturer:     capture.New(),
		shell:        shellexec.NewRunner(),
		shellEnabled: opts.ShellEnabled,
	}
	s.registerRoutes()
	return s
}

func (s *Server) register(method, pattern string, h handlerFunc) {
	wildcard := strings.HasSuffix(pattern, "/*")
	prefix := strings.TrimSuffix(pattern, "*")
	s.routes = append(s.routes, route{method: method, prefix: prefix, wildcard: wildcard, handler: h})
}

func (s *Server) registerRoutes() {
	s.register(http.MethodGet, "/computer/display/screenshot", s.handleScreenshot)
	s.register(http.MethodGet, "/computer/display/dimensions", s.handleDimensions)
	s.register(http.MethodPost, "/computer/input/keyboard/type", s.handleKeyboardType)
	s.register(http.MethodPost, "/computer/input/keyboard/key", s.handleKeyboardKey)
	s.register(http.MethodGet, "/computer/input/mouse/position", s.handleMousePosition)
	s.register(http.MethodPost, "/computer/input/mouse/move", s.handleMouseMove)
	s.register(http.MethodPost, "/computer/input/mouse/click", s.handleMouseClick)
	s.register(http.MethodGet, "/computer/session", s.handleSession)
	s.register(http.MethodPost, "/computer/shell/exec", s.handleShellExec)
	s.register(http.MethodGet, "/computer/file/*", s.handleUnimplementedCapability)
	s.register(http.MethodGet, "/computer/shell/*", s.handleUnimplementedCapability)
	s.register(http.MethodPost, "/computer/file/*", s.handleUnimplementedCapability)
	s.register(http.MethodPost, "/computer/shell/*", s.handleUnimplementedCapability)
	s.register(http.MethodGet, "/healthz", s.handleHealthz)
	s.register(http.MethodPost, "/internal/update", s.handleUpdate)
}

// Device exposes the input-synthesis device backing this surface so the
// keepalive worker can share it rather than opening a second one.
func (s *Server) Device() *inputsynth.Device { return s.device }

// Capabilities reports the capability names this surface actually serves,
// for inclusion in the tunnel Hello frame.
func (s *Server) Capabilities() []string {
	caps := []string{"display", "input"}
	if s.shellEnabled {
		caps = append(caps, "shell")
	}
	return caps
}

// Invoke is the in-process entrypoint the dispatcher calls: it never
// touches a socket, and consults the same route table a network request
// would hit.
func (s *Server) Invoke(method, path string, query url.Values, headers map[string]string, body []byte) (status int, respHeaders map[string]string, respBody []byte) {
	resp := s.dispatch(request{Method: method, Path: path, Query: query, Headers: headers, Body: body})
	return resp.Status, resp.Headers, resp.Body
}

func (s *Server) dispatch(req request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panic", "panic", r, "stack", string(debug.Stack()))
			resp = errorResponse(http.StatusInternalServerError, "internal error")
		}
	}()

	for _, rt := range s.routes {
		if rt.method != req.Method {
			continue
		}
		if rt.wildcard {
			if strings.HasPrefix(req.Path, rt.prefix) {
				return rt.handler(req)
			}
			continue
		}
		if req.Path == rt.prefix {
			return rt.handler(req)
		}
	}
	return errorResponse(http.StatusNotFound, "no route for %s %s", req.Method, req.Path)
}

// ServeHTTP lets Server be used directly as a network listener; it builds a
// request from the incoming *http.Request and writes the Response back.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := readAll(r)
	headers := map[string]string{}
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	resp := s.dispatch(request{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.Query(),
		Headers: headers,
		Body:    body,
	})

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

func readAll(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := r.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}

func queryInt(q url.Values, key string, def int) int {
	v := q.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
