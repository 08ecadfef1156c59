package surface

import (
	"encoding/json"
	"net/url"
	"testing"
)

func newTestServer() *Server {
	return New(Options{Version: "1.0.0-test", Fingerprint: "fp-test", ShellEnabled: true})
}

func TestInvokeDimensions(t *testing.T) {
	s := newTestServer()
	status, headers, body := s.Invoke("GET", "/computer/display/dimensions", url.Values{}, nil, nil)
	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	if headers["Content-Type"] != "application/json" {
		t.Fatalf("content-type = %q", headers["Content-Type"])
	}
	var dims struct{ Width, Height int }
	if err := json.Unmarshal(body, &dims); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if dims.Width <= 0 || dims.Height <= 0 {
		t.Fatalf("dims = %+v, want positive", dims)
	}
}

func TestInvokeScreenshotReturnsPNG(t *testing.T) {
	s := newTestServer()
	q := url.Values{"width": {"320"}, "height": {"240"}, "mode": {"exact"}}
	status, headers, body := s.Invoke("GET", "/computer/display/screenshot", q, nil, nil)
	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	if headers["Content-Type"] != "image/png" {
		t.Fatalf("content-type = %q, want image/png", headers["Content-Type"])
	}
	if len(body) == 0 {
		t.Fatal("expected non-empty PNG body")
	}
}

func TestInvokeUnknownRouteReturns404(t *testing.T) {
	s := newTestServer()
	status, _, _ := s.Invoke("GET", "/nope", url.Values{}, nil, nil)
	if status != 404 {
		t.Fatalf("status = %d, want 404", status)
	}
}

func TestInvokeFileCapabilityReturns501WhenAbsent(t *testing.T) {
	s := newTestServer()
	status, _, _ := s.Invoke("GET", "/computer/file/list", url.Values{}, nil, nil)
	if status != 501 {
		t.Fatalf("status = %d, want 501", status)
	}
}

func TestInvokeShellExecWhenEnabled(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(map[string]any{"command": "true", "timeoutSeconds": 5})
	status, _, _ := s.Invoke("POST", "/computer/shell/exec", url.Values{}, nil, body)
	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
}

func TestInvokeShellExecDisabledReturns501(t *testing.T) {
	s := New(Options{Version: "1.0.0-test", Fingerprint: "fp-test", ShellEnabled: false})
	body, _ := json.Marshal(map[string]any{"command": "true"})
	status, _, _ := s.Invoke("POST", "/computer/shell/exec", url.Values{}, nil, body)
	if status != 501 {
		t.Fatalf("status = %d, want 501", status)
	}
}

func TestInvokeKeyboardKeyRejectsBadSequence(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(map[string]string{"sequence": ""})
	status, _, _ := s.Invoke("POST", "/computer/input/keyboard/key", url.Values{}, nil, body)
	if status != 400 {
		t.Fatalf("status = %d, want 400", status)
	}
}

func TestInvokeMouseClickReturns204(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(map[string]any{"button": "left", "action": "click"})
	status, _, _ := s.Invoke("POST", "/computer/input/mouse/click", url.Values{}, nil, body)
	if status != 204 {
		t.Fatalf("status = %d, want 204", status)
	}
}

func TestInvokeSessionNoOp(t *testing.T) {
	s := newTestServer()
	status, _, _ := s.Invoke("GET", "/computer/session", url.Values{}, nil, nil)
	if status != 204 {
		t.Fatalf("status = %d, want 204", status)
	}
}

func TestCapabilitiesReflectsShellFlag(t *testing.T) {
	withShell := newTestServer()
	found := false
	for _, c := range withShell.Capabilities() {
		if c == "shell" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected shell capability when ShellEnabled=true")
	}

	without := New(Options{ShellEnabled: false})
	for _, c := range without.Capabilities() {
		if c == "shell" {
			t.Fatal("did not expect shell capability when ShellEnabled=false")
		}
	}
}
