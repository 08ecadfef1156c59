// Package tunnel implements the wire codec for the single WebSocket that
// carries every request/response between the cloud controller and this
// agent: one frame per WebSocket message, a kind byte, a JSON header, a
// newline separator, and raw body bytes. Binary bodies travel as raw bytes
// after the header rather than base64-encoded inside it, avoiding the usual
// ~33% encoding overhead for screenshot payloads. There is no HMAC or
// sequence validation on individual frames: the tunnel rides over a
// WebSocket that was already authenticated at dial time (see
// internal/session).
package tunnel

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind identifies the frame variant. Values 1..7 are valid; anything else is
// a protocol fault.
type Kind byte

const (
	KindRequest Kind = iota + 1
	KindResponse
	KindPing
	KindPong
	KindHello
	KindWelcome
	KindBye
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindHello:
		return "hello"
	case KindWelcome:
		return "welcome"
	case KindBye:
		return "bye"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

func (k Kind) valid() bool {
	return k >= KindRequest && k <= KindBye
}

// MaxFrameBodyBytes bounds a single frame's body; it is a package variable
// rather than a constant so a deployment can raise or lower the ceiling.
var MaxFrameBodyBytes = 64 * 1024 * 1024

// Header is the JSON object between the kind byte and the body. Exactly one
// of the per-kind payload fields is populated, making this a tagged union
// over the frame kinds.
type Header struct {
	ID string `json:"id,omitempty"`

	// Request fields.
	Method  string            `json:"method,omitempty"`
	Path    string            `json:"path,omitempty"`
	Query   map[string]string `json:"query,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// Response fields.
	Status int `json:"status,omitempty"`

	// Ping/Pong fields.
	Nonce int64 `json:"nonce,omitempty"`

	// Hello fields.
	Fingerprint  string   `json:"fingerprint,omitempty"`
	Version      string   `json:"version,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	KeepaliveFor string   `json:"keepaliveFor,omitempty"`

	// Welcome fields.
	SessionID  string `json:"sessionId,omitempty"`
	ServerTime string `json:"serverTime,omitempty"`
	Rejected   bool   `json:"rejected,omitempty"`

	// Bye fields.
	ReasonCode string `json:"reasonCode,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Frame is a single decoded tunnel message.
type Frame struct {
	Kind   Kind
	Header Header
	Body   []byte
}

// Encode serializes f as kind-byte + JSON header + '\n' + body, ready to
// hand to a single WebSocket binary message.
func Encode(f Frame) ([]byte, error) {
	if !f.Kind.valid() {
		return nil, fmt.Errorf("tunnel: invalid kind %d", f.Kind)
	}
	if (f.Kind == KindRequest || f.Kind == KindResponse) && f.Header.ID == "" {
		return nil, fmt.Errorf("tunnel: %s frame missing id", f.Kind)
	}
	if len(f.Body) > MaxFrameBodyBytes {
		return nil, fmt.Errorf("tunnel: body %d bytes exceeds cap %d", len(f.Body), MaxFrameBodyBytes)
	}

	headerJSON, err := json.Marshal(f.Header)
	if err != nil {
		return nil, fmt.Errorf("tunnel: marshal header: %w", err)
	}

	buf := make([]byte, 0, 1+len(headerJSON)+1+len(f.Body))
	buf = append(buf, byte(f.Kind))
	buf = append(buf, headerJSON...)
	buf = append(buf, '\n')
	buf = append(buf, f.Body...)
	return buf, nil
}

// Decode parses a single WebSocket message into a Frame. Any violation
// (kind out of range, malformed header JSON, missing id, oversize body) is
// returned as an error; the caller (internal/session) treats this as a
// protocol fault and closes with Bye(protocol_error).
func Decode(raw []byte) (Frame, error) {
	if len(raw) < 1 {
		return Frame{}, fmt.Errorf("tunnel: empty message")
	}

	kind := Kind(raw[0])
	if !kind.valid() {
		return Frame{}, fmt.Errorf("tunnel: invalid kind byte %d", raw[0])
	}

	rest := raw[1:]
	sep := bytes.IndexByte(rest, '\n')
	if sep < 0 {
		return Frame{}, fmt.Errorf("tunnel: no header separator found")
	}

	headerJSON := rest[:sep]
	body := rest[sep+1:]

	if len(body) > MaxFrameBodyBytes {
		return Frame{}, fmt.Errorf("tunnel: body %d bytes exceeds cap %d", len(body), MaxFrameBodyBytes)
	}

	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return Frame{}, fmt.Errorf("tunnel: malformed header: %w", err)
	}

	if (kind == KindRequest || kind == KindResponse) && header.ID == "" {
		return Frame{}, fmt.Errorf("tunnel: %s frame missing id", kind)
	}

	bodyCopy := make([]byte, len(body))
	copy(bodyCopy, body)

	return Frame{Kind: kind, Header: header, Body: bodyCopy}, nil
}
