package surface

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cyberdesk-hq/cyberdriver/internal/capture"
)

func (s *Server) handleScreenshot(req request) Response {
	width := queryInt(req.Query, "width", 1024)
	height := queryInt(req.Query, "height", 768)
	mode := capture.Mode(req.Query.Get("mode"))
	if mode == "" {
		mode = capture.ModeAspectFit
	}

	png, _, _, err := s.capturer.Capture(width, height, mode)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "screenshot: %v", err)
	}
	return Response{Status: http.StatusOK, Headers: map[string]string{"Content-Type": "image/png"}, Body: png}
}

func (s *Server) handleDimensions(req request) Response {
	w, h := s.capturer.Dimensions()
	return jsonResponse(http.StatusOK, map[string]int{"width": w, "height": h})
}

func (s *Server) handleKeyboardType(req request) Response {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return errorResponse(http.StatusBadRequest, "invalid body: %v", err)
	}
	if err := s.device.TypeText(body.Text); err != nil {
		return errorResponse(http.StatusInternalServerError, "type: %v", err)
	}
	return Response{Status: http.StatusNoContent}
}

func (s *Server) handleKeyboardKey(req request) Response {
	var body struct {
		Sequence string `json:"sequence"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return errorResponse(http.StatusBadRequest, "invalid body: %v", err)
	}
	if err := s.device.KeySequence(body.Sequence); err != nil {
		return errorResponse(http.StatusBadRequest, "key sequence: %v", err)
	}
	return Response{Status: http.StatusNoContent}
}

func (s *Server) handleMousePosition(req request) Response {
	x, y := s.device.Position()
	return jsonResponse(http.StatusOK, map[string]int{"x": x, "y": y})
}

func (s *Server) handleMouseMove(req request) Response {
	var body struct {
		X      int   `json:"x"`
		Y      int   `json:"y"`
		Smooth *bool `json:"smooth"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return errorResponse(http.StatusBadRequest, "invalid body: %v", err)
	}
	smooth := true
	if body.Smooth != nil {
		smooth = *body.Smooth
	}
	if err := s.device.MoveTo(body.X, body.Y, smooth); err != nil {
		return errorResponse(http.StatusInternalServerError, "move: %v", err)
	}
	return Response{Status: http.StatusNoContent}
}

func (s *Server) handleMouseClick(req request) Response {
	var body struct {
		Button string `json:"button"`
		Action string `json:"action"`
		X      *int   `json:"x"`
		Y      *int   `json:"y"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return errorResponse(http.StatusBadRequest, "invalid body: %v", err)
	}
	if body.Action == "" {
		body.Action = "click"
	}
	if err := s.device.Click(body.Button, body.Action, body.X, body.Y); err != nil {
		return errorResponse(http.StatusBadRequest, "click: %v", err)
	}
	return Response{Status: http.StatusNoContent}
}

// handleSession is a documented no-op kept for API compatibility; it is
// entirely stateless.
func (s *Server) handleSession(req request) Response {
	return Response{Status: http.StatusNoContent}
}

func (s *Server) handleShellExec(req request) Response {
	if !s.shellEnabled {
		return errorResponse(http.StatusNotImplemented, "shell capability not enabled")
	}

	var body struct {
		Command        string `json:"command"`
		TimeoutSeconds int    `json:"timeoutSeconds"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return errorResponse(http.StatusBadRequest, "invalid body: %v", err)
	}
	if body.Command == "" {
		return errorResponse(http.StatusBadRequest, "missing required field: command")
	}
	timeout := 30 * time.Second
	if body.TimeoutSeconds > 0 {
		timeout = time.Duration(body.TimeoutSeconds) * time.Second
	}

	result, err := s.shell.Run(context.Background(), body.Command, timeout)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "shell exec: %v", err)
	}
	return jsonResponse(http.StatusOK, result)
}

func (s *Server) handleUnimplementedCapability(req request) Response {
	return errorResponse(http.StatusNotImplemented, "capability not present for %s", req.Path)
}

func (s *Server) handleHealthz(req request) Response {
	return jsonResponse(http.StatusOK, map[string]string{
		"status":      "ok",
		"version":     s.version,
		"fingerprint": s.fingerprint,
	})
}

func (s *Server) handleUpdate(req request) Response {
	var body struct {
		Version string `json:"version"`
		Restart bool   `json:"restart"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return errorResponse(http.StatusBadRequest, "invalid body: %v", err)
	}
	// Staged binary replace is not implemented; accept the request and
	// report it queued.
	return jsonResponse(http.StatusAccepted, map[string]string{"status": "queued", "version": body.Version})
}
