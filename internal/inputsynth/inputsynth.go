// Package inputsynth is the capability collaborator behind
// /computer/input/*: mouse movement/clicks and keyboard typing/key-sequence
// synthesis. The concrete OS-level input backend is left unimplemented here;
// this package synthesizes and logs the events through a single
// process-globally-serialized Device rather than touching OS input APIs.
// Serialization of input events is owned entirely by this package,
// independent of the keepalive gate.
package inputsynth

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cyberdesk-hq/cyberdriver/internal/logging"
)

var log = logging.L("inputsynth")

// Device serializes every synthesized input event process-globally via a
// mutex owned by this package, so concurrent callers never interleave
// partial gestures.
type Device struct {
	mu  sync.Mutex
	pos struct{ x, y int }
}

// NewDevice returns a Device with the pointer initialized at the origin.
func NewDevice() *Device {
	return &Device{}
}

// Position returns the last known synthesized pointer position.
func (d *Device) Position() (x, y int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pos.x, d.pos.y
}

// MoveTo moves the pointer to (x, y). When smooth, it interpolates in 20
// steps with ~5ms spacing.
func (d *Device) MoveTo(x, y int, smooth bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !smooth {
		d.pos.x, d.pos.y = x, y
		log.Debug("mouse move", "x", x, "y", y, "smooth", false)
		return nil
	}

	const steps = 20
	startX, startY := d.pos.x, d.pos.y
	for i := 1; i <= steps; i++ {
		frac := float64(i) / float64(steps)
		d.pos.x = startX + int(float64(x-startX)*frac)
		d.pos.y = startY + int(float64(y-startY)*frac)
		time.Sleep(5 * time.Millisecond)
	}
	d.pos.x, d.pos.y = x, y
	log.Debug("mouse move", "x", x, "y", y, "smooth", true)
	return nil
}

// Click synthesizes a mouse button action at the current (or given) position.
func (d *Device) Click(button, action string, x, y *int) error {
	d.mu.Lock()
	if x != nil && y != nil {
		d.pos.x, d.pos.y = *x, *y
	}
	px, py := d.pos.x, d.pos.y
	d.mu.Unlock()

	switch button {
	case "left", "right", "middle":
	default:
		return fmt.Errorf("inputsynth: unknown button %q", button)
	}
	switch action {
	case "click", "down", "up", "":
	default:
		return fmt.Errorf("inputsynth: unknown click action %q", action)
	}

	log.Debug("mouse click", "button", button, "action", action, "x", px, "y", py)
	return nil
}

// TypeText synthesizes keypresses for each rune in text, in order.
func (d *Device) TypeText(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range text {
		if err := d.pressLiteral(string(r)); err != nil {
			return fmt.Errorf("inputsynth: type %q: %w", string(r), err)
		}
	}
	return nil
}

// KeySequence synthesizes the XDO-style chord sequence: whitespace-separated
// chords, each a '+'-joined set of tokens (modifiers and/or a literal key).
func (d *Device) KeySequence(sequence string) error {
	chords := strings.Fields(sequence)
	if len(chords) == 0 {
		return fmt.Errorf("inputsynth: empty key sequence")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, chord := range chords {
		if err := d.pressChord(chord); err != nil {
			return err
		}
	}
	return nil
}

var modifierNames = map[string]bool{
	"ctrl": true, "shift": true, "alt": true, "super": true, "meta": true,
}

// pressChord presses every modifier down, presses the literal key down then
// up, then releases modifiers in reverse order — e.g. "ctrl+c" synthesizes
// Ctrl-down, C-down, C-up, Ctrl-up.
func (d *Device) pressChord(chord string) error {
	tokens := strings.Split(chord, "+")
	if len(tokens) == 0 {
		return fmt.Errorf("inputsynth: empty chord")
	}

	var modifiers []string
	var literal string
	for _, tok := range tokens {
		t := strings.ToLower(strings.TrimSpace(tok))
		if t == "" {
			return fmt.Errorf("inputsynth: empty token in chord %q", chord)
		}
		if modifierNames[t] {
			modifiers = append(modifiers, t)
			continue
		}
		if literal != "" {
			return fmt.Errorf("inputsynth: chord %q has more than one literal key", chord)
		}
		literal = t
	}
	if literal == "" {
		return fmt.Errorf("inputsynth: chord %q has no literal key", chord)
	}

	for _, m := range modifiers {
		log.Debug("key down", "key", m)
	}
	if err := d.pressLiteral(literal); err != nil {
		return err
	}
	for i := len(modifiers) - 1; i >= 0; i-- {
		log.Debug("key up", "key", modifiers[i])
	}
	return nil
}

func (d *Device) pressLiteral(key string) error {
	log.Debug("key down", "key", key)
	log.Debug("key up", "key", key)
	return nil
}
