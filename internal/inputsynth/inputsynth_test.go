package inputsynth

import "testing"

func TestMoveToUpdatesPosition(t *testing.T) {
	d := NewDevice()
	if err := d.MoveTo(100, 200, false); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	x, y := d.Position()
	if x != 100 || y != 200 {
		t.Fatalf("Position() = (%d,%d), want (100,200)", x, y)
	}
}

func TestClickRejectsUnknownButton(t *testing.T) {
	d := NewDevice()
	if err := d.Click("laser", "click", nil, nil); err == nil {
		t.Fatal("expected error for unknown button")
	}
}

func TestKeySequenceRejectsEmpty(t *testing.T) {
	d := NewDevice()
	if err := d.KeySequence(""); err == nil {
		t.Fatal("expected error for empty sequence")
	}
}

func TestKeySequenceRejectsChordWithoutLiteral(t *testing.T) {
	d := NewDevice()
	if err := d.KeySequence("ctrl+shift"); err == nil {
		t.Fatal("expected error for chord with only modifiers")
	}
}

func TestKeySequenceRejectsTwoLiterals(t *testing.T) {
	d := NewDevice()
	if err := d.KeySequence("a+b"); err == nil {
		t.Fatal("expected error for chord with two literal keys")
	}
}

func TestKeySequenceAcceptsMultiChordSequence(t *testing.T) {
	d := NewDevice()
	if err := d.KeySequence("ctrl+c ctrl+v"); err != nil {
		t.Fatalf("KeySequence(ctrl+c ctrl+v): %v", err)
	}
}

func TestTypeTextAcceptsArbitraryRunes(t *testing.T) {
	d := NewDevice()
	if err := d.TypeText("Hello, world!"); err != nil {
		t.Fatalf("TypeText: %v", err)
	}
}
