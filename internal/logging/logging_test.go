package logging

import "testing"

func TestNew(t *testing.T) {
	l, err := New("warn", "json")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if l.Core().Enabled(-1) {
		t.Fatalf("debug should be disabled at warn")
	}
	if _, err := New("loud", "json"); err == nil {
		t.Fatalf("bad level should fail")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Fatalf("bad format should fail")
	}
}
