package permission

import (
	"errors"
	"testing"
	"time"
)

func TestChecker(t *testing.T) {
	ok := func() error { return nil }
	denied := func() error { return errors.New("no server") }
	panics := func() error { panic("driver crashed") }
	slow := func() error { time.Sleep(200 * time.Millisecond); return nil }

	for _, tt := range []struct {
		name  string
		probe Probe
		want  bool
	}{
		{"granted", ok, true},
		{"denied", denied, false},
		{"panic", panics, false},
		{"timeout", slow, false},
		{"nil", nil, false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(tt.probe, tt.probe, 50*time.Millisecond)
			if got := c.Audio(); got != tt.want {
				t.Errorf("Audio() = %v, want %v", got, tt.want)
			}
			if got := c.Speech(); got != tt.want {
				t.Errorf("Speech() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatic(t *testing.T) {
	g := Static(true, false)
	if !g.Audio() || g.Speech() {
		t.Errorf("Static(true, false) = (%v, %v)", g.Audio(), g.Speech())
	}
}
