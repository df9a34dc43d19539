package main

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"audiobridge/lifecycle"
)

func TestWrapText(t *testing.T) {
	tests := []struct {
		text  string
		width int
		want  []string
	}{
		{"", 10, []string{""}},
		{"short", 10, []string{"short"}},
		{"hello big world", 9, []string{"hello big", "world"}},
		{"abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"日本語のテキスト", 3, []string{"日本語", "のテキ", "スト"}},
	}
	for _, tt := range tests {
		got := wrapText(tt.text, tt.width)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("wrapText(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
		}
	}
}

func TestRenderMeter(t *testing.T) {
	if got := renderMeter(0, 10); got != strings.Repeat("░", 10) {
		t.Errorf("silent meter = %q", got)
	}
	if got := renderMeter(1, 10); got != strings.Repeat("█", 10) {
		t.Errorf("full meter = %q", got)
	}
	if renderMeter(0.5, 0) != "" {
		t.Error("zero width meter not empty")
	}
}

func TestTail(t *testing.T) {
	lines := []string{"a", "b", "c"}
	if got := tail(lines, 2); strings.Join(got, "") != "bc" {
		t.Errorf("tail 2 = %q", got)
	}
	if got := tail(lines, 5); len(got) != 3 {
		t.Errorf("tail 5 = %q", got)
	}
	if tail(lines, 0) != nil {
		t.Error("tail 0 not nil")
	}
}

func update(m tuiModel, msg tea.Msg) (tuiModel, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(tuiModel), cmd
}

func TestTUIUpdate(t *testing.T) {
	toggled, cleared := false, false
	m := tuiModel{actions: tuiActions{
		Toggle: func() { toggled = true },
		Clear:  func() { cleared = true },
	}}

	m, _ = update(m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m, _ = update(m, StatusMsg{Capture: lifecycle.Active, Speech: lifecycle.Active})
	m, _ = update(m, TranscriptMsg{Full: "first line", Latest: "sec"})
	m, _ = update(m, AudioLevelMsg{Level: 0.2})
	if m.audioLevel == 0 {
		t.Error("level ignored while active")
	}

	view := m.View()
	for _, want := range []string{"LIVE", "first line", "sec"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	m, cmd := update(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	if cmd == nil {
		t.Fatal("s returned no command")
	}
	cmd()
	if !toggled {
		t.Error("toggle not called")
	}

	m, cmd = update(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	if m.full != "" || m.latest != "" {
		t.Error("x kept the transcript")
	}
	if cmd == nil {
		t.Fatal("x returned no command")
	}
	cmd()
	if !cleared {
		t.Error("clear not called")
	}

	m, _ = update(m, StatusMsg{Capture: lifecycle.Idle, Speech: lifecycle.Idle})
	if !strings.Contains(m.View(), "STANDBY") {
		t.Error("idle view not in standby")
	}
}
