package main

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"audiobridge/lifecycle"
)

// TUI message types
type StatusMsg struct{ Capture, Speech lifecycle.State }
type AudioLevelMsg struct{ Level float64 }
type TranscriptMsg struct{ Full, Latest string }
type WarningMsg struct{ Text string }
type ErrorMsg struct{ Text string }
type ModeLineMsg struct{ Text string }   // engine / language info
type DeviceLineMsg struct{ Text string } // captured output device
type noticeMsg struct{ Text string }
type tickMsg time.Time

const (
	leftWidth    = 44
	historyLen   = leftWidth - 2
	noticeFrames = 25 // ~1.5s at 60ms ticks
)

var sparkChars = []rune("▁▂▃▄▅▆▇█")

type tuiActions struct {
	Toggle func()
	Copy   func() error
	Clear  func()
}

type tuiModel struct {
	actions tuiActions

	frame         int
	capture       tuiPipeline
	speech        lifecycle.State
	audioLevel    float64
	history       []float64 // recent levels for the sparkline
	width, height int

	modeLine    string
	deviceLine  string
	warning     string
	errText     string
	notice      string
	noticeUntil int

	full   string // confirmed transcript, one final per line
	latest string // hypothesis still being revised
}

type tuiPipeline struct {
	state lifecycle.State
	since time.Time
}

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

var (
	liveStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	meterStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	textStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	partialStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
)

func NewTUIProgram(actions tuiActions) *tea.Program {
	m := tuiModel{actions: actions}
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// tuiSink forwards pipeline events to the running program.
type tuiSink struct{}

func (tuiSink) Status(c, s lifecycle.State)    { tuiSend(StatusMsg{Capture: c, Speech: s}) }
func (tuiSink) AudioLevel(level float64)       { tuiSend(AudioLevelMsg{Level: level}) }
func (tuiSink) Transcript(full, latest string) { tuiSend(TranscriptMsg{Full: full, Latest: latest}) }
func (tuiSink) Warning(text string)            { tuiSend(WarningMsg{Text: text}) }
func (tuiSink) Error(message string)           { tuiSend(ErrorMsg{Text: message}) }
func (tuiSink) ModeLine(text string)           { tuiSend(ModeLineMsg{Text: text}) }
func (tuiSink) DeviceLine(text string)         { tuiSend(DeviceLineMsg{Text: text}) }

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "s":
			m.errText = ""
			if m.actions.Toggle == nil {
				return m, nil
			}
			toggle := m.actions.Toggle
			return m, func() tea.Msg { toggle(); return nil }
		case "c":
			if m.actions.Copy == nil {
				return m, nil
			}
			cp := m.actions.Copy
			return m, func() tea.Msg {
				if err := cp(); err != nil {
					return noticeMsg{Text: "copy failed: " + err.Error()}
				}
				return noticeMsg{Text: "copied"}
			}
		case "x":
			m.full, m.latest = "", ""
			if m.actions.Clear != nil {
				clearFn := m.actions.Clear
				return m, func() tea.Msg { clearFn(); return nil }
			}
		}

	case tickMsg:
		m.frame++
		if m.capture.state != lifecycle.Active {
			m.audioLevel *= 0.6
		}
		m.history = append(m.history, m.audioLevel)
		if len(m.history) > historyLen {
			m.history = m.history[len(m.history)-historyLen:]
		}
		if m.notice != "" && m.frame >= m.noticeUntil {
			m.notice = ""
		}
		return m, tuiTick()

	case StatusMsg:
		if msg.Capture != m.capture.state {
			m.capture = tuiPipeline{state: msg.Capture, since: time.Now()}
		}
		m.speech = msg.Speech

	case AudioLevelMsg:
		if m.capture.state == lifecycle.Active {
			m.audioLevel = m.audioLevel*0.6 + msg.Level*0.4
		}

	case TranscriptMsg:
		m.full = msg.Full
		m.latest = msg.Latest

	case WarningMsg:
		m.warning = msg.Text

	case ErrorMsg:
		m.errText = msg.Text

	case noticeMsg:
		m.notice = msg.Text
		m.noticeUntil = m.frame + noticeFrames

	case ModeLineMsg:
		m.modeLine = msg.Text

	case DeviceLineMsg:
		m.deviceLine = msg.Text
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var left []string
	left = append(left, lipgloss.NewStyle().Bold(true).Render("audiobridge"), "")

	if m.capture.state == lifecycle.Active {
		left = append(left, liveStyle.Render(fmt.Sprintf("● LIVE %.1fs", time.Since(m.capture.since).Seconds())))
	} else {
		left = append(left, idleStyle.Render("○ STANDBY"))
	}
	left = append(left, infoStyle.Render(fmt.Sprintf("audio %-8s speech %s", m.capture.state, m.speech)))
	left = append(left, "")
	left = append(left, meterStyle.Render(renderMeter(m.audioLevel, leftWidth-2)))
	left = append(left, meterStyle.Render(renderSparkline(m.history)))
	left = append(left, "")

	if m.warning != "" {
		left = append(left, warnStyle.Render("⚠ "+m.warning))
	}
	for _, line := range wrapText(m.errText, leftWidth-2) {
		if line != "" {
			left = append(left, errStyle.Render(line))
		}
	}
	if m.modeLine != "" {
		left = append(left, infoStyle.Render(m.modeLine))
	}
	if m.deviceLine != "" {
		left = append(left, idleStyle.Render(m.deviceLine))
	}
	if m.notice != "" {
		left = append(left, okStyle.Render(m.notice))
	}
	left = append(left, "")
	left = append(left,
		keyStyle.Render("s")+helpStyle.Render(" start/stop  ")+
			keyStyle.Render("c")+helpStyle.Render(" copy  ")+
			keyStyle.Render("x")+helpStyle.Render(" clear  ")+
			keyStyle.Render("q")+helpStyle.Render(" quit"))
	left = append(left, helpStyle.Render("audiobridge "+version))

	rightWidth := m.width - leftWidth - 1
	if rightWidth < 20 {
		rightWidth = 20
	}
	wrapWidth := max(10, rightWidth-2)

	var right []string
	if m.full == "" && m.latest == "" {
		right = append(right, idleStyle.Render("No transcript yet"))
	} else {
		right = append(right, infoStyle.Render("Transcript"), "")
		var lines []string
		for _, para := range strings.Split(m.full, "\n") {
			if para == "" {
				continue
			}
			for _, l := range wrapText(para, wrapWidth) {
				lines = append(lines, textStyle.Render(l))
			}
		}
		if m.latest != "" {
			for _, l := range wrapText(m.latest, wrapWidth) {
				lines = append(lines, partialStyle.Render(l))
			}
		}
		right = append(right, tail(lines, m.height-len(right))...)
	}

	leftPanel := lipgloss.NewStyle().
		Width(leftWidth - 1).
		Height(m.height).
		Render(strings.Join(left, "\n"))
	rightPanel := lipgloss.NewStyle().
		Width(rightWidth).
		Height(m.height).
		PaddingLeft(1).
		Render(strings.Join(right, "\n"))

	return lipgloss.JoinHorizontal(lipgloss.Top, leftPanel, rightPanel)
}

// meterScale maps RMS to [0,1]; system audio at normal volume sits near 0.1.
func meterScale(level float64) float64 {
	return math.Min(1, math.Sqrt(math.Max(level, 0))*2.5)
}

func renderMeter(level float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(meterScale(level)*float64(width) + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func renderSparkline(levels []float64) string {
	var b strings.Builder
	for _, l := range levels {
		idx := int(meterScale(l) * float64(len(sparkChars)-1))
		b.WriteRune(sparkChars[idx])
	}
	return b.String()
}

// tail returns the last n lines.
func tail(lines []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if len(lines) > n {
		return lines[len(lines)-n:]
	}
	return lines
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	runes := []rune(text)
	var lines []string
	for len(runes) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if runes[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, string(runes[:splitAt]))
		runes = []rune(strings.TrimLeft(string(runes[splitAt:]), " "))
	}
	if len(runes) > 0 {
		lines = append(lines, string(runes))
	}
	return lines
}
