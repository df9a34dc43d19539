package main

import "time"

const (
	tickInterval      = 100 * time.Millisecond
	quietWarnAfter    = 8 * time.Second
	audibleMinRatio   = 0.10
	audibleClearRatio = 0.25 // higher threshold to clear warning (hysteresis)
)

type QuietEvent int

const (
	QuietNone     QuietEvent = iota
	AudioQuiet               // nothing audible for quietWarnAfter
	AudioResumed             // audible again after a warning
	AudioIdleStop            // idle-stop window elapsed without audio
)

// quietMonitor watches whether captured system audio carries any signal,
// one tick per tickInterval.
type quietMonitor struct {
	warnAt   int
	stopAt   int // 0 disables idle stop
	windowSz int

	ticks   int
	window  []bool
	audible int
	warned  bool
}

func newQuietMonitor(idleStop time.Duration) *quietMonitor {
	warnAt := int(quietWarnAfter / tickInterval)
	stopAt := 0
	if idleStop > 0 {
		stopAt = max(1, int(idleStop/tickInterval))
	}
	windowSz := max(warnAt, stopAt)
	return &quietMonitor{
		warnAt:   warnAt,
		stopAt:   stopAt,
		windowSz: windowSz,
		window:   make([]bool, windowSz),
	}
}

// ratio of audible ticks among the last n.
func (m *quietMonitor) ratio(n int) float64 {
	if m.ticks < n {
		n = m.ticks
	}
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *quietMonitor) Tick(audible bool) QuietEvent {
	idx := m.ticks % m.windowSz
	if m.ticks >= m.windowSz && m.window[idx] {
		m.audible--
	}
	m.window[idx] = audible
	if audible {
		m.audible++
	}
	m.ticks++

	r := m.ratio(m.warnAt)
	if m.ticks >= m.warnAt && r < audibleMinRatio && !m.warned {
		m.warned = true
		return AudioQuiet
	}
	if m.warned && r >= audibleClearRatio {
		m.warned = false
		return AudioResumed
	}
	if m.stopAt > 0 && m.ticks >= m.stopAt && m.ratio(m.stopAt) < audibleMinRatio {
		return AudioIdleStop
	}
	return QuietNone
}
