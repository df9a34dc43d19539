package main

import "audiobridge/lifecycle"

// EventSink abstracts the display layer so both the Bubble Tea TUI and the
// line-oriented headless driver receive the same pipeline events.
type EventSink interface {
	Status(capture, speech lifecycle.State)
	AudioLevel(level float64)
	Transcript(full, latest string)
	Warning(text string) // "" clears the warning
	Error(message string)
	ModeLine(text string)
	DeviceLine(text string)
}
