package speech

import "audiobridge/transcriber"

// segmentTracker filters engine updates so the host sees, per utterance, zero
// or more distinct partials followed by at most one final.
type segmentTracker struct {
	open        bool // a partial has been delivered for the current segment
	lastPartial string
	segments    int
}

func (t *segmentTracker) accept(u transcriber.Update) bool {
	if u.IsFinal {
		if !t.open && u.Text == "" {
			return false
		}
		t.open = false
		t.lastPartial = ""
		t.segments++
		return true
	}
	if u.Text == "" || (t.open && u.Text == t.lastPartial) {
		return false
	}
	t.open = true
	t.lastPartial = u.Text
	return true
}
