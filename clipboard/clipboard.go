// Package clipboard puts transcripts on the system clipboard.
package clipboard

import (
	"errors"
	"strings"

	cb "github.com/atotto/clipboard"
)

var ErrEmpty = errors.New("nothing to copy")

func Read() (string, error) {
	return cb.ReadAll()
}

// Copy writes text with surrounding whitespace removed. Empty text leaves the
// clipboard untouched.
func Copy(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmpty
	}
	return cb.WriteAll(text)
}
