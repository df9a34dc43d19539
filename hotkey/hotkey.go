// Package hotkey watches the global Ctrl+Shift+Space shortcut.
package hotkey

type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}
