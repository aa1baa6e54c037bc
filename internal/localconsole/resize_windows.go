//go:build windows

package localconsole

import "github.com/viberails/termbroker/internal/session"

// watchResize is a no-op on Windows: there is no SIGWINCH equivalent
// wired here, so the console simply keeps the PTY's initial dimensions.
func (c *Console) watchResize(fd int, resizer ResizeRouter, tm Terminal, sess *session.Session) func() {
	return func() {}
}
