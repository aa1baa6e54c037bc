//go:build !windows

package localconsole

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/viberails/termbroker/internal/session"
)

// watchResize forwards SIGWINCH on fd's controlling terminal to resizer
// until the returned stop function is called.
func (c *Console) watchResize(fd int, resizer ResizeRouter, tm Terminal, sess *session.Session) func() {
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-winch:
				cols, rows, err := term.GetSize(fd)
				if err != nil {
					continue
				}
				if err := resizer.ApplyLocalResize(tm, sess, cols, rows); err != nil {
					c.logger.Warn("applying console resize failed", "session_id", sess.ID, "error", err)
				}
			}
		}
	}()

	return func() {
		signal.Stop(winch)
		close(done)
	}
}
