package poller

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// Session is the handle for one polling run. It ends exactly once: on the
// completed check, on Stop, or when the poller shuts down.
type Session struct {
	AdapterID string

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	stopOnce  sync.Once
	ticks     atomic.Int64
	completed atomic.Bool
}

func newSession(parent context.Context, adapterID string) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		AdapterID: adapterID,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Stop cancels the timer and any in-flight check. No tick fires afterwards.
func (s *Session) Stop() {
	s.stopOnce.Do(s.cancel)
}

// Done is closed once the session goroutine has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Ticks is the number of status checks issued so far.
func (s *Session) Ticks() int64 {
	return s.ticks.Load()
}

// Completed reports whether the session ended on a completed task.
func (s *Session) Completed() bool {
	return s.completed.Load()
}
