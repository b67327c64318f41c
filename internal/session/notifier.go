package session

import (
	"sync"
	"time"
)

// notifier emits at most one "lost connection" notice per disconnection
// episode. A notice stays outstanding for the display window, or until the
// episode is resolved, whichever comes first. The window is held by its own
// goroutine so the reconnect loop never waits on it.
type notifier struct {
	window time.Duration
	emit   func()

	mu       sync.Mutex
	notified bool          // a notice was emitted in the current episode
	cancel   chan struct{} // non-nil while a notice is outstanding
	wg       sync.WaitGroup
}

func newNotifier(window time.Duration, emit func()) *notifier {
	return &notifier{window: window, emit: emit}
}

// Raise reports a disconnection (or a failed retry within one). Only the first
// call of an episode emits; it returns whether it did.
func (n *notifier) Raise() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.notified {
		return false
	}
	n.notified = true
	n.emit()

	done := make(chan struct{})
	n.cancel = done
	n.wg.Add(1)
	go n.hold(done)
	return true
}

// hold keeps the notice outstanding until the window elapses or it is cancelled.
func (n *notifier) hold(done chan struct{}) {
	defer n.wg.Done()

	timer := time.NewTimer(n.window)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-done:
		return
	}

	n.mu.Lock()
	if n.cancel == done {
		n.cancel = nil
	}
	n.mu.Unlock()
}

// Resolve ends the current episode, cancelling an outstanding notice. It
// returns whether the episode emitted a notice.
func (n *notifier) Resolve() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	notified := n.notified
	n.notified = false
	if n.cancel != nil {
		close(n.cancel)
		n.cancel = nil
	}
	return notified
}

// Outstanding reports whether a notice is still inside its display window.
func (n *notifier) Outstanding() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cancel != nil
}

// wait blocks until every window goroutine has exited.
func (n *notifier) wait() {
	n.wg.Wait()
}
