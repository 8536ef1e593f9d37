// Package events carries the process-wide "about to be interrupted"
// notification as an explicit subscribable channel instead of global state.
// The daemon maps termination signals to it; handlers typically pause the
// pool and persist state before the process goes away.
package events

import (
	"sync"
	"time"
)

// Interruption announces that the process is about to be stopped or migrated.
type Interruption struct {
	Reason string
	At     time.Time
}

type Notifier struct {
	mu          sync.Mutex
	closed      bool
	subscribers []chan Interruption
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe returns a channel that receives every subsequent interruption.
// The channel is buffered so a slow subscriber cannot block Notify.
func (n *Notifier) Subscribe() <-chan Interruption {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan Interruption, 1)
	if n.closed {
		close(ch)
		return ch
	}
	n.subscribers = append(n.subscribers, ch)
	return ch
}

// Notify broadcasts an interruption to all subscribers. A subscriber that has
// not drained its previous notification misses this one.
func (n *Notifier) Notify(reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	event := Interruption{Reason: reason, At: time.Now()}
	for _, ch := range n.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes all subscriber channels. Subsequent Notify calls are no-ops.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for _, ch := range n.subscribers {
		close(ch)
	}
	n.subscribers = nil
}
