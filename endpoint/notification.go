// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package endpoint

import "sync"

// Notification is a sticky bitmask signal: Signal ORs bits into a word
// that Wait observes and clears atomically on read; Poll reads the word
// without clearing it. Unlike Endpoint,
// signaling is idempotent and lossy by design — repeated Signal calls
// with the same bit before a Wait collapse into one observation, per
// original_source/kernel/src/ipc/notification.rs.
type Notification struct {
	mu      sync.Mutex
	word    uint64
	waiters []chan uint64
}

// NewNotification creates an empty (zero-signal) Notification.
func NewNotification() *Notification {
	return &Notification{}
}

// Signal ORs bits into the notification word. If waiters are parked, the
// full accumulated word (existing bits OR'd with bits) is delivered to the
// oldest one, waking exactly one waiter per Signal call; the others stay
// parked, per the Endpoint-style "deliver to oldest" fairness rule.
func (n *Notification) Signal(bits uint64) {
	n.mu.Lock()
	n.word |= bits
	if len(n.waiters) > 0 && n.word != 0 {
		ch := n.waiters[0]
		n.waiters = n.waiters[1:]
		word := n.word
		n.word = 0
		n.mu.Unlock()
		ch <- word
		return
	}
	n.mu.Unlock()
}

// Wait blocks until a non-zero signal word is available, clearing it on
// return. If nowait is true and the word is currently zero, it returns
// ErrWouldBlock instead of parking a continuation.
func (n *Notification) Wait(nowait bool) (uint64, error) {
	n.mu.Lock()
	if n.word != 0 {
		w := n.word
		n.word = 0
		n.mu.Unlock()
		return w, nil
	}
	if nowait {
		n.mu.Unlock()
		return 0, ErrWouldBlock
	}
	ch := make(chan uint64, 1)
	n.waiters = append(n.waiters, ch)
	n.mu.Unlock()
	return <-ch, nil
}

// Poll reports the current signal word without clearing it.
func (n *Notification) Poll() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.word
}
