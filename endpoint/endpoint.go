// Package endpoint implements the two rendezvous kernel objects reachable
// over the IPC ring: Endpoint (synchronous/asynchronous message passing)
// and Notification (sticky bitmask signaling).
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on original_source/kernel/src/ipc/endpoint.rs and
// original_source/kernel/src/ipc/notification.rs. The message queue and
// blocked-receiver list share one mutex (lock hierarchy level 3, "Object",
// per original_source/kernel/src/sync.rs) because the two lists are
// mutually exclusive by invariant: a queued message satisfies the oldest
// blocked receiver on arrival, so the two never hold entries at once.
package endpoint

import (
	"container/list"
	"errors"
	"sync"

	"github.com/Daemoniorum-LLC/nyx-os-sub003/capability"
)

// ErrWouldBlock is returned by non-blocking receive/wait attempts
// (SqFlags.NOWAIT) when no message/signal is immediately available.
var ErrWouldBlock = errors.New("endpoint: would block")

// Message is a fixed-size IPC payload: a user-data tag, inline data words,
// and an optional attached capability transferred to the receiver's
// CSpace (§4.2's "capabilities may travel as message attachments").
type Message struct {
	Tag        uint64
	Data       [4]uint64
	Cap        capability.Token
	HasCap     bool
	SenderPID  uint32
}

// receiver is a parked continuation waiting for a message: a channel of
// capacity 1, delivered to exactly once. Modeling suspension as a
// heap-allocated continuation parked on a wait list, not a
// goroutine-per-blocked-op, per spec §5's suspension model — the blocked
// caller's goroutine still exists (blocking on the channel), but the
// kernel-side bookkeeping is a plain list entry, not a spawned worker.
type receiver struct {
	deliver chan Message
}

// Endpoint queues messages for delivery; if a receiver is already
// waiting when Send is called, the message bypasses the queue and is
// delivered directly. The invariant messages.Len()==0 || waiters.Len()==0
// holds at all times under mu.
type Endpoint struct {
	mu       sync.Mutex
	messages *list.List // of Message
	waiters  *list.List // of *receiver
}

// New creates an empty Endpoint.
func New() *Endpoint {
	return &Endpoint{messages: list.New(), waiters: list.New()}
}

// Send enqueues msg, or hands it directly to the oldest blocked receiver
// if one exists. Send never blocks: an Endpoint has no send-side
// backpressure in this model (§4.2 Non-goal: no bounded mailbox).
func (e *Endpoint) Send(msg Message) {
	e.mu.Lock()
	if front := e.waiters.Front(); front != nil {
		e.waiters.Remove(front)
		r := front.Value.(*receiver)
		e.mu.Unlock()
		r.deliver <- msg
		return
	}
	e.messages.PushBack(msg)
	e.mu.Unlock()
}

// Receive takes the oldest queued message, or blocks until one arrives.
// If nowait is true and no message is queued, it returns ErrWouldBlock
// immediately instead of parking a continuation.
func (e *Endpoint) Receive(nowait bool) (Message, error) {
	e.mu.Lock()
	if front := e.messages.Front(); front != nil {
		e.messages.Remove(front)
		msg := front.Value.(Message)
		e.mu.Unlock()
		return msg, nil
	}
	if nowait {
		e.mu.Unlock()
		return Message{}, ErrWouldBlock
	}
	r := &receiver{deliver: make(chan Message, 1)}
	el := e.waiters.PushBack(r)
	e.mu.Unlock()
	msg, ok := <-r.deliver
	if !ok {
		e.mu.Lock()
		e.waiters.Remove(el)
		e.mu.Unlock()
		return Message{}, ErrWouldBlock
	}
	return msg, nil
}

// Call sends msg to the Endpoint and blocks for exactly one reply on
// replyTo, per §4.2's Call/Reply pairing. The caller supplies replyTo;
// kernel.handleCall resolves it from the SQE's parameters, and nothing
// allocates a fresh reply Endpoint per call, so two concurrent Calls that
// name the same reply Endpoint can receive each other's replies.
func (e *Endpoint) Call(msg Message, replyTo *Endpoint) (Message, error) {
	e.Send(msg)
	return replyTo.Receive(false)
}

// Reply sends msg as the single reply to a pending Call, via the reply
// Endpoint the caller supplied.
func (e *Endpoint) Reply(msg Message) {
	e.Send(msg)
}

// PendingMessages reports the number of queued, undelivered messages.
func (e *Endpoint) PendingMessages() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.messages.Len()
}

// BlockedReceivers reports the number of continuations parked on Receive.
func (e *Endpoint) BlockedReceivers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.waiters.Len()
}
