// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Ring is the per-process pair of lock-free SQ/CQ queues. Ownership is
// strict and matches spec §4.4.1: the SQ tail and CQ head are written by
// user space, the SQ head and CQ tail are written by the kernel. Index
// writes use release ordering, index reads use acquire ordering — no locks
// guard the indices themselves, and each index is padded onto its own
// cache line.
//
// PushCQ is the one exception: with ASYNC-offloaded completions posted
// from a worker goroutine racing the dispatch loop's own synchronous
// completions, the CQ tail has more than one producer, so its reservation
// is serialized by a mutex rather than left lock-free.

package ipcring

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Errors returned by ring submission/completion operations, per the ring
// error taxonomy of §7(3).
var (
	ErrQueueFull  = errors.New("ipcring: submission queue full")
	ErrQueueEmpty = errors.New("ipcring: queue empty")
)

// Ring-level flags (shared flags word, §4.4.2/§4.4.5).
type RingFlags uint32

const (
	// NeedWakeup signals user space should call Enter to wake the kernel.
	NeedWakeup RingFlags = 1 << iota
	// CQOverflow is sticky: set when a completion was dropped because the
	// CQ was full; user space must drain the CQ and clear it explicitly.
	CQOverflow
)

// submissionQueue is the SQ half of a ring: user-space-owned tail,
// kernel-owned head.
type submissionQueue struct {
	head    atomic.Uint32 // kernel-owned
	_       [60]byte
	tail    atomic.Uint32 // user-space-owned
	_       [60]byte
	mask    uint32
	entries []SQE
}

// completionQueue is the CQ half of a ring: kernel-owned tail, user-space
// owned head.
type completionQueue struct {
	head    atomic.Uint32 // user-space-owned
	_       [60]byte
	tail    atomic.Uint32 // kernel-owned
	_       [60]byte
	mask    uint32
	entries []CQE
}

// Ring pairs a submission queue and completion queue of the given
// power-of-two capacities, plus the shared ring flags word.
type Ring struct {
	sq    submissionQueue
	cq    completionQueue
	cqMu  sync.Mutex // serializes PushCQ's tail reservation across producers
	flags atomic.Uint32
}

func roundPow2(n uint32) uint32 {
	if n < 2 {
		return 2
	}
	if n&(n-1) == 0 {
		return n
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

// NewRing allocates SQ/CQ queues of the given sizes (rounded up to the
// next power of two, per §4.4.1).
func NewRing(sqSize, cqSize uint32) *Ring {
	sqSize = roundPow2(sqSize)
	cqSize = roundPow2(cqSize)
	r := &Ring{}
	r.sq.mask = sqSize - 1
	r.sq.entries = make([]SQE, sqSize)
	r.cq.mask = cqSize - 1
	r.cq.entries = make([]CQE, cqSize)
	return r
}

// SQCapacity returns the submission queue's fixed capacity.
func (r *Ring) SQCapacity() uint32 { return r.sq.mask + 1 }

// CQCapacity returns the completion queue's fixed capacity.
func (r *Ring) CQCapacity() uint32 { return r.cq.mask + 1 }

// SQPending returns the number of submissions not yet drained by the
// kernel. The queue is empty iff head == tail (wrapping arithmetic).
func (r *Ring) SQPending() uint32 {
	head := r.sq.head.Load()
	tail := r.sq.tail.Load()
	return tail - head
}

// CQPending returns the number of completions not yet consumed by user
// space.
func (r *Ring) CQPending() uint32 {
	head := r.cq.head.Load()
	tail := r.cq.tail.Load()
	return tail - head
}

// Flags returns the current shared ring flags word.
func (r *Ring) Flags() RingFlags {
	return RingFlags(r.flags.Load())
}

// SetFlag ORs bits into the shared ring flags word.
func (r *Ring) SetFlag(f RingFlags) {
	for {
		old := r.flags.Load()
		if r.flags.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

// ClearFlag clears bits from the shared ring flags word. User space calls
// this after draining the CQ to acknowledge CQOverflow, per §7.
func (r *Ring) ClearFlag(f RingFlags) {
	for {
		old := r.flags.Load()
		if r.flags.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}

// Submit writes sqe at the producer-owned tail slot and advances the tail.
// User-space side only (single producer). Returns ErrQueueFull if the SQ
// is at capacity — the kernel never observes the entry in that case,
// matching §7's "a full SQ is user-space's problem".
func (r *Ring) Submit(sqe SQE) error {
	tail := r.sq.tail.Load()
	head := r.sq.head.Load()
	if tail-head >= uint32(len(r.sq.entries)) {
		return ErrQueueFull
	}
	r.sq.entries[tail&r.sq.mask] = sqe
	r.sq.tail.Store(tail + 1) // release: entry write happens-before tail publish
	return nil
}

// PopSQ drains one submission entry, kernel side only (single consumer).
// Returns false if the SQ is empty (head == tail).
func (r *Ring) PopSQ() (SQE, bool) {
	head := r.sq.head.Load()
	tail := r.sq.tail.Load() // acquire: observe producer's published entries
	if head == tail {
		return SQE{}, false
	}
	e := r.sq.entries[head&r.sq.mask]
	r.sq.head.Store(head + 1)
	return e, true
}

// PushCQ posts a completion entry, kernel side, and may be called
// concurrently by the dispatch loop and any ASYNC task it has offloaded —
// cqMu arbitrates which producer claims a given tail slot. If the CQ is
// full, the entry is dropped and the sticky CQOverflow ring flag is set;
// an unread CQE is never overwritten (§4.4.5, §9 Open Question: overflow
// drops unconditionally, no re-delivery).
func (r *Ring) PushCQ(cqe CQE) error {
	r.cqMu.Lock()
	defer r.cqMu.Unlock()
	tail := r.cq.tail.Load()
	head := r.cq.head.Load()
	if tail-head > r.cq.mask {
		r.SetFlag(CQOverflow)
		return ErrQueueFull
	}
	r.cq.entries[tail&r.cq.mask] = cqe
	r.cq.tail.Store(tail + 1) // release: entry write happens-before tail publish
	return nil
}

// PopCQ consumes one completion entry, user-space side only (single
// consumer). Returns false if the CQ is empty.
func (r *Ring) PopCQ() (CQE, bool) {
	head := r.cq.head.Load()
	tail := r.cq.tail.Load() // acquire: observe kernel's published entries
	if head == tail {
		return CQE{}, false
	}
	e := r.cq.entries[head&r.cq.mask]
	r.cq.head.Store(head + 1)
	return e, true
}
