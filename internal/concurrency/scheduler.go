// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Scheduler is a min-heap timer wheel backing the ring engine's Timeout
// and LinkTimeout opcodes: the kernel's handler for either opcode registers
// a deadline for the UserData tag named in the entry's parameters, and the
// callback marks that tag cancelled when the deadline fires. A submission
// with that tag that the dispatch loop has not yet reached then completes
// as CANCELLED; one whose handler is already running is not interrupted.
//
// golang.org/x/sys/cpu reports whether the host has wide SIMD registers,
// used to pick the busy-poll granularity on very short timeouts.

package concurrency

import (
	"container/heap"
	"sync"
	"time"

	"golang.org/x/sys/cpu"
)

type timerTask struct {
	at    time.Time
	seq   uint64
	fn    func()
	index int
}

type taskHeap []*timerTask

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *taskHeap) Push(x any) {
	t := x.(*timerTask)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// shortTimeoutThreshold below which the scheduler favors a tight
// busy-poll over a timer.Sleep wakeup, only on hosts wide-SIMD capable
// enough to make the spin worthwhile.
const shortTimeoutThreshold = 50 * time.Microsecond

// Scheduler runs deadline-ordered callbacks on their own goroutine.
type Scheduler struct {
	mu     sync.Mutex
	timerQ taskHeap
	seq    uint64
	notify chan struct{}
	stop   chan struct{}
	wide   bool
}

// NewScheduler starts the scheduler's background run loop.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		wide:   cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD,
	}
	heap.Init(&s.timerQ)
	go s.run()
	return s
}

// After schedules fn to run once, at least after d elapses, and returns a
// cancel function. Calling cancel after fn has already fired is a no-op.
func (s *Scheduler) After(d time.Duration, fn func()) (cancel func()) {
	s.mu.Lock()
	s.seq++
	task := &timerTask{at: time.Now().Add(d), seq: s.seq, fn: fn}
	heap.Push(&s.timerQ, task)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if task.index >= 0 && task.index < len(s.timerQ) && s.timerQ[task.index] == task {
			heap.Remove(&s.timerQ, task.index)
		}
	}
}

// Close stops the run loop. Pending timers never fire.
func (s *Scheduler) Close() {
	close(s.stop)
}

func (s *Scheduler) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		s.mu.Lock()
		if s.timerQ.Len() == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.stop:
				return
			}
		}

		next := s.timerQ[0]
		wait := time.Until(next.at)
		if wait <= 0 {
			heap.Pop(&s.timerQ)
			s.mu.Unlock()
			next.fn()
			continue
		}
		s.mu.Unlock()

		if s.wide && wait <= shortTimeoutThreshold {
			// Busy-poll very short deadlines instead of paying a full
			// timer-wakeup's scheduling latency.
			for time.Now().Before(next.at) {
			}
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		select {
		case <-timer.C:
		case <-s.notify:
		case <-s.stop:
			return
		}
	}
}
