// Package proctable implements the kernel's process table: a sharded,
// thread-safe map from process ID to per-process kernel state (CSpace and
// IPC ring).
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on a sharded session-store map, adapted from string session IDs
// to uint32 PIDs (sharded by the PID's low bits, not a hash) and from
// connection sessions to kernel process records. The process shape itself
// (PID, parent PID, CSpace, ring) follows original_source/kernel/src/process.rs.
package proctable

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Daemoniorum-LLC/nyx-os-sub003/cspace"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/ipcring"
)

// ErrNotFound is returned when a PID has no process table entry.
var ErrNotFound = errors.New("proctable: process not found")

// Process is the kernel's per-process record: its capability space and
// its IPC ring pair. Object ownership (which kobject.IDs belong to the
// process) is tracked indirectly through which capabilities name them in
// CSpace, per §3.
type Process struct {
	PID      uint32
	ParentID uint32
	CSpace   *cspace.CSpace
	Ring     *ipcring.Ring
}

type shard struct {
	mu        sync.RWMutex
	processes map[uint32]*Process
}

// Table is a sharded process table, sharded by PID modulo the shard
// count (a power of two) to reduce lock contention under concurrent
// process creation/lookup.
type Table struct {
	shards  []*shard
	mask    uint32
	nextPID atomic.Uint32
}

// NewTable constructs a process table with shardCount shards (rounded up
// to a power of two; 16 if shardCount <= 0).
func NewTable(shardCount int) *Table {
	if shardCount <= 0 {
		shardCount = 16
	}
	n := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{processes: make(map[uint32]*Process)}
	}
	t := &Table{shards: shards, mask: n - 1}
	t.nextPID.Store(1) // PID 0 is reserved (kernel/idle, per process.rs)
	return t
}

func (t *Table) shardFor(pid uint32) *shard {
	return t.shards[pid&t.mask]
}

// Create allocates a fresh PID, a CSpace with quota csQuota, and a ring
// with sqSize/cqSize entries, registers the process, and returns it.
func (t *Table) Create(parentID uint32, csQuota int, sqSize, cqSize uint32) *Process {
	pid := t.nextPID.Add(1) - 1
	p := &Process{
		PID:      pid,
		ParentID: parentID,
		CSpace:   cspace.New(csQuota),
		Ring:     ipcring.NewRing(sqSize, cqSize),
	}
	sh := t.shardFor(pid)
	sh.mu.Lock()
	sh.processes[pid] = p
	sh.mu.Unlock()
	return p
}

// Get returns the process for pid.
func (t *Table) Get(pid uint32) (*Process, error) {
	sh := t.shardFor(pid)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	p, ok := sh.processes[pid]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

// Remove deletes a process's table entry. Its CSpace and ring become
// unreachable for garbage collection; object registry cleanup (releasing
// any objects this process held capabilities to) is the caller's
// responsibility, as it requires walking the CSpace before removal.
func (t *Table) Remove(pid uint32) {
	sh := t.shardFor(pid)
	sh.mu.Lock()
	delete(sh.processes, pid)
	sh.mu.Unlock()
}

// Range applies fn to every live process. fn must not call back into
// Create/Remove on this table (it would deadlock on the shard lock).
func (t *Table) Range(fn func(*Process)) {
	for _, sh := range t.shards {
		sh.mu.RLock()
		for _, p := range sh.processes {
			fn(p)
		}
		sh.mu.RUnlock()
	}
}

// Count returns the number of live processes.
func (t *Table) Count() int {
	n := 0
	for _, sh := range t.shards {
		sh.mu.RLock()
		n += len(sh.processes)
		sh.mu.RUnlock()
	}
	return n
}

func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
