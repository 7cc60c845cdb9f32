// Package kernel assembles the registry, per-process capability spaces,
// IPC rings, and opcode dispatch table into one facade, generalizing the
// teacher's facade.HioloadWS orchestration pattern from a WebSocket
// server to the capability/IPC core.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Daemoniorum-LLC/nyx-os-sub003/affinity"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/capability"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/control"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/dispatch"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/endpoint"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/internal/concurrency"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/internal/proctable"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/ipcring"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/kobject"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/rights"
)

// panicHook lets tests observe fatalf calls without crashing the test
// binary.
var panicHook func(string)

func fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if panicHook != nil {
		panicHook(msg)
		return
	}
	panic(msg)
}

// Config holds tunables for a Kernel instance, mirroring the shape of the
// teacher's facade.Config.
type Config struct {
	ProcTableShards int
	DefaultCSQuota  int
	DefaultSQSize   uint32
	DefaultCQSize   uint32
	AsyncWorkers    int
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		ProcTableShards: 16,
		DefaultCSQuota:  cspaceDefaultQuota,
		DefaultSQSize:   256,
		DefaultCQSize:   256,
		AsyncWorkers:    4,
	}
}

const cspaceDefaultQuota = 4096

// Kernel is the top-level facade: object registry, process table, and
// opcode dispatch table, wired together.
type Kernel struct {
	mu       sync.RWMutex
	config   *Config
	registry *kobject.Registry
	procs    *proctable.Table
	dispatch *dispatch.Table

	objMu   sync.RWMutex
	objects map[kobject.ID]any // *endpoint.Endpoint or *endpoint.Notification

	cancelMu  sync.Mutex
	cancelled map[uint64]bool

	completedMu sync.Mutex
	completed   map[uint64]bool

	executor  *concurrency.Executor
	scheduler *concurrency.Scheduler
	metrics   *control.MetricsRegistry
	probes    *control.DebugProbes
}

// New constructs a Kernel and registers the built-in IPC opcode handlers.
func New(cfg *Config) *Kernel {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	k := &Kernel{
		config:    cfg,
		registry:  kobject.NewRegistry(),
		procs:     proctable.NewTable(cfg.ProcTableShards),
		dispatch:  dispatch.NewTable(),
		objects:   make(map[kobject.ID]any),
		cancelled: make(map[uint64]bool),
		completed: make(map[uint64]bool),
		executor:  concurrency.NewExecutor(cfg.AsyncWorkers, -1),
		scheduler: concurrency.NewScheduler(),
		metrics:   control.NewMetricsRegistry(),
		probes:    control.NewDebugProbes(),
	}
	k.registerBuiltinHandlers()
	k.probes.RegisterProbe("process_table", func() any { return k.procs.Count() })
	k.probes.RegisterProbe("object_count", func() any {
		k.objMu.RLock()
		defer k.objMu.RUnlock()
		return len(k.objects)
	})
	control.RegisterPlatformProbes(k.probes)
	return k
}

// DumpState returns the current value of every registered debug probe
// (process count, live object count), for cmd/nyxctl's introspection.
func (k *Kernel) DumpState() map[string]any { return k.probes.DumpState() }

// Close stops the kernel's background executor and timer-wheel goroutines.
// Async tasks already queued still run on the executor's workers before
// they exit; unfired timers are dropped.
func (k *Kernel) Close() {
	k.executor.Close()
	k.scheduler.Close()
}

// RegisterHandler lets a collaborator bind or replace a dispatch opcode's
// handler, generalizing facade.HioloadWS.RegisterHandler to opcode-level
// routing instead of a single poller handler.
func (k *Kernel) RegisterHandler(op ipcring.Opcode, required rights.Rights, h dispatch.Handler) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.dispatch.Register(op, required, h)
}

// CreateProcess allocates a new process with a fresh CSpace and ring.
func (k *Kernel) CreateProcess(parentID uint32) *proctable.Process {
	return k.procs.Create(parentID, k.config.DefaultCSQuota, k.config.DefaultSQSize, k.config.DefaultCQSize)
}

// Process looks up a process by PID.
func (k *Kernel) Process(pid uint32) (*proctable.Process, error) {
	return k.procs.Get(pid)
}

// CreateEndpoint registers a new Endpoint object, mints its root
// capability with default rights, and inserts it into pid's CSpace,
// returning the slot the caller can use to address it.
func (k *Kernel) CreateEndpoint(pid uint32) (uint32, error) {
	return k.createObject(pid, kobject.Endpoint, endpoint.New())
}

// CreateNotification registers a new Notification object analogously to
// CreateEndpoint.
func (k *Kernel) CreateNotification(pid uint32) (uint32, error) {
	return k.createObject(pid, kobject.Notification, endpoint.NewNotification())
}

// GrantCapability inserts an already-derived token into pid's CSpace,
// modeling capability transfer between processes (e.g. a parent handing
// a child a derived endpoint capability at fork time, or a message
// attachment landing in the receiver's CSpace).
func (k *Kernel) GrantCapability(pid uint32, tok capability.Token) (uint32, error) {
	proc, err := k.procs.Get(pid)
	if err != nil {
		return 0, err
	}
	return proc.CSpace.InsertNext(tok)
}

// CapabilityAt returns the token stored at pid's slot, for test harnesses
// and nyxctl that need to read a capability back out (e.g. to grant it
// to another process).
func (k *Kernel) CapabilityAt(pid uint32, slot uint32) (capability.Token, error) {
	proc, err := k.procs.Get(pid)
	if err != nil {
		return capability.Token{}, err
	}
	tok, ok := proc.CSpace.Lookup(slot)
	if !ok {
		return capability.Token{}, capability.ErrInvalidSlot
	}
	return tok, nil
}

func (k *Kernel) createObject(pid uint32, t kobject.Type, impl any) (uint32, error) {
	proc, err := k.procs.Get(pid)
	if err != nil {
		return 0, err
	}
	id := k.registry.Register(t)
	k.objMu.Lock()
	k.objects[id] = impl
	k.objMu.Unlock()

	tok := capability.Bootstrap(id, t.DefaultRights(), 1)
	slot, err := proc.CSpace.InsertNext(tok)
	if err != nil {
		return 0, err
	}
	return slot, nil
}

// Endpoint resolves the Endpoint object named by a capability in pid's
// CSpace at slot, for test harnesses and the nyxctl scenario runner that
// want to act on an object without round-tripping the ring.
func (k *Kernel) Endpoint(pid uint32, slot uint32) (*endpoint.Endpoint, error) {
	obj, err := k.lookupObject(pid, slot)
	if err != nil {
		return nil, err
	}
	ep, ok := obj.(*endpoint.Endpoint)
	if !ok {
		return nil, fmt.Errorf("kernel: slot %d is not an Endpoint", slot)
	}
	return ep, nil
}

// Notification resolves the Notification object named by a capability in
// pid's CSpace at slot.
func (k *Kernel) Notification(pid uint32, slot uint32) (*endpoint.Notification, error) {
	obj, err := k.lookupObject(pid, slot)
	if err != nil {
		return nil, err
	}
	n, ok := obj.(*endpoint.Notification)
	if !ok {
		return nil, fmt.Errorf("kernel: slot %d is not a Notification", slot)
	}
	return n, nil
}

func (k *Kernel) lookupObject(pid uint32, slot uint32) (any, error) {
	proc, err := k.procs.Get(pid)
	if err != nil {
		return nil, err
	}
	tok, ok := proc.CSpace.Lookup(slot)
	if !ok {
		return nil, capability.ErrInvalidSlot
	}
	if err := tok.Validate(k.registry); err != nil {
		return nil, err
	}
	k.objMu.RLock()
	obj, ok := k.objects[tok.ObjectID]
	k.objMu.RUnlock()
	if !ok {
		return nil, capability.ErrObjectNotFound
	}
	return obj, nil
}

// Revoke bumps the generation of the object named by the capability at
// pid's slot, invalidating every outstanding derived capability in O(1).
func (k *Kernel) Revoke(pid uint32, slot uint32) error {
	proc, err := k.procs.Get(pid)
	if err != nil {
		return err
	}
	tok, ok := proc.CSpace.Lookup(slot)
	if !ok {
		return capability.ErrInvalidSlot
	}
	return k.registry.Revoke(tok.ObjectID)
}

// Submit pushes sqe onto pid's submission queue.
func (k *Kernel) Submit(pid uint32, sqe ipcring.SQE) error {
	proc, err := k.procs.Get(pid)
	if err != nil {
		return err
	}
	return proc.Ring.Submit(sqe)
}

// Cancel marks a previously submitted operation's UserData tag as
// cancelled; Drain checks this before invoking the matching handler.
func (k *Kernel) Cancel(userData uint64) {
	k.cancelMu.Lock()
	k.cancelled[userData] = true
	k.cancelMu.Unlock()
}

func (k *Kernel) isCancelled(userData uint64) bool {
	k.cancelMu.Lock()
	defer k.cancelMu.Unlock()
	return k.cancelled[userData]
}

// markCompleted records that userData's submission ran its handler to
// completion, so a later Cancel of the same tag can be rejected as
// already-completed per §8.
func (k *Kernel) markCompleted(userData uint64) {
	k.completedMu.Lock()
	k.completed[userData] = true
	k.completedMu.Unlock()
}

func (k *Kernel) isCompleted(userData uint64) bool {
	k.completedMu.Lock()
	defer k.completedMu.Unlock()
	return k.completed[userData]
}

// Drain runs the dispatch loop over pid's ring until its submission queue
// is empty, posting completions back to the same ring.
func (k *Kernel) Drain(ctx context.Context, pid uint32) error {
	proc, err := k.procs.Get(pid)
	if err != nil {
		return err
	}
	lookupCap := func(slot uint32) (capability.Token, error) {
		tok, ok := proc.CSpace.Lookup(slot)
		if !ok {
			return capability.Token{}, capability.ErrInvalidSlot
		}
		if err := tok.Validate(k.registry); err != nil {
			return capability.Token{}, err
		}
		return tok, nil
	}
	dispatch.Run(ctx, pid, proc.Ring, k.dispatch, lookupCap, k.isCancelled, k.markCompleted, k.executor)
	return nil
}

// After schedules fn to run once d elapses, via the kernel's timer wheel.
// Used by handleTimeout (registered for OpTimeout and OpLinkTimeout) to
// cancel a submission's UserData
// tag if it has not completed by the deadline.
func (k *Kernel) After(d time.Duration, fn func()) (cancel func()) {
	return k.scheduler.After(d, fn)
}

// Syscall executes a direct (non-ring) kernel entry point.
func (k *Kernel) Syscall(pid uint32, sys Syscall, arg int) (int, error) {
	if err := sys.Validate(); err != nil {
		return 0, err
	}
	switch sys {
	case SysProcessFork:
		child := k.CreateProcess(pid)
		return int(child.PID), nil
	case SysProcessKill:
		target := uint32(arg)
		k.procs.Remove(target)
		return 0, nil
	case SysThreadSuspend, SysThreadResume, SysSchedule:
		// Scheduling policy itself is out of scope; these are no-ops that
		// exist so the syscall surface is complete and testable.
		return 0, nil
	case SysThreadSetAffinity:
		if err := affinity.SetAffinity(arg); err != nil {
			return -1, err
		}
		return 0, nil
	default:
		fatalf("kernel: unhandled validated syscall %s", sys)
		return 0, fmt.Errorf("kernel: unhandled syscall %s", sys)
	}
}

// Registry exposes the underlying object registry for callers (e.g.
// cmd/nyxctl) that need raw generation/refcount introspection.
func (k *Kernel) Registry() *kobject.Registry { return k.registry }

// Metrics exposes the kernel's runtime metrics registry for cmd/nyxctl and
// test harnesses. refreshMetrics is called before every read so a snapshot
// always reflects the process's and the submitting ring's current state.
func (k *Kernel) Metrics(pid uint32) map[string]any {
	k.refreshMetrics(pid)
	return k.metrics.GetSnapshot()
}

func (k *Kernel) refreshMetrics(pid uint32) {
	k.metrics.Set("process_count", k.procs.Count())
	if proc, err := k.procs.Get(pid); err == nil {
		k.metrics.Set("sq_pending", proc.Ring.SQPending())
		k.metrics.Set("cq_pending", proc.Ring.CQPending())
		k.metrics.Set("cq_overflow", proc.Ring.Flags()&ipcring.CQOverflow != 0)
	}
}
