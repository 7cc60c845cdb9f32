// Package dispatch routes submission queue entries to opcode handlers,
// enforcing the required-rights check and the CHAIN/DRAIN/ASYNC/NO_CQE
// flag semantics of spec §4.4.3-§4.4.5. The FIXED_BUFFER and LINK_TIMEOUT
// flags are not read here; OpLinkTimeout is an ordinary opcode whose
// handler the kernel registers.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Generalizes a handler-table dispatch pattern from a single Handler
// interface to an opcode-keyed routing table, grounded on
// original_source/kernel/src/ipc/dispatch.rs for per-opcode required
// rights and the chain/drain/cancel control flow.
//
// ASYNC-flagged, non-chained entries are offloaded to
// internal/concurrency.Executor (reached through waiter, which doubles as
// the DRAIN barrier and, when it also implements asyncSubmitter, the
// offload target) so a blocking handler — Receive on an empty Endpoint,
// Call awaiting a reply — never stalls the rest of the ring, per §4.4.4.
package dispatch

import (
	"context"
	"errors"

	"github.com/Daemoniorum-LLC/nyx-os-sub003/capability"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/internal/concurrency"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/ipcring"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/rights"
)

// Errors returned by dispatch, per §7(4).
var (
	ErrUnknownOpcode       = errors.New("dispatch: unknown opcode")
	ErrInsufficientRights  = errors.New("dispatch: insufficient rights")
	ErrChainAborted        = errors.New("dispatch: chain aborted by prior failure")
	ErrCancelled           = errors.New("dispatch: operation cancelled")
)

// Handler executes one opcode's operation. pid is the submitting
// process's ID (handlers that mutate a per-process CSpace, e.g. Derive,
// need it). cap is the capability named by the SQE's CapSlot (already
// looked up and validated against Registry by the caller), or the zero
// Token if the opcode doesn't name a capability. It returns the CQE
// result word and an optional extra data payload.
type Handler func(ctx context.Context, pid uint32, sqe ipcring.SQE, cap capability.Token) (result int64, data [2]uint64, flags ipcring.CqFlags, err error)

// entry pairs a Handler with the rights an op against it requires.
type entry struct {
	handler  Handler
	required rights.Rights
}

// Table is an opcode-keyed routing table, built once at kernel startup and
// read-only thereafter (no lock needed on lookups).
type Table struct {
	entries map[ipcring.Opcode]entry
}

// NewTable creates an empty dispatch table.
func NewTable() *Table {
	return &Table{entries: make(map[ipcring.Opcode]entry)}
}

// Register binds an opcode to its handler and the rights a submission
// must present to invoke it.
func (t *Table) Register(op ipcring.Opcode, required rights.Rights, h Handler) {
	t.entries[op] = entry{handler: h, required: required}
}

// RequiredRights reports the rights an opcode requires, or false if the
// opcode is unregistered.
func (t *Table) RequiredRights(op ipcring.Opcode) (rights.Rights, bool) {
	e, ok := t.entries[op]
	return e.required, ok
}

// chainState tracks whether a prior entry in the current CHAIN failed;
// once true, every subsequent entry until (and including) the one that
// does not set CHAIN is aborted without invoking its handler, per §4.4.3.
type chainState struct {
	aborted bool
}

// AsyncWaiter lets Run enforce the DRAIN barrier (§4.4.3): a submission
// flagged DRAIN must not execute until every ASYNC op submitted before it
// has completed. Kernel wires this to internal/concurrency's executor,
// which also satisfies asyncSubmitter below.
type AsyncWaiter interface {
	Wait()
}

// asyncSubmitter is implemented by internal/concurrency.Executor. Run
// type-asserts waiter against it rather than requiring it on AsyncWaiter
// directly, so a waiter that only drains (e.g. a test fake) remains valid
// and ASYNC submissions simply fall back to inline execution when no
// offload target is available.
type asyncSubmitter interface {
	Submit(task concurrency.TaskFunc) error
}

// Run drains all currently available submissions from r, dispatches each
// through t, and posts completions back to r — unless NO_CQE is set for
// an entry, or DRAIN/cancellation rules suppress it. cancelled reports
// whether a given UserData tag has been cancelled (via OpCancel); Run
// checks it before invoking each handler so an in-flight chain member can
// still be aborted between Submit and drain. completed, if non-nil, is
// called once a submission has been resolved — its handler ran
// (successfully or not), or its capability lookup or rights check failed —
// so the caller can reject a later Cancel of that same tag as
// already-completed; it is not called for entries short-circuited by a
// chain abort, a prior cancellation, or an unknown opcode. waiter may
// be nil if the caller has no outstanding async ops to drain or offload.
func Run(ctx context.Context, pid uint32, r *ipcring.Ring, t *Table, lookupCap func(slot uint32) (capability.Token, error), cancelled func(userData uint64) bool, completed func(userData uint64), waiter AsyncWaiter) {
	var cs chainState
	for {
		sqe, ok := r.PopSQ()
		if !ok {
			return
		}
		if sqe.Flags&ipcring.DRAIN != 0 && waiter != nil {
			waiter.Wait()
		}
		runOne(ctx, pid, r, t, sqe, &cs, lookupCap, cancelled, completed, waiter)
	}
}

func runOne(ctx context.Context, pid uint32, r *ipcring.Ring, t *Table, sqe ipcring.SQE, cs *chainState, lookupCap func(slot uint32) (capability.Token, error), cancelled func(userData uint64) bool, completed func(userData uint64), waiter AsyncWaiter) {
	isChainMember := sqe.Flags&ipcring.CHAIN != 0
	defer func() {
		if !isChainMember {
			cs.aborted = false
		}
	}()

	if cs.aborted {
		postUnlessSuppressed(r, sqe, 0, [2]uint64{}, ipcring.CANCELLED, ErrChainAborted)
		return
	}

	if cancelled != nil && cancelled(sqe.UserData) {
		cs.aborted = isChainMember
		postUnlessSuppressed(r, sqe, 0, [2]uint64{}, ipcring.CANCELLED, ErrCancelled)
		return
	}

	e, ok := t.entries[sqe.Opcode]
	if !ok {
		cs.aborted = isChainMember
		postUnlessSuppressed(r, sqe, 0, [2]uint64{}, 0, ErrUnknownOpcode)
		return
	}

	var cap capability.Token
	var err error
	// Slot 0 is a legitimate CSpace slot (InsertNext fills ascending from
	// 0), so capability presence can't be inferred from CapSlot == 0;
	// only opcodes with no capability operand at all skip the lookup.
	if lookupCap != nil && sqe.Opcode != ipcring.OpCancel && sqe.Opcode != ipcring.OpNop &&
		sqe.Opcode != ipcring.OpTimeout && sqe.Opcode != ipcring.OpLinkTimeout {
		cap, err = lookupCap(sqe.CapSlot)
	}
	if err == nil && !cap.Rights.Contains(e.required) && e.required != 0 {
		err = ErrInsufficientRights
	}

	var result int64
	var data [2]uint64
	var flags ipcring.CqFlags
	if err == nil {
		// CHAIN members always run inline: offloading one would let later
		// chain entries run before this one's success/failure is known,
		// which the abort-propagation invariant above depends on.
		if sqe.Flags&ipcring.ASYNC != 0 && !isChainMember {
			if submitter, ok := waiter.(asyncSubmitter); ok {
				handler, task, capTok := e.handler, sqe, cap
				submitErr := submitter.Submit(func() {
					res, resData, resFlags, herr := handler(ctx, pid, task, capTok)
					if completed != nil {
						completed(task.UserData)
					}
					postUnlessSuppressed(r, task, res, resData, resFlags, herr)
				})
				if submitErr == nil {
					// Offloaded: this SQE's completion (and its effect on
					// cs/completed) happens on the worker, asynchronously
					// with respect to the rest of this ring's drain.
					return
				}
				// Offload rejected (executor closed): run inline below.
			}
		}
		result, data, flags, err = e.handler(ctx, pid, sqe, cap)
	}

	if err != nil {
		cs.aborted = isChainMember
	}
	if completed != nil {
		completed(sqe.UserData)
	}
	postUnlessSuppressed(r, sqe, result, data, flags, err)
}

func postUnlessSuppressed(r *ipcring.Ring, sqe ipcring.SQE, result int64, data [2]uint64, flags ipcring.CqFlags, err error) {
	// NO_CQE is fire-and-forget: the submitter gets no completion even when
	// the op fails, per §7 ("Fire-and-forget operations that fail are
	// silent") and §4.4.4.
	if sqe.Flags&ipcring.NO_CQE != 0 {
		return
	}
	if err != nil {
		result = errToResult(err)
	}
	_ = r.PushCQ(ipcring.CQE{
		UserData: sqe.UserData,
		Result:   result,
		Data:     data,
		Flags:    flags,
	})
}

// errToResult maps a dispatch error to a negative result code, in the
// convention of a syscall-style "negative errno" return (§6).
func errToResult(err error) int64 {
	switch {
	case errors.Is(err, ErrUnknownOpcode):
		return -1
	case errors.Is(err, ErrInsufficientRights):
		return -2
	case errors.Is(err, ErrChainAborted):
		return -3
	case errors.Is(err, ErrCancelled):
		return -4
	default:
		return -127
	}
}
