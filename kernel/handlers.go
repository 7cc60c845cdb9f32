// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Wires the built-in IPC opcodes to endpoint/notification/capability
// operations. Grounded on original_source/kernel/src/ipc/dispatch.rs's
// opcode-to-operation table.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Daemoniorum-LLC/nyx-os-sub003/capability"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/endpoint"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/ipcring"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/kobject"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/rights"
)

// ErrAlreadyCompleted is returned by handleCancel when the targeted
// UserData tag's submission has already run to completion, per §8's
// boundary behavior for Cancel.
var ErrAlreadyCompleted = errors.New("kernel: operation already completed")

func (k *Kernel) registerBuiltinHandlers() {
	k.dispatch.Register(ipcring.OpSend, rights.SEND, k.handleSend)
	k.dispatch.Register(ipcring.OpReceive, rights.RECEIVE, k.handleReceive)
	k.dispatch.Register(ipcring.OpCall, rights.CALL, k.handleCall)
	k.dispatch.Register(ipcring.OpReply, rights.REPLY, k.handleReply)
	k.dispatch.Register(ipcring.OpSignal, rights.SIGNAL, k.handleSignal)
	k.dispatch.Register(ipcring.OpWait, rights.WAIT, k.handleWait)
	k.dispatch.Register(ipcring.OpPoll, rights.POLL, k.handlePoll)
	k.dispatch.Register(ipcring.OpDerive, rights.GRANT, k.handleDerive)
	k.dispatch.Register(ipcring.OpRevoke, rights.REVOKE, k.handleRevoke)
	k.dispatch.Register(ipcring.OpCancel, 0, k.handleCancel)
	k.dispatch.Register(ipcring.OpTimeout, 0, k.handleTimeout)
	k.dispatch.Register(ipcring.OpLinkTimeout, 0, k.handleTimeout)
}

func (k *Kernel) endpointByID(id kobject.ID) (*endpoint.Endpoint, error) {
	k.objMu.RLock()
	obj, ok := k.objects[id]
	k.objMu.RUnlock()
	if !ok {
		return nil, capability.ErrObjectNotFound
	}
	ep, ok := obj.(*endpoint.Endpoint)
	if !ok {
		return nil, fmt.Errorf("kernel: object %s is not an Endpoint", id)
	}
	return ep, nil
}

func (k *Kernel) notificationByID(id kobject.ID) (*endpoint.Notification, error) {
	k.objMu.RLock()
	obj, ok := k.objects[id]
	k.objMu.RUnlock()
	if !ok {
		return nil, capability.ErrObjectNotFound
	}
	n, ok := obj.(*endpoint.Notification)
	if !ok {
		return nil, fmt.Errorf("kernel: object %s is not a Notification", id)
	}
	return n, nil
}

func (k *Kernel) handleSend(ctx context.Context, pid uint32, sqe ipcring.SQE, cap capability.Token) (int64, [2]uint64, ipcring.CqFlags, error) {
	ep, err := k.endpointByID(cap.ObjectID)
	if err != nil {
		return 0, [2]uint64{}, 0, err
	}
	ep.Send(endpoint.Message{Tag: sqe.UserData, Data: sqe.Params, SenderPID: pid})
	return 0, [2]uint64{}, 0, nil
}

func (k *Kernel) handleReceive(ctx context.Context, pid uint32, sqe ipcring.SQE, cap capability.Token) (int64, [2]uint64, ipcring.CqFlags, error) {
	ep, err := k.endpointByID(cap.ObjectID)
	if err != nil {
		return 0, [2]uint64{}, 0, err
	}
	nowait := sqe.Flags&ipcring.NOWAIT != 0
	msg, err := ep.Receive(nowait)
	if err != nil {
		return 0, [2]uint64{}, 0, err
	}
	return int64(msg.Tag), [2]uint64{msg.Data[0], msg.Data[1]}, 0, nil
}

// handleCall encodes the reply endpoint directly in Params[0]/Params[1]
// (object id, generation) rather than a CapSlot, since the reply endpoint
// is typically allocated for this call alone and need not live in the
// caller's CSpace.
func (k *Kernel) handleCall(ctx context.Context, pid uint32, sqe ipcring.SQE, cap capability.Token) (int64, [2]uint64, ipcring.CqFlags, error) {
	ep, err := k.endpointByID(cap.ObjectID)
	if err != nil {
		return 0, [2]uint64{}, 0, err
	}
	replyTok := capability.Token{ObjectID: kobject.ID(sqe.Params[0]), Generation: uint32(sqe.Params[1])}
	if err := replyTok.Validate(k.registry); err != nil {
		return 0, [2]uint64{}, 0, err
	}
	replyEP, err := k.endpointByID(replyTok.ObjectID)
	if err != nil {
		return 0, [2]uint64{}, 0, err
	}
	resp, err := ep.Call(endpoint.Message{Tag: sqe.UserData, Data: sqe.Params, SenderPID: pid}, replyEP)
	if err != nil {
		return 0, [2]uint64{}, 0, err
	}
	return int64(resp.Tag), [2]uint64{resp.Data[0], resp.Data[1]}, 0, nil
}

func (k *Kernel) handleReply(ctx context.Context, pid uint32, sqe ipcring.SQE, cap capability.Token) (int64, [2]uint64, ipcring.CqFlags, error) {
	ep, err := k.endpointByID(cap.ObjectID)
	if err != nil {
		return 0, [2]uint64{}, 0, err
	}
	ep.Reply(endpoint.Message{Tag: sqe.UserData, Data: sqe.Params, SenderPID: pid})
	return 0, [2]uint64{}, 0, nil
}

func (k *Kernel) handleSignal(ctx context.Context, pid uint32, sqe ipcring.SQE, cap capability.Token) (int64, [2]uint64, ipcring.CqFlags, error) {
	n, err := k.notificationByID(cap.ObjectID)
	if err != nil {
		return 0, [2]uint64{}, 0, err
	}
	n.Signal(sqe.Params[0])
	return 0, [2]uint64{}, 0, nil
}

func (k *Kernel) handleWait(ctx context.Context, pid uint32, sqe ipcring.SQE, cap capability.Token) (int64, [2]uint64, ipcring.CqFlags, error) {
	n, err := k.notificationByID(cap.ObjectID)
	if err != nil {
		return 0, [2]uint64{}, 0, err
	}
	word, err := n.Wait(sqe.Flags&ipcring.NOWAIT != 0)
	if err != nil {
		return 0, [2]uint64{}, 0, err
	}
	return int64(word), [2]uint64{}, 0, nil
}

func (k *Kernel) handlePoll(ctx context.Context, pid uint32, sqe ipcring.SQE, cap capability.Token) (int64, [2]uint64, ipcring.CqFlags, error) {
	n, err := k.notificationByID(cap.ObjectID)
	if err != nil {
		return 0, [2]uint64{}, 0, err
	}
	return int64(n.Poll()), [2]uint64{}, 0, nil
}

// handleDerive derives a new capability from the one at sqe.CapSlot and
// inserts it into the submitting process's CSpace. Params[0] is the
// rights mask; Params[1] != 0 requests DeriveWithGrant instead of Derive.
func (k *Kernel) handleDerive(ctx context.Context, pid uint32, sqe ipcring.SQE, cap capability.Token) (int64, [2]uint64, ipcring.CqFlags, error) {
	mask := rights.Rights(sqe.Params[0])
	var derived capability.Token
	var err error
	if sqe.Params[1] != 0 {
		derived, err = cap.DeriveWithGrant(mask)
	} else {
		derived, err = cap.Derive(mask)
	}
	if err != nil {
		return 0, [2]uint64{}, 0, err
	}
	proc, err := k.procs.Get(pid)
	if err != nil {
		return 0, [2]uint64{}, 0, err
	}
	slot, err := proc.CSpace.InsertNext(derived)
	if err != nil {
		return 0, [2]uint64{}, 0, err
	}
	return int64(slot), [2]uint64{uint64(derived.Rights)}, 0, nil
}

// handleRevoke bumps the generation of the object named by sqe.CapSlot,
// invalidating every capability derived from it kernel-wide in O(1).
func (k *Kernel) handleRevoke(ctx context.Context, pid uint32, sqe ipcring.SQE, cap capability.Token) (int64, [2]uint64, ipcring.CqFlags, error) {
	// Required rights (REVOKE) already checked by the dispatch table.
	if err := k.registry.Revoke(cap.ObjectID); err != nil {
		return 0, [2]uint64{}, 0, err
	}
	return 0, [2]uint64{}, 0, nil
}

// handleCancel marks the target submission (named by Params[0], a
// UserData tag) as cancelled, unless that tag has already completed, in
// which case it fails rather than silently doing nothing.
func (k *Kernel) handleCancel(ctx context.Context, pid uint32, sqe ipcring.SQE, cap capability.Token) (int64, [2]uint64, ipcring.CqFlags, error) {
	target := sqe.Params[0]
	if k.isCompleted(target) {
		return 0, [2]uint64{}, 0, ErrAlreadyCompleted
	}
	k.Cancel(target)
	return 0, [2]uint64{}, 0, nil
}

// handleTimeout backs both OpTimeout and OpLinkTimeout: Params[0] is a
// deadline in nanoseconds and Params[1] is the UserData tag of the
// submission to cancel if it has not completed by then. LINK_TIMEOUT
// entries reach here the same way a standalone OpTimeout does — the
// distinction is the CHAIN placement relative to the guarded entry, not
// the handler logic, since this handler only arms the timer and returns
// immediately without blocking the dispatch loop.
func (k *Kernel) handleTimeout(ctx context.Context, pid uint32, sqe ipcring.SQE, cap capability.Token) (int64, [2]uint64, ipcring.CqFlags, error) {
	deadline := time.Duration(sqe.Params[0])
	target := sqe.Params[1]
	k.After(deadline, func() {
		k.Cancel(target)
	})
	return 0, [2]uint64{}, 0, nil
}
