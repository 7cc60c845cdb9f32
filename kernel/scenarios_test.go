// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// End-to-end scenarios, literal values from spec §8, exercised through
// the Kernel facade rather than a single package in isolation.
package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/Daemoniorum-LLC/nyx-os-sub003/capability"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/ipcring"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/kobject"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/rights"
	"github.com/stretchr/testify/require"
)

// TestDeriveStripsGrant is scenario 1: derive(c, READ|WRITE|GRANT) on a
// READ|WRITE|GRANT token strips GRANT from the result but preserves the
// object identity and generation.
func TestDeriveStripsGrant(t *testing.T) {
	k := New(nil)
	a := k.CreateProcess(0)
	id := k.Registry().Register(kobject.File)
	gen, err := k.Registry().Generation(id)
	require.NoError(t, err)
	slot, err := k.GrantCapability(a.PID, capability.Bootstrap(id, rights.READ|rights.WRITE|rights.GRANT, gen))
	require.NoError(t, err)
	parent, err := k.CapabilityAt(a.PID, slot)
	require.NoError(t, err)

	derived, err := parent.Derive(rights.READ | rights.WRITE | rights.GRANT)
	require.NoError(t, err)
	require.Equal(t, parent.ObjectID, derived.ObjectID)
	require.Equal(t, parent.Generation, derived.Generation)
	require.Equal(t, rights.READ|rights.WRITE, derived.Rights)
}

// TestRevokeCascade is scenario 2: A holds c1; A derives c2 into B;
// revoking c1's object bumps the generation, and both c1 and c2 fail
// validation afterward.
func TestRevokeCascade(t *testing.T) {
	k := New(nil)
	a := k.CreateProcess(0)
	b := k.CreateProcess(0)

	slot, err := k.CreateEndpoint(a.PID)
	require.NoError(t, err)
	c1, err := k.CapabilityAt(a.PID, slot)
	require.NoError(t, err)
	require.NoError(t, c1.Validate(k.Registry()))

	c2, err := c1.Derive(rights.SEND | rights.RECEIVE | rights.GRANT)
	require.NoError(t, err)
	_, err = k.GrantCapability(b.PID, c2)
	require.NoError(t, err)
	require.NoError(t, c2.Validate(k.Registry()))

	require.NoError(t, k.Revoke(a.PID, slot))

	require.ErrorIs(t, c1.Validate(k.Registry()), capability.ErrRevoked)
	require.ErrorIs(t, c2.Validate(k.Registry()), capability.ErrRevoked)
}

// TestRingOrdering is scenario 3: two Sends submitted in order are
// received in the same order by a receiving process holding a shared
// capability to the endpoint.
func TestRingOrdering(t *testing.T) {
	k := New(nil)
	sender := k.CreateProcess(0)
	receiver := k.CreateProcess(0)

	slot, err := k.CreateEndpoint(sender.PID)
	require.NoError(t, err)
	tok, err := k.CapabilityAt(sender.PID, slot)
	require.NoError(t, err)
	rslot, err := k.GrantCapability(receiver.PID, tok)
	require.NoError(t, err)

	require.NoError(t, k.Submit(sender.PID, ipcring.SQE{Opcode: ipcring.OpSend, CapSlot: slot, UserData: 0xa}))
	require.NoError(t, k.Submit(sender.PID, ipcring.SQE{Opcode: ipcring.OpSend, CapSlot: slot, UserData: 0xb}))
	require.NoError(t, k.Drain(context.Background(), sender.PID))

	require.NoError(t, k.Submit(receiver.PID, ipcring.SQE{Opcode: ipcring.OpReceive, CapSlot: rslot, UserData: 1}))
	require.NoError(t, k.Submit(receiver.PID, ipcring.SQE{Opcode: ipcring.OpReceive, CapSlot: rslot, UserData: 2}))
	require.NoError(t, k.Drain(context.Background(), receiver.PID))

	c1, ok := receiver.Ring.PopCQ()
	require.True(t, ok)
	c2, ok := receiver.Ring.PopCQ()
	require.True(t, ok)
	require.Equal(t, int64(0xa), c1.Result)
	require.Equal(t, int64(0xb), c2.Result)
}

// TestChainCancelOnFailure is scenario 4: a CHAIN where the first
// submission references an invalid capability slot fails, and the
// chained member is cancelled without the endpoint ever receiving it.
func TestChainCancelOnFailure(t *testing.T) {
	k := New(nil)
	p := k.CreateProcess(0)
	slot, err := k.CreateEndpoint(p.PID)
	require.NoError(t, err)

	require.NoError(t, k.Submit(p.PID, ipcring.SQE{Opcode: ipcring.OpSend, CapSlot: 999, Flags: ipcring.CHAIN, UserData: 1}))
	require.NoError(t, k.Submit(p.PID, ipcring.SQE{Opcode: ipcring.OpSend, CapSlot: slot, Flags: ipcring.CHAIN, UserData: 2, Params: [4]uint64{0x78}}))
	require.NoError(t, k.Submit(p.PID, ipcring.SQE{Opcode: ipcring.OpReceive, CapSlot: slot, UserData: 3}))

	require.NoError(t, k.Drain(context.Background(), p.PID))

	c1, ok := p.Ring.PopCQ()
	require.True(t, ok)
	require.Less(t, c1.Result, int64(0))

	c2, ok := p.Ring.PopCQ()
	require.True(t, ok)
	require.NotZero(t, c2.Flags&ipcring.CANCELLED)

	c3, ok := p.Ring.PopCQ()
	require.True(t, ok)
	require.NotZero(t, c3.Flags&ipcring.CANCELLED)

	ep, err := k.Endpoint(p.PID, slot)
	require.NoError(t, err)
	require.Zero(t, ep.PendingMessages(), "cancelled chain member must never reach the endpoint")
}

// TestDrainBarrier is scenario 5: submissions execute in submission order
// when no async offload is in play — DRAIN is satisfied trivially by the
// synchronous dispatch loop, and ordering is still preserved end to end.
func TestDrainBarrier(t *testing.T) {
	k := New(nil)
	sender := k.CreateProcess(0)
	receiver := k.CreateProcess(0)
	slot, err := k.CreateEndpoint(sender.PID)
	require.NoError(t, err)
	tok, err := k.CapabilityAt(sender.PID, slot)
	require.NoError(t, err)
	rslot, _ := k.GrantCapability(receiver.PID, tok)

	require.NoError(t, k.Submit(sender.PID, ipcring.SQE{Opcode: ipcring.OpSend, CapSlot: slot, UserData: 1}))
	require.NoError(t, k.Submit(sender.PID, ipcring.SQE{Opcode: ipcring.OpSend, CapSlot: slot, Flags: ipcring.DRAIN, UserData: 2}))
	require.NoError(t, k.Submit(sender.PID, ipcring.SQE{Opcode: ipcring.OpSend, CapSlot: slot, UserData: 3}))
	require.NoError(t, k.Drain(context.Background(), sender.PID))

	for _, want := range []uint64{1, 2, 3} {
		require.NoError(t, k.Submit(receiver.PID, ipcring.SQE{Opcode: ipcring.OpReceive, CapSlot: rslot, UserData: want}))
	}
	require.NoError(t, k.Drain(context.Background(), receiver.PID))
	for _, want := range []int64{1, 2, 3} {
		c, ok := receiver.Ring.PopCQ()
		require.True(t, ok)
		require.Equal(t, want, c.Result)
	}
}

// TestCQOverflow is scenario 6: with CQ capacity 4, five fire-and-respond
// operations with no draining sets CQ_OVERFLOW on the 5th; the first 4
// completions are still readable afterward.
func TestCQOverflow(t *testing.T) {
	k := New(&Config{ProcTableShards: 4, DefaultCSQuota: 64, DefaultSQSize: 8, DefaultCQSize: 4})
	p := k.CreateProcess(0)
	slot, err := k.CreateNotification(p.PID)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, k.Submit(p.PID, ipcring.SQE{Opcode: ipcring.OpSignal, CapSlot: slot, UserData: uint64(i), Params: [4]uint64{1}}))
	}
	require.NoError(t, k.Drain(context.Background(), p.PID))

	require.NotZero(t, p.Ring.Flags()&ipcring.CQOverflow)
	count := 0
	for {
		_, ok := p.Ring.PopCQ()
		if !ok {
			break
		}
		count++
	}
	require.Equal(t, 4, count)
}

func TestSyscallForkAndKill(t *testing.T) {
	k := New(nil)
	parent := k.CreateProcess(0)
	childPID, err := k.Syscall(parent.PID, SysProcessFork, 0)
	require.NoError(t, err)
	_, err = k.Process(uint32(childPID))
	require.NoError(t, err)

	_, err = k.Syscall(parent.PID, SysProcessKill, childPID)
	require.NoError(t, err)
	_, err = k.Process(uint32(childPID))
	require.Error(t, err)
}

func TestSyscallValidateRejectsUnknown(t *testing.T) {
	k := New(nil)
	p := k.CreateProcess(0)
	_, err := k.Syscall(p.PID, Syscall(999), 0)
	require.Error(t, err)
}

func TestObjectTypeMismatchError(t *testing.T) {
	k := New(nil)
	p := k.CreateProcess(0)
	slot, err := k.CreateNotification(p.PID)
	require.NoError(t, err)
	_, err = k.Endpoint(p.PID, slot)
	require.Error(t, err)
}

func TestDefaultRightsGrantedOnCreate(t *testing.T) {
	k := New(nil)
	p := k.CreateProcess(0)
	slot, err := k.CreateEndpoint(p.PID)
	require.NoError(t, err)
	tok, err := k.CapabilityAt(p.PID, slot)
	require.NoError(t, err)
	require.True(t, tok.Rights.Contains(rights.SEND|rights.RECEIVE))
	require.Equal(t, kobject.Endpoint, tok.ObjectID.Type())
}

// TestTimeoutCancelsUnprocessedSubmission exercises OpLinkTimeout: a
// timeout armed for 20ms against UserData tag 2 fires before a later,
// separately-submitted Drain ever processes that tag, so it arrives
// already cancelled.
func TestTimeoutCancelsUnprocessedSubmission(t *testing.T) {
	k := New(nil)
	defer k.Close()
	p := k.CreateProcess(0)
	slot, err := k.CreateEndpoint(p.PID)
	require.NoError(t, err)

	require.NoError(t, k.Submit(p.PID, ipcring.SQE{
		Opcode: ipcring.OpLinkTimeout,
		Flags:  ipcring.NO_CQE,
		Params: [4]uint64{uint64(20 * 1_000_000), 2},
	}))
	require.NoError(t, k.Drain(context.Background(), p.PID))

	time.Sleep(50 * time.Millisecond)

	require.NoError(t, k.Submit(p.PID, ipcring.SQE{Opcode: ipcring.OpSend, CapSlot: slot, UserData: 2}))
	require.NoError(t, k.Drain(context.Background(), p.PID))

	c, ok := p.Ring.PopCQ()
	require.True(t, ok)
	require.Less(t, c.Result, int64(0))
	require.NotZero(t, c.Flags&ipcring.CANCELLED)
}

// TestCancelOfCompletedOperationFails is spec §8's Cancel boundary case:
// a Cancel targeting a UserData tag whose submission already ran to
// completion fails instead of silently succeeding.
func TestCancelOfCompletedOperationFails(t *testing.T) {
	k := New(nil)
	defer k.Close()
	p := k.CreateProcess(0)
	slot, err := k.CreateNotification(p.PID)
	require.NoError(t, err)

	require.NoError(t, k.Submit(p.PID, ipcring.SQE{Opcode: ipcring.OpSignal, CapSlot: slot, UserData: 5, Params: [4]uint64{1}}))
	require.NoError(t, k.Drain(context.Background(), p.PID))
	_, ok := p.Ring.PopCQ()
	require.True(t, ok, "the signal's own completion must be drained before cancelling it")

	require.NoError(t, k.Submit(p.PID, ipcring.SQE{Opcode: ipcring.OpCancel, Params: [4]uint64{5}}))
	require.NoError(t, k.Drain(context.Background(), p.PID))

	c, ok := p.Ring.PopCQ()
	require.True(t, ok)
	require.Less(t, c.Result, int64(0))
}

func TestMetricsSnapshotReportsRingState(t *testing.T) {
	k := New(nil)
	defer k.Close()
	p := k.CreateProcess(0)
	slot, err := k.CreateNotification(p.PID)
	require.NoError(t, err)
	require.NoError(t, k.Submit(p.PID, ipcring.SQE{Opcode: ipcring.OpSignal, CapSlot: slot, Params: [4]uint64{1}}))

	snap := k.Metrics(p.PID)
	require.EqualValues(t, 1, snap["process_count"])
	require.EqualValues(t, 1, snap["sq_pending"])
}
