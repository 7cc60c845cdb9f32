// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package endpoint

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendThenReceiveFIFO(t *testing.T) {
	ep := New()
	ep.Send(Message{Tag: 1})
	ep.Send(Message{Tag: 2})
	ep.Send(Message{Tag: 3})
	require.Equal(t, 3, ep.PendingMessages())

	for _, want := range []uint64{1, 2, 3} {
		msg, err := ep.Receive(false)
		require.NoError(t, err)
		require.Equal(t, want, msg.Tag)
	}
}

func TestReceiveNowaitEmptyWouldBlock(t *testing.T) {
	ep := New()
	_, err := ep.Receive(true)
	require.ErrorIs(t, err, ErrWouldBlock)
}

// TestReceiveBlocksThenDelivered is spec §8 scenario 3: a blocked receiver
// is satisfied directly by a concurrent Send, bypassing the queue.
func TestReceiveBlocksThenDelivered(t *testing.T) {
	ep := New()
	var wg sync.WaitGroup
	var got Message
	wg.Add(1)
	go func() {
		defer wg.Done()
		msg, err := ep.Receive(false)
		require.NoError(t, err)
		got = msg
	}()

	// Give the receiver a moment to park.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, ep.BlockedReceivers())
	require.Zero(t, ep.PendingMessages())

	ep.Send(Message{Tag: 42})
	wg.Wait()
	require.Equal(t, uint64(42), got.Tag)
	require.Zero(t, ep.BlockedReceivers())
	require.Zero(t, ep.PendingMessages())
}

func TestMutualExclusionInvariant(t *testing.T) {
	ep := New()
	// Messages queued with no waiters: waiters must be empty.
	ep.Send(Message{Tag: 1})
	require.Equal(t, 1, ep.PendingMessages())
	require.Zero(t, ep.BlockedReceivers())

	// Drain, then a parked receiver with no messages: messages must be empty.
	_, _ = ep.Receive(false)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = ep.Receive(false)
	}()
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, ep.PendingMessages())
	require.Equal(t, 1, ep.BlockedReceivers())
	ep.Send(Message{Tag: 2})
	wg.Wait()
}

func TestCallReplyRoundTrip(t *testing.T) {
	svc := New()
	replyTo := New()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		req, err := svc.Receive(false)
		require.NoError(t, err)
		require.Equal(t, uint64(7), req.Tag)
		replyTo.Reply(Message{Tag: 8})
	}()

	resp, err := svc.Call(Message{Tag: 7}, replyTo)
	require.NoError(t, err)
	require.Equal(t, uint64(8), resp.Tag)
	wg.Wait()
}

func TestCapabilityAttachmentCarried(t *testing.T) {
	ep := New()
	msg := Message{Tag: 1, HasCap: true}
	ep.Send(msg)
	got, err := ep.Receive(false)
	require.NoError(t, err)
	require.True(t, got.HasCap)
}
