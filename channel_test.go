package asyncoro

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAsyncChannel_FanOutWithTransform(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	ch, err := NewAsyncChannel("nums", func(msg ChannelMessage) (any, bool, error) {
		n, ok := msg.Value.(int)
		if !ok || n%2 != 0 {
			return nil, false, nil
		}
		return n * 10, true, nil
	})
	require.NoError(t, err)

	var subA, subB *Coro
	subA, err = sched.Spawn("subA", false, func(ctx *Context) (any, error) {
		ch.Subscribe(ctx.Coro())
		return ctx.Receive(time.Second, nil)
	})
	require.NoError(t, err)
	subB, err = sched.Spawn("subB", false, func(ctx *Context) (any, error) {
		ch.Subscribe(ctx.Coro())
		return ctx.Receive(time.Second, nil)
	})
	require.NoError(t, err)

	// Give both subscribers a tick to register before publishing.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, ch.Send(nil, 4))

	resultA, errA := subA.Wait(context.Background())
	require.NoError(t, errA)
	require.Equal(t, 40, resultA)

	resultB, errB := subB.Wait(context.Background())
	require.NoError(t, errB)
	require.Equal(t, 40, resultB)
}

func TestAsyncChannel_TransformDropsMessage(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	ch, err := NewAsyncChannel("odds-only", func(msg ChannelMessage) (any, bool, error) {
		n := msg.Value.(int)
		return n, n%2 == 1, nil
	})
	require.NoError(t, err)

	sub, err := sched.Spawn("sub", false, func(ctx *Context) (any, error) {
		ch.Subscribe(ctx.Coro())
		return ctx.Receive(50*time.Millisecond, "dropped")
	})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, ch.Send(nil, 4)) // even: dropped

	result, resultErr := sub.Wait(context.Background())
	require.NoError(t, resultErr)
	require.Equal(t, "dropped", result)
}

func TestAsyncChannel_WaitForReceivers(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	ch, err := NewAsyncChannel("gated", nil)
	require.NoError(t, err)
	ch.SetMinReceivers(2)

	sender, err := sched.Spawn("sender", false, func(ctx *Context) (any, error) {
		if err := ch.WaitForReceivers(ctx); err != nil {
			return nil, err
		}
		return "ready", ch.Send(ctx.Coro(), "go")
	})
	require.NoError(t, err)

	for _, name := range []string{"r1", "r2"} {
		name := name
		_, err = sched.Spawn(name, false, func(ctx *Context) (any, error) {
			ch.Subscribe(ctx.Coro())
			return ctx.Receive(time.Second, nil)
		})
		require.NoError(t, err)
	}

	result, resultErr := sender.Wait(context.Background())
	require.NoError(t, resultErr)
	require.Equal(t, "ready", result)
}

func TestNewAsyncChannel_DuplicateNameRejected(t *testing.T) {
	_, err := NewAsyncChannel("dup-channel-name", nil)
	require.NoError(t, err)

	_, err = NewAsyncChannel("dup-channel-name", nil)
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
}

func TestSyncChannel_DirectHandoff(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	sync := NewSyncChannel()

	receiver, err := sched.Spawn("receiver", false, func(ctx *Context) (any, error) {
		return sync.Receive(ctx)
	})
	require.NoError(t, err)

	// Give the receiver a moment to register before delivering.
	time.Sleep(20 * time.Millisecond)
	require.True(t, sync.Deliver("handoff"))

	result, resultErr := receiver.Wait(context.Background())
	require.NoError(t, resultErr)
	require.Equal(t, "handoff", result)
}

func TestSyncChannel_DeliverWithoutRecipient(t *testing.T) {
	sync := NewSyncChannel()
	require.False(t, sync.Deliver("nobody listening"))
}

// Deliver only succeeds once MinReceivers subscribers are parked at once,
// and then fans out to all of them atomically in one broadcast.
func TestSyncChannel_MinReceiversGatesBroadcast(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	sync := NewSyncChannel()
	sync.SetMinReceivers(2)

	r1, err := sched.Spawn("r1", false, func(ctx *Context) (any, error) {
		return sync.Receive(ctx)
	})
	require.NoError(t, err)

	// Only one recipient registered: Deliver must refuse.
	time.Sleep(20 * time.Millisecond)
	require.False(t, sync.Deliver("too early"))

	r2, err := sched.Spawn("r2", false, func(ctx *Context) (any, error) {
		return sync.Receive(ctx)
	})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.True(t, sync.Deliver("broadcast"))

	result1, err1 := r1.Wait(context.Background())
	require.NoError(t, err1)
	require.Equal(t, "broadcast", result1)

	result2, err2 := r2.Wait(context.Background())
	require.NoError(t, err2)
	require.Equal(t, "broadcast", result2)
}
