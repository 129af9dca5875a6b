package asyncoro

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func runScheduler(t *testing.T, sched *Scheduler) func() {
	t.Helper()
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sched.Run(runCtx)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("scheduler did not stop")
		}
	}
}

func TestScheduler_SpawnAndComplete(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	c, err := sched.Spawn("greeter", false, func(ctx *Context) (any, error) {
		return "hello", nil
	})
	require.NoError(t, err)

	result, resultErr := c.Wait(context.Background())
	require.NoError(t, resultErr)
	require.Equal(t, "hello", result)
}

func TestScheduler_DuplicateName(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	_, err = sched.Spawn("only", true, func(ctx *Context) (any, error) {
		return nil, ctx.Yield()
	})
	require.NoError(t, err)

	_, err = sched.Spawn("only", true, func(ctx *Context) (any, error) {
		return nil, nil
	})
	require.Error(t, err)
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
}

func TestScheduler_SuspendResumes(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	started := make(chan struct{})
	c, err := sched.Spawn("sleeper", false, func(ctx *Context) (any, error) {
		close(started)
		if _, err := ctx.Suspend(10*time.Millisecond, nil); err != nil {
			return nil, err
		}
		return "woke", nil
	})
	require.NoError(t, err)

	<-started
	result, resultErr := c.Wait(context.Background())
	require.NoError(t, resultErr)
	require.Equal(t, "woke", result)
}

func TestScheduler_SendReceive(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	var receiver *Coro
	receiver, err = sched.Spawn("receiver", false, func(ctx *Context) (any, error) {
		msg, err := ctx.Receive(time.Second, nil)
		if err != nil {
			return nil, err
		}
		return msg, nil
	})
	require.NoError(t, err)

	_, err = sched.Spawn("sender", true, func(ctx *Context) (any, error) {
		ctx.Send(receiver, "payload")
		return nil, nil
	})
	require.NoError(t, err)

	result, resultErr := receiver.Wait(context.Background())
	require.NoError(t, resultErr)
	require.Equal(t, "payload", result)
}

// A generic receive timeout is a delivered alarm value, not a thrown
// TimeoutError.
func TestScheduler_ReceiveTimesOut(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	c, err := sched.Spawn("lonely", false, func(ctx *Context) (any, error) {
		return ctx.Receive(10*time.Millisecond, "timed out")
	})
	require.NoError(t, err)

	result, resultErr := c.Wait(context.Background())
	require.NoError(t, resultErr)
	require.Equal(t, "timed out", result)
}

// Suspend(0, alarm) returns immediately without actually suspending.
func TestScheduler_SuspendZeroReturnsImmediately(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	c, err := sched.Spawn("instant", false, func(ctx *Context) (any, error) {
		return ctx.Suspend(0, "alarm")
	})
	require.NoError(t, err)

	result, resultErr := c.Wait(context.Background())
	require.NoError(t, resultErr)
	require.Equal(t, "alarm", result)
}

func TestScheduler_MonitorNotifiesOnTermination(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	watched, err := sched.Spawn("watched", false, func(ctx *Context) (any, error) {
		return "done", nil
	})
	require.NoError(t, err)

	monitor, err := sched.Spawn("monitor", false, func(ctx *Context) (any, error) {
		return ctx.Receive(time.Second, nil)
	})
	require.NoError(t, err)

	require.NoError(t, watched.Monitor(monitor))

	result, resultErr := monitor.Wait(context.Background())
	require.NoError(t, resultErr)
	sig, ok := result.(MonitorSignal)
	require.True(t, ok)
	require.Equal(t, "done", sig.Value)
	require.NoError(t, sig.Err)
}

func TestScheduler_MonitorCycleRejected(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	a, err := sched.Spawn("a", true, func(ctx *Context) (any, error) { _, err := ctx.Suspend(time.Second, nil); return nil, err })
	require.NoError(t, err)
	b, err := sched.Spawn("b", true, func(ctx *Context) (any, error) { _, err := ctx.Suspend(time.Second, nil); return nil, err })
	require.NoError(t, err)

	require.NoError(t, a.Monitor(b))
	err = b.Monitor(a)
	require.ErrorIs(t, err, ErrMonitorCycle)
}

func TestScheduler_Restart(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	c, err := sched.Spawn("once", false, func(ctx *Context) (any, error) {
		return "first", nil
	})
	require.NoError(t, err)
	_, resultErr := c.Wait(context.Background())
	require.NoError(t, resultErr)

	err = sched.Restart(c, func(ctx *Context) (any, error) {
		return "second", nil
	})
	require.NoError(t, err)

	result, resultErr := c.Wait(context.Background())
	require.NoError(t, resultErr)
	require.Equal(t, "second", result)
}

// HotSwap on a running, blocked coroutine replaces its body in place: the
// old body never reaches its own return statement, the new one runs next
// and the coroutine's identity (mailbox included) survives the swap.
func TestScheduler_HotSwapReplacesRunningBody(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	blockedInOldBody := make(chan struct{})
	c, err := sched.Spawn("swappable", false, func(ctx *Context) (any, error) {
		close(blockedInOldBody)
		msg, err := ctx.Receive(NoTimeout, nil)
		if err != nil {
			return nil, err
		}
		t.Errorf("old body should never observe a mailbox message, got %v", msg)
		return "old", nil
	})
	require.NoError(t, err)

	<-blockedInOldBody
	require.True(t, c.HotSwappable())
	require.NoError(t, c.HotSwap(func(ctx *Context) (any, error) {
		msg, err := ctx.Receive(time.Second, nil)
		if err != nil {
			return nil, err
		}
		return msg, nil
	}))

	c.Deliver("posted after swap")

	result, resultErr := c.Wait(context.Background())
	require.NoError(t, resultErr)
	require.Equal(t, "posted after swap", result)
}

func TestScheduler_Call(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	c, err := sched.Spawn("caller", false, func(ctx *Context) (any, error) {
		sum, err := ctx.Call(func(sub *Context) (any, error) {
			return 1 + 1, nil
		})
		if err != nil {
			return nil, err
		}
		if !ctx.Coro().HotSwappable() {
			t.Error("coroutine should be hot-swappable once the nested call returns")
		}
		return sum, nil
	})
	require.NoError(t, err)

	result, resultErr := c.Wait(context.Background())
	require.NoError(t, resultErr)
	require.Equal(t, 2, result)
}
