package asyncoro

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLock_MutualExclusionFIFO(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	lock := NewLock()
	var order []string
	done := make(chan struct{}, 3)

	holder, err := sched.Spawn("holder", false, func(ctx *Context) (any, error) {
		require.NoError(t, lock.Acquire(ctx))
		order = append(order, "holder")
		if _, err := ctx.Suspend(30*time.Millisecond, nil); err != nil {
			return nil, err
		}
		return nil, lock.Release(ctx)
	})
	require.NoError(t, err)

	delays := map[string]time.Duration{"waiter1": 5 * time.Millisecond, "waiter2": 10 * time.Millisecond}
	for _, name := range []string{"waiter1", "waiter2"} {
		name := name
		_, err = sched.Spawn(name, true, func(ctx *Context) (any, error) {
			if _, err := ctx.Suspend(delays[name], nil); err != nil {
				return nil, err
			}
			if err := lock.Acquire(ctx); err != nil {
				return nil, err
			}
			order = append(order, name)
			defer func() { done <- struct{}{} }()
			return nil, lock.Release(ctx)
		})
		require.NoError(t, err)
	}

	_, resultErr := holder.Wait(context.Background())
	require.NoError(t, resultErr)
	<-done
	<-done

	require.Equal(t, []string{"holder", "waiter1", "waiter2"}, order)
}

func TestLock_ReleaseByNonOwner(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	lock := NewLock()
	c, err := sched.Spawn("rogue", false, func(ctx *Context) (any, error) {
		return nil, lock.Release(ctx)
	})
	require.NoError(t, err)

	_, resultErr := c.Wait(context.Background())
	var invalid *InvalidStateError
	require.ErrorAs(t, resultErr, &invalid)
}

func TestRLock_Reentrant(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	rl := NewRLock()
	c, err := sched.Spawn("reentrant", false, func(ctx *Context) (any, error) {
		require.NoError(t, rl.Acquire(ctx))
		require.NoError(t, rl.Acquire(ctx))
		require.NoError(t, rl.Release(ctx))
		require.NoError(t, rl.Release(ctx))
		return "ok", nil
	})
	require.NoError(t, err)

	result, resultErr := c.Wait(context.Background())
	require.NoError(t, resultErr)
	require.Equal(t, "ok", result)
}

func TestEvent_WaitThenSet(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	ev := NewEvent()
	c, err := sched.Spawn("waiter", false, func(ctx *Context) (any, error) {
		return nil, ev.Wait(ctx)
	})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.False(t, ev.IsSet())
	ev.Set()

	_, resultErr := c.Wait(context.Background())
	require.NoError(t, resultErr)
	require.True(t, ev.IsSet())
}

func TestSemaphore_BoundsConcurrency(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	sem := NewSemaphore(1)
	c1, err := sched.Spawn("first", false, func(ctx *Context) (any, error) {
		return nil, sem.Acquire(ctx)
	})
	require.NoError(t, err)
	_, resultErr := c1.Wait(context.Background())
	require.NoError(t, resultErr)

	blocked, err := sched.Spawn("second", false, func(ctx *Context) (any, error) {
		return nil, sem.Acquire(ctx)
	})
	require.NoError(t, err)

	select {
	case <-blocked.done:
		t.Fatal("second acquire should not have completed while semaphore is held")
	case <-time.After(30 * time.Millisecond):
	}

	sem.Release()
	_, resultErr = blocked.Wait(context.Background())
	require.NoError(t, resultErr)
}

func TestCondition_NotifyWakesWaiter(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	cond := NewCondition(nil)
	woke := make(chan struct{})
	c, err := sched.Spawn("waiter", false, func(ctx *Context) (any, error) {
		if err := cond.Lock.Acquire(ctx); err != nil {
			return nil, err
		}
		if err := cond.Wait(ctx); err != nil {
			return nil, err
		}
		close(woke)
		return nil, cond.Lock.Release(ctx)
	})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	cond.Notify()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("condition waiter was never woken")
	}
	_, resultErr := c.Wait(context.Background())
	require.NoError(t, resultErr)
}

func TestBlockingPool_RunReturnsResult(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	pool := NewBlockingPool(2)
	defer pool.Close()

	c, err := sched.Spawn("blocker", false, func(ctx *Context) (any, error) {
		return pool.Run(ctx, func() (any, error) {
			time.Sleep(10 * time.Millisecond)
			return 42, nil
		})
	})
	require.NoError(t, err)

	result, resultErr := c.Wait(context.Background())
	require.NoError(t, resultErr)
	require.Equal(t, 42, result)
}
