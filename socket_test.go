package asyncoro

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestAsyncSocket_EchoRoundTrip drives a length-prefixed echo: a listener
// coroutine reads one framed message and writes it straight back, a client
// coroutine sends one and asserts it gets the same bytes out.
func TestAsyncSocket_EchoRoundTrip(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	const addr = "127.0.0.1:18271"
	listener, err := Listen(sched, addr)
	require.NoError(t, err)
	defer listener.Close()

	serverDone := make(chan error, 1)
	_, err = sched.Spawn("echo-server", true, func(ctx *Context) (any, error) {
		sock, err := listener.Accept(ctx)
		if err != nil {
			serverDone <- err
			return nil, err
		}
		defer sock.Close()
		msg, err := sock.ReceiveMessage(ctx)
		if err != nil {
			serverDone <- err
			return nil, err
		}
		serverDone <- sock.SendMessage(ctx, msg)
		return nil, nil
	})
	require.NoError(t, err)

	client, err := sched.Spawn("echo-client", false, func(ctx *Context) (any, error) {
		sock, err := DialContext(ctx, addr)
		if err != nil {
			return nil, err
		}
		defer sock.Close()
		if err := sock.SendMessage(ctx, []byte("ping")); err != nil {
			return nil, err
		}
		return sock.ReceiveMessage(ctx)
	})
	require.NoError(t, err)

	result, resultErr := client.Wait(context.Background())
	require.NoError(t, resultErr)
	require.Equal(t, []byte("ping"), result)

	select {
	case serverErr := <-serverDone:
		require.NoError(t, serverErr)
	case <-time.After(time.Second):
		t.Fatal("echo server never finished")
	}
}

// TestAsyncSocket_ReceiveMessageOnCleanClose asserts ReceiveMessage reports
// a nil, nil result (not an error) when the peer closes before sending
// anything, matching the length-prefix framing's documented EOF contract.
func TestAsyncSocket_ReceiveMessageOnCleanClose(t *testing.T) {
	sched, err := NewScheduler()
	require.NoError(t, err)
	stop := runScheduler(t, sched)
	defer stop()

	const addr = "127.0.0.1:18272"
	listener, err := Listen(sched, addr)
	require.NoError(t, err)
	defer listener.Close()

	_, err = sched.Spawn("closer", true, func(ctx *Context) (any, error) {
		sock, err := listener.Accept(ctx)
		if err != nil {
			return nil, err
		}
		return nil, sock.Close()
	})
	require.NoError(t, err)

	client, err := sched.Spawn("reader", false, func(ctx *Context) (any, error) {
		sock, err := DialContext(ctx, addr)
		if err != nil {
			return nil, err
		}
		defer sock.Close()
		return sock.ReceiveMessage(ctx)
	})
	require.NoError(t, err)

	result, resultErr := client.Wait(context.Background())
	require.NoError(t, resultErr)
	require.Nil(t, result)
}
