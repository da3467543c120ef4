package sig

import (
	"context"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoopStop(t *testing.T) {
	called := false
	h := New(ReceivedHandlerFunc(func(os.Signal) {
		called = true
	}), syscall.SIGUSR1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.Loop(ctx, cancel)
	}()

	h.Stop()
	h.Stop()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "Loop did not exit after Stop")
	}
	require.Error(t, ctx.Err(), "Loop cancels its context on the way out")
	require.False(t, called)
}

func TestLoopSignal(t *testing.T) {
	got := make(chan os.Signal, 1)
	h := New(ReceivedHandlerFunc(func(s os.Signal) {
		got <- s
	}), syscall.SIGUSR1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.Loop(ctx, cancel)
	}()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	select {
	case s := <-got:
		require.Equal(t, syscall.SIGUSR1, s)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "handler was not called")
	}
	require.NoError(t, <-errCh)
	require.ErrorIs(t, ctx.Err(), context.Canceled)
}

// TestForwardRepeated verifies that Forward keeps delivering signals
// until Stop is called.
func TestForwardRepeated(t *testing.T) {
	var mu sync.Mutex
	var received []os.Signal
	h := New(ReceivedHandlerFunc(func(sig os.Signal) {
		mu.Lock()
		received = append(received, sig)
		mu.Unlock()
	}), syscall.SIGUSR2)

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.Forward(context.Background())
	}()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(received)
	}

	syscall.Kill(syscall.Getpid(), syscall.SIGUSR2)
	require.Eventually(t, func() bool { return count() == 1 }, 5*time.Second, 10*time.Millisecond)

	syscall.Kill(syscall.Getpid(), syscall.SIGUSR2)
	require.Eventually(t, func() bool { return count() == 2 }, 5*time.Second, 10*time.Millisecond)

	h.Stop()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.Fail(t, "Forward did not exit after Stop")
	}
	require.Equal(t, syscall.SIGUSR2, received[0])
}
