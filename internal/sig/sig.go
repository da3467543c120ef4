package sig

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

type ReceivedHandler interface {
	Handle(os.Signal)
}

type ReceivedHandlerFunc func(os.Signal)

// Handle calls the underlying function with the received signal.
func (s ReceivedHandlerFunc) Handle(sig os.Signal) {
	s(sig)
}

type Handler struct {
	onSignalReceived ReceivedHandler
	sigCh            chan os.Signal
	stopCh           chan struct{}
	stop             sync.Once
}

// New creates a new signal handler that forwards the specified signals (default: SIGTERM, SIGINT, SIGHUP) to h.
func New(h ReceivedHandler, sigs ...os.Signal) *Handler {
	if len(sigs) == 0 {
		sigs = append(sigs, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	}

	ch := make(chan os.Signal, len(sigs))
	signal.Notify(ch, sigs...)

	return &Handler{
		onSignalReceived: h,
		sigCh:            ch,
		stopCh:           make(chan struct{}),
	}
}

// Loop listens for OS signals and invokes the handler when one is received, then returns.
func (h *Handler) Loop(ctx context.Context, cancel func()) error {
	defer cancel()
	defer signal.Stop(h.sigCh)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case sig := <-h.sigCh:
			h.onSignalReceived.Handle(sig)
			return nil
		}
	}
}

// Forward invokes the handler for every signal received until ctx is
// canceled or Stop is called. Unlike Loop it does not return after the
// first signal; VT switching relies on a steady stream of them.
func (h *Handler) Forward(ctx context.Context) error {
	defer signal.Stop(h.sigCh)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case sig := <-h.sigCh:
			h.onSignalReceived.Handle(sig)
		}
	}
}

// Stop makes a running Loop or Forward return.
func (h *Handler) Stop() {
	h.stop.Do(func() { close(h.stopCh) })
}
