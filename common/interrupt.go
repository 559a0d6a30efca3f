package common

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Interrupted notifies on interrupt and termination signals.
func Interrupted() <-chan os.Signal {
	interrupt := make(chan os.Signal, 2)
	signal.Notify(interrupt,
		os.Interrupt,
		syscall.SIGTERM, syscall.SIGQUIT,
	)
	return interrupt
}

// InterruptContext returns a context that is cancelled on the first signal.
// onSecond, if non-nil, runs on a second signal.
func InterruptContext(parent context.Context, onSecond func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	interrupt := Interrupted()
	go func() {
		defer signal.Stop(interrupt)
		select {
		case sig := <-interrupt:
			slog.Warn("Received signal, stopping", "signal", sig)
			cancel()
		case <-ctx.Done():
			return
		}
		if onSecond == nil {
			return
		}
		sig := <-interrupt
		slog.Warn("Received second signal", "signal", sig)
		onSecond()
	}()
	return ctx, cancel
}
