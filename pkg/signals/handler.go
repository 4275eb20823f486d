package signals

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mudler/xlog"
)

// TerminationContext returns a context canceled on the first SIGINT or
// SIGTERM. A second signal exits the process without waiting.
func TerminationContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-c:
			xlog.Info("Received termination signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
			signal.Stop(c)
			return
		}
		sig := <-c
		xlog.Warn("Received second termination signal, exiting now", "signal", sig.String())
		os.Exit(1)
	}()

	return ctx, func() {
		signal.Stop(c)
		cancel()
	}
}
