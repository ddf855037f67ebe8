package job

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WatchSignals wires SIGTERM/SIGINT/SIGHUP to a graceful Disconnect and
// SIGUSR1 to an immediate process exit, per spec.md §4.D item 1. It
// blocks until ctx is cancelled or a signal triggers the graceful path,
// so call it from its own goroutine (e.g. via Job.Go).
func (j *Job) WatchSignals(ctx context.Context) {
	graceful := make(chan os.Signal, 1)
	signal.Notify(graceful, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(graceful)

	hard := make(chan os.Signal, 1)
	signal.Notify(hard, syscall.SIGUSR1)
	defer signal.Stop(hard)

	select {
	case <-ctx.Done():
		return
	case <-graceful:
		j.Disconnect(context.Background())
	case <-hard:
		os.Exit(0)
	}
}
