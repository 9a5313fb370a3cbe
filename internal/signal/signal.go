// Package signal provides the abort context used by commands: cancelling
// it is the loop's abort signal, yielding an aborted completion rather
// than an error.
package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// NotifyContext returns a context cancelled on SIGINT or SIGTERM. The stop
// function must be called to release resources.
func NotifyContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
