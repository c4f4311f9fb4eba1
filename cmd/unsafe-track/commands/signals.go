package commands

import (
	"context"
	"os/signal"
	"syscall"
)

// contextWithSignals returns a context cancelled on SIGINT or SIGTERM.
func contextWithSignals() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
