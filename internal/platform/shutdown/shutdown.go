// Package shutdown provides the process-wide signal-driven cancellation
// context every long-running command (cmd/jobqueuectl) derives its root
// context from. Promoted unchanged from the reference stack's
// inference/platform/shutdown package.
package shutdown

import (
	"context"
	"os/signal"
	"syscall"
)

// NotifyContext returns a context that is canceled when the process
// receives SIGINT or SIGTERM, the same pair the reference stack's
// inference command wires into its root context.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
