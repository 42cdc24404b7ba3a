package app

import (
	"context"
	"os/signal"
	"syscall"

	"reap/internal/reap"
)

// sessionConfig is populated by the root command's setup before any
// subcommand runs.
var sessionConfig *reap.Config

// commandContext returns a context cancelled by SIGINT/SIGTERM so a
// running transaction can roll back cleanly.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	reap.UserExec = &reap.Executor{Context: ctx}
	reap.RootExec = &reap.Executor{Context: ctx, ShouldRunAsRoot: true, Interactive: true}
	return ctx, cancel
}

// newSession prepares the state layout and opens a full session.
func newSession() (*reap.Session, error) {
	if err := reap.EnsureStateDirs(); err != nil {
		return nil, err
	}
	return reap.NewSession(sessionConfig)
}
