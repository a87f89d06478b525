// Package supervisor starts the process's workers together under one
// errgroup and drives cooperative shutdown on SIGINT/SIGTERM, cancelling
// them all at once.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Component is anything the supervisor can run and stop: Run blocks until
// ctx is cancelled or a fatal error occurs.
type Component struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor runs a set of components under one errgroup, with a small
// delay after broker connect before consumers start (avoiding races with
// queue declaration), and bounds shutdown by killTimeout.
type Supervisor struct {
	components         []Component
	brokerConnectDelay time.Duration
	killTimeout        time.Duration
	log                *slog.Logger
}

func New(log *slog.Logger, killTimeout time.Duration) *Supervisor {
	return &Supervisor{brokerConnectDelay: 500 * time.Millisecond, killTimeout: killTimeout, log: log}
}

// Add registers a component to run once Run is called.
func (s *Supervisor) Add(name string, run func(ctx context.Context) error) {
	s.components = append(s.components, Component{Name: name, Run: run})
}

// Run starts every registered component and blocks until ctx is cancelled
// or one of them returns a non-nil, non-context error. On cancellation it
// waits up to killTimeout for components to finish before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	time.Sleep(s.brokerConnectDelay)

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range s.components {
		c := c
		g.Go(func() error {
			s.log.Info("component starting", "component", c.Name)
			err := c.Run(gctx)
			if err != nil && gctx.Err() == nil {
				s.log.Error("component failed", "component", c.Name, "err", err)
				return err
			}
			s.log.Info("component stopped", "component", c.Name)
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		select {
		case err := <-done:
			return err
		case <-time.After(s.killTimeout):
			s.log.Warn("kill timeout exceeded, exiting regardless of in-flight handlers")
			return ctx.Err()
		}
	}
}
