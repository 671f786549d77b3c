// Package hydration implements the one-shot gate that holds back reads of
// persisted state until the local cache has been loaded into the session.
//
// Until the gate opens, persisted fields are unknown, not empty.
package hydration

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hpungsan/inkwell/internal/errors"
	"github.com/hpungsan/inkwell/internal/logging"
)

// State is the hydration lifecycle. Hydrated and HydratedWithError are terminal.
type State string

const (
	StateUninitialized     State = "uninitialized"
	StateLoading           State = "loading"
	StateHydrated          State = "hydrated"
	StateHydratedWithError State = "hydrated_with_error"
)

// Done reports whether s is terminal.
func (s State) Done() bool {
	return s == StateHydrated || s == StateHydratedWithError
}

// LoadFunc loads the persisted snapshot into the session. It runs once.
type LoadFunc func(ctx context.Context) error

// Controller is the hydration gate.
type Controller struct {
	logger *zap.Logger

	mu          sync.Mutex
	state       State
	err         error
	ready       chan struct{}
	subscribers []func(State, error)
}

// New creates a controller in StateUninitialized.
func New(logger *zap.Logger) *Controller {
	return &Controller{
		logger: logging.OrNop(logger).Named("hydration"),
		state:  StateUninitialized,
		ready:  make(chan struct{}),
	}
}

// Start runs load in the background. It may be called once per controller;
// later calls return INVALID_REQUEST. A load error (or panic) moves the gate
// to StateHydratedWithError; the session proceeds with empty defaults.
func (c *Controller) Start(ctx context.Context, load LoadFunc) error {
	c.mu.Lock()
	if c.state != StateUninitialized {
		c.mu.Unlock()
		return errors.NewInvalidRequest("hydration already started")
	}
	c.state = StateLoading
	c.mu.Unlock()

	go c.run(ctx, load)
	return nil
}

func (c *Controller) run(ctx context.Context, load LoadFunc) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("hydration panic: %v", r)
			}
		}()
		err = load(ctx)
	}()

	if err != nil {
		c.logger.Error("hydration finished with errors; continuing with defaults", zap.Error(err))
		c.finish(StateHydratedWithError, errors.NewHydrationFailure(err))
		return
	}
	c.logger.Debug("hydrated")
	c.finish(StateHydrated, nil)
}

func (c *Controller) finish(state State, err error) {
	c.mu.Lock()
	c.state = state
	c.err = err
	subs := c.subscribers
	c.subscribers = nil
	c.mu.Unlock()

	// Subscribers run before waiters are released.
	for _, fn := range subs {
		fn(state, err)
	}
	close(c.ready)
}

// Wait blocks until the gate opens or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready returns a channel closed when the gate opens.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// IsHydrated reports whether the gate is open (with or without error).
func (c *Controller) IsHydrated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Done()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the HYDRATION_FAILURE error once the gate opened with an error.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// OnHydrated registers fn to run once when the gate opens. If it is already
// open fn runs immediately on the calling goroutine.
func (c *Controller) OnHydrated(fn func(State, error)) {
	c.mu.Lock()
	if c.state.Done() {
		state, err := c.state, c.err
		c.mu.Unlock()
		fn(state, err)
		return
	}
	c.subscribers = append(c.subscribers, fn)
	c.mu.Unlock()
}
