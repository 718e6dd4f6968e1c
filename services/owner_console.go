package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"waiting-client/internal/api"
	"waiting-client/internal/logging"
	"waiting-client/internal/status"
	"waiting-client/models"
	"waiting-client/monitoring"
	"waiting-client/utils"

	"github.com/rs/zerolog"
)

const DefaultPollInterval = 5 * time.Second

// OwnerAPI is the REST surface of the owner console.
type OwnerAPI interface {
	WaitingList(ctx context.Context, storeID int64) (models.QueueSnapshot, error)
	PollWaiting(ctx context.Context, storeID int64) error
	ClearWaiting(ctx context.Context, storeID int64, cutline int) error
}

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

type ConsoleOption func(*OwnerConsole)

func WithPollInterval(d time.Duration) ConsoleOption {
	return func(c *OwnerConsole) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithPollBreaker pauses scheduled polls for cooldown after maxFailures
// consecutive failed polls, overriding the fixed interval while the backend
// keeps failing. Manual refreshes are never paused. Without this option every
// tick polls.
func WithPollBreaker(maxFailures uint32, cooldown time.Duration) ConsoleOption {
	return func(c *OwnerConsole) {
		c.breaker = utils.NewCircuitBreaker("owner-poll", maxFailures, cooldown)
	}
}

func WithConfirmer(cf Confirmer) ConsoleOption {
	return func(c *OwnerConsole) { c.confirmer = cf }
}

// WithOnSnapshot registers the observer of applied snapshots.
func WithOnSnapshot(fn func(models.QueueSnapshot)) ConsoleOption {
	return func(c *OwnerConsole) { c.onSnapshot = fn }
}

// WithOnError registers the observer of failed owner actions.
func WithOnError(fn func(Notice)) ConsoleOption {
	return func(c *OwnerConsole) { c.onError = fn }
}

// OwnerConsole keeps a polled view of one store's queue.
type OwnerConsole struct {
	api       OwnerAPI
	storeID   int64
	interval  time.Duration
	confirmer Confirmer
	breaker   *utils.CircuitBreaker

	mu          sync.Mutex
	snapshot    models.QueueSnapshot
	hasSnapshot bool
	running     bool
	stopChan    chan struct{}
	wg          sync.WaitGroup

	onSnapshot func(models.QueueSnapshot)
	onError    func(Notice)

	logger zerolog.Logger
}

func NewOwnerConsole(client OwnerAPI, storeID int64, opts ...ConsoleOption) *OwnerConsole {
	c := &OwnerConsole{
		api:      client,
		storeID:  storeID,
		interval: DefaultPollInterval,
		logger:   logging.WithStore("owner", storeID),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start fetches a snapshot right away and then on every tick until Stop or
// the end of ctx. Calling Start on a running console is a no-op.
func (c *OwnerConsole) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stopChan = make(chan struct{})

	c.wg.Add(1)
	go c.pollLoop(ctx, c.stopChan)
}

// Stop ends polling and waits for the loop to exit. It is safe to call more
// than once.
func (c *OwnerConsole) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopChan)
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Debug().Msg("polling stopped")
}

func (c *OwnerConsole) pollLoop(ctx context.Context, stop <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Debug().Dur("interval", c.interval).Msg("polling started")
	c.poll(ctx)

	for {
		select {
		case <-ticker.C:
			c.poll(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *OwnerConsole) poll(ctx context.Context) {
	refresh := func() error { return c.Refresh(ctx) }

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(refresh)
	} else {
		err = refresh()
	}

	switch {
	case err == nil:
		monitoring.TrackOwnerPoll("success")
	case errors.Is(err, utils.ErrBreakerOpen):
		monitoring.TrackOwnerPoll("skipped")
		c.logger.Debug().Msg("poll skipped, backend unhealthy")
	case ctx.Err() != nil:
	default:
		monitoring.TrackOwnerPoll("error")
		event := c.logger.Warn().Err(err)
		if c.breaker != nil {
			event = event.Str("breaker", c.breaker.State().String())
		}
		event.Msg("queue poll failed")
	}
}

// Refresh fetches the queue and replaces the held snapshot wholesale.
func (c *OwnerConsole) Refresh(ctx context.Context) error {
	snap, err := c.api.WaitingList(ctx, c.storeID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.snapshot = snap.Clone()
	c.hasSnapshot = true
	fn := c.onSnapshot
	c.mu.Unlock()

	if fn != nil {
		fn(snap.Clone())
	}
	return nil
}

// Snapshot returns the last applied snapshot and whether one exists.
func (c *OwnerConsole) Snapshot() (models.QueueSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.Clone(), c.hasSnapshot
}

// AdmitFirst admits the first-ranked party and refreshes immediately.
func (c *OwnerConsole) AdmitFirst(ctx context.Context) error {
	if err := c.api.PollWaiting(ctx, c.storeID); err != nil {
		c.fail("admit first", err)
		return err
	}
	c.logger.Info().Msg("admitted first in line")

	if err := c.Refresh(ctx); err != nil {
		c.fail("refresh", err)
		return err
	}
	return nil
}

// ClearFromRank removes every party at or beyond cutline once the operator
// confirms, then refreshes. Nothing is filtered locally.
func (c *OwnerConsole) ClearFromRank(ctx context.Context, cutline int) error {
	if cutline < 1 {
		return fmt.Errorf("clear waiting: %w", status.ErrInvalidCutline)
	}

	prompt := fmt.Sprintf("Remove every party from rank %d onwards?", cutline)
	ok, err := c.confirm(ctx, prompt)
	if err != nil {
		return fmt.Errorf("clear waiting: confirm: %w", err)
	}
	if !ok {
		c.logger.Info().Int("cutline", cutline).Msg("clear declined")
		return status.ErrNotConfirmed
	}

	if err := c.api.ClearWaiting(ctx, c.storeID, cutline); err != nil {
		c.fail("clear", err)
		return err
	}
	c.logger.Info().Int("cutline", cutline).Msg("queue cleared from rank")

	if err := c.Refresh(ctx); err != nil {
		c.fail("refresh", err)
		return err
	}
	return nil
}

func (c *OwnerConsole) confirm(ctx context.Context, prompt string) (bool, error) {
	if c.confirmer == nil {
		return false, nil
	}
	return c.confirmer.Confirm(ctx, prompt)
}

func (c *OwnerConsole) fail(action string, err error) {
	c.logger.Warn().Err(err).Str("action", action).Msg("owner action failed")
	if c.onError == nil {
		return
	}
	c.onError(Notice{
		Kind:      NoticeActionFailed,
		StoreID:   c.storeID,
		Message:   api.Message(err),
		Retryable: true,
	})
}
