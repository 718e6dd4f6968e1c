package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"waiting-client/internal/channel"
	"waiting-client/internal/credential"
	"waiting-client/internal/logging"
	"waiting-client/internal/status"
	"waiting-client/models"
	"waiting-client/monitoring"

	"github.com/rs/zerolog"
)

// WaitingAPI is the REST surface the controller needs.
type WaitingAPI interface {
	JoinWaiting(ctx context.Context, storeID int64) error
	CancelWaiting(ctx context.Context, storeID int64) error
	WaitingStatus(ctx context.Context, storeID int64) (models.WaitingStatus, error)
}

// PushChannel opens and closes the server-push subscription.
type PushChannel interface {
	Open(ctx context.Context, storeID int64, token string, l channel.Listener) (*channel.Handle, error)
	Close(h *channel.Handle)
}

type State int

const (
	StateIdle State = iota
	StateJoining
	StateWaiting
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateJoining:
		return "JOINING"
	case StateWaiting:
		return "WAITING"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

type ControllerOption func(*WaitingController)

// WithUserID pins the current user id instead of reading it from the token.
func WithUserID(id int64) ControllerOption {
	return func(c *WaitingController) { c.userID = id }
}

// WithOnChange registers the observer of session changes.
func WithOnChange(fn func(models.WaitingSession)) ControllerOption {
	return func(c *WaitingController) { c.onChange = fn }
}

// WithOnNotice registers the observer of user-facing notices.
func WithOnNotice(fn func(Notice)) ControllerOption {
	return func(c *WaitingController) { c.onNotice = fn }
}

// WaitingController owns the current user's waiting session. It is the only
// writer of the session and keeps it in step with exactly one push handle.
type WaitingController struct {
	api     WaitingAPI
	channel PushChannel
	creds   credential.Provider

	// ctx bounds every subscription opened by the controller.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	session models.WaitingSession
	handle  *channel.Handle
	checked bool
	closed  bool
	userID  int64

	onChange func(models.WaitingSession)
	onNotice func(Notice)

	logger zerolog.Logger
}

func NewWaitingController(api WaitingAPI, ch PushChannel, creds credential.Provider, opts ...ControllerOption) *WaitingController {
	ctx, cancel := context.WithCancel(context.Background())
	c := &WaitingController{
		api:     api,
		channel: ch,
		creds:   creds,
		ctx:     ctx,
		cancel:  cancel,
		state:   StateIdle,
		logger:  logging.WithComponent("waiting"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns a copy of the current session.
func (c *WaitingController) Session() models.WaitingSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Clone()
}

func (c *WaitingController) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CheckInitialStatus reconciles with the server once per controller. Without
// a token it does nothing and the check stays pending for a later call. A
// user action issued while the check is in flight is not serialized against
// it.
func (c *WaitingController) CheckInitialStatus(ctx context.Context, storeID int64) error {
	token := credential.AccessToken(ctx, c.creds)
	if token == "" {
		return nil
	}

	c.mu.Lock()
	if c.closed || c.checked {
		c.mu.Unlock()
		return nil
	}
	c.checked = true
	c.mu.Unlock()

	return c.reconcile(ctx, storeID, token, false)
}

// RefreshStatus re-checks the server, typically after the push channel was
// lost. Unlike the initial check it also resets a stale local session.
func (c *WaitingController) RefreshStatus(ctx context.Context, storeID int64) error {
	if c.isClosed() {
		return status.ErrClosed
	}
	token := credential.AccessToken(ctx, c.creds)
	if token == "" {
		return fmt.Errorf("refresh waiting status: %w", status.ErrLoginRequired)
	}
	return c.reconcile(ctx, storeID, token, true)
}

func (c *WaitingController) reconcile(ctx context.Context, storeID int64, token string, resetIfNotWaiting bool) error {
	st, err := c.api.WaitingStatus(ctx, storeID)
	if err != nil {
		c.logger.Warn().Err(err).Int64("store_id", storeID).Msg("status check failed")
		return err
	}

	if !st.IsWaiting {
		if resetIfNotWaiting {
			c.reset(storeID)
		}
		return nil
	}

	userID := c.resolveUserID(token)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateWaiting
	c.session = models.WaitingSession{
		StoreID:   storeID,
		UserID:    userID,
		IsWaiting: true,
		Rank:      cloneRank(st.Rank),
	}
	err = c.openLocked(storeID, token)
	c.mu.Unlock()

	if err != nil {
		c.reset(storeID)
		return err
	}

	c.logger.Info().Int64("store_id", storeID).Msg("already waiting, channel reopened")
	c.changed()
	return nil
}

// Join adds the current user to the store's queue. An already-joined reply is
// treated like success.
func (c *WaitingController) Join(ctx context.Context, storeID int64) error {
	token := credential.AccessToken(ctx, c.creds)
	if token == "" {
		return fmt.Errorf("join waiting: %w", status.ErrLoginRequired)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return status.ErrClosed
	}
	if c.state == StateJoining || c.state == StateClosing {
		c.mu.Unlock()
		return fmt.Errorf("join waiting: %w", status.ErrBusy)
	}
	prev := c.state
	c.state = StateJoining
	c.mu.Unlock()

	err := c.api.JoinWaiting(ctx, storeID)
	switch {
	case err == nil:
		c.logger.Info().Int64("store_id", storeID).Msg("joined waiting")
	case errors.Is(err, status.ErrAlreadyJoined):
		c.logger.Info().Int64("store_id", storeID).Msg("already in waiting list")
	default:
		c.mu.Lock()
		if c.state == StateJoining {
			c.state = prev
		}
		c.mu.Unlock()
		c.logger.Warn().Err(err).Int64("store_id", storeID).Msg("join failed")
		return err
	}

	// the token may have been refreshed during the call
	token = credential.AccessToken(ctx, c.creds)
	userID := c.resolveUserID(token)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	var rank *int
	if c.session.IsWaiting && c.session.StoreID == storeID {
		rank = c.session.Rank
	}
	c.state = StateWaiting
	c.session = models.WaitingSession{
		StoreID:   storeID,
		UserID:    userID,
		IsWaiting: true,
		Rank:      rank,
	}
	err = c.openLocked(storeID, token)
	c.mu.Unlock()

	if err != nil {
		c.reset(storeID)
		return fmt.Errorf("join waiting: %w", err)
	}
	c.changed()
	return nil
}

// Cancel leaves the queue. Local state is reset and the channel closed even
// when the REST call fails; the failure is returned afterwards.
func (c *WaitingController) Cancel(ctx context.Context, storeID int64) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return status.ErrClosed
	}
	if c.state == StateJoining || c.state == StateClosing {
		c.mu.Unlock()
		return fmt.Errorf("cancel waiting: %w", status.ErrBusy)
	}
	c.state = StateClosing
	c.mu.Unlock()

	err := c.api.CancelWaiting(ctx, storeID)
	c.reset(storeID)
	if err != nil {
		c.logger.Warn().Err(err).Int64("store_id", storeID).Msg("cancel failed")
		return err
	}

	c.logger.Info().Int64("store_id", storeID).Msg("waiting cancelled")
	c.notify(Notice{Kind: NoticeCancelled, StoreID: storeID, Message: "Your waiting has been cancelled."})
	return nil
}

// Close tears the controller down. Afterwards no callback changes the
// session or reaches an observer.
func (c *WaitingController) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	h := c.handle
	c.handle = nil
	c.mu.Unlock()

	c.channel.Close(h)
	c.cancel()
}

// openLocked replaces the current handle. Must be called with c.mu held.
// Listener calls block on c.mu, so none can see the handle before it is
// stored.
func (c *WaitingController) openLocked(storeID int64, token string) error {
	h, err := c.channel.Open(c.ctx, storeID, token, controllerListener{c})
	if err != nil {
		return err
	}
	if c.handle != nil && c.handle != h {
		c.channel.Close(c.handle)
	}
	c.handle = h
	monitoring.SetRank(storeID, c.session.Rank)
	return nil
}

// reset returns to IDLE and closes the channel.
func (c *WaitingController) reset(storeID int64) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	h := c.handle
	c.handle = nil
	c.state = StateIdle
	c.session.IsWaiting = false
	c.session.Rank = nil
	if c.session.StoreID == 0 {
		c.session.StoreID = storeID
	}
	c.mu.Unlock()

	c.channel.Close(h)
	monitoring.SetRank(storeID, nil)
	c.changed()
}

func (c *WaitingController) onRankUpdate(h *channel.Handle, entries []models.QueueEntry) {
	c.mu.Lock()
	if c.closed || h != c.handle || c.state != StateWaiting {
		c.mu.Unlock()
		return
	}
	rank, ok := models.FindRank(entries, c.session.UserID)
	if !ok {
		c.mu.Unlock()
		c.logger.Debug().Int64("store_id", h.StoreID()).Msg("current user absent from rank update")
		return
	}
	if c.session.Rank != nil && *c.session.Rank == rank {
		c.mu.Unlock()
		return
	}
	c.session.Rank = models.IntPtr(rank)
	storeID := c.session.StoreID
	c.mu.Unlock()

	monitoring.SetRank(storeID, models.IntPtr(rank))
	c.changed()
}

func (c *WaitingController) onClosed(h *channel.Handle) {
	if !c.detach(h) {
		return
	}
	c.reset(h.StoreID())
	c.notify(Notice{
		Kind:    NoticeQueueClosed,
		StoreID: h.StoreID(),
		Message: "The waiting list has been closed.",
	})
}

func (c *WaitingController) onDisconnected(h *channel.Handle, err error) {
	if !c.detach(h) {
		return
	}
	c.logger.Warn().Err(err).Int64("store_id", h.StoreID()).Msg("waiting channel lost")
	c.reset(h.StoreID())
	c.notify(Notice{
		Kind:      NoticeDisconnected,
		StoreID:   h.StoreID(),
		Message:   "Lost connection to the waiting list.",
		Retryable: true,
	})
}

// detach reports whether h is the live handle, moving to CLOSING if so.
func (c *WaitingController) detach(h *channel.Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || h != c.handle {
		return false
	}
	c.state = StateClosing
	return true
}

func (c *WaitingController) resolveUserID(token string) int64 {
	c.mu.Lock()
	pinned := c.userID
	c.mu.Unlock()
	if pinned != 0 {
		return pinned
	}

	id, err := credential.UserIDFromToken(token)
	if err != nil {
		c.logger.Warn().Err(err).Msg("cannot read user id from token, rank updates will be ignored")
		return 0
	}
	return id
}

func (c *WaitingController) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *WaitingController) changed() {
	c.mu.Lock()
	if c.closed || c.onChange == nil {
		c.mu.Unlock()
		return
	}
	snapshot := c.session.Clone()
	fn := c.onChange
	c.mu.Unlock()

	fn(snapshot)
}

func (c *WaitingController) notify(n Notice) {
	c.mu.Lock()
	if c.closed || c.onNotice == nil {
		c.mu.Unlock()
		return
	}
	fn := c.onNotice
	c.mu.Unlock()

	fn(n)
}

func cloneRank(r *int) *int {
	if r == nil {
		return nil
	}
	return models.IntPtr(*r)
}

// controllerListener keeps the channel callbacks off the exported API.
type controllerListener struct {
	c *WaitingController
}

func (l controllerListener) OnRankUpdate(h *channel.Handle, entries []models.QueueEntry) {
	l.c.onRankUpdate(h, entries)
}

func (l controllerListener) OnClosed(h *channel.Handle) {
	l.c.onClosed(h)
}

func (l controllerListener) OnDisconnected(h *channel.Handle, err error) {
	l.c.onDisconnected(h, err)
}
