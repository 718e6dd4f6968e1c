package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"waiting-client/internal/logging"
	"waiting-client/internal/status"
	"waiting-client/models"
	"waiting-client/monitoring"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrStreamEnded is reported when a transport stops delivering without
// being asked to.
var ErrStreamEnded = errors.New("channel: stream ended")

// Transport delivers raw payloads of a store's waiting stream.
type Transport interface {
	// Subscribe blocks, passing each payload to emit, until ctx is done or
	// the stream fails.
	Subscribe(ctx context.Context, storeID int64, token string, emit func([]byte)) error
	Name() string
}

// Listener receives the events of one handle. Calls for a handle are made
// sequentially from that handle's goroutine.
type Listener interface {
	OnRankUpdate(h *Handle, entries []models.QueueEntry)
	OnClosed(h *Handle)
	OnDisconnected(h *Handle, err error)
}

// Handle is one open subscription.
type Handle struct {
	id      string
	storeID int64

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newHandle(storeID int64, cancel context.CancelFunc) *Handle {
	return &Handle{
		id:      uuid.NewString(),
		storeID: storeID,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (h *Handle) ID() string {
	return h.id
}

func (h *Handle) StoreID() int64 {
	return h.storeID
}

// Done returns a channel that is closed once the handle is closed.
func (h *Handle) Done() <-chan struct{} {
	if h == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return h.done
}

// Closed reports whether the handle has been closed.
func (h *Handle) Closed() bool {
	select {
	case <-h.Done():
		return true
	default:
		return false
	}
}

// shutdown closes the handle and reports whether this call did it.
func (h *Handle) shutdown(reason string) bool {
	closed := false
	h.closeOnce.Do(func() {
		close(h.done)
		h.cancel()
		monitoring.TrackChannelClose(reason)
		closed = true
	})
	return closed
}

// Channel keeps at most one open handle.
type Channel struct {
	transport Transport

	mu      sync.Mutex
	current *Handle

	logger zerolog.Logger
}

func New(transport Transport) *Channel {
	return &Channel{
		transport: transport,
		logger:    logging.WithComponent("channel"),
	}
}

// Open subscribes to the store's waiting stream. Any handle already open on
// this channel is closed first. The subscription lives until Close, a
// closure signal, a transport error or the end of ctx.
func (c *Channel) Open(ctx context.Context, storeID int64, token string, l Listener) (*Handle, error) {
	if token == "" {
		return nil, fmt.Errorf("open channel: %w", status.ErrLoginRequired)
	}
	if l == nil {
		return nil, errors.New("open channel: nil listener")
	}

	subCtx, cancel := context.WithCancel(ctx)
	h := newHandle(storeID, cancel)

	c.mu.Lock()
	prev := c.current
	c.current = h
	c.mu.Unlock()

	if prev != nil && prev.shutdown("replaced") {
		c.logger.Debug().Str("handle", prev.id).Msg("replaced open handle")
	}

	monitoring.TrackChannelOpen(c.transport.Name())
	c.logger.Info().
		Int64("store_id", storeID).
		Str("handle", h.id).
		Str("transport", c.transport.Name()).
		Msg("channel opened")

	go c.run(subCtx, h, token, l)
	return h, nil
}

// Close closes h. It is a no-op for nil or already closed handles and never
// waits on the network.
func (c *Channel) Close(h *Handle) {
	if h == nil {
		return
	}
	if h.shutdown("local") {
		c.logger.Info().Int64("store_id", h.storeID).Str("handle", h.id).Msg("channel closed")
	}
	c.release(h)
}

// Current returns the open handle, or nil.
func (c *Channel) Current() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.Closed() {
		return nil
	}
	return c.current
}

func (c *Channel) release(h *Handle) {
	c.mu.Lock()
	if c.current == h {
		c.current = nil
	}
	c.mu.Unlock()
}

func (c *Channel) run(ctx context.Context, h *Handle, token string, l Listener) {
	err := c.transport.Subscribe(ctx, h.storeID, token, func(raw []byte) {
		c.dispatch(h, raw, l)
	})

	if h.Closed() {
		return
	}
	if err == nil {
		err = ErrStreamEnded
	}
	if h.shutdown("error") {
		c.release(h)
		c.logger.Warn().Err(err).Int64("store_id", h.storeID).Str("handle", h.id).Msg("channel disconnected")
		l.OnDisconnected(h, err)
	}
}

func (c *Channel) dispatch(h *Handle, raw []byte, l Listener) {
	if h.Closed() {
		return
	}

	msg := Decode(raw)
	monitoring.TrackChannelMessage(msg.Kind.String())

	switch msg.Kind {
	case KindClosure:
		if h.shutdown("server") {
			c.release(h)
			c.logger.Info().Int64("store_id", h.storeID).Str("handle", h.id).Msg("waiting closed by server")
			l.OnClosed(h)
		}
	case KindRankUpdate:
		l.OnRankUpdate(h, msg.Entries)
	default:
		c.logger.Warn().Int64("store_id", h.storeID).Str("payload", truncate(msg.Raw, 256)).Msg("dropping unrecognized payload")
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
