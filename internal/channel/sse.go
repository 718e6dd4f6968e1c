package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"waiting-client/internal/api"
	"waiting-client/internal/logging"

	"github.com/r3labs/sse/v2"
	"github.com/rs/zerolog"
	backoff "gopkg.in/cenkalti/backoff.v1"
)

// ErrIdleTimeout is returned when the stream stays silent past the idle
// tolerance.
var ErrIdleTimeout = errors.New("sse: idle timeout")

// StatusError is a non-200 reply to the subscribe request.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sse: unexpected status %d", e.StatusCode)
}

type SSEConfig struct {
	BaseURL string

	// AuthHeader carries the raw access token. Defaults to Authorization.
	AuthHeader string

	// IdleTimeout bounds the silence between two reads. Defaults to 10m.
	IdleTimeout time.Duration

	// HTTPClient must not set a Timeout, the stream is long-lived.
	HTTPClient *http.Client
}

// SSETransport reads the store's waiting stream as server-sent events.
type SSETransport struct {
	baseURL     string
	authHeader  string
	idleTimeout time.Duration
	hc          *http.Client
	logger      zerolog.Logger
}

func NewSSETransport(cfg SSEConfig) *SSETransport {
	t := &SSETransport{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		authHeader:  cfg.AuthHeader,
		idleTimeout: cfg.IdleTimeout,
		hc:          cfg.HTTPClient,
		logger:      logging.WithComponent("sse"),
	}
	if t.authHeader == "" {
		t.authHeader = "Authorization"
	}
	if t.idleTimeout <= 0 {
		t.idleTimeout = 10 * time.Minute
	}
	if t.hc == nil {
		t.hc = &http.Client{}
	}
	return t
}

func (t *SSETransport) Name() string {
	return "sse"
}

// Subscribe returns nil when ctx ends, otherwise the reason the stream
// stopped. It connects once; reconnecting is left to the caller.
func (t *SSETransport) Subscribe(ctx context.Context, storeID int64, token string, emit func([]byte)) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var idled atomic.Bool
	watchdog := time.AfterFunc(t.idleTimeout, func() {
		idled.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	logger := t.logger.With().Int64("store_id", storeID).Logger()

	client := sse.NewClient(t.baseURL + api.SubscribePath(storeID))
	client.Connection = t.streamClient(func() { watchdog.Reset(t.idleTimeout) })
	client.Headers = map[string]string{t.authHeader: token}
	client.ReconnectStrategy = &backoff.StopBackOff{}
	client.ResponseValidator = validateStatus
	client.OnConnect(func(*sse.Client) {
		logger.Debug().Msg("stream connected")
	})
	client.OnDisconnect(func(*sse.Client) {
		logger.Debug().Msg("stream disconnected")
	})

	err := client.SubscribeRawWithContext(streamCtx, func(ev *sse.Event) {
		if len(ev.Data) == 0 {
			return
		}
		emit(ev.Data)
	})

	var statusErr *StatusError
	switch {
	case idled.Load():
		return ErrIdleTimeout
	case ctx.Err() != nil:
		return nil
	case err == nil:
		return ErrStreamEnded
	case errors.As(err, &statusErr):
		return statusErr
	}
	return fmt.Errorf("sse: subscribe: %w", err)
}

// streamClient copies the configured client and reports every byte read
// from a response body to touch.
func (t *SSETransport) streamClient(touch func()) *http.Client {
	hc := *t.hc
	base := hc.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc.Transport = &activityTransport{base: base, touch: touch}
	return &hc
}

func validateStatus(_ *sse.Client, resp *http.Response) error {
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

type activityTransport struct {
	base  http.RoundTripper
	touch func()
}

func (a *activityTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := a.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	a.touch()
	resp.Body = &activityBody{ReadCloser: resp.Body, touch: a.touch}
	return resp, nil
}

type activityBody struct {
	io.ReadCloser
	touch func()
}

func (b *activityBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.touch()
	}
	return n, err
}
