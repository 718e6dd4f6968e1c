package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"waiting-client/config"
	"waiting-client/internal/api"
	"waiting-client/internal/channel"
	"waiting-client/internal/credential"
	"waiting-client/internal/logging"
	"waiting-client/utils"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// deps holds the collaborators one command invocation needs.
type deps struct {
	cfg     *config.Config
	creds   credential.Provider
	client  *api.Client
	metrics *http.Server
	closers []func() error
	logger  zerolog.Logger
}

func newDeps(cfg *config.Config) (*deps, error) {
	rt := &deps{
		cfg:    cfg,
		logger: logging.WithComponent("cli"),
	}

	creds, closer, err := openCredentials(cfg)
	if err != nil {
		return nil, err
	}
	rt.creds = creds
	if closer != nil {
		rt.closers = append(rt.closers, closer)
	}

	rt.client = api.NewClient(api.ClientConfig{
		BaseURL:     cfg.BaseURL,
		RefreshPath: cfg.RefreshPath,
		Timeout:     cfg.RequestTimeout,
	}, creds,
		api.WithRateLimit(cfg.RequestRate, cfg.RequestBurst),
		api.WithSessionExpiredHook(func() {
			fmt.Fprintln(os.Stderr, "Your session has expired. Run `waitingctl login` again.")
		}),
	)

	if cfg.EnableMetrics {
		rt.startMetrics()
	}
	return rt, nil
}

func openCredentials(cfg *config.Config) (credential.Provider, func() error, error) {
	switch cfg.CredentialStore {
	case config.StoreMemory:
		return credential.NewMemoryStore(credential.Tokens{
			AccessToken:  cfg.AccessToken,
			RefreshToken: cfg.RefreshToken,
		}), nil, nil

	case config.StoreRedis:
		client, err := utils.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open credential store: %w", err)
		}
		return credential.NewRedisStore(client, cfg.CredentialProfile), client.Close, nil

	default:
		store, err := credential.NewBoltStore(cfg.CredentialPath, cfg.CredentialProfile)
		if err != nil {
			return nil, nil, fmt.Errorf("open credential store: %w", err)
		}
		return store, store.Close, nil
	}
}

// transport picks the push transport configured for the channel.
func (rt *deps) transport() channel.Transport {
	if rt.cfg.ChannelTransport == config.TransportPubNub {
		return channel.NewPubNubTransport(channel.PubNubConfig{
			SubscribeKey: rt.cfg.PubNubSubscribeKey,
			CipherKey:    rt.cfg.PubNubCipherKey,
		})
	}
	return channel.NewSSETransport(channel.SSEConfig{
		BaseURL:     rt.cfg.BaseURL,
		AuthHeader:  rt.cfg.ChannelAuthHeader,
		IdleTimeout: rt.cfg.ChannelIdleTimeout,
	})
}

func (rt *deps) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	rt.metrics = &http.Server{
		Addr:              rt.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := rt.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	rt.logger.Info().Str("addr", rt.cfg.MetricsAddr).Msg("metrics endpoint enabled")
}

func (rt *deps) Close() {
	if rt.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rt.metrics.Shutdown(ctx); err != nil {
			rt.logger.Warn().Err(err).Msg("metrics shutdown")
		}
	}
	for _, closer := range rt.closers {
		if err := closer(); err != nil {
			rt.logger.Warn().Err(err).Msg("close")
		}
	}
}

// withDeps builds the dependencies and a context that ends on SIGINT/SIGTERM.
func withDeps(cmd *cobra.Command, fn func(ctx context.Context, rt *deps) error) error {
	rt, err := newDeps(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return fn(ctx, rt)
}
