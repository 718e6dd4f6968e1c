package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"waiting-client/internal/logging"

	"github.com/google/uuid"
	pubnub "github.com/pubnub/go/v7"
	"github.com/rs/zerolog"
)

type PubNubConfig struct {
	SubscribeKey string
	CipherKey    string
	UserID       string
}

// PubNubTransport receives the store's waiting stream over PubNub.
type PubNubTransport struct {
	cfg    PubNubConfig
	logger zerolog.Logger
}

func NewPubNubTransport(cfg PubNubConfig) *PubNubTransport {
	if cfg.UserID == "" {
		cfg.UserID = "waiting-client-" + uuid.NewString()
	}
	return &PubNubTransport{
		cfg:    cfg,
		logger: logging.WithComponent("pubnub"),
	}
}

func (t *PubNubTransport) Name() string {
	return "pubnub"
}

// ChannelName returns the PubNub channel of a store.
func ChannelName(storeID int64) string {
	return fmt.Sprintf("waiting-%d", storeID)
}

func (t *PubNubTransport) Subscribe(ctx context.Context, storeID int64, token string, emit func([]byte)) error {
	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(t.cfg.UserID))
	pnCfg.SubscribeKey = t.cfg.SubscribeKey
	pnCfg.CipherKey = t.cfg.CipherKey
	pnCfg.AuthKey = token

	pn := pubnub.NewPubNub(pnCfg)
	listener := pubnub.NewListener()
	pn.AddListener(listener)

	name := ChannelName(storeID)
	pn.Subscribe().Channels([]string{name}).Execute()
	defer func() {
		pn.Unsubscribe().Channels([]string{name}).Execute()
		pn.RemoveListener(listener)
		pn.Destroy()
	}()

	log := t.logger.With().Int64("store_id", storeID).Str("channel", name).Logger()

	for {
		select {
		case st := <-listener.Status:
			switch st.Category {
			case pubnub.PNConnectedCategory:
				log.Debug().Msg("connected to pubnub")

			case pubnub.PNReconnectedCategory:
				log.Info().Msg("reconnected to pubnub")

			case pubnub.PNDisconnectedCategory,
				pubnub.PNAccessDeniedCategory,
				pubnub.PNBadRequestCategory,
				pubnub.PNReconnectionAttemptsExhausted:
				return fmt.Errorf("pubnub: subscription ended: %v", st.Category)

			default:
				log.Debug().Msgf("pubnub status %v", st.Category)
			}

		case m := <-listener.Message:
			if m.Channel != name {
				continue
			}
			raw, err := payloadBytes(m.Message)
			if err != nil {
				log.Warn().Err(err).Msg("dropping pubnub message")
				continue
			}
			emit(raw)

		case <-ctx.Done():
			return nil
		}
	}
}

// payloadBytes turns a PubNub message back into JSON-ish bytes. Strings are
// passed through so both quoted and bare closure signals survive.
func payloadBytes(v interface{}) ([]byte, error) {
	switch p := v.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case nil:
		return nil, fmt.Errorf("empty message")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %w", err)
	}
	return b, nil
}
