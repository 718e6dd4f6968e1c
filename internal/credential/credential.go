// Package credential persists the access and refresh tokens shared by every
// outbound call and by the push channel.
package credential

import (
	"context"
	"sync"
)

// Storage keys, kept identical across backends.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
)

type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Provider is the token store capability injected into the HTTP client,
// the push channel and the controllers.
type Provider interface {
	Get(ctx context.Context) (Tokens, error)
	Set(ctx context.Context, t Tokens) error
	Clear(ctx context.Context) error
}

// AccessToken is a convenience for callers that only need the access token.
// Storage errors are reported as an empty token.
func AccessToken(ctx context.Context, p Provider) string {
	t, err := p.Get(ctx)
	if err != nil {
		return ""
	}
	return t.AccessToken
}

// MemoryStore keeps tokens for the lifetime of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens Tokens
}

func NewMemoryStore(initial Tokens) *MemoryStore {
	return &MemoryStore{tokens: initial}
}

func (m *MemoryStore) Get(_ context.Context) (Tokens, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens, nil
}

func (m *MemoryStore) Set(_ context.Context, t Tokens) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = t
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = Tokens{}
	return nil
}
