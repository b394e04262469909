package auth

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"shadowcam/internal/logging"
	"shadowcam/internal/services"
)

const expirySkew = 30 * time.Second

// Prompter asks the operator to sign in. Implementations must not block.
type Prompter interface {
	PromptSignIn()
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func()

func (f PrompterFunc) PromptSignIn() { f() }

// CountingPrompter records prompts so a remote UI can react to them.
type CountingPrompter struct {
	count atomic.Int64
	next  Prompter
}

// NewCountingPrompter wraps next, which may be nil.
func NewCountingPrompter(next Prompter) *CountingPrompter {
	return &CountingPrompter{next: next}
}

func (p *CountingPrompter) PromptSignIn() {
	p.count.Add(1)
	if p.next != nil {
		p.next.PromptSignIn()
	}
}

// Count returns how many prompts have been requested.
func (p *CountingPrompter) Count() int64 { return p.count.Load() }

// ManagerOption customises Manager construction.
type ManagerOption func(*Manager)

// WithPrompter sets the sign-in prompter.
func WithPrompter(p Prompter) ManagerOption {
	return func(m *Manager) {
		if p != nil {
			m.prompter = p
		}
	}
}

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Manager is the auth collaborator consumed by sessions.
type Manager struct {
	store    Store
	prompter Prompter
	now      func() time.Time
	logger   *slog.Logger
	group    singleflight.Group
	reloads  atomic.Int64

	mu     sync.RWMutex
	cached Token
}

// NewManager builds a Manager and primes its cache from store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		prompter: PrompterFunc(func() {}),
		now:      time.Now,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "auth")
	if _, err := m.Reload(); err != nil {
		m.logger.Warn("token file unreadable; sign-in required",
			logging.Error(err),
			logging.String(logging.FieldEventType, "token_load_failed"),
			logging.String(logging.FieldErrorHint, "run shadowcam login"),
		)
	}
	return m
}

// IsAuthenticated reports whether a usable token is cached or on disk.
func (m *Manager) IsAuthenticated() bool {
	if _, ok := m.cachedToken(); ok {
		return true
	}
	tok, err := m.refresh(context.Background())
	return err == nil && tok != ""
}

// Token returns a current access token, reloading from the store when the
// cached one is missing or about to expire. Overlapping callers share one
// reload.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if tok, ok := m.cachedToken(); ok {
		return tok, nil
	}
	return m.refresh(ctx)
}

// PromptSignIn forwards to the configured prompter.
func (m *Manager) PromptSignIn() {
	m.logger.Info("sign-in required", logging.String(logging.FieldEventType, "sign_in_prompt"))
	m.prompter.PromptSignIn()
}

// Reload replaces the cache with the stored token.
func (m *Manager) Reload() (Token, error) {
	tok, err := m.store.Load()
	if err != nil {
		return Token{}, err
	}
	m.mu.Lock()
	m.cached = tok
	m.mu.Unlock()
	return tok, nil
}

// Current returns the cached token without validation.
func (m *Manager) Current() Token {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cached
}

// Set stores and caches tok.
func (m *Manager) Set(tok Token) error {
	if err := m.store.Save(tok); err != nil {
		return err
	}
	m.mu.Lock()
	m.cached = tok
	m.mu.Unlock()
	return nil
}

// Logout forgets the token in memory and on disk.
func (m *Manager) Logout() error {
	m.mu.Lock()
	m.cached = Token{}
	m.mu.Unlock()
	return m.store.Clear()
}

// Refreshes reports how many store reloads Token has triggered.
func (m *Manager) Refreshes() int64 { return m.reloads.Load() }

func (m *Manager) cachedToken() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cached.Valid(m.now(), expirySkew) {
		return m.cached.AccessToken, true
	}
	return "", false
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	ch := m.group.DoChan("refresh", func() (any, error) {
		m.reloads.Add(1)
		tok, err := m.Reload()
		if err != nil {
			return "", services.Wrap(services.ErrAuthRequired, "auth", "refresh", "token file unreadable", err)
		}
		if !tok.Valid(m.now(), expirySkew) {
			if !tok.Empty() {
				m.logger.Info("stored token expired", logging.String(logging.FieldEventType, "token_expired"))
			}
			return "", services.Wrap(services.ErrAuthRequired, "auth", "refresh", "sign-in required", nil)
		}
		return tok.AccessToken, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
