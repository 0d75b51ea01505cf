package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/anchorageoss/turnkey-sdk-go/activity"
	"github.com/anchorageoss/turnkey-sdk-go/api"
	"github.com/anchorageoss/turnkey-sdk-go/crypto"
	"github.com/anchorageoss/turnkey-sdk-go/stamper"
	"github.com/anchorageoss/turnkey-sdk-go/storage"
)

// Config configures a Manager.
type Config struct {
	// Storage persists the embedded key, the session index and sessions.
	Storage storage.Storage

	// BaseURL, OrganizationID, HTTPClient and ActivityPoller are used to
	// build the API client of each session. OrganizationID is the parent
	// organization; a session client is scoped to its user's organization.
	BaseURL        string
	OrganizationID string
	HTTPClient     api.HTTPClient
	ActivityPoller activity.Config

	Clock  clock.Clock
	Logger *zap.Logger

	// Callbacks run after the Manager releases its lock. They never affect
	// the result of the operation that triggered them.
	OnSessionCreated  func(*Session)
	OnSessionSelected func(*Session)
	OnSessionExpired  func(key string)
	OnSessionCleared  func(key string)
}

type expiryTimer struct {
	timer *clock.Timer
	gen   uint64
}

// Manager owns the session index, the selected session and one expiry timer
// per live session. All entry points are serialized by one mutex that is
// held across storage I/O.
type Manager struct {
	cfg   Config
	store storage.Storage
	clock clock.Clock
	log   *zap.Logger

	mu       sync.Mutex
	selected *Session
	client   *api.Client
	timers   map[string]*expiryTimer
	gen      uint64

	closed atomic.Bool
}

// NewManager creates a Manager. Call Init to reconcile previously persisted
// sessions.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Manager{
		cfg:    cfg,
		store:  cfg.Storage,
		clock:  cfg.Clock,
		log:    cfg.Logger.Named("session"),
		timers: map[string]*expiryTimer{},
	}, nil
}

// events collects callbacks while the lock is held.
type events []func()

func (m *Manager) run(fn func(ev *events) error) error {
	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		return ErrClosed
	}
	var ev events
	err := fn(&ev)
	m.mu.Unlock()

	for _, f := range ev {
		m.dispatch(f)
	}
	return err
}

func (m *Manager) dispatch(f func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("session callback panicked", zap.Any("panic", r))
		}
	}()
	f()
}

func (ev *events) created(m *Manager, s *Session) {
	if cb := m.cfg.OnSessionCreated; cb != nil {
		s = s.clone()
		*ev = append(*ev, func() { cb(s) })
	}
}

func (ev *events) selected(m *Manager, s *Session) {
	if cb := m.cfg.OnSessionSelected; cb != nil {
		s = s.clone()
		*ev = append(*ev, func() { cb(s) })
	}
}

func (ev *events) expired(m *Manager, key string) {
	if cb := m.cfg.OnSessionExpired; cb != nil {
		*ev = append(*ev, func() { cb(key) })
	}
}

func (ev *events) cleared(m *Manager, key string) {
	if cb := m.cfg.OnSessionCleared; cb != nil {
		*ev = append(*ev, func() { cb(key) })
	}
}

// CreateEmbeddedKey generates a P-256 key pair, stores the private half in
// the embedded key slot and returns the uncompressed public key as hex.
// Any unconsumed embedded key is replaced.
func (m *Manager) CreateEmbeddedKey(ctx context.Context) (string, error) {
	var publicKey string
	err := m.run(func(_ *events) error {
		key, err := crypto.GenerateP256Key()
		if err != nil {
			return err
		}
		publicKey, err = crypto.UncompressedPublicKeyHex(&key.PublicKey)
		if err != nil {
			return err
		}
		if err := m.store.Set(ctx, EmbeddedKeySlot, []byte(crypto.PrivateKeyToHex(key))); err != nil {
			return fmt.Errorf("failed to store embedded key: %w", err)
		}
		m.log.Debug("created embedded key", zap.String("publicKey", publicKey))
		return nil
	})
	if err != nil {
		return "", err
	}
	return publicKey, nil
}

// CreateSession redeems bundle against the embedded key and selects the
// resulting session under sessionKey, replacing any session stored there.
// expirySeconds <= 0 means DefaultExpirySeconds and an empty sessionKey
// means DefaultSessionKey.
func (m *Manager) CreateSession(ctx context.Context, bundle string, expirySeconds int, sessionKey string) (*Session, error) {
	if expirySeconds <= 0 {
		expirySeconds = DefaultExpirySeconds
	}
	if sessionKey == "" {
		sessionKey = DefaultSessionKey
	}

	var out *Session
	err := m.run(func(ev *events) error {
		embeddedKey, err := m.takeEmbeddedKeyLocked(ctx)
		if err != nil {
			return err
		}

		privateKeyHex, err := crypto.DecryptCredentialBundle(bundle, embeddedKey)
		if err != nil {
			return &DecryptionError{Err: err}
		}
		privateKey, err := crypto.PrivateKeyFromHex(privateKeyHex)
		if err != nil {
			return &DecryptionError{Err: err}
		}

		now := m.clock.Now()
		s := &Session{
			Key:        sessionKey,
			PublicKey:  crypto.CompressedPublicKeyHex(&privateKey.PublicKey),
			PrivateKey: privateKeyHex,
			Expiry:     now.UnixMilli() + int64(expirySeconds)*1000,
		}

		client, err := m.newClient(s)
		if err != nil {
			return err
		}
		user, err := FetchUser(ctx, client, client.OrganizationID())
		if err != nil {
			return fmt.Errorf("failed to fetch session user: %w", err)
		}
		s.User = user
		client = client.WithOrganizationID(user.OrganizationID)

		if err := m.persistLocked(ctx, s); err != nil {
			return err
		}
		if err := m.indexLocked(ctx, s.Key); err != nil {
			return err
		}
		if err := m.selectLocked(ctx, s, client); err != nil {
			return err
		}
		alive, err := m.scheduleLocked(ctx, s, m.clock.Now(), ev)
		if err != nil {
			return err
		}
		if !alive {
			return fmt.Errorf("%w: session %s expired while loading its user", ErrNoSession, s.Key)
		}

		m.log.Info("session created",
			zap.String("key", s.Key),
			zap.String("userId", user.ID),
			zap.Time("expiresAt", s.ExpiresAt()))
		ev.created(m, s)
		out = s.clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetSelectedSession selects the session stored under key. An expired or
// absent session is purged, reported through OnSessionExpired, and yields
// (nil, nil).
func (m *Manager) SetSelectedSession(ctx context.Context, key string) (*Session, error) {
	if key == "" {
		key = DefaultSessionKey
	}

	var out *Session
	err := m.run(func(ev *events) error {
		s, err := m.loadLocked(ctx, key)
		if err != nil {
			return err
		}

		now := m.clock.Now()
		if s == nil || s.Expired(now) {
			return m.expireLocked(ctx, key, ev)
		}

		client, err := m.newClient(s)
		if err != nil {
			return err
		}
		if err := m.indexLocked(ctx, key); err != nil {
			return err
		}
		if err := m.selectLocked(ctx, s, client); err != nil {
			return err
		}
		if _, err := m.scheduleLocked(ctx, s, now, ev); err != nil {
			return err
		}

		ev.selected(m, s)
		out = s.clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ClearSession cancels the timer of key and removes it from storage, the
// index and the selection. Clearing an absent key succeeds.
func (m *Manager) ClearSession(ctx context.Context, key string) error {
	if key == "" {
		key = DefaultSessionKey
	}
	return m.run(func(ev *events) error {
		known, err := m.clearLocked(ctx, key)
		if known {
			ev.cleared(m, key)
		}
		return err
	})
}

// ClearAllSessions clears every indexed session.
func (m *Manager) ClearAllSessions(ctx context.Context) error {
	return m.run(func(ev *events) error {
		index, err := m.loadIndexLocked(ctx)
		if err != nil {
			return err
		}
		var errs []error
		for _, key := range index {
			if _, err := m.clearLocked(ctx, key); err != nil {
				errs = append(errs, err)
			}
			ev.cleared(m, key)
		}
		if m.selected != nil {
			key := m.selected.Key
			if _, err := m.clearLocked(ctx, key); err != nil {
				errs = append(errs, err)
			}
			ev.cleared(m, key)
		}
		return errors.Join(errs...)
	})
}

// Init reconciles persisted state after a restart: valid sessions get their
// timers back, expired or missing ones are cleared and deindexed, and the
// persisted selection is restored when it is still valid.
func (m *Manager) Init(ctx context.Context) error {
	return m.run(func(ev *events) error {
		index, err := m.loadIndexLocked(ctx)
		if err != nil {
			return err
		}

		now := m.clock.Now()
		live := map[string]*Session{}
		var errs []error
		for _, key := range index {
			s, err := m.loadLocked(ctx, key)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if s == nil {
				m.log.Warn("dropping indexed session without a record", zap.String("key", key))
				if _, err := m.clearLocked(ctx, key); err != nil {
					errs = append(errs, err)
				}
				continue
			}
			alive, err := m.scheduleLocked(ctx, s, now, ev)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if alive {
				live[key] = s
			}
		}

		raw, err := m.store.Get(ctx, SelectedSessionSlot)
		if err != nil {
			return errors.Join(append(errs, fmt.Errorf("failed to read selected session: %w", err))...)
		}
		if raw == nil {
			return errors.Join(errs...)
		}

		s, ok := live[string(raw)]
		if !ok {
			if err := m.store.Remove(ctx, SelectedSessionSlot); err != nil {
				errs = append(errs, fmt.Errorf("failed to drop selected session: %w", err))
			}
			return errors.Join(errs...)
		}

		client, err := m.newClient(s)
		if err != nil {
			return errors.Join(append(errs, err)...)
		}
		m.selected = s
		m.client = client
		ev.selected(m, s)

		m.log.Info("restored sessions", zap.Int("live", len(live)), zap.String("selected", s.Key))
		return errors.Join(errs...)
	})
}

// RefreshUser re-runs the user projection for the selected session and
// persists it under the same key. Expiry is unchanged.
func (m *Manager) RefreshUser(ctx context.Context) error {
	return m.run(func(ev *events) error {
		if m.selected == nil {
			return ErrNoSession
		}
		if m.selected.Expired(m.clock.Now()) {
			if err := m.expireLocked(ctx, m.selected.Key, ev); err != nil {
				return err
			}
			return ErrNoSession
		}

		user, err := FetchUser(ctx, m.client, m.client.OrganizationID())
		if err != nil {
			return fmt.Errorf("failed to refresh session user: %w", err)
		}

		updated := m.selected.clone()
		updated.User = user
		if err := m.persistLocked(ctx, updated); err != nil {
			return err
		}
		m.selected = updated
		m.client = m.client.WithOrganizationID(user.OrganizationID)
		return nil
	})
}

// GetSession returns the unexpired session stored under key, or nil. An
// expired session found here is purged.
func (m *Manager) GetSession(ctx context.Context, key string) (*Session, error) {
	if key == "" {
		key = DefaultSessionKey
	}

	var out *Session
	err := m.run(func(ev *events) error {
		s, err := m.loadLocked(ctx, key)
		if err != nil || s == nil {
			return err
		}
		if s.Expired(m.clock.Now()) {
			return m.expireLocked(ctx, key, ev)
		}
		out = s
		return nil
	})
	return out, err
}

// ListSessions returns the indexed session keys.
func (m *Manager) ListSessions(ctx context.Context) ([]string, error) {
	var out []string
	err := m.run(func(_ *events) error {
		index, err := m.loadIndexLocked(ctx)
		out = index
		return err
	})
	return out, err
}

// Session returns the selected session or nil.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected.clone()
}

// Client returns the API client of the selected session or nil.
func (m *Manager) Client() *api.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// User returns the user of the selected session or nil.
func (m *Manager) User() *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selected == nil {
		return nil
	}
	return m.selected.User.clone()
}

// Close stops every expiry timer. Later calls fail with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return nil
	}
	m.closed.Store(true)
	for key := range m.timers {
		m.cancelTimerLocked(key)
	}
	return nil
}

func (m *Manager) newClient(s *Session) (*api.Client, error) {
	st, err := stamper.NewAPIKeyStamperFromHex(s.PublicKey, s.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create session stamper: %w", err)
	}

	orgID := s.organizationID()
	if orgID == "" {
		orgID = m.cfg.OrganizationID
	}
	return api.NewClient(api.Config{
		BaseURL:        m.cfg.BaseURL,
		OrganizationID: orgID,
		Stamper:        st,
		HTTPClient:     m.cfg.HTTPClient,
		ActivityPoller: m.cfg.ActivityPoller,
		Logger:         m.cfg.Logger,
		Clock:          m.clock,
	})
}

// takeEmbeddedKeyLocked reads and deletes the embedded key.
func (m *Manager) takeEmbeddedKeyLocked(ctx context.Context) (string, error) {
	raw, err := m.store.Get(ctx, EmbeddedKeySlot)
	if err != nil {
		return "", fmt.Errorf("failed to read embedded key: %w", err)
	}
	if raw == nil {
		return "", ErrEmbeddedKeyNotFound
	}
	if err := m.store.Remove(ctx, EmbeddedKeySlot); err != nil {
		return "", fmt.Errorf("failed to remove embedded key: %w", err)
	}
	return string(raw), nil
}

// scheduleLocked arms the expiry timer of s, replacing any previous one. A
// session already expired at now is cleared and reported instead, and
// scheduleLocked returns false.
func (m *Manager) scheduleLocked(ctx context.Context, s *Session, now time.Time, ev *events) (bool, error) {
	m.cancelTimerLocked(s.Key)

	d := time.Duration(s.Expiry-now.UnixMilli()) * time.Millisecond
	if d <= 0 {
		return false, m.expireLocked(ctx, s.Key, ev)
	}

	m.gen++
	key, gen := s.Key, m.gen
	m.timers[key] = &expiryTimer{
		gen:   gen,
		timer: m.clock.AfterFunc(d, func() { m.onTimer(key, gen) }),
	}
	m.log.Debug("armed session timer", zap.String("key", key), zap.Duration("in", d))
	return true, nil
}

func (m *Manager) onTimer(key string, gen uint64) {
	err := m.run(func(ev *events) error {
		t, ok := m.timers[key]
		if !ok || t.gen != gen {
			return nil
		}
		m.log.Info("session expired", zap.String("key", key))
		return m.expireLocked(context.Background(), key, ev)
	})
	if err != nil && !errors.Is(err, ErrClosed) {
		m.log.Warn("failed to clear expired session", zap.String("key", key), zap.Error(err))
	}
}

func (m *Manager) cancelTimerLocked(key string) {
	if t, ok := m.timers[key]; ok {
		t.timer.Stop()
		delete(m.timers, key)
	}
}

func (m *Manager) expireLocked(ctx context.Context, key string, ev *events) error {
	_, err := m.clearLocked(ctx, key)
	ev.expired(m, key)
	return err
}

// clearLocked removes every trace of key and reports whether the key was
// indexed or selected.
func (m *Manager) clearLocked(ctx context.Context, key string) (bool, error) {
	m.cancelTimerLocked(key)

	var (
		errs  []error
		known bool
	)

	index, err := m.loadIndexLocked(ctx)
	if err != nil {
		errs = append(errs, err)
	} else if slices.Contains(index, key) {
		known = true
		index = slices.DeleteFunc(index, func(k string) bool { return k == key })
		if err := m.saveIndexLocked(ctx, index); err != nil {
			errs = append(errs, err)
		}
	}

	if err := m.store.Remove(ctx, sessionSlot(key)); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove session %s: %w", key, err))
	}

	if m.selected != nil && m.selected.Key == key {
		known = true
		m.selected = nil
		m.client = nil
	}
	raw, err := m.store.Get(ctx, SelectedSessionSlot)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("failed to read selected session: %w", err))
	case string(raw) == key:
		if err := m.store.Remove(ctx, SelectedSessionSlot); err != nil {
			errs = append(errs, fmt.Errorf("failed to drop selected session: %w", err))
		}
	}

	return known, errors.Join(errs...)
}

func (m *Manager) selectLocked(ctx context.Context, s *Session, client *api.Client) error {
	if err := m.store.Set(ctx, SelectedSessionSlot, []byte(s.Key)); err != nil {
		return fmt.Errorf("failed to store selected session: %w", err)
	}
	m.selected = s
	m.client = client
	return nil
}

func (m *Manager) persistLocked(ctx context.Context, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := m.store.Set(ctx, sessionSlot(s.Key), raw); err != nil {
		return fmt.Errorf("failed to store session %s: %w", s.Key, err)
	}
	return nil
}

// loadLocked returns nil for an absent record. Unreadable records are
// treated as absent so they get purged.
func (m *Manager) loadLocked(ctx context.Context, key string) (*Session, error) {
	raw, err := m.store.Get(ctx, sessionSlot(key))
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", key, err)
	}
	if raw == nil {
		return nil, nil
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		m.log.Warn("discarding unreadable session record", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	s.Key = key
	return &s, nil
}

func (m *Manager) indexLocked(ctx context.Context, key string) error {
	index, err := m.loadIndexLocked(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(index, key) {
		return nil
	}
	return m.saveIndexLocked(ctx, append(index, key))
}

func (m *Manager) loadIndexLocked(ctx context.Context) ([]string, error) {
	raw, err := m.store.Get(ctx, SessionIndexSlot)
	if err != nil {
		return nil, fmt.Errorf("failed to read session index: %w", err)
	}
	if raw == nil {
		return []string{}, nil
	}
	var index []string
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("failed to decode session index: %w", err)
	}
	return index, nil
}

func (m *Manager) saveIndexLocked(ctx context.Context, index []string) error {
	raw, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("failed to marshal session index: %w", err)
	}
	if err := m.store.Set(ctx, SessionIndexSlot, raw); err != nil {
		return fmt.Errorf("failed to store session index: %w", err)
	}
	return nil
}
