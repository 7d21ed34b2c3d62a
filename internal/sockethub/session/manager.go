// Package session keeps sockethub sessions consistent across the dispatcher
// and worker processes of one instance. A Manager is created once per
// process and owns the cached Session objects, the encryption keyring and
// the lazily created control subsystem.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/fourks/sockethub/internal/common"
	"github.com/fourks/sockethub/internal/common/apperrors"
	"github.com/fourks/sockethub/internal/common/httpclient"
	"github.com/fourks/sockethub/internal/sockethub/keyring"
	"github.com/fourks/sockethub/internal/sockethub/store"
	"github.com/fourks/sockethub/internal/sockethub/subsystem"
)

// DispatcherPlatform names the process that owns the encryption key.
const DispatcherPlatform = subsystem.DispatcherPlatform

// Options configure NewManager. EncKey may be empty for workers, which
// obtain it from the dispatcher. HTTPClient builds the client GetFile uses
// and defaults to httpclient.DefaultFactory.
type Options struct {
	InstanceID string
	Platform   string
	EncKey     string
	Store      store.SharedStore
	KeyTimeout time.Duration
	HTTPClient httpclient.Factory
}

// Manager is the per-process session registry.
type Manager struct {
	opts    Options
	keys    *keyring.Keyring
	records *SessionStore
	logger  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	loading  map[string]bool // in-flight loads; true once retired
	closed   bool
	loads    singleflight.Group

	subMu  sync.Mutex
	subsys *subsystem.Subsystem
}

// NewManager validates opts and returns a Manager. A dispatcher without an
// encryption key is refused with ErrMissingEncryptionKey.
func NewManager(opts Options) (*Manager, apperrors.Error) {
	if !common.ValidId(opts.InstanceID) {
		return nil, ErrSessionError.Msg("invalid instance id")
	}
	if opts.Platform == "" {
		return nil, ErrSessionError.Msg("platform name is required")
	}
	if opts.Store == nil {
		return nil, ErrSessionError.Msg("shared store is required")
	}
	if opts.Platform == DispatcherPlatform && opts.EncKey == "" {
		return nil, ErrMissingEncryptionKey.Msg("dispatcher requires an encryption key")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = httpclient.DefaultFactory
	}
	keys := keyring.New(opts.InstanceID)
	if opts.EncKey != "" {
		keys.Replace(opts.EncKey)
	}
	m := &Manager{
		opts:     opts,
		keys:     keys,
		records:  NewSessionStore(opts.Store, opts.InstanceID, keys),
		sessions: make(map[string]*Session),
		loading:  make(map[string]bool),
		logger: log.With().
			Str("instance_id", opts.InstanceID).
			Str("platform", opts.Platform).
			Logger(),
	}
	return m, nil
}

// InstanceID returns the sockethub instance the manager belongs to.
func (m *Manager) InstanceID() string { return m.opts.InstanceID }

// Platform returns the platform name of this process.
func (m *Manager) Platform() string { return m.opts.Platform }

// Keyring returns the process keyring.
func (m *Manager) Keyring() *keyring.Keyring { return m.keys }

// Get returns the cached session for sessionID, loading it from the shared
// store if needed. A missing session is created and persisted when create is
// true; otherwise ErrSessionNotFound is returned. Concurrent loads of one id
// share a single store round-trip.
func (m *Manager) Get(ctx context.Context, sessionID string, create bool) (*Session, apperrors.Error) {
	if !common.ValidId(sessionID) {
		return nil, ErrInvalidSessionID.Msg("invalid session id: " + sessionID)
	}
	for {
		v, err, _ := m.loads.Do(sessionID, func() (any, error) {
			s, err := m.load(ctx, sessionID, create)
			if err != nil {
				return nil, err
			}
			return s, nil
		})
		if err == nil {
			return v.(*Session), nil
		}
		appErr, ok := apperrors.As(err)
		if !ok {
			return nil, ErrSessionError.Err(err)
		}
		// joined a lookup that was not allowed to create
		if create && errors.Is(appErr, ErrSessionNotFound) {
			continue
		}
		return nil, appErr
	}
}

func (m *Manager) load(ctx context.Context, sessionID string, create bool) (*Session, apperrors.Error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if s, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.loading[sessionID] = false
	m.mu.Unlock()

	st, err := m.fetch(ctx, sessionID, create)

	m.mu.Lock()
	retired := m.loading[sessionID]
	delete(m.loading, sessionID)
	closed := m.closed
	if err == nil && !closed && !retired {
		s := newSession(m, sessionID, st)
		m.sessions[sessionID] = s
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	switch {
	case err != nil:
		return nil, err
	case closed:
		return nil, ErrManagerClosed
	}
	// a cleanup or Destroy arrived while the record was being read
	if err := m.records.Remove(ctx, sessionID); err != nil {
		return nil, err
	}
	return nil, ErrSessionNotFound.Msg("session retired: " + sessionID)
}

// fetch reads the stored state of sessionID, creating it when allowed.
func (m *Manager) fetch(ctx context.Context, sessionID string, create bool) (*state, apperrors.Error) {
	st, found, err := m.records.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if found {
		return st, nil
	}
	if !create {
		return nil, ErrSessionNotFound.Msg("session not found: " + sessionID)
	}
	st = &state{config: make(map[string]map[string]any)}
	if err := m.records.Save(ctx, sessionID, st); err != nil {
		return nil, err
	}
	m.logger.Debug().Str("session_id", sessionID).Msg("session created")
	return st, nil
}

// evict retires the cached session for sid and marks an in-flight load of
// it as retired. It reports whether this process held the session. The
// caller holds m.mu.
func (m *Manager) evict(sid string) bool {
	held := false
	if _, ok := m.loading[sid]; ok {
		m.loading[sid] = true
		held = true
	}
	s, ok := m.sessions[sid]
	if ok {
		delete(m.sessions, sid)
		s.retire()
		held = true
	}
	return held
}

// Destroy drops sessionID from the cache and the shared store. Other
// sessions are untouched and an unknown id is not an error. A Session
// object still held by a caller is retired: its writes fail with
// ErrSessionNotFound.
func (m *Manager) Destroy(ctx context.Context, sessionID string) apperrors.Error {
	if !common.ValidId(sessionID) {
		return ErrInvalidSessionID.Msg("invalid session id: " + sessionID)
	}
	m.mu.Lock()
	m.evict(sessionID)
	m.mu.Unlock()
	if err := m.records.Remove(ctx, sessionID); err != nil {
		return err
	}
	m.logger.Debug().Str("session_id", sessionID).Msg("session destroyed")
	return nil
}

// Sessions returns the ids cached in this process, sorted.
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CleanupSessions retires the sessions among sids that this process holds
// or is loading: their state is cleared, they are evicted from the cache and
// their store key is removed. Retired Session objects refuse further writes.
// Ids not held by this process are skipped, so repeating a cleanup is a
// no-op.
func (m *Manager) CleanupSessions(ctx context.Context, sids []string) []string {
	var cleaned []string
	m.mu.Lock()
	for _, sid := range sids {
		if m.evict(sid) {
			cleaned = append(cleaned, sid)
		}
	}
	m.mu.Unlock()

	for _, sid := range cleaned {
		if err := m.records.Remove(ctx, sid); err != nil {
			m.logger.Error().Err(err).Str("session_id", sid).Msg("unable to remove session from store")
		}
	}
	return cleaned
}

// Subsystem returns the control subsystem, joining the instance channel on
// first use.
func (m *Manager) Subsystem(ctx context.Context) (*subsystem.Subsystem, apperrors.Error) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.subsys != nil {
		return m.subsys, nil
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrManagerClosed
	}
	s, err := subsystem.New(ctx, subsystem.Options{
		InstanceID: m.opts.InstanceID,
		Platform:   m.opts.Platform,
		Store:      m.opts.Store,
		Keys:       m.keys,
		Cleaner:    m,
		KeyTimeout: m.opts.KeyTimeout,
	})
	if err != nil {
		return nil, err
	}
	m.subsys = s
	return s, nil
}

// EncKeySet reports whether this process holds the encryption key.
func (m *Manager) EncKeySet() bool {
	return m.keys.IsSet()
}

// ClearEncKey forgets the encryption key.
func (m *Manager) ClearEncKey() {
	m.keys.Clear()
}

// Close stops the subsystem and empties the cache. Stored sessions are kept.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	m.subMu.Lock()
	s := m.subsys
	m.subsys = nil
	m.subMu.Unlock()
	if s != nil {
		return s.Close()
	}
	return nil
}
