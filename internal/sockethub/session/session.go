package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fourks/sockethub/internal/common/apperrors"
)

// Session is one client session as seen by this process. Method calls on a
// Session are serialised; every change is written through to the shared
// store before it becomes visible.
type Session struct {
	id      string
	manager *Manager
	logger  zerolog.Logger

	mu      sync.Mutex
	st      *state
	retired bool
}

func newSession(m *Manager, id string, st *state) *Session {
	if st.config == nil {
		st.config = make(map[string]map[string]any)
	}
	return &Session{
		id:      id,
		manager: m,
		logger:  m.logger.With().Str("session_id", id).Logger(),
		st:      st,
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Logger returns the session's logger.
func (s *Session) Logger() *zerolog.Logger {
	return &s.logger
}

// update applies fn to a copy of the state and commits it once saved. A
// retired session is never written back to the store.
func (s *Session) update(ctx context.Context, fn func(st *state)) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired {
		return ErrSessionNotFound.Msg("session retired: " + s.id)
	}
	next := s.st.clone()
	fn(next)
	if err := s.manager.records.Save(ctx, s.id, next); err != nil {
		return err
	}
	s.st = next
	return nil
}

// Register marks the session registered with token.
func (s *Session) Register(ctx context.Context, token string) apperrors.Error {
	return s.update(ctx, func(st *state) {
		st.registered = true
		st.token = token
	})
}

// Unregister clears the registration and its token.
func (s *Session) Unregister(ctx context.Context) apperrors.Error {
	return s.update(ctx, func(st *state) {
		st.registered = false
		st.token = ""
	})
}

// IsRegistered reports whether Register has been called since the last
// Unregister or cleanup.
func (s *Session) IsRegistered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.registered
}

// Token returns the registration token, or "" when unregistered.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.token
}

// SetConfig stores value at (namespace, key). An object value is merged
// into an existing object at the same place; anything else replaces it.
func (s *Session) SetConfig(ctx context.Context, namespace, key string, value any) apperrors.Error {
	if namespace == "" || key == "" {
		return ErrInvalidConfig.Msg("namespace and key are required")
	}
	v, err := normalize(value)
	if err != nil {
		return err
	}
	return s.update(ctx, func(st *state) {
		entries := st.config[namespace]
		if entries == nil {
			entries = make(map[string]any)
			st.config[namespace] = entries
		}
		in, inObj := v.(map[string]any)
		ex, exObj := entries[key].(map[string]any)
		if inObj && exObj {
			entries[key] = Merge(ex, in)
			return
		}
		entries[key] = v
	})
}

// GetConfig returns a copy of the value at (namespace, key), or an empty
// object when nothing is set.
func (s *Session) GetConfig(namespace, key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.st.config[namespace][key]; ok {
		return deepCopy(v)
	}
	return map[string]any{}
}

// Cleanup clears the session's registration and config in place and
// persists the empty state. The session object stays usable until it is
// retired by a cleanup broadcast or Destroy.
func (s *Session) Cleanup(ctx context.Context) apperrors.Error {
	return s.update(ctx, func(st *state) {
		st.registered = false
		st.token = ""
		st.config = make(map[string]map[string]any)
	})
}

// retire empties the in-memory state without touching the store and makes
// every later write fail with ErrSessionNotFound. Reads keep working and
// see an empty session.
func (s *Session) retire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = &state{config: make(map[string]map[string]any)}
	s.retired = true
}

// Retired reports whether the session was cleaned up or destroyed after
// this object was handed out.
func (s *Session) Retired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retired
}

// PlatformSession returns the view of this session for platform.
func (s *Session) PlatformSession(platform string) *PlatformSession {
	return &PlatformSession{
		session:  s,
		platform: platform,
		logger:   s.logger.With().Str("platform_session", platform).Logger(),
	}
}

func (st *state) clone() *state {
	out := &state{
		registered: st.registered,
		token:      st.token,
		config:     make(map[string]map[string]any, len(st.config)),
	}
	for ns, entries := range st.config {
		cp := make(map[string]any, len(entries))
		for k, v := range entries {
			cp[k] = deepCopy(v)
		}
		out.config[ns] = cp
	}
	return out
}

// normalize converts value to its generic JSON form so stored config never
// aliases caller data and merges see plain objects.
func normalize(value any) (any, apperrors.Error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, ErrInvalidConfig.MsgErr("config value is not JSON encodable", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, ErrInvalidConfig.Err(err)
	}
	return out, nil
}
