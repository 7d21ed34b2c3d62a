package session

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/anand-gl/jsoncanonicalizer"
	"github.com/golang/snappy"
	jsoniter "github.com/json-iterator/go"

	"github.com/fourks/sockethub/internal/common/apperrors"
	"github.com/fourks/sockethub/internal/sockethub/keyring"
	"github.com/fourks/sockethub/internal/sockethub/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const recordVersion = 1

// record is the persisted form of a session. The token and config are kept
// in the sealed secret; a record without either has no secret and can be
// read without the encryption key.
type record struct {
	Version    int    `json:"v"`
	Registered bool   `json:"registered"`
	Secret     string `json:"secret,omitempty"`
}

type secretContent struct {
	Token  string                    `json:"token,omitempty"`
	Config map[string]map[string]any `json:"config,omitempty"`
}

// state is the in-memory session data that SessionStore persists.
type state struct {
	registered bool
	token      string
	config     map[string]map[string]any
}

func (st *state) isEmptySecret() bool {
	if st.token != "" {
		return false
	}
	for _, entries := range st.config {
		if len(entries) > 0 {
			return false
		}
	}
	return true
}

// SessionStore reads and writes session records in the shared store.
type SessionStore struct {
	shared     store.SharedStore
	instanceID string
	keys       *keyring.Keyring
}

func NewSessionStore(shared store.SharedStore, instanceID string, keys *keyring.Keyring) *SessionStore {
	return &SessionStore{shared: shared, instanceID: instanceID, keys: keys}
}

func (ss *SessionStore) key(sessionID string) string {
	return store.SessionKey(ss.instanceID, sessionID)
}

func storeError(err error) apperrors.Error {
	return ErrStoreUnavailable.Err(err)
}

// Load returns the stored state and whether it exists. Absence is not an
// error.
func (ss *SessionStore) Load(ctx context.Context, sessionID string) (*state, bool, apperrors.Error) {
	raw, err := ss.shared.Get(ctx, ss.key(sessionID))
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeError(err)
	}
	st, appErr := ss.decode(raw)
	if appErr != nil {
		return nil, false, appErr
	}
	return st, true, nil
}

// Save writes st under the session key. Concurrent saves of one session are
// serialised by the caller.
func (ss *SessionStore) Save(ctx context.Context, sessionID string, st *state) apperrors.Error {
	raw, appErr := ss.encode(st)
	if appErr != nil {
		return appErr
	}
	if err := ss.shared.Set(ctx, ss.key(sessionID), raw); err != nil {
		return storeError(err)
	}
	return nil
}

// Remove deletes the session key. Config lives inside the record so there is
// nothing else to delete. Removing an absent session is not an error.
func (ss *SessionStore) Remove(ctx context.Context, sessionID string) apperrors.Error {
	if err := ss.shared.Del(ctx, ss.key(sessionID)); err != nil {
		return storeError(err)
	}
	return nil
}

// Exists reports whether the session key is present.
func (ss *SessionStore) Exists(ctx context.Context, sessionID string) (bool, apperrors.Error) {
	ok, err := ss.shared.Exists(ctx, ss.key(sessionID))
	if err != nil {
		return false, storeError(err)
	}
	return ok, nil
}

func (ss *SessionStore) encode(st *state) ([]byte, apperrors.Error) {
	rec := record{Version: recordVersion, Registered: st.registered}
	if !st.isEmptySecret() {
		plain, err := json.Marshal(secretContent{Token: st.token, Config: st.config})
		if err != nil {
			return nil, ErrInvalidRecord.MsgErr("unable to encode session secret", err)
		}
		canonical, err := jsoncanonicalizer.Transform(plain)
		if err != nil {
			return nil, ErrInvalidRecord.MsgErr("unable to canonicalize session secret", err)
		}
		sealed, err := ss.keys.Seal(snappy.Encode(nil, canonical))
		if err != nil {
			if errors.Is(err, keyring.ErrNoKey) {
				return nil, ErrMissingEncryptionKey.Msg("encryption key not yet received, cannot save session state")
			}
			return nil, ErrSessionError.Err(err)
		}
		rec.Secret = base64.StdEncoding.EncodeToString(sealed)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, ErrInvalidRecord.MsgErr("unable to encode session record", err)
	}
	return raw, nil
}

func (ss *SessionStore) decode(raw []byte) (*state, apperrors.Error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, ErrInvalidRecord.Err(err)
	}
	if rec.Version != recordVersion {
		return nil, ErrInvalidRecord.Msg("unsupported session record version")
	}
	st := &state{registered: rec.Registered, config: make(map[string]map[string]any)}
	if rec.Secret == "" {
		return st, nil
	}
	sealed, err := base64.StdEncoding.DecodeString(rec.Secret)
	if err != nil {
		return nil, ErrInvalidRecord.MsgErr("invalid secret encoding", err)
	}
	compressed, err := ss.keys.Open(sealed)
	if err != nil {
		if errors.Is(err, keyring.ErrNoKey) {
			return nil, ErrMissingEncryptionKey.Msg("encryption key not yet received, cannot read session state")
		}
		return nil, ErrInvalidRecord.Err(err)
	}
	plain, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, ErrInvalidRecord.MsgErr("invalid secret compression", err)
	}
	var secret secretContent
	if err := json.Unmarshal(plain, &secret); err != nil {
		return nil, ErrInvalidRecord.Err(err)
	}
	st.token = secret.Token
	if secret.Config != nil {
		st.config = secret.Config
	}
	return st, nil
}
