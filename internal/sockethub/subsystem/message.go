package subsystem

import (
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"

	"github.com/fourks/sockethub/internal/common/apperrors"
	"github.com/fourks/sockethub/internal/common/uuid"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Verbs of the control protocol.
const (
	VerbPing         = "ping"
	VerbPingResponse = "ping-response"
	VerbCleanup      = "cleanup"
)

// DispatcherPlatform is the platform name of the key authority.
const DispatcherPlatform = "dispatcher"

// MessageVersion is stamped on every outgoing envelope. Receivers accept any
// version in the same major line.
const MessageVersion = "1.0.0"

var versionConstraint *semver.Constraints

func init() {
	var err error
	versionConstraint, err = semver.NewConstraint("^1")
	if err != nil {
		panic(err)
	}
}

// Actor identifies the sending process.
type Actor struct {
	Platform string `json:"platform"`
	ID       string `json:"id"`
}

// Message is the control envelope shared on the instance channel.
type Message struct {
	Version string              `json:"version"`
	ID      string              `json:"id"`
	Verb    string              `json:"verb"`
	Actor   Actor               `json:"actor"`
	Object  jsoniter.RawMessage `json:"object,omitempty"`
	Target  string              `json:"target,omitempty"`
}

// PingObject is the payload of ping and ping-response.
type PingObject struct {
	Timestamp     int64  `json:"timestamp,omitempty"`
	EncKey        string `json:"encKey,omitempty"`
	RequestEncKey bool   `json:"requestEncKey,omitempty"`
}

// CleanupObject is the payload of cleanup.
type CleanupObject struct {
	Sids []string `json:"sids"`
}

func isKnownVerb(verb string) bool {
	switch verb {
	case VerbPing, VerbPingResponse, VerbCleanup:
		return true
	}
	return false
}

func newMessage(verb string, actor Actor, object any, target string) (*Message, apperrors.Error) {
	raw, err := json.Marshal(object)
	if err != nil {
		return nil, ErrInvalidControlMessage.MsgErr("unable to encode message object", err)
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, ErrSubsystem.MsgErr("unable to generate message id", err)
	}
	return &Message{
		Version: MessageVersion,
		ID:      id.String(),
		Verb:    verb,
		Actor:   actor,
		Object:  raw,
		Target:  target,
	}, nil
}

// decodeMessage validates and decodes a payload received on the channel.
func decodeMessage(payload []byte) (*Message, apperrors.Error) {
	if !gjson.ValidBytes(payload) {
		return nil, ErrInvalidControlMessage.Msg("payload is not valid JSON")
	}
	if verb := gjson.GetBytes(payload, "verb"); !verb.Exists() || verb.Type != gjson.String {
		return nil, ErrInvalidControlMessage.Msg("payload has no verb")
	}
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, ErrInvalidControlMessage.MsgErr("unable to decode message", err)
	}
	v, err := semver.NewVersion(msg.Version)
	if err != nil || !versionConstraint.Check(v) {
		return nil, ErrInvalidControlMessage.Msg("unsupported message version " + msg.Version)
	}
	if !isKnownVerb(msg.Verb) {
		return nil, ErrInvalidControlMessage.Msg("unknown verb " + msg.Verb)
	}
	if strings.TrimSpace(msg.Actor.Platform) == "" {
		return nil, ErrInvalidControlMessage.Msg("message has no actor platform")
	}
	return &msg, nil
}

// Ping decodes the object of a ping or ping-response.
func (m *Message) Ping() (*PingObject, apperrors.Error) {
	var obj PingObject
	if len(m.Object) > 0 {
		if err := json.Unmarshal(m.Object, &obj); err != nil {
			return nil, ErrInvalidControlMessage.MsgErr("invalid ping object", err)
		}
	}
	return &obj, nil
}

// Cleanup decodes the object of a cleanup.
func (m *Message) Cleanup() (*CleanupObject, apperrors.Error) {
	var obj CleanupObject
	if len(m.Object) == 0 {
		return nil, ErrInvalidControlMessage.Msg("cleanup has no object")
	}
	if err := json.Unmarshal(m.Object, &obj); err != nil {
		return nil, ErrInvalidControlMessage.MsgErr("invalid cleanup object", err)
	}
	return &obj, nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
