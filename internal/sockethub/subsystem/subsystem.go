// Package subsystem implements the control protocol that sockethub
// processes of one instance speak over the shared store: the ping exchange
// that hands the dispatcher's encryption key to workers, and the cleanup
// broadcast that retires sessions everywhere.
//
// Every process subscribes to one channel per instance. Directed messages
// carry a target platform and are ignored by everyone else.
package subsystem

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fourks/sockethub/internal/common/apperrors"
	"github.com/fourks/sockethub/internal/common/uuid"
	"github.com/fourks/sockethub/internal/sockethub/keyring"
	"github.com/fourks/sockethub/internal/sockethub/store"
)

const DefaultKeyTimeout = 15 * time.Second

// Cleaner retires the sessions named in a cleanup broadcast. It returns the
// ids it held and cleaned; unknown ids are skipped.
type Cleaner interface {
	CleanupSessions(ctx context.Context, sids []string) []string
}

type Options struct {
	InstanceID string
	Platform   string
	Store      store.SharedStore
	Keys       *keyring.Keyring
	Cleaner    Cleaner       // optional
	KeyTimeout time.Duration // bounds RequestEncKey, default 15s
}

// Subsystem is one process's endpoint on the control channel.
type Subsystem struct {
	opts      Options
	actor     Actor
	channel   string
	sub       store.Subscription
	listeners *listenerTable
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New subscribes to the instance channel and starts receiving. Messages
// published after New returns are seen by this subsystem.
func New(ctx context.Context, opts Options) (*Subsystem, apperrors.Error) {
	if opts.Store == nil || opts.Keys == nil || opts.InstanceID == "" || opts.Platform == "" {
		return nil, ErrSubsystem.Msg("instance id, platform, store and keyring are required")
	}
	if opts.KeyTimeout <= 0 {
		opts.KeyTimeout = DefaultKeyTimeout
	}
	processID, err := uuid.NewRandom()
	if err != nil {
		return nil, ErrSubsystem.MsgErr("unable to generate process id", err)
	}
	channel := store.ControlChannel(opts.InstanceID)
	sub, err := opts.Store.Subscribe(ctx, channel)
	if err != nil {
		return nil, ErrSubscribe.Err(err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Subsystem{
		opts:      opts,
		actor:     Actor{Platform: opts.Platform, ID: processID.String()},
		channel:   channel,
		sub:       sub,
		listeners: newListenerTable(),
		logger: log.With().
			Str("instance_id", opts.InstanceID).
			Str("platform", opts.Platform).
			Str("component", "subsystem").
			Logger(),
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.SetListeners()
	go s.receive()
	return s, nil
}

// Actor returns this process's identity on the channel.
func (s *Subsystem) Actor() Actor {
	return s.actor
}

func (s *Subsystem) receive() {
	defer close(s.done)
	ctx := s.logger.WithContext(s.ctx)
	for payload := range s.sub.Messages() {
		msg, err := decodeMessage(payload)
		if err != nil {
			s.logger.Warn().Err(err).Msg("dropping control message")
			continue
		}
		if msg.Target != "" && msg.Target != s.actor.Platform {
			continue
		}
		// a dispatcher's own cleanup also applies to its own sessions
		if msg.Actor.ID == s.actor.ID && msg.Verb != VerbCleanup {
			continue
		}
		if msg.Verb == VerbCleanup && msg.Actor.Platform != DispatcherPlatform {
			s.logger.Warn().Str("from", msg.Actor.Platform).Msg("dropping cleanup not sent by the dispatcher")
			continue
		}
		s.dispatch(ctx, msg)
	}
}

func (s *Subsystem) dispatch(ctx context.Context, msg *Message) {
	s.logger.Debug().
		Str("verb", msg.Verb).
		Str("from", msg.Actor.Platform).
		Str("message_id", msg.ID).
		Msg("control message received")
	for _, h := range s.listeners.handlers(msg.Verb) {
		h(ctx, msg)
	}
}

// On adds a handler for verb after the existing ones and returns a func
// that removes it.
func (s *Subsystem) On(verb string, h Handler) func() {
	return s.listeners.add(verb, h)
}

// RemoveAllListeners drops every handler, the default ones included. The
// subsystem keeps receiving but reacts to nothing until SetListeners.
func (s *Subsystem) RemoveAllListeners() {
	s.listeners.reset()
}

// SetListeners resets the handler table to exactly the default ping,
// ping-response and cleanup handlers.
func (s *Subsystem) SetListeners() {
	s.listeners.reset()
	s.listeners.add(VerbPing, s.onPing)
	s.listeners.add(VerbPingResponse, s.onPingResponse)
	s.listeners.add(VerbCleanup, s.onCleanup)
}

// ListenerCount reports the handlers bound to verb.
func (s *Subsystem) ListenerCount(verb string) int {
	return s.listeners.count(verb)
}

// Send publishes verb with object on the instance channel. An empty target
// broadcasts.
func (s *Subsystem) Send(ctx context.Context, verb string, object any, target string) apperrors.Error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	if !isKnownVerb(verb) {
		return ErrInvalidControlMessage.Msg("unknown verb " + verb)
	}
	msg, err := newMessage(verb, s.actor, object, target)
	if err != nil {
		return err
	}
	payload, goErr := json.Marshal(msg)
	if goErr != nil {
		return ErrInvalidControlMessage.MsgErr("unable to encode message", goErr)
	}
	if goErr := s.opts.Store.Publish(ctx, s.channel, payload); goErr != nil {
		return ErrPublish.Err(goErr)
	}
	s.logger.Debug().Str("verb", verb).Str("target", target).Str("message_id", msg.ID).Msg("control message sent")
	return nil
}

// Ping sends a ping. A zero timestamp is filled in.
func (s *Subsystem) Ping(ctx context.Context, obj PingObject, target string) apperrors.Error {
	if obj.Timestamp == 0 {
		obj.Timestamp = nowMillis()
	}
	return s.Send(ctx, VerbPing, obj, target)
}

// AnnounceKey broadcasts the held key so workers without one adopt it.
func (s *Subsystem) AnnounceKey(ctx context.Context) apperrors.Error {
	key, ok := s.opts.Keys.Reveal()
	if !ok {
		return keyring.ErrNoKey
	}
	return s.Ping(ctx, PingObject{EncKey: key}, "")
}

// RequestEncKey asks the dispatcher for the key and waits until it has been
// adopted, for at most the configured key timeout. It returns at once when a
// key is already held.
func (s *Subsystem) RequestEncKey(ctx context.Context) apperrors.Error {
	if s.opts.Keys.IsSet() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.KeyTimeout)
	defer cancel()

	const attempts = 3
	perAttempt := s.opts.KeyTimeout / attempts
	err := retry.Do(
		func() error {
			if err := s.Ping(ctx, PingObject{RequestEncKey: true}, DispatcherPlatform); err != nil {
				return err
			}
			waitCtx, waitCancel := context.WithTimeout(ctx, perAttempt)
			defer waitCancel()
			return s.opts.Keys.WaitForKey(waitCtx)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(0),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Debug().Uint("attempt", n+1).Msg("no key yet, asking the dispatcher again")
		}),
	)
	if err != nil {
		if s.opts.Keys.IsSet() {
			return nil
		}
		return ErrKeyTimeout.Err(err)
	}
	return nil
}

// Cleanup broadcasts the retirement of sids. Only the dispatcher sends it.
func (s *Subsystem) Cleanup(ctx context.Context, sids []string) apperrors.Error {
	if s.actor.Platform != DispatcherPlatform {
		return ErrNotDispatcher
	}
	if sids == nil {
		sids = []string{}
	}
	return s.Send(ctx, VerbCleanup, CleanupObject{Sids: sids}, "")
}

// ClearEncKey forgets the local key. A new ping exchange is needed to
// reacquire it.
func (s *Subsystem) ClearEncKey() {
	s.opts.Keys.Clear()
}

// EncKeySet reports whether the keyring holds the encryption key.
func (s *Subsystem) EncKeySet() bool {
	return s.opts.Keys.IsSet()
}

// Close unsubscribes and waits for the receive loop to finish.
func (s *Subsystem) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.sub.Close()
		<-s.done
	})
	return err
}

func (s *Subsystem) reply(ctx context.Context, to Actor, obj PingObject) {
	if err := s.Send(ctx, VerbPingResponse, obj, to.Platform); err != nil {
		s.logger.Error().Err(err).Str("to", to.Platform).Msg("unable to send ping-response")
	}
}

func (s *Subsystem) onPing(ctx context.Context, msg *Message) {
	obj, err := msg.Ping()
	if err != nil {
		s.logger.Warn().Err(err).Msg("dropping ping")
		return
	}
	keys := s.opts.Keys
	switch {
	case obj.EncKey != "":
		if keys.Set(obj.EncKey) {
			s.logger.Info().Str("from", msg.Actor.Platform).Msg("encryption key received")
		} else if !keys.Matches(obj.EncKey) {
			s.logger.Warn().Str("from", msg.Actor.Platform).Msg("ignoring announced key that differs from the held key")
		}
		key, _ := keys.Reveal()
		s.reply(ctx, msg.Actor, PingObject{Timestamp: nowMillis(), EncKey: key})
	case obj.RequestEncKey:
		key, ok := keys.Reveal()
		if !ok {
			s.logger.Debug().Str("from", msg.Actor.Platform).Msg("key requested but none held")
			return
		}
		s.reply(ctx, msg.Actor, PingObject{Timestamp: nowMillis(), EncKey: key})
	default:
		s.reply(ctx, msg.Actor, PingObject{Timestamp: nowMillis()})
	}
}

func (s *Subsystem) onPingResponse(ctx context.Context, msg *Message) {
	obj, err := msg.Ping()
	if err != nil {
		s.logger.Warn().Err(err).Msg("dropping ping-response")
		return
	}
	if obj.EncKey == "" {
		return
	}
	if s.opts.Keys.Set(obj.EncKey) {
		s.logger.Info().Str("from", msg.Actor.Platform).Msg("encryption key received")
		return
	}
	if !s.opts.Keys.Matches(obj.EncKey) {
		s.logger.Warn().Str("from", msg.Actor.Platform).Msg("ignoring ping-response key that differs from the held key")
	}
}

func (s *Subsystem) onCleanup(ctx context.Context, msg *Message) {
	obj, err := msg.Cleanup()
	if err != nil {
		s.logger.Warn().Err(err).Msg("dropping cleanup")
		return
	}
	if s.opts.Cleaner == nil {
		return
	}
	cleaned := s.opts.Cleaner.CleanupSessions(ctx, obj.Sids)
	if len(cleaned) > 0 {
		s.logger.Info().Strs("sids", cleaned).Msg("sessions cleaned up")
	}
}
