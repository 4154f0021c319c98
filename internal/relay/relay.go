package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pokerbridge/internal/crypto"
	"pokerbridge/internal/debuglog"
	"pokerbridge/internal/metrics"
	"pokerbridge/internal/network"
	"pokerbridge/internal/proto"
)

const DefaultPacing = 2 * time.Second

// Handler consumes authenticated plaintext. A non-empty reply is sent back
// to author; an error stops the inbound path.
type Handler interface {
	Handle(ctx context.Context, content, author string) (string, error)
}

// Poster publishes one raw message to the broadcast room.
type Poster interface {
	Post(ctx context.Context, content string) error
}

type Options struct {
	Self    string
	Keyring *crypto.Keyring
	Poster  Poster
	Pacing  time.Duration
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// Limiter throttles repeated drop logs per author. Optional.
	Limiter *debuglog.Limiter
}

// Relay sits between the room and a role: it filters, verifies and decrypts
// inbound envelopes, and seals, signs and paces outbound ones.
type Relay struct {
	self    string
	keys    *crypto.Keyring
	poster  Poster
	pacing  time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics
	limiter *debuglog.Limiter

	mu      sync.RWMutex
	handler Handler

	// sendMu is held across the pacing delay and the post, so the delay
	// bounds the identity's combined rate however many goroutines send.
	sendMu sync.Mutex

	sleep func(ctx context.Context, d time.Duration) error
}

func New(opts Options) (*Relay, error) {
	if opts.Self == "" {
		return nil, errors.New("relay: missing self identity")
	}
	if opts.Keyring == nil {
		return nil, errors.New("relay: missing keyring")
	}
	if opts.Poster == nil {
		return nil, errors.New("relay: missing poster")
	}
	if !opts.Keyring.CanSign(opts.Self) {
		return nil, fmt.Errorf("relay: no signing key for %q", opts.Self)
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New(opts.Self)
	}
	if opts.Pacing < 0 {
		opts.Pacing = 0
	}
	return &Relay{
		self:    opts.Self,
		keys:    opts.Keyring,
		poster:  opts.Poster,
		pacing:  opts.Pacing,
		log:     opts.Logger.With().Str("component", "relay").Str("self", opts.Self).Logger(),
		metrics: m,
		limiter: opts.Limiter,
		sleep:   sleepCtx,
	}, nil
}

// Bind attaches the role that receives authenticated content. Roles are
// built with the relay as their sender, so binding happens afterwards.
func (r *Relay) Bind(h Handler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

func (r *Relay) Self() string {
	return r.self
}

// Deliver runs the inbound path for one room message. Only handler and send
// errors are returned; everything the room can throw at us is dropped here.
func (r *Relay) Deliver(ctx context.Context, msg network.Message) error {
	r.metrics.IncReceived()
	if msg.Author == r.self {
		r.metrics.IncDropSelf()
		return nil
	}
	env, err := proto.DecodeEnvelope([]byte(msg.Content))
	if err != nil {
		r.metrics.IncDropParse()
		r.record(msg.Author, "parse")
		if r.limiter.Allow("parse:" + msg.Author) {
			r.log.Warn().Err(err).Str("author", msg.Author).Msg("dropping malformed envelope")
		}
		return nil
	}
	res := r.keys.Decrypt(env, r.self, msg.Author)
	switch res.Verdict {
	case crypto.NotAddressedToMe:
		r.metrics.IncDropNotAddressed()
		return nil
	case crypto.InvalidSignature:
		r.metrics.IncDropInvalidSig()
		r.record(msg.Author, res.Verdict.String())
		if r.limiter.Allow("sig:" + msg.Author) {
			r.log.Warn().Str("author", msg.Author).Msg("invalid signature")
		}
		return nil
	}

	r.mu.RLock()
	h := r.handler
	r.mu.RUnlock()
	if h == nil {
		return errors.New("relay: no role bound")
	}
	r.metrics.IncDispatched()
	r.record(msg.Author, res.Verdict.String())
	r.log.Debug().Str("author", msg.Author).Str("content", res.Content).Msg("received")

	reply, err := h.Handle(ctx, res.Content, msg.Author)
	if err != nil {
		return err
	}
	if reply == "" {
		return nil
	}
	return r.Send(ctx, reply, msg.Author)
}

// Send waits the pacing delay, then seals content for recipient as the
// relay's own identity and posts it. Concurrent calls are serialized and
// each one waits its own full delay.
func (r *Relay) Send(ctx context.Context, content, recipient string) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	if err := r.sleep(ctx, r.pacing); err != nil {
		return err
	}
	ct, sig, err := r.keys.Encrypt([]byte(content), recipient, r.self)
	if err != nil {
		r.metrics.IncSendFailed()
		return fmt.Errorf("seal for %s: %w", recipient, err)
	}
	wire, err := proto.EncodeEnvelope(proto.Envelope{
		Recipient: recipient,
		Content:   proto.EncodeSealedPayload(ct),
		Signature: proto.EncodeSealedPayload(sig),
	})
	if err != nil {
		r.metrics.IncSendFailed()
		return err
	}
	if err := r.poster.Post(ctx, string(wire)); err != nil {
		r.metrics.IncSendFailed()
		return fmt.Errorf("post to room: %w", err)
	}
	r.metrics.IncSent()
	r.log.Debug().Str("to", recipient).Str("content", content).Msg("sent")
	return nil
}

func (r *Relay) record(author, outcome string) {
	r.metrics.Recent().Add(metrics.Event{At: time.Now().UTC(), Author: author, Outcome: outcome})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
