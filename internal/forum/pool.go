package forum

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pokerbridge/internal/metrics"
)

// Sender forwards translated replies to an identity through the room.
type Sender interface {
	Send(ctx context.Context, content, recipient string) error
}

// Session is one identity's forum state.
type Session struct {
	Identity string
	Client   Client
	Thread   Thread
}

type PoolOptions struct {
	Area    string
	Dial    Dialer
	Sender  Sender
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Pool creates one session per identity on first use and keeps it, and its
// inbox listener, for the life of the process. Sessions are never removed,
// so the map grows with the number of distinct identities seen; the set of
// players is small and fixed by the key directory.
type Pool struct {
	area    string
	dial    Dialer
	sender  Sender
	log     zerolog.Logger
	metrics *metrics.Metrics

	group *errgroup.Group
	gctx  context.Context

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewPool starts the listener supervisor. Listeners stop only when ctx ends
// or one of them fails, which stops them all.
func NewPool(ctx context.Context, opts PoolOptions) (*Pool, error) {
	if opts.Dial == nil || opts.Sender == nil {
		return nil, errors.New("forum: pool needs a dialer and a sender")
	}
	if opts.Area == "" {
		return nil, errors.New("forum: missing area")
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New("")
	}
	g, gctx := errgroup.WithContext(ctx)
	return &Pool{
		area:     opts.Area,
		dial:     opts.Dial,
		sender:   opts.Sender,
		log:      opts.Logger.With().Str("component", "forum").Logger(),
		metrics:  m,
		group:    g,
		gctx:     gctx,
		sessions: make(map[string]*Session),
	}, nil
}

// Session returns identity's session, creating it on first use. Creation
// holds the lock across the forum calls so two messages from a new author
// cannot open two sessions.
func (p *Pool) Session(ctx context.Context, identity string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[identity]; ok {
		return s, nil
	}
	client, err := p.dial(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("forum session for %s: %w", identity, err)
	}
	thread, err := client.NewestThread(ctx, p.area)
	if err != nil {
		return nil, fmt.Errorf("forum session for %s: %w", identity, err)
	}
	s := &Session{Identity: identity, Client: client, Thread: thread}
	p.sessions[identity] = s
	p.metrics.IncForumSessions()
	p.log.Info().Str("identity", identity).Str("thread", thread.ID).Str("owner", thread.Author).Msg("forum session opened")
	p.group.Go(func() error { return p.listen(p.gctx, s) })
	return s, nil
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Wait blocks until the supervisor stops and returns the first listener
// error.
func (p *Pool) Wait() error {
	<-p.gctx.Done()
	return p.group.Wait()
}

func (p *Pool) listen(ctx context.Context, s *Session) error {
	log := p.log.With().Str("identity", s.Identity).Logger()
	log.Info().Msg("waiting for forum messages")
	err := s.Client.Inbox(ctx, func(m InboxMessage) error {
		if m.Subject != ReplySubject {
			return nil
		}
		content, forward, err := TranslateInbox(m.Body)
		if err != nil {
			return err
		}
		if !forward {
			p.metrics.IncForumSuppressed()
			return nil
		}
		log.Info().Str("content", content).Msg("forwarding forum reply")
		if err := p.sender.Send(ctx, content, s.Identity); err != nil {
			return err
		}
		p.metrics.IncForumForwarded()
		return nil
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("forum listener for %s: %w", s.Identity, err)
	}
	log.Info().Msg("forum listener stopped")
	return nil
}
