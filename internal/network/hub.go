package network

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	quic "github.com/quic-go/quic-go"
	"github.com/rs/zerolog"

	"pokerbridge/internal/proto"
)

const (
	defaultMaxConnsPerIP = 32
	helloTimeout         = 10 * time.Second
)

type HubOptions struct {
	MaxConnsPerIP int
	PostLimit     int
	PostWindow    time.Duration
	Logger        zerolog.Logger
}

// Hub is the broadcast room: every post is delivered to every member of the
// poster's channel, the poster included.
type Hub struct {
	mu    sync.Mutex
	subs  map[*subscriber]struct{}
	conns *ipLimiter
	posts *postLimiter
	log   zerolog.Logger
}

type subscriber struct {
	channel string
	author  string
	mu      sync.Mutex
	stream  *quic.Stream
}

func (s *subscriber) send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return proto.WriteFrame(s.stream, payload)
}

func NewHub(opts HubOptions) *Hub {
	maxConns := opts.MaxConnsPerIP
	if maxConns == 0 {
		maxConns = defaultMaxConnsPerIP
	}
	limit := opts.PostLimit
	if limit == 0 {
		limit = defaultPostLimit
	}
	return &Hub{
		subs:  make(map[*subscriber]struct{}),
		conns: newIPLimiter(maxConns),
		posts: newPostLimiter(limit, opts.PostWindow),
		log:   opts.Logger.With().Str("component", "room").Logger(),
	}
}

// Serve accepts connections until ctx ends or the listener fails.
func (h *Hub) Serve(ctx context.Context, ln *quic.Listener) error {
	h.log.Info().Str("addr", ln.Addr().String()).Msg("room listening")
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		ip := remoteIP(conn.RemoteAddr())
		if !h.conns.acquireConn(ip) {
			h.log.Warn().Str("ip", ip).Msg("connection cap reached")
			_ = conn.CloseWithError(1, "too many connections")
			continue
		}
		go func() {
			defer h.conns.releaseConn(ip)
			h.serveConn(ctx, conn)
		}()
	}
}

func (h *Hub) serveConn(ctx context.Context, conn *quic.Conn) {
	defer conn.CloseWithError(0, "")
	helloCtx, cancel := context.WithTimeout(ctx, helloTimeout)
	stream, err := conn.AcceptStream(helloCtx)
	cancel()
	if err != nil {
		h.log.Debug().Err(err).Msg("accept stream failed")
		return
	}
	defer stream.Close()

	data, err := proto.ReadFrame(stream)
	if err != nil {
		h.log.Debug().Err(err).Msg("read hello failed")
		return
	}
	hello, err := decodeRoomFrame(data, frameHello)
	if err != nil || hello.Author == "" {
		h.log.Warn().Err(err).Msg("bad hello")
		return
	}
	sub := &subscriber{channel: hello.Channel, author: hello.Author, stream: stream}
	h.join(sub)
	defer h.leave(sub)

	for {
		data, err := proto.ReadFrame(stream)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.log.Debug().Err(err).Str("author", sub.author).Msg("read post failed")
			}
			return
		}
		post, err := decodeRoomFrame(data, framePost)
		if err != nil {
			h.log.Warn().Err(err).Str("author", sub.author).Msg("bad post")
			continue
		}
		if d := h.posts.Reserve(sub.author); d > 0 {
			h.log.Debug().Str("author", sub.author).Dur("delay", d).Msg("post held back")
			if !holdBack(ctx, d) {
				return
			}
		}
		h.broadcast(Message{
			ID:      uuid.NewString(),
			Channel: sub.channel,
			Author:  sub.author,
			Content: post.Content,
		})
	}
}

// holdBack waits d while the author's stream stays unread, so QUIC flow
// control pushes back on a fast poster instead of its posts being lost.
func holdBack(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (h *Hub) join(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.log.Info().Str("author", s.author).Str("channel", s.channel).Int("members", n).Msg("joined")
}

func (h *Hub) leave(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	h.log.Info().Str("author", s.author).Msg("left")
}

func (h *Hub) broadcast(m Message) {
	payload, err := encodeRoomFrame(roomFrame{
		Type:    frameMessage,
		ID:      m.ID,
		Channel: m.Channel,
		Author:  m.Author,
		Content: m.Content,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("encode message")
		return
	}
	h.mu.Lock()
	targets := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		if s.channel == m.Channel {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()
	for _, s := range targets {
		if err := s.send(payload); err != nil {
			h.log.Debug().Err(err).Str("author", s.author).Msg("deliver failed")
		}
	}
}

// Members reports how many clients are joined.
func (h *Hub) Members() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func remoteIP(addr net.Addr) string {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
