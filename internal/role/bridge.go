package role

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"pokerbridge/internal/forum"
	"pokerbridge/internal/proto"
)

// Bridge stands in for the table when the game server lives on the forum.
// Requests go out as forum posts under the author's own forum account;
// answers come back through that account's inbox listener.
type Bridge struct {
	pool *forum.Pool
	log  zerolog.Logger
}

func NewBridge(pool *forum.Pool, log zerolog.Logger) *Bridge {
	return &Bridge{pool: pool, log: log.With().Str("component", "bridge").Logger()}
}

// Handle never answers directly. Unknown methods and forum failures are
// fatal.
func (b *Bridge) Handle(ctx context.Context, content, author string) (string, error) {
	b.log.Info().Str("author", author).Str("content", strings.TrimSpace(content)).Msg("received")
	req, err := proto.ParseRequest(content)
	if err != nil {
		return "", err
	}
	s, err := b.pool.Session(ctx, author)
	if err != nil {
		return "", err
	}
	op, err := forum.Translate(req)
	if err != nil {
		return "", err
	}
	if op.Private {
		err = s.Client.SendMessage(ctx, s.Thread.Author, forum.RequestSubject, op.Text)
	} else {
		err = s.Client.Reply(ctx, s.Thread, op.Text)
	}
	if err != nil {
		return "", err
	}
	b.log.Debug().Str("author", author).Bool("private", op.Private).Str("text", op.Text).Msg("posted to forum")
	return "", nil
}

// Start blocks on the listener supervisor and returns the first listener
// failure.
func (b *Bridge) Start(ctx context.Context) error {
	return b.pool.Wait()
}
