package role

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"pokerbridge/internal/metrics"
	"pokerbridge/internal/proto"
)

// Engine is the table's line connection to the game engine.
type Engine interface {
	Exchange(ctx context.Context, line string) (string, error)
}

// Table forwards player requests to the engine and returns its answers.
type Table struct {
	engine  Engine
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewTable(engine Engine, log zerolog.Logger, m *metrics.Metrics) *Table {
	if m == nil {
		m = metrics.New("")
	}
	return &Table{
		engine:  engine,
		log:     log.With().Str("component", "table").Logger(),
		metrics: m,
	}
}

// Methods that act on a single player's seat; only that player may call them.
func ownSeat(method string) bool {
	switch method {
	case proto.MethodInfo, proto.MethodRemovePlayer, proto.MethodCall:
		return true
	}
	return false
}

// Handle relays content to the engine verbatim. A request that names a
// different player than its author is dropped without an answer. A request
// that does not parse is fatal.
func (t *Table) Handle(ctx context.Context, content, author string) (string, error) {
	req, err := proto.ParseRequest(content)
	if err != nil {
		return "", err
	}
	if ownSeat(req.Method) && req.Name != author {
		t.metrics.IncDropUnauthorized()
		t.log.Warn().Str("author", author).Str("method", req.Method).Str("name", req.Name).Msg("rejected request for another player")
		return "", nil
	}
	t.log.Info().Str("author", author).Str("line", strings.TrimSpace(content)).Msg("to engine")
	reply, err := t.engine.Exchange(ctx, content)
	if err != nil {
		return "", err
	}
	t.log.Info().Str("line", strings.TrimSpace(reply)).Msg("from engine")
	return reply, nil
}

// Start has nothing to drive; the table only answers.
func (t *Table) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
