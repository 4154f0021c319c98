package role

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pokerbridge/internal/player"
	"pokerbridge/internal/proto"
)

const DefaultJoinWindow = 60 * time.Second

type PlayerOptions struct {
	Self  string
	Table string
	Lead  bool
	// GoAhead blocks until the lead player's operator says every player has
	// joined. Required when Lead is set.
	GoAhead    func(ctx context.Context) error
	JoinWindow time.Duration
	Policy     player.Policy
	Sender     Sender
	Logger     zerolog.Logger
}

// Player plays one seat: it joins, optionally starts the game, and then
// polls the table for its turn.
type Player struct {
	machine    *player.Machine
	table      string
	goAhead    func(ctx context.Context) error
	joinWindow time.Duration
	sender     Sender
	log        zerolog.Logger
}

func NewPlayer(opts PlayerOptions) (*Player, error) {
	if opts.Self == "" || opts.Table == "" {
		return nil, errors.New("player: missing identity")
	}
	if opts.Sender == nil {
		return nil, errors.New("player: missing sender")
	}
	if opts.Lead && opts.GoAhead == nil {
		return nil, errors.New("player: lead player needs a go-ahead")
	}
	if opts.JoinWindow <= 0 {
		opts.JoinWindow = DefaultJoinWindow
	}
	return &Player{
		machine:    player.NewMachine(opts.Self, opts.Lead, opts.Policy),
		table:      opts.Table,
		goAhead:    opts.GoAhead,
		joinWindow: opts.JoinWindow,
		sender:     opts.Sender,
		log:        opts.Logger.With().Str("component", "player").Str("self", opts.Self).Logger(),
	}, nil
}

// State exposes the conversation state shared with the session loop.
func (p *Player) State() *player.State {
	return p.machine.State
}

// Handle advances the sequence with one reply from the table. The player
// never answers directly; follow-up requests go out through the sender.
func (p *Player) Handle(ctx context.Context, content, author string) (string, error) {
	if author != p.table {
		p.log.Debug().Str("author", author).Msg("ignoring message not from table")
		return "", nil
	}
	p.log.Info().Str("content", strings.TrimSpace(content)).Str("pending", p.machine.State.Pending().String()).Msg("received")
	step := p.machine.Next(content)
	if step.Send {
		if err := p.send(ctx, step.Request); err != nil {
			return "", err
		}
	}
	if step.Complete {
		p.machine.State.Complete()
	}
	return "", nil
}

// Start runs the session loop until ctx ends.
func (p *Player) Start(ctx context.Context) error {
	state := p.machine.State
	state.Begin(player.AwaitingPlayerAdded)
	if err := p.send(ctx, p.machine.Request(proto.MethodAddPlayer, "")); err != nil {
		return ignoreCancel(ctx, err)
	}

	if p.machine.Lead {
		if err := p.goAhead(ctx); err != nil {
			return ignoreCancel(ctx, err)
		}
		state.Begin(player.AwaitingGameStarted)
		if err := p.send(ctx, p.machine.Request(proto.MethodStart, "")); err != nil {
			return ignoreCancel(ctx, err)
		}
	} else {
		p.log.Info().Dur("join_window", p.joinWindow).Msg("waiting for other players and the lead to start the game")
		t := time.NewTimer(p.joinWindow)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}

	for {
		state.Begin(player.AwaitingState)
		if err := p.send(ctx, p.machine.Request(proto.MethodStatus, "")); err != nil {
			return ignoreCancel(ctx, err)
		}
		for !state.Completed() {
			select {
			case <-ctx.Done():
				return nil
			case <-state.Wake():
			}
		}
	}
}

func (p *Player) send(ctx context.Context, req proto.Request) error {
	line := req.Line()
	p.log.Info().Str("content", strings.TrimSpace(line)).Msg("send")
	return p.sender.Send(ctx, line, p.table)
}

func ignoreCancel(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
