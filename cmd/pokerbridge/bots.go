package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pokerbridge/internal/config"
	"pokerbridge/internal/crypto"
	"pokerbridge/internal/debuglog"
	"pokerbridge/internal/engine"
	"pokerbridge/internal/forum"
	"pokerbridge/internal/metrics"
	"pokerbridge/internal/network"
	"pokerbridge/internal/pprofutil"
	"pokerbridge/internal/relay"
	"pokerbridge/internal/role"
)

const (
	snapshotInterval = 5 * time.Second
	dropLogInterval  = 10 * time.Second
)

type botFlags struct {
	envFile  *string
	debug    *bool
	insecure *bool
}

func addBotFlags(fs *flag.FlagSet) botFlags {
	return botFlags{
		envFile:  fs.String("env", ".env", "optional env file"),
		debug:    fs.Bool("debug", false, "enable debug logging"),
		insecure: fs.Bool("insecure", false, "skip room certificate verification"),
	}
}

// bot is one identity's connection to the room with its relay.
type bot struct {
	cfg     config.Config
	self    string
	log     zerolog.Logger
	metrics *metrics.Metrics
	client  *network.Client
	relay   *relay.Relay
	pprof   *pprofutil.Server
}

func openBot(ctx context.Context, cfg config.Config, self string, insecure bool, stderr io.Writer) (*bot, error) {
	log := debuglog.New(stderr, cfg.Debug).With().Str("identity", self).Logger()
	keys, err := crypto.LoadKeyring(cfg.KeysDir, self)
	if err != nil {
		return nil, err
	}
	log.Debug().Strs("identities", keys.Identities()).Msg("keyring loaded")
	m := metrics.New(self)
	srv, err := pprofutil.Start(cfg.MetricsAddr, false, log, m)
	if err != nil {
		return nil, err
	}
	client, err := network.Dial(ctx, cfg.RoomAddr, cfg.Channel, self, insecure)
	if err != nil {
		_ = srv.Close()
		return nil, err
	}
	r, err := relay.New(relay.Options{
		Self:    self,
		Keyring: keys,
		Poster:  client,
		Pacing:  cfg.Pacing,
		Logger:  log,
		Metrics: m,
		Limiter: debuglog.NewLimiter(dropLogInterval),
	})
	if err != nil {
		_ = client.Close()
		_ = srv.Close()
		return nil, err
	}
	return &bot{cfg: cfg, self: self, log: log, metrics: m, client: client, relay: r, pprof: srv}, nil
}

func (b *bot) Close() {
	_ = b.client.Close()
	_ = b.pprof.Close()
	if err := b.metrics.WriteSnapshot(b.cfg.MetricsFile); err != nil {
		b.log.Warn().Err(err).Msg("write metrics snapshot")
	}
}

// serve binds the role built by build and runs the room listener next to
// the role's own loop. The first failure stops both.
func (b *bot) serve(ctx context.Context, build func(ctx context.Context) (role.Role, error)) error {
	g, gctx := errgroup.WithContext(ctx)
	r, err := build(gctx)
	if err != nil {
		return err
	}
	b.relay.Bind(r)
	g.Go(func() error { return b.client.Listen(gctx, b.relay.Deliver) })
	g.Go(func() error { return r.Start(gctx) })
	if b.cfg.MetricsFile != "" {
		g.Go(func() error {
			t := time.NewTicker(snapshotInterval)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					if err := b.metrics.WriteSnapshot(b.cfg.MetricsFile); err != nil {
						b.log.Warn().Err(err).Msg("write metrics snapshot")
					}
				}
			}
		})
	}
	err = g.Wait()
	if err == nil && ctx.Err() == nil {
		return errors.New("room connection closed")
	}
	return err
}

func runBot(ctx context.Context, cfg config.Config, self string, insecure bool, stdout, stderr io.Writer, info bannerInfo,
	build func(ctx context.Context, b *bot) (role.Role, error)) int {
	b, err := openBot(ctx, cfg, self, insecure, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", info.Mode, err)
		return 1
	}
	defer b.Close()
	info.Identity = self
	info.Addr = cfg.RoomAddr
	info.Channel = cfg.Channel
	if b.pprof != nil {
		info.Metrics = b.pprof.Addr
	}
	banner(stdout, info)
	err = b.serve(ctx, func(ctx context.Context) (role.Role, error) { return build(ctx, b) })
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", info.Mode, err)
		return 1
	}
	return 0
}

func runTable(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("table", flag.ContinueOnError)
	fs.SetOutput(stderr)
	f := addBotFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	cfg, ok := loadConfig(*f.envFile, *f.debug, stderr)
	if !ok {
		return 1
	}
	ctx, stop := signalContext()
	defer stop()
	info := bannerInfo{Mode: "table", Engine: cfg.EngineAddr}
	return runBot(ctx, cfg, cfg.TableIdentity, *f.insecure, stdout, stderr, info, func(_ context.Context, b *bot) (role.Role, error) {
		conn := engine.New(engine.Options{Addr: cfg.EngineAddr, MaxTries: cfg.EngineRetries, Logger: b.log})
		return role.NewTable(conn, b.log, b.metrics), nil
	})
}

func runPlayer(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("player", flag.ContinueOnError)
	fs.SetOutput(stderr)
	f := addBotFlags(fs)
	id := fs.String("id", "", "player identity")
	lead := fs.Bool("lead", false, "start the game once every player has joined")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == "" {
		fmt.Fprintln(stderr, "missing --id")
		return 1
	}
	cfg, ok := loadConfig(*f.envFile, *f.debug, stderr)
	if !ok {
		return 1
	}
	ctx, stop := signalContext()
	defer stop()
	info := bannerInfo{Mode: "player", Lead: *lead}
	return runBot(ctx, cfg, *id, *f.insecure, stdout, stderr, info, func(_ context.Context, b *bot) (role.Role, error) {
		return role.NewPlayer(role.PlayerOptions{
			Self:       *id,
			Table:      cfg.TableIdentity,
			Lead:       *lead,
			GoAhead:    promptGoAhead(stdin, stdout),
			JoinWindow: cfg.JoinWindow,
			Sender:     b.relay,
			Logger:     b.log,
		})
	})
}

func runForum(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("forum", flag.ContinueOnError)
	fs.SetOutput(stderr)
	f := addBotFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	cfg, ok := loadConfig(*f.envFile, *f.debug, stderr)
	if !ok {
		return 1
	}
	secrets, err := config.LoadSecrets(cfg.SecretsFile)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	ctx, stop := signalContext()
	defer stop()
	info := bannerInfo{Mode: "forum", Engine: "r/" + cfg.ForumArea}
	return runBot(ctx, cfg, cfg.TableIdentity, *f.insecure, stdout, stderr, info, func(ctx context.Context, b *bot) (role.Role, error) {
		dial := func(ctx context.Context, identity string) (forum.Client, error) {
			creds, err := secrets.ForumCredentials(identity)
			if err != nil {
				return nil, err
			}
			return forum.DialReddit(ctx, forum.RedditOptions{
				Credentials:       creds,
				UserAgent:         cfg.ForumUserAgent,
				AuthURL:           cfg.ForumAuthURL,
				APIURL:            cfg.ForumAPIURL,
				PollInterval:      cfg.ForumPollInterval,
				RequestsPerSecond: cfg.ForumRate,
				Logger:            b.log,
			})
		}
		pool, err := forum.NewPool(ctx, forum.PoolOptions{
			Area:    cfg.ForumArea,
			Dial:    dial,
			Sender:  b.relay,
			Logger:  b.log,
			Metrics: b.metrics,
		})
		if err != nil {
			return nil, err
		}
		return role.NewBridge(pool, b.log), nil
	})
}

// promptGoAhead waits for the operator to press enter. A closed stdin counts
// as the go-ahead so the lead can run unattended.
func promptGoAhead(in io.Reader, out io.Writer) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		pterm.Fprintln(out, pterm.Info.Sprint("Press enter once every player has been added"))
		done := make(chan error, 1)
		go func() {
			_, err := bufio.NewReader(in).ReadString('\n')
			if errors.Is(err, io.EOF) {
				err = nil
			}
			done <- err
		}()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			if err == nil {
				pterm.Fprintln(out, pterm.Success.Sprint("Starting the game"))
			}
			return err
		}
	}
}
