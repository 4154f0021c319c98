package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// ErrTransport marks an engine connection that could not be (re)established
// within the retry budget. Callers treat it as fatal.
var ErrTransport = errors.New("engine transport")

const (
	DefaultMaxTries        = 5
	defaultDialTimeout     = 5 * time.Second
	defaultInitialInterval = 200 * time.Millisecond
	defaultMaxInterval     = 5 * time.Second
)

type Options struct {
	Addr            string
	MaxTries        uint
	DialTimeout     time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          zerolog.Logger
}

// Conn is the table's single line-oriented connection to the game engine.
// It dials on first use and redials after I/O failures.
//
// The mutex covers only the socket handle. Exchanges are not serialized:
// the engine protocol allows one outstanding request and concurrent callers
// race on the wire.
type Conn struct {
	opts Options
	log  zerolog.Logger

	mu sync.Mutex
	nc net.Conn
	r  *bufio.Reader
}

func New(opts Options) *Conn {
	if opts.MaxTries == 0 {
		opts.MaxTries = DefaultMaxTries
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = defaultInitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = defaultMaxInterval
	}
	return &Conn{
		opts: opts,
		log:  opts.Logger.With().Str("component", "engine").Str("addr", opts.Addr).Logger(),
	}
}

// Exchange writes line (newline-terminated if it is not already) and returns
// the engine's single reply line verbatim, terminator included.
func (c *Conn) Exchange(ctx context.Context, line string) (string, error) {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.InitialInterval
	bo.MaxInterval = c.opts.MaxInterval

	reply, err := backoff.Retry(ctx, func() (string, error) {
		return c.exchangeOnce(ctx, line)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(c.opts.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn().Err(err).Dur("retry_in", next).Msg("engine exchange failed")
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %s: %v", ErrTransport, c.opts.Addr, err)
	}
	return reply, nil
}

func (c *Conn) exchangeOnce(ctx context.Context, line string) (string, error) {
	nc, r, err := c.current(ctx)
	if err != nil {
		return "", err
	}
	deadline, _ := ctx.Deadline()
	_ = nc.SetDeadline(deadline)
	if _, err := io.WriteString(nc, line); err != nil {
		c.drop(nc)
		return "", fmt.Errorf("write: %w", err)
	}
	reply, err := r.ReadString('\n')
	if err != nil {
		c.drop(nc)
		return "", fmt.Errorf("read: %w", err)
	}
	return reply, nil
}

func (c *Conn) current(ctx context.Context) (net.Conn, *bufio.Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc != nil {
		return c.nc, c.r, nil
	}
	d := net.Dialer{Timeout: c.opts.DialTimeout}
	nc, err := d.DialContext(ctx, "tcp", c.opts.Addr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	c.log.Info().Msg("engine connected")
	c.nc = nc
	c.r = bufio.NewReader(nc)
	return c.nc, c.r, nil
}

func (c *Conn) drop(nc net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nc {
		_ = c.nc.Close()
		c.nc = nil
		c.r = nil
	}
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nil {
		return nil
	}
	err := c.nc.Close()
	c.nc = nil
	c.r = nil
	return err
}
