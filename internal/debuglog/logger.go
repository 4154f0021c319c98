package debuglog

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const envDebug = "POKERBRIDGE_DEBUG"

func Enabled() bool {
	return os.Getenv(envDebug) == "1"
}

// New returns a console logger writing to w. Debug lines are emitted when
// debug is set or POKERBRIDGE_DEBUG=1.
func New(w io.Writer, debug bool) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := zerolog.InfoLevel
	if debug || Enabled() {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// Limiter suppresses repeats of the same log key within an interval. The
// broadcast room is noisy by nature and one bad author can flood the log.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
	sweep    time.Time
	now      func() time.Time
}

func NewLimiter(interval time.Duration) *Limiter {
	return &Limiter{
		interval: interval,
		last:     make(map[string]time.Time),
		sweep:    time.Now(),
		now:      time.Now,
	}
}

func (l *Limiter) Allow(key string) bool {
	if l == nil || l.interval <= 0 || key == "" {
		return true
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.last[key]; ok && now.Sub(last) < l.interval {
		return false
	}
	l.last[key] = now
	if now.Sub(l.sweep) > 2*l.interval {
		for k, ts := range l.last {
			if now.Sub(ts) > 4*l.interval {
				delete(l.last, k)
			}
		}
		l.sweep = now
	}
	return true
}
