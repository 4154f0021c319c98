package forum

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pokerbridge/internal/metrics"
	"pokerbridge/internal/proto"
	"pokerbridge/internal/testutil"
)

type fakeClient struct {
	thread Thread
	inbox  chan InboxMessage

	mu      sync.Mutex
	private []string
	public  []string
}

func newFakeClient(owner string) *fakeClient {
	return &fakeClient{
		thread: Thread{ID: "t3_abc", Author: owner, Title: "Poker"},
		inbox:  make(chan InboxMessage, 8),
	}
}

func (c *fakeClient) NewestThread(context.Context, string) (Thread, error) {
	return c.thread, nil
}

func (c *fakeClient) SendMessage(_ context.Context, to, subject, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.private = append(c.private, to+"|"+subject+"|"+body)
	return nil
}

func (c *fakeClient) Reply(_ context.Context, th Thread, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.public = append(c.public, th.ID+"|"+body)
	return nil
}

func (c *fakeClient) Inbox(ctx context.Context, fn func(InboxMessage) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-c.inbox:
			if err := fn(m); err != nil {
				return err
			}
		}
	}
}

type sent struct{ content, recipient string }

type chanSender struct{ ch chan sent }

func (s chanSender) Send(_ context.Context, content, recipient string) error {
	s.ch <- sent{content, recipient}
	return nil
}

func newTestPool(t *testing.T, ctx context.Context, clients map[string]*fakeClient) (*Pool, chan sent, *metrics.Metrics) {
	t.Helper()
	out := make(chan sent, 8)
	m := metrics.New("Table")
	var dials sync.Map
	p, err := NewPool(ctx, PoolOptions{
		Area: "PokerSturm",
		Dial: func(_ context.Context, id string) (Client, error) {
			if _, loaded := dials.LoadOrStore(id, true); loaded {
				t.Errorf("dialled %s twice", id)
			}
			c, ok := clients[id]
			if !ok {
				return nil, errors.New("no credentials")
			}
			return c, nil
		},
		Sender:  chanSender{out},
		Logger:  zerolog.Nop(),
		Metrics: m,
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return p, out, m
}

func TestPoolGetOrCreate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p1 := newFakeClient("server")
	pool, _, m := newTestPool(t, ctx, map[string]*fakeClient{"Player1": p1})

	a, err := pool.Session(ctx, "Player1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	b, err := pool.Session(ctx, "Player1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if a != b || pool.Len() != 1 {
		t.Fatalf("expected one session per identity")
	}
	if a.Thread.Author != "server" {
		t.Fatalf("unexpected thread %+v", a.Thread)
	}
	if _, err := pool.Session(ctx, "Stranger"); err == nil {
		t.Fatalf("expected error for identity without credentials")
	}
	if got := m.Snapshot().Forum.Sessions; got != 1 {
		t.Fatalf("expected one session counted, got %d", got)
	}
}

func TestPoolConcurrentFirstMessagesOpenOneSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := newFakeClient("server")
	var dials atomic.Int32
	pool, err := NewPool(ctx, PoolOptions{
		Area: "PokerSturm",
		Dial: func(context.Context, string) (Client, error) {
			dials.Add(1)
			time.Sleep(20 * time.Millisecond)
			return client, nil
		},
		Sender: chanSender{make(chan sent, 1)},
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	const callers = 8
	start := make(chan struct{})
	got := make([]*Session, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			s, err := pool.Session(ctx, "Player1")
			if err != nil {
				t.Errorf("Session: %v", err)
				return
			}
			got[i] = s
		}()
	}
	close(start)
	wg.Wait()

	if n := dials.Load(); n != 1 {
		t.Fatalf("expected one dial, got %d", n)
	}
	if pool.Len() != 1 {
		t.Fatalf("expected one session, got %d", pool.Len())
	}
	for i, s := range got {
		if s != got[0] {
			t.Fatalf("caller %d got a different session", i)
		}
	}
}

func TestPoolListenerForwardsAndFilters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p1 := newFakeClient("server")
	pool, out, m := newTestPool(t, ctx, map[string]*fakeClient{"Player1": p1})
	if _, err := pool.Session(ctx, "Player1"); err != nil {
		t.Fatalf("Session: %v", err)
	}

	p1.inbox <- InboxMessage{Subject: "hello", Body: "not for the bridge"}
	p1.inbox <- InboxMessage{Subject: ReplySubject, Body: "screen refreshed"}
	p1.inbox <- InboxMessage{Subject: ReplySubject, Body: "available Actions: raise 10,call,fold"}

	got := testutil.Receive(t, out, "forwarded reply")
	if got.recipient != "Player1" || got.content != proto.SuccessReply("raise,call,fold") {
		t.Fatalf("unexpected forward %+v", got)
	}
	testutil.Eventually(t, "forum counters", func() bool {
		f := m.Snapshot().Forum
		return f.Suppressed == 1 && f.Forwarded == 1
	})
}

func TestPoolListenerFailureStopsSupervisor(t *testing.T) {
	p1 := newFakeClient("server")
	pool, _, _ := newTestPool(t, context.Background(), map[string]*fakeClient{"Player1": p1})
	if _, err := pool.Session(context.Background(), "Player1"); err != nil {
		t.Fatalf("Session: %v", err)
	}
	p1.inbox <- InboxMessage{Subject: ReplySubject, Body: "garbled"}

	done := make(chan error, 1)
	go func() { done <- pool.Wait() }()
	err := testutil.Receive(t, done, "supervisor exit")
	if !errors.Is(err, proto.ErrParse) {
		t.Fatalf("expected parse error from listener, got %v", err)
	}
}

func TestPoolWaitReturnsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool, _, _ := newTestPool(t, ctx, map[string]*fakeClient{"Player1": newFakeClient("server")})
	if _, err := pool.Session(ctx, "Player1"); err != nil {
		t.Fatalf("Session: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- pool.Wait() }()
	cancel()
	if err := testutil.Receive(t, done, "supervisor exit"); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
}
