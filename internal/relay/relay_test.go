package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pokerbridge/internal/crypto"
	"pokerbridge/internal/metrics"
	"pokerbridge/internal/network"
	"pokerbridge/internal/proto"
	"pokerbridge/internal/testutil"
)

type recordingPoster struct {
	mu    sync.Mutex
	posts []string
	err   error
}

func (p *recordingPoster) Post(_ context.Context, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.posts = append(p.posts, content)
	return nil
}

func (p *recordingPoster) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.posts...)
}

type call struct{ content, author string }

type stubHandler struct {
	calls []call
	reply string
	err   error
}

func (h *stubHandler) Handle(_ context.Context, content, author string) (string, error) {
	h.calls = append(h.calls, call{content, author})
	return h.reply, h.err
}

// keyring holds private keys for every identity so tests can seal as anyone.
func keyring(t *testing.T, self string) *crypto.Keyring {
	t.Helper()
	dir := t.TempDir()
	for _, id := range []string{"Table", "Player1", "Player2"} {
		if _, err := crypto.GenerateIdentity(dir, id); err != nil {
			t.Fatalf("GenerateIdentity: %v", err)
		}
	}
	k, err := crypto.LoadKeyring(dir, self)
	if err != nil {
		t.Fatalf("LoadKeyring: %v", err)
	}
	return k
}

func newRelay(t *testing.T, self string, k *crypto.Keyring, p Poster) (*Relay, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(self)
	r, err := New(Options{Self: self, Keyring: k, Poster: p, Logger: zerolog.Nop(), Metrics: m})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, m
}

func sealed(t *testing.T, k *crypto.Keyring, content, recipient, signer string) string {
	t.Helper()
	ct, sig, err := k.Encrypt([]byte(content), recipient, signer)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := proto.EncodeEnvelope(proto.Envelope{
		Recipient: recipient,
		Content:   proto.EncodeSealedPayload(ct),
		Signature: proto.EncodeSealedPayload(sig),
	})
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	return string(b)
}

func open(t *testing.T, k *crypto.Keyring, wire, self, sender string) crypto.Result {
	t.Helper()
	env, err := proto.DecodeEnvelope([]byte(wire))
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	return k.Decrypt(env, self, sender)
}

func TestDeliverDispatchesAndRepliesToAuthor(t *testing.T) {
	k := keyring(t, "Table")
	poster := &recordingPoster{}
	r, m := newRelay(t, "Table", k, poster)
	h := &stubHandler{reply: `{"status":"Success","message":"Flop-State"}`}
	r.Bind(h)

	req := `{"method":"status","name":"Player1","action":""}`
	msg := network.Message{Author: "Player1", Content: sealed(t, k, req, "Table", "Player1")}
	if err := r.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(h.calls) != 1 || h.calls[0] != (call{req, "Player1"}) {
		t.Fatalf("unexpected handler calls: %+v", h.calls)
	}
	posts := poster.all()
	if len(posts) != 1 {
		t.Fatalf("expected one reply, got %d", len(posts))
	}
	res := open(t, k, posts[0], "Player1", "Table")
	if res.Verdict != crypto.Authentic || res.Content != h.reply {
		t.Fatalf("unexpected reply: %+v", res)
	}
	s := m.Snapshot()
	if s.Relay.Dispatched != 1 || s.Relay.Sent != 1 {
		t.Fatalf("unexpected counters: %+v", s.Relay)
	}
}

func TestDeliverIgnoresEnvelopeForSomeoneElse(t *testing.T) {
	k := keyring(t, "Player1")
	poster := &recordingPoster{}
	r, m := newRelay(t, "Player1", k, poster)
	h := &stubHandler{reply: "should not be sent"}
	r.Bind(h)

	msg := network.Message{Author: "Table", Content: sealed(t, k, "for player two", "Player2", "Table")}
	if err := r.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(h.calls) != 0 || len(poster.all()) != 0 {
		t.Fatalf("expected no effect, got calls=%d posts=%d", len(h.calls), len(poster.all()))
	}
	if got := m.Snapshot().Relay.DropNotAddressed; got != 1 {
		t.Fatalf("expected not-addressed drop, got %d", got)
	}
}

func TestDeliverDropsSelfMalformedAndForged(t *testing.T) {
	k := keyring(t, "Table")
	poster := &recordingPoster{}
	r, m := newRelay(t, "Table", k, poster)
	h := &stubHandler{reply: "x"}
	r.Bind(h)

	msgs := []network.Message{
		{Author: "Table", Content: sealed(t, k, "loop", "Table", "Table")},
		{Author: "Player1", Content: "not an envelope"},
		// Signed by Player2 but posted as Player1.
		{Author: "Player1", Content: sealed(t, k, "forged", "Table", "Player2")},
	}
	for _, msg := range msgs {
		if err := r.Deliver(context.Background(), msg); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
	}
	if len(h.calls) != 0 || len(poster.all()) != 0 {
		t.Fatalf("expected all messages dropped")
	}
	s := m.Snapshot().Relay
	if s.DropSelf != 1 || s.DropParse != 1 || s.DropInvalidSig != 1 {
		t.Fatalf("unexpected drop counters: %+v", s)
	}
	if len(m.Recent().List()) != 2 {
		t.Fatalf("expected parse and signature events recorded")
	}
}

func TestDeliverReturnsHandlerError(t *testing.T) {
	k := keyring(t, "Table")
	r, _ := newRelay(t, "Table", k, &recordingPoster{})
	boom := errors.New("boom")
	r.Bind(&stubHandler{err: boom})
	msg := network.Message{Author: "Player1", Content: sealed(t, k, "x", "Table", "Player1")}
	if err := r.Deliver(context.Background(), msg); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
}

func TestDeliverWithoutRole(t *testing.T) {
	k := keyring(t, "Table")
	r, _ := newRelay(t, "Table", k, &recordingPoster{})
	msg := network.Message{Author: "Player1", Content: sealed(t, k, "x", "Table", "Player1")}
	if err := r.Deliver(context.Background(), msg); err == nil {
		t.Fatalf("expected error with no role bound")
	}
}

func TestSendPacesEveryMessage(t *testing.T) {
	k := keyring(t, "Player1")
	r, _ := newRelay(t, "Player1", k, &recordingPoster{})
	var slept []time.Duration
	r.pacing = 2 * time.Second
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	for i := 0; i < 3; i++ {
		if err := r.Send(context.Background(), "x", "Table"); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if len(slept) != 3 || slept[0] != 2*time.Second {
		t.Fatalf("expected pacing before every send, got %v", slept)
	}
}

func TestConcurrentSendsArePacedOneAtATime(t *testing.T) {
	k := keyring(t, "Table")
	poster := &recordingPoster{}
	r, m := newRelay(t, "Table", k, poster)
	var active, peak, slept atomic.Int32
	r.sleep = func(_ context.Context, _ time.Duration) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		slept.Add(1)
		active.Add(-1)
		return nil
	}

	const senders = 6
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Send(context.Background(), fmt.Sprintf("reply %d", i), "Player1"); err != nil {
				t.Errorf("Send: %v", err)
			}
		}()
	}
	wg.Wait()
	if peak.Load() != 1 {
		t.Fatalf("expected pacing delays to run one at a time, peak %d", peak.Load())
	}
	if slept.Load() != senders || len(poster.all()) != senders || m.Snapshot().Relay.Sent != senders {
		t.Fatalf("expected %d paced posts, slept %d posted %d", senders, slept.Load(), len(poster.all()))
	}
}

func TestConcurrentSendsAllReachRecipientThroughThrottledRoom(t *testing.T) {
	ln, err := network.Listen("127.0.0.1:0", true)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	hub := network.NewHub(network.HubOptions{PostLimit: 2, PostWindow: 150 * time.Millisecond, Logger: zerolog.Nop()})
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- hub.Serve(ctx, ln) }()
	defer func() {
		cancel()
		testutil.Receive(t, served, "room shutdown")
	}()

	dial := func(author string) *network.Client {
		dctx, dcancel := context.WithTimeout(ctx, testutil.DefaultWait)
		defer dcancel()
		c, err := network.Dial(dctx, ln.Addr().String(), "poker", author, false)
		if err != nil {
			t.Fatalf("dial %s: %v", author, err)
		}
		t.Cleanup(func() { _ = c.Close() })
		return c
	}
	table := dial("Table")
	player := dial("Player1")
	testutil.Eventually(t, "two members", func() bool { return hub.Members() == 2 })

	k := keyring(t, "Table")
	r, _ := newRelay(t, "Table", k, table)
	got := make(chan string, 16)
	go func() {
		_ = player.Listen(ctx, func(_ context.Context, m network.Message) error {
			if m.Author == "Table" {
				got <- m.Content
			}
			return nil
		})
	}()

	const senders = 6
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Send(ctx, fmt.Sprintf("reply %d", i), "Player1"); err != nil {
				t.Errorf("Send: %v", err)
			}
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := 0; i < senders; i++ {
		wire := testutil.Receive(t, got, "reply from table")
		res := open(t, k, wire, "Player1", "Table")
		if res.Verdict != crypto.Authentic {
			t.Fatalf("expected authentic reply, got %v", res.Verdict)
		}
		seen[string(res.Content)] = true
	}
	if len(seen) != senders {
		t.Fatalf("expected %d distinct replies, got %v", senders, seen)
	}
}

func TestSendCancelledDuringPacing(t *testing.T) {
	k := keyring(t, "Player1")
	poster := &recordingPoster{}
	m := metrics.New("Player1")
	r, err := New(Options{Self: "Player1", Keyring: k, Poster: poster, Pacing: time.Hour, Logger: zerolog.Nop(), Metrics: m})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Send(ctx, "x", "Table"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(poster.all()) != 0 {
		t.Fatalf("expected nothing posted")
	}
}

func TestSendErrors(t *testing.T) {
	k := keyring(t, "Player1")
	poster := &recordingPoster{err: errors.New("room down")}
	r, m := newRelay(t, "Player1", k, poster)
	if err := r.Send(context.Background(), "x", "Nobody"); err == nil {
		t.Fatalf("expected unknown recipient error")
	}
	if err := r.Send(context.Background(), "x", "Table"); err == nil {
		t.Fatalf("expected post error")
	}
	if got := m.Snapshot().Relay.SendFailed; got != 2 {
		t.Fatalf("expected two failed sends, got %d", got)
	}
}

func TestNewValidates(t *testing.T) {
	k := keyring(t, "Player1")
	cases := []Options{
		{Keyring: k, Poster: &recordingPoster{}},
		{Self: "Player1", Poster: &recordingPoster{}},
		{Self: "Player1", Keyring: k},
	}
	for i, o := range cases {
		if _, err := New(o); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
