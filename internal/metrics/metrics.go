package metrics

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Event records one inbound envelope outcome for the status command.
type Event struct {
	At      time.Time `json:"at"`
	Author  string    `json:"author"`
	Outcome string    `json:"outcome"`
}

type Snapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Identity    string       `json:"identity"`
	Relay       RelayMetrics `json:"relay"`
	Forum       ForumMetrics `json:"forum"`
	Recent      []Event      `json:"recent"`
}

type RelayMetrics struct {
	Received         uint64 `json:"received"`
	Dispatched       uint64 `json:"dispatched"`
	Sent             uint64 `json:"sent"`
	SendFailed       uint64 `json:"send_failed"`
	DropSelf         uint64 `json:"drop_self"`
	DropParse        uint64 `json:"drop_parse"`
	DropNotAddressed uint64 `json:"drop_not_addressed"`
	DropInvalidSig   uint64 `json:"drop_invalid_sig"`
	DropUnauthorized uint64 `json:"drop_unauthorized"`
}

type ForumMetrics struct {
	Sessions   uint64 `json:"sessions"`
	Forwarded  uint64 `json:"forwarded"`
	Suppressed uint64 `json:"suppressed"`
}

type Metrics struct {
	identity         string
	received         atomic.Uint64
	dispatched       atomic.Uint64
	sent             atomic.Uint64
	sendFailed       atomic.Uint64
	dropSelf         atomic.Uint64
	dropParse        atomic.Uint64
	dropNotAddressed atomic.Uint64
	dropInvalidSig   atomic.Uint64
	dropUnauthorized atomic.Uint64
	forumSessions    atomic.Uint64
	forumForwarded   atomic.Uint64
	forumSuppressed  atomic.Uint64
	recent           *Recent
}

func New(identity string) *Metrics {
	return &Metrics{identity: identity, recent: NewRecent(64)}
}

func (m *Metrics) Recent() *Recent {
	return m.recent
}

func (m *Metrics) IncReceived()         { m.received.Add(1) }
func (m *Metrics) IncDispatched()       { m.dispatched.Add(1) }
func (m *Metrics) IncSent()             { m.sent.Add(1) }
func (m *Metrics) IncSendFailed()       { m.sendFailed.Add(1) }
func (m *Metrics) IncDropSelf()         { m.dropSelf.Add(1) }
func (m *Metrics) IncDropParse()        { m.dropParse.Add(1) }
func (m *Metrics) IncDropNotAddressed() { m.dropNotAddressed.Add(1) }
func (m *Metrics) IncDropInvalidSig()   { m.dropInvalidSig.Add(1) }
func (m *Metrics) IncDropUnauthorized() { m.dropUnauthorized.Add(1) }
func (m *Metrics) IncForumSessions()    { m.forumSessions.Add(1) }
func (m *Metrics) IncForumForwarded()   { m.forumForwarded.Add(1) }
func (m *Metrics) IncForumSuppressed()  { m.forumSuppressed.Add(1) }

func (m *Metrics) Snapshot() Snapshot {
	recent := []Event{}
	if m.recent != nil {
		recent = m.recent.List()
	}
	return Snapshot{
		GeneratedAt: time.Now().UTC(),
		Identity:    m.identity,
		Relay: RelayMetrics{
			Received:         m.received.Load(),
			Dispatched:       m.dispatched.Load(),
			Sent:             m.sent.Load(),
			SendFailed:       m.sendFailed.Load(),
			DropSelf:         m.dropSelf.Load(),
			DropParse:        m.dropParse.Load(),
			DropNotAddressed: m.dropNotAddressed.Load(),
			DropInvalidSig:   m.dropInvalidSig.Load(),
			DropUnauthorized: m.dropUnauthorized.Load(),
		},
		Forum: ForumMetrics{
			Sessions:   m.forumSessions.Load(),
			Forwarded:  m.forumForwarded.Load(),
			Suppressed: m.forumSuppressed.Load(),
		},
		Recent: recent,
	}
}

func (m *Metrics) WriteSnapshot(path string) error {
	if path == "" {
		return nil
	}
	snap := m.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// -----------------------------------------------------------------------------
// Prometheus export
// -----------------------------------------------------------------------------

var (
	descRelayReceived = prometheus.NewDesc(
		"pokerbridge_relay_received_total",
		"Room messages seen by the relay",
		[]string{"identity"}, nil,
	)
	descRelayInbound = prometheus.NewDesc(
		"pokerbridge_relay_inbound_total",
		"Inbound room messages by outcome; outcomes sum to received",
		[]string{"identity", "outcome"}, nil,
	)
	descRelaySent = prometheus.NewDesc(
		"pokerbridge_relay_sent_total",
		"Envelopes posted to the room",
		[]string{"identity", "result"}, nil,
	)
	descForum = prometheus.NewDesc(
		"pokerbridge_forum_events_total",
		"Forum bridge events",
		[]string{"identity", "event"}, nil,
	)
)

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- descRelayReceived
	ch <- descRelayInbound
	ch <- descRelaySent
	ch <- descForum
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	s := m.Snapshot()
	ch <- prometheus.MustNewConstMetric(descRelayReceived, prometheus.CounterValue, float64(s.Relay.Received), m.identity)
	inbound := map[string]uint64{
		"dispatched":    s.Relay.Dispatched,
		"self":          s.Relay.DropSelf,
		"parse":         s.Relay.DropParse,
		"not_addressed": s.Relay.DropNotAddressed,
		"invalid_sig":   s.Relay.DropInvalidSig,
		"unauthorized":  s.Relay.DropUnauthorized,
	}
	for outcome, v := range inbound {
		ch <- prometheus.MustNewConstMetric(descRelayInbound, prometheus.CounterValue, float64(v), m.identity, outcome)
	}
	ch <- prometheus.MustNewConstMetric(descRelaySent, prometheus.CounterValue, float64(s.Relay.Sent), m.identity, "ok")
	ch <- prometheus.MustNewConstMetric(descRelaySent, prometheus.CounterValue, float64(s.Relay.SendFailed), m.identity, "error")
	ch <- prometheus.MustNewConstMetric(descForum, prometheus.CounterValue, float64(s.Forum.Sessions), m.identity, "session")
	ch <- prometheus.MustNewConstMetric(descForum, prometheus.CounterValue, float64(s.Forum.Forwarded), m.identity, "forwarded")
	ch <- prometheus.MustNewConstMetric(descForum, prometheus.CounterValue, float64(s.Forum.Suppressed), m.identity, "suppressed")
}

// -----------------------------------------------------------------------------
// Recent events ring
// -----------------------------------------------------------------------------

type Recent struct {
	mu   sync.Mutex
	cap  int
	list []Event
}

func NewRecent(capacity int) *Recent {
	if capacity <= 0 {
		capacity = 64
	}
	return &Recent{cap: capacity}
}

func (r *Recent) Add(e Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.list) >= r.cap {
		copy(r.list, r.list[1:])
		r.list[len(r.list)-1] = e
		return
	}
	r.list = append(r.list, e)
}

func (r *Recent) List() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.list))
	copy(out, r.list)
	return out
}
