package forum

import (
	"context"
)

const (
	// RequestSubject tags private messages sent to the forum server.
	RequestSubject = "PokerSturm"
	// ReplySubject tags the forum server's answers; other mail is ignored.
	ReplySubject = "PokerSturm-Server"
)

// Thread is the discussion thread a session plays in.
type Thread struct {
	ID     string
	Author string
	Title  string
}

type InboxMessage struct {
	ID      string
	Author  string
	Subject string
	Body    string
}

// Client is one identity's logged-in forum account.
type Client interface {
	NewestThread(ctx context.Context, area string) (Thread, error)
	SendMessage(ctx context.Context, to, subject, body string) error
	Reply(ctx context.Context, thread Thread, body string) error
	// Inbox calls fn for each private message that arrives after the call,
	// oldest first, marking each one read. It returns nil when ctx ends and
	// fn's error if fn fails.
	Inbox(ctx context.Context, fn func(InboxMessage) error) error
}

// Dialer opens a client for identity.
type Dialer func(ctx context.Context, identity string) (Client, error)
