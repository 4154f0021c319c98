package network

import (
	"context"
	"errors"
	"fmt"
	"sync"

	quic "github.com/quic-go/quic-go"

	"pokerbridge/internal/proto"
)

// Client is one identity's membership in a room channel.
type Client struct {
	author  string
	channel string
	conn    *quic.Conn
	stream  *quic.Stream
	wmu     sync.Mutex
}

func Dial(ctx context.Context, addr, channel, author string, insecure bool) (*Client, error) {
	if author == "" {
		return nil, errors.New("missing author")
	}
	tlsConf, err := clientTLSConfig(insecure)
	if err != nil {
		return nil, err
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("dial room %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, err
	}
	c := &Client{author: author, channel: channel, conn: conn, stream: stream}
	hello, err := encodeRoomFrame(roomFrame{Type: frameHello, Channel: channel, Author: author})
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if err := c.write(hello); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}
	return c, nil
}

func (c *Client) Author() string {
	return c.author
}

// Post publishes content to the channel. Safe for concurrent use.
func (c *Client) Post(ctx context.Context, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := encodeRoomFrame(roomFrame{Type: framePost, Content: content})
	if err != nil {
		return err
	}
	return c.write(payload)
}

func (c *Client) write(payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return proto.WriteFrame(c.stream, payload)
}

// Listen delivers channel messages to fn one at a time, in arrival order,
// until ctx ends, the connection drops, or fn returns an error.
func (c *Client) Listen(ctx context.Context, fn func(context.Context, Message) error) error {
	stop := context.AfterFunc(ctx, func() { c.stream.CancelRead(0) })
	defer stop()
	for {
		data, err := proto.ReadFrame(c.stream)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("room read: %w", err)
		}
		f, err := decodeRoomFrame(data, frameMessage)
		if err != nil {
			continue
		}
		if f.Channel != c.channel {
			continue
		}
		msg := Message{ID: f.ID, Channel: f.Channel, Author: f.Author, Content: f.Content}
		if err := fn(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Client) Close() error {
	_ = c.stream.Close()
	return c.conn.CloseWithError(0, "")
}
