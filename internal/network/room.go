package network

import (
	"encoding/json"
	"fmt"
)

const (
	frameHello   = "hello"
	framePost    = "post"
	frameMessage = "message"
)

// Message is one post as every member of a channel sees it. Author is what
// the room observed, not something the poster can prove.
type Message struct {
	ID      string
	Channel string
	Author  string
	Content string
}

type roomFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Channel string `json:"channel,omitempty"`
	Author  string `json:"author,omitempty"`
	Content string `json:"content,omitempty"`
}

func encodeRoomFrame(f roomFrame) ([]byte, error) {
	return json.Marshal(f)
}

func decodeRoomFrame(data []byte, want string) (roomFrame, error) {
	var f roomFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return roomFrame{}, err
	}
	if f.Type != want {
		return roomFrame{}, fmt.Errorf("unexpected frame type %q, want %q", f.Type, want)
	}
	return f, nil
}
