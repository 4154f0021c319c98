package proto

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Canonical methods understood by the table.
const (
	MethodAddPlayer    = "addPlayer"
	MethodStart        = "start"
	MethodStatus       = "status"
	MethodCurrent      = "current"
	MethodActions      = "actions"
	MethodRemovePlayer = "removePlayer"
	MethodUpdate       = "update"
	MethodInfo         = "info"
	MethodCall         = "call"
)

const StatusSuccess = "Success"

// Request is the application payload sent from a player to the table.
type Request struct {
	Method string `json:"method"`
	Name   string `json:"name"`
	Action string `json:"action"`
}

// Line renders r as a single JSON line terminated by '\n'.
func (r Request) Line() string {
	b, _ := json.Marshal(r)
	return string(b) + "\n"
}

// ParseRequest accepts JSON and the older single-quoted dict form
// ({ 'method' : 'status' , 'name' : 'Player1' , 'action' : '' }).
func ParseRequest(s string) (Request, error) {
	var r Request
	if err := json.Unmarshal([]byte(normalizeQuotes(s)), &r); err != nil {
		return Request{}, fmt.Errorf("%w: request: %v", ErrParse, err)
	}
	if r.Method == "" {
		return Request{}, fmt.Errorf("%w: request: missing method", ErrParse)
	}
	return r, nil
}

// Reply is what the table answers with, one per request.
type Reply struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func SuccessReply(message string) string {
	b, _ := json.Marshal(Reply{Status: StatusSuccess, Message: message})
	return string(b)
}

func ParseReply(s string) (Reply, error) {
	var raw struct {
		Status  string           `json:"status"`
		Message *json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal([]byte(normalizeQuotes(s)), &raw); err != nil {
		return Reply{}, fmt.Errorf("%w: reply: %v", ErrParse, err)
	}
	if raw.Message == nil {
		return Reply{}, fmt.Errorf("%w: reply: missing message", ErrParse)
	}
	var msg string
	if err := json.Unmarshal(*raw.Message, &msg); err != nil {
		// Engines occasionally answer with a non-string message; keep its text.
		msg = strings.TrimSpace(string(*raw.Message))
	}
	return Reply{Status: raw.Status, Message: msg}, nil
}

func normalizeQuotes(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, `"`) {
		return s
	}
	return strings.ReplaceAll(s, "'", `"`)
}
