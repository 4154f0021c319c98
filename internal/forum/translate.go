package forum

import (
	"fmt"
	"strings"

	"pokerbridge/internal/proto"
)

// Op is one forum action: a private message to the thread owner, or a
// public reply on the thread.
type Op struct {
	Private bool
	Text    string
}

// Translate maps a canonical request to the forum server's vocabulary.
func Translate(req proto.Request) (Op, error) {
	switch req.Method {
	case proto.MethodAddPlayer:
		return Op{Private: true, Text: "addPlayer " + req.Name}, nil
	case proto.MethodStart:
		return Op{Text: "startGame"}, nil
	case proto.MethodStatus:
		return Op{Private: true, Text: "getState"}, nil
	case proto.MethodCurrent:
		return Op{Private: true, Text: "getCurrentPlayer"}, nil
	case proto.MethodActions:
		return Op{Private: true, Text: "getAvailableActions"}, nil
	case proto.MethodRemovePlayer:
		return Op{Private: true, Text: "removePlayer " + req.Name}, nil
	case proto.MethodUpdate:
		return Op{Private: true, Text: "update"}, nil
	case proto.MethodInfo:
		return Op{Private: true, Text: "getPlayerInformation"}, nil
	case proto.MethodCall:
		return Op{Text: req.Action}, nil
	}
	return Op{}, fmt.Errorf("%w: unknown method %q", proto.ErrParse, req.Method)
}

var inboxLiterals = map[string]string{
	"add received":    "Player added",
	"remove received": "Player removed",
}

const (
	prefixState   = "state info: "
	prefixCurrent = "current player info: "
	prefixActions = "available Actions: "
	prefixInfo    = "your player information: "
)

// TranslateInbox turns a forum server message into the reply a table would
// have sent. forward is false for messages that answer nothing.
func TranslateInbox(body string) (content string, forward bool, err error) {
	if msg, ok := inboxLiterals[body]; ok {
		return proto.SuccessReply(msg), true, nil
	}
	switch {
	case body == "screen refreshed":
		return "", false, nil
	case strings.HasPrefix(body, prefixState),
		strings.HasPrefix(body, prefixCurrent),
		strings.HasPrefix(body, prefixInfo):
		return proto.SuccessReply(lastField(body)), true, nil
	case strings.HasPrefix(body, prefixActions):
		return proto.SuccessReply(normalizeActions(lastField(body))), true, nil
	}
	return "", false, fmt.Errorf("%w: unknown forum message %q", proto.ErrParse, body)
}

func lastField(body string) string {
	parts := strings.Split(body, ": ")
	return parts[len(parts)-1]
}

// normalizeActions maps the forum server's action list onto the table's:
// a lone "allin" becomes "none" and bet sizes are dropped ("raise 10" ->
// "raise").
func normalizeActions(actions string) string {
	if actions == "allin" {
		return "none"
	}
	parts := strings.Split(actions, ",")
	for i, p := range parts {
		if fields := strings.Split(p, " "); len(fields) > 1 {
			parts[i] = fields[0]
		}
	}
	return strings.Join(parts, ",")
}
