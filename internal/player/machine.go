package player

import (
	"pokerbridge/internal/proto"
)

// Betting rounds in which the player asks whose turn it is.
var roundStates = map[string]bool{
	"Pre-Flop-State": true,
	"Flop-State":     true,
	"Turn-State":     true,
	"River-State":    true,
}

var endStates = map[string]bool{
	"Winner-State": true,
	"End-State":    true,
}

const startState = "Start-State"

// Step is what the caller must do after a reply: send Request if Send is set,
// then call State.Complete if Complete is set. Sending first keeps the lead
// player's restart ahead of the next status request.
type Step struct {
	Request  proto.Request
	Send     bool
	Complete bool
}

// Machine runs the request/response sequence against the table.
type Machine struct {
	Self   string
	Lead   bool
	Policy Policy
	State  *State
}

func NewMachine(self string, lead bool, policy Policy) *Machine {
	if policy == nil {
		policy = RandomPolicy{}
	}
	return &Machine{Self: self, Lead: lead, Policy: policy, State: NewState()}
}

// Request builds a request under the player's own name.
func (m *Machine) Request(method, action string) proto.Request {
	return proto.Request{Method: method, Name: m.Self, Action: action}
}

// Next consumes one reply from the table and advances the pending request.
func (m *Machine) Next(reply string) Step {
	r, err := proto.ParseReply(reply)
	if err != nil {
		m.State.set(Idle)
		return Step{Complete: true}
	}
	switch m.State.Pending() {
	case AwaitingState:
		switch {
		case roundStates[r.Message]:
			m.State.set(AwaitingCurrentPlayer)
			return m.send(proto.MethodCurrent, "", false)
		case endStates[r.Message]:
			m.State.set(Idle)
			if m.Lead {
				return m.send(proto.MethodStart, "", true)
			}
			return Step{Complete: true}
		case r.Message == startState:
			m.State.set(Idle)
			return Step{Complete: true}
		}
		// Anything else answers an earlier request; keep waiting.
		return Step{}
	case AwaitingCurrentPlayer:
		if r.Message == m.Self {
			m.State.set(AwaitingActionList)
			return m.send(proto.MethodActions, "", false)
		}
		m.State.set(Idle)
		return Step{Complete: true}
	case AwaitingActionList:
		action := m.Policy.Choose(SplitActions(r.Message))
		m.State.set(Idle)
		return m.send(proto.MethodCall, action, true)
	case AwaitingPlayerAdded, AwaitingGameStarted:
		m.State.set(Idle)
		return Step{}
	}
	return Step{}
}

func (m *Machine) send(method, action string, complete bool) Step {
	return Step{Request: m.Request(method, action), Send: true, Complete: complete}
}
