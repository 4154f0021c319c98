package player

import (
	"fmt"
	"sync/atomic"
)

// Pending names the request the player is waiting on.
type Pending int32

const (
	Idle Pending = iota
	AwaitingPlayerAdded
	AwaitingGameStarted
	AwaitingState
	AwaitingCurrentPlayer
	AwaitingActionList
)

func (p Pending) String() string {
	switch p {
	case Idle:
		return "idle"
	case AwaitingPlayerAdded:
		return "awaiting_player_added"
	case AwaitingGameStarted:
		return "awaiting_game_started"
	case AwaitingState:
		return "awaiting_state"
	case AwaitingCurrentPlayer:
		return "awaiting_current_player"
	case AwaitingActionList:
		return "awaiting_action_list"
	default:
		return fmt.Sprintf("pending(%d)", int32(p))
	}
}

// State is the conversation state shared by the session loop and the relay
// callback. There is no lock: the session loop writes pending only through
// Begin, before it sends the request that opens a phase, and the callback
// owns pending until it calls Complete. Both sides rely on the engine
// answering one request at a time. If a reply arrives late, the two writers
// can interleave; that race is accepted.
//
// The atomics give each field a happens-before edge on its own. Complete
// stores the flag before signalling, so a woken reader always observes it.
type State struct {
	pending  atomic.Int32
	complete atomic.Bool
	wake     chan struct{}
}

func NewState() *State {
	return &State{wake: make(chan struct{}, 1)}
}

func (s *State) Pending() Pending {
	return Pending(s.pending.Load())
}

func (s *State) set(p Pending) {
	s.pending.Store(int32(p))
}

// Begin opens a phase: it clears the complete flag, discards any stale
// wakeup and records what the next reply answers.
func (s *State) Begin(p Pending) {
	s.complete.Store(false)
	select {
	case <-s.wake:
	default:
	}
	s.set(p)
}

// Complete marks the phase finished and wakes the session loop.
func (s *State) Complete() {
	s.complete.Store(true)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *State) Completed() bool {
	return s.complete.Load()
}

// Wake fires at least once after each Complete.
func (s *State) Wake() <-chan struct{} {
	return s.wake
}
