package player

import (
	"math/rand/v2"
	"strings"
)

const (
	ActionNone  = "none"
	ActionAllIn = "allin"
)

// Policy picks one action from the list the table offers.
type Policy interface {
	Choose(actions []string) string
}

// RandomPolicy draws uniformly from [0,100]. A draw of 10 or less takes the
// first action. Otherwise two actions give the second; with three or more,
// draws below 55 take the second and the rest the third. The thresholds are
// kept exactly as the bots have always played them.
type RandomPolicy struct {
	// Draw overrides the random source. It must return a value in [0,100].
	Draw func() int
}

func (p RandomPolicy) Choose(actions []string) string {
	if len(actions) == 0 || actions[0] == ActionNone {
		return ActionAllIn
	}
	d := p.draw()
	switch {
	case d <= 10 || len(actions) == 1:
		return actions[0]
	case len(actions) == 2 || d < 55:
		return actions[1]
	default:
		return actions[2]
	}
}

func (p RandomPolicy) draw() int {
	if p.Draw != nil {
		return p.Draw()
	}
	return rand.IntN(101)
}

// SplitActions splits the table's comma-separated action list.
func SplitActions(list string) []string {
	parts := strings.Split(list, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
