// Package role holds the three automatons a bot can run behind its relay:
// the engine-facing Table, the Player, and the forum Bridge.
package role

import (
	"context"
)

// Role consumes authenticated content and may answer it. Start runs the
// role's own work and returns when ctx ends or the role fails.
//
// The set of roles is closed; only this package can implement Role.
type Role interface {
	Handle(ctx context.Context, content, author string) (string, error)
	Start(ctx context.Context) error
	sealed()
}

// Sender sends content to one identity through the room. The relay
// implements it.
type Sender interface {
	Send(ctx context.Context, content, recipient string) error
}

func (*Table) sealed()  {}
func (*Player) sealed() {}
func (*Bridge) sealed() {}
