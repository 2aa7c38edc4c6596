package access

import (
	"context"
	"strings"
)

type Role string

const (
	RoleCleaner      Role = "cleaner"
	RoleManager      Role = "manager"
	RoleSuperManager Role = "super_manager"
)

func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleCleaner, RoleManager, RoleSuperManager:
		return r, true
	default:
		return "", false
	}
}

// Actor is the authenticated caller. Every operation is scoped to BusinessID.
type Actor struct {
	ID         string `json:"id"`
	Role       Role   `json:"role"`
	BusinessID string `json:"business_id"`
}

func (a Actor) IsManager() bool {
	return a.Role == RoleManager || a.Role == RoleSuperManager
}

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}
