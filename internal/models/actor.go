package models

import (
	"context"
	"strings"
)

type Role string

const (
	RoleResident  Role = "resident"
	RoleProvider  Role = "provider"
	RoleAuthority Role = "authority"
)

func ValidRole(r Role) bool {
	switch r {
	case RoleResident, RoleProvider, RoleAuthority:
		return true
	default:
		return false
	}
}

func ParseRole(s string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	return role, ValidRole(role)
}

// Actor is the authenticated caller of a request.
// Department is set for authority accounts, Name identifies providers.
type Actor struct {
	Subject    string
	Role       Role
	Department Department
	Name       string
}

type actorKey struct{}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the authenticated caller. It is absent when
// authentication is disabled.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}
