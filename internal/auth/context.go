package auth

import (
	"context"

	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/tenant"
)

type contextKey struct{}

func WithActor(ctx context.Context, a tenant.Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

func ActorFromContext(ctx context.Context) (tenant.Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(tenant.Actor)
	return a, ok
}

func IsParent(ctx context.Context) bool {
	a, ok := ActorFromContext(ctx)
	if !ok {
		return false
	}
	return a.Role == model.RoleParent
}
