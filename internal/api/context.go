package api

import (
	"context"

	"github.com/coinhost/billing/internal/db"
)

// ctxKey is a type for context keys to avoid collisions
type ctxKey string

const ctxUser ctxKey = "user"

// GetUser retrieves the authenticated user from the request context.
func GetUser(ctx context.Context) (*db.User, bool) {
	user, ok := ctx.Value(ctxUser).(*db.User)
	return user, ok && user != nil
}

// WithUser adds the authenticated user to the request context.
// This is typically called by authentication middleware after validating the API key.
func WithUser(ctx context.Context, user *db.User) context.Context {
	return context.WithValue(ctx, ctxUser, user)
}
