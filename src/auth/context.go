package auth

import (
	"context"
)

// User is the externally-authenticated identity attached to a request.
// Authentication itself happens upstream; this layer only propagates
// the asserted identity.
type User struct {
	Email string
}

type contextKey string

const UserKey contextKey = "user"

func GetUserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(UserKey).(*User)
	return user, ok
}

func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, UserKey, user)
}
