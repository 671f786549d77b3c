// Package identity carries the authenticated user id on a context.
package identity

import (
	"context"
	"strings"

	"github.com/hpungsan/inkwell/internal/errors"
)

type ctxKey struct{}

// WithUser returns a context carrying userID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, strings.TrimSpace(userID))
}

// UserID returns the user id on ctx, or UNAUTHENTICATED when absent.
func UserID(ctx context.Context) (string, error) {
	id, _ := ctx.Value(ctxKey{}).(string)
	if id == "" {
		return "", errors.NewUnauthenticated()
	}
	return id, nil
}
