package api

import "context"

type contextKey int

const viewerIdKey contextKey = iota

func WithViewerId(ctx context.Context, userId string) context.Context {
	return context.WithValue(ctx, viewerIdKey, userId)
}

// ViewerId returns the user identified by the request's room token.
func ViewerId(ctx context.Context) (string, bool) {
	userId, ok := ctx.Value(viewerIdKey).(string)

	return userId, ok && userId != ""
}
