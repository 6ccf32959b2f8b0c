// Package auth guards read access to rooms.
package auth

import (
	"context"
	"strings"

	"github.com/npezzotti/go-poker/internal/database"
)

const (
	bearerPrefix = "Bearer "
	// shortest header that can carry a token after the scheme
	minAuthorizationLength = len(bearerPrefix) + 1
)

type Guard struct {
	store  database.RoomStore
	tokens *TokenService
}

func NewGuard(store database.RoomStore, tokens *TokenService) *Guard {
	return &Guard{
		store:  store,
		tokens: tokens,
	}
}

// CanReadRoom decides whether the holder of authorization may read roomId.
// It returns database.ErrRoomNotFound for an empty or unknown room id and
// passes store errors through. Every credential problem is a plain denial.
func (g *Guard) CanReadRoom(ctx context.Context, roomId, authorization string) (bool, error) {
	if roomId == "" {
		return false, database.ErrRoomNotFound
	}

	room, err := g.store.GetRoomById(ctx, roomId)
	if err != nil {
		return false, err
	}

	if room.Password == "" {
		return true, nil
	}

	token, ok := BearerToken(authorization)
	if !ok {
		return false, nil
	}

	sub, err := g.tokens.Validate(token, roomId)
	if err != nil {
		return false, nil
	}

	_, member := room.Users[sub]
	return member, nil
}

// Subject returns the user id of a valid bearer token for roomId, or "".
func (g *Guard) Subject(roomId, authorization string) string {
	token, ok := BearerToken(authorization)
	if !ok {
		return ""
	}

	sub, err := g.tokens.Validate(token, roomId)
	if err != nil {
		return ""
	}
	return sub
}

func BearerToken(authorization string) (string, bool) {
	if len(authorization) < minAuthorizationLength {
		return "", false
	}
	if !strings.EqualFold(authorization[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}

	token := strings.TrimSpace(authorization[len(bearerPrefix):])
	return token, token != ""
}
