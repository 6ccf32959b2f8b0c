package database

import (
	"context"
	"errors"

	"github.com/npezzotti/go-poker/internal/types"
)

var ErrRoomNotFound = errors.New("room not found")

// RoomStore persists Room aggregates. Every implementation returns deep
// copies and replaces rooms atomically, so readers never observe a
// partially written room.
type RoomStore interface {
	Ping(ctx context.Context) error
	GetRoomById(ctx context.Context, id string) (*types.Room, error)
	GetAllRooms(ctx context.Context) (map[string]*types.Room, error)
	UpsertRoom(ctx context.Context, room *types.Room) error
	DeleteRoom(ctx context.Context, id string) error
	GetStoreType() string
	Close() error
}
