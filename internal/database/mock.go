package database

import (
	"context"

	"github.com/npezzotti/go-poker/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockRoomStore struct {
	mock.Mock
}

func (m *MockRoomStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockRoomStore) GetRoomById(ctx context.Context, id string) (*types.Room, error) {
	args := m.Called(ctx, id)
	if room, ok := args.Get(0).(*types.Room); ok && room != nil {
		return room.Clone(), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRoomStore) GetAllRooms(ctx context.Context) (map[string]*types.Room, error) {
	args := m.Called(ctx)
	if rooms, ok := args.Get(0).(map[string]*types.Room); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRoomStore) UpsertRoom(ctx context.Context, room *types.Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}
func (m *MockRoomStore) DeleteRoom(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockRoomStore) GetStoreType() string {
	args := m.Called()
	return args.String(0)
}
func (m *MockRoomStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
