package database

import (
	"context"
	"errors"
	"sync"

	"github.com/npezzotti/go-poker/internal/types"
)

type MemoryRoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*types.Room
}

func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{
		rooms: make(map[string]*types.Room),
	}
}

func (s *MemoryRoomStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryRoomStore) GetRoomById(ctx context.Context, id string) (*types.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}

	return room.Clone(), nil
}

func (s *MemoryRoomStore) GetAllRooms(ctx context.Context) (map[string]*types.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make(map[string]*types.Room, len(s.rooms))
	for id, room := range s.rooms {
		rooms[id] = room.Clone()
	}

	return rooms, nil
}

func (s *MemoryRoomStore) UpsertRoom(ctx context.Context, room *types.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if room == nil || room.Id == "" {
		return errors.New("room id is required")
	}

	c := room.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rooms[c.Id] = c
	return nil
}

func (s *MemoryRoomStore) DeleteRoom(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[id]; !ok {
		return ErrRoomNotFound
	}

	delete(s.rooms, id)
	return nil
}

func (s *MemoryRoomStore) GetStoreType() string {
	return "memory"
}

func (s *MemoryRoomStore) Close() error {
	return nil
}
