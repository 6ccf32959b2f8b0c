package database

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-poker/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoom(id string) *types.Room {
	room := types.NewRoom(id, time.Now().UTC().Truncate(time.Millisecond))
	room.Users["u1"] = &types.User{Id: "u1", Username: "alice"}
	room.Stories = append(room.Stories, &types.Story{
		Id:          "s1",
		Title:       "login page",
		Estimations: map[string]float64{"u1": 5},
	})
	room.SelectedStory = "s1"
	return room
}

// testRoomStore exercises the RoomStore contract shared by all implementations.
func testRoomStore(t *testing.T, store RoomStore) {
	ctx := context.Background()

	t.Run("missing room", func(t *testing.T) {
		_, err := store.GetRoomById(ctx, "missing")
		assert.ErrorIs(t, err, ErrRoomNotFound)
	})

	t.Run("upsert and get", func(t *testing.T) {
		room := newTestRoom("room-a")
		require.NoError(t, store.UpsertRoom(ctx, room))

		got, err := store.GetRoomById(ctx, "room-a")
		require.NoError(t, err)
		assert.Equal(t, "room-a", got.Id)
		assert.Equal(t, "alice", got.Users["u1"].Username)
		assert.Equal(t, 5.0, got.Stories[0].Estimations["u1"])
		assert.Equal(t, "s1", got.SelectedStory)
	})

	t.Run("upsert replaces", func(t *testing.T) {
		room := newTestRoom("room-b")
		require.NoError(t, store.UpsertRoom(ctx, room))

		room.Stories[0].Revealed = true
		room.AutoReveal = false
		require.NoError(t, store.UpsertRoom(ctx, room))

		got, err := store.GetRoomById(ctx, "room-b")
		require.NoError(t, err)
		assert.True(t, got.Stories[0].Revealed, "expected story to be revealed")
		assert.False(t, got.AutoReveal, "expected auto reveal to be disabled")
	})

	t.Run("returned rooms are copies", func(t *testing.T) {
		room := newTestRoom("room-c")
		require.NoError(t, store.UpsertRoom(ctx, room))

		got, err := store.GetRoomById(ctx, "room-c")
		require.NoError(t, err)
		got.Users["u1"].Username = "mallory"

		again, err := store.GetRoomById(ctx, "room-c")
		require.NoError(t, err)
		assert.Equal(t, "alice", again.Users["u1"].Username, "expected stored room to be unchanged")
	})

	t.Run("get all rooms", func(t *testing.T) {
		rooms, err := store.GetAllRooms(ctx)
		require.NoError(t, err)
		assert.Contains(t, rooms, "room-a")
		assert.Contains(t, rooms, "room-b")
	})

	t.Run("delete room", func(t *testing.T) {
		require.NoError(t, store.UpsertRoom(ctx, newTestRoom("room-d")))
		require.NoError(t, store.DeleteRoom(ctx, "room-d"))

		_, err := store.GetRoomById(ctx, "room-d")
		assert.ErrorIs(t, err, ErrRoomNotFound)
		assert.ErrorIs(t, store.DeleteRoom(ctx, "room-d"), ErrRoomNotFound)
	})

	t.Run("concurrent upserts", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, store.UpsertRoom(ctx, newTestRoom("room-e")))
			}()
		}
		wg.Wait()

		got, err := store.GetRoomById(ctx, "room-e")
		require.NoError(t, err)
		assert.Len(t, got.Stories, 1, "expected a complete room")
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}

func TestMemoryRoomStore(t *testing.T) {
	store := NewMemoryRoomStore()
	assert.Equal(t, "memory", store.GetStoreType())
	testRoomStore(t, store)
}

func TestMemoryRoomStore_CancelledContext(t *testing.T) {
	store := NewMemoryRoomStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.UpsertRoom(ctx, newTestRoom("r")), context.Canceled)
	_, err := store.GetRoomById(ctx, "r")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSqliteRoomStore(t *testing.T) {
	store, err := NewSqliteRoomStore(filepath.Join(t.TempDir(), "rooms.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	assert.Equal(t, "sqlite", store.GetStoreType())
	testRoomStore(t, store)
}

func TestNewSqliteRoomStore_EmptyPath(t *testing.T) {
	_, err := NewSqliteRoomStore(" ")
	assert.Error(t, err)
}

func TestPgRoomStore(t *testing.T) {
	dsn := os.Getenv("POKER_TEST_DSN")
	if dsn == "" {
		t.Skip("POKER_TEST_DSN not set")
	}

	store, err := NewPgRoomStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	assert.Equal(t, "postgres", store.GetStoreType())
	testRoomStore(t, store)
}

func TestOpen(t *testing.T) {
	store, err := Open(StoreMemory, "")
	require.NoError(t, err)
	assert.Equal(t, "memory", store.GetStoreType())

	_, err = Open("redis", "")
	assert.Error(t, err)
}
