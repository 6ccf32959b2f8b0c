package poker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/npezzotti/go-poker/internal/database"
	"github.com/npezzotti/go-poker/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testSweepConfig = SweepConfig{
	MarkAfter:   time.Hour,
	DeleteAfter: 2 * time.Hour,
	UserExpiry:  24 * time.Hour,
}

func seedRoom(t *testing.T, store database.RoomStore, id string, lastActivity time.Time, users ...*types.User) {
	t.Helper()

	room := types.NewRoom(id, lastActivity)
	for _, u := range users {
		room.Users[u.Id] = u
	}
	require.NoError(t, store.UpsertRoom(context.Background(), room))
}

func TestSweep_MarkThenDelete(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryRoomStore()
	p := newTestProcessor(t, store)

	seedRoom(t, store, "idle", testNow, &types.User{Id: "u1", Disconnected: true, LastActivity: testNow})
	seedRoom(t, store, "busy", testNow, &types.User{Id: "u2", LastActivity: testNow})
	seedRoom(t, store, "fresh", testNow.Add(90*time.Minute))

	stats, err := p.Sweep(ctx, testNow.Add(90*time.Minute), testSweepConfig)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Marked: 1}, stats)

	idle, err := store.GetRoomById(ctx, "idle")
	require.NoError(t, err)
	assert.True(t, idle.MarkedForDeletion)
	assert.Equal(t, testNow, idle.LastActivity, "expected marking not to count as activity")

	busy, err := store.GetRoomById(ctx, "busy")
	require.NoError(t, err)
	assert.False(t, busy.MarkedForDeletion, "expected rooms with connected users to be kept")

	stats, err = p.Sweep(ctx, testNow.Add(3*time.Hour), testSweepConfig)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deleted)

	_, err = store.GetRoomById(ctx, "idle")
	assert.ErrorIs(t, err, database.ErrRoomNotFound)
}

func TestSweep_JoinUnmarks(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryRoomStore()
	p := newTestProcessor(t, store)

	seedRoom(t, store, "room-1", testNow.Add(-2*time.Hour))
	_, err := p.Sweep(ctx, testNow, testSweepConfig)
	require.NoError(t, err)

	res := mustHandle(t, p, command(t, "u1", CmdJoin, JoinPayload{}))
	assert.False(t, res.Room.MarkedForDeletion)

	stats, err := p.Sweep(ctx, testNow.Add(time.Minute), testSweepConfig)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{}, stats)
}

func TestSweep_ExpiresUsers(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryRoomStore()
	p := newTestProcessor(t, store)

	seedRoom(t, store, "room-1", testNow,
		&types.User{Id: "gone", Disconnected: true, LastActivity: testNow.Add(-48 * time.Hour)},
		&types.User{Id: "away", Disconnected: true, LastActivity: testNow.Add(-time.Hour)},
		&types.User{Id: "here", LastActivity: testNow.Add(-48 * time.Hour)},
	)

	stats, err := p.Sweep(ctx, testNow, testSweepConfig)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UsersRemoved)
	assert.Equal(t, map[string][]string{"room-1": {"gone"}}, stats.Expired)

	room, err := store.GetRoomById(ctx, "room-1")
	require.NoError(t, err)
	assert.NotContains(t, room.Users, "gone")
	assert.Contains(t, room.Users, "away")
	assert.Contains(t, room.Users, "here")
}

func TestSweep_DisconnectIsNotActivity(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryRoomStore()
	p := newTestProcessor(t, store)

	room := types.NewRoom("room-1", testNow.Add(-2*time.Hour))
	room.MarkedForDeletion = true
	room.Users["u1"] = &types.User{Id: "u1", LastActivity: testNow.Add(-2 * time.Hour)}
	require.NoError(t, store.UpsertRoom(ctx, room))

	res := mustHandle(t, p, command(t, "u1", CmdDisconnect, nil))
	assert.True(t, res.Room.MarkedForDeletion, "expected the room to stay marked")
	assert.Equal(t, testNow.Add(-2*time.Hour), res.Room.LastActivity)
	assert.Equal(t, testNow, res.Room.Users["u1"].LastActivity, "expected user expiry to count from the disconnect")

	stats, err := p.Sweep(ctx, testNow.Add(time.Hour), testSweepConfig)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deleted)
}

func TestProcessor_LoadRoom(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryRoomStore()
	p := newTestProcessor(t, store)

	seedRoom(t, store, "room-1", testNow, &types.User{Id: "u1", LastActivity: testNow})

	room, err := p.LoadRoom(ctx, "room-1")
	require.NoError(t, err)
	assert.Contains(t, room.Users, "u1")

	_, err = p.LoadRoom(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweep_StoreError(t *testing.T) {
	store := new(database.MockRoomStore)
	store.On("GetAllRooms", mock.Anything).Return(nil, errors.New("db down"))

	p := newTestProcessor(t, store)
	_, err := p.Sweep(context.Background(), testNow, testSweepConfig)
	assert.Error(t, err)
}

func TestDisconnectAll(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryRoomStore()
	p := newTestProcessor(t, store)

	seedRoom(t, store, "a", testNow, &types.User{Id: "u1"}, &types.User{Id: "u2", Disconnected: true})
	seedRoom(t, store, "b", testNow, &types.User{Id: "u3"})

	n, err := p.DisconnectAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rooms, err := store.GetAllRooms(ctx)
	require.NoError(t, err)
	for _, room := range rooms {
		assert.False(t, room.HasConnectedUsers(), "room %s still has connected users", room.Id)
	}
}

func TestRoomLocks(t *testing.T) {
	l := newRoomLocks()

	unlockA := l.lock("a")
	unlockB := l.lock("b")
	assert.Equal(t, 2, l.size())

	acquired := make(chan struct{})
	go func() {
		unlock := l.lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("expected second lock of the same room to block")
	case <-time.After(50 * time.Millisecond):
	}

	unlockA()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("expected lock to be acquired after release")
	}

	unlockB()
	assert.Eventually(t, func() bool { return l.size() == 0 }, time.Second, 10*time.Millisecond)
}
