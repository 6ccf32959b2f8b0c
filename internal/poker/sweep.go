package poker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/npezzotti/go-poker/internal/database"
	"github.com/npezzotti/go-poker/internal/types"
)

type SweepConfig struct {
	// MarkAfter is the idle time after which a room without connected
	// users is marked for deletion.
	MarkAfter time.Duration
	// DeleteAfter is the idle time after which a marked room is deleted.
	DeleteAfter time.Duration
	// UserExpiry is the idle time after which a disconnected user is
	// removed from its room.
	UserExpiry time.Duration
}

type SweepStats struct {
	Marked       int
	Deleted      int
	UsersRemoved int
	// Expired maps the rooms that lost users to the removed user ids. Only
	// committed removals are listed.
	Expired map[string][]string
}

// Sweep removes stale users and marks, then deletes, abandoned rooms. Each
// room is re-read under its lock so a concurrent command always wins.
func (p *Processor) Sweep(ctx context.Context, now time.Time, cfg SweepConfig) (SweepStats, error) {
	var stats SweepStats

	rooms, err := p.store.GetAllRooms(ctx)
	if err != nil {
		return stats, fmt.Errorf("list rooms: %w", err)
	}

	var errs []error
	for id := range rooms {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := p.sweepRoom(ctx, id, now, cfg, &stats); err != nil {
			errs = append(errs, fmt.Errorf("sweep room %q: %w", id, err))
		}
	}

	return stats, errors.Join(errs...)
}

func (p *Processor) sweepRoom(ctx context.Context, roomId string, now time.Time, cfg SweepConfig, stats *SweepStats) error {
	unlock := p.locks.lock(roomId)
	defer unlock()

	room, err := p.store.GetRoomById(ctx, roomId)
	if errors.Is(err, database.ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	idle := now.Sub(room.LastActivity)

	if room.MarkedForDeletion && !room.HasConnectedUsers() && idle > cfg.DeleteAfter {
		if err := p.store.DeleteRoom(ctx, roomId); err != nil && !errors.Is(err, database.ErrRoomNotFound) {
			return err
		}
		stats.Deleted++
		return nil
	}

	var expired []string
	if cfg.UserExpiry > 0 {
		for id, u := range room.Users {
			if u.Disconnected && now.Sub(u.LastActivity) > cfg.UserExpiry {
				expired = append(expired, id)
			}
		}
	}
	for _, id := range expired {
		removeUser(room, id)
	}
	changed := len(expired) > 0

	if !room.MarkedForDeletion && !room.HasConnectedUsers() && idle > cfg.MarkAfter {
		room.MarkedForDeletion = true
		stats.Marked++
		changed = true
	}

	if !changed {
		return nil
	}
	if err := p.store.UpsertRoom(ctx, room); err != nil {
		return err
	}

	if len(expired) > 0 {
		slices.Sort(expired)
		if stats.Expired == nil {
			stats.Expired = make(map[string][]string)
		}
		stats.Expired[roomId] = expired
		stats.UsersRemoved += len(expired)
	}
	return nil
}

// LoadRoom returns the committed state of a room.
func (p *Processor) LoadRoom(ctx context.Context, roomId string) (*types.Room, error) {
	room, err := p.store.GetRoomById(ctx, roomId)
	if errors.Is(err, database.ErrRoomNotFound) {
		return nil, notFound("room %q not found", roomId)
	}
	if err != nil {
		return nil, storeUnavailable(err)
	}
	return room, nil
}

// DisconnectAll marks every user of every room disconnected. It runs at
// startup, when no connection from a previous process can still be alive.
func (p *Processor) DisconnectAll(ctx context.Context) (int, error) {
	rooms, err := p.store.GetAllRooms(ctx)
	if err != nil {
		return 0, fmt.Errorf("list rooms: %w", err)
	}

	var (
		count int
		errs  []error
	)
	for id := range rooms {
		n, err := p.disconnectRoom(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("disconnect room %q: %w", id, err))
			continue
		}
		count += n
	}

	return count, errors.Join(errs...)
}

func (p *Processor) disconnectRoom(ctx context.Context, roomId string) (int, error) {
	unlock := p.locks.lock(roomId)
	defer unlock()

	room, err := p.store.GetRoomById(ctx, roomId)
	if errors.Is(err, database.ErrRoomNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	n := disconnectUsers(room)
	if n == 0 {
		return 0, nil
	}
	return n, p.store.UpsertRoom(ctx, room)
}

func disconnectUsers(room *types.Room) int {
	var n int
	for _, u := range room.Users {
		if !u.Disconnected {
			u.Disconnected = true
			n++
		}
	}
	return n
}
