package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/npezzotti/go-poker/internal/types"
)

// Rooms are stored as one JSON document per row so that an upsert replaces
// the whole aggregate in a single statement.

func encodeRoom(room *types.Room) (string, error) {
	doc, err := json.Marshal(room)
	if err != nil {
		return "", fmt.Errorf("encode room %q: %w", room.Id, err)
	}
	return string(doc), nil
}

func decodeRoom(doc []byte) (*types.Room, error) {
	var room types.Room
	if err := json.Unmarshal(doc, &room); err != nil {
		return nil, fmt.Errorf("decode room: %w", err)
	}
	if room.Users == nil {
		room.Users = make(map[string]*types.User)
	}
	if room.Stories == nil {
		room.Stories = make([]*types.Story, 0)
	}
	for _, s := range room.Stories {
		if s.Estimations == nil {
			s.Estimations = make(map[string]float64)
		}
	}
	return &room, nil
}

func scanRooms(rows *sql.Rows) (map[string]*types.Room, error) {
	defer rows.Close()

	rooms := make(map[string]*types.Room)
	for rows.Next() {
		var (
			id  string
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, err
		}

		room, err := decodeRoom(doc)
		if err != nil {
			return nil, fmt.Errorf("room %q: %w", id, err)
		}
		rooms[id] = room
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return rooms, nil
}
