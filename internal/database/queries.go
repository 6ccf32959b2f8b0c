package database

const (
	pgGetRoomQuery     = "SELECT document FROM rooms WHERE id = $1 LIMIT 1"
	pgGetAllRoomsQuery = "SELECT id, document FROM rooms"
	pgUpsertRoomQuery  = "INSERT INTO rooms (id, document, updated_at) VALUES ($1, $2, $3) " +
		"ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at"
	pgDeleteRoomQuery = "DELETE FROM rooms WHERE id = $1"

	sqliteSchema = `
CREATE TABLE IF NOT EXISTS rooms (
    id         TEXT PRIMARY KEY,
    document   TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);`
	sqliteGetRoomQuery     = "SELECT document FROM rooms WHERE id = ? LIMIT 1"
	sqliteGetAllRoomsQuery = "SELECT id, document FROM rooms"
	sqliteUpsertRoomQuery  = "INSERT INTO rooms (id, document, updated_at) VALUES (?, ?, ?) " +
		"ON CONFLICT (id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at"
	sqliteDeleteRoomQuery = "DELETE FROM rooms WHERE id = ?"
)
