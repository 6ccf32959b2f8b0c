package database

import "fmt"

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSqlite   = "sqlite"
)

// Open returns the RoomStore of the given kind. dsn is the postgres
// connection string or the sqlite file path; memory ignores it.
func Open(kind, dsn string) (RoomStore, error) {
	switch kind {
	case StoreMemory:
		return NewMemoryRoomStore(), nil
	case StorePostgres:
		return NewPgRoomStore(dsn)
	case StoreSqlite:
		return NewSqliteRoomStore(dsn)
	default:
		return nil, fmt.Errorf("unknown store type %q", kind)
	}
}
