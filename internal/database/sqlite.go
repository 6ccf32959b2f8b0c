package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/npezzotti/go-poker/internal/types"
	_ "modernc.org/sqlite"
)

// SqliteRoomStore keeps rooms in a local SQLite file, for single node
// deployments that must survive restarts without running postgres.
type SqliteRoomStore struct {
	conn *sql.DB
}

func NewSqliteRoomStore(path string) (*SqliteRoomStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// a single connection serializes writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SqliteRoomStore{conn: db}, nil
}

func (db *SqliteRoomStore) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *SqliteRoomStore) GetRoomById(ctx context.Context, id string) (*types.Room, error) {
	var doc []byte
	err := db.conn.QueryRowContext(ctx, sqliteGetRoomQuery, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	return decodeRoom(doc)
}

func (db *SqliteRoomStore) GetAllRooms(ctx context.Context) (map[string]*types.Room, error) {
	rows, err := db.conn.QueryContext(ctx, sqliteGetAllRoomsQuery)
	if err != nil {
		return nil, err
	}

	return scanRooms(rows)
}

func (db *SqliteRoomStore) UpsertRoom(ctx context.Context, room *types.Room) error {
	doc, err := encodeRoom(room)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx, sqliteUpsertRoomQuery, room.Id, doc, time.Now().UTC().UnixMilli())
	return err
}

func (db *SqliteRoomStore) DeleteRoom(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, sqliteDeleteRoomQuery, id)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRoomNotFound
	}

	return nil
}

func (db *SqliteRoomStore) GetStoreType() string {
	return "sqlite"
}

func (db *SqliteRoomStore) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
