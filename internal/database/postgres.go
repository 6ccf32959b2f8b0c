package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/npezzotti/go-poker/internal/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type PgRoomStore struct {
	conn *sql.DB
}

func NewPgRoomStore(dsn string) (*PgRoomStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &PgRoomStore{conn: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("new migrate: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

func (db *PgRoomStore) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *PgRoomStore) GetRoomById(ctx context.Context, id string) (*types.Room, error) {
	var doc []byte
	err := db.conn.QueryRowContext(ctx, pgGetRoomQuery, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	return decodeRoom(doc)
}

func (db *PgRoomStore) GetAllRooms(ctx context.Context) (map[string]*types.Room, error) {
	rows, err := db.conn.QueryContext(ctx, pgGetAllRoomsQuery)
	if err != nil {
		return nil, err
	}

	return scanRooms(rows)
}

func (db *PgRoomStore) UpsertRoom(ctx context.Context, room *types.Room) error {
	doc, err := encodeRoom(room)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx, pgUpsertRoomQuery, room.Id, doc, time.Now().UTC())
	return err
}

func (db *PgRoomStore) DeleteRoom(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, pgDeleteRoomQuery, id)
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

func (db *PgRoomStore) GetStoreType() string {
	return "postgres"
}

func (db *PgRoomStore) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
