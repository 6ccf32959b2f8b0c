// Package poker implements the room state machine. Every command for a room
// is applied under that room's lock, so the latest accepted command always
// sees the state left by the previous one.
package poker

import (
	"context"
	"errors"
	"log"
	"regexp"
	"time"

	"github.com/npezzotti/go-poker/internal/database"
	"github.com/npezzotti/go-poker/internal/types"
	"github.com/teris-io/shortid"
	"golang.org/x/crypto/bcrypt"
)

const (
	maxUserIdLength = 100
)

var roomIdPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,99}$`)

func ValidRoomId(id string) bool {
	return roomIdPattern.MatchString(id)
}

// TokenIssuer issues and checks room tokens for password protected rooms.
type TokenIssuer interface {
	Issue(userId, roomId string) (string, error)
	Validate(token, roomId string) (string, error)
}

type Result struct {
	// Room is the committed state after the command.
	Room   *types.Room
	Events []string
	// Token is a room token for the issuing user, only set by join and
	// setPassword on protected rooms. It must not be broadcast.
	Token string
	// Removed lists users that are no longer part of the room.
	Removed []string
	// Noop is set when the command was accepted but changed nothing.
	Noop bool
}

type Processor struct {
	store      database.RoomStore
	tokens     TokenIssuer
	locks      *roomLocks
	log        *log.Logger
	now        func() time.Time
	newStoryId func() (string, error)
	bcryptCost int
}

func NewProcessor(logger *log.Logger, store database.RoomStore, tokens TokenIssuer) *Processor {
	return &Processor{
		store:      store,
		tokens:     tokens,
		locks:      newRoomLocks(),
		log:        logger,
		now:        func() time.Time { return time.Now().UTC() },
		newStoryId: shortid.Generate,
		bcryptCost: bcrypt.DefaultCost,
	}
}

type txn struct {
	cmd     Command
	room    *types.Room
	user    *types.User
	now     time.Time
	created bool
	result  *Result
}

func (tx *txn) emit(events ...string) {
	tx.result.Events = append(tx.result.Events, events...)
}

// Handle validates cmd against the current state of its room and, if it is
// accepted, persists the new state. Rejected commands leave the stored room
// untouched.
func (p *Processor) Handle(ctx context.Context, cmd Command) (*Result, error) {
	h, ok := handlers[cmd.Type]
	if !ok {
		return nil, validation("unknown command type %q", cmd.Type)
	}
	if !ValidRoomId(cmd.RoomId) {
		return nil, validation("invalid room id %q", cmd.RoomId)
	}
	if cmd.UserId == "" || len(cmd.UserId) > maxUserIdLength {
		return nil, validation("invalid user id")
	}

	unlock := p.locks.lock(cmd.RoomId)
	defer unlock()

	now := p.now()

	created := false
	room, err := p.store.GetRoomById(ctx, cmd.RoomId)
	switch {
	case errors.Is(err, database.ErrRoomNotFound):
		if cmd.Type != CmdJoin {
			return nil, notFound("room %q not found", cmd.RoomId)
		}
		room = types.NewRoom(cmd.RoomId, now)
		created = true
	case err != nil:
		return nil, storeUnavailable(err)
	}

	tx := &txn{
		cmd:     cmd,
		room:    room,
		user:    room.Users[cmd.UserId],
		now:     now,
		created: created,
		result:  &Result{},
	}

	if cmd.Type != CmdJoin && tx.user == nil {
		return nil, forbidden("user %q has not joined room %q", cmd.UserId, cmd.RoomId)
	}

	if err := h(p, tx); err != nil {
		return nil, err
	}

	if tx.result.Noop {
		tx.result.Room = room
		return tx.result, nil
	}

	// losing a connection is not room activity, the user's clock still
	// starts so expiry counts from the disconnect
	if cmd.Type != CmdDisconnect {
		room.LastActivity = now
		room.MarkedForDeletion = false
	}
	if u, ok := room.Users[cmd.UserId]; ok {
		u.LastActivity = now
	}

	if err := p.store.UpsertRoom(ctx, room); err != nil {
		p.log.Printf("upsert room %q after %s: %v", cmd.RoomId, cmd.Type, err)
		return nil, storeUnavailable(err)
	}

	tx.result.Room = room
	return tx.result, nil
}

func (p *Processor) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.bcryptCost)
	return string(hash), err
}

func verifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
