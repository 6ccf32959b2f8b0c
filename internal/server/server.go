package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-poker/internal/poker"
	"github.com/npezzotti/go-poker/internal/stats"
	"github.com/npezzotti/go-poker/internal/types"
)

const (
	MetricActiveRooms       = "NumActiveRooms"
	MetricConnections       = "NumConnections"
	MetricCommandsProcessed = "CommandsProcessed"
	MetricCommandsRejected  = "CommandsRejected"

	defaultDisconnectGrace = 5 * time.Second
	defaultStoreTimeout    = 5 * time.Second
)

// CommandHandler applies commands to rooms.
type CommandHandler interface {
	Handle(ctx context.Context, cmd poker.Command) (*poker.Result, error)
}

// RoomLoader reads the committed state of a room. Handlers that implement
// it let loaded rooms refresh their connections after a sweep.
type RoomLoader interface {
	LoadRoom(ctx context.Context, roomId string) (*types.Room, error)
}

type Options struct {
	// DisconnectGrace is how long a user stays connected after losing its
	// last connection to a room.
	DisconnectGrace time.Duration
	// StoreTimeout bounds every command.
	StoreTimeout time.Duration
	CommandTTL   time.Duration
}

type unloadRoomRequest struct {
	roomId string
}

type stopReq struct {
	done chan struct{}
}

type PokerServer struct {
	log            *log.Logger
	processor      CommandHandler
	stats          stats.StatsProvider
	tracker        *CommandTracker
	opts           Options
	joinChan       chan *ClientMessage
	unloadRoomChan chan unloadRoomRequest
	roomsMap       sync.Map
	numRooms       int
	roomsLock      sync.Mutex
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	stop           chan stopReq
}

func NewPokerServer(logger *log.Logger, processor CommandHandler, su stats.StatsProvider, opts Options) *PokerServer {
	if opts.DisconnectGrace <= 0 {
		opts.DisconnectGrace = defaultDisconnectGrace
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}

	for _, m := range []string{MetricActiveRooms, MetricConnections, MetricCommandsProcessed, MetricCommandsRejected} {
		su.RegisterMetric(m)
	}

	return &PokerServer{
		log:            logger,
		processor:      processor,
		stats:          su,
		tracker:        NewCommandTracker(opts.CommandTTL),
		opts:           opts,
		joinChan:       make(chan *ClientMessage, 256),
		unloadRoomChan: make(chan unloadRoomRequest, 256),
		clients:        make(map[*Client]struct{}),
		stop:           make(chan stopReq),
	}
}

func (ps *PokerServer) Tracker() *CommandTracker {
	return ps.tracker
}

// Run routes joins to room workers, starting them on demand, until
// Shutdown is called.
func (ps *PokerServer) Run() {
	for {
		select {
		case msg := <-ps.joinChan:
			ps.handleJoin(msg)
		case req := <-ps.unloadRoomChan:
			ps.handleUnload(req)
		case req := <-ps.stop:
			ps.log.Println("shutting down rooms")
			ps.roomsMap.Range(func(key, value any) bool {
				r := value.(*Room)
				ps.log.Printf("shutting down room %q", r.id)
				done := make(chan bool, 1)
				r.exit <- exitReq{shutdown: true, done: done}
				<-done
				ps.removeRoom(r.id)
				return true
			})

			close(req.done)
			return
		}
	}
}

func (ps *PokerServer) handleJoin(msg *ClientMessage) {
	room, ok := ps.getRoom(msg.RoomId)
	if !ok {
		if !poker.ValidRoomId(msg.RoomId) {
			ps.reject(msg, ErrInvalidMessage(msg.Id))
			return
		}

		room = newRoom(msg.RoomId, ps)
		ps.addRoom(room.id, room)
		go room.start()
	}

	select {
	case room.joinChan <- msg:
	default:
		ps.log.Printf("join channel full on room %q", room.id)
		ps.reject(msg, ErrServiceUnavailable(msg.Id))
	}
}

func (ps *PokerServer) handleUnload(req unloadRoomRequest) {
	r, ok := ps.getRoom(req.roomId)
	if !ok {
		return
	}

	done := make(chan bool, 1)
	r.exit <- exitReq{done: done}
	if <-done {
		ps.removeRoom(req.roomId)
	}
}

// reject answers a message that never reached the processor. The command
// may be retried with the same id.
func (ps *PokerServer) reject(msg *ClientMessage, resp *ServerMessage) {
	if msg.tracked() {
		ps.tracker.Abort(msg.client.userId, msg.Id)
	}
	msg.client.queueMessage(resp)
}

func (ps *PokerServer) addRoom(id string, r *Room) {
	ps.roomsLock.Lock()
	defer ps.roomsLock.Unlock()

	ps.roomsMap.Store(id, r)
	ps.numRooms++
	ps.stats.Incr(MetricActiveRooms)
}

func (ps *PokerServer) getRoom(id string) (*Room, bool) {
	r, ok := ps.roomsMap.Load(id)
	if !ok {
		return nil, false
	}
	return r.(*Room), true
}

func (ps *PokerServer) removeRoom(id string) {
	ps.roomsLock.Lock()
	defer ps.roomsLock.Unlock()

	if _, ok := ps.roomsMap.LoadAndDelete(id); ok {
		ps.log.Printf("unloaded room %q", id)
		ps.numRooms--
		ps.stats.Decr(MetricActiveRooms)
	}
}

// NumRooms returns the number of rooms with a running worker.
func (ps *PokerServer) NumRooms() int {
	ps.roomsLock.Lock()
	defer ps.roomsLock.Unlock()
	return ps.numRooms
}

// Connect registers a websocket connection of userId and starts its pumps.
func (ps *PokerServer) Connect(conn *websocket.Conn, userId string) *Client {
	c := NewClient(userId, conn, ps, ps.log)
	ps.addClient(c)

	go c.Write()
	go c.Read()

	return c
}

func (ps *PokerServer) addClient(c *Client) {
	ps.clientsLock.Lock()
	defer ps.clientsLock.Unlock()

	ps.clients[c] = struct{}{}
	ps.stats.Incr(MetricConnections)
}

func (ps *PokerServer) removeClient(c *Client) {
	ps.clientsLock.Lock()
	defer ps.clientsLock.Unlock()

	if _, ok := ps.clients[c]; ok {
		delete(ps.clients, c)
		ps.stats.Decr(MetricConnections)
	}
}

func (ps *PokerServer) NumClients() int {
	ps.clientsLock.Lock()
	defer ps.clientsLock.Unlock()
	return len(ps.clients)
}

// Shutdown stops all room workers, which flushes pending disconnects, and
// closes every connection.
func (ps *PokerServer) Shutdown(ctx context.Context) error {
	ps.log.Println("received shutdown signal")

	req := stopReq{done: make(chan struct{})}
	select {
	case ps.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	ps.clientsLock.Lock()
	for c := range ps.clients {
		c.stopClient()
	}
	ps.clientsLock.Unlock()

	return nil
}

// Sweeper is implemented by the processor.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time, cfg poker.SweepConfig) (poker.SweepStats, error)
}

// RunJanitor sweeps stale rooms and users and prunes the command tracker
// every interval until ctx is done.
func (ps *PokerServer) RunJanitor(ctx context.Context, sweeper Sweeper, interval time.Duration, cfg poker.SweepConfig) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ps.sweep(ctx, sweeper, cfg)
		}
	}
}

func (ps *PokerServer) sweep(ctx context.Context, sweeper Sweeper, cfg poker.SweepConfig) {
	sctx, cancel := context.WithTimeout(ctx, ps.opts.StoreTimeout*10)
	defer cancel()

	st, err := sweeper.Sweep(sctx, time.Now().UTC(), cfg)
	if err != nil {
		ps.log.Println("sweep:", err)
	}
	if st.Marked+st.Deleted+st.UsersRemoved > 0 {
		ps.log.Printf("sweep: marked %d, deleted %d rooms, removed %d users", st.Marked, st.Deleted, st.UsersRemoved)
	}

	for roomId, userIds := range st.Expired {
		if r, ok := ps.getRoom(roomId); ok {
			r.notifyExpired(userIds)
		}
	}

	if n := ps.tracker.Prune(); n > 0 {
		ps.log.Printf("pruned %d tracked commands", n)
	}
}
