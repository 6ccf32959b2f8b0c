package server

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/npezzotti/go-poker/internal/poker"
	"github.com/npezzotti/go-poker/internal/types"
)

const idleRoomTimeout = time.Second * 5

type exitReq struct {
	shutdown bool
	// done receives whether the room exited.
	done chan bool
}

// Room is the worker of one room. It owns the room's connections and hands
// their commands to the processor one at a time, so responses and events
// leave in the order the commands were applied.
type Room struct {
	id             string
	ps             *PokerServer
	log            *log.Logger
	joinChan       chan *ClientMessage
	leaveChan      chan *Client
	clientMsgChan  chan *ClientMessage
	disconnectChan chan *pendingDisconnect
	expiredChan    chan []string
	clients        map[*Client]struct{}
	userMap        map[string]map[*Client]struct{}
	// pending holds the grace timers of users that lost their last
	// connection.
	pending map[string]*pendingDisconnect
	// killTimer is used to automatically unload the room when it is no longer active
	killTimer *time.Timer
	exit      chan exitReq
	done      chan struct{}
}

func newRoom(id string, ps *PokerServer) *Room {
	return &Room{
		id:             id,
		ps:             ps,
		log:            ps.log,
		joinChan:       make(chan *ClientMessage, 256),
		leaveChan:      make(chan *Client, 256),
		clientMsgChan:  make(chan *ClientMessage, 256),
		disconnectChan: make(chan *pendingDisconnect, 256),
		expiredChan:    make(chan []string, 16),
		clients:        make(map[*Client]struct{}),
		userMap:        make(map[string]map[*Client]struct{}),
		pending:        make(map[string]*pendingDisconnect),
		exit:           make(chan exitReq),
		done:           make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.id)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	defer close(r.done)

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case c := <-r.leaveChan:
			r.handleLeave(c)
		case msg := <-r.clientMsgChan:
			r.handleCommand(msg)
		case pd := <-r.disconnectChan:
			r.handleDisconnect(pd)
		case userIds := <-r.expiredChan:
			r.handleExpired(userIds)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			if r.handleRoomExit(e) {
				return
			}
		}
	}
}

func (r *Room) process(msg *ClientMessage) (poker.Command, *poker.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.ps.opts.StoreTimeout)
	defer cancel()

	cmd := msg.command()
	res, err := r.ps.processor.Handle(ctx, cmd)
	if err != nil {
		r.ps.stats.Incr(MetricCommandsRejected)
	} else {
		r.ps.stats.Incr(MetricCommandsProcessed)
	}
	return cmd, res, err
}

// reply sends the outcome of a processed command to its sender and records
// it for retries. Store failures are not recorded since nothing was applied.
func (r *Room) reply(msg *ClientMessage, resp *ServerMessage, err error) {
	switch {
	case !msg.tracked():
	case errors.Is(err, poker.ErrStoreUnavailable):
		r.ps.tracker.Abort(msg.client.userId, msg.Id)
	default:
		r.ps.tracker.Complete(msg.client.userId, msg.Id, resp)
	}
	msg.client.queueMessage(resp)
}

func (r *Room) handleJoin(join *ClientMessage) {
	// stop the kill timer since we have a new client
	r.killTimer.Stop()

	cmd, res, err := r.process(join)
	if err != nil {
		r.log.Printf("join of %q to room %q rejected: %v", join.client.userId, r.id, err)
		r.reply(join, ErrCommand(join.Id, err), err)
		r.resetKillTimer()
		return
	}

	c := join.client
	if !r.addClient(c) {
		// the connection closed while the join was processed
		if r.userMap[c.userId] == nil {
			r.scheduleDisconnect(c.userId)
		}
		return
	}
	r.cancelDisconnect(c.userId)

	view := types.NewRoomView(res.Room, c.userId)
	r.reply(join, NoErrOK(join.Id, JoinData{Token: res.Token, Room: &view}), nil)

	if !res.Noop {
		r.broadcast(cmd, res)
	}
}

func (r *Room) handleCommand(msg *ClientMessage) {
	if _, ok := r.clients[msg.client]; !ok {
		r.ps.reject(msg, ErrNotJoined(msg.Id))
		return
	}

	cmd, res, err := r.process(msg)
	if err != nil {
		r.reply(msg, ErrCommand(msg.Id, err), err)
		return
	}

	var data any
	if res.Token != "" {
		data = map[string]string{"token": res.Token}
	}
	r.reply(msg, NoErrOK(msg.Id, data), nil)

	if res.Noop {
		return
	}

	r.broadcast(cmd, res)

	for _, userId := range res.Removed {
		r.removeAllClientsForUser(userId)
	}
}

// handleLeave detaches a closed connection. The user is marked disconnected
// once the grace period passes without a new connection.
func (r *Room) handleLeave(c *Client) {
	if !r.removeClient(c) {
		return
	}

	if r.userMap[c.userId] == nil {
		r.scheduleDisconnect(c.userId)
	}
	r.resetKillTimer()
}

type pendingDisconnect struct {
	userId string
	timer  *time.Timer
}

func (r *Room) scheduleDisconnect(userId string) {
	if _, ok := r.pending[userId]; ok {
		return
	}

	pd := &pendingDisconnect{userId: userId}
	done := r.done
	disconnectChan := r.disconnectChan
	pd.timer = time.AfterFunc(r.ps.opts.DisconnectGrace, func() {
		select {
		case disconnectChan <- pd:
		case <-done:
		}
	})
	r.pending[userId] = pd
}

func (r *Room) cancelDisconnect(userId string) {
	if pd, ok := r.pending[userId]; ok {
		pd.timer.Stop()
		delete(r.pending, userId)
	}
}

func (r *Room) handleDisconnect(pd *pendingDisconnect) {
	// a timer that fired after the user came back is stale
	if r.pending[pd.userId] != pd {
		return
	}
	delete(r.pending, pd.userId)

	if r.userMap[pd.userId] == nil {
		r.disconnect(pd.userId)
	}
	r.resetKillTimer()
}

func (r *Room) disconnect(userId string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.ps.opts.StoreTimeout)
	defer cancel()

	cmd := poker.Command{Type: poker.CmdDisconnect, RoomId: r.id, UserId: userId}
	res, err := r.ps.processor.Handle(ctx, cmd)
	if err != nil {
		if !errors.Is(err, poker.ErrForbidden) && !errors.Is(err, poker.ErrNotFound) {
			r.log.Printf("disconnect %q from room %q: %v", userId, r.id, err)
		}
		return
	}

	if !res.Noop {
		r.broadcast(cmd, res)
	}
}

// notifyExpired hands users removed by a sweep to the worker. A full queue
// drops the notice, the next event carries the same room state.
func (r *Room) notifyExpired(userIds []string) {
	select {
	case r.expiredChan <- userIds:
	default:
		r.log.Printf("expired users of room %q dropped, queue full", r.id)
	}
}

// handleExpired detaches users removed by a sweep and sends the remaining
// connections the current room.
func (r *Room) handleExpired(userIds []string) {
	for _, userId := range userIds {
		r.removeAllClientsForUser(userId)
	}

	loader, ok := r.ps.processor.(RoomLoader)
	if !ok || len(r.clients) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.ps.opts.StoreTimeout)
	defer cancel()

	room, err := loader.LoadRoom(ctx, r.id)
	if err != nil {
		r.log.Printf("load room %q after sweep: %v", r.id, err)
		return
	}

	cmd := poker.Command{Type: EventUsersExpired, RoomId: r.id}
	r.broadcast(cmd, &poker.Result{Room: room, Events: []string{EventUsersExpired}, Removed: userIds})
}

func (r *Room) flushDisconnects() {
	for userId, pd := range r.pending {
		pd.timer.Stop()
		delete(r.pending, userId)
		r.disconnect(userId)
	}
}

func (r *Room) resetKillTimer() {
	if len(r.clients) == 0 && len(r.pending) == 0 {
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomTimeout() {
	if len(r.clients) > 0 || len(r.pending) > 0 {
		return
	}

	r.log.Printf("room %q timed out", r.id)
	select {
	case r.ps.unloadRoomChan <- unloadRoomRequest{roomId: r.id}:
	default:
		r.log.Printf("unload channel full, retrying room %q later", r.id)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

// handleRoomExit reports whether the room stopped. An idle unload is
// refused when connections arrived since the timeout fired.
func (r *Room) handleRoomExit(e exitReq) bool {
	if !e.shutdown && (len(r.clients) > 0 || len(r.pending) > 0) {
		e.done <- false
		return false
	}

	r.log.Printf("room %q is exiting", r.id)
	r.killTimer.Stop()

leaves:
	for {
		select {
		case c := <-r.leaveChan:
			r.handleLeave(c)
		default:
			break leaves
		}
	}

	users := make(map[string]struct{}, len(r.userMap))
	for c := range r.clients {
		users[c.userId] = struct{}{}
		r.removeClient(c)
	}

	r.flushDisconnects()
	if e.shutdown {
		// connections are closed right after the rooms stop
		for userId := range users {
			r.disconnect(userId)
		}
	}

	var joins []*ClientMessage
drain:
	for {
		select {
		case msg := <-r.joinChan:
			joins = append(joins, msg)
		case msg := <-r.clientMsgChan:
			r.ps.reject(msg, ErrServiceUnavailable(msg.Id))
		default:
			break drain
		}
	}

	if e.shutdown {
		for _, msg := range joins {
			r.ps.reject(msg, ErrServiceUnavailable(msg.Id))
		}
	} else if len(joins) > 0 {
		// hand joins that raced the unload back to the server, which
		// starts a new worker for them
		go func() {
			for _, msg := range joins {
				r.ps.joinChan <- msg
			}
		}()
	}

	e.done <- true
	return true
}

func (r *Room) addClient(c *Client) bool {
	if !c.setRoom(r) {
		return false
	}

	r.clients[c] = struct{}{}
	if r.userMap[c.userId] == nil {
		r.userMap[c.userId] = make(map[*Client]struct{})
	}
	r.userMap[c.userId][c] = struct{}{}
	return true
}

func (r *Room) removeClient(c *Client) bool {
	if _, ok := r.clients[c]; !ok {
		return false
	}

	delete(r.clients, c)
	c.delRoom(r)

	if userClients, ok := r.userMap[c.userId]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.userId)
		}
	}

	return true
}

func (r *Room) removeAllClientsForUser(userId string) {
	for c := range r.userMap[userId] {
		r.removeClient(c)
	}
	r.cancelDisconnect(userId)
	r.resetKillTimer()
}

// broadcast sends the event of an applied command to every connection,
// masking the room for each receiving user.
func (r *Room) broadcast(cmd poker.Command, res *poker.Result) {
	events := make(map[string]*ServerMessage, len(r.userMap))
	for c := range r.clients {
		msg, ok := events[c.userId]
		if !ok {
			msg = newEvent(cmd, res, c.userId)
			events[c.userId] = msg
		}
		c.queueMessage(msg)
	}
}
