package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-poker/internal/poker"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

// Client is one websocket connection. A connection joins at most one room.
type Client struct {
	conn     *websocket.Conn
	ps       *PokerServer
	log      *log.Logger
	userId   string
	send     chan *ServerMessage
	room     *Room
	closed   bool
	roomLock sync.RWMutex
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(userId string, conn *websocket.Conn, ps *PokerServer, l *log.Logger) *Client {
	return &Client{
		conn:   conn,
		ps:     ps,
		log:    l,
		userId: userId,
		send:   make(chan *ServerMessage, 256),
		stop:   make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		c.handleMessage(raw)
	}
}

func (c *Client) handleMessage(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Println("error parsing message:", err)
		c.queueMessage(ErrInvalidMessage(""))
		return
	}

	if msg.Type == "" || msg.RoomId == "" || poker.IsInternal(msg.Type) {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	msg.client = c
	msg.Timestamp = Now()

	if msg.tracked() {
		switch state, cached := c.ps.tracker.Begin(c.userId, msg.Id); state {
		case trackInFlight:
			c.queueMessage(ErrConflict(msg.Id))
			return
		case trackDone:
			c.queueMessage(cached)
			return
		}
	}

	if msg.Type == poker.CmdJoin {
		c.joinRoom(&msg)
		return
	}

	r := c.getRoom()
	if r == nil || r.id != msg.RoomId {
		c.ps.reject(&msg, ErrNotJoined(msg.Id))
		return
	}

	select {
	case r.clientMsgChan <- &msg:
	default:
		c.log.Printf("clientMsgChan full for room %q", r.id)
		c.ps.reject(&msg, ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) joinRoom(msg *ClientMessage) {
	r := c.getRoom()
	switch {
	case r == nil:
		select {
		case c.ps.joinChan <- msg:
		default:
			c.log.Printf("joinChan full")
			c.ps.reject(msg, ErrServiceUnavailable(msg.Id))
		}
	case r.id == msg.RoomId:
		select {
		case r.joinChan <- msg:
		default:
			c.log.Printf("joinChan full for room %q", r.id)
			c.ps.reject(msg, ErrServiceUnavailable(msg.Id))
		}
	default:
		c.ps.reject(msg, ErrOtherRoom(msg.Id))
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("send queue of %q is full, dropping message", c.userId)
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// cleanup detaches a closed connection from the server and its room.
func (c *Client) cleanup() {
	c.ps.removeClient(c)

	c.roomLock.Lock()
	c.closed = true
	r := c.room
	c.room = nil
	c.roomLock.Unlock()

	if r != nil {
		select {
		case r.leaveChan <- c:
		case <-r.done:
		}
	}

	c.stopClient()
}

// setRoom attaches the client to r unless the connection is already closed.
func (c *Client) setRoom(r *Room) bool {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()

	if c.closed {
		return false
	}
	c.room = r
	return true
}

func (c *Client) delRoom(r *Room) {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()

	if c.room == r {
		c.room = nil
	}
}

func (c *Client) getRoom() *Room {
	c.roomLock.RLock()
	defer c.roomLock.RUnlock()
	return c.room
}
