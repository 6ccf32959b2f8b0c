package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/npezzotti/go-poker/internal/consensus"
	"github.com/npezzotti/go-poker/internal/poker"
	"github.com/npezzotti/go-poker/internal/types"
)

// EventUsersExpired is the type of the event sent when a sweep removed
// long disconnected users from a loaded room.
const EventUsersExpired = "usersExpired"

type BaseMessage struct {
	Id        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a command as sent over the websocket.
type ClientMessage struct {
	Id        string          `json:"id"`
	Type      string          `json:"type"`
	RoomId    string          `json:"roomId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"-"`
	client    *Client
}

// tracked reports whether retries of the message are deduplicated. A join
// is idempotent and has to attach the connection it arrives on, so every
// join is processed.
func (m *ClientMessage) tracked() bool {
	return m.Type != poker.CmdJoin
}

func (m *ClientMessage) command() poker.Command {
	return poker.Command{
		Id:      m.Id,
		Type:    m.Type,
		RoomId:  m.RoomId,
		Payload: m.Payload,
		UserId:  m.client.userId,
	}
}

type ServerMessage struct {
	BaseMessage
	Response *Response `json:"response,omitempty"`
	Event    *Event    `json:"event,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Data         any    `json:"data,omitempty"`
}

// Event tells every connection of a room that a command was applied. Room
// is masked for the receiving user.
type Event struct {
	Type      string             `json:"type"`
	Events    []string           `json:"events,omitempty"`
	CommandId string             `json:"commandId,omitempty"`
	UserId    string             `json:"userId"`
	Room      *types.RoomView    `json:"room"`
	Summary   *consensus.Summary `json:"summary,omitempty"`
	Settled   bool               `json:"settled,omitempty"`
}

type JoinData struct {
	Token string          `json:"token,omitempty"`
	Room  *types.RoomView `json:"room"`
}

func NoErrOK(id string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func newErrorMessage(id string, code int, msg string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        msg,
		},
	}
}

func ErrNotJoined(id string) *ServerMessage {
	return newErrorMessage(id, http.StatusForbidden, "room not joined")
}

func ErrOtherRoom(id string) *ServerMessage {
	return newErrorMessage(id, http.StatusBadRequest, "connection already joined another room")
}

func ErrConflict(id string) *ServerMessage {
	return newErrorMessage(id, http.StatusConflict, "command already in progress")
}

func ErrInternalError(id string) *ServerMessage {
	return newErrorMessage(id, http.StatusInternalServerError, "internal server error")
}

func ErrServiceUnavailable(id string) *ServerMessage {
	return newErrorMessage(id, http.StatusServiceUnavailable, "service unavailable")
}

func ErrInvalidMessage(id string) *ServerMessage {
	return newErrorMessage(id, http.StatusBadRequest, "invalid message format")
}

// ErrCommand converts a rejected command into a response for its sender.
func ErrCommand(id string, err error) *ServerMessage {
	var ce *poker.CommandError
	if !errors.As(err, &ce) {
		return ErrInternalError(id)
	}

	code := statusForKind(ce.Kind)
	text := ce.Message
	if text == "" || ce.Kind == poker.KindStoreUnavailable {
		// store errors may carry connection details
		text = strings.ToLower(http.StatusText(code))
	}

	msg := newErrorMessage(id, code, text)
	msg.Response.ErrorKind = string(ce.Kind)
	return msg
}

func statusForKind(kind poker.ErrorKind) int {
	switch kind {
	case poker.KindNotFound:
		return http.StatusNotFound
	case poker.KindForbidden:
		return http.StatusForbidden
	case poker.KindInvalidState:
		return http.StatusConflict
	case poker.KindValidation:
		return http.StatusBadRequest
	case poker.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// newEvent builds the event for one receiving user.
func newEvent(cmd poker.Command, res *poker.Result, viewerId string) *ServerMessage {
	view := types.NewRoomView(res.Room, viewerId)
	ev := &Event{
		Type:      cmd.Type,
		Events:    res.Events,
		CommandId: cmd.Id,
		UserId:    cmd.UserId,
		Room:      &view,
	}

	if story := res.Room.FindStory(res.Room.SelectedStory); story != nil && story.Revealed {
		summary := consensus.Summarize(story.Estimations, res.Room.Cards())
		ev.Summary = &summary
		ev.Settled = consensus.Settled(story.Estimations, story.Consensus)
	}

	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Event:       ev,
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
