package poker

import (
	"bytes"
	"encoding/json"

	"github.com/npezzotti/go-poker/internal/types"
)

const (
	CmdJoin          = "join"
	CmdLeave         = "leave"
	CmdKick          = "kick"
	CmdSetUsername   = "setUsername"
	CmdSetVisitor    = "setVisitor"
	CmdAddStory      = "addStory"
	CmdChangeStory   = "changeStory"
	CmdTrashStory    = "trashStory"
	CmdRestoreStory  = "restoreStory"
	CmdSelectStory   = "selectStory"
	CmdEstimate      = "estimate"
	CmdClearEstimate = "clearEstimate"
	CmdReveal        = "reveal"
	CmdNewRound      = "newRound"
	CmdSettle        = "settle"
	CmdSetAutoReveal = "setAutoReveal"
	CmdSetCardConfig = "setCardConfig"
	CmdSetPassword   = "setPassword"

	// CmdDisconnect is issued by the session gateway only.
	CmdDisconnect = "disconnect"
)

// Command is one intent against a room. Id is chosen by the client and
// echoed back so it can recognize the completion of its own command.
type Command struct {
	Id      string          `json:"id"`
	Type    string          `json:"type"`
	RoomId  string          `json:"roomId"`
	Payload json.RawMessage `json:"payload,omitempty"`
	UserId  string          `json:"-"`
}

// IsInternal reports whether t may only be issued by the server itself.
func IsInternal(t string) bool {
	return t == CmdDisconnect
}

// JoinPayload is the payload of a join. Visitor is left unset by clients
// that rejoin without choosing a role.
type JoinPayload struct {
	Username string `json:"username"`
	Visitor  *bool  `json:"visitor,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

type KickPayload struct {
	UserId string `json:"userId"`
}

type SetUsernamePayload struct {
	Username string `json:"username"`
}

type SetVisitorPayload struct {
	Visitor bool `json:"visitor"`
}

type AddStoryPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type ChangeStoryPayload struct {
	StoryId     string `json:"storyId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type StoryPayload struct {
	StoryId string `json:"storyId"`
}

type EstimatePayload struct {
	StoryId    string  `json:"storyId"`
	Value      float64 `json:"value"`
	Confidence int     `json:"confidence,omitempty"`
}

type SettlePayload struct {
	StoryId string  `json:"storyId"`
	Value   float64 `json:"value"`
}

type SetAutoRevealPayload struct {
	AutoReveal bool `json:"autoReveal"`
}

type SetCardConfigPayload struct {
	CardConfig []types.CardConfigEntry `json:"cardConfig"`
}

type SetPasswordPayload struct {
	Password string `json:"password"`
}

// decodePayload strictly decodes the command payload into v. An absent
// payload decodes as the zero value.
func decodePayload(cmd Command, v any) error {
	if len(cmd.Payload) == 0 || string(cmd.Payload) == "null" {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(cmd.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return validation("invalid %s payload: %v", cmd.Type, err)
	}
	return nil
}
