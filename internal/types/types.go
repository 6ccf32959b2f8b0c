package types

import (
	"maps"
	"slices"
	"time"
)

type CardConfigEntry struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
	Color string  `json:"color"`
}

// DefaultCardConfig is used for rooms that never set their own card config.
// Negative values mark cards that carry no numeric estimate.
var DefaultCardConfig = []CardConfigEntry{
	{Label: "?", Value: -2, Color: "#bdbfbf"},
	{Label: "☕", Value: 0.1, Color: "#667a66"},
	{Label: "1/2", Value: 0.5, Color: "#667a66"},
	{Label: "1", Value: 1, Color: "#839e7a"},
	{Label: "2", Value: 2, Color: "#8cb876"},
	{Label: "3", Value: 3, Color: "#96ba5b"},
	{Label: "5", Value: 5, Color: "#b6c76b"},
	{Label: "8", Value: 8, Color: "#c9c857"},
	{Label: "13", Value: 13, Color: "#d9be3b"},
	{Label: "20", Value: 20, Color: "#d6cda1"},
	{Label: "40", Value: 40, Color: "#9fa6bd"},
	{Label: "100", Value: 100, Color: "#6a80ab"},
	{Label: "😱", Value: -1, Color: "#1d508f"},
}

type User struct {
	Id           string    `json:"id"`
	Username     string    `json:"username,omitempty"`
	Visitor      bool      `json:"visitor"`
	Disconnected bool      `json:"disconnected"`
	LastActivity time.Time `json:"lastActivity"`
}

// Story is one backlog item. Confidence holds the non-default confidence of
// an estimation and never has keys missing from Estimations.
type Story struct {
	Id          string             `json:"id"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Estimations map[string]float64 `json:"estimations"`
	Confidence  map[string]int     `json:"confidence,omitempty"`
	Revealed    bool               `json:"revealed"`
	Trashed     bool               `json:"trashed"`
	Consensus   *float64           `json:"consensus,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// Room is the aggregate persisted by the room stores. Password holds a
// bcrypt hash and must never leave the server, use RoomView for clients.
type Room struct {
	Id                string            `json:"id"`
	Password          string            `json:"password,omitempty"`
	AutoReveal        bool              `json:"autoReveal"`
	SelectedStory     string            `json:"selectedStory,omitempty"`
	CardConfig        []CardConfigEntry `json:"cardConfig,omitempty"`
	Users             map[string]*User  `json:"users"`
	Stories           []*Story          `json:"stories"`
	CreatedAt         time.Time         `json:"created"`
	LastActivity      time.Time         `json:"lastActivity"`
	MarkedForDeletion bool              `json:"markedForDeletion"`
}

func NewRoom(id string, now time.Time) *Room {
	return &Room{
		Id:           id,
		AutoReveal:   true,
		Users:        make(map[string]*User),
		Stories:      make([]*Story, 0),
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Cards returns the room's card config or the default one.
func (r *Room) Cards() []CardConfigEntry {
	if len(r.CardConfig) == 0 {
		return DefaultCardConfig
	}
	return r.CardConfig
}

func (r *Room) FindStory(id string) *Story {
	for _, s := range r.Stories {
		if s.Id == id {
			return s
		}
	}
	return nil
}

func (r *Room) FirstActiveStory() *Story {
	for _, s := range r.Stories {
		if !s.Trashed {
			return s
		}
	}
	return nil
}

// HasConnectedUsers reports whether at least one user is not disconnected.
func (r *Room) HasConnectedUsers() bool {
	for _, u := range r.Users {
		if !u.Disconnected {
			return true
		}
	}
	return false
}

func (r *Room) DisconnectedCount() int {
	var n int
	for _, u := range r.Users {
		if u.Disconnected {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the room.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}

	c := *r
	c.CardConfig = slices.Clone(r.CardConfig)

	c.Users = make(map[string]*User, len(r.Users))
	for id, u := range r.Users {
		uc := *u
		c.Users[id] = &uc
	}

	c.Stories = make([]*Story, len(r.Stories))
	for i, s := range r.Stories {
		c.Stories[i] = s.Clone()
	}

	return &c
}

func (s *Story) Clone() *Story {
	c := *s
	c.Estimations = make(map[string]float64, len(s.Estimations))
	for k, v := range s.Estimations {
		c.Estimations[k] = v
	}
	c.Confidence = maps.Clone(s.Confidence)
	if s.Consensus != nil {
		v := *s.Consensus
		c.Consensus = &v
	}
	return &c
}

// Estimation confidence levels.
const (
	ConfidenceUnsure   = -1
	ConfidenceDefault  = 0
	ConfidenceVerySure = 1
)

// SetEstimation records the estimation of userId, replacing an earlier one.
func (s *Story) SetEstimation(userId string, value float64, confidence int) {
	if s.Estimations == nil {
		s.Estimations = make(map[string]float64)
	}
	s.Estimations[userId] = value

	if confidence == ConfidenceDefault {
		delete(s.Confidence, userId)
		return
	}
	if s.Confidence == nil {
		s.Confidence = make(map[string]int)
	}
	s.Confidence[userId] = confidence
}

func (s *Story) ClearEstimation(userId string) {
	delete(s.Estimations, userId)
	delete(s.Confidence, userId)
}

func (s *Story) ClearEstimations() {
	s.Estimations = make(map[string]float64)
	s.Confidence = nil
}

func (c CardConfigEntry) IsSentinel() bool {
	return c.Value < 0
}

// FindCard looks up the card with exactly the given value.
func FindCard(cards []CardConfigEntry, value float64) (CardConfigEntry, bool) {
	for _, c := range cards {
		if c.Value == value {
			return c, true
		}
	}
	return CardConfigEntry{}, false
}
