package types

import (
	"sort"
	"time"
)

// StoryView is a story as seen by one participant. Values of stories that
// are not revealed yet are masked: the key is present, the value is null.
type StoryView struct {
	Id          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Estimations map[string]*float64 `json:"estimations"`
	Confidence  map[string]int      `json:"confidence,omitempty"`
	Revealed    bool                `json:"revealed"`
	Trashed     bool                `json:"trashed"`
	Consensus   *float64            `json:"consensus,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
}

type RoomView struct {
	AutoReveal        bool              `json:"autoReveal"`
	Id                string            `json:"id"`
	SelectedStory     string            `json:"selectedStory,omitempty"`
	Stories           []StoryView       `json:"stories"`
	Users             []User            `json:"users"`
	CardConfig        []CardConfigEntry `json:"cardConfig"`
	PasswordProtected bool              `json:"passwordProtected"`
}

// NewRoomView builds the snapshot sent to viewerId. An empty viewerId masks
// every unrevealed estimation.
func NewRoomView(r *Room, viewerId string) RoomView {
	v := RoomView{
		AutoReveal:        r.AutoReveal,
		Id:                r.Id,
		SelectedStory:     r.SelectedStory,
		Stories:           make([]StoryView, 0, len(r.Stories)),
		Users:             make([]User, 0, len(r.Users)),
		CardConfig:        r.Cards(),
		PasswordProtected: r.Password != "",
	}

	for _, s := range r.Stories {
		v.Stories = append(v.Stories, newStoryView(s, viewerId))
	}

	for _, u := range r.Users {
		v.Users = append(v.Users, *u)
	}
	sort.Slice(v.Users, func(i, j int) bool { return v.Users[i].Id < v.Users[j].Id })

	return v
}

func newStoryView(s *Story, viewerId string) StoryView {
	sv := StoryView{
		Id:          s.Id,
		Title:       s.Title,
		Description: s.Description,
		Estimations: make(map[string]*float64, len(s.Estimations)),
		Revealed:    s.Revealed,
		Trashed:     s.Trashed,
		Consensus:   s.Consensus,
		CreatedAt:   s.CreatedAt,
	}

	for userId, value := range s.Estimations {
		if s.Revealed || (viewerId != "" && userId == viewerId) {
			val := value
			sv.Estimations[userId] = &val
			if c, ok := s.Confidence[userId]; ok {
				if sv.Confidence == nil {
					sv.Confidence = make(map[string]int)
				}
				sv.Confidence[userId] = c
			}
		} else {
			sv.Estimations[userId] = nil
		}
	}

	return sv
}
