package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-poker/internal/database"
	"github.com/npezzotti/go-poker/internal/types"
)

type RoomStatus struct {
	StoryCount            int       `json:"storyCount"`
	UserCount             int       `json:"userCount"`
	UserCountDisconnected int       `json:"userCountDisconnected"`
	LastActivity          time.Time `json:"lastActivity"`
	MarkedForDeletion     bool      `json:"markedForDeletion"`
	Created               time.Time `json:"created"`
}

type StatusResponse struct {
	Rooms       []RoomStatus `json:"rooms"`
	RoomCount   int          `json:"roomCount"`
	ActiveRooms int          `json:"activeRooms"`
	Connections int          `json:"connections"`
	Uptime      int64        `json:"uptime"`
	StoreInfo   string       `json:"storeInfo"`
}

type EstimationExport struct {
	Username   string  `json:"username"`
	Value      float64 `json:"value"`
	Confidence int     `json:"confidence"`
}

type StoryExport struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Estimations []EstimationExport `json:"estimations"`
}

type RoomExport struct {
	RoomId     string        `json:"roomId"`
	ExportedAt int64         `json:"exportedAt"`
	Stories    []StoryExport `json:"stories"`
}

func (s *PokerApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *PokerApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Printf("health check: %v", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *PokerApp) status(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.store.GetAllRooms(r.Context())
	if err != nil {
		s.log.Printf("get all rooms: %v", err)
		errResp := NewServiceUnavailableError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	resp := StatusResponse{
		Rooms:     make([]RoomStatus, 0, len(rooms)),
		RoomCount: len(rooms),
		Uptime:    int64(s.now().Sub(s.started).Seconds()),
		StoreInfo: s.store.GetStoreType(),
	}
	if s.ps != nil {
		resp.ActiveRooms = s.ps.NumRooms()
		resp.Connections = s.ps.NumClients()
	}

	for _, room := range rooms {
		resp.Rooms = append(resp.Rooms, RoomStatus{
			StoryCount:            len(room.Stories),
			UserCount:             len(room.Users),
			UserCountDisconnected: room.DisconnectedCount(),
			LastActivity:          room.LastActivity,
			MarkedForDeletion:     room.MarkedForDeletion,
			Created:               room.CreatedAt,
		})
	}
	sort.Slice(resp.Rooms, func(i, j int) bool {
		return resp.Rooms[i].Created.Before(resp.Rooms[j].Created)
	})

	s.writeJson(w, http.StatusOK, resp)
}

// loadRoom fetches the room of the request path and writes the error
// response when that fails.
func (s *PokerApp) loadRoom(w http.ResponseWriter, r *http.Request) (*types.Room, bool) {
	room, err := s.store.GetRoomById(r.Context(), r.PathValue("roomId"))
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrRoomNotFound) {
			errResp = NewNotFoundError()
		} else {
			s.log.Printf("get room: %v", err)
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return nil, false
	}

	return room, true
}

func (s *PokerApp) exportRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := s.loadRoom(w, r)
	if !ok {
		return
	}

	s.writeJson(w, http.StatusOK, buildRoomExport(room, s.now()))
}

func buildRoomExport(room *types.Room, now time.Time) RoomExport {
	export := RoomExport{
		RoomId:     room.Id,
		ExportedAt: now.UnixMilli(),
		Stories:    make([]StoryExport, 0, len(room.Stories)),
	}

	for _, story := range room.Stories {
		if story.Trashed {
			continue
		}

		se := StoryExport{
			Title:       story.Title,
			Description: story.Description,
			Estimations: make([]EstimationExport, 0, len(story.Estimations)),
		}
		if story.Revealed {
			for userId, value := range story.Estimations {
				username := userId
				if u, ok := room.Users[userId]; ok && u.Username != "" {
					username = u.Username
				}
				se.Estimations = append(se.Estimations, EstimationExport{
					Username:   username,
					Value:      value,
					Confidence: story.Confidence[userId],
				})
			}
			sort.Slice(se.Estimations, func(i, j int) bool {
				return se.Estimations[i].Username < se.Estimations[j].Username
			})
		}
		export.Stories = append(export.Stories, se)
	}

	return export
}

func (s *PokerApp) getRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := s.loadRoom(w, r)
	if !ok {
		return
	}

	viewerId, _ := ViewerId(r.Context())
	s.writeJson(w, http.StatusOK, types.NewRoomView(room, viewerId))
}

func (s *PokerApp) serveWs(w http.ResponseWriter, r *http.Request) {
	userId := r.URL.Query().Get("userId")
	if userId == "" {
		userId = uuid.NewString()
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	s.ps.Connect(conn, userId)
}
