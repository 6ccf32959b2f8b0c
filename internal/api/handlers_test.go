package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-poker/internal/auth"
	"github.com/npezzotti/go-poker/internal/config"
	"github.com/npezzotti/go-poker/internal/database"
	"github.com/npezzotti/go-poker/internal/poker"
	"github.com/npezzotti/go-poker/internal/server"
	"github.com/npezzotti/go-poker/internal/stats"
	"github.com/npezzotti/go-poker/internal/testutil"
	"github.com/npezzotti/go-poker/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testTokens = auth.NewTokenService([]byte("test-signing-key"), time.Hour)

// newTestApp creates a PokerApp without a poker server, serving from store.
func newTestApp(t *testing.T, store database.RoomStore) (*PokerApp, *http.ServeMux) {
	mux := http.NewServeMux()
	app := NewPokerApp(mux, testutil.TestLogger(t), nil, store, auth.NewGuard(store, testTokens), &config.Config{})
	return app, mux
}

func serve(mux *http.ServeMux, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func seedStore(t *testing.T, store database.RoomStore, rooms ...*types.Room) {
	for _, room := range rooms {
		require.NoError(t, store.UpsertRoom(context.Background(), room))
	}
}

func Test_healthCheck(t *testing.T) {
	mockStore := &database.MockRoomStore{}
	defer mockStore.AssertExpectations(t)

	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name:    "successful health check",
			mockErr: nil,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockStore.On("Ping", mock.Anything).Return(tc.mockErr).Once()
			app, _ := newTestApp(t, mockStore)

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			app.healthCheck(rr, req)

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func Test_status(t *testing.T) {
	t.Run("lists committed rooms", func(t *testing.T) {
		store := database.NewMemoryRoomStore()
		created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

		first := types.NewRoom("first", created)
		first.Users["u1"] = &types.User{Id: "u1"}
		first.Users["u2"] = &types.User{Id: "u2", Disconnected: true}
		first.Stories = append(first.Stories, &types.Story{Id: "s1", Title: "a"}, &types.Story{Id: "s2", Title: "b", Trashed: true})

		second := types.NewRoom("second", created.Add(time.Hour))
		second.MarkedForDeletion = true
		seedStore(t, store, first, second)

		app, mux := newTestApp(t, store)
		app.started = created
		app.now = func() time.Time { return created.Add(90 * time.Second) }

		rr := serve(mux, httptest.NewRequest(http.MethodGet, "/api/status", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		var resp StatusResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, 2, resp.RoomCount)
		assert.Equal(t, int64(90), resp.Uptime)
		assert.Equal(t, "memory", resp.StoreInfo)
		require.Len(t, resp.Rooms, 2)

		assert.Equal(t, 2, resp.Rooms[0].StoryCount)
		assert.Equal(t, 2, resp.Rooms[0].UserCount)
		assert.Equal(t, 1, resp.Rooms[0].UserCountDisconnected)
		assert.False(t, resp.Rooms[0].MarkedForDeletion)
		assert.True(t, resp.Rooms[0].Created.Equal(created))
		assert.True(t, resp.Rooms[1].MarkedForDeletion)
	})

	t.Run("store unavailable", func(t *testing.T) {
		store := &database.MockRoomStore{}
		defer store.AssertExpectations(t)
		store.On("GetAllRooms", mock.Anything).Return(nil, errors.New("connection refused")).Once()

		_, mux := newTestApp(t, store)
		rr := serve(mux, httptest.NewRequest(http.MethodGet, "/api/status", nil))

		var apiErr ApiError
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&apiErr))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, *NewServiceUnavailableError(nil), apiErr)
	})
}

func Test_exportRoom(t *testing.T) {
	store := database.NewMemoryRoomStore()
	room := types.NewRoom("room-1", time.Now())
	room.Users["u1"] = &types.User{Id: "u1", Username: "Alice"}
	room.Users["u2"] = &types.User{Id: "u2"}
	room.Stories = append(room.Stories,
		&types.Story{Id: "s1", Title: "revealed", Description: "desc", Revealed: true, Estimations: map[string]float64{"u1": 3, "u2": 5, "gone": 8}, Confidence: map[string]int{"u1": types.ConfidenceVerySure, "gone": types.ConfidenceUnsure}},
		&types.Story{Id: "s2", Title: "hidden", Estimations: map[string]float64{"u1": 13}},
		&types.Story{Id: "s3", Title: "trashed", Trashed: true, Revealed: true, Estimations: map[string]float64{"u1": 1}},
	)
	seedStore(t, store, room)

	exportedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	app, mux := newTestApp(t, store)
	app.now = func() time.Time { return exportedAt }

	rr := serve(mux, httptest.NewRequest(http.MethodGet, "/api/export/room/room-1", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var export RoomExport
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&export))
	assert.Equal(t, "room-1", export.RoomId)
	assert.Equal(t, exportedAt.UnixMilli(), export.ExportedAt)
	require.Len(t, export.Stories, 2, "expected trashed stories to be excluded")

	assert.Equal(t, "revealed", export.Stories[0].Title)
	assert.Equal(t, "desc", export.Stories[0].Description)
	assert.Equal(t, []EstimationExport{
		{Username: "Alice", Value: 3, Confidence: 1},
		{Username: "gone", Value: 8, Confidence: -1},
		{Username: "u2", Value: 5},
	}, export.Stories[0].Estimations)

	assert.Equal(t, "hidden", export.Stories[1].Title)
	assert.Empty(t, export.Stories[1].Estimations, "expected unrevealed estimations to be withheld")

	rr = serve(mux, httptest.NewRequest(http.MethodGet, "/api/export/room/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func Test_getRoom(t *testing.T) {
	store := database.NewMemoryRoomStore()
	room := types.NewRoom("room-1", time.Now())
	room.Password = "hash"
	room.Users["u1"] = &types.User{Id: "u1"}
	room.Users["u2"] = &types.User{Id: "u2"}
	room.Stories = append(room.Stories, &types.Story{Id: "s1", Title: "login", Estimations: map[string]float64{"u1": 3, "u2": 5}})
	room.SelectedStory = "s1"
	seedStore(t, store, room)

	_, mux := newTestApp(t, store)

	rr := serve(mux, httptest.NewRequest(http.MethodGet, "/api/room/room-1", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	token, err := testTokens.Issue("u1", "room-1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/room/room-1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = serve(mux, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "no-store, no-cache, must-revalidate, private", rr.Header().Get("Cache-Control"))
	assert.NotContains(t, rr.Body.String(), "hash", "expected the password hash to stay on the server")

	var view types.RoomView
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&view))
	assert.Equal(t, "room-1", view.Id)
	assert.Equal(t, "s1", view.SelectedStory)
	assert.True(t, view.AutoReveal)
	assert.Equal(t, types.DefaultCardConfig, view.CardConfig)
	require.Len(t, view.Stories, 1)
	require.NotNil(t, view.Stories[0].Estimations["u1"], "expected own estimation to be visible")
	assert.Equal(t, 3.0, *view.Stories[0].Estimations["u1"])
	assert.Contains(t, view.Stories[0].Estimations, "u2")
	assert.Nil(t, view.Stories[0].Estimations["u2"], "expected other estimations to be masked")
}

func Test_serveWs(t *testing.T) {
	logger := testutil.TestLogger(t)
	store := database.NewMemoryRoomStore()
	su := (&stats.MockStatsUpdater{}).AllowUpdates()
	ps := server.NewPokerServer(logger, poker.NewProcessor(logger, store, testTokens), su, server.Options{})
	go ps.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		ps.Shutdown(ctx)
	}()

	mux := http.NewServeMux()
	NewPokerApp(mux, logger, ps, store, auth.NewGuard(store, testTokens), &config.Config{
		AllowedOrigins: []string{"http://allowed.example"},
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?userId=u1"

	t.Run("rejects foreign origin", func(t *testing.T) {
		header := http.Header{}
		header.Set("Origin", "http://evil.example")
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		if conn != nil {
			conn.Close()
		}
		assert.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("joins a room over the connection", func(t *testing.T) {
		header := http.Header{}
		header.Set("Origin", "http://allowed.example")
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		require.NoError(t, err)
		defer conn.Close()
		assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

		require.NoError(t, conn.WriteJSON(map[string]any{
			"id":      "j1",
			"type":    poker.CmdJoin,
			"roomId":  "room-1",
			"payload": map[string]any{"username": "Alice"},
		}))

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			var msg struct {
				Id       string `json:"id"`
				Response *struct {
					ResponseCode int `json:"response_code"`
				} `json:"response"`
			}
			require.NoError(t, conn.ReadJSON(&msg))
			if msg.Response == nil {
				continue
			}
			assert.Equal(t, "j1", msg.Id)
			assert.Equal(t, http.StatusOK, msg.Response.ResponseCode)
			break
		}

		room, err := store.GetRoomById(context.Background(), "room-1")
		require.NoError(t, err)
		require.Contains(t, room.Users, "u1")
		assert.Equal(t, "Alice", room.Users["u1"].Username)
	})
}
