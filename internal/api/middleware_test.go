package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/go-poker/internal/auth"
	"github.com/npezzotti/go-poker/internal/database"
	"github.com/npezzotti/go-poker/internal/testutil"
	"github.com/npezzotti/go-poker/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestErrorHandler_PanicRecovery(t *testing.T) {
	logger, buf := testutil.BufferLogger(t)
	app := &PokerApp{
		log: logger,
	}

	// handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(panicHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	assert.Contains(t, buf.String(), "panic: test panic")
}

func Test_errorHandler_NoPanic(t *testing.T) {
	app := &PokerApp{}

	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(okHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, called, "expected handler to be called")
}

func Test_roomAccess(t *testing.T) {
	tokens := auth.NewTokenService([]byte("test-signing-key"), time.Hour)

	open := types.NewRoom("open", time.Now())
	locked := types.NewRoom("locked", time.Now())
	locked.Password = "hash"
	locked.Users["u1"] = &types.User{Id: "u1"}

	token, err := tokens.Issue("u1", "locked")
	assert.NoError(t, err)
	otherRoomToken, err := tokens.Issue("u1", "open")
	assert.NoError(t, err)

	tcases := []struct {
		name          string
		roomId        string
		authorization string
		room          *types.Room
		storeErr      error
		expectedCode  int
		expectedView  string
	}{
		{name: "open room", roomId: "open", room: open, expectedCode: http.StatusOK},
		{name: "unknown room", roomId: "nope", storeErr: database.ErrRoomNotFound, expectedCode: http.StatusNotFound},
		{name: "store error", roomId: "open", storeErr: errors.New("connection refused"), expectedCode: http.StatusNotFound},
		{name: "locked without token", roomId: "locked", room: locked, expectedCode: http.StatusForbidden},
		{name: "locked with token of other room", roomId: "locked", room: locked, authorization: "Bearer " + otherRoomToken, expectedCode: http.StatusForbidden},
		{name: "locked with token", roomId: "locked", room: locked, authorization: "Bearer " + token, expectedCode: http.StatusOK, expectedView: "u1"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			store := &database.MockRoomStore{}
			defer store.AssertExpectations(t)
			store.On("GetRoomById", mock.Anything, tc.roomId).Return(tc.room, tc.storeErr).Once()

			app := &PokerApp{
				log:   testutil.TestLogger(t),
				guard: auth.NewGuard(store, tokens),
			}

			var viewerId string
			called := false
			mux := http.NewServeMux()
			mux.HandleFunc("GET /api/room/{roomId}", app.roomAccess(func(w http.ResponseWriter, r *http.Request) {
				called = true
				viewerId, _ = ViewerId(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/room/"+tc.roomId, nil)
			if tc.authorization != "" {
				req.Header.Set("Authorization", tc.authorization)
			}
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)

			assert.Equal(t, tc.expectedCode, rr.Code)
			assert.Equal(t, tc.expectedCode == http.StatusOK, called)
			assert.Equal(t, tc.expectedView, viewerId)
		})
	}
}
