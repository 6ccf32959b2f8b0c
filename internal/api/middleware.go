package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/npezzotti/go-poker/internal/database"
)

func (s *PokerApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// roomAccess lets the request through when the caller may read the room in
// the roomId path segment. Any guard failure is reported as a missing room.
func (s *PokerApp) roomAccess(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomId := r.PathValue("roomId")
		authorization := r.Header.Get("Authorization")

		ok, err := s.guard.CanReadRoom(r.Context(), roomId, authorization)
		if err != nil {
			if !errors.Is(err, database.ErrRoomNotFound) {
				s.log.Printf("check access to room %q: %v", roomId, err)
			}
			errResp := NewNotFoundError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		if !ok {
			errResp := NewForbiddenError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		ctx := WithViewerId(r.Context(), s.guard.Subject(roomId, authorization))
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}
