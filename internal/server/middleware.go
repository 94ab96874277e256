package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coupleplay/rooms/internal/coupleplay"
	"github.com/coupleplay/rooms/internal/room"
)

type ctxKey int

const ctxKeyRoom ctxKey = iota

// roomMiddleware loads the {roomId} room and puts it in the request context.
// Unknown rooms get a 404 before the handler runs.
func roomMiddleware(logger *slog.Logger, svc *room.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rm, err := svc.Room(r.Context(), chi.URLParam(r, "roomId"))
			if err != nil {
				writeServiceError(w, r, logger, err)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyRoom, rm)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func roomFrom(r *http.Request) coupleplay.Room {
	return r.Context().Value(ctxKeyRoom).(coupleplay.Room)
}
