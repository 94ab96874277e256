package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coupleplay/rooms/internal/coupleplay"
	"github.com/coupleplay/rooms/internal/room"
)

type CreateRoomRequest struct {
	HostName      string `json:"host_name" required:"true"`
	Game          string `json:"game,omitempty" enum:"random-questions,idea-matching"`
	HideQuestions bool   `json:"hide_questions"`
}

type JoinRoomRequest struct {
	Name string `json:"name" required:"true"`
}

// RoomPlayerResponse is returned by create and join: the room and the
// caller's own player record.
type RoomPlayerResponse struct {
	Room   coupleplay.Room   `json:"room"`
	Player coupleplay.Player `json:"player"`
}

type RoomResponse struct {
	Room coupleplay.Room `json:"room"`
}

func handleCreateRoom(logger *slog.Logger, svc *room.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRoomRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		rm, host, err := svc.CreateRoom(r.Context(), room.CreateRoomInput{
			HostName:      req.HostName,
			Game:          req.Game,
			HideQuestions: req.HideQuestions,
		})
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, RoomPlayerResponse{Room: rm, Player: host})
	}
}

func handleGetRoom(logger *slog.Logger, svc *room.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := svc.Snapshot(r.Context(), chi.URLParam(r, "roomId"))
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func handleJoinRoom(logger *slog.Logger, svc *room.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req JoinRoomRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		rm, guest, err := svc.JoinRoom(r.Context(), chi.URLParam(r, "roomId"), req.Name)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, RoomPlayerResponse{Room: rm, Player: guest})
	}
}

// handleReconcile runs the safety sweep. Clients call it from their poll
// loop so a room converges even when no write is in flight.
func handleReconcile(logger *slog.Logger, svc *room.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm, err := svc.Reconcile(r.Context(), chi.URLParam(r, "roomId"))
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, RoomResponse{Room: rm})
	}
}
