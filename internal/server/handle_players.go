package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coupleplay/rooms/internal/coupleplay"
	"github.com/coupleplay/rooms/internal/room"
)

type StageOneRequest struct {
	StageOneDone *bool `json:"stage_one_done" required:"true"`
}

// StageOneResponse carries the updated player and, when this toggle moved
// the room out of collect, the new room.
type StageOneResponse struct {
	Player     coupleplay.Player `json:"player"`
	RoomUpdate *coupleplay.Room  `json:"room_update"`
}

func handleStageOne(logger *slog.Logger, svc *room.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StageOneRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.StageOneDone == nil {
			writeError(w, http.StatusBadRequest, "stage_one_done is required")
			return
		}

		p, update, err := svc.SetStageOneDone(r.Context(),
			chi.URLParam(r, "roomId"),
			chi.URLParam(r, "playerId"),
			*req.StageOneDone)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, StageOneResponse{Player: p, RoomUpdate: update})
	}
}
