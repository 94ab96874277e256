package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coupleplay/rooms/internal/coupleplay"
	"github.com/coupleplay/rooms/internal/room"
)

type AddQuestionRequest struct {
	AuthorID string `json:"author_id" required:"true"`
	Text     string `json:"text" required:"true"`
}

type QuestionResponse struct {
	Question coupleplay.Question `json:"question"`
}

// AnswerPatchRequest updates any subset of the answer fields. Omitted
// fields are left unchanged; done flags can only be set to true.
type AnswerPatchRequest struct {
	AnswerText *string `json:"answer_text,omitempty"`
	WriterDone *bool   `json:"writer_done,omitempty"`
	ReaderDone *bool   `json:"reader_done,omitempty"`
}

type AnswerPatchResponse struct {
	Question   coupleplay.Question `json:"question"`
	RoomUpdate *coupleplay.Room    `json:"room_update"`
}

func handleAddQuestion(logger *slog.Logger, svc *room.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddQuestionRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		q, err := svc.AddQuestion(r.Context(), chi.URLParam(r, "roomId"), req.AuthorID, req.Text)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, QuestionResponse{Question: q})
	}
}

func handlePatchAnswer(logger *slog.Logger, svc *room.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AnswerPatchRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		q, update, err := svc.PatchAnswer(r.Context(),
			chi.URLParam(r, "roomId"),
			chi.URLParam(r, "questionId"),
			room.AnswerPatch{
				AnswerText: req.AnswerText,
				WriterDone: req.WriterDone,
				ReaderDone: req.ReaderDone,
			})
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, AnswerPatchResponse{Question: q, RoomUpdate: update})
	}
}
