package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"
	"github.com/swaggest/swgui/v5emb"

	"github.com/coupleplay/rooms/internal/coupleplay"
	"github.com/coupleplay/rooms/internal/feed"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse maps each dependency to its status.
type HealthResponse map[string]struct {
	Status string `json:"status" enum:"ok,error"`
}

type roomPath struct {
	RoomID string `path:"roomId"`
}

type questionPath struct {
	RoomID     string `path:"roomId"`
	QuestionID string `path:"questionId"`
}

type playerPath struct {
	RoomID   string `path:"roomId"`
	PlayerID string `path:"playerId"`
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Coupleplay Rooms API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Two-player rooms: collect questions, answer them in turns with live typing, review together.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Returns the health status of backend dependencies.")
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getHealthz)

	// POST /api/rooms
	createRoom, _ := r.NewOperationContext(http.MethodPost, "/api/rooms")
	createRoom.SetSummary("Create room")
	createRoom.SetDescription("Creates a room in the collect stage together with its host player.")
	createRoom.AddReqStructure(CreateRoomRequest{})
	createRoom.AddRespStructure(RoomPlayerResponse{}, openapi.WithHTTPStatus(http.StatusCreated))
	createRoom.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	createRoom.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(createRoom)

	// GET /api/rooms/{roomId}
	getRoom, _ := r.NewOperationContext(http.MethodGet, "/api/rooms/{roomId}")
	getRoom.SetSummary("Get room")
	getRoom.SetDescription("Returns the room, its players and its questions ordered by creation time.")
	getRoom.AddReqStructure(roomPath{})
	getRoom.AddRespStructure(coupleplay.Snapshot{}, openapi.WithHTTPStatus(http.StatusOK))
	getRoom.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getRoom)

	// POST /api/rooms/{roomId}/join
	joinRoom, _ := r.NewOperationContext(http.MethodPost, "/api/rooms/{roomId}/join")
	joinRoom.SetSummary("Join room")
	joinRoom.SetDescription("Claims the guest slot. Joining again renames the existing guest.")
	joinRoom.AddReqStructure(roomPath{})
	joinRoom.AddReqStructure(JoinRoomRequest{})
	joinRoom.AddRespStructure(RoomPlayerResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	joinRoom.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	joinRoom.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(joinRoom)

	// POST /api/rooms/{roomId}/questions
	addQuestion, _ := r.NewOperationContext(http.MethodPost, "/api/rooms/{roomId}/questions")
	addQuestion.SetSummary("Add question")
	addQuestion.SetDescription("Adds a question while the room is collecting. The answerer is assigned later.")
	addQuestion.AddReqStructure(roomPath{})
	addQuestion.AddReqStructure(AddQuestionRequest{})
	addQuestion.AddRespStructure(QuestionResponse{}, openapi.WithHTTPStatus(http.StatusCreated))
	addQuestion.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	addQuestion.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	addQuestion.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(addQuestion)

	// POST /api/rooms/{roomId}/players/{playerId}/stage-one
	stageOne, _ := r.NewOperationContext(http.MethodPost, "/api/rooms/{roomId}/players/{playerId}/stage-one")
	stageOne.SetSummary("Toggle stage-one done")
	stageOne.SetDescription("Marks whether the player has finished adding questions. When both players are done the room moves to answer, or straight to review without questions.")
	stageOne.AddReqStructure(playerPath{})
	stageOne.AddReqStructure(StageOneRequest{})
	stageOne.AddRespStructure(StageOneResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	stageOne.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	stageOne.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(stageOne)

	// PATCH /api/rooms/{roomId}/questions/{questionId}/answer
	patchAnswer, _ := r.NewOperationContext(http.MethodPatch, "/api/rooms/{roomId}/questions/{questionId}/answer")
	patchAnswer.SetSummary("Patch answer")
	patchAnswer.SetDescription("Saves the writer's draft, submits it with writer_done, or confirms it with reader_done. The room advances once both flags are set.")
	patchAnswer.AddReqStructure(questionPath{})
	patchAnswer.AddReqStructure(AnswerPatchRequest{})
	patchAnswer.AddRespStructure(AnswerPatchResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	patchAnswer.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	patchAnswer.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	patchAnswer.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(patchAnswer)

	// POST /api/rooms/{roomId}/reconcile
	reconcile, _ := r.NewOperationContext(http.MethodPost, "/api/rooms/{roomId}/reconcile")
	reconcile.SetSummary("Reconcile room")
	reconcile.SetDescription("Safety sweep: repeats any stage transition the stored state calls for and returns the room.")
	reconcile.AddReqStructure(roomPath{})
	reconcile.AddRespStructure(RoomResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	reconcile.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(reconcile)

	// GET /api/rooms/{roomId}/events
	getEvents, _ := r.NewOperationContext(http.MethodGet, "/api/rooms/{roomId}/events")
	getEvents.SetSummary("SSE change stream")
	getEvents.SetDescription("Server-Sent Events: one snapshot event, then a change event per written row.")
	getEvents.AddReqStructure(roomPath{})
	getEvents.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK),
		openapi.WithContentType("text/event-stream"))
	_ = r.AddOperation(getEvents)

	// GET /api/rooms/{roomId}/ws
	getStream, _ := r.NewOperationContext(http.MethodGet, "/api/rooms/{roomId}/ws")
	getStream.SetSummary("WebSocket change stream")
	getStream.SetDescription("Upgrades to a WebSocket that sends each change event as a JSON message.")
	getStream.AddReqStructure(roomPath{})
	getStream.AddRespStructure(feed.Event{}, openapi.WithHTTPStatus(http.StatusSwitchingProtocols))
	_ = r.AddOperation(getStream)

	// GET /api/rooms/{roomId}/invite.png
	getInvite, _ := r.NewOperationContext(http.MethodGet, "/api/rooms/{roomId}/invite.png")
	getInvite.SetSummary("Invite QR code")
	getInvite.SetDescription("PNG QR code of the room's invite link.")
	getInvite.AddReqStructure(roomPath{})
	getInvite.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK),
		openapi.WithContentType("image/png"))
	getInvite.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getInvite)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

func handleSwaggerUI() http.HandlerFunc {
	return v5emb.New("Coupleplay Rooms API", "/openapi.json", "/docs").ServeHTTP
}
