// Package store persists rooms, players and questions. Writes that take part
// in the room state machine are conditional so concurrent clients can repeat
// them safely.
package store

import (
	"context"

	"github.com/coupleplay/rooms/internal/coupleplay"
)

type Store interface {
	Ping(ctx context.Context) error

	// CreateRoom inserts the room and its host in one transaction.
	CreateRoom(ctx context.Context, room coupleplay.Room, host coupleplay.Player) error
	GetRoom(ctx context.Context, roomID string) (coupleplay.Room, error)
	// UpdateRoomStage moves the room from stage `from` to `to` and sets the
	// current question. It reports false without writing when the room is
	// no longer in `from`.
	UpdateRoomStage(ctx context.Context, roomID string, from, to coupleplay.Stage, currentQuestionID *string) (bool, error)

	ListPlayers(ctx context.Context, roomID string) ([]coupleplay.Player, error)
	GetPlayer(ctx context.Context, roomID, playerID string) (coupleplay.Player, error)
	// UpsertGuest renames the room's existing guest, or inserts guest when
	// the slot is empty.
	UpsertGuest(ctx context.Context, guest coupleplay.Player) (coupleplay.Player, error)
	SetStageOneDone(ctx context.Context, roomID, playerID string, done bool) (coupleplay.Player, error)

	CreateQuestion(ctx context.Context, q coupleplay.Question) error
	GetQuestion(ctx context.Context, roomID, questionID string) (coupleplay.Question, error)
	// ListQuestions returns the room's questions by creation time ascending.
	ListQuestions(ctx context.Context, roomID string) ([]coupleplay.Question, error)
	// AssignAnswerers applies the plan in one transaction, skipping any
	// question that already has an answerer. It returns the number of
	// questions it assigned.
	AssignAnswerers(ctx context.Context, roomID string, plan []coupleplay.Assignment) (int, error)
	// UpdateAnswerText stores a draft while writer_done is still false.
	UpdateAnswerText(ctx context.Context, roomID, questionID, text string) (coupleplay.Question, error)
	// MarkWriterDone sets writer_done if it was false and the final answer
	// is non-blank. A nil text submits the stored draft as it stands at
	// write time. changed is false for a repeated call or a blank answer.
	MarkWriterDone(ctx context.Context, roomID, questionID string, text *string) (q coupleplay.Question, changed bool, err error)
	// MarkReaderDone sets reader_done if it was false.
	MarkReaderDone(ctx context.Context, roomID, questionID string) (q coupleplay.Question, changed bool, err error)
}
