package store

import (
	"context"

	"github.com/coupleplay/rooms/internal/coupleplay"
)

// Unconfigured stands in when no store credentials are set. Every call
// fails with coupleplay.ErrNotConfigured.
type Unconfigured struct{}

var _ Store = Unconfigured{}

func (Unconfigured) Ping(context.Context) error { return coupleplay.ErrNotConfigured }

func (Unconfigured) CreateRoom(context.Context, coupleplay.Room, coupleplay.Player) error {
	return coupleplay.ErrNotConfigured
}

func (Unconfigured) GetRoom(context.Context, string) (coupleplay.Room, error) {
	return coupleplay.Room{}, coupleplay.ErrNotConfigured
}

func (Unconfigured) UpdateRoomStage(context.Context, string, coupleplay.Stage, coupleplay.Stage, *string) (bool, error) {
	return false, coupleplay.ErrNotConfigured
}

func (Unconfigured) ListPlayers(context.Context, string) ([]coupleplay.Player, error) {
	return nil, coupleplay.ErrNotConfigured
}

func (Unconfigured) GetPlayer(context.Context, string, string) (coupleplay.Player, error) {
	return coupleplay.Player{}, coupleplay.ErrNotConfigured
}

func (Unconfigured) UpsertGuest(context.Context, coupleplay.Player) (coupleplay.Player, error) {
	return coupleplay.Player{}, coupleplay.ErrNotConfigured
}

func (Unconfigured) SetStageOneDone(context.Context, string, string, bool) (coupleplay.Player, error) {
	return coupleplay.Player{}, coupleplay.ErrNotConfigured
}

func (Unconfigured) CreateQuestion(context.Context, coupleplay.Question) error {
	return coupleplay.ErrNotConfigured
}

func (Unconfigured) GetQuestion(context.Context, string, string) (coupleplay.Question, error) {
	return coupleplay.Question{}, coupleplay.ErrNotConfigured
}

func (Unconfigured) ListQuestions(context.Context, string) ([]coupleplay.Question, error) {
	return nil, coupleplay.ErrNotConfigured
}

func (Unconfigured) AssignAnswerers(context.Context, string, []coupleplay.Assignment) (int, error) {
	return 0, coupleplay.ErrNotConfigured
}

func (Unconfigured) UpdateAnswerText(context.Context, string, string, string) (coupleplay.Question, error) {
	return coupleplay.Question{}, coupleplay.ErrNotConfigured
}

func (Unconfigured) MarkWriterDone(context.Context, string, string, *string) (coupleplay.Question, bool, error) {
	return coupleplay.Question{}, false, coupleplay.ErrNotConfigured
}

func (Unconfigured) MarkReaderDone(context.Context, string, string) (coupleplay.Question, bool, error) {
	return coupleplay.Question{}, false, coupleplay.ErrNotConfigured
}
