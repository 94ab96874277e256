// Package coupleplay defines the core domain types and the pure rules of the
// room/turn state machine. It has zero external dependencies.
package coupleplay

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalid       = errors.New("invalid input")
	ErrConflict      = errors.New("conflict")
	ErrNotConfigured = errors.New("backend not configured")
)

type Game string

const (
	GameRandomQuestions Game = "random-questions"
	GameIdeaMatching    Game = "idea-matching"
)

func (g Game) Valid() bool {
	return g == GameRandomQuestions || g == GameIdeaMatching
}

type Stage string

const (
	StageCollect Stage = "collect"
	StageAnswer  Stage = "answer"
	StageReview  Stage = "review"
)

// Rank orders stages along collect -> answer -> review. Unknown stages rank
// below collect.
func (s Stage) Rank() int {
	switch s {
	case StageCollect:
		return 1
	case StageAnswer:
		return 2
	case StageReview:
		return 3
	}
	return 0
}

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

type Room struct {
	ID                string    `json:"id"`
	Game              Game      `json:"game"`
	HideQuestions     bool      `json:"hide_questions"`
	Stage             Stage     `json:"stage"`
	CurrentQuestionID *string   `json:"current_question_id"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

type Player struct {
	ID           string    `json:"id"`
	RoomID       string    `json:"room_id"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	StageOneDone bool      `json:"stage_one_done"`
	CreatedAt    time.Time `json:"created_at"`
}

type Question struct {
	ID                string    `json:"id"`
	RoomID            string    `json:"room_id"`
	AuthorID          string    `json:"author_id"`
	Text              string    `json:"text"`
	AnsweringPlayerID *string   `json:"answering_player_id"`
	AnswerText        *string   `json:"answer_text"`
	WriterDone        bool      `json:"writer_done"`
	ReaderDone        bool      `json:"reader_done"`
	CreatedAt         time.Time `json:"created_at"`
}

// IsDone reports whether both sides of the rendezvous have confirmed.
func (q Question) IsDone() bool {
	return q.WriterDone && q.ReaderDone
}

// Answer returns the answer text, or "" when none has been pushed yet.
func (q Question) Answer() string {
	if q.AnswerText == nil {
		return ""
	}
	return *q.AnswerText
}

// AnsweredBy reports whether playerID is the assigned writer.
func (q Question) AnsweredBy(playerID string) bool {
	return q.AnsweringPlayerID != nil && *q.AnsweringPlayerID == playerID
}

// Snapshot is the full state of one room as read from the store.
type Snapshot struct {
	Room      Room       `json:"room"`
	Players   []Player   `json:"players"`
	Questions []Question `json:"questions"`
}

// Player returns the player with the given id.
func (s Snapshot) Player(id string) (Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// Host returns the room's host, if loaded.
func (s Snapshot) Host() (Player, bool) {
	return findRole(s.Players, RoleHost)
}

// Guest returns the room's guest, if one has joined.
func (s Snapshot) Guest() (Player, bool) {
	return findRole(s.Players, RoleGuest)
}

func findRole(players []Player, role Role) (Player, bool) {
	for _, p := range players {
		if p.Role == role {
			return p, true
		}
	}
	return Player{}, false
}

func StringPtr(s string) *string { return &s }
