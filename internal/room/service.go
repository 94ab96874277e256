// Package room is the authoritative room state machine. It validates
// requests, assigns answerers, moves rooms through collect, answer and
// review, and publishes a change event for every row it writes.
package room

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coupleplay/rooms/internal/coupleplay"
	"github.com/coupleplay/rooms/internal/feed"
	"github.com/coupleplay/rooms/internal/store"
)

// DefaultTTL is how long a room is advertised as valid after creation.
const DefaultTTL = time.Hour

type Service struct {
	store  store.Store
	feed   feed.Feed
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time
	newID  func() string
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDs replaces the random UUID generator.
func WithIDs(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func NewService(st store.Store, f feed.Feed, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  st,
		feed:   f,
		logger: logger,
		ttl:    DefaultTTL,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateRoomInput struct {
	HostName      string
	Game          string
	HideQuestions bool
}

// AnswerPatch is a partial update of a question's answer. Nil fields are
// left alone.
type AnswerPatch struct {
	AnswerText *string
	WriterDone *bool
	ReaderDone *bool
}

// CreateRoom creates a room in the collect stage together with its host.
func (s *Service) CreateRoom(ctx context.Context, in CreateRoomInput) (coupleplay.Room, coupleplay.Player, error) {
	name, err := requireText("host name", in.HostName, MaxNameLen)
	if err != nil {
		return coupleplay.Room{}, coupleplay.Player{}, err
	}
	game, err := parseGame(in.Game)
	if err != nil {
		return coupleplay.Room{}, coupleplay.Player{}, err
	}

	now := s.now().UTC()
	room := coupleplay.Room{
		ID:            s.newID(),
		Game:          game,
		HideQuestions: in.HideQuestions,
		Stage:         coupleplay.StageCollect,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
	}
	host := coupleplay.Player{
		ID:        s.newID(),
		RoomID:    room.ID,
		Name:      name,
		Role:      coupleplay.RoleHost,
		CreatedAt: now,
	}
	if err := s.store.CreateRoom(ctx, room, host); err != nil {
		return coupleplay.Room{}, coupleplay.Player{}, fmt.Errorf("creating room: %w", err)
	}

	s.publish(ctx, feed.RoomEvent(feed.TypeInsert, room), feed.PlayerEvent(feed.TypeInsert, host))
	s.logger.Info("room created", "room_id", room.ID, "game", room.Game)
	return room, host, nil
}

// JoinRoom claims the guest slot. Joining again renames the existing guest
// instead of adding a second one.
func (s *Service) JoinRoom(ctx context.Context, roomID, guestName string) (coupleplay.Room, coupleplay.Player, error) {
	name, err := requireText("name", guestName, MaxNameLen)
	if err != nil {
		return coupleplay.Room{}, coupleplay.Player{}, err
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return coupleplay.Room{}, coupleplay.Player{}, fmt.Errorf("loading room: %w", err)
	}

	candidate := coupleplay.Player{
		ID:        s.newID(),
		RoomID:    roomID,
		Name:      name,
		Role:      coupleplay.RoleGuest,
		CreatedAt: s.now().UTC(),
	}
	guest, err := s.store.UpsertGuest(ctx, candidate)
	if err != nil {
		return coupleplay.Room{}, coupleplay.Player{}, fmt.Errorf("joining room: %w", err)
	}

	typ := feed.TypeUpdate
	if guest.ID == candidate.ID {
		typ = feed.TypeInsert
	}
	s.publish(ctx, feed.PlayerEvent(typ, guest))
	s.logger.Info("guest joined", "room_id", roomID, "player_id", guest.ID, "rejoin", typ == feed.TypeUpdate)
	return room, guest, nil
}

// AddQuestion stores a new prompt. Questions can only be added while the
// room is collecting.
func (s *Service) AddQuestion(ctx context.Context, roomID, authorID, text string) (coupleplay.Question, error) {
	text, err := requireText("question", text, MaxQuestionLen)
	if err != nil {
		return coupleplay.Question{}, err
	}
	if strings.TrimSpace(authorID) == "" {
		return coupleplay.Question{}, fmt.Errorf("%w: author_id is required", coupleplay.ErrInvalid)
	}

	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return coupleplay.Question{}, fmt.Errorf("loading room: %w", err)
	}
	if room.Stage != coupleplay.StageCollect {
		return coupleplay.Question{}, fmt.Errorf("%w: questions can only be added while collecting", coupleplay.ErrConflict)
	}
	if _, err := s.store.GetPlayer(ctx, roomID, authorID); err != nil {
		return coupleplay.Question{}, fmt.Errorf("loading author: %w", err)
	}

	q := coupleplay.Question{
		ID:        s.newID(),
		RoomID:    roomID,
		AuthorID:  authorID,
		Text:      text,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateQuestion(ctx, q); err != nil {
		return coupleplay.Question{}, fmt.Errorf("creating question: %w", err)
	}
	s.publish(ctx, feed.QuestionEvent(feed.TypeInsert, q))
	return q, nil
}

// SetStageOneDone records whether a player has finished collecting. When
// both players are done the room leaves collect; the returned room is
// non-nil only if this call moved it.
func (s *Service) SetStageOneDone(ctx context.Context, roomID, playerID string, done bool) (coupleplay.Player, *coupleplay.Room, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return coupleplay.Player{}, nil, fmt.Errorf("loading room: %w", err)
	}
	player, err := s.store.SetStageOneDone(ctx, roomID, playerID, done)
	if err != nil {
		return coupleplay.Player{}, nil, fmt.Errorf("updating player: %w", err)
	}
	s.publish(ctx, feed.PlayerEvent(feed.TypeUpdate, player))

	if !done || room.Game != coupleplay.GameRandomQuestions || room.Stage != coupleplay.StageCollect {
		return player, nil, nil
	}
	players, err := s.store.ListPlayers(ctx, roomID)
	if err != nil {
		return player, nil, fmt.Errorf("listing players: %w", err)
	}
	if !coupleplay.BothStageOneDone(players) {
		return player, nil, nil
	}
	update, err := s.startAnswerStage(ctx, room, players)
	if err != nil {
		return player, nil, err
	}
	return player, update, nil
}

// PatchAnswer applies a writer draft, a writer submit or a reader confirm
// to a question. When the question becomes done the room advances; the
// returned room is non-nil only if this call moved it.
func (s *Service) PatchAnswer(ctx context.Context, roomID, questionID string, p AnswerPatch) (coupleplay.Question, *coupleplay.Room, error) {
	if err := validatePatch(p); err != nil {
		return coupleplay.Question{}, nil, err
	}

	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return coupleplay.Question{}, nil, fmt.Errorf("loading room: %w", err)
	}
	q, err := s.store.GetQuestion(ctx, roomID, questionID)
	if err != nil {
		return coupleplay.Question{}, nil, fmt.Errorf("loading question: %w", err)
	}
	if room.Stage != coupleplay.StageAnswer {
		return coupleplay.Question{}, nil, fmt.Errorf("%w: room is not in the answer stage", coupleplay.ErrConflict)
	}
	if q.AnsweringPlayerID == nil {
		return coupleplay.Question{}, nil, fmt.Errorf("%w: question has no answerer yet", coupleplay.ErrConflict)
	}

	// Every precondition is checked against the text this patch would
	// leave behind, before anything is written.
	effective := q.Answer()
	if p.AnswerText != nil {
		effective = *p.AnswerText
	}
	if p.WriterDone != nil && strings.TrimSpace(effective) == "" {
		return coupleplay.Question{}, nil, fmt.Errorf("%w: answer text is required", coupleplay.ErrInvalid)
	}
	if p.ReaderDone != nil && strings.TrimSpace(effective) == "" {
		return coupleplay.Question{}, nil, fmt.Errorf("%w: cannot confirm an empty answer", coupleplay.ErrInvalid)
	}

	switch {
	case p.WriterDone != nil:
		// Without answer_text the stored draft is submitted as it is at
		// write time, not as it was read above.
		updated, changed, err := s.store.MarkWriterDone(ctx, roomID, questionID, p.AnswerText)
		if err != nil {
			return coupleplay.Question{}, nil, fmt.Errorf("submitting answer: %w", err)
		}
		if !changed && !updated.WriterDone {
			return coupleplay.Question{}, nil, fmt.Errorf("%w: answer text is required", coupleplay.ErrInvalid)
		}
		if changed {
			s.publish(ctx, feed.QuestionEvent(feed.TypeUpdate, updated))
		}
		q = updated
	case p.AnswerText != nil:
		updated, err := s.store.UpdateAnswerText(ctx, roomID, questionID, *p.AnswerText)
		if err != nil {
			return coupleplay.Question{}, nil, fmt.Errorf("saving draft: %w", err)
		}
		s.publish(ctx, feed.QuestionEvent(feed.TypeUpdate, updated))
		q = updated
	}

	if p.ReaderDone != nil {
		updated, changed, err := s.store.MarkReaderDone(ctx, roomID, questionID)
		if err != nil {
			return coupleplay.Question{}, nil, fmt.Errorf("confirming answer: %w", err)
		}
		if changed {
			s.publish(ctx, feed.QuestionEvent(feed.TypeUpdate, updated))
		}
		q = updated
	}

	if !q.IsDone() {
		return q, nil, nil
	}
	update, err := s.advance(ctx, room)
	if err != nil {
		return q, nil, err
	}
	return q, update, nil
}

func (s *Service) Room(ctx context.Context, roomID string) (coupleplay.Room, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return coupleplay.Room{}, fmt.Errorf("loading room: %w", err)
	}
	return room, nil
}

// Snapshot reads the room, its players and its questions in creation order.
func (s *Service) Snapshot(ctx context.Context, roomID string) (coupleplay.Snapshot, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return coupleplay.Snapshot{}, fmt.Errorf("loading room: %w", err)
	}
	players, err := s.store.ListPlayers(ctx, roomID)
	if err != nil {
		return coupleplay.Snapshot{}, fmt.Errorf("listing players: %w", err)
	}
	questions, err := s.store.ListQuestions(ctx, roomID)
	if err != nil {
		return coupleplay.Snapshot{}, fmt.Errorf("listing questions: %w", err)
	}
	return coupleplay.Snapshot{Room: room, Players: players, Questions: questions}, nil
}

// Reconcile is the idle safety sweep. It repeats whatever transition the
// stored state calls for, so a room converges even if the write that
// should have moved it was lost or raced. It returns the room as stored
// afterwards.
func (s *Service) Reconcile(ctx context.Context, roomID string) (coupleplay.Room, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return coupleplay.Room{}, fmt.Errorf("loading room: %w", err)
	}

	var update *coupleplay.Room
	switch room.Stage {
	case coupleplay.StageCollect:
		if room.Game != coupleplay.GameRandomQuestions {
			return room, nil
		}
		players, err := s.store.ListPlayers(ctx, roomID)
		if err != nil {
			return coupleplay.Room{}, fmt.Errorf("listing players: %w", err)
		}
		if !coupleplay.BothStageOneDone(players) {
			return room, nil
		}
		update, err = s.startAnswerStage(ctx, room, players)
		if err != nil {
			return coupleplay.Room{}, err
		}
	case coupleplay.StageAnswer:
		update, err = s.advance(ctx, room)
		if err != nil {
			return coupleplay.Room{}, err
		}
	}

	if update != nil {
		return *update, nil
	}
	// A concurrent caller may have moved the room; report what is stored.
	return s.store.GetRoom(ctx, roomID)
}
