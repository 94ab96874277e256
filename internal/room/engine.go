package room

import (
	"context"
	"fmt"

	"github.com/coupleplay/rooms/internal/coupleplay"
	"github.com/coupleplay/rooms/internal/feed"
)

// startAnswerStage moves a collecting room on once both players are done.
// Every open question gets an answerer first; with no questions at all the
// room goes straight to review. The stage write is conditional on the room
// still collecting, so a second caller changes nothing and gets nil.
func (s *Service) startAnswerStage(ctx context.Context, room coupleplay.Room, players []coupleplay.Player) (*coupleplay.Room, error) {
	questions, err := s.assign(ctx, room.ID, players)
	if err != nil {
		return nil, err
	}

	to := coupleplay.StageReview
	var current *string
	if next, ok := coupleplay.NextOpen(questions); ok {
		to = coupleplay.StageAnswer
		current = coupleplay.StringPtr(next.ID)
	}
	return s.moveRoom(ctx, room, coupleplay.StageCollect, to, current)
}

// advance runs after a rendezvous and from the safety sweep. It assigns any
// question that slipped in without an answerer, then points the room at the
// question in progress, or finishes the room when every question is done.
func (s *Service) advance(ctx context.Context, room coupleplay.Room) (*coupleplay.Room, error) {
	players, err := s.store.ListPlayers(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	questions, err := s.assign(ctx, room.ID, players)
	if err != nil {
		return nil, err
	}

	if len(questions) == 0 || coupleplay.AllDone(questions) {
		return s.moveRoom(ctx, room, coupleplay.StageAnswer, coupleplay.StageReview, nil)
	}
	cur, _ := coupleplay.CurrentQuestion(questions, room.CurrentQuestionID)
	if room.CurrentQuestionID != nil && *room.CurrentQuestionID == cur.ID {
		return nil, nil
	}
	return s.moveRoom(ctx, room, coupleplay.StageAnswer, coupleplay.StageAnswer, coupleplay.StringPtr(cur.ID))
}

// assign gives every unassigned question in the room its round-robin
// answerer and returns the room's questions as stored afterwards.
func (s *Service) assign(ctx context.Context, roomID string, players []coupleplay.Player) ([]coupleplay.Question, error) {
	questions, err := s.store.ListQuestions(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("listing questions: %w", err)
	}
	plan := coupleplay.PlanAssignments(questions, players)
	if len(plan) == 0 {
		return questions, nil
	}

	n, err := s.store.AssignAnswerers(ctx, roomID, plan)
	if err != nil {
		return nil, fmt.Errorf("assigning answerers: %w", err)
	}
	questions, err = s.store.ListQuestions(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("listing questions: %w", err)
	}
	if n == 0 {
		return questions, nil
	}

	planned := make(map[string]bool, len(plan))
	for _, a := range plan {
		planned[a.QuestionID] = true
	}
	var events []feed.Event
	for _, q := range questions {
		if planned[q.ID] {
			events = append(events, feed.QuestionEvent(feed.TypeUpdate, q))
		}
	}
	s.publish(ctx, events...)
	s.logger.Debug("answerers assigned", "room_id", roomID, "count", n)
	return questions, nil
}

// moveRoom writes the stage change only if the room is still in from. It
// returns the new room when this call wrote it, nil when another caller got
// there first.
func (s *Service) moveRoom(ctx context.Context, room coupleplay.Room, from, to coupleplay.Stage, current *string) (*coupleplay.Room, error) {
	if to.Rank() < from.Rank() {
		return nil, fmt.Errorf("%w: stage cannot move from %s back to %s", coupleplay.ErrConflict, from, to)
	}
	changed, err := s.store.UpdateRoomStage(ctx, room.ID, from, to, current)
	if err != nil {
		return nil, fmt.Errorf("updating room: %w", err)
	}
	if !changed {
		return nil, nil
	}

	updated, err := s.store.GetRoom(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("loading room: %w", err)
	}
	s.publish(ctx, feed.RoomEvent(feed.TypeUpdate, updated))
	if from != to {
		s.logger.Info("room stage changed", "room_id", room.ID, "from", from, "to", to)
	}
	return &updated, nil
}

// publish sends events best effort; failures are only logged.
func (s *Service) publish(ctx context.Context, events ...feed.Event) {
	for _, ev := range events {
		if err := s.feed.Publish(ctx, ev); err != nil {
			s.logger.Warn("publishing change event", "room_id", ev.RoomID, "table", ev.Table, "error", err)
		}
	}
}
