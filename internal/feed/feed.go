// Package feed carries row-level change events for a room to every
// subscriber watching it.
package feed

import (
	"context"

	"github.com/coupleplay/rooms/internal/coupleplay"
)

const (
	TableRooms     = "rooms"
	TablePlayers   = "players"
	TableQuestions = "questions"

	TypeInsert = "INSERT"
	TypeUpdate = "UPDATE"
)

// Event describes one changed row. Exactly one of Room, Player or Question
// is set, matching Table, and carries the full new row.
type Event struct {
	Table    string               `json:"table"`
	Type     string               `json:"type"`
	RoomID   string               `json:"room_id"`
	Room     *coupleplay.Room     `json:"room,omitempty"`
	Player   *coupleplay.Player   `json:"player,omitempty"`
	Question *coupleplay.Question `json:"question,omitempty"`
}

// Feed publishes and fans out events per room. Delivery is best effort:
// slow subscribers miss events and catch up on their next poll.
type Feed interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns a channel of events for roomID. The channel is
	// closed once ctx is done.
	Subscribe(ctx context.Context, roomID string) (<-chan Event, error)
}

func RoomEvent(typ string, r coupleplay.Room) Event {
	return Event{Table: TableRooms, Type: typ, RoomID: r.ID, Room: &r}
}

func PlayerEvent(typ string, p coupleplay.Player) Event {
	return Event{Table: TablePlayers, Type: typ, RoomID: p.RoomID, Player: &p}
}

func QuestionEvent(typ string, q coupleplay.Question) Event {
	return Event{Table: TableQuestions, Type: typ, RoomID: q.RoomID, Question: &q}
}
