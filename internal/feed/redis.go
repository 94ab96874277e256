package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Redis fans events out through Redis pub/sub so several server instances
// can share rooms.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

var _ Feed = (*Redis)(nil)

func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	return &Redis{client: client, logger: logger}
}

// Channel is the pub/sub channel carrying events for roomID.
func Channel(roomID string) string {
	return "coupleplay:room:" + roomID
}

func (f *Redis) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := f.client.Publish(ctx, Channel(ev.RoomID), data).Err(); err != nil {
		return fmt.Errorf("publishing to redis: %w", err)
	}
	return nil
}

func (f *Redis) Subscribe(ctx context.Context, roomID string) (<-chan Event, error) {
	ps := f.client.Subscribe(ctx, Channel(roomID))
	// Wait for the subscription confirmation so no event published after
	// Subscribe returns is lost.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribing to redis: %w", err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					f.logger.Warn("dropping malformed feed message", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()
	return out, nil
}
