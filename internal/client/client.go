// Package client talks to the rooms HTTP API and runs the per-player
// reconciliation loop that keeps a local view of a room in step with the
// server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/coupleplay/rooms/internal/coupleplay"
	"github.com/coupleplay/rooms/internal/feed"
)

// APIError is a non-2xx response. It unwraps to the matching coupleplay
// sentinel so callers can test it with errors.Is.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return coupleplay.ErrInvalid
	case http.StatusNotFound:
		return coupleplay.ErrNotFound
	case http.StatusConflict:
		return coupleplay.ErrConflict
	case http.StatusServiceUnavailable:
		return coupleplay.ErrNotConfigured
	}
	return nil
}

// AnswerPatch mirrors the PATCH answer body. Nil fields are omitted.
type AnswerPatch struct {
	AnswerText *string `json:"answer_text,omitempty"`
	WriterDone *bool   `json:"writer_done,omitempty"`
	ReaderDone *bool   `json:"reader_done,omitempty"`
}

type roomPlayer struct {
	Room   coupleplay.Room   `json:"room"`
	Player coupleplay.Player `json:"player"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func roomPath(roomID string, rest ...string) string {
	p := "/api/rooms/" + url.PathEscape(roomID)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func (c *Client) CreateRoom(ctx context.Context, hostName string, game coupleplay.Game, hideQuestions bool) (coupleplay.Room, coupleplay.Player, error) {
	in := map[string]any{"host_name": hostName, "hide_questions": hideQuestions}
	if game != "" {
		in["game"] = game
	}
	var out roomPlayer
	if err := c.do(ctx, http.MethodPost, "/api/rooms", in, &out); err != nil {
		return coupleplay.Room{}, coupleplay.Player{}, err
	}
	return out.Room, out.Player, nil
}

func (c *Client) JoinRoom(ctx context.Context, roomID, name string) (coupleplay.Room, coupleplay.Player, error) {
	var out roomPlayer
	if err := c.do(ctx, http.MethodPost, roomPath(roomID, "join"), map[string]string{"name": name}, &out); err != nil {
		return coupleplay.Room{}, coupleplay.Player{}, err
	}
	return out.Room, out.Player, nil
}

func (c *Client) Snapshot(ctx context.Context, roomID string) (coupleplay.Snapshot, error) {
	var out coupleplay.Snapshot
	err := c.do(ctx, http.MethodGet, roomPath(roomID), nil, &out)
	return out, err
}

func (c *Client) AddQuestion(ctx context.Context, roomID, authorID, text string) (coupleplay.Question, error) {
	var out struct {
		Question coupleplay.Question `json:"question"`
	}
	in := map[string]string{"author_id": authorID, "text": text}
	err := c.do(ctx, http.MethodPost, roomPath(roomID, "questions"), in, &out)
	return out.Question, err
}

// SetStageOneDone returns the updated player and, when the toggle moved the
// room, the new room.
func (c *Client) SetStageOneDone(ctx context.Context, roomID, playerID string, done bool) (coupleplay.Player, *coupleplay.Room, error) {
	var out struct {
		Player     coupleplay.Player `json:"player"`
		RoomUpdate *coupleplay.Room  `json:"room_update"`
	}
	in := map[string]bool{"stage_one_done": done}
	err := c.do(ctx, http.MethodPost, roomPath(roomID, "players", url.PathEscape(playerID), "stage-one"), in, &out)
	return out.Player, out.RoomUpdate, err
}

func (c *Client) PatchAnswer(ctx context.Context, roomID, questionID string, p AnswerPatch) (coupleplay.Question, *coupleplay.Room, error) {
	var out struct {
		Question   coupleplay.Question `json:"question"`
		RoomUpdate *coupleplay.Room    `json:"room_update"`
	}
	err := c.do(ctx, http.MethodPatch, roomPath(roomID, "questions", url.PathEscape(questionID), "answer"), p, &out)
	return out.Question, out.RoomUpdate, err
}

// Reconcile asks the server to run its safety sweep for the room.
func (c *Client) Reconcile(ctx context.Context, roomID string) (coupleplay.Room, error) {
	var out struct {
		Room coupleplay.Room `json:"room"`
	}
	err := c.do(ctx, http.MethodPost, roomPath(roomID, "reconcile"), nil, &out)
	return out.Room, err
}

// InviteURL is the QR code endpoint for the room.
func (c *Client) InviteURL(roomID string) string {
	return c.baseURL + roomPath(roomID, "invite.png")
}

// Subscribe opens the room's WebSocket change stream. The channel closes
// when ctx is done or the connection drops; callers reconnect.
func (c *Client) Subscribe(ctx context.Context, roomID string) (<-chan feed.Event, error) {
	u := c.baseURL + roomPath(roomID, "ws")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}

	// The websocket library refuses clients with a Timeout; the stream
	// lives as long as ctx.
	hc := *c.http
	hc.Timeout = 0

	conn, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPClient: &hc})
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			return nil, decodeError(resp)
		}
		return nil, fmt.Errorf("dialing change stream: %w", err)
	}

	out := make(chan feed.Event, 16)
	go func() {
		defer close(out)
		defer conn.CloseNow()
		for {
			var ev feed.Event
			if err := wsjson.Read(ctx, conn, &ev); err != nil {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
	}
	return &APIError{Status: resp.StatusCode, Message: body.Error}
}
