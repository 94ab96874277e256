package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coupleplay/rooms/internal/coupleplay"
	"github.com/coupleplay/rooms/internal/feed"
)

const (
	DefaultPollInterval = time.Second
	DefaultPushInterval = 500 * time.Millisecond

	minBackoff = 500 * time.Millisecond
	maxBackoff = 10 * time.Second
)

// API is the part of Client a Session drives.
type API interface {
	Snapshot(ctx context.Context, roomID string) (coupleplay.Snapshot, error)
	Reconcile(ctx context.Context, roomID string) (coupleplay.Room, error)
	AddQuestion(ctx context.Context, roomID, authorID, text string) (coupleplay.Question, error)
	SetStageOneDone(ctx context.Context, roomID, playerID string, done bool) (coupleplay.Player, *coupleplay.Room, error)
	PatchAnswer(ctx context.Context, roomID, questionID string, p AnswerPatch) (coupleplay.Question, *coupleplay.Room, error)
	Subscribe(ctx context.Context, roomID string) (<-chan feed.Event, error)
}

// Session is one player's live view of a room. Polls, change events and the
// results of its own writes all fold into the view through reconcile.
type Session struct {
	api      API
	roomID   string
	playerID string
	logger   *slog.Logger

	pollInterval time.Duration
	pushInterval time.Duration
	onChange     func(coupleplay.Snapshot)

	mu     sync.Mutex
	view   coupleplay.Snapshot
	loaded bool
	// drafts holds the local answer text per question. For the writer it is
	// what they typed; for the reader it mirrors the store.
	drafts map[string]string
	// pushed is the last answer text the writer sent per question.
	pushed map[string]string
	// stageStarted is set once this session has asked the server to start
	// the answer stage. It resets whenever the room leaves collect.
	stageStarted bool
}

type SessionOption func(*Session)

// WithPollInterval sets the snapshot poll period. Non-positive values keep
// the default.
func WithPollInterval(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithPushInterval sets how often drafts are pushed. Non-positive values
// keep the default.
func WithPushInterval(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.pushInterval = d
		}
	}
}

// WithOnChange registers a callback run after every change to the view.
func WithOnChange(fn func(coupleplay.Snapshot)) SessionOption {
	return func(s *Session) { s.onChange = fn }
}

func NewSession(api API, roomID, playerID string, logger *slog.Logger, opts ...SessionOption) *Session {
	s := &Session{
		api:          api,
		roomID:       roomID,
		playerID:     playerID,
		logger:       logger.With("room_id", roomID, "player_id", playerID),
		pollInterval: DefaultPollInterval,
		pushInterval: DefaultPushInterval,
		drafts:       make(map[string]string),
		pushed:       make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run loads the room and then polls, follows the change stream and pushes
// answer drafts until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Refresh(ctx); err != nil {
		return fmt.Errorf("loading room: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.pollLoop(ctx) })
	g.Go(func() error { return s.subscribeLoop(ctx) })
	g.Go(func() error { return s.pushLoop(ctx) })
	return g.Wait()
}

// Refresh reads a full snapshot and folds it into the view.
func (s *Session) Refresh(ctx context.Context) error {
	snap, err := s.api.Snapshot(ctx, s.roomID)
	if err != nil {
		return err
	}
	s.reconcile(ctx, change{
		full:      true,
		room:      &snap.Room,
		players:   snap.Players,
		questions: snap.Questions,
	}, true)
	return nil
}

func (s *Session) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("refreshing room", "error", err)
			}
		}
	}
}

// subscribeLoop follows the change stream, redialing after a wait that
// doubles until a connection delivers an event.
func (s *Session) subscribeLoop(ctx context.Context) error {
	backoff := minBackoff
	for {
		events, err := s.api.Subscribe(ctx, s.roomID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("subscribing to changes", "error", err, "retry_in", backoff)
		} else {
			received := false
			for ev := range events {
				if !received {
					received = true
					backoff = minBackoff
				}
				s.handleEvent(ctx, ev)
			}
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Info("change stream closed, reconnecting", "retry_in", backoff)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (s *Session) pushLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.push(ctx)
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, ev feed.Event) {
	if ev.RoomID != s.roomID {
		return
	}
	var c change
	switch ev.Table {
	case feed.TableRooms:
		c.room = ev.Room
	case feed.TablePlayers:
		if ev.Player != nil {
			c.players = []coupleplay.Player{*ev.Player}
		}
	case feed.TableQuestions:
		if ev.Question != nil {
			c.questions = []coupleplay.Question{*ev.Question}
		}
	default:
		return
	}
	s.reconcile(ctx, c, true)
}

// push sends the writer's draft for the current question when it differs
// from what was last sent.
func (s *Session) push(ctx context.Context) {
	s.mu.Lock()
	q, ok := s.currentLocked()
	if !ok || !q.AnsweredBy(s.playerID) || q.WriterDone {
		s.mu.Unlock()
		return
	}
	draft, has := s.drafts[q.ID]
	if !has || draft == s.pushed[q.ID] {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	updated, _, err := s.api.PatchAnswer(ctx, s.roomID, q.ID, AnswerPatch{AnswerText: &draft})
	if err != nil {
		if errors.Is(err, coupleplay.ErrConflict) {
			// Submitted from elsewhere; stop retrying this text.
			s.mu.Lock()
			s.pushed[q.ID] = draft
			s.mu.Unlock()
		}
		if ctx.Err() == nil {
			s.logger.Warn("pushing answer draft", "question_id", q.ID, "error", err)
		}
		return
	}

	s.mu.Lock()
	s.pushed[q.ID] = draft
	s.mu.Unlock()
	s.reconcile(ctx, change{questions: []coupleplay.Question{updated}}, false)
}

// View returns a copy of the current local view.
func (s *Session) View() coupleplay.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Draft returns the local answer text for a question.
func (s *Session) Draft(questionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drafts[questionID]
}

// Current returns the question being answered, if the room is in the answer
// stage.
func (s *Session) Current() (coupleplay.Question, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

// Type replaces the local draft for the current question. The push loop
// sends it to the server.
func (s *Session) Type(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, err := s.writerQuestionLocked()
	if err != nil {
		return err
	}
	s.drafts[q.ID] = text
	return nil
}

// MarkWriterDone submits the draft as the final answer. An empty draft is
// rejected without a request.
func (s *Session) MarkWriterDone(ctx context.Context) error {
	s.mu.Lock()
	q, err := s.writerQuestionLocked()
	draft := s.drafts[q.ID]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if strings.TrimSpace(draft) == "" {
		return fmt.Errorf("%w: answer text is required", coupleplay.ErrInvalid)
	}

	done := true
	updated, roomUpdate, err := s.api.PatchAnswer(ctx, s.roomID, q.ID, AnswerPatch{AnswerText: &draft, WriterDone: &done})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.pushed[q.ID] = draft
	s.mu.Unlock()
	s.reconcile(ctx, change{room: roomUpdate, questions: []coupleplay.Question{updated}}, true)
	return nil
}

// MarkReaderDone confirms the reader has seen the answer. It is rejected
// while no answer text is visible.
func (s *Session) MarkReaderDone(ctx context.Context) error {
	s.mu.Lock()
	q, ok := s.currentLocked()
	observed := s.drafts[q.ID]
	s.mu.Unlock()

	switch {
	case !ok:
		return fmt.Errorf("%w: no question in progress", coupleplay.ErrConflict)
	case q.AnsweringPlayerID == nil:
		return fmt.Errorf("%w: question has no answerer yet", coupleplay.ErrConflict)
	case q.AnsweredBy(s.playerID):
		return fmt.Errorf("%w: only the reader can confirm", coupleplay.ErrConflict)
	case strings.TrimSpace(observed) == "":
		return fmt.Errorf("%w: nothing to confirm yet", coupleplay.ErrInvalid)
	}

	done := true
	updated, roomUpdate, err := s.api.PatchAnswer(ctx, s.roomID, q.ID, AnswerPatch{ReaderDone: &done})
	if err != nil {
		return err
	}
	s.reconcile(ctx, change{room: roomUpdate, questions: []coupleplay.Question{updated}}, true)
	return nil
}

func (s *Session) AddQuestion(ctx context.Context, text string) (coupleplay.Question, error) {
	q, err := s.api.AddQuestion(ctx, s.roomID, s.playerID, text)
	if err != nil {
		return coupleplay.Question{}, err
	}
	s.reconcile(ctx, change{questions: []coupleplay.Question{q}}, false)
	return q, nil
}

func (s *Session) SetStageOneDone(ctx context.Context, done bool) error {
	p, roomUpdate, err := s.api.SetStageOneDone(ctx, s.roomID, s.playerID, done)
	if err != nil {
		return err
	}
	s.reconcile(ctx, change{room: roomUpdate, players: []coupleplay.Player{p}}, true)
	return nil
}

func (s *Session) writerQuestionLocked() (coupleplay.Question, error) {
	q, ok := s.currentLocked()
	switch {
	case !ok:
		return q, fmt.Errorf("%w: no question in progress", coupleplay.ErrConflict)
	case !q.AnsweredBy(s.playerID):
		return q, fmt.Errorf("%w: not your turn to answer", coupleplay.ErrConflict)
	case q.WriterDone:
		return q, fmt.Errorf("%w: answer already submitted", coupleplay.ErrConflict)
	}
	return q, nil
}

func (s *Session) currentLocked() (coupleplay.Question, bool) {
	if s.view.Room.Stage != coupleplay.StageAnswer {
		return coupleplay.Question{}, false
	}
	return coupleplay.CurrentQuestion(s.view.Questions, s.view.Room.CurrentQuestionID)
}

func (s *Session) snapshotLocked() coupleplay.Snapshot {
	return coupleplay.Snapshot{
		Room:      s.view.Room,
		Players:   slices.Clone(s.view.Players),
		Questions: slices.Clone(s.view.Questions),
	}
}

// change is store state to fold into the view: a full snapshot from the poll
// loop, or individual rows from events and write results.
type change struct {
	full      bool
	room      *coupleplay.Room
	players   []coupleplay.Player
	questions []coupleplay.Question
}

type action int

const (
	actionNone action = iota
	actionStart
	actionSweep
)

// reconcile is the single entry point for new state. It merges c into the
// view and, when act is set, runs whatever follow-up the merged view calls
// for.
func (s *Session) reconcile(ctx context.Context, c change, act bool) {
	s.mu.Lock()
	s.mergeLocked(c)
	next := actionNone
	if act {
		next = s.nextActionLocked(c.full)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(snap)
	}

	switch next {
	case actionStart:
		s.logger.Info("both players done collecting, starting answer stage")
		if !s.sweep(ctx) {
			s.mu.Lock()
			s.stageStarted = false
			s.mu.Unlock()
		}
	case actionSweep:
		s.logger.Info("answer stage out of step, reconciling")
		s.sweep(ctx)
	}
}

// sweep asks the server to repair the room, then folds a fresh snapshot in
// without triggering further actions.
func (s *Session) sweep(ctx context.Context) bool {
	room, err := s.api.Reconcile(ctx, s.roomID)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("reconciling room", "error", err)
		}
		return false
	}
	c := change{room: &room}
	if snap, err := s.api.Snapshot(ctx, s.roomID); err == nil {
		c = change{full: true, room: &snap.Room, players: snap.Players, questions: snap.Questions}
	}
	s.reconcile(ctx, c, false)
	return true
}

func (s *Session) nextActionLocked(full bool) action {
	room := s.view.Room
	switch room.Stage {
	case coupleplay.StageCollect:
		if room.Game == coupleplay.GameRandomQuestions && !s.stageStarted &&
			coupleplay.BothStageOneDone(s.view.Players) {
			s.stageStarted = true
			return actionStart
		}
	case coupleplay.StageAnswer:
		// Only full snapshots are trusted for this; single events arrive
		// between the question write and the room write.
		if full && needsSweep(s.view) {
			return actionSweep
		}
	}
	return actionNone
}

// needsSweep reports whether an answer-stage room is out of step with its
// questions.
func needsSweep(view coupleplay.Snapshot) bool {
	if len(view.Questions) == 0 || coupleplay.AllDone(view.Questions) {
		return true
	}
	for _, q := range view.Questions {
		if q.AnsweringPlayerID == nil {
			return true
		}
	}
	cur := view.Room.CurrentQuestionID
	if cur == nil {
		return true
	}
	for _, q := range view.Questions {
		if q.ID == *cur {
			return q.IsDone()
		}
	}
	return true
}

func (s *Session) mergeLocked(c change) {
	if c.room != nil && c.room.ID == s.roomID {
		// Stages only move forward; an older read must not pull the view back.
		if !s.loaded || c.room.Stage.Rank() >= s.view.Room.Stage.Rank() {
			s.view.Room = *c.room
		}
	}
	if s.view.Room.Stage != coupleplay.StageCollect {
		s.stageStarted = false
	}

	if c.full {
		s.view.Players = slices.Clone(c.players)
	} else {
		for _, p := range c.players {
			s.view.Players = upsertPlayer(s.view.Players, p)
		}
	}

	local := make(map[string]coupleplay.Question, len(s.view.Questions))
	for _, q := range s.view.Questions {
		local[q.ID] = q
	}
	merged := make([]coupleplay.Question, 0, len(c.questions))
	for _, in := range c.questions {
		q := in
		if old, ok := local[in.ID]; ok {
			q = mergeQuestion(old, in)
		}
		merged = append(merged, q)
		s.mergeDraftLocked(q)
	}

	if c.full {
		s.view.Questions = coupleplay.SortQuestions(merged)
		s.loaded = true
	} else {
		for _, q := range merged {
			local[q.ID] = q
		}
		all := make([]coupleplay.Question, 0, len(local))
		for _, q := range local {
			all = append(all, q)
		}
		s.view.Questions = coupleplay.SortQuestions(all)
	}
}

// mergeDraftLocked applies the draft rule: the reader always mirrors the
// store, the writer only adopts stored text when they have no draft yet.
func (s *Session) mergeDraftLocked(q coupleplay.Question) {
	if q.AnsweringPlayerID == nil {
		return
	}
	if !q.AnsweredBy(s.playerID) {
		s.drafts[q.ID] = q.Answer()
		return
	}
	if _, ok := s.drafts[q.ID]; !ok {
		s.drafts[q.ID] = q.Answer()
		s.pushed[q.ID] = q.Answer()
	}
}

// mergeQuestion folds a possibly stale read into the local copy. Answerers
// and done flags never go back once set.
func mergeQuestion(old, in coupleplay.Question) coupleplay.Question {
	q := in
	if q.AnsweringPlayerID == nil {
		q.AnsweringPlayerID = old.AnsweringPlayerID
	}
	if old.WriterDone && !in.WriterDone {
		q.WriterDone = true
		q.AnswerText = old.AnswerText
	}
	q.ReaderDone = q.ReaderDone || old.ReaderDone
	return q
}

func upsertPlayer(players []coupleplay.Player, p coupleplay.Player) []coupleplay.Player {
	for i := range players {
		if players[i].ID == p.ID {
			out := slices.Clone(players)
			out[i] = p
			return out
		}
	}
	return append(slices.Clone(players), p)
}
