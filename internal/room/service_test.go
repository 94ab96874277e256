package room

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/coupleplay/rooms/internal/coupleplay"
	"github.com/coupleplay/rooms/internal/database"
	"github.com/coupleplay/rooms/internal/feed"
	"github.com/coupleplay/rooms/internal/migrations"
	"github.com/coupleplay/rooms/internal/store"
)

// countingStore records how many writes reach the underlying store.
// afterGetQuestion, if set, runs once after the next question read.
type countingStore struct {
	store.Store
	mu     sync.Mutex
	writes int

	afterGetQuestion func()
}

func (c *countingStore) GetQuestion(ctx context.Context, roomID, questionID string) (coupleplay.Question, error) {
	q, err := c.Store.GetQuestion(ctx, roomID, questionID)
	c.mu.Lock()
	hook := c.afterGetQuestion
	c.afterGetQuestion = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return q, err
}

func (c *countingStore) count() {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
}

func (c *countingStore) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *countingStore) UpdateAnswerText(ctx context.Context, roomID, questionID, text string) (coupleplay.Question, error) {
	c.count()
	return c.Store.UpdateAnswerText(ctx, roomID, questionID, text)
}

func (c *countingStore) MarkWriterDone(ctx context.Context, roomID, questionID string, text *string) (coupleplay.Question, bool, error) {
	c.count()
	return c.Store.MarkWriterDone(ctx, roomID, questionID, text)
}

func (c *countingStore) MarkReaderDone(ctx context.Context, roomID, questionID string) (coupleplay.Question, bool, error) {
	c.count()
	return c.Store.MarkReaderDone(ctx, roomID, questionID)
}

func (c *countingStore) UpdateRoomStage(ctx context.Context, roomID string, from, to coupleplay.Stage, current *string) (bool, error) {
	c.count()
	return c.Store.UpdateRoomStage(ctx, roomID, from, to, current)
}

type fixture struct {
	svc    *Service
	store  *countingStore
	broker *feed.Broker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(context.Background(), database.MemoryPath)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	// Every call to the clock moves it one second so creation order is
	// unambiguous.
	var mu sync.Mutex
	clock := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	n := 0
	ids := func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%03d", n)
	}

	st := &countingStore{Store: store.NewSQLite(db)}
	broker := feed.NewBroker()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		svc:    NewService(st, broker, logger, WithClock(now), WithIDs(ids)),
		store:  st,
		broker: broker,
	}
}

// pair creates a room with host Ana and guest Leo.
func (f *fixture) pair(t *testing.T) (coupleplay.Room, coupleplay.Player, coupleplay.Player) {
	t.Helper()
	ctx := context.Background()
	room, host, err := f.svc.CreateRoom(ctx, CreateRoomInput{HostName: "Ana"})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	_, guest, err := f.svc.JoinRoom(ctx, room.ID, "Leo")
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	return room, host, guest
}

func (f *fixture) addQuestion(t *testing.T, roomID, authorID, text string) coupleplay.Question {
	t.Helper()
	q, err := f.svc.AddQuestion(context.Background(), roomID, authorID, text)
	if err != nil {
		t.Fatalf("AddQuestion(%q): %v", text, err)
	}
	return q
}

// startAnswering adds the given questions alternately by host and guest
// and marks both players done.
func (f *fixture) startAnswering(t *testing.T, texts ...string) (coupleplay.Room, coupleplay.Player, coupleplay.Player) {
	t.Helper()
	room, host, guest := f.pair(t)
	for i, text := range texts {
		author := host.ID
		if i%2 == 1 {
			author = guest.ID
		}
		f.addQuestion(t, room.ID, author, text)
	}
	ctx := context.Background()
	if _, _, err := f.svc.SetStageOneDone(ctx, room.ID, host.ID, true); err != nil {
		t.Fatalf("host done: %v", err)
	}
	if _, _, err := f.svc.SetStageOneDone(ctx, room.ID, guest.ID, true); err != nil {
		t.Fatalf("guest done: %v", err)
	}
	room, err := f.svc.store.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	return room, host, guest
}

func boolPtr(b bool) *bool { return &b }

func TestScenarioStartAnswering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, host, guest := f.pair(t)

	q1 := f.addQuestion(t, room.ID, host.ID, "Favourite colour?")
	q2 := f.addQuestion(t, room.ID, guest.ID, "Dream trip?")

	_, update, err := f.svc.SetStageOneDone(ctx, room.ID, host.ID, true)
	if err != nil {
		t.Fatalf("host done: %v", err)
	}
	if update != nil {
		t.Fatalf("room moved after host only: %+v", update)
	}

	_, update, err = f.svc.SetStageOneDone(ctx, room.ID, guest.ID, true)
	if err != nil {
		t.Fatalf("guest done: %v", err)
	}
	if update == nil {
		t.Fatal("room_update = nil, want answer stage")
	}
	if update.Stage != coupleplay.StageAnswer {
		t.Errorf("stage = %s, want answer", update.Stage)
	}
	if update.CurrentQuestionID == nil || *update.CurrentQuestionID != q1.ID {
		t.Errorf("current = %v, want %s", update.CurrentQuestionID, q1.ID)
	}

	snap, err := f.svc.Snapshot(ctx, room.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !snap.Questions[0].AnsweredBy(host.ID) {
		t.Errorf("%s answerer = %v, want host", q1.ID, snap.Questions[0].AnsweringPlayerID)
	}
	if !snap.Questions[1].AnsweredBy(guest.ID) {
		t.Errorf("%s answerer = %v, want guest", q2.ID, snap.Questions[1].AnsweringPlayerID)
	}
}

func TestScenarioRendezvousAdvances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, _, _ := f.startAnswering(t, "Favourite colour?", "Dream trip?")
	snap, _ := f.svc.Snapshot(ctx, room.ID)
	first, second := snap.Questions[0], snap.Questions[1]

	q, update, err := f.svc.PatchAnswer(ctx, room.ID, first.ID, AnswerPatch{
		AnswerText: coupleplay.StringPtr("Blue"),
		WriterDone: boolPtr(true),
	})
	if err != nil {
		t.Fatalf("writer done: %v", err)
	}
	if update != nil || q.IsDone() {
		t.Fatalf("advanced before reader confirmed: q=%+v update=%+v", q, update)
	}

	q, update, err = f.svc.PatchAnswer(ctx, room.ID, first.ID, AnswerPatch{ReaderDone: boolPtr(true)})
	if err != nil {
		t.Fatalf("reader done: %v", err)
	}
	if !q.IsDone() || q.Answer() != "Blue" {
		t.Errorf("question = %+v, want done with Blue", q)
	}
	if update == nil || update.Stage != coupleplay.StageAnswer || *update.CurrentQuestionID != second.ID {
		t.Fatalf("room_update = %+v, want current %s", update, second.ID)
	}

	// Reader may confirm first; the question only completes with both.
	f.svc.PatchAnswer(ctx, room.ID, second.ID, AnswerPatch{AnswerText: coupleplay.StringPtr("Japan")})
	if _, update, err = f.svc.PatchAnswer(ctx, room.ID, second.ID, AnswerPatch{ReaderDone: boolPtr(true)}); err != nil || update != nil {
		t.Fatalf("reader first = %+v, %v", update, err)
	}
	if _, _, err := f.svc.PatchAnswer(ctx, room.ID, second.ID, AnswerPatch{AnswerText: coupleplay.StringPtr("Japan, Kyoto")}); err != nil {
		t.Fatalf("writer edit after reader confirmed: %v", err)
	}
	_, update, err = f.svc.PatchAnswer(ctx, room.ID, second.ID, AnswerPatch{WriterDone: boolPtr(true)})
	if err != nil {
		t.Fatalf("writer done: %v", err)
	}
	if update == nil || update.Stage != coupleplay.StageReview || update.CurrentQuestionID != nil {
		t.Fatalf("room_update = %+v, want review with no current question", update)
	}
}

func TestScenarioNoQuestionsSkipsToReview(t *testing.T) {
	f := newFixture(t)
	room, _, _ := f.startAnswering(t)

	if room.Stage != coupleplay.StageReview {
		t.Errorf("stage = %s, want review", room.Stage)
	}
	if room.CurrentQuestionID != nil {
		t.Errorf("current = %s, want nil", *room.CurrentQuestionID)
	}
}

func TestScenarioRejoinKeepsOneGuest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, _, guest := f.pair(t)

	_, again, err := f.svc.JoinRoom(ctx, room.ID, "Leonardo")
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if again.ID != guest.ID || again.Name != "Leonardo" {
		t.Errorf("guest = %+v, want %s renamed to Leonardo", again, guest.ID)
	}

	snap, _ := f.svc.Snapshot(ctx, room.ID)
	guests := 0
	for _, p := range snap.Players {
		if p.Role == coupleplay.RoleGuest {
			guests++
		}
	}
	if guests != 1 {
		t.Errorf("guests = %d, want 1", guests)
	}
}

func TestJoinMissingRoom(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.svc.JoinRoom(context.Background(), "nope", "Leo"); !errors.Is(err, coupleplay.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStartAnswerStageIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, _, _ := f.startAnswering(t, "a", "b", "c")
	before, _ := f.svc.Snapshot(ctx, room.ID)

	// A second client observing "both done" repeats the transition.
	players, _ := f.svc.store.ListPlayers(ctx, room.ID)
	collecting := room
	collecting.Stage = coupleplay.StageCollect
	update, err := f.svc.startAnswerStage(ctx, collecting, players)
	if err != nil {
		t.Fatalf("second transition: %v", err)
	}
	if update != nil {
		t.Errorf("second transition wrote room: %+v", update)
	}

	after, _ := f.svc.Snapshot(ctx, room.ID)
	if after.Room.Stage != before.Room.Stage || *after.Room.CurrentQuestionID != *before.Room.CurrentQuestionID {
		t.Errorf("room changed: %+v -> %+v", before.Room, after.Room)
	}
	for i := range before.Questions {
		if *before.Questions[i].AnsweringPlayerID != *after.Questions[i].AnsweringPlayerID {
			t.Errorf("question %d reassigned", i)
		}
	}
}

func TestConcurrentStageOneDone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, host, guest := f.pair(t)
	f.addQuestion(t, room.ID, host.ID, "a")
	f.addQuestion(t, room.ID, guest.ID, "b")

	var wg sync.WaitGroup
	updates := make(chan *coupleplay.Room, 2)
	for _, id := range []string{host.ID, guest.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, u, err := f.svc.SetStageOneDone(ctx, room.ID, id, true)
			if err != nil {
				t.Errorf("SetStageOneDone(%s): %v", id, err)
			}
			updates <- u
		}()
	}
	wg.Wait()
	close(updates)

	// Whatever the interleaving, the room ends up in answer; a sweep
	// covers the case where neither call saw both flags.
	got, err := f.svc.Reconcile(ctx, room.ID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got.Stage != coupleplay.StageAnswer {
		t.Errorf("stage = %s, want answer", got.Stage)
	}
	moved := 0
	for u := range updates {
		if u != nil {
			moved++
		}
	}
	if moved > 1 {
		t.Errorf("%d callers moved the room, want at most 1", moved)
	}
}

func TestWriterDoneRejectsEmptyDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, _, _ := f.startAnswering(t, "Favourite colour?")
	snap, _ := f.svc.Snapshot(ctx, room.ID)
	qid := snap.Questions[0].ID

	before := f.store.Writes()
	for _, text := range []*string{nil, coupleplay.StringPtr(""), coupleplay.StringPtr("   ")} {
		_, _, err := f.svc.PatchAnswer(ctx, room.ID, qid, AnswerPatch{AnswerText: text, WriterDone: boolPtr(true)})
		if !errors.Is(err, coupleplay.ErrInvalid) {
			t.Errorf("writer_done with %v: err = %v, want ErrInvalid", text, err)
		}
	}
	if got := f.store.Writes(); got != before {
		t.Errorf("store writes = %d, want %d", got, before)
	}
	q, _ := f.svc.store.GetQuestion(ctx, room.ID, qid)
	if q.WriterDone {
		t.Error("writer_done = true after rejected submit")
	}
}

func TestReaderCannotConfirmEmptyAnswer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, _, _ := f.startAnswering(t, "Favourite colour?")
	snap, _ := f.svc.Snapshot(ctx, room.ID)

	_, _, err := f.svc.PatchAnswer(ctx, room.ID, snap.Questions[0].ID, AnswerPatch{ReaderDone: boolPtr(true)})
	if !errors.Is(err, coupleplay.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestReaderDoneChecksPatchedText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, _, _ := f.startAnswering(t, "Favourite colour?")
	snap, _ := f.svc.Snapshot(ctx, room.ID)
	qid := snap.Questions[0].ID

	if _, _, err := f.svc.PatchAnswer(ctx, room.ID, qid, AnswerPatch{AnswerText: coupleplay.StringPtr("Blue")}); err != nil {
		t.Fatalf("draft: %v", err)
	}

	tests := []struct {
		name    string
		patch   AnswerPatch
		wantErr error
	}{
		{"blank text with confirm", AnswerPatch{AnswerText: coupleplay.StringPtr(""), ReaderDone: boolPtr(true)}, coupleplay.ErrInvalid},
		{"spaces with confirm", AnswerPatch{AnswerText: coupleplay.StringPtr("  "), ReaderDone: boolPtr(true)}, coupleplay.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.store.Writes()
			_, _, err := f.svc.PatchAnswer(ctx, room.ID, qid, tt.patch)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got := f.store.Writes(); got != before {
				t.Errorf("store writes = %d, want %d", got, before)
			}
			q, _ := f.svc.store.GetQuestion(ctx, room.ID, qid)
			if q.Answer() != "Blue" || q.ReaderDone {
				t.Errorf("question = %+v, want untouched Blue draft", q)
			}
		})
	}
}

func TestWriterDoneSubmitsStoredDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, _, _ := f.startAnswering(t, "Favourite colour?")
	snap, _ := f.svc.Snapshot(ctx, room.ID)
	qid := snap.Questions[0].ID

	if _, _, err := f.svc.PatchAnswer(ctx, room.ID, qid, AnswerPatch{AnswerText: coupleplay.StringPtr("Blue")}); err != nil {
		t.Fatalf("draft: %v", err)
	}

	// A newer draft lands between the service's read and its write.
	f.store.afterGetQuestion = func() {
		if _, err := f.store.Store.UpdateAnswerText(ctx, room.ID, qid, "Blue and green"); err != nil {
			t.Errorf("concurrent draft: %v", err)
		}
	}
	q, _, err := f.svc.PatchAnswer(ctx, room.ID, qid, AnswerPatch{WriterDone: boolPtr(true)})
	if err != nil {
		t.Fatalf("writer done: %v", err)
	}
	if !q.WriterDone || q.Answer() != "Blue and green" {
		t.Errorf("question = %+v, want submitted newer draft", q)
	}
}

func TestWriterDoneRejectsDraftClearedConcurrently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, _, _ := f.startAnswering(t, "Favourite colour?")
	snap, _ := f.svc.Snapshot(ctx, room.ID)
	qid := snap.Questions[0].ID

	if _, _, err := f.svc.PatchAnswer(ctx, room.ID, qid, AnswerPatch{AnswerText: coupleplay.StringPtr("Blue")}); err != nil {
		t.Fatalf("draft: %v", err)
	}
	f.store.afterGetQuestion = func() {
		f.store.Store.UpdateAnswerText(ctx, room.ID, qid, "")
	}
	if _, _, err := f.svc.PatchAnswer(ctx, room.ID, qid, AnswerPatch{WriterDone: boolPtr(true)}); !errors.Is(err, coupleplay.ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	q, _ := f.svc.store.GetQuestion(ctx, room.ID, qid)
	if q.WriterDone {
		t.Error("writer_done = true for a blank answer")
	}
}

func TestPatchAnswerRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, _, _ := f.startAnswering(t, "a", "b")
	snap, _ := f.svc.Snapshot(ctx, room.ID)
	qid := snap.Questions[0].ID

	if _, _, err := f.svc.PatchAnswer(ctx, room.ID, qid, AnswerPatch{AnswerText: coupleplay.StringPtr("x"), WriterDone: boolPtr(true)}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	tests := []struct {
		name    string
		roomID  string
		qid     string
		patch   AnswerPatch
		wantErr error
	}{
		{"empty patch", room.ID, qid, AnswerPatch{}, coupleplay.ErrInvalid},
		{"clear writer_done", room.ID, qid, AnswerPatch{WriterDone: boolPtr(false)}, coupleplay.ErrInvalid},
		{"clear reader_done", room.ID, qid, AnswerPatch{ReaderDone: boolPtr(false)}, coupleplay.ErrInvalid},
		{"edit after submit", room.ID, qid, AnswerPatch{AnswerText: coupleplay.StringPtr("y")}, coupleplay.ErrConflict},
		{"unknown question", room.ID, "missing", AnswerPatch{AnswerText: coupleplay.StringPtr("y")}, coupleplay.ErrNotFound},
		{"unknown room", "missing", qid, AnswerPatch{AnswerText: coupleplay.StringPtr("y")}, coupleplay.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.svc.PatchAnswer(ctx, tt.roomID, tt.qid, tt.patch)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// A repeated submit is a no-op that keeps the first answer.
	q, _, err := f.svc.PatchAnswer(ctx, room.ID, qid, AnswerPatch{AnswerText: coupleplay.StringPtr("z"), WriterDone: boolPtr(true)})
	if err != nil {
		t.Fatalf("repeat submit: %v", err)
	}
	if q.Answer() != "x" {
		t.Errorf("answer = %q, want x", q.Answer())
	}
}

func TestPatchAnswerCrossRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomA, _, _ := f.startAnswering(t, "a")
	roomB, _, _ := f.startAnswering(t, "b")
	snapA, _ := f.svc.Snapshot(ctx, roomA.ID)

	_, _, err := f.svc.PatchAnswer(ctx, roomB.ID, snapA.Questions[0].ID, AnswerPatch{AnswerText: coupleplay.StringPtr("hi")})
	if !errors.Is(err, coupleplay.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPatchAnswerOutsideAnswerStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, host, _ := f.pair(t)
	q := f.addQuestion(t, room.ID, host.ID, "a")

	_, _, err := f.svc.PatchAnswer(ctx, room.ID, q.ID, AnswerPatch{AnswerText: coupleplay.StringPtr("hi")})
	if !errors.Is(err, coupleplay.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestAddQuestionRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, host, _ := f.pair(t)
	other, otherHost, _ := f.pair(t)

	tests := []struct {
		name     string
		roomID   string
		authorID string
		text     string
		wantErr  error
	}{
		{"blank text", room.ID, host.ID, "   ", coupleplay.ErrInvalid},
		{"markup only", room.ID, host.ID, "<b></b>", coupleplay.ErrInvalid},
		{"author from other room", room.ID, otherHost.ID, "hi?", coupleplay.ErrNotFound},
		{"unknown room", "nope", host.ID, "hi?", coupleplay.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AddQuestion(ctx, tt.roomID, tt.authorID, tt.text)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	q, err := f.svc.AddQuestion(ctx, other.ID, otherHost.ID, "  <i>Tom &amp; Jerry</i>? ")
	if err != nil {
		t.Fatalf("AddQuestion: %v", err)
	}
	if q.Text != "Tom & Jerry?" {
		t.Errorf("text = %q, want sanitized", q.Text)
	}
	if q.AnsweringPlayerID != nil {
		t.Error("new question already has an answerer")
	}
}

func TestAddQuestionAfterCollect(t *testing.T) {
	f := newFixture(t)
	room, host, _ := f.startAnswering(t, "a")
	_, err := f.svc.AddQuestion(context.Background(), room.ID, host.ID, "late?")
	if !errors.Is(err, coupleplay.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestCreateRoomValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, _, err := f.svc.CreateRoom(ctx, CreateRoomInput{HostName: " "}); !errors.Is(err, coupleplay.ErrInvalid) {
		t.Errorf("blank name err = %v", err)
	}
	if _, _, err := f.svc.CreateRoom(ctx, CreateRoomInput{HostName: "Ana", Game: "chess"}); !errors.Is(err, coupleplay.ErrInvalid) {
		t.Errorf("unknown game err = %v", err)
	}

	room, host, err := f.svc.CreateRoom(ctx, CreateRoomInput{HostName: "Ana", HideQuestions: true})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room.Game != coupleplay.GameRandomQuestions || room.Stage != coupleplay.StageCollect || !room.HideQuestions {
		t.Errorf("room = %+v", room)
	}
	if got := room.ExpiresAt.Sub(room.CreatedAt); got != DefaultTTL {
		t.Errorf("ttl = %v, want %v", got, DefaultTTL)
	}
	if host.Role != coupleplay.RoleHost || host.RoomID != room.ID {
		t.Errorf("host = %+v", host)
	}
}

func TestIdeaMatchingStaysInCollect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, host, err := f.svc.CreateRoom(ctx, CreateRoomInput{HostName: "Ana", Game: string(coupleplay.GameIdeaMatching)})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	_, guest, _ := f.svc.JoinRoom(ctx, room.ID, "Leo")
	f.svc.SetStageOneDone(ctx, room.ID, host.ID, true)
	_, update, err := f.svc.SetStageOneDone(ctx, room.ID, guest.ID, true)
	if err != nil || update != nil {
		t.Fatalf("update = %+v, err = %v; want no transition", update, err)
	}
	got, _ := f.svc.Reconcile(ctx, room.ID)
	if got.Stage != coupleplay.StageCollect {
		t.Errorf("stage = %s, want collect", got.Stage)
	}
}

func TestReconcileRepairsMissedTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, host, guest := f.pair(t)
	q := f.addQuestion(t, room.ID, host.ID, "a")

	// Flags set behind the service's back, as if the triggering call died.
	f.svc.store.SetStageOneDone(ctx, room.ID, host.ID, true)
	f.svc.store.SetStageOneDone(ctx, room.ID, guest.ID, true)

	got, err := f.svc.Reconcile(ctx, room.ID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got.Stage != coupleplay.StageAnswer || *got.CurrentQuestionID != q.ID {
		t.Fatalf("room = %+v, want answer on %s", got, q.ID)
	}

	f.svc.store.MarkWriterDone(ctx, room.ID, q.ID, coupleplay.StringPtr("done"))
	f.svc.store.MarkReaderDone(ctx, room.ID, q.ID)

	got, err = f.svc.Reconcile(ctx, room.ID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got.Stage != coupleplay.StageReview || got.CurrentQuestionID != nil {
		t.Errorf("room = %+v, want review", got)
	}

	// Review is terminal.
	got, _ = f.svc.Reconcile(ctx, room.ID)
	if got.Stage != coupleplay.StageReview {
		t.Errorf("stage regressed to %s", got.Stage)
	}
}

func TestReconcileRepairsStaleCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, _, _ := f.startAnswering(t, "a", "b")
	snap, _ := f.svc.Snapshot(ctx, room.ID)
	first, second := snap.Questions[0], snap.Questions[1]

	f.svc.store.MarkWriterDone(ctx, room.ID, first.ID, coupleplay.StringPtr("x"))
	f.svc.store.MarkReaderDone(ctx, room.ID, first.ID)

	got, err := f.svc.Reconcile(ctx, room.ID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got.CurrentQuestionID == nil || *got.CurrentQuestionID != second.ID {
		t.Errorf("current = %v, want %s", got.CurrentQuestionID, second.ID)
	}
}

func TestStageNeverRegresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, _, _ := f.startAnswering(t, "a")

	if _, err := f.svc.moveRoom(ctx, room, coupleplay.StageAnswer, coupleplay.StageCollect, nil); !errors.Is(err, coupleplay.ErrConflict) {
		t.Errorf("answer -> collect err = %v, want ErrConflict", err)
	}
	got, _ := f.svc.store.GetRoom(ctx, room.ID)
	if got.Stage != coupleplay.StageAnswer {
		t.Errorf("stage = %s, want answer", got.Stage)
	}
}

func TestWritesPublishEvents(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	room, _, err := f.svc.CreateRoom(ctx, CreateRoomInput{HostName: "Ana"})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	events, _ := f.broker.Subscribe(ctx, room.ID)

	if _, _, err := f.svc.JoinRoom(ctx, room.ID, "Leo"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	select {
	case ev := <-events:
		if ev.Table != feed.TablePlayers || ev.Type != feed.TypeInsert || ev.Player.Name != "Leo" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event after join")
	}

	if _, _, err := f.svc.JoinRoom(ctx, room.ID, "Leonardo"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	select {
	case ev := <-events:
		if ev.Type != feed.TypeUpdate || ev.Player.Name != "Leonardo" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event after rejoin")
	}
}

func TestUnconfiguredStore(t *testing.T) {
	svc := NewService(store.Unconfigured{}, feed.NewBroker(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	if _, _, err := svc.CreateRoom(ctx, CreateRoomInput{HostName: "Ana"}); !errors.Is(err, coupleplay.ErrNotConfigured) {
		t.Errorf("CreateRoom err = %v", err)
	}
	if _, err := svc.Snapshot(ctx, "r1"); !errors.Is(err, coupleplay.ErrNotConfigured) {
		t.Errorf("Snapshot err = %v", err)
	}
	if _, err := svc.Reconcile(ctx, "r1"); !errors.Is(err, coupleplay.ErrNotConfigured) {
		t.Errorf("Reconcile err = %v", err)
	}
}
