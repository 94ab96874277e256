package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coupleplay/rooms/internal/coupleplay"
)

// timeLayout is fixed width so text comparison in ORDER BY matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const (
	roomColumns     = `id, game, hide_questions, stage, current_question_id, created_at, expires_at`
	playerColumns   = `id, room_id, name, role, stage_one_done, created_at`
	questionColumns = `id, room_id, author_id, text, answering_player_id, answer_text, writer_done, reader_done, created_at`
)

type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) CreateRoom(ctx context.Context, room coupleplay.Room, host coupleplay.Player) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rooms (`+roomColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, room.ID, string(room.Game), boolInt(room.HideQuestions), string(room.Stage),
		nullString(room.CurrentQuestionID), formatTime(room.CreatedAt), formatTime(room.ExpiresAt))
	if err != nil {
		return fmt.Errorf("inserting room: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO players (`+playerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`, host.ID, host.RoomID, host.Name, string(host.Role), boolInt(host.StageOneDone), formatTime(host.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting host: %w", err)
	}

	return tx.Commit()
}

func (s *SQLite) GetRoom(ctx context.Context, roomID string) (coupleplay.Room, error) {
	return scanRoom(s.db.QueryRowContext(ctx, `
		SELECT `+roomColumns+` FROM rooms WHERE id = ?
	`, roomID))
}

func (s *SQLite) UpdateRoomStage(ctx context.Context, roomID string, from, to coupleplay.Stage, currentQuestionID *string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET stage = ?, current_question_id = ?
		WHERE id = ? AND stage = ?
	`, string(to), nullString(currentQuestionID), roomID, string(from))
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (s *SQLite) ListPlayers(ctx context.Context, roomID string) ([]coupleplay.Player, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+playerColumns+` FROM players
		WHERE room_id = ?
		ORDER BY created_at, id
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	players := []coupleplay.Player{}
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (s *SQLite) GetPlayer(ctx context.Context, roomID, playerID string) (coupleplay.Player, error) {
	return scanPlayer(s.db.QueryRowContext(ctx, `
		SELECT `+playerColumns+` FROM players WHERE id = ? AND room_id = ?
	`, playerID, roomID))
}

func (s *SQLite) UpsertGuest(ctx context.Context, guest coupleplay.Player) (coupleplay.Player, error) {
	return scanPlayer(s.db.QueryRowContext(ctx, `
		INSERT INTO players (`+playerColumns+`)
		VALUES (?, ?, ?, 'guest', 0, ?)
		ON CONFLICT (room_id, role) DO UPDATE SET name = excluded.name
		RETURNING `+playerColumns,
		guest.ID, guest.RoomID, guest.Name, formatTime(guest.CreatedAt)))
}

func (s *SQLite) SetStageOneDone(ctx context.Context, roomID, playerID string, done bool) (coupleplay.Player, error) {
	return scanPlayer(s.db.QueryRowContext(ctx, `
		UPDATE players SET stage_one_done = ?
		WHERE id = ? AND room_id = ?
		RETURNING `+playerColumns,
		boolInt(done), playerID, roomID))
}

func (s *SQLite) CreateQuestion(ctx context.Context, q coupleplay.Question) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO questions (`+questionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, q.ID, q.RoomID, q.AuthorID, q.Text, nullString(q.AnsweringPlayerID), nullString(q.AnswerText),
		boolInt(q.WriterDone), boolInt(q.ReaderDone), formatTime(q.CreatedAt))
	return err
}

func (s *SQLite) GetQuestion(ctx context.Context, roomID, questionID string) (coupleplay.Question, error) {
	return scanQuestion(s.db.QueryRowContext(ctx, `
		SELECT `+questionColumns+` FROM questions WHERE id = ? AND room_id = ?
	`, questionID, roomID))
}

func (s *SQLite) ListQuestions(ctx context.Context, roomID string) ([]coupleplay.Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+questionColumns+` FROM questions
		WHERE room_id = ?
		ORDER BY created_at, id
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := []coupleplay.Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (s *SQLite) AssignAnswerers(ctx context.Context, roomID string, plan []coupleplay.Assignment) (int, error) {
	if len(plan) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	assigned := 0
	for _, a := range plan {
		result, err := tx.ExecContext(ctx, `
			UPDATE questions SET answering_player_id = ?
			WHERE id = ? AND room_id = ? AND answering_player_id IS NULL
		`, a.PlayerID, a.QuestionID, roomID)
		if err != nil {
			return 0, fmt.Errorf("assigning question %s: %w", a.QuestionID, err)
		}
		n, _ := result.RowsAffected()
		assigned += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return assigned, nil
}

func (s *SQLite) UpdateAnswerText(ctx context.Context, roomID, questionID, text string) (coupleplay.Question, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx, `
		UPDATE questions SET answer_text = ?
		WHERE id = ? AND room_id = ? AND writer_done = 0
		RETURNING `+questionColumns,
		text, questionID, roomID))
	if !errors.Is(err, coupleplay.ErrNotFound) {
		return q, err
	}
	// Either the question is missing or the answer was already submitted.
	if _, err := s.GetQuestion(ctx, roomID, questionID); err != nil {
		return coupleplay.Question{}, err
	}
	return coupleplay.Question{}, fmt.Errorf("%w: answer already submitted", coupleplay.ErrConflict)
}

func (s *SQLite) MarkWriterDone(ctx context.Context, roomID, questionID string, text *string) (coupleplay.Question, bool, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx, `
		UPDATE questions SET writer_done = 1, answer_text = COALESCE(?, answer_text)
		WHERE id = ? AND room_id = ? AND writer_done = 0
		  AND TRIM(COALESCE(?, answer_text, '')) <> ''
		RETURNING `+questionColumns,
		nullString(text), questionID, roomID, nullString(text)))
	if err == nil {
		return q, true, nil
	}
	if !errors.Is(err, coupleplay.ErrNotFound) {
		return q, false, err
	}
	q, err = s.GetQuestion(ctx, roomID, questionID)
	return q, false, err
}

func (s *SQLite) MarkReaderDone(ctx context.Context, roomID, questionID string) (coupleplay.Question, bool, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx, `
		UPDATE questions SET reader_done = 1
		WHERE id = ? AND room_id = ? AND reader_done = 0
		RETURNING `+questionColumns,
		questionID, roomID))
	if err == nil {
		return q, true, nil
	}
	if !errors.Is(err, coupleplay.ErrNotFound) {
		return q, false, err
	}
	q, err = s.GetQuestion(ctx, roomID, questionID)
	return q, false, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(row scanner) (coupleplay.Room, error) {
	var (
		r                    coupleplay.Room
		game, stage          string
		current              sql.NullString
		createdAt, expiresAt string
	)
	err := row.Scan(&r.ID, &game, &r.HideQuestions, &stage, &current, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, coupleplay.ErrNotFound
	}
	if err != nil {
		return r, err
	}
	r.Game = coupleplay.Game(game)
	r.Stage = coupleplay.Stage(stage)
	r.CurrentQuestionID = stringPtr(current)
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return r, err
	}
	r.ExpiresAt, err = parseTime(expiresAt)
	return r, err
}

func scanPlayer(row scanner) (coupleplay.Player, error) {
	var (
		p         coupleplay.Player
		role      string
		createdAt string
	)
	err := row.Scan(&p.ID, &p.RoomID, &p.Name, &role, &p.StageOneDone, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, coupleplay.ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Role = coupleplay.Role(role)
	p.CreatedAt, err = parseTime(createdAt)
	return p, err
}

func scanQuestion(row scanner) (coupleplay.Question, error) {
	var (
		q                coupleplay.Question
		answerer, answer sql.NullString
		createdAt        string
	)
	err := row.Scan(&q.ID, &q.RoomID, &q.AuthorID, &q.Text, &answerer, &answer, &q.WriterDone, &q.ReaderDone, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return q, coupleplay.ErrNotFound
	}
	if err != nil {
		return q, err
	}
	q.AnsweringPlayerID = stringPtr(answerer)
	q.AnswerText = stringPtr(answer)
	q.CreatedAt, err = parseTime(createdAt)
	return q, err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime accepts the written layout as well as the same instant with
// trailing zero digits trimmed, which is how the driver may hand it back.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return t, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
