package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/coupleplay/rooms/internal/coupleplay"
)

type roomRow struct {
	ID                string    `gorm:"primaryKey;size:36"`
	Game              string    `gorm:"size:32;not null"`
	HideQuestions     bool      `gorm:"not null;default:false"`
	Stage             string    `gorm:"size:16;not null"`
	CurrentQuestionID *string   `gorm:"size:36"`
	CreatedAt         time.Time `gorm:"not null"`
	ExpiresAt         time.Time `gorm:"not null;index"`
}

func (roomRow) TableName() string { return "rooms" }

type playerRow struct {
	ID           string    `gorm:"primaryKey;size:36"`
	RoomID       string    `gorm:"size:36;not null;uniqueIndex:idx_players_room_role"`
	Name         string    `gorm:"size:64;not null"`
	Role         string    `gorm:"size:8;not null;uniqueIndex:idx_players_room_role"`
	StageOneDone bool      `gorm:"not null;default:false"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (playerRow) TableName() string { return "players" }

type questionRow struct {
	ID                string    `gorm:"primaryKey;size:36"`
	RoomID            string    `gorm:"size:36;not null;index:idx_questions_room_created"`
	AuthorID          string    `gorm:"size:36;not null"`
	Text              string    `gorm:"size:500;not null"`
	AnsweringPlayerID *string   `gorm:"size:36"`
	AnswerText        *string   `gorm:"type:text"`
	WriterDone        bool      `gorm:"not null;default:false"`
	ReaderDone        bool      `gorm:"not null;default:false"`
	CreatedAt         time.Time `gorm:"not null;index:idx_questions_room_created"`
}

func (questionRow) TableName() string { return "questions" }

// Postgres implements Store with GORM for deployments that share one
// database between several server instances.
type Postgres struct {
	db *gorm.DB
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects using dsn and migrates the room tables.
func OpenPostgres(dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := conn.AutoMigrate(&roomRow{}, &playerRow{}, &questionRow{}); err != nil {
		return nil, fmt.Errorf("migrating postgres: %w", err)
	}
	return &Postgres{db: conn}, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Postgres) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Postgres) CreateRoom(ctx context.Context, room coupleplay.Room, host coupleplay.Player) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := toRoomRow(room)
		if err := tx.Create(&r).Error; err != nil {
			return fmt.Errorf("inserting room: %w", err)
		}
		p := toPlayerRow(host)
		if err := tx.Create(&p).Error; err != nil {
			return fmt.Errorf("inserting host: %w", err)
		}
		return nil
	})
}

func (s *Postgres) GetRoom(ctx context.Context, roomID string) (coupleplay.Room, error) {
	var r roomRow
	if err := s.db.WithContext(ctx).First(&r, "id = ?", roomID).Error; err != nil {
		return coupleplay.Room{}, notFound(err)
	}
	return r.domain(), nil
}

func (s *Postgres) UpdateRoomStage(ctx context.Context, roomID string, from, to coupleplay.Stage, currentQuestionID *string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&roomRow{}).
		Where("id = ? AND stage = ?", roomID, string(from)).
		Updates(map[string]any{"stage": string(to), "current_question_id": currentQuestionID})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Postgres) ListPlayers(ctx context.Context, roomID string) ([]coupleplay.Player, error) {
	var rows []playerRow
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	players := make([]coupleplay.Player, 0, len(rows))
	for _, r := range rows {
		players = append(players, r.domain())
	}
	return players, nil
}

func (s *Postgres) GetPlayer(ctx context.Context, roomID, playerID string) (coupleplay.Player, error) {
	var p playerRow
	if err := s.db.WithContext(ctx).First(&p, "id = ? AND room_id = ?", playerID, roomID).Error; err != nil {
		return coupleplay.Player{}, notFound(err)
	}
	return p.domain(), nil
}

func (s *Postgres) UpsertGuest(ctx context.Context, guest coupleplay.Player) (coupleplay.Player, error) {
	var out playerRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toPlayerRow(guest)
		row.Role = string(coupleplay.RoleGuest)
		row.StageOneDone = false
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "role"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
		return tx.First(&out, "room_id = ? AND role = ?", guest.RoomID, string(coupleplay.RoleGuest)).Error
	})
	if err != nil {
		return coupleplay.Player{}, notFound(err)
	}
	return out.domain(), nil
}

func (s *Postgres) SetStageOneDone(ctx context.Context, roomID, playerID string, done bool) (coupleplay.Player, error) {
	res := s.db.WithContext(ctx).Model(&playerRow{}).
		Where("id = ? AND room_id = ?", playerID, roomID).
		Update("stage_one_done", done)
	if res.Error != nil {
		return coupleplay.Player{}, res.Error
	}
	if res.RowsAffected == 0 {
		return coupleplay.Player{}, coupleplay.ErrNotFound
	}
	return s.GetPlayer(ctx, roomID, playerID)
}

func (s *Postgres) CreateQuestion(ctx context.Context, q coupleplay.Question) error {
	row := toQuestionRow(q)
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Postgres) GetQuestion(ctx context.Context, roomID, questionID string) (coupleplay.Question, error) {
	var q questionRow
	if err := s.db.WithContext(ctx).First(&q, "id = ? AND room_id = ?", questionID, roomID).Error; err != nil {
		return coupleplay.Question{}, notFound(err)
	}
	return q.domain(), nil
}

func (s *Postgres) ListQuestions(ctx context.Context, roomID string) ([]coupleplay.Question, error) {
	var rows []questionRow
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	questions := make([]coupleplay.Question, 0, len(rows))
	for _, r := range rows {
		questions = append(questions, r.domain())
	}
	return questions, nil
}

func (s *Postgres) AssignAnswerers(ctx context.Context, roomID string, plan []coupleplay.Assignment) (int, error) {
	if len(plan) == 0 {
		return 0, nil
	}
	assigned := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, a := range plan {
			res := tx.Model(&questionRow{}).
				Where("id = ? AND room_id = ? AND answering_player_id IS NULL", a.QuestionID, roomID).
				Update("answering_player_id", a.PlayerID)
			if res.Error != nil {
				return fmt.Errorf("assigning question %s: %w", a.QuestionID, res.Error)
			}
			assigned += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return assigned, nil
}

func (s *Postgres) UpdateAnswerText(ctx context.Context, roomID, questionID, text string) (coupleplay.Question, error) {
	res := s.db.WithContext(ctx).Model(&questionRow{}).
		Where("id = ? AND room_id = ? AND writer_done = ?", questionID, roomID, false).
		Update("answer_text", text)
	if res.Error != nil {
		return coupleplay.Question{}, res.Error
	}
	q, err := s.GetQuestion(ctx, roomID, questionID)
	if err != nil {
		return coupleplay.Question{}, err
	}
	if res.RowsAffected == 0 {
		return coupleplay.Question{}, fmt.Errorf("%w: answer already submitted", coupleplay.ErrConflict)
	}
	return q, nil
}

func (s *Postgres) MarkWriterDone(ctx context.Context, roomID, questionID string, text *string) (coupleplay.Question, bool, error) {
	tx := s.db.WithContext(ctx).Model(&questionRow{}).
		Where("id = ? AND room_id = ? AND writer_done = ?", questionID, roomID, false)
	updates := map[string]any{"writer_done": true}
	if text != nil {
		if strings.TrimSpace(*text) == "" {
			q, err := s.GetQuestion(ctx, roomID, questionID)
			return q, false, err
		}
		updates["answer_text"] = *text
	} else {
		tx = tx.Where("TRIM(COALESCE(answer_text, '')) <> ''")
	}
	res := tx.Updates(updates)
	if res.Error != nil {
		return coupleplay.Question{}, false, res.Error
	}
	q, err := s.GetQuestion(ctx, roomID, questionID)
	return q, res.RowsAffected > 0, err
}

func (s *Postgres) MarkReaderDone(ctx context.Context, roomID, questionID string) (coupleplay.Question, bool, error) {
	res := s.db.WithContext(ctx).Model(&questionRow{}).
		Where("id = ? AND room_id = ? AND reader_done = ?", questionID, roomID, false).
		Update("reader_done", true)
	if res.Error != nil {
		return coupleplay.Question{}, false, res.Error
	}
	q, err := s.GetQuestion(ctx, roomID, questionID)
	return q, res.RowsAffected > 0, err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return coupleplay.ErrNotFound
	}
	return err
}

func toRoomRow(r coupleplay.Room) roomRow {
	return roomRow{
		ID:                r.ID,
		Game:              string(r.Game),
		HideQuestions:     r.HideQuestions,
		Stage:             string(r.Stage),
		CurrentQuestionID: r.CurrentQuestionID,
		CreatedAt:         r.CreatedAt.UTC(),
		ExpiresAt:         r.ExpiresAt.UTC(),
	}
}

func (r roomRow) domain() coupleplay.Room {
	return coupleplay.Room{
		ID:                r.ID,
		Game:              coupleplay.Game(r.Game),
		HideQuestions:     r.HideQuestions,
		Stage:             coupleplay.Stage(r.Stage),
		CurrentQuestionID: r.CurrentQuestionID,
		CreatedAt:         r.CreatedAt.UTC(),
		ExpiresAt:         r.ExpiresAt.UTC(),
	}
}

func toPlayerRow(p coupleplay.Player) playerRow {
	return playerRow{
		ID:           p.ID,
		RoomID:       p.RoomID,
		Name:         p.Name,
		Role:         string(p.Role),
		StageOneDone: p.StageOneDone,
		CreatedAt:    p.CreatedAt.UTC(),
	}
}

func (p playerRow) domain() coupleplay.Player {
	return coupleplay.Player{
		ID:           p.ID,
		RoomID:       p.RoomID,
		Name:         p.Name,
		Role:         coupleplay.Role(p.Role),
		StageOneDone: p.StageOneDone,
		CreatedAt:    p.CreatedAt.UTC(),
	}
}

func toQuestionRow(q coupleplay.Question) questionRow {
	return questionRow{
		ID:                q.ID,
		RoomID:            q.RoomID,
		AuthorID:          q.AuthorID,
		Text:              q.Text,
		AnsweringPlayerID: q.AnsweringPlayerID,
		AnswerText:        q.AnswerText,
		WriterDone:        q.WriterDone,
		ReaderDone:        q.ReaderDone,
		CreatedAt:         q.CreatedAt.UTC(),
	}
}

func (q questionRow) domain() coupleplay.Question {
	return coupleplay.Question{
		ID:                q.ID,
		RoomID:            q.RoomID,
		AuthorID:          q.AuthorID,
		Text:              q.Text,
		AnsweringPlayerID: q.AnsweringPlayerID,
		AnswerText:        q.AnswerText,
		WriterDone:        q.WriterDone,
		ReaderDone:        q.ReaderDone,
		CreatedAt:         q.CreatedAt.UTC(),
	}
}
