package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"exam-session-service/internal/domain"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

// RecordStore persists performance records in Postgres via bun. Rows are
// insert-only except for the feedback column; a unique index on session_id
// backs up the one-record-per-attempt guarantee at the storage layer.
type RecordStore struct {
	db *bun.DB
}

func NewRecordStore(db *bun.DB) *RecordStore {
	return &RecordStore{db: db}
}

type recordRow struct {
	bun.BaseModel `bun:"table:performance_records,alias:pr"`

	ID                  string          `bun:"id,pk"`
	SessionID           string          `bun:"session_id,notnull"`
	TestID              string          `bun:"test_id,notnull"`
	UserID              string          `bun:"user_id,notnull"`
	TestName            string          `bun:"test_name"`
	PaperLabel          string          `bun:"paper_label"`
	TotalQuestions      int             `bun:"total_questions,notnull"`
	Score               float64         `bun:"score,notnull"`
	CorrectCount        int             `bun:"correct_count,notnull"`
	WrongCount          int             `bun:"wrong_count,notnull"`
	UnansweredCount     int             `bun:"unanswered_count,notnull"`
	Percentage          float64         `bun:"percentage,notnull"`
	TimeTakenMinutes    float64         `bun:"time_taken_minutes,notnull"`
	TimeAllottedMinutes int             `bun:"time_allotted_minutes,notnull"`
	TimeExpired         bool            `bun:"time_expired,notnull"`
	Grade               string          `bun:"grade"`
	Efficiency          string          `bun:"efficiency"`
	Weights             json.RawMessage `bun:"weights,type:jsonb"`
	Details             json.RawMessage `bun:"details,type:jsonb"`
	Feedback            json.RawMessage `bun:"feedback,type:jsonb,nullzero"`
	CreatedAt           time.Time       `bun:"created_at,notnull"`
}

// recordDetails is the jsonb blob holding the frozen per-question results
// and the derived analytics tallies.
type recordDetails struct {
	Questions         []domain.QuestionResult `json:"questions"`
	SubjectTallies    map[string]domain.Tally `json:"subjectTallies"`
	DifficultyTallies map[string]domain.Tally `json:"difficultyTallies"`
}

func (s *RecordStore) Insert(ctx context.Context, rec domain.PerformanceRecord) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().Model(&row).Exec(ctx)
	if isUniqueViolation(err) {
		// Another submit already produced this session's record.
		return domain.ErrSessionCompleted
	}
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *RecordStore) Get(ctx context.Context, recordID string) (domain.PerformanceRecord, error) {
	var row recordRow
	err := s.db.NewSelect().Model(&row).Where("pr.id = ?", recordID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PerformanceRecord{}, domain.ErrRecordNotFound
	}
	if err != nil {
		return domain.PerformanceRecord{}, fmt.Errorf("load record: %w", err)
	}
	return fromRow(row)
}

func (s *RecordStore) AttachFeedback(ctx context.Context, recordID string, fb domain.RecordFeedback) error {
	payload, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}
	res, err := s.db.NewUpdate().
		Model((*recordRow)(nil)).
		Set("feedback = ?", string(payload)).
		Where("id = ?", recordID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("attach feedback: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

func (s *RecordStore) ListByUser(ctx context.Context, userID string, limit int) ([]domain.PerformanceRecord, error) {
	var rows []recordRow
	err := s.db.NewSelect().Model(&rows).
		Where("pr.user_id = ?", userID).
		Order("pr.created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return fromRows(rows)
}

func (s *RecordStore) TopByTest(ctx context.Context, testID string, limit int) ([]domain.PerformanceRecord, error) {
	var rows []recordRow
	err := s.db.NewSelect().Model(&rows).
		Where("pr.test_id = ?", testID).
		Order("pr.score DESC").
		Order("pr.created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("rank records: %w", err)
	}
	return fromRows(rows)
}

func toRow(rec domain.PerformanceRecord) (recordRow, error) {
	weights, err := json.Marshal(rec.WeightsUsed)
	if err != nil {
		return recordRow{}, fmt.Errorf("marshal weights: %w", err)
	}
	details, err := json.Marshal(recordDetails{
		Questions:         rec.Questions,
		SubjectTallies:    rec.SubjectTallies,
		DifficultyTallies: rec.DifficultyTallies,
	})
	if err != nil {
		return recordRow{}, fmt.Errorf("marshal details: %w", err)
	}
	row := recordRow{
		ID:                  rec.ID,
		SessionID:           rec.SessionID,
		TestID:              rec.TestID,
		UserID:              rec.UserID,
		TestName:            rec.TestName,
		PaperLabel:          rec.PaperLabel,
		TotalQuestions:      rec.TotalQuestions,
		Score:               rec.Score,
		CorrectCount:        rec.CorrectCount,
		WrongCount:          rec.WrongCount,
		UnansweredCount:     rec.UnansweredCount,
		Percentage:          rec.Percentage,
		TimeTakenMinutes:    rec.TimeTakenMinutes,
		TimeAllottedMinutes: rec.TimeAllottedMinutes,
		TimeExpired:         rec.TimeExpired,
		Grade:               rec.Grade,
		Efficiency:          rec.Efficiency,
		Weights:             weights,
		Details:             details,
		CreatedAt:           rec.CreatedAt,
	}
	if rec.Feedback != nil {
		fb, err := json.Marshal(rec.Feedback)
		if err != nil {
			return recordRow{}, fmt.Errorf("marshal feedback: %w", err)
		}
		row.Feedback = fb
	}
	return row, nil
}

func fromRow(row recordRow) (domain.PerformanceRecord, error) {
	rec := domain.PerformanceRecord{
		ID:                  row.ID,
		SessionID:           row.SessionID,
		TestID:              row.TestID,
		UserID:              row.UserID,
		TestName:            row.TestName,
		PaperLabel:          row.PaperLabel,
		TotalQuestions:      row.TotalQuestions,
		Score:               row.Score,
		CorrectCount:        row.CorrectCount,
		WrongCount:          row.WrongCount,
		UnansweredCount:     row.UnansweredCount,
		Percentage:          row.Percentage,
		TimeTakenMinutes:    row.TimeTakenMinutes,
		TimeAllottedMinutes: row.TimeAllottedMinutes,
		TimeExpired:         row.TimeExpired,
		Grade:               row.Grade,
		Efficiency:          row.Efficiency,
		CreatedAt:           row.CreatedAt,
	}
	if len(row.Weights) > 0 {
		if err := json.Unmarshal(row.Weights, &rec.WeightsUsed); err != nil {
			return domain.PerformanceRecord{}, fmt.Errorf("unmarshal weights: %w", err)
		}
	}
	if len(row.Details) > 0 {
		var details recordDetails
		if err := json.Unmarshal(row.Details, &details); err != nil {
			return domain.PerformanceRecord{}, fmt.Errorf("unmarshal details: %w", err)
		}
		rec.Questions = details.Questions
		rec.SubjectTallies = details.SubjectTallies
		rec.DifficultyTallies = details.DifficultyTallies
	}
	if len(row.Feedback) > 0 {
		var fb domain.RecordFeedback
		if err := json.Unmarshal(row.Feedback, &fb); err != nil {
			return domain.PerformanceRecord{}, fmt.Errorf("unmarshal feedback: %w", err)
		}
		rec.Feedback = &fb
	}
	return rec, nil
}

func fromRows(rows []recordRow) ([]domain.PerformanceRecord, error) {
	out := make([]domain.PerformanceRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}
