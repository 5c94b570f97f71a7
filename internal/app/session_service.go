package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"exam-session-service/internal/domain"

	"github.com/google/uuid"
)

// DefaultGracePeriod is how long past its nominal duration a stale,
// unsubmitted session may still be resumed instead of replaced.
const DefaultGracePeriod = 30 * time.Minute

// SessionStore abstracts how attempt state is stored (in-memory, Redis, etc).
// Create must be an atomic conditional insert: it fails with
// ErrActiveSessionExists when an unfinished session already exists for the
// same (user, test) pair. Finalize must be a conditional update that only
// succeeds while the stored session is still uncompleted.
type SessionStore interface {
	Create(ctx context.Context, sess domain.Session) error
	Get(ctx context.Context, sessionID string) (domain.Session, error)
	FindActive(ctx context.Context, userID, testID string) (domain.Session, bool, error)
	Finalize(ctx context.Context, sess domain.Session) error
	Reopen(ctx context.Context, sess domain.Session) error
}

// TestRepository loads test definitions from the externally owned store.
type TestRepository interface {
	GetTest(ctx context.Context, testID string) (domain.TestDefinition, error)
}

// RecordStore persists immutable performance records and the reads built on
// top of them.
type RecordStore interface {
	Insert(ctx context.Context, rec domain.PerformanceRecord) error
	Get(ctx context.Context, recordID string) (domain.PerformanceRecord, error)
	AttachFeedback(ctx context.Context, recordID string, fb domain.RecordFeedback) error
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.PerformanceRecord, error)
	TopByTest(ctx context.Context, testID string, limit int) ([]domain.PerformanceRecord, error)
}

// SessionService orchestrates the attempt lifecycle: start/resume, submit,
// voluntary end, and the derived status view.
type SessionService struct {
	sessions SessionStore
	tests    TestRepository
	records  RecordStore
	grace    time.Duration
	now      func() time.Time
	newID    func() string
}

func NewSessionService(sessions SessionStore, tests TestRepository, records RecordStore, grace time.Duration) *SessionService {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &SessionService{
		sessions: sessions,
		tests:    tests,
		records:  records,
		grace:    grace,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// NewSessionServiceWithClock is test-only for deterministic timestamps.
func NewSessionServiceWithClock(sessions SessionStore, tests TestRepository, records RecordStore, grace time.Duration, now func() time.Time) *SessionService {
	s := NewSessionService(sessions, tests, records, grace)
	s.now = now
	return s
}

// StartResult is the response to a start call.
type StartResult struct {
	SessionID            string  `json:"sessionId"`
	DurationMinutes      int     `json:"durationMinutes"`
	TimeRemainingMinutes float64 `json:"timeRemaining"`
	Resuming             bool    `json:"resuming"`
}

// SubmitResult carries the score plus the derived display fields.
type SubmitResult struct {
	RecordID         string           `json:"recordId"`
	WeightedScore    float64          `json:"weightedScore"`
	Percentage       float64          `json:"percentage"`
	Breakdown        domain.Breakdown `json:"breakdown"`
	TimeTakenMinutes float64          `json:"timeTakenMinutes"`
	TimeExpired      bool             `json:"timeExpired"`
	Grade            string           `json:"grade"`
	Efficiency       string           `json:"efficiency"`
}

// StatusResult is the derived, never-persisted view of an attempt's clock.
type StatusResult struct {
	TimeRemainingMinutes float64 `json:"timeRemaining"`
	TimeExpired          bool    `json:"timeExpired"`
	Completed            bool    `json:"completed"`
}

// Start opens a new attempt or resumes an unfinished one. An unfinished
// session within duration+grace of its start is resumed; a staler one is
// closed out as expired (without a record) and replaced.
func (s *SessionService) Start(ctx context.Context, testID, userID string) (StartResult, error) {
	def, err := s.tests.GetTest(ctx, testID)
	if err != nil {
		return StartResult{}, err
	}
	if !def.Active {
		return StartResult{}, domain.ErrTestInactive
	}

	existing, found, err := s.sessions.FindActive(ctx, userID, testID)
	if err != nil {
		return StartResult{}, err
	}
	if found {
		if s.withinResumeWindow(existing) {
			return s.resumeResult(existing), nil
		}
		if err := s.expireStale(ctx, existing); err != nil {
			return StartResult{}, err
		}
	}

	return s.create(ctx, def, userID, true)
}

func (s *SessionService) create(ctx context.Context, def domain.TestDefinition, userID string, retry bool) (StartResult, error) {
	sess := domain.Session{
		ID:              s.newID(),
		TestID:          def.ID,
		UserID:          userID,
		StartTime:       s.now(),
		DurationMinutes: def.DurationMinutes,
		Answers:         map[int]string{},
	}
	err := s.sessions.Create(ctx, sess)
	if err == nil {
		return StartResult{
			SessionID:            sess.ID,
			DurationMinutes:      def.DurationMinutes,
			TimeRemainingMinutes: float64(def.DurationMinutes),
		}, nil
	}
	// A concurrent start may have won the active-session slot. Retry once by
	// resuming whatever it created before surfacing the conflict.
	if errors.Is(err, domain.ErrActiveSessionExists) && retry {
		winner, found, ferr := s.sessions.FindActive(ctx, userID, def.ID)
		if ferr != nil {
			return StartResult{}, ferr
		}
		if found && s.withinResumeWindow(winner) {
			return s.resumeResult(winner), nil
		}
		return s.create(ctx, def, userID, false)
	}
	return StartResult{}, err
}

// Submit scores an attempt, finalizes the session, and writes exactly one
// performance record. The session finalize is the atomic claim: of two
// racing submits only one can pass it, so only one record is ever written.
func (s *SessionService) Submit(ctx context.Context, sessionID string, answers []domain.Answer, clientTimeExpired bool) (SubmitResult, error) {
	answerMap, timeSpent, err := normalizeAnswers(answers)
	if err != nil {
		return SubmitResult{}, err
	}

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return SubmitResult{}, err
	}
	if sess.Completed {
		return SubmitResult{}, domain.ErrSessionCompleted
	}

	def, err := s.tests.GetTest(ctx, sess.TestID)
	if err != nil {
		return SubmitResult{}, err
	}
	def.Weights = def.Weights.Normalize()

	now := s.now()
	elapsedMinutes := roundTo(now.Sub(sess.StartTime).Minutes(), 2)
	// The client flag is a UX hint; the server clock is authoritative and
	// expiry never changes the score.
	timeExpired := elapsedMinutes > float64(sess.DurationMinutes) || clientTimeExpired

	result := ScoreAttempt(def, answerMap, timeSpent)

	original := sess
	sess.Answers = answerMap
	sess.Score = &result.WeightedScore
	sess.Completed = true
	sess.TimeExpired = timeExpired
	sess.EndTime = &now

	if err := s.sessions.Finalize(ctx, sess); err != nil {
		return SubmitResult{}, err
	}

	rec := s.buildRecord(def, sess, result, elapsedMinutes)
	if err := s.records.Insert(ctx, rec); err != nil {
		// Roll the claim back so the attempt is not left scored without a record.
		if rerr := s.sessions.Reopen(ctx, original); rerr != nil {
			return SubmitResult{}, fmt.Errorf("store record: %w (session reopen also failed: %v)", err, rerr)
		}
		return SubmitResult{}, fmt.Errorf("store record: %w", err)
	}

	return SubmitResult{
		RecordID:         rec.ID,
		WeightedScore:    result.WeightedScore,
		Percentage:       result.Percentage,
		Breakdown:        result.Breakdown,
		TimeTakenMinutes: elapsedMinutes,
		TimeExpired:      timeExpired,
		Grade:            rec.Grade,
		Efficiency:       rec.Efficiency,
	}, nil
}

// End is a voluntary abandonment: the session closes unscored and no
// performance record is created.
func (s *SessionService) End(ctx context.Context, sessionID, userID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return domain.ErrNotSessionOwner
	}
	if sess.Completed {
		return domain.ErrSessionCompleted
	}
	now := s.now()
	sess.Completed = true
	sess.TimeExpired = true
	sess.EndTime = &now
	return s.sessions.Finalize(ctx, sess)
}

// Status computes the remaining time on the fly; expiry is only ever
// detected lazily here or at submit, never pushed by a timer.
func (s *SessionService) Status(ctx context.Context, sessionID string) (StatusResult, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return StatusResult{}, err
	}
	if sess.Completed {
		return StatusResult{TimeExpired: sess.TimeExpired, Completed: true}, nil
	}
	elapsed := s.now().Sub(sess.StartTime).Minutes()
	remaining := float64(sess.DurationMinutes) - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return StatusResult{
		TimeRemainingMinutes: roundTo(remaining, 2),
		TimeExpired:          elapsed > float64(sess.DurationMinutes),
	}, nil
}

// Record returns one performance record by id.
func (s *SessionService) Record(ctx context.Context, recordID string) (domain.PerformanceRecord, error) {
	return s.records.Get(ctx, recordID)
}

// History lists a user's records, newest first.
func (s *SessionService) History(ctx context.Context, userID string, limit int) ([]domain.PerformanceRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.records.ListByUser(ctx, userID, limit)
}

// Leaderboard ranks records for one test by weighted score.
func (s *SessionService) Leaderboard(ctx context.Context, testID string, limit int) ([]domain.PerformanceRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.records.TopByTest(ctx, testID, limit)
}

// AttachFeedback lets the attempt taker rate a finished attempt. This is the
// only mutation a record admits after creation.
func (s *SessionService) AttachFeedback(ctx context.Context, recordID, userID string, rating int, comments string) error {
	if rating < 1 || rating > 5 {
		return domain.ErrInvalidRating
	}
	rec, err := s.records.Get(ctx, recordID)
	if err != nil {
		return err
	}
	if rec.UserID != userID {
		return domain.ErrNotRecordOwner
	}
	return s.records.AttachFeedback(ctx, recordID, domain.RecordFeedback{
		Rating:    rating,
		Comments:  comments,
		CreatedAt: s.now(),
	})
}

func (s *SessionService) withinResumeWindow(sess domain.Session) bool {
	deadline := sess.StartTime.Add(time.Duration(sess.DurationMinutes)*time.Minute + s.grace)
	return !s.now().After(deadline)
}

func (s *SessionService) resumeResult(sess domain.Session) StartResult {
	remaining := float64(sess.DurationMinutes) - s.now().Sub(sess.StartTime).Minutes()
	if remaining < 0 {
		remaining = 0
	}
	return StartResult{
		SessionID:            sess.ID,
		DurationMinutes:      sess.DurationMinutes,
		TimeRemainingMinutes: roundTo(remaining, 2),
		Resuming:             true,
	}
}

func (s *SessionService) expireStale(ctx context.Context, sess domain.Session) error {
	now := s.now()
	sess.Completed = true
	sess.TimeExpired = true
	sess.EndTime = &now
	err := s.sessions.Finalize(ctx, sess)
	// A concurrent call may have closed it already; the slot is free either way.
	if errors.Is(err, domain.ErrSessionCompleted) {
		return nil
	}
	return err
}

func (s *SessionService) buildRecord(def domain.TestDefinition, sess domain.Session, result domain.ScoreResult, elapsedMinutes float64) domain.PerformanceRecord {
	subjects, difficulties := TallyResults(result.Questions)
	return domain.PerformanceRecord{
		ID:                  s.newID(),
		SessionID:           sess.ID,
		TestID:              def.ID,
		UserID:              sess.UserID,
		TestName:            def.Name,
		PaperLabel:          def.PaperLabel,
		TotalQuestions:      result.Breakdown.Total,
		Score:               result.WeightedScore,
		CorrectCount:        result.Breakdown.Correct,
		WrongCount:          result.Breakdown.Wrong,
		UnansweredCount:     result.Breakdown.Unanswered,
		Percentage:          result.Percentage,
		TimeTakenMinutes:    elapsedMinutes,
		TimeAllottedMinutes: sess.DurationMinutes,
		TimeExpired:         sess.TimeExpired,
		WeightsUsed:         def.Weights,
		Grade:               GradeFor(result.Percentage),
		Efficiency:          EfficiencyFor(elapsedMinutes, float64(sess.DurationMinutes)),
		Questions:           result.Questions,
		SubjectTallies:      subjects,
		DifficultyTallies:   difficulties,
		CreatedAt:           s.now(),
	}
}

// normalizeAnswers turns the submitted list into the lookup maps scoring
// uses. Option keys are case-folded and must be a single letter a..d; an
// index outside the test's range is untrusted client input and is left for
// scoring to ignore. A repeated index keeps the last submission.
func normalizeAnswers(answers []domain.Answer) (map[int]string, map[int]int, error) {
	answerMap := make(map[int]string, len(answers))
	timeSpent := make(map[int]int, len(answers))
	for _, a := range answers {
		opt := strings.ToLower(strings.TrimSpace(a.Option))
		if opt == "" {
			continue
		}
		if len(opt) != 1 || opt[0] < 'a' || opt[0] > 'd' {
			return nil, nil, fmt.Errorf("%w: question %d option %q", domain.ErrInvalidAnswer, a.QuestionIndex, a.Option)
		}
		answerMap[a.QuestionIndex] = opt
		if a.TimeSpentSeconds > 0 {
			timeSpent[a.QuestionIndex] = a.TimeSpentSeconds
		}
	}
	return answerMap, timeSpent, nil
}
