package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"exam-session-service/internal/app"
	"exam-session-service/internal/domain"
	"exam-session-service/internal/infra/memory"
)

func TestStartCreatesSession(t *testing.T) {
	h := newHarness(t)

	result, err := h.service.Start(h.ctx, "test-1", "u1")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if result.Resuming {
		t.Fatalf("expected fresh session, got resuming")
	}
	if result.DurationMinutes != 30 || result.TimeRemainingMinutes != 30 {
		t.Fatalf("unexpected timing %+v", result)
	}
	if result.SessionID == "" {
		t.Fatalf("expected session id")
	}
}

func TestStartResumesWithinGraceWindow(t *testing.T) {
	h := newHarness(t)

	first, err := h.service.Start(h.ctx, "test-1", "u1")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Past the duration but inside duration+grace.
	h.clock.Advance(40 * time.Minute)

	second, err := h.service.Start(h.ctx, "test-1", "u1")
	if err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if !second.Resuming {
		t.Fatalf("expected resume, got fresh session")
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("expected same session id, got %s vs %s", second.SessionID, first.SessionID)
	}
	if second.TimeRemainingMinutes != 0 {
		t.Fatalf("expected no time remaining, got %v", second.TimeRemainingMinutes)
	}
}

func TestStartReplacesStaleSessionWithoutRecord(t *testing.T) {
	h := newHarness(t)

	first, err := h.service.Start(h.ctx, "test-1", "u1")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Past duration+grace: the old attempt is dead.
	h.clock.Advance(61 * time.Minute)

	second, err := h.service.Start(h.ctx, "test-1", "u1")
	if err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if second.Resuming {
		t.Fatalf("expected fresh session after grace elapsed")
	}
	if second.SessionID == first.SessionID {
		t.Fatalf("expected a new session id")
	}

	old, err := h.sessions.Get(h.ctx, first.SessionID)
	if err != nil {
		t.Fatalf("old session gone: %v", err)
	}
	if !old.Completed || !old.TimeExpired || old.Score != nil {
		t.Fatalf("expected old session expired unscored, got %+v", old)
	}

	history, err := h.service.History(h.ctx, "u1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("stale rollover must not create a record, got %d", len(history))
	}
}

func TestSubmitScoresAndWritesRecord(t *testing.T) {
	h := newHarness(t)

	start, err := h.service.Start(h.ctx, "test-1", "u1")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h.clock.Advance(10 * time.Minute)

	result, err := h.service.Submit(h.ctx, start.SessionID, workedExampleAnswers(), false)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if result.WeightedScore != 11 || result.Percentage != 60.0 {
		t.Fatalf("unexpected score %+v", result)
	}
	if result.Breakdown.Correct != 3 || result.Breakdown.Wrong != 1 || result.Breakdown.Unanswered != 1 {
		t.Fatalf("unexpected breakdown %+v", result.Breakdown)
	}
	if result.TimeTakenMinutes != 10 || result.TimeExpired {
		t.Fatalf("unexpected timing %+v", result)
	}
	if result.Grade != "C" || result.Efficiency != "excellent" {
		t.Fatalf("unexpected derived fields %+v", result)
	}

	rec, err := h.service.Record(h.ctx, result.RecordID)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.SessionID != start.SessionID || rec.UserID != "u1" {
		t.Fatalf("record misattributed: %+v", rec)
	}
	if rec.WeightsUsed != (domain.ScoringWeights{Correct: 4, Wrong: -1, Unanswered: 0}) {
		t.Fatalf("weights not snapshotted: %+v", rec.WeightsUsed)
	}
	if len(rec.Questions) != 5 {
		t.Fatalf("expected per-question detail for all 5 questions, got %d", len(rec.Questions))
	}
	if rec.SubjectTallies["algebra"].Total != 3 {
		t.Fatalf("missing subject analytics: %+v", rec.SubjectTallies)
	}

	sess, err := h.sessions.Get(h.ctx, start.SessionID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if !sess.Completed || sess.Score == nil || *sess.Score != 11 {
		t.Fatalf("session not finalized: %+v", sess)
	}
}

func TestSubmitTwiceReturnsConflict(t *testing.T) {
	h := newHarness(t)

	start, _ := h.service.Start(h.ctx, "test-1", "u1")
	first, err := h.service.Submit(h.ctx, start.SessionID, workedExampleAnswers(), false)
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}

	_, err = h.service.Submit(h.ctx, start.SessionID, nil, false)
	if !errors.Is(err, domain.ErrSessionCompleted) {
		t.Fatalf("expected conflict, got %v", err)
	}

	history, _ := h.service.History(h.ctx, "u1", 10)
	if len(history) != 1 || history[0].ID != first.RecordID {
		t.Fatalf("second submit must not touch the record, got %+v", history)
	}
}

func TestSubmitComputesExpiryFromServerClock(t *testing.T) {
	h := newHarness(t)

	start, _ := h.service.Start(h.ctx, "test-1", "u1")
	h.clock.Advance(31 * time.Minute)

	result, err := h.service.Submit(h.ctx, start.SessionID, nil, false)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !result.TimeExpired {
		t.Fatalf("expected server-computed expiry")
	}
}

func TestSubmitHonorsClientExpiryHint(t *testing.T) {
	h := newHarness(t)

	start, _ := h.service.Start(h.ctx, "test-1", "u1")
	h.clock.Advance(5 * time.Minute)

	result, err := h.service.Submit(h.ctx, start.SessionID, workedExampleAnswers(), true)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !result.TimeExpired {
		t.Fatalf("expected client hint to mark expiry")
	}
	// The hint is informational: scoring is unchanged.
	if result.WeightedScore != 11 {
		t.Fatalf("expiry must not affect scoring, got %v", result.WeightedScore)
	}
}

func TestSubmitRejectsMalformedOption(t *testing.T) {
	h := newHarness(t)

	start, _ := h.service.Start(h.ctx, "test-1", "u1")
	_, err := h.service.Submit(h.ctx, start.SessionID, []domain.Answer{
		{QuestionIndex: 0, Option: "z"},
	}, false)
	if !errors.Is(err, domain.ErrInvalidAnswer) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEndAbandonsWithoutRecord(t *testing.T) {
	h := newHarness(t)

	start, _ := h.service.Start(h.ctx, "test-1", "u1")

	if err := h.service.End(h.ctx, start.SessionID, "intruder"); !errors.Is(err, domain.ErrNotSessionOwner) {
		t.Fatalf("expected ownership check, got %v", err)
	}
	if err := h.service.End(h.ctx, start.SessionID, "u1"); err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if err := h.service.End(h.ctx, start.SessionID, "u1"); !errors.Is(err, domain.ErrSessionCompleted) {
		t.Fatalf("expected conflict on second end, got %v", err)
	}

	sess, _ := h.sessions.Get(h.ctx, start.SessionID)
	if !sess.Completed || !sess.TimeExpired || sess.Score != nil {
		t.Fatalf("expected abandoned session, got %+v", sess)
	}
	history, _ := h.service.History(h.ctx, "u1", 10)
	if len(history) != 0 {
		t.Fatalf("abandonment must not create a record")
	}
}

func TestStatusComputesExpiryLazily(t *testing.T) {
	h := newHarness(t)

	start, _ := h.service.Start(h.ctx, "test-1", "u1")

	h.clock.Advance(10 * time.Minute)
	status, err := h.service.Status(h.ctx, start.SessionID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.TimeRemainingMinutes != 20 || status.TimeExpired || status.Completed {
		t.Fatalf("unexpected status %+v", status)
	}

	h.clock.Advance(21 * time.Minute) // 31 minutes on a 30-minute test
	status, err = h.service.Status(h.ctx, start.SessionID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.TimeRemainingMinutes != 0 || !status.TimeExpired {
		t.Fatalf("expected expired status, got %+v", status)
	}
}

func TestStartRejectsInactiveAndUnknownTests(t *testing.T) {
	h := newHarness(t)

	if _, err := h.service.Start(h.ctx, "retired-test", "u1"); !errors.Is(err, domain.ErrTestInactive) {
		t.Fatalf("expected inactive error, got %v", err)
	}
	if _, err := h.service.Start(h.ctx, "no-such-test", "u1"); !errors.Is(err, domain.ErrTestNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestConcurrentStartsYieldOneSession(t *testing.T) {
	h := newHarness(t)

	const starters = 8
	var wg sync.WaitGroup
	ids := make(chan string, starters)
	for i := 0; i < starters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := h.service.Start(h.ctx, "test-1", "u1")
			if err != nil {
				t.Errorf("start failed: %v", err)
				return
			}
			ids <- result.SessionID
		}()
	}
	wg.Wait()
	close(ids)

	distinct := map[string]bool{}
	for id := range ids {
		distinct[id] = true
	}
	if len(distinct) != 1 {
		t.Fatalf("expected exactly one session, got %d: %v", len(distinct), distinct)
	}
}

func TestWeightsNormalizedOnce(t *testing.T) {
	h := newHarness(t)

	// Broken config: non-positive correct, reward for wrong.
	start, _ := h.service.Start(h.ctx, "broken-weights", "u1")
	result, err := h.service.Submit(h.ctx, start.SessionID, []domain.Answer{
		{QuestionIndex: 0, Option: "a"}, // correct
		{QuestionIndex: 1, Option: "b"}, // wrong
	}, false)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	// correct falls back to 1, wrong clamps to 0.
	if result.WeightedScore != 1 {
		t.Fatalf("expected normalized score 1, got %v", result.WeightedScore)
	}
}

func TestFeedbackIsTheOnlyRecordMutation(t *testing.T) {
	h := newHarness(t)

	start, _ := h.service.Start(h.ctx, "test-1", "u1")
	result, _ := h.service.Submit(h.ctx, start.SessionID, workedExampleAnswers(), false)

	if err := h.service.AttachFeedback(h.ctx, result.RecordID, "u1", 9, "?"); !errors.Is(err, domain.ErrInvalidRating) {
		t.Fatalf("expected rating validation, got %v", err)
	}
	if err := h.service.AttachFeedback(h.ctx, result.RecordID, "someone-else", 4, "nope"); !errors.Is(err, domain.ErrNotRecordOwner) {
		t.Fatalf("expected ownership check, got %v", err)
	}
	if err := h.service.AttachFeedback(h.ctx, result.RecordID, "u1", 4, "tough paper"); err != nil {
		t.Fatalf("attach feedback: %v", err)
	}

	rec, _ := h.service.Record(h.ctx, result.RecordID)
	if rec.Feedback == nil || rec.Feedback.Rating != 4 {
		t.Fatalf("feedback not attached: %+v", rec.Feedback)
	}
	if rec.Score != 11 || rec.Percentage != 60.0 {
		t.Fatalf("feedback must not alter the score: %+v", rec)
	}
}

func TestLeaderboardRanksByWeightedScore(t *testing.T) {
	h := newHarness(t)

	submit := func(user string, answers []domain.Answer) {
		t.Helper()
		start, err := h.service.Start(h.ctx, "test-1", user)
		if err != nil {
			t.Fatalf("start for %s: %v", user, err)
		}
		if _, err := h.service.Submit(h.ctx, start.SessionID, answers, false); err != nil {
			t.Fatalf("submit for %s: %v", user, err)
		}
	}

	submit("alice", workedExampleAnswers()) // 11 points
	submit("bob", []domain.Answer{{QuestionIndex: 0, Option: "a"}})              // 4 points
	submit("carol", []domain.Answer{{QuestionIndex: 0, Option: "b"}, {QuestionIndex: 1, Option: "b"}}) // -2 points

	board, err := h.service.Leaderboard(h.ctx, "test-1", 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(board))
	}
	if board[0].UserID != "alice" || board[1].UserID != "bob" || board[2].UserID != "carol" {
		t.Fatalf("unexpected order: %s, %s, %s", board[0].UserID, board[1].UserID, board[2].UserID)
	}
	if board[2].Score != -2 {
		t.Fatalf("expected negative score preserved, got %v", board[2].Score)
	}
}

// --- harness ---

type harness struct {
	ctx      context.Context
	clock    *testClock
	service  *app.SessionService
	sessions *memory.SessionStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	sessions := memory.NewSessionStoreWithClock(24*time.Hour, clock.Now)
	tests := memory.NewStaticTestRepository(sampleTests())
	records := memory.NewRecordStore()
	service := app.NewSessionServiceWithClock(sessions, tests, records, 30*time.Minute, clock.Now)
	return &harness{
		ctx:      context.Background(),
		clock:    clock,
		service:  service,
		sessions: sessions,
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func workedExampleAnswers() []domain.Answer {
	return []domain.Answer{
		{QuestionIndex: 0, Option: "a", TimeSpentSeconds: 30},
		{QuestionIndex: 1, Option: "a"},
		{QuestionIndex: 2, Option: "a"},
		{QuestionIndex: 3, Option: "b"},
	}
}

func sampleTests() map[string]domain.TestDefinition {
	questions := make([]domain.Question, 5)
	for i := range questions {
		subject := "algebra"
		if i >= 3 {
			subject = "geometry"
		}
		questions[i] = domain.Question{
			Index:      i,
			Prompt:     "pick a",
			Subject:    subject,
			Difficulty: "easy",
			Options: []domain.Option{
				{Key: "a", Text: "right", Correct: true},
				{Key: "b", Text: "wrong"},
				{Key: "c", Text: "wrong"},
				{Key: "d", Text: "wrong"},
			},
		}
	}
	return map[string]domain.TestDefinition{
		"test-1": {
			ID:              "test-1",
			Name:            "Sample Paper",
			PaperLabel:      "2024",
			DurationMinutes: 30,
			Active:          true,
			Weights:         domain.ScoringWeights{Correct: 4, Wrong: -1, Unanswered: 0},
			Questions:       questions,
		},
		"retired-test": {
			ID:              "retired-test",
			Name:            "Old Paper",
			DurationMinutes: 30,
			Active:          false,
			Questions:       questions,
		},
		"broken-weights": {
			ID:              "broken-weights",
			Name:            "Misconfigured Paper",
			DurationMinutes: 30,
			Active:          true,
			Weights:         domain.ScoringWeights{Correct: 0, Wrong: 2, Unanswered: 0},
			Questions:       questions,
		},
	}
}
