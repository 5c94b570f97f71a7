package domain

import "time"

// Option represents one answer choice on a question, keyed by a stable
// single-letter option key ("a".."d").
type Option struct {
	Key     string `json:"key"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question with a stable index inside its test and
// exactly one option marked correct.
type Question struct {
	Index      int      `json:"index"`
	Prompt     string   `json:"prompt"`
	Options    []Option `json:"options"`
	Difficulty string   `json:"difficulty"`
	Subject    string   `json:"subject"`
}

// CorrectOptionKey returns the key of the single correct option. A question
// with zero or several correct options is a data fault in the definition
// store; scoring treats it as unanswerable rather than failing.
func (q Question) CorrectOptionKey() (string, bool) {
	key := ""
	matches := 0
	for _, opt := range q.Options {
		if opt.Correct {
			key = opt.Key
			matches++
		}
	}
	if matches != 1 {
		return "", false
	}
	return key, true
}

// ScoringWeights configures per-question point values. Wrong is a penalty
// (zero or negative); Unanswered may carry any value.
type ScoringWeights struct {
	Correct    float64 `json:"correct"`
	Wrong      float64 `json:"wrong"`
	Unanswered float64 `json:"unanswered"`
}

// DefaultScoringWeights is the fallback used when a test definition carries
// no usable weight configuration.
var DefaultScoringWeights = ScoringWeights{Correct: 1, Wrong: 0, Unanswered: 0}

// Normalize validates the weights once, at test-definition read time, so
// scoring never re-derives defaults per call. An unusable Correct falls back
// to the default; a positive Wrong is clamped to zero.
func (w ScoringWeights) Normalize() ScoringWeights {
	if w.Correct <= 0 {
		w.Correct = DefaultScoringWeights.Correct
	}
	if w.Wrong > 0 {
		w.Wrong = 0
	}
	return w
}

// TestDefinition is the immutable test metadata owned by the definition
// store. The engine only ever reads it.
type TestDefinition struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	PaperLabel      string         `json:"paperLabel"`
	DurationMinutes int            `json:"durationMinutes"`
	Questions       []Question     `json:"questions"`
	Weights         ScoringWeights `json:"scoringWeights"`
	Active          bool           `json:"isActive"`
}

// Session is the ephemeral state of one attempt. It is retained for a fixed
// window after creation regardless of completion, then purged.
type Session struct {
	ID              string         `json:"id"`
	TestID          string         `json:"testId"`
	UserID          string         `json:"userId"`
	StartTime       time.Time      `json:"startTime"`
	EndTime         *time.Time     `json:"endTime,omitempty"`
	DurationMinutes int            `json:"durationMinutes"`
	Answers         map[int]string `json:"answers"`
	Completed       bool           `json:"completed"`
	TimeExpired     bool           `json:"timeExpired"`
	Score           *float64       `json:"score,omitempty"`
}

// Answer is one submitted choice. TimeSpentSeconds is an optional client
// hint carried through to the performance record.
type Answer struct {
	QuestionIndex    int    `json:"questionIndex"`
	Option           string `json:"option"`
	TimeSpentSeconds int    `json:"timeSpentSeconds,omitempty"`
}

// Breakdown counts how every question in the test was classified.
type Breakdown struct {
	Correct    int `json:"correct"`
	Wrong      int `json:"wrong"`
	Unanswered int `json:"unanswered"`
	Total      int `json:"total"`
}

// QuestionResult is the per-question detail frozen into a record at
// submission time; definitions may change later, results must not.
type QuestionResult struct {
	QuestionIndex    int    `json:"questionIndex"`
	Selected         string `json:"selected,omitempty"`
	CorrectOption    string `json:"correctOption,omitempty"`
	Correct          bool   `json:"correct"`
	Answered         bool   `json:"answered"`
	Difficulty       string `json:"difficulty"`
	Subject          string `json:"subject"`
	TimeSpentSeconds int    `json:"timeSpentSeconds,omitempty"`
}

// ScoreResult is the output of the scoring algorithm. WeightedScore has no
// floor and is never clamped; Percentage derives from raw counts only.
type ScoreResult struct {
	WeightedScore float64          `json:"weightedScore"`
	Percentage    float64          `json:"percentage"`
	Breakdown     Breakdown        `json:"breakdown"`
	Questions     []QuestionResult `json:"questions"`
}

// Tally accumulates correctness per subject or difficulty bucket.
type Tally struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

// RecordFeedback is the single mutation a record admits after creation.
type RecordFeedback struct {
	Rating    int       `json:"rating"`
	Comments  string    `json:"comments"`
	CreatedAt time.Time `json:"createdAt"`
}

// PerformanceRecord is the permanent result of a completed attempt, with
// everything downstream aggregation needs denormalized in.
type PerformanceRecord struct {
	ID                  string           `json:"id"`
	SessionID           string           `json:"sessionId"`
	TestID              string           `json:"testId"`
	UserID              string           `json:"userId"`
	TestName            string           `json:"testName"`
	PaperLabel          string           `json:"paperLabel"`
	TotalQuestions      int              `json:"totalQuestions"`
	Score               float64          `json:"score"`
	CorrectCount        int              `json:"correctCount"`
	WrongCount          int              `json:"wrongCount"`
	UnansweredCount     int              `json:"unansweredCount"`
	Percentage          float64          `json:"percentage"`
	TimeTakenMinutes    float64          `json:"timeTakenMinutes"`
	TimeAllottedMinutes int              `json:"timeAllottedMinutes"`
	TimeExpired         bool             `json:"timeExpired"`
	WeightsUsed         ScoringWeights   `json:"scoringWeightsUsed"`
	Grade               string           `json:"grade"`
	Efficiency          string           `json:"efficiency"`
	Questions           []QuestionResult `json:"questions"`
	SubjectTallies      map[string]Tally `json:"subjectTallies"`
	DifficultyTallies   map[string]Tally `json:"difficultyTallies"`
	Feedback            *RecordFeedback  `json:"feedback,omitempty"`
	CreatedAt           time.Time        `json:"createdAt"`
}
