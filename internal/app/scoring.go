package app

import (
	"math"

	"exam-session-service/internal/domain"
)

// ScoreAttempt classifies every question of the test into exactly one of
// correct/wrong/unanswered and accumulates the weighted score. It is a pure
// function: no storage, no clock. Submitted indices outside the question
// range are ignored, and a question whose definition carries no single
// correct option counts as unanswered rather than failing the attempt.
func ScoreAttempt(def domain.TestDefinition, answers map[int]string, timeSpent map[int]int) domain.ScoreResult {
	weights := def.Weights
	result := domain.ScoreResult{
		Questions: make([]domain.QuestionResult, 0, len(def.Questions)),
	}
	result.Breakdown.Total = len(def.Questions)

	for _, q := range def.Questions {
		qr := domain.QuestionResult{
			QuestionIndex:    q.Index,
			Difficulty:       q.Difficulty,
			Subject:          q.Subject,
			TimeSpentSeconds: timeSpent[q.Index],
		}
		correctKey, hasKey := q.CorrectOptionKey()
		qr.CorrectOption = correctKey

		selected, answered := answers[q.Index]
		if answered {
			qr.Selected = selected
			qr.Answered = true
		}

		switch {
		case !hasKey || !answered || selected == "":
			result.Breakdown.Unanswered++
			result.WeightedScore += weights.Unanswered
		case selected == correctKey:
			qr.Correct = true
			result.Breakdown.Correct++
			result.WeightedScore += weights.Correct
		default:
			result.Breakdown.Wrong++
			result.WeightedScore += weights.Wrong
		}
		result.Questions = append(result.Questions, qr)
	}

	result.Percentage = PercentageFor(result.Breakdown.Correct, result.Breakdown.Total)
	return result
}

// PercentageFor derives the display percentage from raw correctness counts
// only; the weighted score never feeds into it.
func PercentageFor(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	return roundTo(float64(correct)/float64(total)*100, 1)
}

// gradeBuckets is an ordered, exhaustive lookup over 0..100.
var gradeBuckets = []struct {
	min   float64
	grade string
}{
	{90, "A+"},
	{80, "A"},
	{70, "B"},
	{60, "C"},
	{45, "D"},
	{0, "E"},
}

// GradeFor maps a percentage onto the display grade scale.
func GradeFor(percentage float64) string {
	for _, b := range gradeBuckets {
		if percentage >= b.min {
			return b.grade
		}
	}
	return gradeBuckets[len(gradeBuckets)-1].grade
}

// EfficiencyFor categorizes time usage relative to the allotted duration.
func EfficiencyFor(takenMinutes, allottedMinutes float64) string {
	if allottedMinutes <= 0 {
		return "unrated"
	}
	ratio := takenMinutes / allottedMinutes
	switch {
	case ratio <= 0.5:
		return "excellent"
	case ratio <= 0.8:
		return "good"
	case ratio <= 1.0:
		return "steady"
	default:
		return "overtime"
	}
}

// TallyResults aggregates per-question results into subject-wise and
// difficulty-wise correctness tallies for the performance record.
func TallyResults(questions []domain.QuestionResult) (subjects, difficulties map[string]domain.Tally) {
	subjects = make(map[string]domain.Tally)
	difficulties = make(map[string]domain.Tally)
	for _, qr := range questions {
		bump(subjects, bucketName(qr.Subject), qr.Correct)
		bump(difficulties, bucketName(qr.Difficulty), qr.Correct)
	}
	return subjects, difficulties
}

func bucketName(tag string) string {
	if tag == "" {
		return "general"
	}
	return tag
}

func bump(m map[string]domain.Tally, key string, correct bool) {
	t := m[key]
	t.Total++
	if correct {
		t.Correct++
	}
	m[key] = t
}

func roundTo(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}
