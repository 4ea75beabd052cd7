package app

import (
	"sort"
	"strings"
	"time"

	"live-quiz-service/internal/domain"
)

// Points awarded for a correct answer.
const (
	BasePoints      = 10
	FirstBloodBonus = 5
	SpeedBonus      = 3
)

// Grade reports whether the payload answers the question correctly. Malformed payloads are wrong, never errors.
func Grade(q domain.Question, a domain.AnswerPayload) bool {
	switch q.Type {
	case domain.SingleChoice, domain.TrueFalse:
		if a.Shape != domain.ShapeOption {
			return false
		}
		for _, opt := range q.Options {
			if opt.ID == a.Option {
				return opt.IsCorrect
			}
		}
		return false
	case domain.MultipleChoice:
		if a.Shape != domain.ShapeOptionSet || len(a.Options) == 0 {
			return false
		}
		var want []int64
		for _, opt := range q.Options {
			if opt.IsCorrect {
				want = append(want, opt.ID)
			}
		}
		got := append([]int64(nil), a.Options...)
		sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
		sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	case domain.FillInTheBlank:
		if a.Shape != domain.ShapeText {
			return false
		}
		expected := strings.TrimSpace(q.TextAnswer)
		if expected == "" {
			return false
		}
		return strings.EqualFold(strings.TrimSpace(a.Text), expected)
	default:
		return false
	}
}

// ResponseTime measures seconds from the question's nominal start to the client-reported
// submission instant, clamped to [0, SecondsPerQuestion].
func ResponseTime(room domain.Room, submittedAt time.Time) float64 {
	if room.StartedAt == nil || room.CurrentQuestionIndex < 0 {
		return 0
	}
	start := room.StartedAt.Add(time.Duration(room.CurrentQuestionIndex) * room.QuestionDuration())
	seconds := submittedAt.Sub(start).Seconds()
	if seconds < 0 {
		return 0
	}
	if limit := float64(room.SecondsPerQuestion); seconds > limit {
		return limit
	}
	return seconds
}

// Points scores one submission.
func Points(correct, firstBlood bool, responseTime float64, secondsPerQuestion int) int {
	if !correct {
		return 0
	}
	points := BasePoints
	if firstBlood {
		points += FirstBloodBonus
	}
	if responseTime <= float64(secondsPerQuestion)/3.0 {
		points += SpeedBonus
	}
	return points
}
