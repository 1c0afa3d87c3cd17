package quiz

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/pavelanni/quizmaster/internal/model"
)

// BasePoints is awarded for a correct answer when the question sets no points
// of its own.
var BasePoints = map[model.Difficulty]int{
	model.DifficultyEasy:   10,
	model.DifficultyMedium: 20,
	model.DifficultyHard:   30,
}

var boolAliases = map[string]string{
	"true": "true", "t": "true", "yes": "true", "y": "true", "1": "true",
	"false": "false", "f": "false", "no": "false", "n": "false", "0": "false",
}

// Grade checks answer against the stored correct answer and returns the
// points earned. An empty answer is a timeout and is always wrong.
func Grade(q model.Question, answer string) (bool, int) {
	got := normalize(answer)
	if got == "" {
		return false, 0
	}
	want := normalize(q.CorrectAnswer)
	if q.Type == model.QuestionTrueFalse {
		if alias, ok := boolAliases[got]; ok {
			got = alias
		}
		if alias, ok := boolAliases[want]; ok {
			want = alias
		}
	}
	if got != want {
		return false, 0
	}
	return true, pointsFor(q)
}

func pointsFor(q model.Question) int {
	if q.Points > 0 {
		return q.Points
	}
	return BasePoints[q.Difficulty]
}

// normalize trims, case-folds and collapses inner whitespace.
func normalize(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}
