package quiz

import (
	"testing"

	"github.com/pavelanni/quizmaster/internal/model"
)

func TestGrade(t *testing.T) {
	mc := model.Question{Type: model.QuestionMultipleChoice, CorrectAnswer: "Paris", Difficulty: model.DifficultyEasy}
	tf := model.Question{Type: model.QuestionTrueFalse, CorrectAnswer: "True", Difficulty: model.DifficultyHard}
	sa := model.Question{Type: model.QuestionShortAnswer, CorrectAnswer: "New  York City", Difficulty: model.DifficultyMedium, Points: 15}

	tests := []struct {
		name    string
		q       model.Question
		answer  string
		correct bool
		points  int
	}{
		{"exact match", mc, "Paris", true, 10},
		{"case and spaces", mc, "  pARIS ", true, 10},
		{"wrong option", mc, "Lyon", false, 0},
		{"timeout", mc, "", false, 0},
		{"whitespace only is timeout", mc, " \t ", false, 0},
		{"true alias", tf, "yes", true, 30},
		{"true letter", tf, "T", true, 30},
		{"false is wrong", tf, "false", false, 0},
		{"collapsed inner spaces", sa, "new york   city", true, 15},
		{"question points override base", sa, "New York City", true, 15},
		{"partial is wrong", sa, "New York", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			correct, points := Grade(tt.q, tt.answer)
			if correct != tt.correct || points != tt.points {
				t.Errorf("Grade(%q) = (%v, %d), want (%v, %d)", tt.answer, correct, points, tt.correct, tt.points)
			}
		})
	}
}

func TestKeyedMutexReleases(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	other := k.Lock("b")
	other()
	unlock()
	unlock = k.Lock("a")
	unlock()
	if len(k.locks) != 0 {
		t.Errorf("expected no retained entries, got %d", len(k.locks))
	}
}
