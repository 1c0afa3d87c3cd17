package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pavelanni/quizmaster/internal/llm/prompts"
	"github.com/pavelanni/quizmaster/internal/model"
)

func TestParseReview(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"valid", `{"summary":"Good work","strengths":["Fractions"],"practice":["Decimals"]}`, "Good work", false},
		{"missing summary", `{"strengths":["Fractions"]}`, "", true},
		{"not json", `Great job!`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseReview(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseReview: %v", err)
			}
			if got.Summary != tt.want {
				t.Errorf("Summary = %q, want %q", got.Summary, tt.want)
			}
		})
	}
}

func TestReviewData(t *testing.T) {
	answer := "3/4"
	view := model.SessionView{
		Session: model.QuizSession{
			ID:              "s1",
			Status:          model.StatusCompleted,
			CorrectCount:    1,
			WrongCount:      1,
			ScorePercentage: 50,
		},
		Answers: []model.AnswerRecord{
			{QuestionID: 1, Topic: "Fractions", UserAnswer: &answer, IsCorrect: true, DifficultyAtAsk: model.DifficultyMedium},
			{QuestionID: 2, Topic: "Decimals", DifficultyAtAsk: model.DifficultyEasy},
		},
	}
	questions := map[int64]model.Question{
		1: {ID: 1, Text: "Simplify 6/8", CorrectAnswer: "3/4"},
		2: {ID: 2, Text: "0.1 + 0.2", CorrectAnswer: "0.3"},
	}

	data := reviewData(view, questions)
	if data.Answered != 2 || data.Correct != 1 {
		t.Errorf("Answered/Correct = %d/%d, want 2/1", data.Answered, data.Correct)
	}
	if len(data.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(data.Items))
	}
	if data.Items[0].Number != 1 || data.Items[1].Number != 2 {
		t.Errorf("items not numbered in answer order: %+v", data.Items)
	}
	if data.Items[1].Answer != "" {
		t.Errorf("timed out answer = %q, want empty", data.Items[1].Answer)
	}
	if data.Items[1].CorrectAnswer != "0.3" || data.Items[1].Difficulty != "easy" {
		t.Errorf("item 2 = %+v", data.Items[1])
	}

	prompt, err := prompts.BuildReviewPrompt(prompts.AudienceStudent, data)
	if err != nil {
		t.Fatalf("BuildReviewPrompt: %v", err)
	}
	for _, want := range []string{"50%", "Simplify 6/8", "[No answer provided]", "Correct answer: 0.3"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestReviewSessionRequiresCompleted(t *testing.T) {
	c := New("http://127.0.0.1:1", "test", "test-model")
	view := model.SessionView{Session: model.QuizSession{ID: "s1", Status: model.StatusActive}}
	_, err := c.ReviewSession(context.Background(), prompts.AudienceStudent, view, nil)
	if !errors.Is(err, ErrNotCompleted) {
		t.Errorf("err = %v, want ErrNotCompleted", err)
	}
}
