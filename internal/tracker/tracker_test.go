package tracker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pavelanni/quizmaster/internal/model"
	"github.com/pavelanni/quizmaster/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// outcomes returns total outcomes at medium difficulty, the first correct of
// them answered correctly.
func outcomes(correct, total int) []Outcome {
	out := make([]Outcome, total)
	for i := range out {
		out[i] = Outcome{Difficulty: model.DifficultyMedium, Correct: i < correct, TimeSpentSeconds: 10}
	}
	return out
}

var algebra = model.TopicKey{Subject: "math", Topic: "algebra"}

func TestClassify(t *testing.T) {
	tests := []struct {
		accuracy float64
		attempts int
		want     model.PerformanceLevel
	}{
		{80, 1, model.LevelStrong},
		{40, 1, model.LevelWeak},
		{65, 1, model.LevelNeutral},
		{70, 3, model.LevelNeutral},
		{70.1, 3, model.LevelStrong},
		{60, 2, model.LevelNeutral},
		{59.9, 2, model.LevelWeak},
		{100, 0, model.LevelNeutral},
		{0, 0, model.LevelWeak},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.1f/%d", tt.accuracy, tt.attempts), func(t *testing.T) {
			if got := Classify(tt.accuracy, tt.attempts); got != tt.want {
				t.Errorf("Classify(%v, %d) = %s, want %s", tt.accuracy, tt.attempts, got, tt.want)
			}
		})
	}
}

func TestConfidence(t *testing.T) {
	if got := Confidence(nil); got != 0 {
		t.Errorf("Confidence(nil) = %v, want 0", got)
	}
	if got := Confidence([]float64{80}); got != 20 {
		t.Errorf("one attempt: got %v, want 20", got)
	}
	if got := Confidence([]float64{70, 70, 70, 70, 70}); got != 100 {
		t.Errorf("full consistent window: got %v, want 100", got)
	}

	steady := Confidence([]float64{60, 60, 60, 60})
	erratic := Confidence([]float64{0, 100, 0, 100})
	if steady <= erratic {
		t.Errorf("consistent attempts should score higher: steady=%v erratic=%v", steady, erratic)
	}

	prev := -1.0
	for n := 1; n <= Window; n++ {
		accs := make([]float64, n)
		for i := range accs {
			accs[i] = 75
		}
		got := Confidence(accs)
		if got <= prev {
			t.Errorf("confidence did not grow with %d attempts: %v <= %v", n, got, prev)
		}
		if got < 0 || got > 100 {
			t.Errorf("confidence %v out of range", got)
		}
		prev = got
	}
}

func TestSummarize(t *testing.T) {
	snaps := []model.AttemptSnapshot{
		{Easy: model.DifficultyStats{Correct: 2, Total: 2}, Medium: model.DifficultyStats{Correct: 1, Total: 3}},
		{Hard: model.DifficultyStats{Correct: 1, Total: 5}},
	}
	p := Summarize(snaps)
	if p.TotalQuestions != 10 || p.CorrectAnswers != 4 {
		t.Errorf("expected 4/10, got %d/%d", p.CorrectAnswers, p.TotalQuestions)
	}
	if p.AccuracyPercent != 40 {
		t.Errorf("expected accuracy 40, got %v", p.AccuracyPercent)
	}
	if p.Easy.Total != 2 || p.Medium.Total != 3 || p.Hard.Total != 5 {
		t.Errorf("unexpected per-difficulty totals: %+v %+v %+v", p.Easy, p.Medium, p.Hard)
	}
	if got := Summarize(nil); got.AccuracyPercent != 0 {
		t.Errorf("empty summary accuracy = %v, want 0", got.AccuracyPercent)
	}
}

func TestRecordAttemptClassification(t *testing.T) {
	tests := []struct {
		name    string
		correct int
		total   int
		want    model.PerformanceLevel
	}{
		{"80 percent flat is strong", 8, 10, model.LevelStrong},
		{"40 percent flat is weak", 4, 10, model.LevelWeak},
		{"65 percent flat is neutral", 13, 20, model.LevelNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
			var p model.TopicPerformance
			var err error
			for i := 0; i < Window; i++ {
				p, err = RecordAttempt(context.Background(), s, 1, algebra, fmt.Sprintf("s%d", i),
					start.Add(time.Duration(i)*time.Hour), outcomes(tt.correct, tt.total))
				if err != nil {
					t.Fatalf("RecordAttempt #%d: %v", i, err)
				}
			}
			if p.PerformanceLevel != tt.want {
				t.Errorf("level = %s (accuracy %v), want %s", p.PerformanceLevel, p.AccuracyPercent, tt.want)
			}
			if p.TotalAttempts != Window {
				t.Errorf("expected %d attempts, got %d", Window, p.TotalAttempts)
			}
			if p.TotalQuestions != Window*tt.total {
				t.Errorf("windowed total = %d, want %d", p.TotalQuestions, Window*tt.total)
			}
			if p.ConfidenceScore != 100 {
				t.Errorf("flat full window confidence = %v, want 100", p.ConfidenceScore)
			}
		})
	}
}

func TestRecordAttemptKeepsWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	// Two perfect attempts followed by five failing ones: the perfect ones
	// must fall out of the window.
	var p model.TopicPerformance
	var err error
	for i := 0; i < 7; i++ {
		correct := 0
		if i < 2 {
			correct = 5
		}
		p, err = RecordAttempt(ctx, s, 1, algebra, fmt.Sprintf("s%d", i), start.Add(time.Duration(i)*time.Hour), outcomes(correct, 5))
		if err != nil {
			t.Fatalf("RecordAttempt #%d: %v", i, err)
		}
	}
	if p.TotalAttempts != 7 {
		t.Errorf("expected 7 lifetime attempts, got %d", p.TotalAttempts)
	}
	if p.TotalQuestions != 25 {
		t.Errorf("expected windowed total of 25, got %d", p.TotalQuestions)
	}
	if p.CorrectAnswers != 0 || p.PerformanceLevel != model.LevelWeak {
		t.Errorf("expected 0 correct and weak, got %d and %s", p.CorrectAnswers, p.PerformanceLevel)
	}
	if p.ConfidenceScore != 100 {
		t.Errorf("expected full confidence, got %v", p.ConfidenceScore)
	}

	snaps, err := s.RecentSnapshots(ctx, 1, algebra, 100)
	if err != nil {
		t.Fatalf("RecentSnapshots: %v", err)
	}
	if len(snaps) != Window {
		t.Errorf("expected %d retained snapshots, got %d", Window, len(snaps))
	}

	stored, err := s.GetPerformance(ctx, 1, algebra)
	if err != nil {
		t.Fatalf("GetPerformance: %v", err)
	}
	if stored.TotalAttempts != p.TotalAttempts || stored.PerformanceLevel != p.PerformanceLevel {
		t.Errorf("stored row %+v differs from returned %+v", stored, p)
	}
}

func TestRecordAttemptSameSessionIsNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	first, err := RecordAttempt(ctx, s, 1, algebra, "s1", now, outcomes(4, 5))
	if err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	again, err := RecordAttempt(ctx, s, 1, algebra, "s1", now, outcomes(0, 5))
	if err != nil {
		t.Fatalf("RecordAttempt again: %v", err)
	}
	if again.TotalAttempts != first.TotalAttempts || again.CorrectAnswers != first.CorrectAnswers {
		t.Errorf("second record changed the statistic: %+v -> %+v", first, again)
	}
}

func TestRecordAttemptRejectsEmpty(t *testing.T) {
	s := newTestStore(t)
	if _, err := RecordAttempt(context.Background(), s, 1, algebra, "s1", time.Now(), nil); err == nil {
		t.Error("expected error for empty outcomes")
	}
}
