// Package tracker maintains the rolling per-topic performance of a student.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pavelanni/quizmaster/internal/model"
	"github.com/pavelanni/quizmaster/internal/store"
)

// Window is the number of most recent attempts the statistics are built from.
const Window = 5

// Classification thresholds on accuracy percent.
const (
	StrongAbove = 70.0
	WeakBelow   = 60.0
)

// Outcome is one graded answer of an attempt.
type Outcome struct {
	Difficulty       model.Difficulty
	Correct          bool
	TimeSpentSeconds int
}

// Queries is the storage the tracker needs. *store.Queries satisfies it.
type Queries interface {
	InsertSnapshot(ctx context.Context, a model.AttemptSnapshot) (bool, error)
	PruneSnapshots(ctx context.Context, studentID int64, key model.TopicKey, keep int) (int64, error)
	RecentSnapshots(ctx context.Context, studentID int64, key model.TopicKey, limit int) ([]model.AttemptSnapshot, error)
	GetPerformance(ctx context.Context, studentID int64, key model.TopicKey) (model.TopicPerformance, error)
	UpsertPerformance(ctx context.Context, p model.TopicPerformance) error
}

// RecordAttempt folds one completed session's answers on a topic into the
// student's rolling statistic. Recording the same session twice returns the
// current statistic unchanged.
func RecordAttempt(ctx context.Context, q Queries, studentID int64, key model.TopicKey, sessionID string, at time.Time, outcomes []Outcome) (model.TopicPerformance, error) {
	if len(outcomes) == 0 {
		return model.TopicPerformance{}, model.Invalid("outcomes", "required", nil)
	}

	snap := model.AttemptSnapshot{
		StudentID:   studentID,
		Subject:     key.Subject,
		Topic:       key.Topic,
		SessionID:   sessionID,
		AttemptedAt: at,
	}
	for _, o := range outcomes {
		var d *model.DifficultyStats
		switch o.Difficulty {
		case model.DifficultyEasy:
			d = &snap.Easy
		case model.DifficultyMedium:
			d = &snap.Medium
		case model.DifficultyHard:
			d = &snap.Hard
		default:
			return model.TopicPerformance{}, model.Invalid("difficulty", "invalid_difficulty", map[string]any{"Value": o.Difficulty})
		}
		d.Total++
		if o.Correct {
			d.Correct++
		}
		snap.TimeSpent += o.TimeSpentSeconds
	}

	prev, err := q.GetPerformance(ctx, studentID, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return model.TopicPerformance{}, fmt.Errorf("get performance: %w", err)
	}
	found := err == nil

	inserted, err := q.InsertSnapshot(ctx, snap)
	if err != nil {
		return model.TopicPerformance{}, fmt.Errorf("insert snapshot: %w", err)
	}
	if !inserted && found {
		return prev, nil
	}

	if _, err := q.PruneSnapshots(ctx, studentID, key, Window); err != nil {
		return model.TopicPerformance{}, fmt.Errorf("prune snapshots: %w", err)
	}
	snaps, err := q.RecentSnapshots(ctx, studentID, key, Window)
	if err != nil {
		return model.TopicPerformance{}, fmt.Errorf("recent snapshots: %w", err)
	}

	p := Summarize(snaps)
	p.StudentID = studentID
	p.Subject = key.Subject
	p.Topic = key.Topic
	p.TotalAttempts = prev.TotalAttempts
	if inserted {
		p.TotalAttempts++
	}
	p.TotalAttempts = max(p.TotalAttempts, len(snaps))
	p.PerformanceLevel = Classify(p.AccuracyPercent, p.TotalAttempts)
	p.ConfidenceScore = Confidence(accuracies(snaps))
	p.LastUpdated = at

	if err := q.UpsertPerformance(ctx, p); err != nil {
		return model.TopicPerformance{}, fmt.Errorf("upsert performance: %w", err)
	}
	return p, nil
}

// Summarize aggregates the counters of the given snapshots.
func Summarize(snaps []model.AttemptSnapshot) model.TopicPerformance {
	var p model.TopicPerformance
	for _, s := range snaps {
		p.Easy.Correct += s.Easy.Correct
		p.Easy.Total += s.Easy.Total
		p.Medium.Correct += s.Medium.Correct
		p.Medium.Total += s.Medium.Total
		p.Hard.Correct += s.Hard.Correct
		p.Hard.Total += s.Hard.Total
	}
	p.TotalQuestions = p.Easy.Total + p.Medium.Total + p.Hard.Total
	p.CorrectAnswers = p.Easy.Correct + p.Medium.Correct + p.Hard.Correct
	p.AccuracyPercent = percent(p.CorrectAnswers, p.TotalQuestions)
	return p
}

// Classify maps an accuracy percent to a performance level.
func Classify(accuracy float64, attempts int) model.PerformanceLevel {
	switch {
	case accuracy > StrongAbove && attempts >= 1:
		return model.LevelStrong
	case accuracy < WeakBelow:
		return model.LevelWeak
	default:
		return model.LevelNeutral
	}
}

// Confidence scores how settled the statistic is, from 0 to 100. It rises as
// per-attempt accuracies agree and as the window fills.
func Confidence(accs []float64) float64 {
	n := len(accs)
	if n == 0 {
		return 0
	}
	var mean float64
	for _, a := range accs {
		mean += a
	}
	mean /= float64(n)
	var variance float64
	for _, a := range accs {
		variance += (a - mean) * (a - mean)
	}
	stddev := math.Sqrt(variance / float64(n))

	consistency := 100 - stddev
	coverage := float64(min(n, Window)) / Window
	return math.Max(0, math.Min(100, consistency*coverage))
}

func accuracies(snaps []model.AttemptSnapshot) []float64 {
	out := make([]float64, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, percent(s.Correct(), s.Total()))
	}
	return out
}

func percent(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(correct) / float64(total)
}
