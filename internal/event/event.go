// Package event publishes quiz lifecycle events to the notification layer.
package event

import (
	"context"
	"sync"
	"time"
)

// TypeQuizCompleted is the routing key of completion events.
const TypeQuizCompleted = "quiz.completed"

// QuizCompleted is published once per session when it first completes.
type QuizCompleted struct {
	EventType       string    `json:"event_type"`
	SessionID       string    `json:"session_id"`
	StudentID       int64     `json:"student_id"`
	ChallengeID     string    `json:"challenge_id,omitempty"`
	AssignedBy      int64     `json:"assigned_by,omitempty"`
	ScorePercentage float64   `json:"score_percentage"`
	CorrectAnswers  int       `json:"correct_answers"`
	WrongAnswers    int       `json:"wrong_answers"`
	TotalPoints     int       `json:"total_points"`
	TimeTaken       int       `json:"time_taken_seconds"`
	CompletedAt     time.Time `json:"completed_at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	PublishQuizCompleted(ctx context.Context, e QuizCompleted) error
	Close() error
}

// MockPublisher records events in memory.
type MockPublisher struct {
	mu     sync.Mutex
	events []QuizCompleted
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishQuizCompleted(_ context.Context, e QuizCompleted) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *MockPublisher) Close() error { return nil }

// Events returns a copy of the recorded events.
func (m *MockPublisher) Events() []QuizCompleted {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]QuizCompleted(nil), m.events...)
}
