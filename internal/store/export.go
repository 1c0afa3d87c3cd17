package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/quizmaster/internal/model"
)

// SessionExport is the export-ready record of one completed quiz session.
type SessionExport struct {
	SessionID       string               `json:"session_id"`
	Username        string               `json:"username"`
	DisplayName     string               `json:"display_name"`
	SessionNumber   int                  `json:"session_number"`
	ChallengeID     string               `json:"challenge_id,omitempty"`
	FocusArea       model.FocusArea      `json:"focus_area"`
	StartedAt       time.Time            `json:"started_at"`
	CompletedAt     *time.Time           `json:"completed_at"`
	TotalQuestions  int                  `json:"total_questions"`
	CorrectCount    int                  `json:"correct_count"`
	TotalPoints     int                  `json:"total_points"`
	ScorePercentage float64              `json:"score_percentage"`
	TimeTaken       int                  `json:"time_taken_seconds"`
	Answers         []model.AnswerRecord `json:"answers"`
}

// ExportCompletedSessions builds export records for every completed session.
func (s *Store) ExportCompletedSessions(ctx context.Context) ([]SessionExport, error) {
	sessions, err := s.ListSessionsByStatus(ctx, model.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	// Track session count per student for session_number.
	studentSessionCount := make(map[int64]int)
	users := make(map[int64]*model.User)

	var results []SessionExport
	for _, sess := range sessions {
		studentSessionCount[sess.StudentID]++

		answers, err := s.ListAnswers(ctx, sess.ID)
		if err != nil {
			return nil, fmt.Errorf("list answers for session %s: %w", sess.ID, err)
		}

		user, ok := users[sess.StudentID]
		if !ok {
			user, err = s.GetUserByID(ctx, sess.StudentID)
			if err != nil {
				return nil, fmt.Errorf("get user %d: %w", sess.StudentID, err)
			}
			users[sess.StudentID] = user
		}
		var username, displayName string
		if user != nil {
			username = user.Username
			displayName = user.DisplayName
		}

		results = append(results, SessionExport{
			SessionID:       sess.ID,
			Username:        username,
			DisplayName:     displayName,
			SessionNumber:   studentSessionCount[sess.StudentID],
			ChallengeID:     sess.ChallengeID,
			FocusArea:       sess.FocusArea,
			StartedAt:       sess.StartedAt,
			CompletedAt:     sess.CompletedAt,
			TotalQuestions:  sess.TotalQuestions,
			CorrectCount:    sess.CorrectCount,
			TotalPoints:     sess.TotalPoints,
			ScorePercentage: sess.ScorePercentage,
			TimeTaken:       sess.TimeTakenSeconds,
			Answers:         answers,
		})
	}
	return results, nil
}
