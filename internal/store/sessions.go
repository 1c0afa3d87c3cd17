package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/quizmaster/internal/model"
)

const sessionColumns = `id, student_id, scope, challenge_id, focus_area, status, started_at,
	completed_at, last_activity_at, total_questions, correct_count, wrong_count, total_points,
	time_taken_seconds, score_percentage, current_question_id, current_tier,
	consecutive_correct, consecutive_wrong`

func scanSession(r rowScanner) (model.QuizSession, error) {
	var (
		s           model.QuizSession
		scope       string
		challengeID sql.NullString
		current     sql.NullInt64
	)
	err := r.Scan(&s.ID, &s.StudentID, &scope, &challengeID, &s.FocusArea, &s.Status, &s.StartedAt,
		&s.CompletedAt, &s.LastActivityAt, &s.TotalQuestions, &s.CorrectCount, &s.WrongCount,
		&s.TotalPoints, &s.TimeTakenSeconds, &s.ScorePercentage, &current, &s.CurrentTier,
		&s.ConsecutiveCorrect, &s.ConsecutiveWrong)
	if err != nil {
		return s, err
	}
	if s.Scope, err = model.DecodeScope(scope); err != nil {
		return s, fmt.Errorf("session %s: %w", s.ID, err)
	}
	s.ChallengeID = challengeID.String
	if current.Valid {
		id := current.Int64
		s.CurrentQuestionID = &id
	}
	return s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// CreateSession inserts a new quiz session.
func (q *Queries) CreateSession(ctx context.Context, s model.QuizSession) error {
	scope, err := model.EncodeScope(s.Scope)
	if err != nil {
		return err
	}
	_, err = q.q.ExecContext(ctx,
		`INSERT INTO quiz_sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.StudentID, scope, nullString(s.ChallengeID), s.FocusArea, s.Status, s.StartedAt.UTC(),
		utcPtr(s.CompletedAt), s.LastActivityAt.UTC(), s.TotalQuestions, s.CorrectCount, s.WrongCount,
		s.TotalPoints, s.TimeTakenSeconds, s.ScorePercentage, nullInt64(s.CurrentQuestionID),
		s.CurrentTier, s.ConsecutiveCorrect, s.ConsecutiveWrong,
	)
	return err
}

// GetSession returns a session by ID.
func (q *Queries) GetSession(ctx context.Context, id string) (model.QuizSession, error) {
	s, err := scanSession(q.q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM quiz_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

// UpdateSession writes every mutable column of the session. Scope, owner and
// start time never change after creation.
func (q *Queries) UpdateSession(ctx context.Context, s model.QuizSession) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE quiz_sessions SET status = ?, completed_at = ?, last_activity_at = ?,
		 total_questions = ?, correct_count = ?, wrong_count = ?, total_points = ?,
		 time_taken_seconds = ?, score_percentage = ?, current_question_id = ?,
		 current_tier = ?, consecutive_correct = ?, consecutive_wrong = ?
		 WHERE id = ?`,
		s.Status, utcPtr(s.CompletedAt), s.LastActivityAt.UTC(), s.TotalQuestions, s.CorrectCount,
		s.WrongCount, s.TotalPoints, s.TimeTakenSeconds, s.ScorePercentage,
		nullInt64(s.CurrentQuestionID), s.CurrentTier, s.ConsecutiveCorrect, s.ConsecutiveWrong,
		s.ID,
	)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// ListSessions returns the sessions of a student, newest first. A zero
// studentID lists every session.
func (q *Queries) ListSessions(ctx context.Context, studentID int64) ([]model.QuizSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM quiz_sessions`
	var args []any
	if studentID != 0 {
		query += ` WHERE student_id = ?`
		args = append(args, studentID)
	}
	query += ` ORDER BY started_at DESC, id`
	return q.querySessions(ctx, query, args...)
}

// ListSessionsByStatus returns every session in the given status, oldest first.
func (q *Queries) ListSessionsByStatus(ctx context.Context, status model.SessionStatus) ([]model.QuizSession, error) {
	return q.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM quiz_sessions WHERE status = ? ORDER BY started_at, id`, status)
}

func (q *Queries) querySessions(ctx context.Context, query string, args ...any) ([]model.QuizSession, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []model.QuizSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// AbandonStaleSessions moves active sessions with no activity since cutoff to
// abandoned and returns how many were moved.
func (q *Queries) AbandonStaleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.q.ExecContext(ctx,
		`UPDATE quiz_sessions SET status = ?, current_question_id = NULL
		 WHERE status = ? AND last_activity_at < ?`,
		model.StatusAbandoned, model.StatusActive, cutoff.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetSessionView returns a session together with its answer log.
func (q *Queries) GetSessionView(ctx context.Context, id string) (model.SessionView, error) {
	var view model.SessionView
	s, err := q.GetSession(ctx, id)
	if err != nil {
		return view, err
	}
	answers, err := q.ListAnswers(ctx, id)
	if err != nil {
		return view, fmt.Errorf("list answers: %w", err)
	}
	view.Session = s
	view.Answers = answers
	return view, nil
}
