package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pavelanni/quizmaster/internal/model"
)

// ErrDuplicateAnswer is returned when the session already holds a record for
// the question.
var ErrDuplicateAnswer = errors.New("answer already recorded")

const answerColumns = `id, session_id, question_id, subject, topic, subtopic, user_answer,
	is_correct, points_earned, time_spent_seconds, difficulty, answered_at`

func scanAnswer(r rowScanner) (model.AnswerRecord, error) {
	var (
		a      model.AnswerRecord
		answer sql.NullString
	)
	err := r.Scan(&a.ID, &a.SessionID, &a.QuestionID, &a.Subject, &a.Topic, &a.Subtopic, &answer,
		&a.IsCorrect, &a.PointsEarned, &a.TimeSpentSeconds, &a.DifficultyAtAsk, &a.AnsweredAt)
	if err != nil {
		return a, err
	}
	if answer.Valid {
		v := answer.String
		a.UserAnswer = &v
	}
	return a, nil
}

// InsertAnswer appends a record to the answer log. A second record for the
// same (session, question) fails with ErrDuplicateAnswer.
func (q *Queries) InsertAnswer(ctx context.Context, a model.AnswerRecord) (int64, error) {
	var answer sql.NullString
	if a.UserAnswer != nil {
		answer = sql.NullString{String: *a.UserAnswer, Valid: true}
	}
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO answer_records (session_id, question_id, subject, topic, subtopic, user_answer,
		 is_correct, points_earned, time_spent_seconds, difficulty, answered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.SessionID, a.QuestionID, a.Subject, a.Topic, a.Subtopic, answer,
		a.IsCorrect, a.PointsEarned, a.TimeSpentSeconds, a.DifficultyAtAsk, a.AnsweredAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicateAnswer
		}
		return 0, err
	}
	return res.LastInsertId()
}

// GetAnswer returns the record for a question in a session.
func (q *Queries) GetAnswer(ctx context.Context, sessionID string, questionID int64) (model.AnswerRecord, error) {
	a, err := scanAnswer(q.q.QueryRowContext(ctx,
		`SELECT `+answerColumns+` FROM answer_records WHERE session_id = ? AND question_id = ?`,
		sessionID, questionID))
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	return a, err
}

// ListAnswers returns the answer log of a session in the order answered.
func (q *Queries) ListAnswers(ctx context.Context, sessionID string) ([]model.AnswerRecord, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+answerColumns+` FROM answer_records WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []model.AnswerRecord
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}
