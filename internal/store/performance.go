package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pavelanni/quizmaster/internal/model"
)

const snapshotColumns = `id, student_id, subject, topic, session_id, attempted_at,
	easy_correct, easy_total, medium_correct, medium_total, hard_correct, hard_total, time_spent`

// InsertSnapshot stores one attempt snapshot. It reports false when a snapshot
// for the same (student, topic, session) already exists.
func (q *Queries) InsertSnapshot(ctx context.Context, a model.AttemptSnapshot) (bool, error) {
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO attempt_snapshots (student_id, subject, topic, session_id, attempted_at,
		 easy_correct, easy_total, medium_correct, medium_total, hard_correct, hard_total, time_spent)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(student_id, subject, topic, session_id) DO NOTHING`,
		a.StudentID, a.Subject, a.Topic, a.SessionID, a.AttemptedAt.UTC(),
		a.Easy.Correct, a.Easy.Total, a.Medium.Correct, a.Medium.Total,
		a.Hard.Correct, a.Hard.Total, a.TimeSpent,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RecentSnapshots returns at most limit snapshots of a topic, newest first.
func (q *Queries) RecentSnapshots(ctx context.Context, studentID int64, key model.TopicKey, limit int) ([]model.AttemptSnapshot, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM attempt_snapshots
		 WHERE student_id = ? AND subject = ? AND topic = ?
		 ORDER BY attempted_at DESC, id DESC LIMIT ?`,
		studentID, key.Subject, key.Topic, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var snaps []model.AttemptSnapshot
	for rows.Next() {
		var a model.AttemptSnapshot
		if err := rows.Scan(&a.ID, &a.StudentID, &a.Subject, &a.Topic, &a.SessionID, &a.AttemptedAt,
			&a.Easy.Correct, &a.Easy.Total, &a.Medium.Correct, &a.Medium.Total,
			&a.Hard.Correct, &a.Hard.Total, &a.TimeSpent); err != nil {
			return nil, err
		}
		snaps = append(snaps, a)
	}
	return snaps, rows.Err()
}

// PruneSnapshots deletes all but the keep most recent snapshots of a topic.
func (q *Queries) PruneSnapshots(ctx context.Context, studentID int64, key model.TopicKey, keep int) (int64, error) {
	res, err := q.q.ExecContext(ctx,
		`DELETE FROM attempt_snapshots
		 WHERE student_id = ? AND subject = ? AND topic = ? AND id NOT IN (
			SELECT id FROM attempt_snapshots
			WHERE student_id = ? AND subject = ? AND topic = ?
			ORDER BY attempted_at DESC, id DESC LIMIT ?
		 )`,
		studentID, key.Subject, key.Topic, studentID, key.Subject, key.Topic, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const performanceColumns = `student_id, subject, topic, total_attempts, total_questions,
	correct_answers, accuracy_percent, easy_correct, easy_total, medium_correct, medium_total,
	hard_correct, hard_total, performance_level, confidence_score, last_updated`

func scanPerformance(r rowScanner) (model.TopicPerformance, error) {
	var p model.TopicPerformance
	err := r.Scan(&p.StudentID, &p.Subject, &p.Topic, &p.TotalAttempts, &p.TotalQuestions,
		&p.CorrectAnswers, &p.AccuracyPercent, &p.Easy.Correct, &p.Easy.Total,
		&p.Medium.Correct, &p.Medium.Total, &p.Hard.Correct, &p.Hard.Total,
		&p.PerformanceLevel, &p.ConfidenceScore, &p.LastUpdated)
	return p, err
}

// GetPerformance returns the rolling statistic of one topic.
func (q *Queries) GetPerformance(ctx context.Context, studentID int64, key model.TopicKey) (model.TopicPerformance, error) {
	p, err := scanPerformance(q.q.QueryRowContext(ctx,
		`SELECT `+performanceColumns+` FROM topic_performance
		 WHERE student_id = ? AND subject = ? AND topic = ?`,
		studentID, key.Subject, key.Topic))
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

// UpsertPerformance writes the rolling statistic of one topic.
func (q *Queries) UpsertPerformance(ctx context.Context, p model.TopicPerformance) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO topic_performance (`+performanceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(student_id, subject, topic) DO UPDATE SET
			total_attempts = excluded.total_attempts,
			total_questions = excluded.total_questions,
			correct_answers = excluded.correct_answers,
			accuracy_percent = excluded.accuracy_percent,
			easy_correct = excluded.easy_correct,
			easy_total = excluded.easy_total,
			medium_correct = excluded.medium_correct,
			medium_total = excluded.medium_total,
			hard_correct = excluded.hard_correct,
			hard_total = excluded.hard_total,
			performance_level = excluded.performance_level,
			confidence_score = excluded.confidence_score,
			last_updated = excluded.last_updated`,
		p.StudentID, p.Subject, p.Topic, p.TotalAttempts, p.TotalQuestions,
		p.CorrectAnswers, p.AccuracyPercent, p.Easy.Correct, p.Easy.Total,
		p.Medium.Correct, p.Medium.Total, p.Hard.Correct, p.Hard.Total,
		p.PerformanceLevel, p.ConfidenceScore, p.LastUpdated.UTC(),
	)
	return err
}

// ListPerformance returns every topic statistic of a student ordered by
// subject and topic.
func (q *Queries) ListPerformance(ctx context.Context, studentID int64) ([]model.TopicPerformance, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+performanceColumns+` FROM topic_performance
		 WHERE student_id = ? ORDER BY subject, topic`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perf []model.TopicPerformance
	for rows.Next() {
		p, err := scanPerformance(rows)
		if err != nil {
			return nil, err
		}
		perf = append(perf, p)
	}
	return perf, rows.Err()
}

// PerformanceLevels returns the classification of every topic a student has
// attempted.
func (q *Queries) PerformanceLevels(ctx context.Context, studentID int64) (map[model.TopicKey]model.PerformanceLevel, error) {
	perf, err := q.ListPerformance(ctx, studentID)
	if err != nil {
		return nil, err
	}
	levels := make(map[model.TopicKey]model.PerformanceLevel, len(perf))
	for _, p := range perf {
		levels[p.Key()] = p.PerformanceLevel
	}
	return levels, nil
}

// CountPerformance returns how many topic statistics a student has.
func (q *Queries) CountPerformance(ctx context.Context, studentID int64) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM topic_performance WHERE student_id = ?`, studentID).Scan(&n)
	return n, err
}
