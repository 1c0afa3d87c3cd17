package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/quizmaster/internal/model"
)

const challengeColumns = `id, assigned_by, assigned_to, challenge_type, scope, question_count,
	focus_area, requested_focus, focus_fallback, allocation, status, session_id, created_at, expires_at`

func scanChallenge(r rowScanner) (model.Challenge, error) {
	var (
		c          model.Challenge
		scope      string
		allocation string
		sessionID  sql.NullString
	)
	err := r.Scan(&c.ID, &c.AssignedBy, &c.AssignedTo, &c.Type, &scope, &c.QuestionCount,
		&c.FocusArea, &c.RequestedFocus, &c.FocusFallback, &allocation, &c.Status, &sessionID,
		&c.CreatedAt, &c.ExpiresAt)
	if err != nil {
		return c, err
	}
	if c.Scope, err = model.DecodeScope(scope); err != nil {
		return c, fmt.Errorf("challenge %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(allocation), &c.Allocation); err != nil {
		return c, fmt.Errorf("challenge %s: decode allocation: %w", c.ID, err)
	}
	c.SessionID = sessionID.String
	return c, nil
}

// CreateChallenge inserts a new challenge.
func (q *Queries) CreateChallenge(ctx context.Context, c model.Challenge) error {
	scope, err := model.EncodeScope(c.Scope)
	if err != nil {
		return err
	}
	alloc := c.Allocation
	if alloc == nil {
		alloc = []int{}
	}
	allocation, err := json.Marshal(alloc)
	if err != nil {
		return err
	}
	_, err = q.q.ExecContext(ctx,
		`INSERT INTO challenges (`+challengeColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AssignedBy, c.AssignedTo, c.Type, scope, c.QuestionCount,
		c.FocusArea, c.RequestedFocus, c.FocusFallback, string(allocation), c.Status,
		nullString(c.SessionID), c.CreatedAt.UTC(), c.ExpiresAt.UTC(),
	)
	return err
}

// GetChallenge returns a challenge by ID.
func (q *Queries) GetChallenge(ctx context.Context, id string) (model.Challenge, error) {
	c, err := scanChallenge(q.q.QueryRowContext(ctx,
		`SELECT `+challengeColumns+` FROM challenges WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

// ConsumeChallenge binds a pending, unexpired, unconsumed challenge to a
// session. It fails with model.ErrChallengeUnavailable when any of those
// conditions does not hold, so a challenge seeds at most one session.
func (q *Queries) ConsumeChallenge(ctx context.Context, id string, studentID int64, sessionID string, now time.Time) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE challenges SET session_id = ?
		 WHERE id = ? AND assigned_to = ? AND status = ? AND session_id IS NULL AND expires_at > ?`,
		sessionID, id, studentID, model.ChallengePending, now.UTC(),
	)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		return model.ErrChallengeUnavailable
	}
	return nil
}

// CompleteChallenge marks the challenge consumed by sessionID as completed. It
// reports false when the challenge was already completed.
func (q *Queries) CompleteChallenge(ctx context.Context, id, sessionID string) (bool, error) {
	res, err := q.q.ExecContext(ctx,
		`UPDATE challenges SET status = ? WHERE id = ? AND session_id = ? AND status = ?`,
		model.ChallengeCompleted, id, sessionID, model.ChallengePending,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// DismissChallenge moves a pending challenge that no session has consumed to
// dismissed.
func (q *Queries) DismissChallenge(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE challenges SET status = ? WHERE id = ? AND status = ? AND session_id IS NULL`,
		model.ChallengeDismissed, id, model.ChallengePending,
	)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		return model.ErrChallengeUnavailable
	}
	return nil
}

// DismissChallengeOfSession moves the pending challenge consumed by an
// abandoned session to dismissed, so it does not linger as pending.
func (q *Queries) DismissChallengeOfSession(ctx context.Context, id, sessionID string) error {
	_, err := q.q.ExecContext(ctx,
		`UPDATE challenges SET status = ? WHERE id = ? AND session_id = ? AND status = ?`,
		model.ChallengeDismissed, id, sessionID, model.ChallengePending,
	)
	return err
}

// DismissAbandonedChallenges dismisses every pending challenge whose session
// has been abandoned and returns how many were moved.
func (q *Queries) DismissAbandonedChallenges(ctx context.Context) (int64, error) {
	res, err := q.q.ExecContext(ctx,
		`UPDATE challenges SET status = ?
		 WHERE status = ? AND session_id IN (SELECT id FROM quiz_sessions WHERE status = ?)`,
		model.ChallengeDismissed, model.ChallengePending, model.StatusAbandoned,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListChallenges returns the challenges assigned to a student, newest first.
// An empty status lists every status. A pending challenge that no session
// consumed before its expiry is reported as expired.
func (q *Queries) ListChallenges(ctx context.Context, assignedTo int64, status model.ChallengeStatus, now time.Time) ([]model.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE assigned_to = ?`
	args := []any{assignedTo}
	switch status {
	case "":
	case model.ChallengePending:
		query += ` AND status = ? AND (session_id IS NOT NULL OR expires_at > ?)`
		args = append(args, status, now.UTC())
	case model.ChallengeExpired:
		query += ` AND status = ? AND session_id IS NULL AND expires_at <= ?`
		args = append(args, model.ChallengePending, now.UTC())
	default:
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id`
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var challenges []model.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		if c.Status == model.ChallengePending && c.SessionID == "" && !now.Before(c.ExpiresAt) {
			c.Status = model.ChallengeExpired
		}
		challenges = append(challenges, c)
	}
	return challenges, rows.Err()
}
