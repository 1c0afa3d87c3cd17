// Package quiz runs adaptive quiz sessions: start, answer, advance and
// complete, each as one atomic step.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/quizmaster/internal/event"
	"github.com/pavelanni/quizmaster/internal/model"
	"github.com/pavelanni/quizmaster/internal/selector"
	"github.com/pavelanni/quizmaster/internal/store"
	"github.com/pavelanni/quizmaster/internal/tracker"
)

// DefaultQuestionCount is used when a request leaves the count unset.
const DefaultQuestionCount = 10

// Engine is safe for concurrent use. Calls on the same session are serialized;
// calls on different sessions are not.
type Engine struct {
	store     *store.Store
	selector  *selector.Selector
	publisher event.Publisher
	cfg       model.QuizConfig
	now       func() time.Time
	locks     *keyedMutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithSelector replaces the question selector.
func WithSelector(s *selector.Selector) Option {
	return func(e *Engine) { e.selector = s }
}

// WithPublisher sets where completion events go.
func WithPublisher(p event.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(s *store.Store, cfg model.QuizConfig, opts ...Option) *Engine {
	if cfg.DefaultQuestionCount <= 0 {
		cfg.DefaultQuestionCount = DefaultQuestionCount
	}
	if cfg.StreakUp <= 0 {
		cfg.StreakUp = selector.DefaultStreakUp
	}
	if cfg.StreakDown <= 0 {
		cfg.StreakDown = selector.DefaultStreakDown
	}
	if cfg.MixTolerance <= 0 {
		cfg.MixTolerance = selector.DefaultTolerance
	}
	e := &Engine{
		store:     s,
		selector:  selector.New(nil),
		publisher: event.NewMockPublisher(),
		cfg:       cfg,
		now:       time.Now,
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartRequest opens a session. With ChallengeID set, scope, count and focus
// come from the challenge and the other fields are ignored.
type StartRequest struct {
	StudentID     int64
	Scope         model.Scope
	QuestionCount int
	FocusArea     model.FocusArea
	ChallengeID   string
}

// StartResult is the new session and its first question.
type StartResult struct {
	Session  model.QuizSession `json:"session"`
	Question model.Question    `json:"question"`
	Number   int               `json:"current_question_number"`
	Total    int               `json:"total_questions"`
}

// SubmitResult is the grading of one answer. Duplicate is set when the
// question had already been answered and the original grading is returned.
type SubmitResult struct {
	Record        model.AnswerRecord `json:"record"`
	IsCorrect     bool               `json:"is_correct"`
	CorrectAnswer string             `json:"correct_answer"`
	PointsEarned  int                `json:"points_earned"`
	Duplicate     bool               `json:"duplicate"`
}

// Result is the final score of a completed session.
type Result struct {
	SessionID       string  `json:"session_id"`
	ScorePercentage float64 `json:"score_percentage"`
	CorrectAnswers  int     `json:"correct_answers"`
	WrongAnswers    int     `json:"wrong_answers"`
	TotalQuestions  int     `json:"total_questions"`
	TotalPoints     int     `json:"total_points"`
	TimeTaken       int     `json:"time_taken_seconds"`
}

// NextResult carries either the next question or, when the session is over,
// its result.
type NextResult struct {
	Question  *model.Question `json:"question,omitempty"`
	Number    int             `json:"current_question_number,omitempty"`
	Total     int             `json:"total_questions"`
	Completed *Result         `json:"completed,omitempty"`
}

// Start creates a session and selects its first question.
func (e *Engine) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	if req.ChallengeID == "" {
		if err := e.normalizeStart(&req); err != nil {
			return StartResult{}, err
		}
	}

	var res StartResult
	err := e.store.WithTx(ctx, func(q *store.Queries) error {
		now := e.now()
		if req.ChallengeID != "" {
			c, err := q.GetChallenge(ctx, req.ChallengeID)
			if errors.Is(err, store.ErrNotFound) {
				return model.ErrChallengeUnavailable
			}
			if err != nil {
				return fmt.Errorf("get challenge: %w", err)
			}
			if c.AssignedTo != req.StudentID {
				return model.ErrNotOwner
			}
			if c.Status != model.ChallengePending || c.SessionID != "" || c.Expired(now) {
				return model.ErrChallengeUnavailable
			}
			req.Scope = c.Scope
			req.QuestionCount = c.QuestionCount
			req.FocusArea = c.FocusArea
		}

		pool, err := q.LoadPool(ctx, req.Scope)
		if err != nil {
			return fmt.Errorf("load pool: %w", err)
		}
		if len(pool) == 0 {
			return model.ErrInvalidScope
		}

		sess := model.QuizSession{
			ID:             uuid.NewString(),
			StudentID:      req.StudentID,
			Scope:          req.Scope,
			ChallengeID:    req.ChallengeID,
			FocusArea:      req.FocusArea,
			Status:         model.StatusActive,
			StartedAt:      now,
			LastActivityAt: now,
			TotalQuestions: min(req.QuestionCount, len(pool)),
			CurrentTier:    model.DifficultyMedium,
		}
		first, err := e.pick(ctx, q, sess, pool, nil)
		if err != nil {
			return err
		}
		sess.CurrentQuestionID = &first.ID

		if err := q.CreateSession(ctx, sess); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		if req.ChallengeID != "" {
			if err := q.ConsumeChallenge(ctx, req.ChallengeID, req.StudentID, sess.ID, now); err != nil {
				return err
			}
		}
		res = StartResult{Session: sess, Question: first, Number: 1, Total: sess.TotalQuestions}
		return nil
	})
	if err != nil {
		return StartResult{}, err
	}
	slog.Info("quiz started", "session_id", res.Session.ID, "student_id", req.StudentID,
		"total", res.Total, "focus", res.Session.FocusArea, "challenge_id", req.ChallengeID)
	return res, nil
}

func (e *Engine) normalizeStart(req *StartRequest) error {
	if model.ScopeEmpty(req.Scope) {
		return model.Invalid("scope", "required", nil)
	}
	if ts, ok := req.Scope.(model.TopicsScope); ok {
		if err := ts.Validate(); err != nil {
			return err
		}
	}
	if req.QuestionCount == 0 {
		req.QuestionCount = e.cfg.DefaultQuestionCount
	}
	if req.QuestionCount < 0 {
		return model.Invalid("question_count", "out_of_range", map[string]any{"Value": req.QuestionCount})
	}
	if req.FocusArea == "" {
		req.FocusArea = model.FocusBalanced
	}
	if !req.FocusArea.Valid() {
		return model.Invalid("focus_area", "invalid_focus_area", map[string]any{"Value": req.FocusArea})
	}
	return nil
}

// pick selects the next question of sess. answers is the session's answer log.
func (e *Engine) pick(ctx context.Context, q *store.Queries, sess model.QuizSession, pool []model.Question, answers []model.AnswerRecord) (model.Question, error) {
	c := selector.Constraints{
		Scope:     sess.Scope,
		Focus:     sess.FocusArea,
		Total:     sess.TotalQuestions,
		Tolerance: e.cfg.MixTolerance,
	}
	if ts, ok := sess.Scope.(model.TopicsScope); ok {
		c.Allocation = selector.Allocate(sess.TotalQuestions, len(ts.Selectors))
	}
	if sess.FocusArea != model.FocusBalanced {
		levels, err := q.PerformanceLevels(ctx, sess.StudentID)
		if err != nil {
			return model.Question{}, fmt.Errorf("performance levels: %w", err)
		}
		c.Levels = levels
	}
	return e.selector.NextQuestion(selector.State{Answered: answers, Tier: sess.CurrentTier}, pool, c)
}

// loadOwned reads a session and checks it belongs to studentID.
func loadOwned(ctx context.Context, q *store.Queries, sessionID string, studentID int64) (model.QuizSession, error) {
	sess, err := q.GetSession(ctx, sessionID)
	if err != nil {
		return sess, err
	}
	if sess.StudentID != studentID {
		return sess, model.ErrNotOwner
	}
	return sess, nil
}

// SubmitAnswer grades the answer to the session's current question. An empty
// answer records a timeout. Submitting again for an answered question returns
// the original grading.
func (e *Engine) SubmitAnswer(ctx context.Context, sessionID string, studentID, questionID int64, answer string, timeSpent int) (SubmitResult, error) {
	if timeSpent < 0 {
		return SubmitResult{}, model.Invalid("time_spent", "out_of_range", map[string]any{"Value": timeSpent})
	}
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	var res SubmitResult
	err := e.store.WithTx(ctx, func(q *store.Queries) error {
		sess, err := loadOwned(ctx, q, sessionID, studentID)
		if err != nil {
			return err
		}

		prev, err := q.GetAnswer(ctx, sessionID, questionID)
		switch {
		case err == nil:
			res, err = duplicate(ctx, q, prev)
			return err
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("get answer: %w", err)
		}

		if sess.Status != model.StatusActive {
			return model.ErrSessionNotActive
		}
		if sess.CurrentQuestionID == nil || *sess.CurrentQuestionID != questionID {
			return model.ErrQuestionNotCurrent
		}
		qu, err := q.GetQuestion(ctx, questionID)
		if err != nil {
			return fmt.Errorf("get question: %w", err)
		}

		now := e.now()
		correct, points := Grade(qu, answer)
		rec := model.AnswerRecord{
			SessionID:        sessionID,
			QuestionID:       questionID,
			Subject:          qu.Subject,
			Topic:            qu.Topic,
			Subtopic:         qu.Subtopic,
			IsCorrect:        correct,
			PointsEarned:     points,
			TimeSpentSeconds: timeSpent,
			DifficultyAtAsk:  qu.Difficulty,
			AnsweredAt:       now,
		}
		if strings.TrimSpace(answer) != "" {
			rec.UserAnswer = &answer
		}
		rec.ID, err = q.InsertAnswer(ctx, rec)
		if errors.Is(err, store.ErrDuplicateAnswer) {
			// Another process won the race; report its grading.
			prev, err := q.GetAnswer(ctx, sessionID, questionID)
			if err != nil {
				return fmt.Errorf("get answer: %w", err)
			}
			res, err = duplicate(ctx, q, prev)
			return err
		}
		if err != nil {
			return fmt.Errorf("insert answer: %w", err)
		}

		if correct {
			sess.CorrectCount++
		} else {
			sess.WrongCount++
		}
		sess.TotalPoints += points
		sess.TimeTakenSeconds += timeSpent
		tier, streak := selector.Adapt(sess.CurrentTier,
			selector.Streak{Correct: sess.ConsecutiveCorrect, Wrong: sess.ConsecutiveWrong},
			correct, selector.StreakConfig{Up: e.cfg.StreakUp, Down: e.cfg.StreakDown})
		sess.CurrentTier = tier
		sess.ConsecutiveCorrect = streak.Correct
		sess.ConsecutiveWrong = streak.Wrong
		sess.CurrentQuestionID = nil
		sess.LastActivityAt = now
		if err := q.UpdateSession(ctx, sess); err != nil {
			return fmt.Errorf("update session: %w", err)
		}

		res = SubmitResult{
			Record:        rec,
			IsCorrect:     correct,
			CorrectAnswer: qu.CorrectAnswer,
			PointsEarned:  points,
		}
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}
	if res.Duplicate {
		slog.Info("duplicate answer ignored", "session_id", sessionID, "question_id", questionID)
	}
	return res, nil
}

func duplicate(ctx context.Context, q *store.Queries, rec model.AnswerRecord) (SubmitResult, error) {
	qu, err := q.GetQuestion(ctx, rec.QuestionID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("get question: %w", err)
	}
	return SubmitResult{
		Record:        rec,
		IsCorrect:     rec.IsCorrect,
		CorrectAnswer: qu.CorrectAnswer,
		PointsEarned:  rec.PointsEarned,
		Duplicate:     true,
	}, nil
}

// Advance moves the session to its next question. An unanswered current
// question is returned again. When the planned count is reached or the pool
// runs out the session completes and the result is returned instead.
func (e *Engine) Advance(ctx context.Context, sessionID string, studentID int64) (NextResult, error) {
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	var (
		res     NextResult
		pending *event.QuizCompleted
	)
	err := e.store.WithTx(ctx, func(q *store.Queries) error {
		sess, err := loadOwned(ctx, q, sessionID, studentID)
		if err != nil {
			return err
		}
		switch sess.Status {
		case model.StatusCompleted:
			r := resultOf(sess)
			res = NextResult{Total: sess.TotalQuestions, Completed: &r}
			return nil
		case model.StatusAbandoned:
			return model.ErrSessionNotActive
		}

		if sess.CurrentQuestionID != nil {
			qu, err := q.GetQuestion(ctx, *sess.CurrentQuestionID)
			if err != nil {
				return fmt.Errorf("get question: %w", err)
			}
			res = NextResult{Question: &qu, Number: sess.Answered() + 1, Total: sess.TotalQuestions}
			return nil
		}

		if sess.Answered() < sess.TotalQuestions {
			pool, err := q.LoadPool(ctx, sess.Scope)
			if err != nil {
				return fmt.Errorf("load pool: %w", err)
			}
			answers, err := q.ListAnswers(ctx, sess.ID)
			if err != nil {
				return fmt.Errorf("list answers: %w", err)
			}
			next, err := e.pick(ctx, q, sess, pool, answers)
			switch {
			case err == nil:
				sess.CurrentQuestionID = &next.ID
				sess.LastActivityAt = e.now()
				if err := q.UpdateSession(ctx, sess); err != nil {
					return fmt.Errorf("update session: %w", err)
				}
				res = NextResult{Question: &next, Number: sess.Answered() + 1, Total: sess.TotalQuestions}
				return nil
			case errors.Is(err, selector.ErrExhausted):
				slog.Info("question pool exhausted", "session_id", sess.ID, "answered", sess.Answered())
				sess.TotalQuestions = sess.Answered()
			default:
				return err
			}
		}

		r, ev, err := e.finalize(ctx, q, sess)
		if err != nil {
			return err
		}
		res = NextResult{Total: r.TotalQuestions, Completed: &r}
		pending = ev
		return nil
	})
	if err != nil {
		return NextResult{}, err
	}
	e.publish(ctx, pending)
	return res, nil
}

// Complete finalizes the session. Completing a completed session returns the
// stored result without recounting anything.
func (e *Engine) Complete(ctx context.Context, sessionID string, studentID int64) (Result, error) {
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	var (
		res     Result
		pending *event.QuizCompleted
	)
	err := e.store.WithTx(ctx, func(q *store.Queries) error {
		sess, err := loadOwned(ctx, q, sessionID, studentID)
		if err != nil {
			return err
		}
		switch sess.Status {
		case model.StatusCompleted:
			res = resultOf(sess)
			return nil
		case model.StatusAbandoned:
			return model.ErrSessionNotActive
		}
		res, pending, err = e.finalize(ctx, q, sess)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	e.publish(ctx, pending)
	return res, nil
}

// finalize scores an active session from its answer log, folds every topic it
// touched into the tracker and closes the originating challenge.
func (e *Engine) finalize(ctx context.Context, q *store.Queries, sess model.QuizSession) (Result, *event.QuizCompleted, error) {
	answers, err := q.ListAnswers(ctx, sess.ID)
	if err != nil {
		return Result{}, nil, fmt.Errorf("list answers: %w", err)
	}

	now := e.now()
	sess.CorrectCount, sess.WrongCount, sess.TotalPoints, sess.TimeTakenSeconds = 0, 0, 0, 0
	var (
		order    []model.TopicKey
		outcomes = make(map[model.TopicKey][]tracker.Outcome)
	)
	for _, a := range answers {
		if a.IsCorrect {
			sess.CorrectCount++
		} else {
			sess.WrongCount++
		}
		sess.TotalPoints += a.PointsEarned
		sess.TimeTakenSeconds += a.TimeSpentSeconds

		k := a.Key()
		if _, ok := outcomes[k]; !ok {
			order = append(order, k)
		}
		outcomes[k] = append(outcomes[k], tracker.Outcome{
			Difficulty:       a.DifficultyAtAsk,
			Correct:          a.IsCorrect,
			TimeSpentSeconds: a.TimeSpentSeconds,
		})
	}
	sess.ScorePercentage = 0
	if n := sess.Answered(); n > 0 {
		sess.ScorePercentage = 100 * float64(sess.CorrectCount) / float64(n)
	}
	sess.Status = model.StatusCompleted
	sess.CompletedAt = &now
	sess.LastActivityAt = now
	sess.CurrentQuestionID = nil

	for _, k := range order {
		if _, err := tracker.RecordAttempt(ctx, q, sess.StudentID, k, sess.ID, now, outcomes[k]); err != nil {
			return Result{}, nil, fmt.Errorf("record attempt for %s/%s: %w", k.Subject, k.Topic, err)
		}
	}

	ev := &event.QuizCompleted{
		SessionID:       sess.ID,
		StudentID:       sess.StudentID,
		ChallengeID:     sess.ChallengeID,
		ScorePercentage: sess.ScorePercentage,
		CorrectAnswers:  sess.CorrectCount,
		WrongAnswers:    sess.WrongCount,
		TotalPoints:     sess.TotalPoints,
		TimeTaken:       sess.TimeTakenSeconds,
		CompletedAt:     now,
	}
	if sess.ChallengeID != "" {
		if _, err := q.CompleteChallenge(ctx, sess.ChallengeID, sess.ID); err != nil {
			return Result{}, nil, fmt.Errorf("complete challenge: %w", err)
		}
		c, err := q.GetChallenge(ctx, sess.ChallengeID)
		if err != nil {
			return Result{}, nil, fmt.Errorf("get challenge: %w", err)
		}
		ev.AssignedBy = c.AssignedBy
	}

	if err := q.UpdateSession(ctx, sess); err != nil {
		return Result{}, nil, fmt.Errorf("update session: %w", err)
	}
	slog.Info("quiz completed", "session_id", sess.ID, "student_id", sess.StudentID,
		"score", sess.ScorePercentage, "answered", sess.Answered(), "points", sess.TotalPoints)
	return resultOf(sess), ev, nil
}

func resultOf(s model.QuizSession) Result {
	return Result{
		SessionID:       s.ID,
		ScorePercentage: s.ScorePercentage,
		CorrectAnswers:  s.CorrectCount,
		WrongAnswers:    s.WrongCount,
		TotalQuestions:  s.TotalQuestions,
		TotalPoints:     s.TotalPoints,
		TimeTaken:       s.TimeTakenSeconds,
	}
}

func (e *Engine) publish(ctx context.Context, ev *event.QuizCompleted) {
	if ev == nil {
		return
	}
	if err := e.publisher.PublishQuizCompleted(ctx, *ev); err != nil {
		slog.Warn("failed to publish completion event", "session_id", ev.SessionID, "error", err)
	}
}

// Abandon moves an active session to abandoned. Abandoning twice is a no-op.
func (e *Engine) Abandon(ctx context.Context, sessionID string, studentID int64) (model.QuizSession, error) {
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	var sess model.QuizSession
	err := e.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		sess, err = loadOwned(ctx, q, sessionID, studentID)
		if err != nil {
			return err
		}
		switch sess.Status {
		case model.StatusAbandoned:
			return nil
		case model.StatusCompleted:
			return model.ErrSessionNotActive
		}
		sess.Status = model.StatusAbandoned
		sess.CurrentQuestionID = nil
		sess.LastActivityAt = e.now()
		if err := q.UpdateSession(ctx, sess); err != nil {
			return err
		}
		if sess.ChallengeID == "" {
			return nil
		}
		if err := q.DismissChallengeOfSession(ctx, sess.ChallengeID, sess.ID); err != nil {
			return fmt.Errorf("dismiss challenge: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.QuizSession{}, err
	}
	slog.Info("quiz abandoned", "session_id", sessionID, "answered", sess.Answered())
	return sess, nil
}

// Get returns the session and its answer log.
func (e *Engine) Get(ctx context.Context, sessionID string, studentID int64) (model.SessionView, error) {
	view, err := e.store.GetSessionView(ctx, sessionID)
	if err != nil {
		return view, err
	}
	if view.Session.StudentID != studentID {
		return model.SessionView{}, model.ErrNotOwner
	}
	return view, nil
}

// SweepStale abandons active sessions idle for longer than idle and dismisses
// the challenges they consumed.
func (e *Engine) SweepStale(ctx context.Context, idle time.Duration) (int64, error) {
	var n, dismissed int64
	err := e.store.WithTx(ctx, func(q *store.Queries) error {
		var err error
		if n, err = q.AbandonStaleSessions(ctx, e.now().Add(-idle)); err != nil {
			return fmt.Errorf("abandon stale sessions: %w", err)
		}
		if dismissed, err = q.DismissAbandonedChallenges(ctx); err != nil {
			return fmt.Errorf("dismiss abandoned challenges: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("abandoned stale sessions", "count", n, "idle", idle, "challenges_dismissed", dismissed)
	}
	return n, nil
}
