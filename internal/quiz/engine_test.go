package quiz

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/quizmaster/internal/event"
	"github.com/pavelanni/quizmaster/internal/model"
	"github.com/pavelanni/quizmaster/internal/selector"
	"github.com/pavelanni/quizmaster/internal/store"
)

const student = int64(1)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	engine *Engine
	store  *store.Store
	events *event.MockPublisher
	clock  *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		store:  s,
		events: event.NewMockPublisher(),
		clock:  &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	f.engine = New(s, model.QuizConfig{},
		WithSelector(selector.New(rand.New(rand.NewPCG(7, 11)))),
		WithPublisher(f.events),
		WithClock(f.clock.Now),
	)
	return f
}

// seed inserts n questions per difficulty for each topic of module m1.
func (f *fixture) seed(t *testing.T, easy, medium, hard int, topics ...string) {
	t.Helper()
	counts := map[model.Difficulty]int{
		model.DifficultyEasy:   easy,
		model.DifficultyMedium: medium,
		model.DifficultyHard:   hard,
	}
	for _, topic := range topics {
		for _, d := range model.Difficulties {
			for i := 0; i < counts[d]; i++ {
				_, err := f.store.InsertQuestion(context.Background(), model.Question{
					ModuleID:      "m1",
					Subject:       "math",
					Topic:         topic,
					Text:          fmt.Sprintf("%s %s #%d", topic, d, i),
					Type:          model.QuestionShortAnswer,
					CorrectAnswer: fmt.Sprintf("answer %s %d", d, i),
					Difficulty:    d,
				})
				require.NoError(t, err)
			}
		}
	}
}

func (f *fixture) start(t *testing.T, count int, focus model.FocusArea) StartResult {
	t.Helper()
	res, err := f.engine.Start(context.Background(), StartRequest{
		StudentID:     student,
		Scope:         model.ModuleScope{ModuleID: "m1"},
		QuestionCount: count,
		FocusArea:     focus,
	})
	require.NoError(t, err)
	return res
}

// play answers every question until the session completes. answer decides
// the submitted text for the i-th question.
func (f *fixture) play(t *testing.T, start StartResult, answer func(q model.Question, i int) string) Result {
	t.Helper()
	ctx := context.Background()
	q := start.Question
	for i := 0; ; i++ {
		require.Less(t, i, 200, "session did not complete")
		_, err := f.engine.SubmitAnswer(ctx, start.Session.ID, student, q.ID, answer(q, i), 5)
		require.NoError(t, err)

		next, err := f.engine.Advance(ctx, start.Session.ID, student)
		require.NoError(t, err)
		if next.Completed != nil {
			return *next.Completed
		}
		require.NotNil(t, next.Question)
		assert.Equal(t, i+2, next.Number)
		q = *next.Question
	}
}

func alternate(q model.Question, i int) string {
	if i%2 == 0 {
		return q.CorrectAnswer
	}
	return "wrong"
}

func TestFullSession(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 10, 10, 10, "algebra", "geometry")

	start := f.start(t, 10, model.FocusBalanced)
	assert.Equal(t, 1, start.Number)
	assert.Equal(t, 10, start.Total)
	assert.Equal(t, model.DifficultyMedium, start.Question.Difficulty)

	res := f.play(t, start, alternate)
	assert.Equal(t, 5, res.CorrectAnswers)
	assert.Equal(t, 5, res.WrongAnswers)
	assert.InDelta(t, 50.0, res.ScorePercentage, 1e-9)
	assert.Equal(t, 50, res.TimeTaken)

	view, err := f.engine.Get(context.Background(), start.Session.ID, student)
	require.NoError(t, err)
	require.Len(t, view.Answers, 10)

	seen := make(map[int64]bool)
	points := 0
	var tiers [3]int
	for _, a := range view.Answers {
		assert.False(t, seen[a.QuestionID], "question %d answered twice", a.QuestionID)
		seen[a.QuestionID] = true
		points += a.PointsEarned
		tiers[a.DifficultyAtAsk.Index()]++
	}
	assert.Equal(t, points, res.TotalPoints)
	assert.Equal(t, points, view.Session.TotalPoints)
	assert.Equal(t, model.StatusCompleted, view.Session.Status)
	require.NotNil(t, view.Session.CompletedAt)

	for i, share := range selector.DefaultMix {
		assert.InDelta(t, share, float64(tiers[i])/10, 0.10+1e-9, "tier %s mix %v", model.Difficulties[i], tiers)
	}

	perf, err := f.store.ListPerformance(context.Background(), student)
	require.NoError(t, err)
	assert.NotEmpty(t, perf)
	for _, p := range perf {
		assert.Equal(t, 1, p.TotalAttempts)
	}

	events := f.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, start.Session.ID, events[0].SessionID)
	assert.Equal(t, res.TotalPoints, events[0].TotalPoints)
}

func TestSmallPoolCompletesEarly(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, 1, 1, "algebra")

	start := f.start(t, 10, model.FocusBalanced)
	assert.Equal(t, 3, start.Total)

	res := f.play(t, start, func(q model.Question, _ int) string { return q.CorrectAnswer })
	assert.Equal(t, 3, res.CorrectAnswers)
	assert.Equal(t, 3, res.TotalQuestions)
	assert.InDelta(t, 100.0, res.ScorePercentage, 1e-9)
	assert.Equal(t, BasePoints[model.DifficultyEasy]+BasePoints[model.DifficultyMedium]+BasePoints[model.DifficultyHard], res.TotalPoints)
}

func TestMixScenario(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3, 4, 3, "algebra")

	start := f.start(t, 10, model.FocusBalanced)
	f.play(t, start, func(q model.Question, i int) string {
		if i < 6 {
			return q.CorrectAnswer
		}
		return ""
	})

	view, err := f.engine.Get(context.Background(), start.Session.ID, student)
	require.NoError(t, err)
	var tiers [3]int
	for _, a := range view.Answers {
		tiers[a.DifficultyAtAsk.Index()]++
	}
	assert.Equal(t, [3]int{3, 4, 3}, tiers)
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, 1, 1, "algebra")
	ctx := context.Background()

	_, err := f.engine.Start(ctx, StartRequest{StudentID: student, Scope: model.ModuleScope{ModuleID: "missing"}})
	assert.ErrorIs(t, err, model.ErrInvalidScope)

	_, err = f.engine.Start(ctx, StartRequest{StudentID: student})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "scope", verr.Field)

	_, err = f.engine.Start(ctx, StartRequest{StudentID: student, Scope: model.ModuleScope{ModuleID: "m1"}, FocusArea: "sideways"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "focus_area", verr.Field)

	_, err = f.engine.Start(ctx, StartRequest{StudentID: student, Scope: model.ModuleScope{ModuleID: "m1"}, QuestionCount: -1})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "question_count", verr.Field)

	eleven := make([]model.TopicSelector, model.MaxTopicSelectors+1)
	for i := range eleven {
		eleven[i] = model.TopicSelector{Subject: "math", Topic: "algebra"}
	}
	_, err = f.engine.Start(ctx, StartRequest{StudentID: student, Scope: model.TopicsScope{Selectors: eleven}})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "too_many_selectors", verr.Code)

	_, err = f.engine.Start(ctx, StartRequest{StudentID: student, Scope: model.TopicsScope{Selectors: []model.TopicSelector{{Subject: "math"}}}})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "subject_topic_required", verr.Code)

	sessions, err := f.store.ListSessions(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, sessions, "rejected starts must not persist a session")
}

func TestStartTopicsScope(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 4, 4, 4, "algebra", "geometry", "fractions")

	res, err := f.engine.Start(context.Background(), StartRequest{
		StudentID: student,
		Scope: model.TopicsScope{Selectors: []model.TopicSelector{
			{Subject: "math", Topic: "algebra"},
			{Subject: "math", Topic: "geometry"},
		}},
		QuestionCount: 10,
	})
	require.NoError(t, err)
	r := f.play(t, res, alternate)
	assert.Equal(t, 10, r.CorrectAnswers+r.WrongAnswers)

	view, err := f.engine.Get(context.Background(), res.Session.ID, student)
	require.NoError(t, err)
	topics := make(map[string]int)
	for _, a := range view.Answers {
		topics[a.Topic]++
	}
	assert.Equal(t, map[string]int{"algebra": 5, "geometry": 5}, topics)
}

func TestSubmitAnswerIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 2, 2, 2, "algebra")
	ctx := context.Background()
	start := f.start(t, 5, model.FocusBalanced)
	q := start.Question

	first, err := f.engine.SubmitAnswer(ctx, start.Session.ID, student, q.ID, q.CorrectAnswer, 7)
	require.NoError(t, err)
	assert.True(t, first.IsCorrect)
	assert.False(t, first.Duplicate)
	assert.Equal(t, BasePoints[q.Difficulty], first.PointsEarned)

	before, err := f.store.GetSession(ctx, start.Session.ID)
	require.NoError(t, err)

	second, err := f.engine.SubmitAnswer(ctx, start.Session.ID, student, q.ID, "something else", 99)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.IsCorrect, second.IsCorrect)
	assert.Equal(t, first.PointsEarned, second.PointsEarned)
	assert.Equal(t, first.CorrectAnswer, second.CorrectAnswer)

	after, err := f.store.GetSession(ctx, start.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, before.TotalPoints, after.TotalPoints)
	assert.Equal(t, before.Answered(), after.Answered())
}

func TestSubmitAnswerConcurrent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 2, 2, 2, "algebra")
	ctx := context.Background()
	start := f.start(t, 5, model.FocusBalanced)
	q := start.Question

	const workers = 8
	results := make([]SubmitResult, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.engine.SubmitAnswer(ctx, start.Session.ID, student, q.ID, q.CorrectAnswer, 3)
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := range results {
		require.NoError(t, errs[i])
		if !results[i].Duplicate {
			fresh++
		}
		assert.Equal(t, results[0].PointsEarned, results[i].PointsEarned)
	}
	assert.Equal(t, 1, fresh, "exactly one submission must be graded")

	answers, err := f.store.ListAnswers(ctx, start.Session.ID)
	require.NoError(t, err)
	assert.Len(t, answers, 1)

	sess, err := f.store.GetSession(ctx, start.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, results[0].PointsEarned, sess.TotalPoints)
}

func TestSubmitAnswerRejections(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 2, 2, 2, "algebra")
	ctx := context.Background()
	start := f.start(t, 5, model.FocusBalanced)

	other := start.Question.ID + 1
	if other > 6 {
		other = 1
	}
	_, err := f.engine.SubmitAnswer(ctx, start.Session.ID, student, other, "x", 1)
	assert.ErrorIs(t, err, model.ErrQuestionNotCurrent)

	_, err = f.engine.SubmitAnswer(ctx, start.Session.ID, student+1, start.Question.ID, "x", 1)
	assert.ErrorIs(t, err, model.ErrNotOwner)

	_, err = f.engine.SubmitAnswer(ctx, "no-such-session", student, start.Question.ID, "x", 1)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.engine.SubmitAnswer(ctx, start.Session.ID, student, start.Question.ID, "x", -1)
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = f.engine.Complete(ctx, start.Session.ID, student)
	require.NoError(t, err)
	_, err = f.engine.SubmitAnswer(ctx, start.Session.ID, student, start.Question.ID, "x", 1)
	assert.ErrorIs(t, err, model.ErrSessionNotActive)
}

func TestTimeoutSubmission(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 2, 2, 2, "algebra")
	start := f.start(t, 5, model.FocusBalanced)

	res, err := f.engine.SubmitAnswer(context.Background(), start.Session.ID, student, start.Question.ID, "   ", 30)
	require.NoError(t, err)
	assert.False(t, res.IsCorrect)
	assert.Zero(t, res.PointsEarned)
	assert.Nil(t, res.Record.UserAnswer)
	assert.Equal(t, start.Question.CorrectAnswer, res.CorrectAnswer)
}

func TestAdvanceReturnsOutstandingQuestion(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3, 3, 3, "algebra")
	ctx := context.Background()
	start := f.start(t, 5, model.FocusBalanced)

	for i := 0; i < 3; i++ {
		next, err := f.engine.Advance(ctx, start.Session.ID, student)
		require.NoError(t, err)
		require.NotNil(t, next.Question)
		assert.Equal(t, start.Question.ID, next.Question.ID)
		assert.Equal(t, 1, next.Number)
	}
}

func TestCompleteIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3, 3, 3, "algebra")
	ctx := context.Background()
	start := f.start(t, 5, model.FocusBalanced)

	_, err := f.engine.SubmitAnswer(ctx, start.Session.ID, student, start.Question.ID, start.Question.CorrectAnswer, 4)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]Result, 5)
	errs := make([]error, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.engine.Complete(ctx, start.Session.ID, student)
		}(i)
	}
	wg.Wait()
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.InDelta(t, 100.0, results[0].ScorePercentage, 1e-9)

	again, err := f.engine.Complete(ctx, start.Session.ID, student)
	require.NoError(t, err)
	assert.Equal(t, results[0], again)

	assert.Len(t, f.events.Events(), 1, "completion must be published once")

	perf, err := f.store.GetPerformance(ctx, student, model.TopicKey{Subject: "math", Topic: "algebra"})
	require.NoError(t, err)
	assert.Equal(t, 1, perf.TotalAttempts)
	assert.Equal(t, 1, perf.TotalQuestions)
}

func TestForceCompleteWithoutAnswers(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3, 3, 3, "algebra")
	ctx := context.Background()
	start := f.start(t, 5, model.FocusBalanced)

	res, err := f.engine.Complete(ctx, start.Session.ID, student)
	require.NoError(t, err)
	assert.Zero(t, res.ScorePercentage)
	assert.Zero(t, res.TotalPoints)
	assert.Zero(t, res.CorrectAnswers+res.WrongAnswers)

	n, err := f.store.CountPerformance(ctx, student)
	require.NoError(t, err)
	assert.Zero(t, n)

	next, err := f.engine.Advance(ctx, start.Session.ID, student)
	require.NoError(t, err)
	require.NotNil(t, next.Completed)
	assert.Nil(t, next.Question)
}

func TestChallengeSession(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 5, 5, 5, "algebra")
	ctx := context.Background()

	now := f.clock.Now()
	c := model.Challenge{
		ID:             "ch-1",
		AssignedBy:     42,
		AssignedTo:     student,
		Type:           model.ChallengeSimple,
		Scope:          model.ModuleScope{ModuleID: "m1"},
		QuestionCount:  10,
		FocusArea:      model.FocusBalanced,
		RequestedFocus: model.FocusBalanced,
		Status:         model.ChallengePending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(7 * 24 * time.Hour),
	}
	require.NoError(t, f.store.CreateChallenge(ctx, c))

	_, err := f.engine.Start(ctx, StartRequest{StudentID: student + 1, ChallengeID: c.ID})
	assert.ErrorIs(t, err, model.ErrNotOwner)

	start, err := f.engine.Start(ctx, StartRequest{StudentID: student, ChallengeID: c.ID})
	require.NoError(t, err)
	assert.Equal(t, 10, start.Total)
	assert.Equal(t, c.ID, start.Session.ChallengeID)

	_, err = f.engine.Start(ctx, StartRequest{StudentID: student, ChallengeID: c.ID})
	assert.ErrorIs(t, err, model.ErrChallengeUnavailable)

	f.play(t, start, alternate)

	stored, err := f.store.GetChallenge(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ChallengeCompleted, stored.Status)
	assert.Equal(t, start.Session.ID, stored.SessionID)

	events := f.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, int64(42), events[0].AssignedBy)
	assert.Equal(t, c.ID, events[0].ChallengeID)
}

func TestExpiredChallenge(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 5, 5, 5, "algebra")
	ctx := context.Background()

	past := f.clock.Now().Add(-48 * time.Hour)
	require.NoError(t, f.store.CreateChallenge(ctx, model.Challenge{
		ID:             "old",
		AssignedBy:     2,
		AssignedTo:     student,
		Type:           model.ChallengeSimple,
		Scope:          model.ModuleScope{ModuleID: "m1"},
		QuestionCount:  10,
		FocusArea:      model.FocusBalanced,
		RequestedFocus: model.FocusBalanced,
		Status:         model.ChallengePending,
		CreatedAt:      past,
		ExpiresAt:      past.Add(time.Hour),
	}))
	_, err := f.engine.Start(ctx, StartRequest{StudentID: student, ChallengeID: "old"})
	assert.ErrorIs(t, err, model.ErrChallengeUnavailable)

	_, err = f.engine.Start(ctx, StartRequest{StudentID: student, ChallengeID: "missing"})
	assert.ErrorIs(t, err, model.ErrChallengeUnavailable)
}

func TestAbandonDismissesChallenge(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 5, 5, 5, "algebra")
	ctx := context.Background()

	newChallenge := func(id string) {
		now := f.clock.Now()
		require.NoError(t, f.store.CreateChallenge(ctx, model.Challenge{
			ID:             id,
			AssignedBy:     42,
			AssignedTo:     student,
			Type:           model.ChallengeSimple,
			Scope:          model.ModuleScope{ModuleID: "m1"},
			QuestionCount:  10,
			FocusArea:      model.FocusBalanced,
			RequestedFocus: model.FocusBalanced,
			Status:         model.ChallengePending,
			CreatedAt:      now,
			ExpiresAt:      now.Add(7 * 24 * time.Hour),
		}))
	}

	t.Run("by the student", func(t *testing.T) {
		newChallenge("ch-abandon")
		start, err := f.engine.Start(ctx, StartRequest{StudentID: student, ChallengeID: "ch-abandon"})
		require.NoError(t, err)
		_, err = f.engine.Abandon(ctx, start.Session.ID, student)
		require.NoError(t, err)

		stored, err := f.store.GetChallenge(ctx, "ch-abandon")
		require.NoError(t, err)
		assert.Equal(t, model.ChallengeDismissed, stored.Status)
		assert.Equal(t, start.Session.ID, stored.SessionID)

		_, err = f.engine.Start(ctx, StartRequest{StudentID: student, ChallengeID: "ch-abandon"})
		assert.ErrorIs(t, err, model.ErrChallengeUnavailable)
	})

	t.Run("by the sweeper", func(t *testing.T) {
		newChallenge("ch-stale")
		start, err := f.engine.Start(ctx, StartRequest{StudentID: student, ChallengeID: "ch-stale"})
		require.NoError(t, err)

		f.clock.mu.Lock()
		f.clock.now = f.clock.now.Add(2 * time.Hour)
		f.clock.mu.Unlock()
		n, err := f.engine.SweepStale(ctx, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		stored, err := f.store.GetChallenge(ctx, "ch-stale")
		require.NoError(t, err)
		assert.Equal(t, model.ChallengeDismissed, stored.Status)
		assert.Equal(t, start.Session.ID, stored.SessionID)
	})
}

func TestAbandonAndSweep(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3, 3, 3, "algebra")
	ctx := context.Background()

	first := f.start(t, 5, model.FocusBalanced)
	sess, err := f.engine.Abandon(ctx, first.Session.ID, student)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAbandoned, sess.Status)

	_, err = f.engine.Abandon(ctx, first.Session.ID, student)
	assert.NoError(t, err)
	_, err = f.engine.Complete(ctx, first.Session.ID, student)
	assert.ErrorIs(t, err, model.ErrSessionNotActive)
	_, err = f.engine.Advance(ctx, first.Session.ID, student)
	assert.ErrorIs(t, err, model.ErrSessionNotActive)

	second := f.start(t, 5, model.FocusBalanced)
	n, err := f.engine.SweepStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n, "fresh session must survive the sweep")

	f.clock.mu.Lock()
	f.clock.now = f.clock.now.Add(2 * time.Hour)
	f.clock.mu.Unlock()
	n, err = f.engine.SweepStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stale, err := f.store.GetSession(ctx, second.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAbandoned, stale.Status)
}

func TestFocusUsesPerformance(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 6, 6, 6, "algebra", "geometry")
	ctx := context.Background()

	// Ace algebra and fail geometry so the tracker classifies both.
	warmup := f.start(t, 12, model.FocusBalanced)
	f.play(t, warmup, func(q model.Question, _ int) string {
		if q.Topic == "algebra" {
			return q.CorrectAnswer
		}
		return "wrong"
	})
	levels, err := f.store.PerformanceLevels(ctx, student)
	require.NoError(t, err)
	require.Equal(t, model.LevelStrong, levels[model.TopicKey{Subject: "math", Topic: "algebra"}])
	require.Equal(t, model.LevelWeak, levels[model.TopicKey{Subject: "math", Topic: "geometry"}])

	improve := f.start(t, 6, model.FocusImprove)
	f.play(t, improve, alternate)
	view, err := f.engine.Get(ctx, improve.Session.ID, student)
	require.NoError(t, err)
	for _, a := range view.Answers {
		assert.Equal(t, "geometry", a.Topic)
	}
}
