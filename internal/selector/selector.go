// Package selector picks the next question of an adaptive quiz session.
package selector

import (
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/pavelanni/quizmaster/internal/model"
)

// ErrExhausted is returned when no unanswered question remains in the pool.
// Callers treat it as the end of the session, not as a failure.
var ErrExhausted = errors.New("question pool exhausted")

// Mix is the target share of easy, medium and hard questions.
type Mix [3]float64

// DefaultMix is the 30/40/30 easy/medium/hard split.
var DefaultMix = Mix{0.3, 0.4, 0.3}

// DefaultTolerance is how far, as a fraction of the session length, the
// realized mix may drift from the target.
const DefaultTolerance = 0.10

// State is what the selector needs to know about the session so far.
type State struct {
	Answered []model.AnswerRecord
	Tier     model.Difficulty
}

// Constraints shape the pick.
type Constraints struct {
	Scope  model.Scope
	Focus  model.FocusArea
	Levels map[model.TopicKey]model.PerformanceLevel
	// Total is the planned session length.
	Total int
	// Allocation is the per-selector question budget of a TopicsScope.
	Allocation []int
	Mix        Mix
	Tolerance  float64
}

// Selector is safe for concurrent use.
type Selector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a selector drawing from rng. A nil rng uses a randomly seeded
// source.
func New(rng *rand.Rand) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Selector{rng: rng}
}

// Quotas splits n questions across the tiers by largest remainder. Ties in the
// remainder go to the easier tier.
func Quotas(n int, mix Mix) [3]int {
	if mix == (Mix{}) {
		mix = DefaultMix
	}
	var sum float64
	for _, m := range mix {
		sum += m
	}
	var (
		quotas [3]int
		frac   [3]float64
		used   int
	)
	for i, m := range mix {
		exact := float64(n) * m / sum
		quotas[i] = int(math.Floor(exact + 1e-9))
		frac[i] = exact - float64(quotas[i])
		used += quotas[i]
	}
	order := []int{0, 1, 2}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case frac[a] > frac[b]:
			return -1
		case frac[a] < frac[b]:
			return 1
		}
		return 0
	})
	for i := 0; used < n; i++ {
		quotas[order[i%3]]++
		used++
	}
	return quotas
}

// Slack is the per-tier count deviation allowed for a session of n questions.
func Slack(n int, tolerance float64) int {
	return max(1, int(math.Floor(tolerance*float64(n))))
}

// NextQuestion picks the next question from pool. Answered questions are never
// picked again. The focus and allocation bias narrows the pool before a tier is
// chosen, so the mix ceiling gives way before the bias does.
func (s *Selector) NextQuestion(state State, pool []model.Question, c Constraints) (model.Question, error) {
	answered := make(map[int64]bool, len(state.Answered))
	var counts [3]int
	for _, a := range state.Answered {
		answered[a.QuestionID] = true
		if i := a.DifficultyAtAsk.Index(); i >= 0 {
			counts[i]++
		}
	}

	var unanswered []model.Question
	for _, q := range pool {
		if !answered[q.ID] && q.Difficulty.Index() >= 0 {
			unanswered = append(unanswered, q)
		}
	}
	if len(unanswered) == 0 {
		return model.Question{}, ErrExhausted
	}

	candidates := preferAllocated(unanswered, state.Answered, c)
	candidates = preferFocus(candidates, c.Focus, c.Levels)

	var byTier [3][]model.Question
	for _, q := range candidates {
		i := q.Difficulty.Index()
		byTier[i] = append(byTier[i], q)
	}

	tier, ok := pickTier(counts, byTier, state.Tier, c, len(state.Answered))
	if !ok {
		return model.Question{}, ErrExhausted
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leastAsked(byTier[tier], state.Answered), nil
}

// pickTier returns the tier to draw from. A tier is open while its count is
// below quota plus slack. Once the floor deficits of the remaining tiers would
// use up every remaining slot, only deficit tiers stay open.
func pickTier(counts [3]int, byTier [3][]model.Question, target model.Difficulty, c Constraints, answered int) (int, bool) {
	n := max(c.Total, answered+1)
	tol := c.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	quotas := Quotas(n, c.Mix)
	slack := Slack(n, tol)
	remaining := n - answered

	var (
		open       [3]bool
		deficit    [3]int
		deficitSum int
	)
	for i := range counts {
		open[i] = counts[i] < quotas[i]+slack
		deficit[i] = max(0, quotas[i]-slack-counts[i])
		deficitSum += deficit[i]
	}
	if deficitSum > 0 && deficitSum >= remaining {
		for i := range open {
			open[i] = deficit[i] > 0
		}
	}

	t := target.Index()
	if t < 0 {
		t = model.DifficultyMedium.Index()
	}
	if i, ok := nearest(t, func(i int) bool { return open[i] && len(byTier[i]) > 0 }); ok {
		return i, true
	}
	return nearest(t, func(i int) bool { return len(byTier[i]) > 0 })
}

// nearest returns the tier closest to t that satisfies ok, preferring the
// easier of two equally distant tiers.
func nearest(t int, ok func(int) bool) (int, bool) {
	for d := 0; d < 3; d++ {
		if lo := t - d; lo >= 0 && ok(lo) {
			return lo, true
		}
		if hi := t + d; hi < 3 && d > 0 && ok(hi) {
			return hi, true
		}
	}
	return 0, false
}

// preferAllocated keeps candidates from selectors whose allocation is not yet
// used up. It returns the input unchanged when no such candidate exists.
func preferAllocated(candidates []model.Question, answered []model.AnswerRecord, c Constraints) []model.Question {
	ts, ok := c.Scope.(model.TopicsScope)
	if !ok || len(c.Allocation) != len(ts.Selectors) {
		return candidates
	}
	used := make([]int, len(ts.Selectors))
	for _, a := range answered {
		slot := ts.SlotOf(model.Question{Subject: a.Subject, Topic: a.Topic, Subtopic: a.Subtopic})
		if slot >= 0 {
			used[slot]++
		}
	}
	return filter(candidates, func(q model.Question) bool {
		slot := ts.SlotOf(q)
		return slot >= 0 && used[slot] < c.Allocation[slot]
	})
}

// preferFocus keeps strong topics for strengthen and weak topics for improve.
// It returns the input unchanged for balanced or when no topic qualifies.
func preferFocus(candidates []model.Question, focus model.FocusArea, levels map[model.TopicKey]model.PerformanceLevel) []model.Question {
	var want model.PerformanceLevel
	switch focus {
	case model.FocusStrengthen:
		want = model.LevelStrong
	case model.FocusImprove:
		want = model.LevelWeak
	default:
		return candidates
	}
	return filter(candidates, func(q model.Question) bool {
		return levels[q.Key()] == want
	})
}

func filter(candidates []model.Question, keep func(model.Question) bool) []model.Question {
	var out []model.Question
	for _, q := range candidates {
		if keep(q) {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return candidates
	}
	return out
}

// leastAsked picks a random question from the least-asked topic among the
// candidates. Ties between topics are broken at random.
func (s *Selector) leastAsked(candidates []model.Question, answered []model.AnswerRecord) model.Question {
	asked := make(map[model.TopicKey]int)
	for _, a := range answered {
		asked[a.Key()]++
	}

	var (
		topics []model.TopicKey
		seen   = make(map[model.TopicKey]bool)
		fewest = math.MaxInt
	)
	for _, q := range candidates {
		k := q.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		switch n := asked[k]; {
		case n < fewest:
			fewest = n
			topics = append(topics[:0], k)
		case n == fewest:
			topics = append(topics, k)
		}
	}
	topic := topics[s.rng.IntN(len(topics))]

	var inTopic []model.Question
	for _, q := range candidates {
		if q.Key() == topic {
			inTopic = append(inTopic, q)
		}
	}
	return inTopic[s.rng.IntN(len(inTopic))]
}
