package challenge

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/pavelanni/quizmaster/internal/model"
	"github.com/pavelanni/quizmaster/internal/store"
)

func newTestBuilder(t *testing.T) (*Builder, *store.Store) {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewBuilder(s, 0), s
}

func simple(count int, focus model.FocusArea) BuildRequest {
	return BuildRequest{
		AssignedBy:    2,
		AssignedTo:    1,
		Type:          model.ChallengeSimple,
		Scope:         model.ModuleScope{ModuleID: "m1"},
		QuestionCount: count,
		FocusArea:     focus,
	}
}

func selectors(n int) []model.TopicSelector {
	out := make([]model.TopicSelector, n)
	for i := range out {
		out[i] = model.TopicSelector{Subject: "math", Topic: string(rune('a' + i))}
	}
	return out
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		req   BuildRequest
		field string
	}{
		{"count below min", simple(9, model.FocusBalanced), "question_count"},
		{"count above max", simple(101, model.FocusBalanced), "question_count"},
		{"unknown focus", simple(10, "sideways"), "focus_area"},
		{"empty module", BuildRequest{Type: model.ChallengeSimple, Scope: model.ModuleScope{}, QuestionCount: 10, FocusArea: model.FocusBalanced}, "scope"},
		{"nil scope", BuildRequest{Type: model.ChallengeSimple, QuestionCount: 10, FocusArea: model.FocusBalanced}, "scope"},
		{"simple with topics", BuildRequest{Type: model.ChallengeSimple, Scope: model.TopicsScope{Selectors: selectors(1)}, QuestionCount: 10, FocusArea: model.FocusBalanced}, "scope"},
		{"advanced with module", BuildRequest{Type: model.ChallengeAdvanced, Scope: model.ModuleScope{ModuleID: "m1"}, QuestionCount: 10, FocusArea: model.FocusBalanced}, "scope"},
		{"advanced no selectors", BuildRequest{Type: model.ChallengeAdvanced, Scope: model.TopicsScope{}, QuestionCount: 10, FocusArea: model.FocusBalanced}, "scope"},
		{"advanced too many", BuildRequest{Type: model.ChallengeAdvanced, Scope: model.TopicsScope{Selectors: selectors(11)}, QuestionCount: 10, FocusArea: model.FocusBalanced}, "scope"},
		{"selector without topic", BuildRequest{Type: model.ChallengeAdvanced, Scope: model.TopicsScope{Selectors: []model.TopicSelector{{Subject: "math"}}}, QuestionCount: 10, FocusArea: model.FocusBalanced}, "scope.selectors[0]"},
		{"unknown type", BuildRequest{Type: "epic", Scope: model.ModuleScope{ModuleID: "m1"}, QuestionCount: 10, FocusArea: model.FocusBalanced}, "challenge_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req)
			var verr *model.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}

	for _, n := range []int{10, 55, 100} {
		if err := Validate(simple(n, model.FocusBalanced)); err != nil {
			t.Errorf("count %d should be valid: %v", n, err)
		}
	}
	adv := BuildRequest{Type: model.ChallengeAdvanced, Scope: model.TopicsScope{Selectors: selectors(10)}, QuestionCount: 10, FocusArea: model.FocusImprove}
	if err := Validate(adv); err != nil {
		t.Errorf("10 selectors should be valid: %v", err)
	}
}

func TestBuildFocusFallback(t *testing.T) {
	for _, focus := range []model.FocusArea{model.FocusStrengthen, model.FocusImprove} {
		t.Run(string(focus), func(t *testing.T) {
			b, _ := newTestBuilder(t)
			c, err := b.Build(context.Background(), simple(10, focus))
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if c.FocusArea != model.FocusBalanced {
				t.Errorf("focus = %s, want balanced", c.FocusArea)
			}
			if !c.FocusFallback || c.RequestedFocus != focus {
				t.Errorf("expected recorded fallback from %s, got requested=%s fallback=%v", focus, c.RequestedFocus, c.FocusFallback)
			}
		})
	}
}

func TestBuildKeepsFocusWithHistory(t *testing.T) {
	b, s := newTestBuilder(t)
	ctx := context.Background()
	err := s.UpsertPerformance(ctx, model.TopicPerformance{
		StudentID: 1, Subject: "math", Topic: "algebra", TotalAttempts: 1,
		PerformanceLevel: model.LevelStrong, LastUpdated: time.Now(),
	})
	if err != nil {
		t.Fatalf("UpsertPerformance: %v", err)
	}

	c, err := b.Build(ctx, simple(20, model.FocusStrengthen))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if c.FocusArea != model.FocusStrengthen || c.FocusFallback {
		t.Errorf("expected strengthen without fallback, got %s fallback=%v", c.FocusArea, c.FocusFallback)
	}
}

func TestBuildAdvancedAllocation(t *testing.T) {
	b, s := newTestBuilder(t)
	ctx := context.Background()
	req := BuildRequest{
		AssignedBy:    1,
		AssignedTo:    1,
		Type:          model.ChallengeAdvanced,
		Scope:         model.TopicsScope{Selectors: selectors(3)},
		QuestionCount: 10,
		FocusArea:     model.FocusBalanced,
	}
	c, err := b.Build(ctx, req)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !slices.Equal(c.Allocation, []int{4, 3, 3}) {
		t.Errorf("allocation = %v, want [4 3 3]", c.Allocation)
	}
	if got := c.ExpiresAt.Sub(c.CreatedAt); got != DefaultTTL {
		t.Errorf("ttl = %v, want %v", got, DefaultTTL)
	}

	stored, err := s.GetChallenge(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetChallenge: %v", err)
	}
	ts, ok := stored.Scope.(model.TopicsScope)
	if !ok || len(ts.Selectors) != 3 {
		t.Fatalf("stored scope = %#v", stored.Scope)
	}
	if !slices.Equal(stored.Allocation, c.Allocation) || stored.Status != model.ChallengePending {
		t.Errorf("stored challenge differs: %+v", stored)
	}
}

func TestBuildRejectsWithoutWriting(t *testing.T) {
	b, s := newTestBuilder(t)
	ctx := context.Background()
	if _, err := b.Build(ctx, simple(5, model.FocusBalanced)); err == nil {
		t.Fatal("expected validation error")
	}
	list, err := s.ListChallenges(ctx, 1, "", time.Now())
	if err != nil {
		t.Fatalf("ListChallenges: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected no stored challenges, got %d", len(list))
	}
}

func TestDismiss(t *testing.T) {
	b, _ := newTestBuilder(t)
	ctx := context.Background()
	c, err := b.Build(ctx, simple(10, model.FocusBalanced))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if err := b.Dismiss(ctx, c.ID, 99); !errors.Is(err, model.ErrNotOwner) {
		t.Errorf("stranger dismiss: got %v, want ErrNotOwner", err)
	}
	if err := b.Dismiss(ctx, c.ID, c.AssignedTo); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if err := b.Dismiss(ctx, c.ID, c.AssignedTo); !errors.Is(err, model.ErrChallengeUnavailable) {
		t.Errorf("second dismiss: got %v, want ErrChallengeUnavailable", err)
	}

	pending, err := b.List(ctx, c.AssignedTo, model.ChallengePending)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending challenges, got %d", len(pending))
	}
	if err := b.Dismiss(ctx, "missing", 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing dismiss: got %v, want ErrNotFound", err)
	}
}

func TestListReportsExpired(t *testing.T) {
	b, _ := newTestBuilder(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	c, err := b.Build(ctx, simple(10, model.FocusBalanced))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if list, _ := b.List(ctx, c.AssignedTo, model.ChallengePending); len(list) != 1 {
		t.Fatalf("expected 1 pending challenge, got %d", len(list))
	}

	now = now.Add(DefaultTTL + time.Minute)
	pending, err := b.List(ctx, c.AssignedTo, model.ChallengePending)
	if err != nil {
		t.Fatalf("List pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expired challenge still listed as pending: %+v", pending)
	}
	expired, err := b.List(ctx, c.AssignedTo, model.ChallengeExpired)
	if err != nil {
		t.Fatalf("List expired: %v", err)
	}
	if len(expired) != 1 || expired[0].Status != model.ChallengeExpired {
		t.Errorf("expected one expired challenge, got %+v", expired)
	}
	all, err := b.List(ctx, c.AssignedTo, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 || all[0].Status != model.ChallengeExpired {
		t.Errorf("unfiltered list should derive expired, got %+v", all)
	}
}
