// Package challenge builds assigned and self-initiated quiz challenges.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/quizmaster/internal/model"
	"github.com/pavelanni/quizmaster/internal/selector"
	"github.com/pavelanni/quizmaster/internal/store"
)

// Question count bounds for every challenge type.
const (
	MinQuestions = 10
	MaxQuestions = 100
)

// DefaultTTL is how long a challenge stays open.
const DefaultTTL = 7 * 24 * time.Hour

type Builder struct {
	store *store.Store
	ttl   time.Duration
	now   func() time.Time
}

func NewBuilder(s *store.Store, ttl time.Duration) *Builder {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Builder{store: s, ttl: ttl, now: time.Now}
}

// BuildRequest describes a challenge. Scope must be a ModuleScope for simple
// challenges and a TopicsScope for advanced ones.
type BuildRequest struct {
	AssignedBy    int64
	AssignedTo    int64
	Type          model.ChallengeType
	Scope         model.Scope
	QuestionCount int
	FocusArea     model.FocusArea
}

// Build validates the request, resolves the focus area and stores the
// challenge. Nothing is written when validation fails.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (model.Challenge, error) {
	if req.FocusArea == "" {
		req.FocusArea = model.FocusBalanced
	}
	if err := Validate(req); err != nil {
		return model.Challenge{}, err
	}

	focus, fallback, err := b.resolveFocus(ctx, req.AssignedTo, req.FocusArea)
	if err != nil {
		return model.Challenge{}, err
	}

	now := b.now()
	c := model.Challenge{
		ID:             uuid.NewString(),
		AssignedBy:     req.AssignedBy,
		AssignedTo:     req.AssignedTo,
		Type:           req.Type,
		Scope:          req.Scope,
		QuestionCount:  req.QuestionCount,
		FocusArea:      focus,
		RequestedFocus: req.FocusArea,
		FocusFallback:  fallback,
		Status:         model.ChallengePending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(b.ttl),
	}
	if ts, ok := req.Scope.(model.TopicsScope); ok {
		c.Allocation = selector.Allocate(req.QuestionCount, len(ts.Selectors))
	}
	if err := b.store.CreateChallenge(ctx, c); err != nil {
		return model.Challenge{}, fmt.Errorf("create challenge: %w", err)
	}
	slog.Info("challenge created", "id", c.ID, "type", c.Type, "assigned_by", c.AssignedBy,
		"assigned_to", c.AssignedTo, "focus", c.FocusArea, "fallback", fallback)
	return c, nil
}

// resolveFocus falls back to balanced when a targeted focus has no history to
// target.
func (b *Builder) resolveFocus(ctx context.Context, student int64, focus model.FocusArea) (model.FocusArea, bool, error) {
	if focus == model.FocusBalanced {
		return focus, false, nil
	}
	n, err := b.store.CountPerformance(ctx, student)
	if err != nil {
		return "", false, fmt.Errorf("count performance: %w", err)
	}
	if n == 0 {
		return model.FocusBalanced, true, nil
	}
	return focus, false, nil
}

// Validate checks a request without touching storage.
func Validate(req BuildRequest) error {
	if !req.FocusArea.Valid() {
		return model.Invalid("focus_area", "invalid_focus_area", map[string]any{"Value": req.FocusArea})
	}
	if req.QuestionCount < MinQuestions || req.QuestionCount > MaxQuestions {
		return model.Invalid("question_count", "out_of_range",
			map[string]any{"Value": req.QuestionCount, "Min": MinQuestions, "Max": MaxQuestions})
	}
	if model.ScopeEmpty(req.Scope) {
		return model.Invalid("scope", "required", nil)
	}

	switch req.Type {
	case model.ChallengeSimple:
		if _, ok := req.Scope.(model.ModuleScope); !ok {
			return model.Invalid("scope", "module_required", nil)
		}
	case model.ChallengeAdvanced:
		ts, ok := req.Scope.(model.TopicsScope)
		if !ok {
			return model.Invalid("scope", "selectors_required", nil)
		}
		if err := ts.Validate(); err != nil {
			return err
		}
	default:
		return model.Invalid("challenge_type", "invalid_challenge_type", map[string]any{"Value": req.Type})
	}
	return nil
}

// List returns the challenges assigned to a student.
func (b *Builder) List(ctx context.Context, assignedTo int64, status model.ChallengeStatus) ([]model.Challenge, error) {
	return b.store.ListChallenges(ctx, assignedTo, status, b.now())
}

// Dismiss closes a pending challenge. Either the assignee or the assigner may
// dismiss it.
func (b *Builder) Dismiss(ctx context.Context, id string, userID int64) error {
	c, err := b.store.GetChallenge(ctx, id)
	if err != nil {
		return err
	}
	if c.AssignedTo != userID && c.AssignedBy != userID {
		return model.ErrNotOwner
	}
	if err := b.store.DismissChallenge(ctx, id); err != nil {
		if errors.Is(err, model.ErrChallengeUnavailable) {
			return err
		}
		return fmt.Errorf("dismiss challenge: %w", err)
	}
	slog.Info("challenge dismissed", "id", id, "by", userID)
	return nil
}
