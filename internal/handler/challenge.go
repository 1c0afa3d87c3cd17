package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/quizmaster/internal/challenge"
	"github.com/pavelanni/quizmaster/internal/model"
	"github.com/pavelanni/quizmaster/internal/store"
)

type challengeResponse struct {
	model.Challenge
	Scope scopeBody `json:"scope"`
}

func challengeJSON(c model.Challenge) challengeResponse {
	return challengeResponse{Challenge: c, Scope: scopeBodyOf(c.Scope)}
}

type createChallengeRequest struct {
	AssignedTo    int64               `json:"assigned_to"`
	Type          model.ChallengeType `json:"challenge_type"`
	Scope         scopeBody           `json:"scope"`
	QuestionCount int                 `json:"question_count"`
	FocusArea     model.FocusArea     `json:"focus_area"`
}

// handleCreateChallenge stores a challenge. Students may only create
// challenges for themselves.
func (h *Handler) handleCreateChallenge(w http.ResponseWriter, r *http.Request) {
	var body createChallengeRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	scope, err := body.Scope.scope()
	if err != nil {
		fail(w, r, err)
		return
	}

	user := model.UserFromContext(r.Context())
	assignee := body.AssignedTo
	if user.Role == model.UserRoleStudent {
		if assignee != 0 && assignee != user.ID {
			writeError(w, r, http.StatusForbidden, "forbidden", "", nil)
			return
		}
		assignee = user.ID
	} else if err := h.checkStudent(r, assignee); err != nil {
		fail(w, r, err)
		return
	}

	c, err := h.builder.Build(r.Context(), challenge.BuildRequest{
		AssignedBy:    user.ID,
		AssignedTo:    assignee,
		Type:          body.Type,
		Scope:         scope,
		QuestionCount: body.QuestionCount,
		FocusArea:     body.FocusArea,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, challengeJSON(c))
}

// checkStudent verifies that id names an existing student.
func (h *Handler) checkStudent(r *http.Request, id int64) error {
	if id <= 0 {
		return model.Invalid("assigned_to", "required", nil)
	}
	u, err := h.store.GetUserByID(r.Context(), id)
	if err != nil {
		return err
	}
	if u == nil {
		return store.ErrNotFound
	}
	if u.Role != model.UserRoleStudent {
		return model.Invalid("assigned_to", "invalid_role", map[string]any{"Value": u.Role})
	}
	return nil
}

func (h *Handler) handleListChallenges(w http.ResponseWriter, r *http.Request) {
	studentID, err := targetStudent(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	status := model.ChallengeStatus(r.URL.Query().Get("status"))
	switch status {
	case "", model.ChallengePending, model.ChallengeCompleted, model.ChallengeDismissed, model.ChallengeExpired:
	default:
		fail(w, r, model.Invalid("status", "out_of_range", map[string]any{"Value": status}))
		return
	}

	list, err := h.builder.List(r.Context(), studentID, status)
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]challengeResponse, 0, len(list))
	for _, c := range list {
		out = append(out, challengeJSON(c))
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleDismissChallenge(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	if err := h.builder.Dismiss(r.Context(), chi.URLParam(r, "challengeID"), user.ID); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
