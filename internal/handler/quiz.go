package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/quizmaster/internal/llm/prompts"
	"github.com/pavelanni/quizmaster/internal/model"
	"github.com/pavelanni/quizmaster/internal/quiz"
)

// sessionResponse adds the scope, which the domain type keeps off the wire.
type sessionResponse struct {
	model.QuizSession
	Scope scopeBody `json:"scope"`
}

func sessionJSON(s model.QuizSession) sessionResponse {
	return sessionResponse{QuizSession: s, Scope: scopeBodyOf(s.Scope)}
}

type startQuizRequest struct {
	Scope         scopeBody       `json:"scope"`
	QuestionCount int             `json:"question_count"`
	FocusArea     model.FocusArea `json:"focus_area"`
	ChallengeID   string          `json:"challenge_id"`
}

type startQuizResponse struct {
	Session  sessionResponse `json:"session"`
	Question model.Question  `json:"question"`
	Number   int             `json:"current_question_number"`
	Total    int             `json:"total_questions"`
}

func (h *Handler) handleStartQuiz(w http.ResponseWriter, r *http.Request) {
	var body startQuizRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	scope, err := body.Scope.scope()
	if err != nil {
		fail(w, r, err)
		return
	}

	user := model.UserFromContext(r.Context())
	res, err := h.engine.Start(r.Context(), quiz.StartRequest{
		StudentID:     user.ID,
		Scope:         scope,
		QuestionCount: body.QuestionCount,
		FocusArea:     body.FocusArea,
		ChallengeID:   body.ChallengeID,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, startQuizResponse{
		Session:  sessionJSON(res.Session),
		Question: res.Question,
		Number:   res.Number,
		Total:    res.Total,
	})
}

func (h *Handler) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	sessions, err := h.store.ListSessions(r.Context(), user.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionJSON(s))
	}
	respondJSON(w, http.StatusOK, out)
}

type sessionViewResponse struct {
	Session sessionResponse      `json:"session"`
	Answers []model.AnswerRecord `json:"answers"`
}

func (h *Handler) handleGetQuiz(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	view, err := h.engine.Get(r.Context(), chi.URLParam(r, "sessionID"), user.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	answers := view.Answers
	if answers == nil {
		answers = []model.AnswerRecord{}
	}
	respondJSON(w, http.StatusOK, sessionViewResponse{Session: sessionJSON(view.Session), Answers: answers})
}

type submitAnswerRequest struct {
	QuestionID int64  `json:"question_id"`
	Answer     string `json:"answer"`
	TimeSpent  int    `json:"time_spent_seconds"`
}

func (h *Handler) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var body submitAnswerRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.QuestionID <= 0 {
		fail(w, r, model.Invalid("question_id", "required", nil))
		return
	}

	user := model.UserFromContext(r.Context())
	res, err := h.engine.SubmitAnswer(r.Context(), chi.URLParam(r, "sessionID"), user.ID,
		body.QuestionID, body.Answer, body.TimeSpent)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) handleNextQuestion(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	res, err := h.engine.Advance(r.Context(), chi.URLParam(r, "sessionID"), user.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) handleCompleteQuiz(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	res, err := h.engine.Complete(r.Context(), chi.URLParam(r, "sessionID"), user.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) handleAbandonQuiz(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	sess, err := h.engine.Abandon(r.Context(), chi.URLParam(r, "sessionID"), user.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sessionJSON(sess))
}

func (h *Handler) handleReviewQuiz(w http.ResponseWriter, r *http.Request) {
	if h.reviewer == nil {
		writeError(w, r, http.StatusServiceUnavailable, "review_unavailable", "", nil)
		return
	}
	audience := prompts.Audience(r.URL.Query().Get("audience"))
	switch audience {
	case "":
		audience = prompts.AudienceStudent
	case prompts.AudienceStudent, prompts.AudienceGuardian:
	default:
		fail(w, r, model.Invalid("audience", "invalid_audience", map[string]any{"Value": audience}))
		return
	}

	user := model.UserFromContext(r.Context())
	view, err := h.engine.Get(r.Context(), chi.URLParam(r, "sessionID"), user.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	questions := make(map[int64]model.Question, len(view.Answers))
	for _, a := range view.Answers {
		q, err := h.store.GetQuestion(r.Context(), a.QuestionID)
		if err != nil {
			fail(w, r, err)
			return
		}
		questions[q.ID] = q
	}

	review, err := h.reviewer.ReviewSession(r.Context(), audience, view, questions)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, review)
}
