package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/quizmaster/internal/challenge"
	appI18n "github.com/pavelanni/quizmaster/internal/i18n"
	"github.com/pavelanni/quizmaster/internal/llm"
	"github.com/pavelanni/quizmaster/internal/llm/prompts"
	"github.com/pavelanni/quizmaster/internal/model"
	"github.com/pavelanni/quizmaster/internal/quiz"
	"github.com/pavelanni/quizmaster/internal/store"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Reviewer writes feedback on a completed session.
type Reviewer interface {
	ReviewSession(ctx context.Context, audience prompts.Audience, view model.SessionView, questions map[int64]model.Question) (*llm.Review, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	engine   *quiz.Engine
	builder  *challenge.Builder
	reviewer Reviewer
}

// New creates a new Handler. reviewer may be nil, in which case session
// reviews are reported as unavailable.
func New(s *store.Store, e *quiz.Engine, b *challenge.Builder, reviewer Reviewer) *Handler {
	return &Handler{store: s, engine: e, builder: b, reviewer: reviewer}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/api/logout", h.handleLogout)
		r.Get("/api/me", h.handleMe)
		r.Get("/api/topics", h.handleTopics)
		r.Get("/api/performance", h.handlePerformance)

		r.Route("/api/quizzes", func(r chi.Router) {
			r.Use(requireRole(model.UserRoleStudent))
			r.Post("/", h.handleStartQuiz)
			r.Get("/", h.handleListQuizzes)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.handleGetQuiz)
				r.Post("/answers", h.handleSubmitAnswer)
				r.Get("/next", h.handleNextQuestion)
				r.Post("/complete", h.handleCompleteQuiz)
				r.Post("/abandon", h.handleAbandonQuiz)
				r.Get("/review", h.handleReviewQuiz)
			})
		})

		r.Route("/api/challenges", func(r chi.Router) {
			r.Post("/", h.handleCreateChallenge)
			r.Get("/", h.handleListChallenges)
			r.Post("/{challengeID}/dismiss", h.handleDismissChallenge)
		})

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))
			r.Get("/users", h.handleListUsers)
			r.Post("/users", h.handleCreateUser)
			r.Post("/users/{userID}/active", h.handleSetUserActive)
			r.Post("/questions", h.handleUploadQuestions)
		})
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// decodeJSON reads a JSON body into v. On failure it writes a 400 response
// and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Debug("bad request body", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusBadRequest, "bad_request", "", nil)
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, field string, data map[string]any) {
	respondJSON(w, status, errorResponse{
		Error: appI18n.Error(r.Context(), code, data),
		Code:  code,
		Field: field,
	})
}

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{store.ErrNotFound, http.StatusNotFound, "not_found"},
	{model.ErrNotOwner, http.StatusForbidden, "not_owner"},
	{model.ErrInvalidScope, http.StatusUnprocessableEntity, "invalid_scope"},
	{model.ErrSessionNotActive, http.StatusConflict, "session_not_active"},
	{model.ErrQuestionNotCurrent, http.StatusConflict, "question_not_current"},
	{model.ErrChallengeUnavailable, http.StatusConflict, "challenge_unavailable"},
	{llm.ErrNotCompleted, http.StatusConflict, "session_not_completed"},
	{store.ErrAlreadyImported, http.StatusConflict, "file_already_imported"},
	{store.ErrFileChanged, http.StatusConflict, "file_changed"},
	{store.ErrUserExists, http.StatusConflict, "user_exists"},
}

// fail maps a domain error to its HTTP status and localized message.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		data := map[string]any{"Field": ve.Field}
		for k, v := range ve.Data {
			data[k] = v
		}
		writeError(w, r, http.StatusBadRequest, ve.Code, ve.Field, data)
		return
	}
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			writeError(w, r, e.status, e.code, "", nil)
			return
		}
	}
	slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, r, http.StatusInternalServerError, "internal", "", nil)
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, model.Invalid(name, "required", nil)
	}
	return id, nil
}

// targetStudent resolves whose data a request reads. Students always read
// their own; everyone else names a student with ?student_id=.
func targetStudent(r *http.Request) (int64, error) {
	user := model.UserFromContext(r.Context())
	if user.Role == model.UserRoleStudent {
		return user.ID, nil
	}
	raw := r.URL.Query().Get("student_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, model.Invalid("student_id", "required", nil)
	}
	return id, nil
}

// scopeBody is the wire form of a scope: a module ID or a list of topic
// selectors.
type scopeBody struct {
	ModuleID  string                `json:"module_id,omitempty"`
	Selectors []model.TopicSelector `json:"selectors,omitempty"`
}

func (b scopeBody) scope() (model.Scope, error) {
	switch {
	case b.ModuleID != "" && len(b.Selectors) > 0:
		return nil, model.Invalid("scope", "ambiguous_scope", nil)
	case b.ModuleID != "":
		return model.ModuleScope{ModuleID: b.ModuleID}, nil
	case len(b.Selectors) > 0:
		return model.TopicsScope{Selectors: b.Selectors}, nil
	}
	return nil, nil
}

func scopeBodyOf(s model.Scope) scopeBody {
	switch sc := s.(type) {
	case model.ModuleScope:
		return scopeBody{ModuleID: sc.ModuleID}
	case model.TopicsScope:
		return scopeBody{Selectors: sc.Selectors}
	}
	return scopeBody{}
}

type topicResponse struct {
	Subject   string `json:"subject"`
	Topic     string `json:"topic"`
	Questions int    `json:"questions"`
}

func (h *Handler) handleTopics(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.CountTopics(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	topics := make([]topicResponse, 0, len(counts))
	for k, n := range counts {
		topics = append(topics, topicResponse{Subject: k.Subject, Topic: k.Topic, Questions: n})
	}
	slices.SortFunc(topics, func(a, b topicResponse) int {
		if c := strings.Compare(a.Subject, b.Subject); c != 0 {
			return c
		}
		return strings.Compare(a.Topic, b.Topic)
	})
	respondJSON(w, http.StatusOK, topics)
}

func (h *Handler) handlePerformance(w http.ResponseWriter, r *http.Request) {
	studentID, err := targetStudent(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	rows, err := h.store.ListPerformance(r.Context(), studentID)
	if err != nil {
		fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []model.TopicPerformance{}
	}
	respondJSON(w, http.StatusOK, rows)
}
