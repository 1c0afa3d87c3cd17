package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/pavelanni/quizmaster/internal/i18n"
	"github.com/pavelanni/quizmaster/internal/model"
)

// maxUploadBytes bounds question file uploads.
const maxUploadBytes = 10 << 20

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	respondJSON(w, http.StatusOK, users)
}

type createUserRequest struct {
	Username    string         `json:"username"`
	DisplayName string         `json:"display_name"`
	Password    string         `json:"password"`
	Role        model.UserRole `json:"role"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body createUserRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	body.Username = strings.TrimSpace(body.Username)
	switch {
	case body.Username == "":
		fail(w, r, model.Invalid("username", "required", nil))
		return
	case body.Password == "":
		fail(w, r, model.Invalid("password", "required", nil))
		return
	}
	if body.Role == "" {
		body.Role = model.UserRoleStudent
	}
	if !model.ValidUserRole(body.Role) {
		fail(w, r, model.Invalid("role", "invalid_role", map[string]any{"Value": body.Role}))
		return
	}
	if body.DisplayName == "" {
		body.DisplayName = body.Username
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
	if err != nil {
		fail(w, r, err)
		return
	}

	u := model.User{
		Username:     body.Username,
		DisplayName:  body.DisplayName,
		PasswordHash: string(hash),
		Role:         body.Role,
		Active:       true,
	}
	id, err := h.store.CreateUser(r.Context(), u)
	if err != nil {
		fail(w, r, err)
		return
	}
	u.ID = id
	u.CreatedAt = time.Now().UTC()
	respondJSON(w, http.StatusCreated, u)
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

func (h *Handler) handleSetUserActive(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "userID")
	if err != nil {
		fail(w, r, err)
		return
	}
	var body setActiveRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.store.SetUserActive(r.Context(), id, body.Active); err != nil {
		fail(w, r, err)
		return
	}
	slog.Info("user active flag changed", "id", id, "active", body.Active)
	w.WriteHeader(http.StatusNoContent)
}

type uploadResponse struct {
	Imported int    `json:"imported"`
	Message  string `json:"message"`
}

func (h *Handler) handleUploadQuestions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "", nil)
		return
	}

	file, header, err := r.FormFile("questions_file")
	if err != nil {
		fail(w, r, model.Invalid("questions_file", "required", nil))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		fail(w, r, err)
		return
	}

	n, err := h.store.ImportFile(r.Context(), header.Filename, data)
	if err != nil {
		fail(w, r, err)
		return
	}
	slog.Info("uploaded questions via admin", "filename", header.Filename, "count", n)
	respondJSON(w, http.StatusCreated, uploadResponse{
		Imported: n,
		Message:  appI18n.Tp(r.Context(), "QuestionsImported", n),
	})
}
