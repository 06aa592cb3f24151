// Package httpapi exposes the service layer over a JSON HTTP API. Handlers
// decode requests, delegate to services, and map service errors onto a
// uniform {"status":"error","message":...} payload; no stack traces or
// internal details cross this boundary.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mivanovs/telegate/internal/common"
	"github.com/mivanovs/telegate/internal/logging"
	"github.com/mivanovs/telegate/internal/server/models"
	"github.com/mivanovs/telegate/internal/server/services"
)

// UserAccounts is the application-account surface consumed by handlers.
type UserAccounts interface {
	Register(ctx context.Context, email, password string) (*services.TokenPair, error)
	Login(ctx context.Context, email, password string) (*services.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Get(ctx context.Context, userID int64) (*models.User, error)
}

// ProfileAuth is the auth-orchestrator surface consumed by handlers.
type ProfileAuth interface {
	StartAuth(ctx context.Context, userID int64, phone string) (*services.StartAuthResult, error)
	VerifyCode(ctx context.Context, userID int64, phone, code string) (*services.LoginResult, error)
	VerifyPassword(ctx context.Context, userID int64, phone, password string) (*services.LoginResult, error)
	ListProfiles(ctx context.Context, userID int64) ([]services.ProfileSummary, error)
}

// Messaging is the authorized-operation surface consumed by handlers.
type Messaging interface {
	FetchUnread(ctx context.Context, userID int64, phone string, limit int) (*services.UnreadResult, error)
	SendMessage(ctx context.Context, userID int64, phone, text, receiver string) error
	ListDialogs(ctx context.Context, userID int64, phone string, limit int) ([]services.DialogSummary, error)
}

const defaultMessageLimit = 50

type Handler struct {
	users    UserAccounts
	profiles ProfileAuth
	messages Messaging
	logger   logging.Logger
}

func NewHandler(users UserAccounts, profiles ProfileAuth, messages Messaging, logger logging.Logger) *Handler {
	return &Handler{
		users:    users,
		profiles: profiles,
		messages: messages,
		logger:   logger.With("component", "httpapi"),
	}
}

// --- request/response payloads ---

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

type codeRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

type passwordRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type messagesRequest struct {
	Phone string `json:"phone"`
	Limit int    `json:"limit"`
}

type sendRequest struct {
	Phone    string `json:"phone"`
	Text     string `json:"text"`
	Receiver string `json:"receiver"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// --- handlers ---

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	pair, err := h.users.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken, TokenType: "bearer"})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}

	pair, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken, TokenType: "bearer"})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}

	pair, err := h.users.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken, TokenType: "bearer"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	user, err := h.users.Get(r.Context(), userID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": user.ID, "email": user.Email})
}

func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	list, err := h.profiles.ListProfiles(r.Context(), userID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	type profilePayload struct {
		ID           int64  `json:"id"`
		Phone        string `json:"phone"`
		IsAuthorized bool   `json:"is_authorized"`
		FirstName    string `json:"first_name,omitempty"`
		LastName     string `json:"last_name,omitempty"`
		Username     string `json:"username,omitempty"`
		PhotoID      string `json:"photo_id,omitempty"`
	}
	payload := make([]profilePayload, 0, len(list))
	for _, p := range list {
		payload = append(payload, profilePayload{
			ID:           p.ID,
			Phone:        p.Phone,
			IsAuthorized: p.IsAuthorized,
			FirstName:    p.FirstName,
			LastName:     p.LastName,
			Username:     p.Username,
			PhotoID:      p.PhotoID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "profiles": payload})
}

func (h *Handler) StartAuth(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req phoneRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Phone == "" {
		writeError(w, http.StatusBadRequest, "phone is required")
		return
	}

	res, err := h.profiles.StartAuth(r.Context(), userID, req.Phone)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": string(res.Status), "profile_id": res.ProfileID})
}

func (h *Handler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req codeRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.profiles.VerifyCode(r.Context(), userID, req.Phone, req.Code)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "phone": res.Phone, "username": res.Username})
}

func (h *Handler) VerifyPassword(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req passwordRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.profiles.VerifyPassword(r.Context(), userID, req.Phone, req.Password)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "phone": res.Phone, "username": res.Username})
}

func (h *Handler) FetchUnread(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req messagesRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultMessageLimit
	}

	res, err := h.messages.FetchUnread(r.Context(), userID, req.Phone, req.Limit)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "count": res.Count, "messages": res.Messages})
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req sendRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Text == "" || req.Receiver == "" {
		writeError(w, http.StatusBadRequest, "text and receiver are required")
		return
	}

	if err := h.messages.SendMessage(r.Context(), userID, req.Phone, req.Text, req.Receiver); err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success"})
}

func (h *Handler) ListDialogs(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req messagesRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultMessageLimit
	}

	dialogs, err := h.messages.ListDialogs(r.Context(), userID, req.Phone, req.Limit)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "dialogs": dialogs})
}

// --- helpers ---

func decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Status: "error", Message: message})
}

// serviceError maps service-layer sentinels onto HTTP status codes. Unknown
// errors are logged and surfaced as a generic message.
func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrorNotFound),
		errors.Is(err, common.ErrorEntityNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, common.ErrorPhoneClaimed),
		errors.Is(err, common.ErrorEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, common.ErrorChallengeNotPending):
		writeError(w, http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, common.ErrorNotAuthorized),
		errors.Is(err, common.ErrorPasswordRequired):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, common.ErrorAuthRejected),
		errors.Is(err, common.ErrorInvalidEmailPassword),
		errors.Is(err, common.ErrorSessionExpired),
		errors.Is(err, common.ErrRefreshTokenExpired),
		errors.Is(err, common.ErrorUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, common.ErrorProviderUnreachable):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error(r.Context(), "request failed", "error", err.Error(), "request_id", RequestIDFromContext(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
