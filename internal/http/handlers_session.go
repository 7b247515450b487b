package httpx

// Session and auth action handlers. The gateway never exposes token material
// to its clients; session presence is reported as identity plus expiry.

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	domainauth "github.com/estoqueflow/sessiongate/internal/domain/auth"
	errs "github.com/estoqueflow/sessiongate/internal/errors"
	"github.com/estoqueflow/sessiongate/internal/service"
)

// SessionHandlers exposes the coordinator over JSON endpoints.
type SessionHandlers struct {
	Coord  *service.Coordinator
	Logger *slog.Logger
}

func (h *SessionHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// sessionView is the client-safe projection of a session.
type sessionView struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

type snapshotResponse struct {
	Session *sessionView        `json:"session"`
	Profile *domainauth.Profile `json:"profile"`
	Loading bool                `json:"loading"`
	ErrKind string              `json:"error_kind,omitempty"`
}

// Snapshot handles GET /api/session.
func (h *SessionHandlers) Snapshot(w http.ResponseWriter, _ *http.Request) {
	snap := h.Coord.Snapshot()
	resp := snapshotResponse{
		Profile: snap.Profile,
		Loading: snap.Loading,
		ErrKind: string(snap.ErrKind),
	}
	if snap.Session != nil {
		resp.Session = &sessionView{
			UserID:    snap.Session.UserID,
			Email:     snap.Session.Email,
			ExpiresAt: snap.Session.ExpiresAt,
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// SignIn handles POST /api/auth/login.
func (h *SessionHandlers) SignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "missing_credentials",
			Err: errors.New("email and password are required")})
		return
	}
	if err := h.Coord.SignIn(r.Context(), req.Email, req.Password); err != nil {
		h.writeAuthError(w, "sign_in_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SignUp handles POST /api/auth/signup.
func (h *SessionHandlers) SignUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"full_name"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "missing_credentials",
			Err: errors.New("email and password are required")})
		return
	}
	if err := h.Coord.SignUp(r.Context(), req.Email, req.Password, req.FullName); err != nil {
		h.writeAuthError(w, "sign_up_failed", err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

// SignOut handles POST /api/auth/logout. Local state clears immediately;
// provider revocation happens in the background.
func (h *SessionHandlers) SignOut(w http.ResponseWriter, r *http.Request) {
	h.Coord.SignOut(r.Context())
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ResetPassword handles POST /api/auth/reset-password.
func (h *SessionHandlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "missing_email",
			Err: errors.New("email is required")})
		return
	}
	if err := h.Coord.ResetPassword(r.Context(), req.Email); err != nil {
		h.writeAuthError(w, "reset_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// UpdatePassword handles POST /api/auth/password.
func (h *SessionHandlers) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Password == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "missing_password",
			Err: errors.New("password is required")})
		return
	}
	if err := h.Coord.UpdatePassword(r.Context(), req.Password); err != nil {
		h.writeAuthError(w, "password_update_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RecoverSession handles POST /api/auth/recover (password-reset deep link).
func (h *SessionHandlers) RecoverSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.AccessToken == "" || req.RefreshToken == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "missing_tokens",
			Err: errors.New("access_token and refresh_token are required")})
		return
	}
	if err := h.Coord.RecoverSession(r.Context(), req.AccessToken, req.RefreshToken); err != nil {
		h.writeAuthError(w, "recover_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// UpdateProfile handles POST /api/profile.
func (h *SessionHandlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName  *string `json:"full_name"`
		AvatarURL *string `json:"avatar_url"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.FullName == nil && req.AvatarURL == nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "empty_update",
			Err: errors.New("no fields to update")})
		return
	}
	err := h.Coord.UpdateProfile(r.Context(), domainauth.ProfileUpdate{
		FullName:  req.FullName,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		h.writeAuthError(w, "profile_update_failed", err)
		return
	}
	h.Snapshot(w, r)
}

// RefreshProfile handles POST /api/profile/refresh, the manual retry wired
// to the error card.
func (h *SessionHandlers) RefreshProfile(w http.ResponseWriter, r *http.Request) {
	h.Coord.RefreshProfile(r.Context())
	h.Snapshot(w, r)
}

func (h *SessionHandlers) writeAuthError(w http.ResponseWriter, code string, err error) {
	h.logger().Warn("auth action failed", "code", code, "error", err)

	if errors.Is(err, errs.ErrSessionExpired) {
		WriteError(w, ErrorParams{Code: http.StatusUnauthorized, ErrCode: "session_expired", Err: err})
		return
	}
	var apiErr *errs.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		WriteError(w, ErrorParams{Code: apiErr.Status, ErrCode: code, Err: err})
		return
	}
	WriteError(w, ErrorParams{Code: http.StatusBadGateway, ErrCode: code, Err: err})
}
