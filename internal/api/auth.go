package api

import (
	"errors"
	"net/http"

	"github.com/erazemk/bazaar/internal/logger"
	"github.com/erazemk/bazaar/internal/model"
	"github.com/erazemk/bazaar/internal/session"
)

// AuthHandler handles registration and token endpoints.
type AuthHandler struct {
	Provider *session.Provider
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	City     string `json:"city"`
	Phone    string `json:"phone"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string          `json:"token"`
	User  *model.Identity `json:"user"`
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.Provider.Register(r.Context(), req.Email, req.Password, model.Profile{
		Name:  req.Name,
		City:  req.City,
		Phone: req.Phone,
	})
	switch {
	case errors.Is(err, session.ErrInvalidEmail), errors.Is(err, session.ErrWeakPassword):
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, session.ErrEmailTaken):
		jsonError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		logger.FromRequest(r).Error().Err(err).Msg("registering user")
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	jsonResponse(w, http.StatusCreated, id)
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s := session.New()
	token, err := h.Provider.SignIn(r.Context(), s, req.Email, req.Password)
	if errors.Is(err, session.ErrInvalidCredentials) {
		jsonError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		logger.FromRequest(r).Error().Err(err).Msg("signing in")
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	jsonResponse(w, http.StatusOK, loginResponse{Token: token, User: s.Identity()})
}

// Logout handles POST /api/auth/logout. The token is revoked.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Provider.SignOut(r.Context(), GetSession(r.Context())); err != nil {
		logger.FromRequest(r).Error().Err(err).Msg("signing out")
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
