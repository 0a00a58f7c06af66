package web

import (
	"errors"
	"net/http"

	"github.com/erazemk/bazaar/internal/logger"
	"github.com/erazemk/bazaar/internal/model"
	"github.com/erazemk/bazaar/internal/session"
)

type loginData struct {
	PageData
	Email string
}

type registerData struct {
	PageData
	Form struct {
		Email string
		model.Profile
	}
	MinPassword int
}

// LoginPage handles GET /.
func (s *Server) LoginPage(w http.ResponseWriter, r *http.Request) {
	s.Templates.Render(w, r, "login.html", &loginData{
		PageData: PageData{Title: "Log in", Success: takeFlash(w, r)},
	})
}

// LoginSubmit handles POST /.
func (s *Server) LoginSubmit(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")
	password := r.FormValue("password")

	fail := func(status int, msg string) {
		s.Templates.RenderStatus(w, r, status, "login.html", &loginData{
			PageData: PageData{Title: "Log in", Error: msg},
			Email:    email,
		})
	}

	if email == "" || password == "" {
		fail(http.StatusBadRequest, "Please enter your email and password.")
		return
	}

	token, err := s.Provider.SignIn(r.Context(), session.New(), email, password)
	if errors.Is(err, session.ErrInvalidCredentials) {
		fail(http.StatusUnauthorized, "Wrong email or password.")
		return
	}
	if err != nil {
		logger.FromRequest(r).Error().Err(err).Msg("signing in")
		fail(http.StatusInternalServerError, "Error logging in: "+err.Error())
		return
	}

	setAuthCookie(w, token, int(s.TokenTTL.Seconds()))
	http.Redirect(w, r, "/navigator/details", http.StatusSeeOther)
}

// RegisterPage handles GET /register.
func (s *Server) RegisterPage(w http.ResponseWriter, r *http.Request) {
	s.Templates.Render(w, r, "register.html", &registerData{
		PageData:    PageData{Title: "Register"},
		MinPassword: model.MinPasswordLength,
	})
}

// RegisterSubmit handles POST /register.
func (s *Server) RegisterSubmit(w http.ResponseWriter, r *http.Request) {
	data := &registerData{
		PageData:    PageData{Title: "Register"},
		MinPassword: model.MinPasswordLength,
	}
	data.Form.Email = r.FormValue("email")
	data.Form.Profile = model.Profile{
		Name:  r.FormValue("name"),
		City:  r.FormValue("city"),
		Phone: r.FormValue("phone"),
	}

	_, err := s.Provider.Register(r.Context(), data.Form.Email, r.FormValue("password"), data.Form.Profile)
	switch {
	case errors.Is(err, session.ErrInvalidEmail):
		data.Error = "Please enter a valid email address."
		s.Templates.RenderStatus(w, r, http.StatusBadRequest, "register.html", data)
		return
	case errors.Is(err, session.ErrWeakPassword):
		data.Error = "Password should be at least 6 characters."
		s.Templates.RenderStatus(w, r, http.StatusBadRequest, "register.html", data)
		return
	case errors.Is(err, session.ErrEmailTaken):
		data.Error = "This email is already registered."
		s.Templates.RenderStatus(w, r, http.StatusConflict, "register.html", data)
		return
	case err != nil:
		logger.FromRequest(r).Error().Err(err).Msg("registering user")
		data.Error = "Error registering: " + err.Error()
		s.Templates.RenderStatus(w, r, http.StatusInternalServerError, "register.html", data)
		return
	}

	setFlash(w, "Registration successful. You can log in now.")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Logout handles POST /logout. The token is revoked, which also ends the
// live views of every tab that shares it.
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(tokenCookie); err == nil && cookie.Value != "" {
		if sess, err := s.Provider.Resume(r.Context(), cookie.Value); err == nil {
			if err := s.Provider.SignOut(r.Context(), sess); err != nil {
				logger.FromRequest(r).Error().Err(err).Msg("signing out")
			}
		}
	}
	clearAuthCookie(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
