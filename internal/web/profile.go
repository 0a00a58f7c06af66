package web

import (
	"net/http"
)

// ProfilePage handles GET /navigator/profile.
func (s *Server) ProfilePage(w http.ResponseWriter, r *http.Request) {
	s.Templates.Render(w, r, "profile.html", &PageData{
		Title: "Profile",
		User:  GetSession(r.Context()).Identity(),
	})
}

// SamplePage handles GET /sample.
func (s *Server) SamplePage(w http.ResponseWriter, r *http.Request) {
	s.Templates.Render(w, r, "sample.html", &PageData{Title: "Sample"})
}

// Healthz handles GET /healthz.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}
