// Package api is the HTTP surface of the CTO-Player server: playlist
// ingestion, session lifecycle, series details, and the stream relay
// endpoint, with the identity cookie handled at this boundary.
package api

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/ctoveloz/CTO-Player/internal/metrics"
	"github.com/ctoveloz/CTO-Player/internal/ratelimit"
	"github.com/ctoveloz/CTO-Player/internal/relay"
	"github.com/ctoveloz/CTO-Player/internal/session"
)

// Identity cookie parameters. One opaque token per client, long-lived.
const (
	cookieName   = "ctoplayer_sid"
	cookieMaxAge = 365 * 24 * 60 * 60
)

// Server wires the subsystems behind the HTTP routes.
type Server struct {
	sessions  *session.Manager
	limiter   *ratelimit.Limiter
	relay     *relay.Relay
	publicDir string
	log       *logrus.Entry
}

// New assembles the HTTP surface.
func New(sessions *session.Manager, limiter *ratelimit.Limiter, rl *relay.Relay, publicDir string, log *logrus.Entry) *Server {
	return &Server{
		sessions:  sessions,
		limiter:   limiter,
		relay:     rl,
		publicDir: publicDir,
		log:       log,
	}
}

// Router builds the chi router. No request timeout middleware: relay and
// ingestion responses are long-lived streams governed by their own
// timeouts.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// The relay preflight advertises HEAD; route it like GET everywhere.
	r.Use(middleware.GetHead)
	r.Use(securityHeaders)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/load-m3u", s.handleLoadM3U)
		r.Post("/load-xtream", s.handleLoadXtream)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/playlist", s.handleGetPlaylist)
		r.Delete("/session", s.handleDeleteSession)
		r.Get("/series/{id}", s.handleSeries)
		r.Options("/proxy", relay.Preflight)
		r.Get("/proxy", s.handleProxy)
	})

	if st, err := os.Stat(s.publicDir); err == nil && st.IsDir() {
		r.Handle("/*", http.FileServer(http.Dir(s.publicDir)))
	}
	return r
}

// identity resolves the caller's session identity from the cookie. A
// missing or malformed value is treated as absent and a fresh identity is
// minted. The cookie is (re)issued either way, extending its lifetime.
func (s *Server) identity(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(cookieName); err == nil && session.IsIdentity(c.Value) {
		s.setIdentityCookie(w, c.Value)
		return c.Value
	}
	sid := session.Mint()
	s.setIdentityCookie(w, sid)
	return sid
}

func (s *Server) setIdentityCookie(w http.ResponseWriter, sid string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    sid,
		Path:     "/",
		MaxAge:   cookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// securityHeaders sets the baseline hardening headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("Referrer-Policy", "same-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "ctoplayer"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}
