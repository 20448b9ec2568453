// handlers.go — session read/teardown, series details, and the relay
// endpoint.
package api

import (
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"github.com/ctoveloz/CTO-Player/internal/metrics"
	"github.com/ctoveloz/CTO-Player/internal/ratelimit"
	"github.com/ctoveloz/CTO-Player/internal/session"
	"github.com/ctoveloz/CTO-Player/internal/xtream"
)

var seriesIDRE = regexp.MustCompile(`^\d+$`)

// handleGetPlaylist returns the stored snapshot as-is.
//
// GET /api/playlist
func (s *Server) handleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	sid := s.identity(w, r)

	if ok, retry := s.limiter.CheckAPI(r.Context(), ratelimit.ClientIP(r)); !ok {
		s.rejectRate(w, "api", retry)
		return
	}

	rec, err := s.sessions.Get(r.Context(), sid)
	if err != nil || len(rec.Playlist) == 0 {
		writeError(w, http.StatusNotFound, "no_session", "Nenhuma playlist carregada")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(rec.Playlist)
}

// handleDeleteSession tears down both tiers for the caller's identity.
//
// DELETE /api/session
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sid := s.identity(w, r)

	if ok, retry := s.limiter.CheckAPI(r.Context(), ratelimit.ClientIP(r)); !ok {
		s.rejectRate(w, "api", retry)
		return
	}

	s.sessions.Delete(r.Context(), sid)
	metrics.ActiveSessions.Set(float64(s.sessions.MemoryLen()))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleSeries fetches the episode listing for one series from the
// session's Xtream provider.
//
// GET /api/series/{id}
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	sid := s.identity(w, r)

	if ok, retry := s.limiter.CheckAPI(r.Context(), ratelimit.ClientIP(r)); !ok {
		s.rejectRate(w, "api", retry)
		return
	}

	id := chi.URLParam(r, "id")
	if !seriesIDRE.MatchString(id) {
		writeError(w, http.StatusBadRequest, "bad_request", "ID de série inválido")
		return
	}

	rec, err := s.sessions.Get(r.Context(), sid)
	if err != nil {
		writeError(w, http.StatusNotFound, "no_session", "Nenhuma sessão ativa")
		return
	}
	if rec.Source != session.SourceXtream || rec.XtreamConfig == nil {
		writeError(w, http.StatusBadRequest, "not_xtream", "Sessão não usa um servidor Xtream")
		return
	}

	client, err := xtream.New(rec.XtreamConfig.Server, rec.XtreamConfig.Username, rec.XtreamConfig.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Configuração Xtream inválida")
		return
	}

	detail, err := client.SeriesInfo(r.Context(), id)
	if err != nil {
		s.log.WithError(err).WithField("host", xtream.SafeHost(client.Server())).Warn("series info failed")
		writeError(w, http.StatusBadGateway, "xtream_failed", "Falha ao buscar episódios")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleProxy is the stream relay endpoint.
//
// GET /api/proxy?url=<escaped absolute target>
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	if ok, retry := s.limiter.CheckProxy(r.Context(), ratelimit.ClientIP(r)); !ok {
		metrics.ProxyRequests.WithLabelValues("rate_limited").Inc()
		s.rejectRate(w, "proxy", retry)
		return
	}

	target := r.URL.Query().Get("url")
	if target == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "Parâmetro url é obrigatório")
		return
	}
	s.relay.Serve(w, r, target)
}
