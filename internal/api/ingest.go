// ingest.go — playlist ingestion endpoints: load-m3u, load-xtream, refresh.
package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/ctoveloz/CTO-Player/internal/metrics"
	"github.com/ctoveloz/CTO-Player/internal/playlist"
	"github.com/ctoveloz/CTO-Player/internal/ratelimit"
	"github.com/ctoveloz/CTO-Player/internal/session"
	"github.com/ctoveloz/CTO-Player/internal/urlguard"
	"github.com/ctoveloz/CTO-Player/internal/xtream"
)

// Playlist download bounds. Providers ship multi-MB playlists; 200 MiB is
// far past any legitimate one.
const (
	maxPlaylistBytes     = 200 << 20
	playlistConnTimeout  = 15 * time.Second
	playlistTotalTimeout = 120 * time.Second
	maxPlaylistRedirects = 5
)

// validateURL is the destination policy for ingestion targets and their
// redirect hops. Swappable in tests.
var validateURL = urlguard.Validate

// m3uCredentials is the stored source for M3U sessions, kept so refresh
// can re-download without the client resending the URL.
type m3uCredentials struct {
	URL string `json:"url"`
}

// playlistHTTPClient downloads provider playlists. Every redirect hop goes
// back through the destination policy; TLS verification is skipped like
// the relay, since providers routinely run broken certs.
func playlistHTTPClient() *http.Client {
	return &http.Client{
		Timeout: playlistTotalTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: playlistConnTimeout,
			}).DialContext,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxPlaylistRedirects {
				return errors.New("too many redirects")
			}
			if _, err := validateURL(req.URL.String()); err != nil {
				return fmt.Errorf("redirect target: %w", err)
			}
			return nil
		},
	}
}

// fetchPlaylist downloads raw M3U text from a validated URL.
func fetchPlaylist(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := playlistHTTPClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(body)) > maxPlaylistBytes {
		return "", errors.New("playlist exceeds size limit")
	}
	return string(body), nil
}

// handleLoadM3U ingests a playlist by URL. Validation failures are plain
// JSON errors; once the download starts the response is an NDJSON
// progress stream.
//
// POST /api/load-m3u {"url": "..."}
func (s *Server) handleLoadM3U(w http.ResponseWriter, r *http.Request) {
	sid := s.identity(w, r)

	if ok, retry := s.limiter.CheckLoad(r.Context(), ratelimit.ClientIP(r)); !ok {
		s.rejectRate(w, "load", retry)
		return
	}

	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "Informe a URL da playlist")
		return
	}
	if _, err := validateURL(body.URL); err != nil {
		writeError(w, http.StatusBadRequest, "blocked_url", "URL inválida ou bloqueada")
		return
	}
	if err := s.sessions.CanCreate(r.Context(), sid); err != nil {
		s.rejectCapacity(w, err)
		return
	}

	stream := newProgressStream(w)
	stream.Progress("Baixando playlist...", 10)

	content, err := fetchPlaylist(r.Context(), body.URL)
	if err != nil {
		s.log.WithError(err).Warn("playlist download failed")
		metrics.IngestLoads.WithLabelValues("m3u", "error").Inc()
		stream.Error("download_failed", "Não foi possível baixar a playlist")
		return
	}

	stream.Progress("Processando playlist...", 60)
	snap, err := playlist.ParseM3U(content)
	if err != nil {
		metrics.IngestLoads.WithLabelValues("m3u", "error").Inc()
		stream.Error("parse_failed", "O conteúdo não é uma playlist M3U válida")
		return
	}

	creds, _ := json.Marshal(m3uCredentials{URL: body.URL})
	s.finishIngest(r.Context(), stream, sid, session.Record{
		Source:      session.SourceM3U,
		Credentials: creds,
	}, snap, "m3u")
}

// handleLoadXtream ingests a playlist from an Xtream Codes provider.
//
// POST /api/load-xtream {"server": "...", "username": "...", "password": "..."}
func (s *Server) handleLoadXtream(w http.ResponseWriter, r *http.Request) {
	sid := s.identity(w, r)

	if ok, retry := s.limiter.CheckLoad(r.Context(), ratelimit.ClientIP(r)); !ok {
		s.rejectRate(w, "load", retry)
		return
	}

	var body struct {
		Server   string `json:"server"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Corpo JSON inválido")
		return
	}

	client, err := xtream.New(body.Server, body.Username, body.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Servidor, usuário e senha são obrigatórios")
		return
	}
	if _, err := validateURL(client.Server()); err != nil {
		writeError(w, http.StatusBadRequest, "blocked_url", "URL inválida ou bloqueada")
		return
	}
	if err := s.sessions.CanCreate(r.Context(), sid); err != nil {
		s.rejectCapacity(w, err)
		return
	}

	stream := newProgressStream(w)
	snap, err := client.FetchSnapshot(r.Context(), stream.Progress)
	if err != nil {
		s.log.WithError(err).WithField("host", xtream.SafeHost(client.Server())).Warn("xtream load failed")
		metrics.IngestLoads.WithLabelValues("xtream", "error").Inc()
		stream.Error("xtream_failed", "Falha ao carregar do servidor Xtream")
		return
	}

	s.finishIngest(r.Context(), stream, sid, session.Record{
		Source: session.SourceXtream,
		XtreamConfig: &session.XtreamConfig{
			Server:   client.Server(),
			Username: body.Username,
			Password: body.Password,
		},
	}, snap, "xtream")
}

// handleRefresh re-runs the stored source's ingestion and replaces the
// whole snapshot. Requires an existing session.
//
// POST /api/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sid := s.identity(w, r)

	if ok, retry := s.limiter.CheckRefresh(r.Context(), ratelimit.ClientIP(r)); !ok {
		s.rejectRate(w, "refresh", retry)
		return
	}

	rec, err := s.sessions.Get(r.Context(), sid)
	if err != nil {
		writeError(w, http.StatusNotFound, "no_session", "Nenhuma sessão ativa")
		return
	}

	stream := newProgressStream(w)

	switch rec.Source {
	case session.SourceM3U:
		var creds m3uCredentials
		if err := json.Unmarshal(rec.Credentials, &creds); err != nil || creds.URL == "" {
			stream.Error("no_source", "Sessão sem origem de playlist")
			return
		}
		if _, err := validateURL(creds.URL); err != nil {
			stream.Error("blocked_url", "URL inválida ou bloqueada")
			return
		}
		stream.Progress("Atualizando playlist...", 10)
		content, err := fetchPlaylist(r.Context(), creds.URL)
		if err != nil {
			metrics.IngestLoads.WithLabelValues("m3u", "error").Inc()
			stream.Error("download_failed", "Não foi possível baixar a playlist")
			return
		}
		stream.Progress("Processando playlist...", 60)
		snap, err := playlist.ParseM3U(content)
		if err != nil {
			metrics.IngestLoads.WithLabelValues("m3u", "error").Inc()
			stream.Error("parse_failed", "O conteúdo não é uma playlist M3U válida")
			return
		}
		rec.Playlist = nil
		s.finishIngest(r.Context(), stream, sid, rec, snap, "m3u")

	case session.SourceXtream:
		if rec.XtreamConfig == nil {
			stream.Error("no_source", "Sessão sem configuração Xtream")
			return
		}
		client, err := xtream.New(rec.XtreamConfig.Server, rec.XtreamConfig.Username, rec.XtreamConfig.Password)
		if err != nil {
			stream.Error("no_source", "Configuração Xtream inválida")
			return
		}
		snap, err := client.FetchSnapshot(r.Context(), stream.Progress)
		if err != nil {
			metrics.IngestLoads.WithLabelValues("xtream", "error").Inc()
			stream.Error("xtream_failed", "Falha ao atualizar do servidor Xtream")
			return
		}
		rec.Playlist = nil
		s.finishIngest(r.Context(), stream, sid, rec, snap, "xtream")

	default:
		stream.Error("no_source", "Sessão sem origem de playlist")
	}
}

// finishIngest saves the snapshot write-through and emits the terminal
// done event.
func (s *Server) finishIngest(ctx context.Context, stream *progressStream, sid string, rec session.Record, snap *playlist.Snapshot, source string) {
	stream.Progress("Salvando sessão...", 90)

	raw, err := json.Marshal(snap)
	if err != nil {
		stream.Error("internal", "Falha ao salvar a sessão")
		return
	}
	rec.Playlist = raw

	if err := s.sessions.Put(ctx, sid, rec); err != nil {
		if errors.Is(err, session.ErrCapacity) {
			metrics.IngestLoads.WithLabelValues(source, "capacity").Inc()
			stream.Error("session_capacity", "Limite de sessões atingido, tente novamente mais tarde")
			return
		}
		stream.Error("internal", "Falha ao salvar a sessão")
		return
	}

	metrics.IngestLoads.WithLabelValues(source, "ok").Inc()
	metrics.ActiveSessions.Set(float64(s.sessions.MemoryLen()))
	stream.Done(snap.Live.Count, snap.Movies.Count, snap.Series.Count)
}

// rejectRate answers a throttled request before any streaming starts.
func (s *Server) rejectRate(w http.ResponseWriter, class string, retry int) {
	metrics.RateLimitRejections.WithLabelValues(class).Inc()
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retry))
	writeError(w, http.StatusTooManyRequests, "rate_limited", ratelimit.RetryAfterError(retry))
}

// rejectCapacity maps admission-control failures to HTTP statuses.
func (s *Server) rejectCapacity(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrCapacity) {
		writeError(w, http.StatusServiceUnavailable, "session_capacity",
			"Limite de sessões atingido, tente novamente mais tarde")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal", "Erro interno")
}
