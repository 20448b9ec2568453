// api_test.go — HTTP surface tests over the full router.
package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ctoveloz/CTO-Player/internal/ratelimit"
	"github.com/ctoveloz/CTO-Player/internal/relay"
	"github.com/ctoveloz/CTO-Player/internal/session"
	"github.com/ctoveloz/CTO-Player/internal/testutil"
	"github.com/ctoveloz/CTO-Player/internal/urlguard"
)

const blockedHost = "blocked.test"

// newTestServer builds a full router over a temp-dir session store. The
// destination policy is swapped for one that admits loopback (httptest
// upstreams) but still blocks a marker host.
func newTestServer(t *testing.T, maxSessions int) (*Server, http.Handler) {
	t.Helper()

	orig := validateURL
	validateURL = func(raw string) (*url.URL, error) {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, urlguard.ErrBlocked
		}
		if u.Hostname() == blockedHost {
			return nil, urlguard.ErrBlocked
		}
		return u, nil
	}
	t.Cleanup(func() { validateURL = orig })

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	entry := log.WithField("component", "test")

	store, err := session.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	sessions := session.NewManager(store, maxSessions, 30*time.Minute, entry)
	limiter := ratelimit.New(ratelimit.NewMemoryStore())

	srv := New(sessions, limiter, relay.New(entry), t.TempDir()+"/nonexistent", entry)
	return srv, srv.Router()
}

func m3uUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n"+
			`#EXTINF:-1 tvg-logo="http://logo/1.png" group-title="Notícias",Canal Um`+"\n"+
			"http://stream.example.com/live/1.m3u8\n"+
			`#EXTINF:-1 group-title="Filmes",Heat`+"\n"+
			"http://stream.example.com/movie/200.mp4\n")
	}))
}

func TestLoadM3U_FullFlow(t *testing.T) {
	upstream := m3uUpstream(t)
	defer upstream.Close()

	_, router := newTestServer(t, 50)

	rr := testutil.PostJSON(t, router, "/api/load-m3u", map[string]string{"url": upstream.URL + "/list.m3u"})
	testutil.AssertStatus(t, rr, http.StatusOK)
	if ct := rr.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("Content-Type = %q", ct)
	}

	events := testutil.DecodeNDJSON(t, rr)
	if len(events) < 2 {
		t.Fatalf("expected progress + done, got %v", events)
	}
	last := events[len(events)-1]
	if last["type"] != "done" {
		t.Fatalf("terminal event = %v", last)
	}
	if last["live"] != float64(1) || last["movies"] != float64(1) {
		t.Errorf("done counts = %v", last)
	}
	for _, ev := range events[:len(events)-1] {
		if ev["type"] != "progress" {
			t.Errorf("non-progress event before terminal: %v", ev)
		}
	}

	cookie := testutil.SessionCookie(t, rr, cookieName)
	if !session.IsIdentity(cookie.Value) {
		t.Fatalf("cookie value not an identity: %q", cookie.Value)
	}
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteLaxMode {
		t.Error("cookie not HttpOnly/SameSite=Lax")
	}

	// The snapshot is served back for the same identity.
	get := testutil.Do(t, router, http.MethodGet, "/api/playlist", cookie)
	testutil.AssertStatus(t, get, http.StatusOK)
	var snap struct {
		Live struct {
			Count int `json:"count"`
		} `json:"live"`
	}
	testutil.DecodeJSON(t, get, &snap)
	if snap.Live.Count != 1 {
		t.Errorf("live count = %d", snap.Live.Count)
	}

	// Teardown removes both tiers.
	del := testutil.Do(t, router, http.MethodDelete, "/api/session", cookie)
	testutil.AssertStatus(t, del, http.StatusOK)
	gone := testutil.Do(t, router, http.MethodGet, "/api/playlist", cookie)
	testutil.AssertStatus(t, gone, http.StatusNotFound)
}

func TestLoadM3U_BlockedURL(t *testing.T) {
	_, router := newTestServer(t, 50)

	rr := testutil.PostJSON(t, router, "/api/load-m3u", map[string]string{"url": "http://" + blockedHost + "/list.m3u"})
	testutil.AssertStatus(t, rr, http.StatusBadRequest)

	var body map[string]string
	testutil.DecodeJSON(t, rr, &body)
	if body["error"] != "blocked_url" {
		t.Errorf("error = %q", body["error"])
	}
}

func TestLoadM3U_DownloadFailureIsErrorEvent(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	_, router := newTestServer(t, 50)
	rr := testutil.PostJSON(t, router, "/api/load-m3u", map[string]string{"url": upstream.URL})

	// Headers were already committed to the NDJSON stream.
	testutil.AssertStatus(t, rr, http.StatusOK)
	events := testutil.DecodeNDJSON(t, rr)
	last := events[len(events)-1]
	if last["type"] != "error" || last["error"] != "download_failed" {
		t.Errorf("terminal event = %v", last)
	}
}

func TestLoadM3U_NotAPlaylist(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not a playlist</html>")
	}))
	defer upstream.Close()

	_, router := newTestServer(t, 50)
	rr := testutil.PostJSON(t, router, "/api/load-m3u", map[string]string{"url": upstream.URL})

	events := testutil.DecodeNDJSON(t, rr)
	last := events[len(events)-1]
	if last["type"] != "error" || last["error"] != "parse_failed" {
		t.Errorf("terminal event = %v", last)
	}
}

func TestLoadM3U_RateLimited(t *testing.T) {
	_, router := newTestServer(t, 50)

	// The load budget gates before body validation; burn it with bad bodies.
	for i := 0; i < ratelimit.LoadPerWindow; i++ {
		rr := testutil.PostJSON(t, router, "/api/load-m3u", map[string]string{})
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
	}
	rr := testutil.PostJSON(t, router, "/api/load-m3u", map[string]string{})
	testutil.AssertStatus(t, rr, http.StatusTooManyRequests)
	if rr.Header().Get("Retry-After") == "" {
		t.Error("429 without Retry-After")
	}
}

func TestLoadM3U_CapacityBlocksNewIdentity(t *testing.T) {
	upstream := m3uUpstream(t)
	defer upstream.Close()

	_, router := newTestServer(t, 1)

	rr := testutil.PostJSON(t, router, "/api/load-m3u", map[string]string{"url": upstream.URL})
	events := testutil.DecodeNDJSON(t, rr)
	if events[len(events)-1]["type"] != "done" {
		t.Fatalf("first load failed: %v", events)
	}
	cookie := testutil.SessionCookie(t, rr, cookieName)

	// A second, fresh identity is rejected before any download starts.
	rej := testutil.PostJSON(t, router, "/api/load-m3u", map[string]string{"url": upstream.URL})
	testutil.AssertStatus(t, rej, http.StatusServiceUnavailable)

	// The existing identity can still reload.
	again := testutil.PostJSONWithCookie(t, router, "/api/load-m3u", map[string]string{"url": upstream.URL}, cookie)
	events = testutil.DecodeNDJSON(t, again)
	if events[len(events)-1]["type"] != "done" {
		t.Errorf("existing identity blocked at capacity: %v", events)
	}
}

func TestRefresh_NoSession(t *testing.T) {
	_, router := newTestServer(t, 50)
	rr := testutil.PostJSON(t, router, "/api/refresh", map[string]string{})
	testutil.AssertStatus(t, rr, http.StatusNotFound)
}

func TestRefresh_ReplacesSnapshot(t *testing.T) {
	serveMovies := false
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXTINF:-1,Canal Um\nhttp://s/live/1.m3u8\n")
		if serveMovies {
			fmt.Fprint(w, `#EXTINF:-1 group-title="Filmes",Heat`+"\nhttp://s/movie/2.mp4\n")
		}
	}))
	defer upstream.Close()

	_, router := newTestServer(t, 50)
	rr := testutil.PostJSON(t, router, "/api/load-m3u", map[string]string{"url": upstream.URL})
	cookie := testutil.SessionCookie(t, rr, cookieName)

	serveMovies = true
	ref := testutil.PostJSONWithCookie(t, router, "/api/refresh", map[string]string{}, cookie)
	events := testutil.DecodeNDJSON(t, ref)
	last := events[len(events)-1]
	if last["type"] != "done" {
		t.Fatalf("refresh failed: %v", events)
	}
	if last["movies"] != float64(1) {
		t.Errorf("refreshed snapshot not replaced: %v", last)
	}
}

func TestSeries_InvalidID(t *testing.T) {
	_, router := newTestServer(t, 50)
	rr := testutil.Do(t, router, http.MethodGet, "/api/series/abc", nil)
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}

func TestSeries_RequiresXtreamSession(t *testing.T) {
	upstream := m3uUpstream(t)
	defer upstream.Close()

	_, router := newTestServer(t, 50)
	rr := testutil.PostJSON(t, router, "/api/load-m3u", map[string]string{"url": upstream.URL})
	cookie := testutil.SessionCookie(t, rr, cookieName)

	res := testutil.Do(t, router, http.MethodGet, "/api/series/300", cookie)
	testutil.AssertStatus(t, res, http.StatusBadRequest)
}

func TestLoadXtream_AuthFailureIsErrorEvent(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"user_info":{"auth":0}}`)
	}))
	defer provider.Close()

	_, router := newTestServer(t, 50)
	rr := testutil.PostJSON(t, router, "/api/load-xtream", map[string]string{
		"server": provider.URL, "username": "u", "password": "p",
	})

	events := testutil.DecodeNDJSON(t, rr)
	last := events[len(events)-1]
	if last["type"] != "error" || last["error"] != "xtream_failed" {
		t.Errorf("terminal event = %v", last)
	}
}

func TestProxy_RequiresURL(t *testing.T) {
	_, router := newTestServer(t, 50)
	rr := testutil.Do(t, router, http.MethodGet, "/api/proxy", nil)
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}

func TestProxy_HeadIsRouted(t *testing.T) {
	_, router := newTestServer(t, 50)

	// HEAD must reach the proxy handler like GET, not die with a 405.
	rr := testutil.Do(t, router, http.MethodHead, "/api/proxy", nil)
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}

func TestProxy_Preflight(t *testing.T) {
	_, router := newTestServer(t, 50)
	rr := testutil.Do(t, router, http.MethodOptions, "/api/proxy", nil)
	testutil.AssertStatus(t, rr, http.StatusNoContent)
	if rr.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("preflight missing allowed methods")
	}
}

func TestMalformedCookieMintsFreshIdentity(t *testing.T) {
	_, router := newTestServer(t, 50)

	rr := testutil.Do(t, router, http.MethodGet, "/api/playlist",
		&http.Cookie{Name: cookieName, Value: "../../etc/passwd"})
	testutil.AssertStatus(t, rr, http.StatusNotFound)

	cookie := testutil.SessionCookie(t, rr, cookieName)
	if !session.IsIdentity(cookie.Value) {
		t.Errorf("fresh identity not minted: %q", cookie.Value)
	}
	if cookie.Value == "../../etc/passwd" {
		t.Error("malformed identity echoed back")
	}
}

func TestSecurityHeaders(t *testing.T) {
	_, router := newTestServer(t, 50)
	rr := testutil.GetJSON(t, router, "/health")
	testutil.AssertStatus(t, rr, http.StatusOK)

	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options")
	}
	if rr.Header().Get("X-Frame-Options") != "SAMEORIGIN" {
		t.Error("missing X-Frame-Options")
	}
	if rr.Header().Get("Referrer-Policy") != "same-origin" {
		t.Error("missing Referrer-Policy")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, router := newTestServer(t, 50)
	rr := testutil.GetJSON(t, router, "/metrics")
	testutil.AssertStatus(t, rr, http.StatusOK)
}
