// relay.go — the streaming reverse-proxy engine.
//
// Given a validated target URL and the client's optional Range header, the
// relay opens an outbound connection on a pooled keep-alive transport,
// follows redirects manually with per-hop URL-guard revalidation, and
// streams the upstream response back with range/length headers shaped by
// content classification. Manifests are buffered, decompressed, rewritten
// through the relay endpoint, and served uncached.
//
// Client disconnects propagate through the request context and tear down
// the upstream connection; the relay never keeps consuming upstream
// bandwidth for a client that has gone away.
package relay

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ctoveloz/CTO-Player/internal/metrics"
	"github.com/ctoveloz/CTO-Player/internal/urlguard"
)

// Bounds decided at design time: a malicious upstream must not drive
// unbounded redirect chains or force buffering of arbitrarily large
// "manifests".
const (
	MaxRedirects     = 5
	MaxManifestBytes = 10 << 20 // 10 MiB
)

// Connection (response-header) timeouts by content class.
const (
	defaultManifestTimeout = 20 * time.Second
	defaultStreamTimeout   = 30 * time.Second
)

// validateURL is the destination policy applied to the initial target and
// to every redirect hop. Swappable in tests.
var validateURL = urlguard.Validate

// Relay is the reverse-proxy engine. One instance serves all requests.
type Relay struct {
	httpTransport  *http.Transport
	httpsTransport *http.Transport
	log            *logrus.Entry

	// Time-to-response-headers bounds per content class.
	manifestTimeout time.Duration
	streamTimeout   time.Duration
}

// New creates a Relay with separate pooled transports for encrypted and
// unencrypted destinations.
func New(log *logrus.Entry) *Relay {
	return &Relay{
		httpTransport:   newTransport(false),
		httpsTransport:  newTransport(true),
		log:             log,
		manifestTimeout: defaultManifestTimeout,
		streamTimeout:   defaultStreamTimeout,
	}
}

// newTransport builds a keep-alive pooled transport. Redirects are never
// followed here — the relay audits every hop itself. Compression is
// negotiated explicitly per content class, so transport-level
// decompression stays off.
func newTransport(https bool) *http.Transport {
	t := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     120 * time.Second,
		DisableCompression:  true,
	}
	if https {
		// Many IPTV upstreams run self-signed or mismatched certs; the
		// relay is a deliberate TLS boundary, matching prior behavior.
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return t
}

// Classify reports whether a target URL looks like a manifest and/or a
// live/continuous stream.
func Classify(rawURL string) (isManifest, isLive bool) {
	lower := strings.ToLower(rawURL)
	isManifest = strings.Contains(lower, ".m3u8") || strings.Contains(lower, "type=m3u_plus")
	isLive = strings.Contains(lower, "/live/") || strings.Contains(lower, ".ts")
	return
}

// Serve relays rawURL to the client. The target is revalidated here
// regardless of upstream checks, as is every redirect hop.
func (rl *Relay) Serve(w http.ResponseWriter, r *http.Request, rawURL string) {
	start := time.Now()
	target, err := validateURL(rawURL)
	if err != nil {
		metrics.ProxyRequests.WithLabelValues("blocked").Inc()
		http.Error(w, "URL blocked", http.StatusForbidden)
		return
	}

	clientRange := r.Header.Get("Range")

	for hop := 0; ; hop++ {
		resp, timedOut, err := rl.fetch(r.Context(), target, clientRange)
		if err != nil {
			if timedOut {
				metrics.ProxyRequests.WithLabelValues("timeout").Inc()
				metrics.StreamErrors.WithLabelValues("timeout").Inc()
				rl.log.WithField("host", target.Host).Warn("upstream connection timeout")
				http.Error(w, "Gateway Timeout", http.StatusGatewayTimeout)
				return
			}
			if r.Context().Err() != nil {
				// Client went away while connecting; nothing to answer.
				metrics.ProxyRequests.WithLabelValues("client_gone").Inc()
				return
			}
			metrics.ProxyRequests.WithLabelValues("upstream_error").Inc()
			metrics.StreamErrors.WithLabelValues("connect").Inc()
			rl.log.WithError(err).WithField("host", target.Host).Warn("upstream request failed")
			http.Error(w, "Proxy error", http.StatusBadGateway)
			return
		}

		if isRedirect(resp.StatusCode) {
			next, err := redirectTarget(resp, target)
			resp.Body.Close()
			if err != nil {
				http.Error(w, "Redirect without location", http.StatusBadGateway)
				return
			}
			if _, err := validateURL(next.String()); err != nil {
				metrics.ProxyRequests.WithLabelValues("blocked").Inc()
				metrics.StreamErrors.WithLabelValues("redirect_blocked").Inc()
				rl.log.WithField("host", next.Host).Warn("redirect to blocked destination")
				http.Error(w, "Redirect to blocked URL", http.StatusForbidden)
				return
			}
			if hop+1 > MaxRedirects {
				metrics.StreamErrors.WithLabelValues("redirect_loop").Inc()
				http.Error(w, "Too many redirects", http.StatusBadGateway)
				return
			}
			target = next
			continue
		}

		metrics.ProxyDuration.Observe(time.Since(start).Seconds())
		rl.respond(w, r, resp, target)
		return
	}
}

// fetch performs one hop: connect, send, await response headers. The
// context governs the whole exchange (client disconnect aborts it); the
// class timeout additionally bounds time-to-headers without cutting off
// long-running stream bodies.
func (rl *Relay) fetch(ctx context.Context, target *url.URL, clientRange string) (*http.Response, bool, error) {
	isManifest, _ := Classify(target.String())

	timeout := rl.streamTimeout
	if isManifest {
		timeout = rl.manifestTimeout
	}

	hopCtx, cancel := context.WithCancel(ctx)
	var timedOut atomic.Bool
	timer := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		cancel()
	})

	req, err := http.NewRequestWithContext(hopCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		timer.Stop()
		cancel()
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	if isManifest {
		req.Header.Set("Accept-Encoding", "gzip, deflate, identity")
	} else {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if clientRange != "" {
		req.Header.Set("Range", clientRange)
	}

	transport := rl.httpTransport
	if target.Scheme == "https" {
		transport = rl.httpsTransport
	}

	resp, err := transport.RoundTrip(req)
	if err != nil {
		timer.Stop()
		cancel()
		return nil, timedOut.Load(), err
	}

	// Headers are in: stop the header timer but keep hopCtx alive so a
	// client disconnect still tears the body down. Chain cleanup onto the
	// body so the hop context is released when the stream ends.
	timer.Stop()
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, false, nil
}

// respond shapes and streams one non-redirect upstream response.
func (rl *Relay) respond(w http.ResponseWriter, r *http.Request, resp *http.Response, target *url.URL) {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		metrics.ProxyRequests.WithLabelValues("upstream_error").Inc()
		rl.log.WithFields(logrus.Fields{"host": target.Host, "status": resp.StatusCode}).
			Warn("upstream returned error status")
		http.Error(w, fmt.Sprintf("Upstream error %d", resp.StatusCode), http.StatusBadGateway)
		return
	}

	isManifest, isLive := Classify(target.String())
	contentType := resp.Header.Get("Content-Type")
	if !isManifest && strings.Contains(contentType, "mpegurl") {
		isManifest = true
	}

	corsHeaders(w.Header())

	if isManifest {
		rl.respondManifest(w, resp, target)
		return
	}

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		// Upstream honored the range — forward it verbatim for seeking.
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			w.Header().Set("Content-Range", cr)
		}
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			w.Header().Set("Content-Length", cl)
		}
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusPartialContent)

	case resp.Header.Get("Content-Length") != "" && !isLive:
		// On-demand content with a known length — advertise seekability.
		w.Header().Set("Content-Length", resp.Header.Get("Content-Length"))
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusOK)

	default:
		// Live or unknown length — chunked, uncacheable.
		w.Header().Set("Cache-Control", "no-cache, no-store")
		w.WriteHeader(http.StatusOK)
	}

	if _, err := io.Copy(&flushWriter{w: w}, resp.Body); err != nil {
		// Client disconnect or upstream drop mid-stream. Headers are out;
		// nothing to do but account for it.
		if r.Context().Err() == nil {
			metrics.StreamErrors.WithLabelValues("copy").Inc()
		}
		return
	}
	metrics.ProxyRequests.WithLabelValues("ok").Inc()
}

// respondManifest buffers, decompresses, rewrites, and serves a manifest.
func (rl *Relay) respondManifest(w http.ResponseWriter, resp *http.Response, target *url.URL) {
	body, err := decodedBody(resp)
	if err != nil {
		if errors.Is(err, errManifestTooLarge) {
			metrics.StreamErrors.WithLabelValues("manifest_too_large").Inc()
			rl.log.WithField("host", target.Host).Warn("manifest exceeds size cap")
		} else {
			metrics.StreamErrors.WithLabelValues("manifest_read").Inc()
			rl.log.WithError(err).WithField("host", target.Host).Warn("manifest read failed")
		}
		metrics.ProxyRequests.WithLabelValues("upstream_error").Inc()
		http.Error(w, "Upstream error", http.StatusBadGateway)
		return
	}

	rewritten := RewriteManifest(body, target.String())
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(rewritten)
	metrics.ProxyRequests.WithLabelValues("ok").Inc()
}

var errManifestTooLarge = errors.New("manifest too large")

// decodedBody reads a whole manifest body, reversing gzip/deflate transfer
// encoding, bounded by MaxManifestBytes.
func decodedBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		reader = fl
	}

	body, err := io.ReadAll(io.LimitReader(reader, MaxManifestBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > MaxManifestBytes {
		return nil, errManifestTooLarge
	}
	return body, nil
}

// corsHeaders sets the cross-origin headers every relay response carries.
func corsHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Expose-Headers", "Content-Range, Accept-Ranges, Content-Length, Content-Type")
}

// Preflight answers the CORS preflight exchange for the relay endpoint.
func Preflight(w http.ResponseWriter, _ *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Range")
	h.Set("Access-Control-Expose-Headers", "Content-Range, Accept-Ranges, Content-Length, Content-Type")
	h.Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

// isRedirect reports whether status is one the relay follows manually.
func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// redirectTarget resolves the Location header against the current target.
func redirectTarget(resp *http.Response, current *url.URL) (*url.URL, error) {
	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, errors.New("redirect without location")
	}
	next, err := url.Parse(loc)
	if err != nil {
		return nil, fmt.Errorf("redirect location: %w", err)
	}
	return current.ResolveReference(next), nil
}

// cancelBody releases the hop context when the response body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// flushWriter flushes after every write so live segments reach the client
// without store-and-forward latency.
type flushWriter struct {
	w http.ResponseWriter
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if flusher, ok := f.w.(http.Flusher); ok {
		flusher.Flush()
	}
	return n, err
}
