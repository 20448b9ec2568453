// xtream_test.go — provider client tests against a fake player_api.php.
package xtream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakeProvider serves canned player_api.php responses.
func fakeProvider(t *testing.T, authOK bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/player_api.php" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("username") != "user" || q.Get("password") != "pass" {
			fmt.Fprint(w, `{"user_info":{"auth":0}}`)
			return
		}
		switch q.Get("action") {
		case "":
			if authOK {
				fmt.Fprint(w, `{"user_info":{"auth":1,"status":"Active"}}`)
			} else {
				fmt.Fprint(w, `{"user_info":{"auth":0}}`)
			}
		case "get_live_categories":
			fmt.Fprint(w, `[{"category_id":"7","category_name":"Notícias"}]`)
		case "get_live_streams":
			fmt.Fprint(w, `[{"name":"Canal News","stream_id":100,"stream_icon":"http://logo/n.png","epg_channel_id":"news.br","added":"1700000000","category_id":"7"}]`)
		case "get_vod_categories":
			fmt.Fprint(w, `[{"category_id":"9","category_name":"Ação"}]`)
		case "get_vod_streams":
			fmt.Fprint(w, `[{"name":"Heat","stream_id":200,"container_extension":"mkv","rating":"8.3","year":"1995","category_id":"9"}]`)
		case "get_series_categories":
			fmt.Fprint(w, `[]`)
		case "get_series":
			fmt.Fprint(w, `[{"name":"Dark","series_id":300,"cover":"http://logo/d.png","category_id":"11","last_modified":"1700000500"}]`)
		case "get_series_info":
			if q.Get("series_id") != "300" {
				fmt.Fprint(w, `{}`)
				return
			}
			fmt.Fprint(w, `{"info":{"name":"Dark","cover":"http://logo/d.png"},"episodes":{"1":[{"id":9001,"title":"Segredos","episode_num":1,"container_extension":"mp4","info":{"duration":"00:51:00"}}]}}`)
		default:
			fmt.Fprint(w, `[]`)
		}
	}))
}

func TestAuthenticate(t *testing.T) {
	srv := fakeProvider(t, true)
	defer srv.Close()

	c, err := New(srv.URL+"/", "user", "pass")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Authenticate(context.Background()); err != nil {
		t.Errorf("Authenticate: %v", err)
	}

	bad, _ := New(srv.URL, "user", "wrong")
	if err := bad.Authenticate(context.Background()); err == nil {
		t.Error("expected auth rejection for wrong password")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "u", "p"); err == nil {
		t.Error("empty server should fail")
	}
	if _, err := New("http://host", "", "p"); err == nil {
		t.Error("empty username should fail")
	}
	if _, err := New("ftp://host", "u", "p"); err == nil {
		t.Error("non-http scheme should fail")
	}
	c, err := New("http://host:8080///", "u", "p")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Server() != "http://host:8080" {
		t.Errorf("server not normalized: %q", c.Server())
	}
}

func TestFetchSnapshot(t *testing.T) {
	srv := fakeProvider(t, true)
	defer srv.Close()

	c, _ := New(srv.URL, "user", "pass")
	var stages []int
	snap, err := c.FetchSnapshot(context.Background(), func(_ string, pct int) {
		stages = append(stages, pct)
	})
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}

	if snap.Live.Count != 1 || snap.Movies.Count != 1 || snap.Series.Count != 1 {
		t.Fatalf("counts = %d/%d/%d, want 1/1/1",
			snap.Live.Count, snap.Movies.Count, snap.Series.Count)
	}

	ch := snap.Live.Items[0]
	wantURL := srv.URL + "/live/user/pass/100.m3u8"
	if ch.URL != wantURL {
		t.Errorf("live URL = %q, want %q", ch.URL, wantURL)
	}
	if ch.Group != "Notícias" {
		t.Errorf("category name not mapped: %q", ch.Group)
	}
	if ch.Idx != 1700000000 {
		t.Errorf("idx should come from added: %d", ch.Idx)
	}

	movie := snap.Movies.Items[0]
	if movie.URL != srv.URL+"/movie/user/pass/200.mkv" {
		t.Errorf("movie URL = %q", movie.URL)
	}
	if movie.Rating != "8.3" || movie.Year != "1995" {
		t.Errorf("movie meta = %q/%q", movie.Rating, movie.Year)
	}

	show := snap.Series.Items[0]
	if !show.IsSeries || show.SeriesID != 300 {
		t.Errorf("series item wrong: %+v", show)
	}
	// Unknown category ID degrades to the default group.
	if show.Group != "Sem Categoria" {
		t.Errorf("series group = %q", show.Group)
	}

	if len(stages) == 0 || stages[len(stages)-1] != 85 {
		t.Errorf("progress stages = %v", stages)
	}
}

func TestFetchSnapshot_AuthFailureStopsEarly(t *testing.T) {
	srv := fakeProvider(t, false)
	defer srv.Close()

	c, _ := New(srv.URL, "user", "pass")
	if _, err := c.FetchSnapshot(context.Background(), nil); err == nil {
		t.Fatal("expected auth failure")
	}
}

func TestSeriesInfo(t *testing.T) {
	srv := fakeProvider(t, true)
	defer srv.Close()

	c, _ := New(srv.URL, "user", "pass")
	detail, err := c.SeriesInfo(context.Background(), "300")
	if err != nil {
		t.Fatalf("SeriesInfo: %v", err)
	}
	if detail.Name != "Dark" {
		t.Errorf("name = %q", detail.Name)
	}
	eps := detail.Seasons["1"]
	if len(eps) != 1 {
		t.Fatalf("season 1 episodes = %d", len(eps))
	}
	if eps[0].URL != srv.URL+"/series/user/pass/9001.mp4" {
		t.Errorf("episode URL = %q", eps[0].URL)
	}
	if eps[0].Duration != "00:51:00" {
		t.Errorf("duration = %q", eps[0].Duration)
	}
	// Episode logo falls back to the series cover.
	if eps[0].Logo != "http://logo/d.png" {
		t.Errorf("logo fallback = %q", eps[0].Logo)
	}
}

func TestSafeHost(t *testing.T) {
	if got := SafeHost("http://secret-host:8080"); got != "secret-host:8080" {
		t.Errorf("SafeHost = %q", got)
	}
}
