// snapshot.go — staged provider fetch and mapping into the playlist
// snapshot, plus per-series episode lookup.
package xtream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ctoveloz/CTO-Player/internal/playlist"
)

// Progress receives human-readable stage updates during a full fetch.
// Used by the API tier to stream NDJSON progress to the browser.
type Progress func(message string, percent int)

// FetchSnapshot authenticates and pulls the full catalogue, reporting
// progress after each stage. Category fetches are best-effort: a failed
// category call degrades to ID-only groups rather than failing the load.
func (c *Client) FetchSnapshot(ctx context.Context, report Progress) (*playlist.Snapshot, error) {
	if report == nil {
		report = func(string, int) {}
	}

	report("Autenticando no servidor...", 5)
	if err := c.Authenticate(ctx); err != nil {
		return nil, err
	}

	report("Autenticado! Carregando categorias de TV...", 10)
	liveCats, _ := c.LiveCategories(ctx)
	report(fmt.Sprintf("Categorias de TV: %d. Carregando canais...", len(liveCats)), 20)

	liveStreams, err := c.LiveStreams(ctx)
	if err != nil {
		return nil, err
	}
	report(fmt.Sprintf("%d canais ao vivo. Carregando categorias de filmes...", len(liveStreams)), 35)

	vodCats, _ := c.VodCategories(ctx)
	report(fmt.Sprintf("Categorias de filmes: %d. Carregando filmes...", len(vodCats)), 45)

	vodStreams, err := c.VodStreams(ctx)
	if err != nil {
		return nil, err
	}
	report(fmt.Sprintf("%d filmes. Carregando categorias de series...", len(vodStreams)), 60)

	seriesCats, _ := c.SeriesCategories(ctx)
	report(fmt.Sprintf("Categorias de series: %d. Carregando series...", len(seriesCats)), 70)

	seriesRows, err := c.Series(ctx)
	if err != nil {
		return nil, err
	}
	report(fmt.Sprintf("%d series. Montando playlist...", len(seriesRows)), 85)

	return c.buildSnapshot(liveCats, liveStreams, vodCats, vodStreams, seriesCats, seriesRows), nil
}

// buildSnapshot maps raw API rows into snapshot items. Series grouping is
// skipped: Xtream already delivers one row per show.
func (c *Client) buildSnapshot(liveCats []Category, liveStreams []LiveStream,
	vodCats []Category, vodStreams []VodStream,
	seriesCats []Category, seriesRows []SeriesRow) *playlist.Snapshot {

	liveCatMap := categoryMap(liveCats)
	vodCatMap := categoryMap(vodCats)
	seriesCatMap := categoryMap(seriesCats)

	live := make([]playlist.Item, 0, len(liveStreams))
	for i, s := range liveStreams {
		live = append(live, playlist.Item{
			Name:  nameOr(s.Name),
			Group: groupOr(liveCatMap[s.CategoryID.String()]),
			Logo:  s.StreamIcon,
			TvgID: s.EpgChannelID,
			URL:   fmt.Sprintf("%s/live/%s/%s/%s.m3u8", c.server, c.username, c.password, s.StreamID),
			Idx:   idxOr(s.Added, i),
		})
	}

	movies := make([]playlist.Item, 0, len(vodStreams))
	for i, s := range vodStreams {
		ext := s.ContainerExtension
		if ext == "" {
			ext = "mp4"
		}
		movies = append(movies, playlist.Item{
			Name:   nameOr(s.Name),
			Group:  groupOr(vodCatMap[s.CategoryID.String()]),
			Logo:   s.StreamIcon,
			URL:    fmt.Sprintf("%s/movie/%s/%s/%s.%s", c.server, c.username, c.password, s.StreamID, ext),
			Rating: s.Rating.String(),
			Year:   s.Year.String(),
			Idx:    idxOr(s.Added, i),
		})
	}

	series := make([]playlist.Item, 0, len(seriesRows))
	for i, s := range seriesRows {
		seriesID, _ := s.SeriesID.Int64()
		series = append(series, playlist.Item{
			Name:     nameOr(s.Name),
			Group:    groupOr(seriesCatMap[s.CategoryID.String()]),
			Logo:     s.Cover,
			SeriesID: seriesID,
			Rating:   s.Rating.String(),
			Year:     s.Year.String(),
			IsSeries: true,
			Idx:      idxOr(s.LastModified, i),
		})
	}

	return playlist.Build(live, movies, series, true)
}

// ---------- series detail ----------------------------------------------------

// SeriesDetail is the per-show episode listing served to the UI.
type SeriesDetail struct {
	Name    string                        `json:"name"`
	Cover   string                        `json:"cover"`
	Seasons map[string][]playlist.Episode `json:"seasons"`
}

// seriesInfoResponse mirrors the get_series_info payload.
type seriesInfoResponse struct {
	Info struct {
		Name  string `json:"name"`
		Cover string `json:"cover"`
	} `json:"info"`
	Episodes map[string][]struct {
		ID                 json.Number `json:"id"`
		Title              string      `json:"title"`
		EpisodeNum         json.Number `json:"episode_num"`
		ContainerExtension string      `json:"container_extension"`
		Info               struct {
			MovieImage string `json:"movie_image"`
			Duration   string `json:"duration"`
		} `json:"info"`
	} `json:"episodes"`
}

// SeriesInfo fetches episode listings for one series and maps them into
// playable per-season entries with proxied-ready stream URLs.
func (c *Client) SeriesInfo(ctx context.Context, seriesID string) (*SeriesDetail, error) {
	var resp seriesInfoResponse
	if err := c.apiCall(ctx, "get_series_info", authTimeout, &resp, [2]string{"series_id", seriesID}); err != nil {
		return nil, err
	}

	detail := &SeriesDetail{
		Name:    resp.Info.Name,
		Cover:   resp.Info.Cover,
		Seasons: make(map[string][]playlist.Episode),
	}
	if detail.Name == "" {
		detail.Name = "Série"
	}

	for season, eps := range resp.Episodes {
		out := make([]playlist.Episode, 0, len(eps))
		for _, ep := range eps {
			ext := ep.ContainerExtension
			if ext == "" {
				ext = "mp4"
			}
			num, _ := ep.EpisodeNum.Int64()
			name := ep.Title
			if name == "" {
				name = fmt.Sprintf("Episódio %d", num)
			}
			logo := ep.Info.MovieImage
			if logo == "" {
				logo = resp.Info.Cover
			}
			out = append(out, playlist.Episode{
				Name:     name,
				Episode:  int(num),
				URL:      fmt.Sprintf("%s/series/%s/%s/%s.%s", c.server, c.username, c.password, ep.ID, ext),
				Logo:     logo,
				Duration: ep.Info.Duration,
			})
		}
		detail.Seasons[season] = out
	}
	return detail, nil
}

// ---------- helpers -----------------------------------------------------------

func categoryMap(cats []Category) map[string]string {
	m := make(map[string]string, len(cats))
	for _, c := range cats {
		m[c.CategoryID.String()] = c.CategoryName
	}
	return m
}

func nameOr(name string) string {
	if strings.TrimSpace(name) == "" {
		return playlist.DefaultName
	}
	return name
}

func groupOr(group string) string {
	if group == "" {
		return playlist.DefaultGroup
	}
	return group
}

func idxOr(n json.Number, fallback int) int64 {
	if v, err := n.Int64(); err == nil && v != 0 {
		return v
	}
	return int64(fallback)
}
