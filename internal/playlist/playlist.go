// Package playlist is the ingestion collaborator: it normalizes raw M3U
// text (and Xtream API rows, via the xtream package) into the playlist
// snapshot the session core stores and serves as an opaque value.
//
// Snapshot shape: three sections (live, movies, series), each with a sorted
// category list, an item list, and a count. Series items are grouped from
// SxxEyy episode naming into one item per show with a seasons map.
package playlist

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Fallbacks matching the shipped UI language.
const (
	DefaultGroup = "Sem Categoria"
	DefaultName  = "Desconhecido"
)

// Episode is one playable episode inside a grouped series.
type Episode struct {
	Name     string `json:"name"`
	Episode  int    `json:"episode"`
	URL      string `json:"url"`
	Logo     string `json:"logo"`
	Duration string `json:"duration,omitempty"`
}

// Item is one playlist entry: a live channel, a movie, a standalone series
// episode, or a grouped series (IsSeries with Seasons populated).
type Item struct {
	Name     string               `json:"name"`
	Group    string               `json:"group"`
	Logo     string               `json:"logo"`
	TvgID    string               `json:"tvgId,omitempty"`
	URL      string               `json:"url,omitempty"`
	Rating   string               `json:"rating,omitempty"`
	Year     string               `json:"year,omitempty"`
	SeriesID int64                `json:"seriesId,omitempty"`
	IsSeries bool                 `json:"isSeries,omitempty"`
	Idx      int64                `json:"_idx"`
	Seasons  map[string][]Episode `json:"seasons,omitempty"`
}

// Category is one group heading with its item count.
type Category struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Section is one of the three snapshot sections.
type Section struct {
	Categories []Category `json:"categories"`
	Items      []Item     `json:"items"`
	Count      int        `json:"count"`
}

// Snapshot is the full playlist structure stored per session.
type Snapshot struct {
	Live   Section `json:"live"`
	Movies Section `json:"movies"`
	Series Section `json:"series"`
}

// extinf attribute extractors (case-insensitive, quoted values).
var (
	groupRE = regexp.MustCompile(`(?i)group-title="([^"]*)"`)
	logoRE  = regexp.MustCompile(`(?i)tvg-logo="([^"]*)"`)
	tvgIDRE = regexp.MustCompile(`(?i)tvg-id="([^"]*)"`)
	nameRE  = regexp.MustCompile(`,(.+)$`)
)

// ParseM3U parses raw M3U text into a snapshot. Items are classified into
// live/movies/series by URL shape and group name, then series episodes are
// grouped. The content must contain an #EXTM3U header.
func ParseM3U(content string) (*Snapshot, error) {
	if !strings.Contains(content, "#EXTM3U") {
		return nil, fmt.Errorf("not an M3U playlist")
	}

	var live, movies, series []Item
	var current *Item
	var idx int64

	for _, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimSpace(strings.TrimSuffix(rawLine, "\r"))

		if strings.HasPrefix(line, "#EXTINF:") {
			item := Item{Group: DefaultGroup, Name: DefaultName}
			if m := groupRE.FindStringSubmatch(line); m != nil && strings.TrimSpace(m[1]) != "" {
				item.Group = strings.TrimSpace(m[1])
			}
			if m := logoRE.FindStringSubmatch(line); m != nil {
				item.Logo = m[1]
			}
			if m := tvgIDRE.FindStringSubmatch(line); m != nil {
				item.TvgID = m[1]
			}
			if m := nameRE.FindStringSubmatch(line); m != nil && strings.TrimSpace(m[1]) != "" {
				item.Name = strings.TrimSpace(m[1])
			}
			current = &item
			continue
		}

		if line == "" || strings.HasPrefix(line, "#") || current == nil {
			continue
		}

		current.URL = line
		current.Idx = idx
		idx++

		urlLower := strings.ToLower(line)
		groupLower := strings.ToLower(current.Group)
		switch {
		case strings.Contains(urlLower, "/movie/") ||
			strings.Contains(groupLower, "vod") ||
			strings.Contains(groupLower, "movie") ||
			strings.Contains(groupLower, "filme"):
			movies = append(movies, *current)
		case strings.Contains(urlLower, "/series/") ||
			strings.Contains(groupLower, "series") ||
			strings.Contains(groupLower, "série") ||
			strings.Contains(groupLower, "serie"):
			series = append(series, *current)
		default:
			live = append(live, *current)
		}
		current = nil
	}

	return Build(live, movies, series, false), nil
}

// Build assembles a snapshot from classified item lists. When skipGrouping
// is true the series section is used as-is (Xtream already delivers one
// item per show).
func Build(live, movies, series []Item, skipGrouping bool) *Snapshot {
	grouped := series
	if !skipGrouping {
		grouped = GroupSeries(series)
	}
	return &Snapshot{
		Live:   section(live),
		Movies: section(movies),
		Series: section(grouped),
	}
}

func section(items []Item) Section {
	if items == nil {
		items = []Item{}
	}
	return Section{
		Categories: extractCategories(items),
		Items:      items,
		Count:      len(items),
	}
}

// extractCategories counts items per group, sorted by group name.
func extractCategories(items []Item) []Category {
	counts := make(map[string]int)
	for _, item := range items {
		g := item.Group
		if g == "" {
			g = DefaultGroup
		}
		counts[g]++
	}
	cats := make([]Category, 0, len(counts))
	for name, count := range counts {
		cats = append(cats, Category{Name: name, Count: count})
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i].Name < cats[j].Name })
	return cats
}

// seriesRE matches episode naming: S01E01, S1E1, S01 E01, S01.E01, ...
var seriesRE = regexp.MustCompile(`[\s\-._]*[Ss](\d{1,2})\s*[Ee](\d{1,3})`)

// seriesInfo is the parsed SxxEyy portion of an episode name.
type seriesInfo struct {
	baseName string
	season   int
	episode  int
}

// parseSeriesInfo extracts the show name and season/episode numbers, or nil
// when the name carries no episode pattern.
func parseSeriesInfo(name string) *seriesInfo {
	loc := seriesRE.FindStringSubmatchIndex(name)
	if loc == nil {
		return nil
	}
	m := seriesRE.FindStringSubmatch(name)
	base := strings.TrimRight(name[:loc[0]], " -._")
	base = strings.TrimSpace(base)
	if base == "" {
		base = name
	}
	season, _ := strconv.Atoi(m[1])
	episode, _ := strconv.Atoi(m[2])
	return &seriesInfo{baseName: base, season: season, episode: episode}
}

// GroupSeries folds per-episode items into one item per show with a seasons
// map. Episodes are deduplicated per season by episode number and sorted.
// Items without an episode pattern stay standalone. The grouped item keeps
// the highest source index seen (most recently added episode) and the first
// available logo.
func GroupSeries(items []Item) []Item {
	shows := make(map[string]*Item)
	var order []string
	var ungrouped []Item

	for _, item := range items {
		info := parseSeriesInfo(item.Name)
		if info == nil {
			ungrouped = append(ungrouped, item)
			continue
		}

		key := strings.ToLower(strings.TrimSpace(info.baseName))
		show, ok := shows[key]
		if !ok {
			show = &Item{
				Name:     info.baseName,
				Group:    item.Group,
				Logo:     item.Logo,
				IsSeries: true,
				Idx:      item.Idx,
				Seasons:  make(map[string][]Episode),
			}
			shows[key] = show
			order = append(order, key)
		}
		if item.Idx > show.Idx {
			show.Idx = item.Idx
		}
		if show.Logo == "" && item.Logo != "" {
			show.Logo = item.Logo
		}

		s := strconv.Itoa(info.season)
		exists := false
		for _, ep := range show.Seasons[s] {
			if ep.Episode == info.episode {
				exists = true
				break
			}
		}
		if !exists {
			show.Seasons[s] = append(show.Seasons[s], Episode{
				Name:    item.Name,
				Episode: info.episode,
				URL:     item.URL,
				Logo:    item.Logo,
			})
		}
	}

	out := make([]Item, 0, len(order)+len(ungrouped))
	for _, key := range order {
		show := shows[key]
		for s := range show.Seasons {
			eps := show.Seasons[s]
			sort.Slice(eps, func(i, j int) bool { return eps[i].Episode < eps[j].Episode })
			show.Seasons[s] = eps
		}
		out = append(out, *show)
	}
	out = append(out, ungrouped...)
	return out
}
