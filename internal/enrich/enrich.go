// Package enrich fills tag gaps (genre, year) from the MusicBrainz web
// service after analysis. Lookups are rate limited to one request per second
// and cached through the store's response cache; a miss is cached too so the
// same track is not searched twice.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"resty.dev/v3"

	"github.com/cueprep/cueprep/internal/config"
	"github.com/cueprep/cueprep/internal/domain"
	"github.com/cueprep/cueprep/internal/logger"
	"github.com/cueprep/cueprep/internal/store"
)

const (
	DefaultUserAgent   = "cueprep/1.0 (https://github.com/cueprep/cueprep)"
	requestTimeout     = 10 * time.Second
	minRequestInterval = 1050 * time.Millisecond
	retryCount         = 3
	retryBase          = 500 * time.Millisecond
	searchLimit        = "5"
)

// DefaultGenreMap folds MusicBrainz community tags into the handful of
// umbrella genres a crate browser filters on.
var DefaultGenreMap = map[string]string{
	"house":             "House",
	"deep house":        "House",
	"tech house":        "House",
	"progressive house": "House",
	"electro house":     "House",
	"acid house":        "House",
	"ambient house":     "House",
	"microhouse":        "House",

	"techno":         "Techno",
	"minimal techno": "Techno",
	"detroit techno": "Techno",
	"acid techno":    "Techno",
	"hard techno":    "Techno",

	"trance":             "Trance",
	"progressive trance": "Trance",
	"uplifting trance":   "Trance",
	"psytrance":          "Trance",

	"drum and bass": "Drum & Bass",
	"drum'n'bass":   "Drum & Bass",
	"dnb":           "Drum & Bass",
	"jungle":        "Drum & Bass",
	"liquid funk":   "Drum & Bass",

	"dubstep":    "Bass",
	"bass music": "Bass",
	"uk garage":  "Bass",
	"garage":     "Bass",
	"grime":      "Bass",
	"breakbeat":  "Breaks",
	"breaks":     "Breaks",
	"big beat":   "Breaks",

	"electronic":  "Electronic",
	"electronica": "Electronic",
	"edm":         "Electronic",
	"idm":         "Electronic",
	"downtempo":   "Electronic",
	"trip hop":    "Electronic",
	"ambient":     "Electronic",
	"synthwave":   "Electronic",
	"chillwave":   "Electronic",

	"disco":       "Disco",
	"nu-disco":    "Disco",
	"nu disco":    "Disco",
	"italo disco": "Disco",
	"funk":        "Funk",
	"soul":        "Funk",

	"hip hop":  "Hip-Hop",
	"rap":      "Hip-Hop",
	"trap":     "Hip-Hop",
	"boom bap": "Hip-Hop",

	"pop":        "Pop",
	"synthpop":   "Pop",
	"synth-pop":  "Pop",
	"dance pop":  "Pop",
	"dance-pop":  "Pop",
	"electropop": "Pop",

	"rock":             "Rock",
	"indie rock":       "Rock",
	"alternative rock": "Rock",

	"r&b":              "R&B",
	"rnb":              "R&B",
	"contemporary r&b": "R&B",

	"reggae":    "Reggae",
	"dancehall": "Reggae",
	"dub":       "Reggae",
	"latin":     "Latin",
	"reggaeton": "Latin",
	"jazz":      "Jazz",
	"nu jazz":   "Jazz",
}

// Enricher looks up recordings by artist and title and writes missing genre
// and year columns back to the track row. Analysis results are never
// overwritten.
type Enricher struct {
	client      *resty.Client
	db          *store.DB
	log         *logger.Logger
	genreMap    map[string]string
	ttl         time.Duration
	minInterval time.Duration
	lastRequest time.Time
	mu          sync.Mutex
}

func New(cfg config.Enrichment, db *store.DB, log *logger.Logger) *Enricher {
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/"))
	client.SetHeader("User-Agent", DefaultUserAgent)
	client.SetHeader("Accept", "application/json")
	client.SetTimeout(requestTimeout)

	return &Enricher{
		client:      client,
		db:          db,
		log:         log.WithComponent("enrich"),
		genreMap:    DefaultGenreMap,
		ttl:         cfg.CacheTTL,
		minInterval: minRequestInterval,
	}
}

func (e *Enricher) SetGenreMap(m map[string]string) {
	if m != nil {
		e.genreMap = m
	}
}

func (e *Enricher) Close() {
	e.client.Close()
}

// EnrichTrack fills the track's missing genre and year from MusicBrainz and
// reports whether anything was written. Tracks without both artist and title
// cannot be searched and are skipped.
func (e *Enricher) EnrichTrack(ctx context.Context, track *domain.Track) (bool, error) {
	if track.Genre != "" && track.Year != 0 {
		return false, nil
	}
	if track.Artist == "" || track.Title == "" {
		return false, nil
	}

	lk, err := e.lookupRecording(ctx, track.Artist, track.Title)
	if err != nil {
		return false, err
	}
	if !lk.Found {
		return false, nil
	}

	updates := make(map[string]interface{})
	if track.Genre == "" && lk.Genre != "" {
		updates["genre"] = lk.Genre
		track.Genre = lk.Genre
	}
	if track.Year == 0 && lk.Year > 0 {
		updates["year"] = lk.Year
		track.Year = lk.Year
	}
	if len(updates) == 0 {
		return false, nil
	}

	if err := e.db.UpdateTrackPartial(track.ID, updates); err != nil {
		return false, fmt.Errorf("update track %d: %w", track.ID, err)
	}

	e.log.Info("enriched track",
		"track_id", track.ID,
		"artist", track.Artist,
		"title", track.Title,
		"genre", track.Genre,
		"year", track.Year)
	return true, nil
}

// Sweep enriches up to limit tracks that analyzed without a genre. Per-track
// failures are logged and skipped so one bad lookup never stalls the rest.
func (e *Enricher) Sweep(ctx context.Context, limit int) int {
	tracks, err := e.db.ListTracksMissingGenre(limit)
	if err != nil {
		e.log.Error("list tracks for enrichment", "error", err)
		return 0
	}

	updated := 0
	for _, track := range tracks {
		if ctx.Err() != nil {
			return updated
		}
		changed, err := e.EnrichTrack(ctx, track)
		if err != nil {
			e.log.Warn("enrichment failed", "path", track.Path, "error", err)
			continue
		}
		if changed {
			updated++
		}
	}
	return updated
}

// lookup is the cached outcome of one artist+title search. Found false means
// MusicBrainz had no match; caching the miss keeps retries off the wire.
type lookup struct {
	Genre string `json:"genre"`
	Year  int    `json:"year"`
	Found bool   `json:"found"`
}

func (e *Enricher) lookupRecording(ctx context.Context, artist, title string) (lookup, error) {
	key := cacheKey(artist, title)

	if data, err := e.db.GetCache(key); err == nil && data != nil {
		var lk lookup
		if unmarshalErr := json.Unmarshal(data, &lk); unmarshalErr == nil {
			return lk, nil
		}
	}

	lk, err := e.searchRecording(ctx, artist, title)
	if err != nil {
		return lookup{}, err
	}

	if data, marshalErr := json.Marshal(lk); marshalErr == nil {
		_ = e.db.SetCache(key, data, e.ttl)
	}
	return lk, nil
}

func (e *Enricher) searchRecording(ctx context.Context, artist, title string) (lookup, error) {
	query := fmt.Sprintf("artist:%q AND recording:%q", artist, title)

	var result searchResponse
	resp, err := e.doWithRetry(ctx, func() (*resty.Response, error) {
		return e.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"query": query,
				"inc":   "tags",
				"fmt":   "json",
				"limit": searchLimit,
			}).
			SetResult(&result).
			Get("/recording")
	})
	if err != nil {
		return lookup{}, fmt.Errorf("search recording: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return lookup{}, fmt.Errorf("musicbrainz returned status %d", resp.StatusCode())
	}

	if len(result.Recordings) == 0 {
		return lookup{}, nil
	}

	return lookup{
		Genre: mainGenre(result.Recordings, e.genreMap),
		Year:  firstYear(result.Recordings),
		Found: true,
	}, nil
}

// doWithRetry serializes requests so the client never exceeds one call per
// minRequestInterval, and retries transport errors and 429/503 responses
// with linear backoff.
func (e *Enricher) doWithRetry(ctx context.Context, send func() (*resty.Response, error)) (*resty.Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < retryCount; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if elapsed := time.Since(e.lastRequest); elapsed < e.minInterval {
			time.Sleep(e.minInterval - elapsed)
		}
		e.lastRequest = time.Now()

		resp, err := send()
		if err == nil {
			code := resp.StatusCode()
			if code != http.StatusTooManyRequests && code != http.StatusServiceUnavailable {
				return resp, nil
			}
			lastErr = fmt.Errorf("musicbrainz returned status %d", code)
		} else {
			lastErr = err
		}
		time.Sleep(time.Duration(attempt+1) * retryBase)
	}
	return nil, lastErr
}

// mainGenre aggregates community tag votes across the matched recordings,
// folding known tags through the genre map, and returns the heaviest bucket.
func mainGenre(recordings []recording, genreMap map[string]string) string {
	counts := make(map[string]int)
	for _, rec := range recordings {
		for _, t := range rec.Tags {
			if t.Count <= 0 {
				continue
			}
			name := strings.TrimSpace(t.Name)
			if name == "" {
				continue
			}
			if mapped, ok := genreMap[strings.ToLower(name)]; ok {
				counts[mapped] += t.Count
			} else {
				counts[name] += t.Count
			}
		}
	}

	var best string
	var bestCount int
	for genre, count := range counts {
		if count > bestCount {
			bestCount = count
			best = genre
		}
	}
	return best
}

func firstYear(recordings []recording) int {
	for _, rec := range recordings {
		if y := parseYear(rec.FirstReleaseDate); y > 0 {
			return y
		}
		for _, rel := range rec.Releases {
			if y := parseYear(rel.Date); y > 0 {
				return y
			}
		}
	}
	return 0
}

func parseYear(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil || y < 1000 {
		return 0
	}
	return y
}

func cacheKey(artist, title string) string {
	return "mb:search:" + strings.ToLower(artist) + "|" + strings.ToLower(title)
}

type searchResponse struct {
	Recordings []recording `json:"recordings"`
}

type recording struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	FirstReleaseDate string    `json:"first-release-date"`
	Tags             []tag     `json:"tags"`
	Releases         []release `json:"releases"`
}

type tag struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type release struct {
	Title string `json:"title"`
	Date  string `json:"date"`
}
