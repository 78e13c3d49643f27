package dto

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/cueprep/cueprep/internal/constants"
)

const (
	DefaultListLimit = constants.DefaultListLimit
	MaxListLimit     = constants.MaxListLimit
)

// ListQuery carries the pagination and filter parameters of the track list
// endpoint. Unparsable numbers fall back to defaults instead of failing the
// request; the limit is clamped.
type ListQuery struct {
	Limit  int
	Offset int
	Search string
	Key    string
	MinBPM float64
	MaxBPM float64
}

func ParseListQuery(q url.Values) ListQuery {
	lq := ListQuery{Limit: DefaultListLimit}

	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		lq.Limit = v
	}
	if lq.Limit > MaxListLimit {
		lq.Limit = MaxListLimit
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		lq.Offset = v
	}

	lq.Search = strings.TrimSpace(q.Get("search"))
	lq.Key = strings.TrimSpace(q.Get("key"))

	if v, err := strconv.ParseFloat(q.Get("min_bpm"), 64); err == nil && v > 0 {
		lq.MinBPM = v
	}
	if v, err := strconv.ParseFloat(q.Get("max_bpm"), 64); err == nil && v > 0 {
		lq.MaxBPM = v
	}
	return lq
}
