package metrics

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	dateLayout       = "2006-01-02"
	defaultRangeDays = 30
	maxRangeDays     = 731

	GroupByPlatform = "platform"
	GroupByCampaign = "campaign"
)

// ErrBadQuery marks user-correctable query parameters.
var ErrBadQuery = errors.New("bad query")

// Range is an inclusive day range in UTC.
type Range struct {
	From string
	To   string
}

// bounds returns [from 00:00, day after to 00:00).
func (r Range) bounds() (time.Time, time.Time) {
	from, _ := time.Parse(dateLayout, r.From)
	to, _ := time.Parse(dateLayout, r.To)
	return from, to.AddDate(0, 0, 1)
}

func (r Range) days() []string {
	from, end := r.bounds()
	var out []string
	for d := from; d.Before(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(dateLayout))
	}
	return out
}

type Query struct {
	Range
	GroupBy   string
	Platforms map[string]struct{}
	Limit     int
	Offset    int
}

// ParseQuery reads from, to, group_by, platform (csv), limit and offset.
// Missing dates default to the last 30 days ending today.
func ParseQuery(v url.Values, now time.Time) (Query, error) {
	today := dayUTC(now)
	to := today
	if s := strings.TrimSpace(v.Get("to")); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return Query{}, fmt.Errorf("%w: to must be YYYY-MM-DD", ErrBadQuery)
		}
		to = t
	}
	from := to.AddDate(0, 0, -(defaultRangeDays - 1))
	if s := strings.TrimSpace(v.Get("from")); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return Query{}, fmt.Errorf("%w: from must be YYYY-MM-DD", ErrBadQuery)
		}
		from = t
	}
	if from.After(to) {
		return Query{}, fmt.Errorf("%w: from is after to", ErrBadQuery)
	}
	if to.Sub(from) > maxRangeDays*24*time.Hour {
		return Query{}, fmt.Errorf("%w: range longer than %d days", ErrBadQuery, maxRangeDays)
	}

	groupBy := norm(v.Get("group_by"))
	switch groupBy {
	case "":
		groupBy = GroupByPlatform
	case GroupByPlatform, GroupByCampaign:
	default:
		return Query{}, fmt.Errorf("%w: group_by must be platform or campaign", ErrBadQuery)
	}

	platforms := map[string]struct{}{}
	for p := range csvSet(v.Get("platform")) {
		platforms[canonicalPlatform(p)] = struct{}{}
	}

	return Query{
		Range:     Range{From: from.Format(dateLayout), To: to.Format(dateLayout)},
		GroupBy:   groupBy,
		Platforms: platforms,
		Limit:     atoiDef(v.Get("limit"), 0),
		Offset:    atoiDef(v.Get("offset"), 0),
	}, nil
}

func (q Query) wantPlatform(p string) bool {
	if len(q.Platforms) == 0 {
		return true
	}
	_, ok := q.Platforms[p]
	return ok
}

func (q Query) platformKey() string {
	ps := make([]string, 0, len(q.Platforms))
	for p := range q.Platforms {
		ps = append(ps, p)
	}
	sort.Strings(ps)
	return strings.Join(ps, ",")
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func csvSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, p := range strings.Split(s, ",") {
		p = norm(p)
		if p != "" {
			out[p] = struct{}{}
		}
	}
	return out
}

const unknown = "unknown"

// canonicalPlatform folds utm_source spellings and ad-platform names onto
// one key so spend and leads meet in the same row.
func canonicalPlatform(s string) string {
	switch p := norm(s); p {
	case "":
		return unknown
	case "google", "google_ads", "googleads", "adwords", "gads":
		return "google"
	case "meta", "facebook", "fb", "instagram", "ig", "meta_ads", "facebook_ads":
		return "meta"
	case "bing", "microsoft", "microsoft_ads", "bing_ads":
		return "microsoft"
	default:
		return p
	}
}

func canonicalCampaign(s string) string {
	if c := norm(s); c != "" {
		return c
	}
	return unknown
}

func paginate[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return []T{}
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}

func atoiDef(s string, d int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

func clampLimitOffset(limit, offset, n int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = n
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset > n {
		offset = n
	}
	return limit, offset
}

func dayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
