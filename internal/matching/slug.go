package matching

import (
	"sort"
	"strings"
	"time"
)

// sportsLeagues are the slug prefixes the ±1 day tolerance applies to.
// Game dates skew by a day between venues when one stamps UTC and the
// other stamps venue-local time.
var sportsLeagues = map[string]bool{
	"nba": true, "nfl": true, "mlb": true, "nhl": true, "ncaab": true,
	"ncaaf": true, "epl": true, "ucl": true, "laliga": true, "seriea": true,
	"bundesliga": true, "ligue1": true, "mls": true, "ufc": true, "atp": true,
	"wta": true,
}

// slugParts is a decomposed market slug of the form
// <league>-<team tokens...>-<YYYY-MM-DD>.
type slugParts struct {
	league string
	// teams is the sorted token bag between league and date. Venues
	// disagree on home/away order, so order is discarded for matching
	// and kept separately in first for inversion detection.
	teams []string
	first string
	date  time.Time
}

// parseSlug decomposes a market slug. Returns false when the slug does
// not end in a parseable date or has no team tokens.
func parseSlug(slug string) (slugParts, bool) {
	tokens := strings.Split(strings.ToLower(strings.TrimSpace(slug)), "-")
	if len(tokens) < 5 {
		return slugParts{}, false
	}

	n := len(tokens)
	date, err := time.Parse("2006-01-02", strings.Join(tokens[n-3:], "-"))
	if err != nil {
		return slugParts{}, false
	}

	middle := tokens[1 : n-3]
	if len(middle) == 0 {
		return slugParts{}, false
	}

	teams := append([]string(nil), middle...)
	sort.Strings(teams)

	return slugParts{
		league: tokens[0],
		teams:  teams,
		first:  middle[0],
		date:   date,
	}, true
}

// sameTeams compares two sorted token bags.
func sameTeams(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// slugsMatch reports whether two parsed slugs refer to the same event.
// Sports slugs tolerate a one-day date skew; everything else matches
// on the exact date.
func slugsMatch(a, b slugParts) bool {
	if a.league != b.league || !sameTeams(a.teams, b.teams) {
		return false
	}

	diff := a.date.Sub(b.date)
	if diff < 0 {
		diff = -diff
	}
	if sportsLeagues[a.league] {
		return diff <= 24*time.Hour
	}
	return diff == 0
}

// genericTitles are maker titles that carry no event information and
// get replaced by the hedge venue's question.
var genericTitles = map[string]bool{
	"":             true,
	"winner":       true,
	"match winner": true,
	"game winner":  true,
	"moneyline":    true,
	"money line":   true,
	"to win":       true,
}

// genericTitle reports whether a maker title should be replaced.
func genericTitle(title string) bool {
	t := strings.ToLower(strings.TrimSpace(title))
	t = strings.TrimSuffix(t, "?")
	return genericTitles[t]
}
