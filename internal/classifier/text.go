package classifier

import (
	"strings"
	"unicode"

	"github.com/intelliquery/intent-agent/internal/entities"
	"github.com/intelliquery/intent-agent/internal/schema"
)

// Fold lowercases s, turns every run of non letters/digits into one space
// and trims the result. Keyword matching works on folded text only.
func Fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

func foldKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, kw := range in {
		kw = Fold(kw)
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	return out
}

// hasKeyword reports whether kw occurs as whole words in padded (folded
// text surrounded by single spaces), allowing a plural "s".
func hasKeyword(padded, kw string) bool {
	return strings.Contains(padded, " "+kw+" ") || strings.Contains(padded, " "+kw+"s ")
}

func hasAny(padded string, cues []string) bool {
	for _, c := range cues {
		if hasKeyword(padded, c) {
			return true
		}
	}
	return false
}

var (
	trendCues       = []string{"trend", "over time", "growth", "monthly", "weekly", "daily", "yearly", "quarterly", "by month", "per month", "year over year", "month over month", "history of"}
	comparisonCues  = []string{"compare", "compared", "comparison", "versus", "vs", "against", "between", "difference"}
	aggregationCues = []string{"total", "sum", "average", "avg", "mean", "count", "how many", "number of", "top", "max", "maximum", "min", "minimum", "breakdown"}
	filterCues      = []string{"where", "only", "filter", "filtered", "excluding", "with"}

	futureCues     = []string{"next", "forecast", "upcoming", "tomorrow", "predict", "projected", "will"}
	historicalCues = []string{"last", "previous", "ago", "yesterday", "past", "prior", "historical"}
	currentCues    = []string{"today", "now", "this", "current", "currently", "ytd", "live"}
)

// QueryType derives a query shape hint from lexical cues and entities.
func QueryType(folded string, ents entities.Entities) string {
	padded := " " + folded + " "
	switch {
	case hasAny(padded, trendCues):
		return schema.QueryTrend
	case hasAny(padded, comparisonCues):
		return schema.QueryComparison
	case hasAny(padded, aggregationCues):
		return schema.QueryAggregation
	case !ents.IsEmpty() || hasAny(padded, filterCues):
		return schema.QueryFiltered
	default:
		return schema.QuerySimple
	}
}

// TimeSensitivity derives a temporal hint. Explicit date entities without a
// cue word count as historical.
func TimeSensitivity(folded string, ents entities.Entities) string {
	padded := " " + folded + " "
	switch {
	case hasAny(padded, futureCues):
		return schema.TimeFuture
	case hasAny(padded, historicalCues):
		return schema.TimeHistorical
	case hasAny(padded, currentCues):
		return schema.TimeCurrent
	case len(ents.Dates) > 0:
		return schema.TimeHistorical
	default:
		return schema.TimeNone
	}
}
