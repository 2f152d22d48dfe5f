// Package entities extracts typed spans (dates, locations, quantities,
// products, organizations, people, custom) from normalised query text.
package entities

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/intelliquery/intent-agent/pkg/apperror"
	"github.com/intelliquery/intent-agent/pkg/logger"
)

// Span is one recognised entity mention.
type Span struct {
	Label string
	Text  string
}

// Recognizer labels are mapped as PERSON -> people, GPE/LOC -> locations,
// ORG -> organizations. Other labels are ignored.
type Recognizer interface {
	Recognize(ctx context.Context, text string) ([]Span, error)
}

type Config struct {
	Locations      []string
	Products       []string
	CustomPatterns []string
	Recognizer     Recognizer
}

type PatternExtractor struct {
	locations  *regexp.Regexp
	products   *regexp.Regexp
	custom     []*regexp.Regexp
	recognizer Recognizer
}

var (
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:today|yesterday|tomorrow|tonight|right now|currently|year[- ]to[- ]date|ytd|month[- ]to[- ]date|mtd)\b`),
		regexp.MustCompile(`(?i)\b(?:last|this|next|previous|past|coming|current)\s+(?:\d+\s+)?(?:days?|weeks?|weekends?|months?|quarters?|years?|fortnight|fiscal year)\b`),
		regexp.MustCompile(`(?i)\b\d+\s+(?:days?|weeks?|months?|quarters?|years?)\s+ago\b`),
		regexp.MustCompile(`(?i)\bq[1-4](?:\s+(?:19|20)\d{2})?\b`),
		regexp.MustCompile(`(?i)\b(?:january|february|march|april|june|july|august|september|october|november|december|jan|feb|apr|jun|jul|aug|sept?|oct|nov|dec)(?:\s+\d{1,2}(?:st|nd|rd|th)?)?(?:,?\s+(?:19|20)\d{2})?\b`),
		regexp.MustCompile(`(?i)\b(?:may|mar)(?:\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+(?:19|20)\d{2})?|,?\s+(?:19|20)\d{2})\b`),
		regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
		regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
		regexp.MustCompile(`\b(?:19|20)\d{2}\b`),
	}

	quantityPattern = regexp.MustCompile(`(?i)(?:[$€£₹]\s?\d[\d,]*(?:\.\d+)?(?:\s?(?:k|m|bn|thousand|million|billion))?|\b\d[\d,]*(?:\.\d+)?(?:\s?(?:%|percent|units?|items?|pcs|pieces|kg|tons?|dollars|usd|inr|eur|rupees|k|thousand|million|billion)\b|%)?)`)

	organizationPattern = regexp.MustCompile(`\b(?:[A-Z][\w&]*\s+){0,3}[A-Z][\w&]*\s+(?:Inc|Corp|Corporation|Ltd|LLC|Limited|Group|Company|Co|GmbH|PLC|Pvt)\b\.?`)

	honorificPattern = regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Dr|Prof)\.?\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?`)
)

// DefaultLocations is the built-in gazetteer.
var DefaultLocations = []string{
	"Mumbai", "Delhi", "New Delhi", "Bangalore", "Bengaluru", "Chennai", "Kolkata", "Hyderabad", "Pune", "Ahmedabad",
	"New York", "San Francisco", "Los Angeles", "Chicago", "Seattle", "Boston", "Austin", "Toronto",
	"London", "Paris", "Berlin", "Madrid", "Amsterdam", "Dublin", "Singapore", "Tokyo", "Sydney", "Dubai",
	"India", "USA", "United States", "UK", "United Kingdom", "Germany", "France", "Japan", "China", "Canada", "Australia",
	"Europe", "Asia", "North America", "APAC", "EMEA", "LATAM",
	"North", "South", "East", "West",
}

var DefaultProducts = []string{"laptop", "smartphone", "phone", "tablet", "printer", "monitor", "headphones", "camera"}

func NewPatternExtractor(cfg Config) (*PatternExtractor, error) {
	locations := append(append([]string(nil), DefaultLocations...), cfg.Locations...)
	products := append(append([]string(nil), DefaultProducts...), cfg.Products...)

	p := &PatternExtractor{
		locations:  termPattern(locations, false),
		products:   termPattern(products, true),
		recognizer: cfg.Recognizer,
	}

	for _, expr := range cfg.CustomPatterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid custom entity pattern %q: %w", expr, err)
		}
		p.custom = append(p.custom, re)
	}

	return p, nil
}

// termPattern builds a case-insensitive alternation, longest term first so
// "New Delhi" wins over "Delhi".
func termPattern(terms []string, plural bool) *regexp.Regexp {
	seen := make(map[string]bool, len(terms))
	var quoted []string
	for _, t := range terms {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		quoted = append(quoted, regexp.QuoteMeta(t))
	}
	if len(quoted) == 0 {
		return nil
	}
	sort.SliceStable(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })
	suffix := ""
	if plural {
		suffix = `(?:e?s)?`
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)` + suffix + `\b`)
}

type located struct {
	start int
	end   int
	text  string
}

type collector map[string][]located

func (c collector) add(category string, start, end int, text string) {
	c[category] = append(c[category], located{start: start, end: end, text: text})
}

func (c collector) addAll(category string, re *regexp.Regexp, text string) {
	if re == nil {
		return
	}
	for _, m := range re.FindAllStringIndex(text, -1) {
		c.add(category, m[0], m[1], strings.TrimSpace(text[m[0]:m[1]]))
	}
}

func (c collector) has(category, text string) bool {
	for _, l := range c[category] {
		if strings.EqualFold(l.text, text) {
			return true
		}
	}
	return false
}

func (c collector) values(category string) []string {
	spans := c[category]
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	out := make([]string, 0, len(spans))
	for _, s := range spans {
		if s.text != "" {
			out = append(out, s.text)
		}
	}
	return out
}

// Extract never fails on its own. A recognizer failure yields the pattern
// entities plus an EXTRACTION_DEGRADED error.
func (p *PatternExtractor) Extract(ctx context.Context, text string) (Entities, error) {
	c := collector{}

	dates := dateSpans(text)
	for _, d := range dates {
		c.add("dates", d.start, d.end, d.text)
	}

	for _, m := range quantityPattern.FindAllStringIndex(text, -1) {
		if overlaps(m[0], m[1], dates) {
			continue
		}
		c.add("quantities", m[0], m[1], strings.TrimSpace(text[m[0]:m[1]]))
	}

	c.addAll("locations", p.locations, text)
	c.addAll("products", p.products, text)
	c.addAll("organizations", organizationPattern, text)
	c.addAll("people", honorificPattern, text)
	for _, re := range p.custom {
		c.addAll("custom", re, text)
	}

	var degraded error
	if p.recognizer != nil {
		spans, err := recognizeSafely(ctx, p.recognizer, text)
		if err != nil {
			logger.Warn("Entity recognizer failed, using patterns only", zap.Error(err))
			degraded = apperror.Wrap(apperror.CodeExtractionDegraded, "entity recognizer failed", err)
		}
		for _, s := range spans {
			category := categoryFor(s.Label)
			value := strings.TrimSpace(s.Text)
			if category == "" || value == "" || c.has(category, value) {
				continue
			}
			start := strings.Index(text, value)
			if start < 0 {
				start = len(text)
			}
			c.add(category, start, start+len(value), value)
		}
	}

	out := Entities{
		Dates:         c.values("dates"),
		Locations:     c.values("locations"),
		Quantities:    c.values("quantities"),
		Products:      c.values("products"),
		Organizations: c.values("organizations"),
		People:        c.values("people"),
		Custom:        c.values("custom"),
	}
	out.Normalize()
	return out, degraded
}

func recognizeSafely(ctx context.Context, r Recognizer, text string) (spans []Span, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			spans = nil
			err = fmt.Errorf("recognizer panic: %v", rec)
		}
	}()
	return r.Recognize(ctx, text)
}

func categoryFor(label string) string {
	switch strings.ToUpper(label) {
	case "PERSON", "PER":
		return "people"
	case "GPE", "LOC", "LOCATION":
		return "locations"
	case "ORG", "ORGANIZATION":
		return "organizations"
	}
	return ""
}

// dateSpans merges matches from every date pattern, keeping the longest
// span where matches overlap.
func dateSpans(text string) []located {
	var all []located
	for _, re := range datePatterns {
		for _, m := range re.FindAllStringIndex(text, -1) {
			all = append(all, located{start: m[0], end: m[1], text: text[m[0]:m[1]]})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].start != all[j].start {
			return all[i].start < all[j].start
		}
		return all[i].end > all[j].end
	})

	var merged []located
	for _, d := range all {
		if n := len(merged); n > 0 && d.start < merged[n-1].end {
			continue
		}
		merged = append(merged, d)
	}
	return merged
}

func overlaps(start, end int, spans []located) bool {
	for _, s := range spans {
		if start < s.end && s.start < end {
			return true
		}
	}
	return false
}
