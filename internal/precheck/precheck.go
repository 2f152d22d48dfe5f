// Package precheck reports whether a query reads as coherent language and
// whether it carries enough information to be classified. The report is
// advisory; it never blocks a request.
package precheck

import (
	"strings"
	"unicode"

	"github.com/intelliquery/intent-agent/internal/catalog"
	"github.com/intelliquery/intent-agent/internal/classifier"
)

const (
	CheckCharacters = "characters"
	CheckWords      = "words"
	CheckLength     = "length"
	CheckDomain     = "domain"
	CheckDangling   = "dangling"
)

type Issue struct {
	Check   string `json:"check"`
	Message string `json:"message"`
}

type Report struct {
	IsCoherent  bool     `json:"is_coherent"`
	IsValid     bool     `json:"is_valid"`
	Score       float64  `json:"score"`
	Issues      []Issue  `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

// Checker holds the vocabulary a query is expected to touch.
type Checker struct {
	vocabulary map[string]bool
	phrases    []string
}

var danglingWords = map[string]bool{
	"for": true, "from": true, "by": true, "and": true, "of": true, "in": true,
	"with": true, "to": true, "the": true, "or": true, "between": true, "at": true,
}

// New builds a checker from the catalog keywords, names and ids plus the
// intent cue words.
func New(cat *catalog.Catalog) *Checker {
	c := &Checker{vocabulary: map[string]bool{}}
	add := func(term string) {
		term = classifier.Fold(term)
		if term == "" {
			return
		}
		if strings.Contains(term, " ") {
			c.phrases = append(c.phrases, term)
			return
		}
		c.vocabulary[term] = true
	}
	for _, ws := range cat.Workspaces() {
		add(ws.ID)
		add(ws.Name)
		for _, kw := range ws.Keywords {
			add(kw)
		}
		for _, tbl := range ws.Tables {
			for _, part := range strings.Split(tbl, "_") {
				add(part)
			}
		}
	}
	for _, cues := range classifier.IntentLexicon {
		for _, cue := range cues {
			add(cue)
		}
	}
	return c
}

// Check evaluates text. Coherence failures also make the query invalid.
func (c *Checker) Check(text string) Report {
	r := Report{IsCoherent: true, IsValid: true, Issues: []Issue{}, Suggestions: []string{}}
	fail := func(coherence bool, check, msg, suggestion string) {
		if coherence {
			r.IsCoherent = false
		}
		r.IsValid = false
		r.Issues = append(r.Issues, Issue{Check: check, Message: msg})
		if suggestion != "" {
			r.Suggestions = append(r.Suggestions, suggestion)
		}
	}

	trimmed := strings.TrimSpace(text)
	var letters, visible int
	for _, ch := range trimmed {
		if unicode.IsSpace(ch) {
			continue
		}
		visible++
		if unicode.IsLetter(ch) {
			letters++
		}
	}
	if visible == 0 || float64(letters)/float64(visible) < 0.5 {
		fail(true, CheckCharacters, "query is mostly symbols or digits", "Describe what you want to see in words.")
	}

	folded := classifier.Fold(trimmed)
	words := strings.Fields(folded)
	if len(words) > 0 && !hasRealWord(words) {
		fail(true, CheckWords, "query has no recognisable words", "Use complete words rather than fragments or repeated characters.")
	}

	if r.IsCoherent {
		if len(words) < 2 {
			fail(false, CheckLength, "query is too short to interpret", "Add what data you are interested in, for example \"show sales for last month\".")
		}
		if !c.touchesDomain(words, folded) {
			fail(false, CheckDomain, "query does not mention any known data area or action", "Mention a business area such as sales, inventory or customers.")
		}
		if len(words) > 0 && danglingWords[words[len(words)-1]] {
			fail(false, CheckDangling, "query appears to be cut off", "Complete the last part of the question.")
		}
	}

	r.Score = score(r)
	return r
}

func (c *Checker) touchesDomain(words []string, folded string) bool {
	for _, w := range words {
		if c.vocabulary[w] || c.vocabulary[strings.TrimSuffix(w, "s")] {
			return true
		}
	}
	padded := " " + folded + " "
	for _, p := range c.phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

func hasRealWord(words []string) bool {
	for _, w := range words {
		if len([]rune(w)) < 2 || len(w) > 40 {
			continue
		}
		if repeatedRune(w) {
			continue
		}
		for _, ch := range w {
			if strings.ContainsRune("aeiouy", ch) {
				return true
			}
		}
	}
	return false
}

func repeatedRune(w string) bool {
	var first rune
	for i, ch := range w {
		if i == 0 {
			first = ch
			continue
		}
		if ch != first {
			return false
		}
	}
	return true
}

func score(r Report) float64 {
	s := 1.0
	for _, is := range r.Issues {
		switch is.Check {
		case CheckCharacters, CheckWords:
			s -= 0.5
		default:
			s -= 0.25
		}
	}
	if s < 0 {
		return 0
	}
	return s
}
