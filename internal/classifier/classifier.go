// Package classifier scores catalog workspaces and intent types by fusing
// keyword overlap with exemplar similarity. It is total: every input, even
// an empty one, yields a result.
package classifier

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/intelliquery/intent-agent/internal/catalog"
	"github.com/intelliquery/intent-agent/internal/entities"
	"github.com/intelliquery/intent-agent/internal/index"
	"github.com/intelliquery/intent-agent/internal/schema"
)

// NoSignalConfidence is reported when neither axis matched anything.
const NoSignalConfidence = 0.1

type Config struct {
	LexicalWeight  float64
	SemanticWeight float64
	// Threshold is the fraction of the top workspace probability another
	// workspace needs to be selected as well.
	Threshold   float64
	Temperature float64
}

func DefaultConfig() Config {
	return Config{
		LexicalWeight:  0.5,
		SemanticWeight: 0.5,
		Threshold:      0.75,
		Temperature:    0.1,
	}
}

type Score struct {
	ID          string  `json:"id"`
	Lexical     float64 `json:"lexical"`
	Semantic    float64 `json:"semantic"`
	Raw         float64 `json:"raw"`
	Probability float64 `json:"probability"`
}

type Result struct {
	Intent          string   `json:"intent"`
	IntentScores    []Score  `json:"intent_scores"`
	Workspaces      []string `json:"workspaces"`
	WorkspaceScores []Score  `json:"workspace_scores"`
	Confidence      float64  `json:"confidence"`
	// Default is set when no workspace showed any signal and the catalog
	// default was used.
	Default         bool   `json:"default"`
	QueryType       string `json:"query_type"`
	TimeSensitivity string `json:"time_sensitivity"`
}

type Classifier struct {
	cfg    Config
	intent []candidate
}

type candidate struct {
	id       string
	keywords []string
}

// IntentLexicon lists the cue words per intent type.
var IntentLexicon = map[string][]string{
	schema.IntentRead:    {"show", "list", "get", "display", "find", "view", "fetch", "what", "which", "see", "give"},
	schema.IntentWrite:   {"add", "create", "insert", "register"},
	schema.IntentUpdate:  {"update", "change", "modify", "edit", "adjust", "rename", "increase", "decrease"},
	schema.IntentDelete:  {"delete", "remove", "drop", "cancel", "erase", "purge"},
	schema.IntentAnalyze: {"analyze", "analyse", "compare", "trend", "total", "sum", "average", "how many", "count", "breakdown", "growth", "forecast", "top", "rank"},
}

func New(cfg Config) *Classifier {
	def := DefaultConfig()
	if cfg.LexicalWeight < 0 || cfg.SemanticWeight < 0 || cfg.LexicalWeight+cfg.SemanticWeight == 0 {
		cfg.LexicalWeight, cfg.SemanticWeight = def.LexicalWeight, def.SemanticWeight
	}
	sum := cfg.LexicalWeight + cfg.SemanticWeight
	cfg.LexicalWeight /= sum
	cfg.SemanticWeight /= sum
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = def.Temperature
	}

	intents := make([]candidate, 0, len(schema.IntentTypes))
	for _, it := range schema.IntentTypes {
		intents = append(intents, candidate{id: it, keywords: foldKeywords(IntentLexicon[it])})
	}
	return &Classifier{cfg: cfg, intent: intents}
}

func (c *Classifier) Config() Config {
	return c.cfg
}

// Classify scores folded text against cat using the retrieved matches and
// extracted entities.
func (c *Classifier) Classify(cat *catalog.Catalog, folded string, matches []index.Match, ents entities.Entities) *Result {
	padded := " " + folded + " "

	wsCands := make([]candidate, 0, cat.Len())
	for _, ws := range cat.Workspaces() {
		wsCands = append(wsCands, candidate{id: ws.ID, keywords: foldKeywords(ws.Keywords)})
	}

	wsSem := meanBy(matches, func(m index.Match) (string, bool) {
		return m.WorkspaceID, cat.Has(m.WorkspaceID)
	})
	intentSem := meanBy(matches, func(m index.Match) (string, bool) {
		tag := strings.ToLower(strings.TrimSpace(m.Intent))
		return tag, cat.Has(m.WorkspaceID) && schema.IsIntentType(tag)
	})

	wsScores, wsSignal := c.axis(wsCands, padded, wsSem)
	intentScores, intentSignal := c.axis(c.intent, padded, intentSem)

	res := &Result{
		IntentScores:    intentScores,
		WorkspaceScores: wsScores,
		QueryType:       QueryType(folded, ents),
		TimeSensitivity: TimeSensitivity(folded, ents),
	}

	if intentSignal {
		res.Intent = intentScores[argmax(intentScores)].ID
	} else {
		res.Intent = schema.IntentRead
	}

	if wsSignal {
		res.Workspaces = c.selectWorkspaces(wsScores)
	} else {
		res.Workspaces = []string{cat.DefaultWorkspace()}
		res.Default = true
	}

	switch {
	case !wsSignal && !intentSignal:
		res.Confidence = NoSignalConfidence
	default:
		top := 0.0
		if intentSignal {
			top += intentScores[argmax(intentScores)].Raw
		}
		if wsSignal {
			top += wsScores[argmax(wsScores)].Raw
		}
		res.Confidence = clamp(top / 2)
	}
	return res
}

// axis computes lexical, semantic, fused and softmax scores for one set of
// candidates. The bool reports whether any candidate had a non-zero score.
func (c *Classifier) axis(cands []candidate, padded string, semantic map[string]float64) ([]Score, bool) {
	idf := inverseFrequencies(cands)
	scores := make([]Score, len(cands))
	signal := false
	for i, cand := range cands {
		var matched, total float64
		for _, kw := range cand.keywords {
			total += idf[kw]
			if hasKeyword(padded, kw) {
				matched += idf[kw]
			}
		}
		lex := 0.0
		if total > 0 {
			lex = matched / total
		}
		sem := semantic[cand.id]
		raw := c.cfg.LexicalWeight*lex + c.cfg.SemanticWeight*sem
		if raw > 0 {
			signal = true
		}
		scores[i] = Score{ID: cand.id, Lexical: lex, Semantic: sem, Raw: raw}
	}
	softmax(scores, c.cfg.Temperature)
	return scores, signal
}

func (c *Classifier) selectWorkspaces(scores []Score) []string {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]].Probability > scores[order[b]].Probability
	})

	top := scores[order[0]].Probability
	var out []string
	for _, i := range order {
		if scores[i].Raw > 0 && scores[i].Probability >= c.cfg.Threshold*top {
			out = append(out, scores[i].ID)
		}
	}
	return out
}

// TopScores returns up to n scores ordered by probability, ties keeping the
// input order.
func TopScores(scores []Score, n int) []Score {
	out := append([]Score(nil), scores...)
	sort.SliceStable(out, func(a, b int) bool { return out[a].Probability > out[b].Probability })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Summary is a one-line human readable account of the decision.
func (r *Result) Summary() string {
	if r == nil {
		return "no classification"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "intent %s", r.Intent)
	if p := probabilityOf(r.IntentScores, r.Intent); p > 0 {
		fmt.Fprintf(&b, " (p=%.2f)", p)
	}
	b.WriteString(", workspaces ")
	for i, ws := range r.Workspaces {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(ws)
		if p := probabilityOf(r.WorkspaceScores, ws); p > 0 && !r.Default {
			fmt.Fprintf(&b, " (p=%.2f)", p)
		}
	}
	if r.Default {
		b.WriteString(" (catalog default)")
	}
	return b.String()
}

func probabilityOf(scores []Score, id string) float64 {
	for _, s := range scores {
		if s.ID == id {
			return s.Probability
		}
	}
	return 0
}

func inverseFrequencies(cands []candidate) map[string]float64 {
	df := map[string]int{}
	for _, cand := range cands {
		seen := map[string]bool{}
		for _, kw := range cand.keywords {
			if !seen[kw] {
				seen[kw] = true
				df[kw]++
			}
		}
	}
	n := float64(len(cands))
	idf := make(map[string]float64, len(df))
	for kw, d := range df {
		idf[kw] = math.Log(1 + n/float64(d))
	}
	return idf
}

func meanBy(matches []index.Match, key func(index.Match) (string, bool)) map[string]float64 {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, m := range matches {
		k, ok := key(m)
		if !ok {
			continue
		}
		sums[k] += index.ClampScore(m.Score)
		counts[k]++
	}
	out := make(map[string]float64, len(sums))
	for k, s := range sums {
		out[k] = s / float64(counts[k])
	}
	return out
}

func softmax(scores []Score, temperature float64) {
	if len(scores) == 0 {
		return
	}
	maxRaw := scores[0].Raw
	for _, s := range scores[1:] {
		maxRaw = math.Max(maxRaw, s.Raw)
	}
	var sum float64
	for i := range scores {
		scores[i].Probability = math.Exp((scores[i].Raw - maxRaw) / temperature)
		sum += scores[i].Probability
	}
	for i := range scores {
		scores[i].Probability /= sum
	}
}

func argmax(scores []Score) int {
	best := 0
	for i, s := range scores {
		if s.Raw > scores[best].Raw {
			best = i
		}
	}
	return best
}

func clamp(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return math.Max(0, math.Min(1, f))
}
