package mapper

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/intelliquery/intent-agent/internal/catalog"
	"github.com/intelliquery/intent-agent/internal/classifier"
	"github.com/intelliquery/intent-agent/internal/entities"
	"github.com/intelliquery/intent-agent/internal/index"
	"github.com/intelliquery/intent-agent/internal/schema"
)

//go:embed prompts.yaml
var defaultPrompts []byte

type Example struct {
	Query  string `yaml:"query"`
	Answer string `yaml:"answer"`
}

// PromptSet is the instruction text and few-shot examples sent with every
// mapping request.
type PromptSet struct {
	System   string    `yaml:"system"`
	Repair   string    `yaml:"repair"`
	Examples []Example `yaml:"examples"`
}

// LoadPrompts reads a prompt set from path, or the built-in one when path
// is empty.
func LoadPrompts(path string) (*PromptSet, error) {
	data := defaultPrompts
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt file: %w", err)
		}
		data = b
	}

	var p PromptSet
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse prompt set: %w", err)
	}
	if strings.TrimSpace(p.System) == "" {
		return nil, fmt.Errorf("prompt set has no system instruction")
	}
	if strings.TrimSpace(p.Repair) == "" {
		p.Repair = "Fix the listed problems and reply with the corrected JSON object only."
	}
	for i, ex := range p.Examples {
		if _, err := ExtractJSON(ex.Answer); err != nil {
			return nil, fmt.Errorf("example %d answer is not a JSON object: %w", i, err)
		}
	}
	return &p, nil
}

// Input is everything the mapper sees about one request.
type Input struct {
	Query          string
	Catalog        *catalog.Catalog
	Exemplars      []index.Match
	Entities       entities.Entities
	Classification *classifier.Result
}

// BuildPrompt renders the user message for a mapping call. Hints lists how
// many classifier candidates per axis are shown.
func (p *PromptSet) BuildPrompt(in Input, hints int) string {
	var b strings.Builder

	if len(p.Examples) > 0 {
		b.WriteString("Examples:\n")
		for _, ex := range p.Examples {
			fmt.Fprintf(&b, "Query: %s\nAnswer: %s\n", ex.Query, strings.TrimSpace(ex.Answer))
		}
		b.WriteString("\n")
	}

	b.WriteString("Workspace catalog:\n")
	for _, ws := range in.Catalog.Workspaces() {
		fmt.Fprintf(&b, "- %s: %s", ws.ID, ws.Description)
		if len(ws.Tables) > 0 {
			fmt.Fprintf(&b, " (tables: %s)", strings.Join(ws.Tables, ", "))
		}
		b.WriteString("\n")
	}

	if len(in.Exemplars) > 0 {
		b.WriteString("\nSimilar known queries:\n")
		for _, m := range in.Exemplars {
			fmt.Fprintf(&b, "- %q -> %s", m.Phrase, m.WorkspaceID)
			if m.Intent != "" {
				fmt.Fprintf(&b, "/%s", m.Intent)
			}
			fmt.Fprintf(&b, " (similarity %.2f)\n", m.Score)
		}
	}

	if !in.Entities.IsEmpty() {
		ents := in.Entities.Clone()
		ents.Normalize()
		data, _ := json.Marshal(ents)
		fmt.Fprintf(&b, "\nExtracted entities: %s\n", data)
	}

	if c := in.Classification; c != nil {
		b.WriteString("\nClassifier hints:\n")
		b.WriteString("- intents:")
		for _, s := range classifier.TopScores(c.IntentScores, hints) {
			fmt.Fprintf(&b, " %s=%.2f", s.ID, s.Probability)
		}
		b.WriteString("\n- workspaces:")
		for _, s := range classifier.TopScores(c.WorkspaceScores, hints) {
			fmt.Fprintf(&b, " %s=%.2f", s.ID, s.Probability)
		}
		fmt.Fprintf(&b, "\n- query_type=%s time_sensitivity=%s\n", c.QueryType, c.TimeSensitivity)
	}

	fmt.Fprintf(&b, "\nQuery: %s\nAnswer:", in.Query)
	return b.String()
}

// BuildRepairPrompt renders the user message for a model-assisted repair.
func (p *PromptSet) BuildRepairPrompt(in Input, c *schema.Candidate, violations []schema.Violation) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.Repair))
	fmt.Fprintf(&b, "\n\nAllowed workspaces: %s\n", strings.Join(in.Catalog.IDs(), ", "))
	fmt.Fprintf(&b, "Original query: %s\n", in.Query)
	b.WriteString("Problems:\n")
	for _, v := range violations {
		fmt.Fprintf(&b, "- %s\n", v.String())
	}
	fmt.Fprintf(&b, "JSON:\n%s\n", c.JSON())
	return b.String()
}
