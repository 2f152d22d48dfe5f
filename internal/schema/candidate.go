package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Candidate is an unvalidated analysis as produced by the remote model or
// synthesised from classifier output. Fields hold decoded JSON values (nil
// when absent) until Repair coerces them to their canonical Go types. Only
// contract fields exist, so anything else in the model reply is dropped on
// decode.
type Candidate struct {
	IntentType      any `json:"intent_type,omitempty"`
	Workspaces      any `json:"workspaces,omitempty"`
	Entities        any `json:"entities,omitempty"`
	Confidence      any `json:"confidence,omitempty"`
	Rationale       any `json:"rationale,omitempty"`
	QueryType       any `json:"query_type,omitempty"`
	TimeSensitivity any `json:"time_sensitivity,omitempty"`
}

// ParseCandidate decodes a JSON object into a Candidate.
func ParseCandidate(data []byte) (*Candidate, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("candidate is not a JSON object")
	}
	var c Candidate
	if err := json.Unmarshal(trimmed, &c); err != nil {
		return nil, fmt.Errorf("failed to decode candidate: %w", err)
	}
	return &c, nil
}

// FromAnalysis wraps an already-typed analysis, e.g. the classifier fallback.
func FromAnalysis(a IntentAnalysis) *Candidate {
	ents := a.Entities.Clone()
	ents.Normalize()
	return &Candidate{
		IntentType:      a.IntentType,
		Workspaces:      append([]string(nil), a.Workspaces...),
		Entities:        ents,
		Confidence:      a.Confidence,
		Rationale:       a.Rationale,
		QueryType:       a.QueryType,
		TimeSensitivity: a.TimeSensitivity,
	}
}

func (c *Candidate) Clone() *Candidate {
	if c == nil {
		return &Candidate{}
	}
	out := *c
	return &out
}

// JSON renders the candidate for repair prompts.
func (c *Candidate) JSON() string {
	data, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
