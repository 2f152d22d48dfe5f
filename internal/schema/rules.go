package schema

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/intelliquery/intent-agent/internal/catalog"
	"github.com/intelliquery/intent-agent/internal/entities"
)

// Rule checks one field of a candidate and reports every problem it finds.
type Rule struct {
	Field string
	Check func(c *Candidate, cat *catalog.Catalog) []Violation
}

// Rules is the full contract, evaluated in order. Validation never stops at
// the first failure.
var Rules = []Rule{
	{Field: FieldIntentType, Check: checkIntentType},
	{Field: FieldWorkspaces, Check: checkWorkspaces},
	{Field: FieldConfidence, Check: checkConfidence},
	{Field: FieldEntities, Check: checkEntities},
	{Field: FieldRationale, Check: checkRationale},
	{Field: FieldQueryType, Check: enumRule(FieldQueryType, func(c *Candidate) any { return c.QueryType }, QueryTypes)},
	{Field: FieldTimeSensitivity, Check: enumRule(FieldTimeSensitivity, func(c *Candidate) any { return c.TimeSensitivity }, TimeSensitivities)},
}

// Validator binds the contract to one catalog generation.
type Validator struct {
	catalog *catalog.Catalog
	schema  *gojsonschema.Schema
}

func NewValidator(cat *catalog.Catalog) (*Validator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(JSONSchema(cat)))
	if err != nil {
		return nil, fmt.Errorf("failed to compile intent schema: %w", err)
	}
	return &Validator{catalog: cat, schema: s}, nil
}

func (v *Validator) Catalog() *catalog.Catalog {
	return v.catalog
}

// Validate runs every rule and returns all violations; nil means valid.
func (v *Validator) Validate(c *Candidate) []Violation {
	if c == nil {
		c = &Candidate{}
	}
	var out []Violation
	for _, r := range Rules {
		out = append(out, r.Check(c, v.catalog)...)
	}
	return out
}

func violation(field, code, format string, args ...any) Violation {
	return Violation{Field: field, Code: code, Message: fmt.Sprintf(format, args...)}
}

func checkIntentType(c *Candidate, _ *catalog.Catalog) []Violation {
	if c.IntentType == nil {
		return []Violation{violation(FieldIntentType, CodeMissing, "intent_type is required")}
	}
	s, ok := c.IntentType.(string)
	if !ok {
		return []Violation{violation(FieldIntentType, CodeInvalidType, "intent_type must be a string, got %T", c.IntentType)}
	}
	if !IsIntentType(s) {
		return []Violation{violation(FieldIntentType, CodeInvalidEnum, "intent_type %q is not one of %s", s, strings.Join(IntentTypes, ", "))}
	}
	return nil
}

func checkWorkspaces(c *Candidate, cat *catalog.Catalog) []Violation {
	if c.Workspaces == nil {
		return []Violation{violation(FieldWorkspaces, CodeMissing, "workspaces is required")}
	}

	var ids []string
	switch ws := c.Workspaces.(type) {
	case []string:
		ids = ws
	case []any:
		for i, item := range ws {
			s, ok := item.(string)
			if !ok {
				return []Violation{violation(FieldWorkspaces, CodeInvalidType, "workspaces[%d] must be a string, got %T", i, item)}
			}
			ids = append(ids, s)
		}
	default:
		return []Violation{violation(FieldWorkspaces, CodeInvalidType, "workspaces must be an array of strings, got %T", c.Workspaces)}
	}

	if len(ids) == 0 {
		return []Violation{violation(FieldWorkspaces, CodeEmpty, "workspaces must contain at least one catalog id")}
	}

	var out []Violation
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			out = append(out, violation(FieldWorkspaces, CodeDuplicate, "workspace %q is listed more than once", id))
			continue
		}
		seen[id] = true
		if !cat.Has(id) {
			out = append(out, violation(FieldWorkspaces, CodeUnknownWorkspace, "workspace %q is not in the catalog", id))
		}
	}
	return out
}

func checkConfidence(c *Candidate, _ *catalog.Catalog) []Violation {
	if c.Confidence == nil {
		return []Violation{violation(FieldConfidence, CodeMissing, "confidence is required")}
	}
	f, ok := c.Confidence.(float64)
	if !ok {
		return []Violation{violation(FieldConfidence, CodeInvalidType, "confidence must be a number, got %T", c.Confidence)}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > 1 {
		return []Violation{violation(FieldConfidence, CodeOutOfRange, "confidence %v must be within [0,1]", f)}
	}
	return nil
}

func checkEntities(c *Candidate, _ *catalog.Catalog) []Violation {
	switch e := c.Entities.(type) {
	case nil, entities.Entities:
		return nil
	case map[string]any:
		keys := make([]string, 0, len(e))
		for key := range e {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		var out []Violation
		for _, key := range keys {
			val := e[key]
			if !contains(entities.Categories(), key) {
				out = append(out, violation(FieldEntities, CodeUnknownCategory, "entities.%s is not a known category", key))
				continue
			}
			items, ok := val.([]any)
			if !ok {
				out = append(out, violation(FieldEntities, CodeInvalidType, "entities.%s must be an array of strings", key))
				continue
			}
			for _, item := range items {
				if _, ok := item.(string); !ok {
					out = append(out, violation(FieldEntities, CodeInvalidType, "entities.%s must contain only strings", key))
					break
				}
			}
		}
		return out
	default:
		return []Violation{violation(FieldEntities, CodeInvalidType, "entities must be an object, got %T", c.Entities)}
	}
}

func checkRationale(c *Candidate, _ *catalog.Catalog) []Violation {
	if c.Rationale == nil {
		return nil
	}
	if _, ok := c.Rationale.(string); !ok {
		return []Violation{violation(FieldRationale, CodeInvalidType, "rationale must be a string, got %T", c.Rationale)}
	}
	return nil
}

func enumRule(field string, get func(*Candidate) any, allowed []string) func(*Candidate, *catalog.Catalog) []Violation {
	return func(c *Candidate, _ *catalog.Catalog) []Violation {
		v := get(c)
		if v == nil {
			return nil
		}
		s, ok := v.(string)
		if !ok {
			return []Violation{violation(field, CodeInvalidType, "%s must be a string, got %T", field, v)}
		}
		if !contains(allowed, s) {
			return []Violation{violation(field, CodeInvalidEnum, "%s %q is not one of %s", field, s, strings.Join(allowed, ", "))}
		}
		return nil
	}
}
