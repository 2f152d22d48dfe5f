package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelliquery/intent-agent/internal/catalog"
	"github.com/intelliquery/intent-agent/internal/entities"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(catalog.Default())
	require.NoError(t, err)
	return v
}

func parse(t *testing.T, s string) *Candidate {
	t.Helper()
	c, err := ParseCandidate([]byte(s))
	require.NoError(t, err)
	return c
}

func fields(vs []Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Field)
	}
	return out
}

func TestParseCandidateRejectsNonObjects(t *testing.T) {
	for _, in := range []string{"", "  ", "[1,2]", "\"read\"", "{broken"} {
		_, err := ParseCandidate([]byte(in))
		assert.Error(t, err, in)
	}
}

func TestValidateCollectsEveryViolation(t *testing.T) {
	v := newValidator(t)
	c := parse(t, `{"intent_type":"browse","workspaces":["nope"],"confidence":1.7,"query_type":"weird","entities":{"colour":["red"]}}`)

	vs := v.Validate(c)
	assert.Equal(t, []string{FieldIntentType, FieldWorkspaces, FieldConfidence, FieldEntities, FieldQueryType}, fields(vs))
	assert.Equal(t, CodeInvalidEnum, vs[0].Code)
	assert.Equal(t, CodeUnknownWorkspace, vs[1].Code)
	assert.Equal(t, CodeOutOfRange, vs[2].Code)
	assert.Equal(t, CodeUnknownCategory, vs[3].Code)
}

func TestValidateMissingFields(t *testing.T) {
	v := newValidator(t)
	vs := v.Validate(parse(t, `{}`))
	require.Len(t, vs, 3)
	for _, viol := range vs {
		assert.Equal(t, CodeMissing, viol.Code)
	}

	vs = v.Validate(parse(t, `{"intent_type":"read","workspaces":[],"confidence":"high"}`))
	assert.Equal(t, []string{FieldWorkspaces, FieldConfidence}, fields(vs))
	assert.Equal(t, CodeEmpty, vs[0].Code)
	assert.Equal(t, CodeInvalidType, vs[1].Code)
}

func TestValidateDuplicateWorkspaces(t *testing.T) {
	v := newValidator(t)
	vs := v.Validate(parse(t, `{"intent_type":"read","workspaces":["sales","sales"],"confidence":0.5}`))
	require.Len(t, vs, 1)
	assert.Equal(t, CodeDuplicate, vs[0].Code)
}

func TestRepairCoercesCommonMistakes(t *testing.T) {
	v := newValidator(t)
	c := parse(t, `{
		"intent_type": "SELECT",
		"workspaces": "Sales, finance, nope, sales",
		"confidence": "85%",
		"entities": {"location": ["Mumbai"], "Dates": "last month", "colour": ["red"]},
		"query_type": "Aggregate",
		"time_sensitivity": "past"
	}`)

	repaired, changed := v.Repair(c, Defaults{Rationale: "classifier picked sales"})
	assert.Empty(t, v.Validate(repaired))
	assert.Contains(t, changed, FieldIntentType)
	assert.Contains(t, changed, FieldWorkspaces)
	assert.Contains(t, changed, FieldRationale)

	a, err := v.Finalize(repaired)
	require.NoError(t, err)
	assert.Equal(t, IntentRead, a.IntentType)
	assert.Equal(t, []string{"sales", "finance"}, a.Workspaces)
	assert.InDelta(t, 0.85, a.Confidence, 1e-9)
	assert.Equal(t, []string{"Mumbai"}, a.Entities.Locations)
	assert.Equal(t, []string{"last month"}, a.Entities.Dates)
	assert.Equal(t, []string{}, a.Entities.Products)
	assert.Equal(t, "classifier picked sales", a.Rationale)
	assert.Equal(t, QueryAggregation, a.QueryType)
	assert.Equal(t, TimeHistorical, a.TimeSensitivity)

	// input is untouched
	assert.Equal(t, "SELECT", c.IntentType)
}

func TestRepairIsIdempotent(t *testing.T) {
	v := newValidator(t)
	inputs := []string{
		`{"intent_type":"Analyse","workspaces":["HR"],"confidence":1.4,"query_type":"unknown"}`,
		`{"intent_type":"browse","workspaces":"nope","confidence":"x"}`,
		`{"workspaces":[1,"sales"],"entities":{"org":"Acme Corp"},"rationale":["a","b"]}`,
		`{}`,
	}
	for _, in := range inputs {
		once, _ := v.Repair(parse(t, in), Defaults{QueryType: QueryTrend})
		twice, changed := v.Repair(once, Defaults{QueryType: QueryTrend})
		assert.Empty(t, changed, in)
		assert.Equal(t, once, twice, in)
	}
}

func TestRepairLeavesRequiredIntentForValidation(t *testing.T) {
	v := newValidator(t)
	repaired, _ := v.Repair(parse(t, `{"intent_type":"browse","workspaces":["sales"],"confidence":0.4}`), Defaults{IntentType: IntentRead})
	vs := v.Validate(repaired)
	require.Len(t, vs, 1)
	assert.Equal(t, FieldIntentType, vs[0].Field)
}

func TestRepairFillsOptionalEnumsFromDefaults(t *testing.T) {
	v := newValidator(t)
	repaired, _ := v.Repair(parse(t, `{"intent_type":"read","workspaces":["sales"],"confidence":0.4,"time_sensitivity":"sometimes"}`),
		Defaults{QueryType: QueryFiltered, TimeSensitivity: TimeCurrent})
	assert.Equal(t, QueryFiltered, repaired.QueryType)
	assert.Equal(t, TimeCurrent, repaired.TimeSensitivity)

	repaired, _ = v.Repair(parse(t, `{"intent_type":"read"}`), Defaults{QueryType: "bogus"})
	assert.Equal(t, QuerySimple, repaired.QueryType)
	assert.Equal(t, TimeNone, repaired.TimeSensitivity)
}

func TestRepairDropsUnknownWorkspaces(t *testing.T) {
	v := newValidator(t)
	repaired, _ := v.Repair(parse(t, `{"intent_type":"read","workspaces":["nope"],"confidence":0.4}`), Defaults{})
	vs := v.Validate(repaired)
	require.Len(t, vs, 1)
	assert.Equal(t, CodeEmpty, vs[0].Code)
}

func TestBestEffortOnlyUsesCatalogWorkspaces(t *testing.T) {
	v := newValidator(t)
	d := Defaults{
		IntentType: IntentAnalyze,
		Workspaces: []string{"Finance", "ghost"},
		Entities:   entities.Entities{Dates: []string{"last month"}},
		Rationale:  "fallback",
	}
	a := v.BestEffort(parse(t, `{"intent_type":"browse","workspaces":["nope"],"confidence":0.9}`), d)

	assert.Equal(t, IntentAnalyze, a.IntentType)
	assert.Equal(t, []string{"finance"}, a.Workspaces)
	assert.Zero(t, a.Confidence)
	assert.Equal(t, "fallback", a.Rationale)

	a = v.BestEffort(nil, Defaults{Workspaces: []string{"ghost"}})
	assert.Equal(t, IntentRead, a.IntentType)
	assert.Equal(t, []string{catalog.DefaultWorkspaceID}, a.Workspaces)
	assert.Zero(t, a.Confidence)
	assert.NotNil(t, a.Entities.Custom)
}

func TestFinalizeRejectsInvalid(t *testing.T) {
	v := newValidator(t)
	_, err := v.Finalize(parse(t, `{"intent_type":"read"}`))
	assert.ErrorContains(t, err, "violations")
}

func TestFromAnalysisRoundTrip(t *testing.T) {
	v := newValidator(t)
	in := IntentAnalysis{
		IntentType:      IntentUpdate,
		Workspaces:      []string{"inventory"},
		Entities:        entities.Entities{Products: []string{"laptops"}},
		Confidence:      0.6,
		Rationale:       "stock change",
		QueryType:       QuerySimple,
		TimeSensitivity: TimeNone,
	}
	c := FromAnalysis(in)
	assert.Empty(t, v.Validate(c))

	out, err := v.Finalize(c)
	require.NoError(t, err)
	in.Entities.Normalize()
	assert.Equal(t, in, out)
	assert.Contains(t, c.JSON(), `"intent_type":"update"`)
}

func TestJSONSchemaUsesCatalogIDs(t *testing.T) {
	cat := catalog.Default()
	doc := JSONSchema(cat)
	props := doc["properties"].(map[string]any)
	items := props[FieldWorkspaces].(map[string]any)["items"].(map[string]any)
	assert.Equal(t, cat.IDs(), items["enum"])
	assert.Equal(t, []string{FieldIntentType, FieldWorkspaces, FieldConfidence}, doc["required"])
}

func TestCheckDocument(t *testing.T) {
	v := newValidator(t)
	good := IntentAnalysis{
		IntentType:      IntentRead,
		Workspaces:      []string{"sales"},
		Entities:        entities.Empty(),
		Confidence:      0.7,
		QueryType:       QuerySimple,
		TimeSensitivity: TimeNone,
	}
	vs, err := v.CheckDocument(good)
	require.NoError(t, err)
	assert.Empty(t, vs)

	raw, err := json.Marshal(good)
	require.NoError(t, err)
	vs, err = v.CheckDocument(raw)
	require.NoError(t, err)
	assert.Empty(t, vs)

	vs, err = v.CheckDocument(`{"intent_type":"browse","workspaces":[],"confidence":2,"extra":true}`)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(vs), 4)
}
