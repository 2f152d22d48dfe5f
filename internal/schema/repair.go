package schema

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/intelliquery/intent-agent/internal/entities"
)

var (
	intentSynonyms = map[string]string{
		"select": IntentRead, "query": IntentRead, "get": IntentRead, "fetch": IntentRead, "retrieve": IntentRead,
		"lookup": IntentRead, "view": IntentRead, "show": IntentRead, "list": IntentRead, "search": IntentRead,
		"create": IntentWrite, "insert": IntentWrite, "add": IntentWrite,
		"modify": IntentUpdate, "edit": IntentUpdate, "change": IntentUpdate,
		"remove": IntentDelete, "drop": IntentDelete,
		"analyse": IntentAnalyze, "analysis": IntentAnalyze, "analytics": IntentAnalyze, "aggregate": IntentAnalyze, "compare": IntentAnalyze,
	}
	queryTypeSynonyms = map[string]string{
		"basic": QuerySimple, "lookup": QuerySimple,
		"filter":    QueryFiltered,
		"aggregate": QueryAggregation, "aggregated": QueryAggregation,
		"compare": QueryComparison, "comparative": QueryComparison,
		"trends": QueryTrend, "trending": QueryTrend, "timeseries": QueryTrend,
	}
	timeSynonyms = map[string]string{
		"no": TimeNone, "na": TimeNone, "timeless": TimeNone, "null": TimeNone,
		"past": TimeHistorical, "historic": TimeHistorical,
		"present": TimeCurrent, "realtime": TimeCurrent, "now": TimeCurrent, "live": TimeCurrent,
		"forecast": TimeFuture, "upcoming": TimeFuture, "predictive": TimeFuture,
	}
	categorySynonyms = map[string]string{
		"date": "dates", "time": "dates", "times": "dates", "period": "dates",
		"location": "locations", "place": "locations", "places": "locations", "gpe": "locations", "region": "locations", "regions": "locations",
		"quantity": "quantities", "number": "quantities", "numbers": "quantities", "amount": "quantities", "amounts": "quantities",
		"product":      "products",
		"organization": "organizations", "organisation": "organizations", "organisations": "organizations", "org": "organizations", "orgs": "organizations",
		"person": "people", "persons": "people", "names": "people",
	}
)

// Repair applies the deterministic coercions and returns a new candidate
// plus the fields it changed. It never mutates c, and repairing its own
// output again changes nothing.
func (v *Validator) Repair(c *Candidate, d Defaults) (*Candidate, []string) {
	if c == nil {
		c = &Candidate{}
	}
	out := c.Clone()

	out.IntentType = repairEnum(out.IntentType, IntentTypes, intentSynonyms, "")
	out.Workspaces = v.repairWorkspaces(out.Workspaces)
	out.Confidence = repairConfidence(out.Confidence)
	out.Entities = repairEntities(out.Entities, d.Entities)
	out.Rationale = repairRationale(out.Rationale, d.Rationale)
	out.QueryType = repairEnum(out.QueryType, QueryTypes, queryTypeSynonyms, pick(d.QueryType, IsQueryType, QuerySimple))
	out.TimeSensitivity = repairEnum(out.TimeSensitivity, TimeSensitivities, timeSynonyms, pick(d.TimeSensitivity, IsTimeSensitivity, TimeNone))

	var changed []string
	before := []any{c.IntentType, c.Workspaces, c.Confidence, c.Entities, c.Rationale, c.QueryType, c.TimeSensitivity}
	after := []any{out.IntentType, out.Workspaces, out.Confidence, out.Entities, out.Rationale, out.QueryType, out.TimeSensitivity}
	names := []string{FieldIntentType, FieldWorkspaces, FieldConfidence, FieldEntities, FieldRationale, FieldQueryType, FieldTimeSensitivity}
	for i := range names {
		if !reflect.DeepEqual(before[i], after[i]) {
			changed = append(changed, names[i])
		}
	}
	return out, changed
}

func pick(v string, ok func(string) bool, fallback string) string {
	if ok(v) {
		return v
	}
	return fallback
}

func foldEnum(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "", "_", "", " ", "", "/", "", ".", "").Replace(s)
}

func unwrapSingle(v any) any {
	switch x := v.(type) {
	case []any:
		if len(x) == 1 {
			return x[0]
		}
	case []string:
		if len(x) == 1 {
			return x[0]
		}
	}
	return v
}

// repairEnum folds case and separators and maps synonyms. For optional
// fields (fallback set) a missing or unusable value becomes fallback; for
// required fields it is left for validation to report.
func repairEnum(v any, allowed []string, synonyms map[string]string, fallback string) any {
	v = unwrapSingle(v)
	s, ok := v.(string)
	if !ok {
		if fallback != "" {
			return fallback
		}
		return v
	}
	folded := foldEnum(s)
	for _, a := range allowed {
		if folded == a {
			return a
		}
	}
	if mapped, ok := synonyms[folded]; ok {
		return mapped
	}
	if fallback != "" {
		return fallback
	}
	return strings.ToLower(strings.TrimSpace(s))
}

func (v *Validator) repairWorkspaces(raw any) any {
	var items []string
	switch x := raw.(type) {
	case nil:
		return nil
	case string:
		items = strings.Split(x, ",")
	case []string:
		items = x
	case []any:
		for _, it := range x {
			if s, ok := it.(string); ok {
				items = append(items, s)
			}
		}
	default:
		return raw
	}

	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		id, ok := v.catalog.Resolve(it)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func repairConfidence(raw any) any {
	raw = unwrapSingle(raw)
	var f float64
	switch x := raw.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case string:
		s := strings.TrimSpace(x)
		percent := strings.HasSuffix(s, "%")
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return raw
		}
		f = parsed
		if percent {
			f /= 100
		}
	default:
		return raw
	}
	if math.IsNaN(f) {
		return raw
	}
	return math.Max(0, math.Min(1, f))
}

func repairEntities(raw any, fallback entities.Entities) any {
	switch x := raw.(type) {
	case nil:
		e := fallback.Clone()
		e.Normalize()
		return e
	case entities.Entities:
		e := x.Clone()
		e.Normalize()
		return e
	case map[string]any:
		e := entities.Entities{}
		for _, key := range sortedKeys(x) {
			category := strings.ToLower(strings.TrimSpace(key))
			if mapped, ok := categorySynonyms[category]; ok {
				category = mapped
			}
			target := e.Field(category)
			if target == nil {
				continue
			}
			*target = append(*target, stringsOf(x[key])...)
		}
		e.Normalize()
		return e
	default:
		e := fallback.Clone()
		e.Normalize()
		return e
	}
}

func stringsOf(v any) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(x) == "" {
			return nil
		}
		return []string{x}
	case []any:
		var out []string
		for _, it := range x {
			out = append(out, stringsOf(it)...)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	case float64:
		return []string{strconv.FormatFloat(x, 'f', -1, 64)}
	case bool:
		return nil
	case map[string]any:
		for _, k := range []string{"text", "value", "name"} {
			if s, ok := x[k].(string); ok {
				return []string{s}
			}
		}
		return nil
	default:
		return []string{fmt.Sprint(x)}
	}
}

func repairRationale(raw any, fallback string) any {
	switch x := raw.(type) {
	case nil:
		return fallback
	case string:
		return x
	case []any:
		parts := stringsOf(x)
		return strings.Join(parts, " ")
	default:
		return fmt.Sprint(x)
	}
}

// Finalize converts a candidate that passed Validate into an IntentAnalysis,
// filling any still-absent optional fields with static defaults.
func (v *Validator) Finalize(c *Candidate) (IntentAnalysis, error) {
	if vs := v.Validate(c); len(vs) > 0 {
		return IntentAnalysis{}, fmt.Errorf("candidate has %d violations: %s", len(vs), vs[0].String())
	}
	a := IntentAnalysis{
		IntentType:      c.IntentType.(string),
		Workspaces:      workspaceIDs(c.Workspaces),
		Confidence:      c.Confidence.(float64),
		QueryType:       QuerySimple,
		TimeSensitivity: TimeNone,
	}
	if s, ok := c.Rationale.(string); ok {
		a.Rationale = s
	}
	if s, ok := c.QueryType.(string); ok {
		a.QueryType = s
	}
	if s, ok := c.TimeSensitivity.(string); ok {
		a.TimeSensitivity = s
	}
	if e, ok := repairEntities(c.Entities, entities.Empty()).(entities.Entities); ok {
		a.Entities = e
	}
	a.Entities.Normalize()
	return a, nil
}

// BestEffort builds a schema-valid analysis when the candidate could not be
// repaired: fields that still violate the contract are taken from d and the
// confidence is forced to 0.
func (v *Validator) BestEffort(c *Candidate, d Defaults) IntentAnalysis {
	repaired, _ := v.Repair(c, d)
	bad := map[string]bool{}
	for _, viol := range v.Validate(repaired) {
		bad[viol.Field] = true
	}

	fixed := repaired.Clone()
	if bad[FieldIntentType] {
		fixed.IntentType = pick(d.IntentType, IsIntentType, IntentRead)
	}
	if bad[FieldWorkspaces] {
		fixed.Workspaces = v.defaultWorkspaces(d.Workspaces)
	}
	if bad[FieldEntities] {
		e := d.Entities.Clone()
		e.Normalize()
		fixed.Entities = e
	}
	if bad[FieldRationale] {
		fixed.Rationale = d.Rationale
	}
	if bad[FieldQueryType] {
		fixed.QueryType = pick(d.QueryType, IsQueryType, QuerySimple)
	}
	if bad[FieldTimeSensitivity] {
		fixed.TimeSensitivity = pick(d.TimeSensitivity, IsTimeSensitivity, TimeNone)
	}
	fixed.Confidence = 0.0

	a, err := v.Finalize(fixed)
	if err != nil {
		// Defaults themselves were unusable; fall back to the catalog default.
		a = IntentAnalysis{
			IntentType:      IntentRead,
			Workspaces:      []string{v.catalog.DefaultWorkspace()},
			Entities:        entities.Empty(),
			QueryType:       QuerySimple,
			TimeSensitivity: TimeNone,
		}
	}
	a.Confidence = 0
	return a
}

func (v *Validator) defaultWorkspaces(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := map[string]bool{}
	for _, id := range ids {
		if canonical, ok := v.catalog.Resolve(id); ok && !seen[canonical] {
			seen[canonical] = true
			out = append(out, canonical)
		}
	}
	if len(out) == 0 {
		out = append(out, v.catalog.DefaultWorkspace())
	}
	return out
}

func workspaceIDs(v any) []string {
	switch x := v.(type) {
	case []string:
		return append([]string(nil), x...)
	case []any:
		out := make([]string, 0, len(x))
		for _, it := range x {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
