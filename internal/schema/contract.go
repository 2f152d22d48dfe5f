// Package schema defines the IntentAnalysis output contract, validates raw
// model candidates against it and repairs them deterministically.
package schema

import (
	"github.com/intelliquery/intent-agent/internal/entities"
	"github.com/intelliquery/intent-agent/pkg/apperror"
)

const (
	IntentRead    = "read"
	IntentWrite   = "write"
	IntentUpdate  = "update"
	IntentDelete  = "delete"
	IntentAnalyze = "analyze"

	QuerySimple      = "simple"
	QueryFiltered    = "filtered"
	QueryAggregation = "aggregation"
	QueryComparison  = "comparison"
	QueryTrend       = "trend"

	TimeNone       = "none"
	TimeHistorical = "historical"
	TimeCurrent    = "current"
	TimeFuture     = "future"
)

var (
	IntentTypes       = []string{IntentRead, IntentWrite, IntentUpdate, IntentDelete, IntentAnalyze}
	QueryTypes        = []string{QuerySimple, QueryFiltered, QueryAggregation, QueryComparison, QueryTrend}
	TimeSensitivities = []string{TimeNone, TimeHistorical, TimeCurrent, TimeFuture}
)

// Field names as they appear on the wire.
const (
	FieldIntentType      = "intent_type"
	FieldWorkspaces      = "workspaces"
	FieldEntities        = "entities"
	FieldConfidence      = "confidence"
	FieldRationale       = "rationale"
	FieldQueryType       = "query_type"
	FieldTimeSensitivity = "time_sensitivity"
)

// Violation codes.
const (
	CodeMissing          = "missing"
	CodeInvalidType      = "invalid_type"
	CodeInvalidEnum      = "invalid_enum"
	CodeOutOfRange       = "out_of_range"
	CodeEmpty            = "empty"
	CodeDuplicate        = "duplicate"
	CodeUnknownWorkspace = "unknown_workspace"
	CodeUnknownCategory  = "unknown_category"
)

type Violation = apperror.Violation

// IntentAnalysis is the validated pipeline output.
type IntentAnalysis struct {
	IntentType      string            `json:"intent_type"`
	Workspaces      []string          `json:"workspaces"`
	Entities        entities.Entities `json:"entities"`
	Confidence      float64           `json:"confidence"`
	Rationale       string            `json:"rationale"`
	QueryType       string            `json:"query_type"`
	TimeSensitivity string            `json:"time_sensitivity"`
}

// Defaults supplies per-request values for optional fields during repair and
// for violating fields in a best-effort result.
type Defaults struct {
	IntentType      string
	Workspaces      []string
	Entities        entities.Entities
	Rationale       string
	QueryType       string
	TimeSensitivity string
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func IsIntentType(v string) bool      { return contains(IntentTypes, v) }
func IsQueryType(v string) bool       { return contains(QueryTypes, v) }
func IsTimeSensitivity(v string) bool { return contains(TimeSensitivities, v) }
