package pipeline

import (
	"errors"
	"time"

	"github.com/intelliquery/intent-agent/internal/classifier"
	"github.com/intelliquery/intent-agent/internal/entities"
	"github.com/intelliquery/intent-agent/internal/index"
	"github.com/intelliquery/intent-agent/internal/precheck"
	"github.com/intelliquery/intent-agent/internal/schema"
	"github.com/intelliquery/intent-agent/pkg/apperror"
)

// Stage names double as the keys of metadata.pipeline_components.
const (
	StageNormalize = "normalization"
	StageRetrieve  = "embedding_retrieval"
	StageExtract   = "entity_extraction"
	StageClassify  = "classification"
	StageMap       = "llm_mapping"
	StageValidate  = "validation"
)

// Stages lists the stage names in execution order.
var Stages = []string{StageNormalize, StageRetrieve, StageExtract, StageClassify, StageMap, StageValidate}

// Query is the immutable input of one run.
type Query struct {
	Text       string
	Locale     string
	Metadata   map[string]any
	RequestID  string
	ReceivedAt time.Time
}

// StageReport is recorded for every stage that ran.
type StageReport struct {
	Stage     string        `json:"stage"`
	Success   bool          `json:"success"`
	Elapsed   time.Duration `json:"-"`
	Seconds   float64       `json:"elapsed"`
	ErrorCode apperror.Code `json:"error_code,omitempty"`
	Message   string        `json:"message,omitempty"`
}

type Degradation struct {
	Stage      string               `json:"stage"`
	Code       apperror.Code        `json:"code"`
	Message    string               `json:"message"`
	Violations []apperror.Violation `json:"violations,omitempty"`
}

// Context accumulates the per-stage results of one request. It is owned by
// a single run and never shared.
type Context struct {
	Query     Query
	RequestID string

	Normalized     string
	Folded         string
	Exemplars      []index.Match
	Entities       entities.Entities
	Classification *classifier.Result
	RawOutput      string
	Candidate      *schema.Candidate
	Repaired       []string
	Violations     []schema.Violation
	Analysis       *schema.IntentAnalysis

	LLMAttempts      int
	RepairAttempts   int
	LLMMapped        bool
	FallbackUsed     bool
	ValidationFailed bool

	Reports      []StageReport
	Degradations []Degradation
}

func (pc *Context) degrade(stage string, err error) {
	d := Degradation{Stage: stage, Code: apperror.CodeOf(err), Message: err.Error()}
	var ae *apperror.Error
	if errors.As(err, &ae) {
		d.Message = ae.Message
		d.Violations = ae.Violations
	}
	pc.Degradations = append(pc.Degradations, d)
}

// HasDegradation reports whether code was recorded during the run.
func (pc *Context) HasDegradation(code apperror.Code) bool {
	for _, d := range pc.Degradations {
		if d.Code == code {
			return true
		}
	}
	return false
}

type ClassifierMetadata struct {
	Intent          string             `json:"intent"`
	Workspaces      []string           `json:"workspaces"`
	Confidence      float64            `json:"confidence"`
	Default         bool               `json:"default"`
	IntentScores    []classifier.Score `json:"intent_scores"`
	WorkspaceScores []classifier.Score `json:"workspace_scores"`
}

type Metadata struct {
	RequestID          string              `json:"request_id"`
	PipelineComponents map[string]bool     `json:"pipeline_components"`
	StageTimings       map[string]float64  `json:"stage_timings"`
	ProcessingTime     float64             `json:"processing_time"`
	LLMAttempts        int                 `json:"llm_attempts"`
	RepairAttempts     int                 `json:"repair_attempts"`
	RepairedFields     []string            `json:"repaired_fields"`
	FallbackUsed       bool                `json:"fallback_used"`
	ValidationFailed   bool                `json:"validation_failed"`
	Degradations       []Degradation       `json:"degradations"`
	ExemplarsRetrieved int                 `json:"exemplars_retrieved"`
	Classifier         *ClassifierMetadata `json:"classifier,omitempty"`
	Provider           string              `json:"provider"`
	IndexVersion       uint64              `json:"index_version"`
	Locale             string              `json:"locale,omitempty"`
	Timestamp          time.Time           `json:"timestamp"`
}

type ErrorInfo struct {
	Code    apperror.Code `json:"code"`
	Message string        `json:"message"`
}

// Partial is the last known state attached to a failed envelope.
type Partial struct {
	Normalized string        `json:"normalized"`
	Stages     []StageReport `json:"stages"`
}

// Envelope is the only shape a run ever returns.
type Envelope struct {
	Success        bool                   `json:"success"`
	Query          string                 `json:"query"`
	IntentAnalysis *schema.IntentAnalysis `json:"intent_analysis,omitempty"`
	Metadata       *Metadata              `json:"metadata,omitempty"`
	Validation     *precheck.Report       `json:"validation,omitempty"`
	Error          *ErrorInfo             `json:"error,omitempty"`
	Partial        *Partial               `json:"partial,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// Observer is notified as a run progresses. Implementations must be safe
// for concurrent use across requests.
type Observer interface {
	OnStage(requestID string, report StageReport)
	OnComplete(env *Envelope)
}
