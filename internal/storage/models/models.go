package models

import "time"

// IntentRequest is one audited run of the pipeline.
type IntentRequest struct {
	ID               string
	QueryText        string
	Locale           string
	Success          bool
	ErrorCode        string
	IntentType       string
	Workspaces       []string
	Confidence       float64
	QueryType        string
	TimeSensitivity  string
	Response         string
	Provider         string
	IndexVersion     uint64
	LLMAttempts      int
	RepairAttempts   int
	FallbackUsed     bool
	ValidationFailed bool
	ExemplarsCount   int
	LatencyMS        int64
	CreatedAt        time.Time
}

type StageResult struct {
	ID        int
	RequestID string
	Stage     string
	Position  int
	Success   bool
	ErrorCode string
	Message   string
	ElapsedMS float64
}

// Feedback is a user correction of an audited request.
type Feedback struct {
	ID                 int
	RequestID          string
	Correct            bool
	ExpectedIntent     string
	ExpectedWorkspaces []string
	Comment            string
	CreatedAt          time.Time
}

type EvaluationRun struct {
	ID                string
	Dataset           string
	Cases             int
	IntentAccuracy    float64
	WorkspaceAccuracy float64
	ExactMatch        float64
	FallbackRate      float64
	MeanConfidence    float64
	CreatedAt         time.Time
}

// RequestStats aggregates the audit table for the status endpoint.
type RequestStats struct {
	Total            int
	Failed           int
	Fallbacks        int
	ValidationFailed int
	MeanConfidence   float64
	MeanLatencyMS    float64
}
