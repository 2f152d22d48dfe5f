package sqlite

import (
	"context"
	"encoding/json"

	"github.com/intelliquery/intent-agent/internal/pipeline"
	"github.com/intelliquery/intent-agent/internal/storage/models"
)

// Record implements pipeline.Recorder.
func (c *Client) Record(ctx context.Context, pc *pipeline.Context, env *pipeline.Envelope) error {
	r, stages := RequestFromRun(pc, env)
	return c.InsertRequest(ctx, r, stages)
}

// RequestFromRun flattens a finished run into audit rows.
func RequestFromRun(pc *pipeline.Context, env *pipeline.Envelope) (*models.IntentRequest, []models.StageResult) {
	r := &models.IntentRequest{
		ID:               pc.RequestID,
		QueryText:        pc.Query.Text,
		Locale:           pc.Query.Locale,
		Success:          env.Success,
		Workspaces:       []string{},
		LLMAttempts:      pc.LLMAttempts,
		RepairAttempts:   pc.RepairAttempts,
		FallbackUsed:     pc.FallbackUsed,
		ValidationFailed: pc.ValidationFailed,
		ExemplarsCount:   len(pc.Exemplars),
		CreatedAt:        env.Timestamp,
	}
	if !pc.Query.ReceivedAt.IsZero() {
		r.LatencyMS = env.Timestamp.Sub(pc.Query.ReceivedAt).Milliseconds()
	}

	if env.Error != nil {
		r.ErrorCode = string(env.Error.Code)
		if b, err := json.Marshal(env.Error); err == nil {
			r.Response = string(b)
		}
	}
	if a := env.IntentAnalysis; a != nil {
		r.IntentType = a.IntentType
		r.Workspaces = append(r.Workspaces, a.Workspaces...)
		r.Confidence = a.Confidence
		r.QueryType = a.QueryType
		r.TimeSensitivity = a.TimeSensitivity
		if b, err := json.Marshal(a); err == nil {
			r.Response = string(b)
		}
	}
	if m := env.Metadata; m != nil {
		r.Provider = m.Provider
		r.IndexVersion = m.IndexVersion
	}

	stages := make([]models.StageResult, 0, len(pc.Reports))
	for i, rep := range pc.Reports {
		stages = append(stages, models.StageResult{
			RequestID: pc.RequestID,
			Stage:     rep.Stage,
			Position:  i,
			Success:   rep.Success,
			ErrorCode: string(rep.ErrorCode),
			Message:   rep.Message,
			ElapsedMS: rep.Seconds * 1000,
		})
	}
	return r, stages
}

var _ pipeline.Recorder = (*Client)(nil)
