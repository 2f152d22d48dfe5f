package evaluation

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/intelliquery/intent-agent/internal/pipeline"
	"github.com/intelliquery/intent-agent/internal/schema"
	"github.com/intelliquery/intent-agent/internal/storage/models"
	"github.com/intelliquery/intent-agent/pkg/logger"
)

// Runner executes one query. *pipeline.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, q pipeline.Query, opts ...pipeline.RunOption) *pipeline.Envelope
}

// RunStore persists evaluation summaries. *sqlite.Client implements it.
type RunStore interface {
	InsertEvaluationRun(ctx context.Context, run *models.EvaluationRun) error
}

type Evaluator struct {
	runner Runner
	store  RunStore
}

type EvaluationDataset struct {
	Name  string        `yaml:"name" json:"name"`
	Items []DatasetItem `yaml:"items" json:"items"`
}

type DatasetItem struct {
	Query              string   `yaml:"query" json:"query"`
	ExpectedIntent     string   `yaml:"expected_intent" json:"expected_intent"`
	ExpectedWorkspaces []string `yaml:"expected_workspaces" json:"expected_workspaces"`
	Category           string   `yaml:"category" json:"category"`
}

// CaseResult is the outcome of a single dataset item.
type CaseResult struct {
	Query            string
	Category         string
	ExpectedIntent   string
	ActualIntent     string
	ExpectedSpaces   []string
	ActualSpaces     []string
	IntentMatch      bool
	WorkspaceMatch   bool
	Confidence       float64
	FallbackUsed     bool
	ValidationFailed bool
	Failed           bool
	ErrorCode        string
}

type CategoryStats struct {
	Cases          int
	IntentCorrect  int
	IntentAccuracy float64
}

type EvaluationReport struct {
	Dataset           string
	TotalQueries      int
	Failed            int
	IntentCorrect     int
	WorkspaceCorrect  int
	ExactMatches      int
	Fallbacks         int
	IntentAccuracy    float64
	WorkspaceAccuracy float64
	ExactMatch        float64
	FallbackRate      float64
	MeanConfidence    float64
	Categories        map[string]*CategoryStats
	Cases             []CaseResult
}

// NewEvaluator builds an evaluator. store may be nil.
func NewEvaluator(runner Runner, store RunStore) *Evaluator {
	return &Evaluator{
		runner: runner,
		store:  store,
	}
}

// EvaluateQuery runs one labelled query and compares it to its labels.
// Workspaces match when the expected set equals the returned set, ignoring
// order. An item without expected workspaces matches any workspace set.
func (e *Evaluator) EvaluateQuery(ctx context.Context, queryID string, item DatasetItem) CaseResult {
	env := e.runner.Run(ctx, pipeline.Query{
		Text:       item.Query,
		Metadata:   map[string]any{"evaluation": true},
		ReceivedAt: time.Now().UTC(),
	}, pipeline.WithRequestID(queryID))

	result := CaseResult{
		Query:          item.Query,
		Category:       item.Category,
		ExpectedIntent: strings.ToLower(strings.TrimSpace(item.ExpectedIntent)),
		ExpectedSpaces: item.ExpectedWorkspaces,
	}

	if !env.Success || env.IntentAnalysis == nil {
		result.Failed = true
		if env.Error != nil {
			result.ErrorCode = string(env.Error.Code)
		}
		return result
	}

	a := env.IntentAnalysis
	result.ActualIntent = a.IntentType
	result.ActualSpaces = a.Workspaces
	result.Confidence = a.Confidence
	result.IntentMatch = result.ExpectedIntent == a.IntentType
	result.WorkspaceMatch = len(item.ExpectedWorkspaces) == 0 || sameSet(item.ExpectedWorkspaces, a.Workspaces)
	if env.Metadata != nil {
		result.FallbackUsed = env.Metadata.FallbackUsed
		result.ValidationFailed = env.Metadata.ValidationFailed
	}
	return result
}

func (e *Evaluator) RunDatasetEvaluation(ctx context.Context, dataset *EvaluationDataset) (*EvaluationReport, error) {
	if dataset == nil || len(dataset.Items) == 0 {
		return nil, fmt.Errorf("dataset has no items")
	}
	logger.Info("Running dataset evaluation",
		zap.String("dataset", dataset.Name),
		zap.Int("items", len(dataset.Items)),
	)

	report := &EvaluationReport{
		Dataset:      dataset.Name,
		TotalQueries: len(dataset.Items),
		Categories:   make(map[string]*CategoryStats),
		Cases:        make([]CaseResult, 0, len(dataset.Items)),
	}

	var totalConfidence float64
	runID := uuid.NewString()

	for i, item := range dataset.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logger.Debug("Evaluating item", zap.Int("index", i+1), zap.Int("total", len(dataset.Items)))

		result := e.EvaluateQuery(ctx, fmt.Sprintf("eval_%s_%d", runID[:8], i), item)
		report.Cases = append(report.Cases, result)

		category := item.Category
		if category == "" {
			category = "uncategorized"
		}
		stats, ok := report.Categories[category]
		if !ok {
			stats = &CategoryStats{}
			report.Categories[category] = stats
		}
		stats.Cases++

		if result.Failed {
			report.Failed++
			logger.Warn("Evaluation query failed",
				zap.String("query", item.Query),
				zap.String("code", result.ErrorCode),
			)
			continue
		}

		if result.IntentMatch {
			report.IntentCorrect++
			stats.IntentCorrect++
		}
		if result.WorkspaceMatch {
			report.WorkspaceCorrect++
		}
		if result.IntentMatch && result.WorkspaceMatch {
			report.ExactMatches++
		}
		if result.FallbackUsed {
			report.Fallbacks++
		}
		totalConfidence += result.Confidence
	}

	n := float64(report.TotalQueries)
	report.IntentAccuracy = float64(report.IntentCorrect) / n
	report.WorkspaceAccuracy = float64(report.WorkspaceCorrect) / n
	report.ExactMatch = float64(report.ExactMatches) / n
	report.FallbackRate = float64(report.Fallbacks) / n
	if answered := report.TotalQueries - report.Failed; answered > 0 {
		report.MeanConfidence = totalConfidence / float64(answered)
	}
	for _, stats := range report.Categories {
		stats.IntentAccuracy = float64(stats.IntentCorrect) / float64(stats.Cases)
	}

	logger.Info("Dataset evaluation completed",
		zap.Float64("intent_accuracy", report.IntentAccuracy),
		zap.Float64("workspace_accuracy", report.WorkspaceAccuracy),
		zap.Float64("fallback_rate", report.FallbackRate),
	)

	if e.store != nil {
		run := &models.EvaluationRun{
			ID:                runID,
			Dataset:           dataset.Name,
			Cases:             report.TotalQueries,
			IntentAccuracy:    report.IntentAccuracy,
			WorkspaceAccuracy: report.WorkspaceAccuracy,
			ExactMatch:        report.ExactMatch,
			FallbackRate:      report.FallbackRate,
			MeanConfidence:    report.MeanConfidence,
			CreatedAt:         time.Now().UTC(),
		}
		if err := e.store.InsertEvaluationRun(ctx, run); err != nil {
			return report, fmt.Errorf("failed to store evaluation run: %w", err)
		}
	}

	return report, nil
}

// LoadDataset reads a YAML or JSON dataset file.
func LoadDataset(path string) (*EvaluationDataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	dataset, err := ParseDataset(data)
	if err != nil {
		return nil, err
	}
	if dataset.Name == "" {
		dataset.Name = path
	}
	return dataset, nil
}

// ParseDataset decodes a dataset and checks every label against the output
// contract.
func ParseDataset(data []byte) (*EvaluationDataset, error) {
	var dataset EvaluationDataset
	if err := yaml.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	for i, item := range dataset.Items {
		if strings.TrimSpace(item.Query) == "" {
			return nil, fmt.Errorf("item %d: query is empty", i)
		}
		intent := strings.ToLower(strings.TrimSpace(item.ExpectedIntent))
		if !schema.IsIntentType(intent) {
			return nil, fmt.Errorf("item %d: unknown expected_intent %q", i, item.ExpectedIntent)
		}
	}
	return &dataset, nil
}

func (e *Evaluator) GenerateReport(report *EvaluationReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, `
Evaluation Report
=================

Dataset: %s
Total Queries: %d (failed: %d)

Accuracy:
- Intent: %.1f%% (%d)
- Workspaces: %.1f%% (%d)
- Exact Match: %.1f%% (%d)

Fallback Rate: %.1f%%
Mean Confidence: %.3f
`,
		report.Dataset,
		report.TotalQueries, report.Failed,
		report.IntentAccuracy*100, report.IntentCorrect,
		report.WorkspaceAccuracy*100, report.WorkspaceCorrect,
		report.ExactMatch*100, report.ExactMatches,
		report.FallbackRate*100,
		report.MeanConfidence,
	)

	if len(report.Categories) > 0 {
		b.WriteString("\nBy Category:\n")
		names := make([]string, 0, len(report.Categories))
		for name := range report.Categories {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s := report.Categories[name]
			fmt.Fprintf(&b, "- %s: %.1f%% (%d/%d)\n", name, s.IntentAccuracy*100, s.IntentCorrect, s.Cases)
		}
	}

	var misses []CaseResult
	for _, c := range report.Cases {
		if c.Failed || !c.IntentMatch || !c.WorkspaceMatch {
			misses = append(misses, c)
		}
	}
	if len(misses) > 0 {
		b.WriteString("\nMisses:\n")
		for _, c := range misses {
			if c.Failed {
				fmt.Fprintf(&b, "- %q: failed (%s)\n", c.Query, c.ErrorCode)
				continue
			}
			fmt.Fprintf(&b, "- %q: expected %s %v, got %s %v\n",
				c.Query, c.ExpectedIntent, c.ExpectedSpaces, c.ActualIntent, c.ActualSpaces)
		}
	}
	return b.String()
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, v := range a {
		seen[strings.ToLower(v)]++
	}
	for _, v := range b {
		k := strings.ToLower(v)
		if seen[k] == 0 {
			return false
		}
		seen[k]--
	}
	return true
}
