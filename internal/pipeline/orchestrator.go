// Package pipeline drives a query through normalisation, retrieval, entity
// extraction, classification, remote mapping and validation. Every stage
// failure is recovered locally; Run always returns an Envelope whose
// analysis satisfies the output contract.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/intelliquery/intent-agent/internal/catalog"
	"github.com/intelliquery/intent-agent/internal/classifier"
	"github.com/intelliquery/intent-agent/internal/embedding"
	"github.com/intelliquery/intent-agent/internal/entities"
	"github.com/intelliquery/intent-agent/internal/mapper"
	"github.com/intelliquery/intent-agent/internal/precheck"
	"github.com/intelliquery/intent-agent/internal/registry"
	"github.com/intelliquery/intent-agent/internal/schema"
	"github.com/intelliquery/intent-agent/pkg/apperror"
	"github.com/intelliquery/intent-agent/pkg/logger"
)

// GenerationSource provides the live catalog and index. *registry.Registry
// implements it.
type GenerationSource interface {
	Current() *registry.Generation
	Embedder() embedding.Embedder
}

// Recorder persists finished runs, e.g. the request audit table.
type Recorder interface {
	Record(ctx context.Context, pc *Context, env *Envelope) error
}

type Config struct {
	TopK             int
	RetrievalTimeout time.Duration
	// FallbackCeiling caps the confidence of results not produced by the
	// remote model.
	FallbackCeiling float64
	RepairAttempts  int
	MaxQueryLength  int
}

func DefaultConfig() Config {
	return Config{
		TopK:             5,
		RetrievalTimeout: 3 * time.Second,
		FallbackCeiling:  0.5,
		RepairAttempts:   2,
		MaxQueryLength:   2000,
	}
}

type Deps struct {
	Source     GenerationSource
	Extractor  entities.Extractor
	Classifier *classifier.Classifier
	Mapper     *mapper.Mapper
	Recorder   Recorder
	Observers  []Observer
}

type Orchestrator struct {
	cfg        Config
	source     GenerationSource
	extractor  entities.Extractor
	classifier *classifier.Classifier
	mapper     *mapper.Mapper
	recorder   Recorder
	observers  []Observer
	log        *zap.Logger

	mu        sync.Mutex
	contracts map[*catalog.Catalog]*contract
}

// contract is the validator and pre-checker bound to one catalog.
type contract struct {
	validator *schema.Validator
	checker   *precheck.Checker
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("pipeline: generation source is required")
	}
	if deps.Extractor == nil {
		return nil, fmt.Errorf("pipeline: entity extractor is required")
	}
	if deps.Classifier == nil {
		deps.Classifier = classifier.New(classifier.DefaultConfig())
	}
	if deps.Mapper == nil {
		return nil, fmt.Errorf("pipeline: intent mapper is required")
	}

	def := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.RetrievalTimeout <= 0 {
		cfg.RetrievalTimeout = def.RetrievalTimeout
	}
	if cfg.FallbackCeiling <= 0 || cfg.FallbackCeiling > 1 {
		cfg.FallbackCeiling = def.FallbackCeiling
	}
	if cfg.RepairAttempts < 0 {
		cfg.RepairAttempts = 0
	}

	return &Orchestrator{
		cfg:        cfg,
		source:     deps.Source,
		extractor:  deps.Extractor,
		classifier: deps.Classifier,
		mapper:     deps.Mapper,
		recorder:   deps.Recorder,
		observers:  deps.Observers,
		log:        logger.Named("pipeline"),
		contracts:  make(map[*catalog.Catalog]*contract),
	}, nil
}

func (o *Orchestrator) Config() Config {
	return o.cfg
}

type runOptions struct {
	observers []Observer
	requestID string
}

type RunOption func(*runOptions)

// WithObserver adds an observer for a single run.
func WithObserver(obs Observer) RunOption {
	return func(o *runOptions) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

func WithRequestID(id string) RunOption {
	return func(o *runOptions) { o.requestID = id }
}

// run carries what a single request needs besides its Context.
type run struct {
	gen       *registry.Generation
	contract  *contract
	observers []Observer
}

// Run processes q. Only an empty or oversized query yields success=false.
func (o *Orchestrator) Run(ctx context.Context, q Query, opts ...RunOption) *Envelope {
	start := time.Now()
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	if q.ReceivedAt.IsZero() {
		q.ReceivedAt = start.UTC()
	}
	requestID := ro.requestID
	if requestID == "" {
		requestID = q.RequestID
	}
	if requestID == "" {
		requestID = uuid.New().String()
	}

	pc := &Context{Query: q, RequestID: requestID, Entities: entities.Empty()}
	r := &run{observers: append(append([]Observer(nil), o.observers...), ro.observers...)}

	if err := o.checkInput(q.Text); err != nil {
		env := o.failure(pc, err)
		o.finish(ctx, r, pc, env)
		return env
	}

	r.gen = o.generation()
	c, err := o.contractFor(r.gen.Catalog)
	if err != nil {
		// the embedded sample catalog always compiles
		o.log.Error("Failed to compile contract for catalog", zap.Error(err))
		r.gen = &registry.Generation{Catalog: catalog.Default()}
		c, _ = o.contractFor(r.gen.Catalog)
	}
	r.contract = c

	o.runStage(ctx, r, pc, StageNormalize, o.normalize)
	o.runStage(ctx, r, pc, StageRetrieve, o.retrieve)
	o.runStage(ctx, r, pc, StageExtract, o.extract)
	o.runStage(ctx, r, pc, StageClassify, o.classify)
	o.runStage(ctx, r, pc, StageMap, o.mapIntent)
	o.runStage(ctx, r, pc, StageValidate, o.validate)
	if pc.Analysis == nil {
		o.rescue(r, pc)
	}

	env := o.success(r, pc, start)
	o.finish(ctx, r, pc, env)
	return env
}

func (o *Orchestrator) checkInput(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return apperror.InvalidInput("query is required and must not be empty")
	}
	if o.cfg.MaxQueryLength > 0 && len([]rune(trimmed)) > o.cfg.MaxQueryLength {
		return apperror.InvalidInput(fmt.Sprintf("query exceeds %d characters", o.cfg.MaxQueryLength))
	}
	return nil
}

// generation returns the live generation, or a catalog-only one when the
// registry has not been built yet. Retrieval then degrades.
func (o *Orchestrator) generation() *registry.Generation {
	if gen := o.source.Current(); gen != nil && gen.Catalog != nil {
		return gen
	}
	return &registry.Generation{Catalog: catalog.Default()}
}

func (o *Orchestrator) contractFor(cat *catalog.Catalog) (*contract, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if c, ok := o.contracts[cat]; ok {
		return c, nil
	}
	v, err := schema.NewValidator(cat)
	if err != nil {
		return nil, err
	}
	c := &contract{validator: v, checker: precheck.New(cat)}
	// only the live catalog and at most one predecessor are kept
	if len(o.contracts) >= 2 {
		clear(o.contracts)
	}
	o.contracts[cat] = c
	return c, nil
}

// Validator returns the contract validator for the live catalog.
func (o *Orchestrator) Validator() (*schema.Validator, error) {
	c, err := o.contractFor(o.generation().Catalog)
	if err != nil {
		return nil, err
	}
	return c.validator, nil
}

// Precheck runs the advisory query check against the live catalog.
func (o *Orchestrator) Precheck(text string) (precheck.Report, error) {
	c, err := o.contractFor(o.generation().Catalog)
	if err != nil {
		return precheck.Report{}, err
	}
	return c.checker.Check(text), nil
}

type stageFunc func(ctx context.Context, r *run, pc *Context) error

// runStage times fn, turns a panic into a stage error and records the
// outcome. An error marks the stage as failed but never stops the run.
func (o *Orchestrator) runStage(ctx context.Context, r *run, pc *Context, name string, fn stageFunc) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = apperror.New(apperror.CodeInternal, fmt.Sprintf("stage %s panicked: %v", name, rec))
				o.log.Error("Stage panicked",
					zap.String("request_id", pc.RequestID),
					zap.String("stage", name),
					zap.Any("panic", rec),
				)
			}
		}()
		return fn(ctx, r, pc)
	}()

	elapsed := time.Since(start)
	report := StageReport{
		Stage:   name,
		Success: err == nil,
		Elapsed: elapsed,
		Seconds: elapsed.Seconds(),
	}
	if err != nil {
		report.ErrorCode = apperror.CodeOf(err)
		report.Message = err.Error()
		pc.degrade(name, err)
		o.log.Warn("Stage degraded",
			zap.String("request_id", pc.RequestID),
			zap.String("stage", name),
			zap.String("code", string(report.ErrorCode)),
			zap.Error(err),
		)
	} else {
		o.log.Debug("Stage completed",
			zap.String("request_id", pc.RequestID),
			zap.String("stage", name),
			zap.Duration("elapsed", elapsed),
		)
	}
	pc.Reports = append(pc.Reports, report)

	for _, obs := range r.observers {
		obs.OnStage(pc.RequestID, report)
	}
}

func (o *Orchestrator) failure(pc *Context, err error) *Envelope {
	code := apperror.CodeOf(err)
	msg := err.Error()
	var ae *apperror.Error
	if errors.As(err, &ae) {
		msg = ae.Message
	}
	o.log.Warn("Rejected query", zap.String("request_id", pc.RequestID), zap.String("code", string(code)))
	return &Envelope{
		Success: false,
		Query:   pc.Query.Text,
		Error:   &ErrorInfo{Code: code, Message: msg},
		Partial: &Partial{
			Normalized: pc.Normalized,
			Stages:     append([]StageReport{}, pc.Reports...),
		},
		Timestamp: time.Now().UTC(),
	}
}

func (o *Orchestrator) success(r *run, pc *Context, start time.Time) *Envelope {
	meta := &Metadata{
		RequestID:          pc.RequestID,
		PipelineComponents: make(map[string]bool, len(Stages)),
		StageTimings:       make(map[string]float64, len(Stages)),
		ProcessingTime:     time.Since(start).Seconds(),
		LLMAttempts:        pc.LLMAttempts,
		RepairAttempts:     pc.RepairAttempts,
		RepairedFields:     append([]string{}, pc.Repaired...),
		FallbackUsed:       pc.FallbackUsed,
		ValidationFailed:   pc.ValidationFailed,
		Degradations:       append([]Degradation{}, pc.Degradations...),
		ExemplarsRetrieved: len(pc.Exemplars),
		Provider:           o.mapper.Provider().Name(),
		IndexVersion:       r.gen.Version,
		Locale:             pc.Query.Locale,
		Timestamp:          time.Now().UTC(),
	}
	for _, rep := range pc.Reports {
		meta.PipelineComponents[rep.Stage] = rep.Success
		meta.StageTimings[rep.Stage] = rep.Seconds
	}
	if cls := pc.Classification; cls != nil {
		meta.Classifier = &ClassifierMetadata{
			Intent:          cls.Intent,
			Workspaces:      cls.Workspaces,
			Confidence:      cls.Confidence,
			Default:         cls.Default,
			IntentScores:    cls.IntentScores,
			WorkspaceScores: cls.WorkspaceScores,
		}
	}

	report := r.contract.checker.Check(pc.Query.Text)
	return &Envelope{
		Success:        true,
		Query:          pc.Query.Text,
		IntentAnalysis: pc.Analysis,
		Metadata:       meta,
		Validation:     &report,
		Timestamp:      meta.Timestamp,
	}
}

func (o *Orchestrator) finish(ctx context.Context, r *run, pc *Context, env *Envelope) {
	if env.Success {
		o.log.Info("Intent analysis completed",
			zap.String("request_id", pc.RequestID),
			zap.String("intent_type", env.IntentAnalysis.IntentType),
			zap.Strings("workspaces", env.IntentAnalysis.Workspaces),
			zap.Float64("confidence", env.IntentAnalysis.Confidence),
			zap.Bool("fallback_used", pc.FallbackUsed),
			zap.Float64("processing_time", env.Metadata.ProcessingTime),
		)
	}

	for _, obs := range r.observers {
		obs.OnComplete(env)
	}

	if o.recorder != nil {
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := o.recorder.Record(recCtx, pc, env); err != nil {
			o.log.Warn("Failed to record request", zap.String("request_id", pc.RequestID), zap.Error(err))
		}
	}
}
