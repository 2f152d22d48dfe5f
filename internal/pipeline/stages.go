package pipeline

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/intelliquery/intent-agent/internal/classifier"
	"github.com/intelliquery/intent-agent/internal/index"
	"github.com/intelliquery/intent-agent/internal/mapper"
	"github.com/intelliquery/intent-agent/internal/schema"
	"github.com/intelliquery/intent-agent/pkg/apperror"
)

// FallbackRationalePrefix starts the rationale of every analysis built from
// classifier output alone.
const FallbackRationalePrefix = "LLM unavailable, classifier fallback: "

// normalize applies NFKC so compatibility forms (full-width letters,
// ligatures) match catalog keywords, then collapses whitespace.
func (o *Orchestrator) normalize(_ context.Context, _ *run, pc *Context) error {
	pc.Normalized = strings.Join(strings.Fields(norm.NFKC.String(pc.Query.Text)), " ")
	pc.Folded = classifier.Fold(pc.Normalized)
	return nil
}

func (o *Orchestrator) retrieve(ctx context.Context, r *run, pc *Context) error {
	idx := r.gen.Index
	if idx == nil || idx.Len() == 0 {
		return apperror.Wrap(apperror.CodeRetrievalUnavailable, "similarity index is empty", index.ErrEmptyIndex)
	}
	embedder := o.source.Embedder()
	if embedder == nil {
		return apperror.New(apperror.CodeRetrievalUnavailable, "no embedder configured")
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RetrievalTimeout)
	defer cancel()

	vec, err := embedder.Embed(ctx, pc.Normalized)
	if err != nil {
		return apperror.Wrap(apperror.CodeRetrievalUnavailable, "failed to embed query", err)
	}
	matches, err := idx.Search(ctx, vec, o.cfg.TopK)
	if err != nil {
		return apperror.Wrap(apperror.CodeRetrievalUnavailable, "similarity search failed", err)
	}
	pc.Exemplars = matches
	return nil
}

func (o *Orchestrator) extract(ctx context.Context, _ *run, pc *Context) error {
	ents, err := o.extractor.Extract(ctx, pc.Normalized)
	ents.Normalize()
	pc.Entities = ents
	if err != nil {
		if apperror.Is(err, apperror.CodeExtractionDegraded) {
			return err
		}
		return apperror.Wrap(apperror.CodeExtractionDegraded, "entity extraction failed", err)
	}
	return nil
}

func (o *Orchestrator) classify(_ context.Context, r *run, pc *Context) error {
	pc.Classification = o.classifier.Classify(r.gen.Catalog, pc.Folded, pc.Exemplars, pc.Entities)
	if pc.Classification.Default {
		pc.degrade(StageClassify, apperror.New(apperror.CodeClassificationDefault,
			"no workspace signal, using catalog default "+pc.Classification.Workspaces[0]))
	}
	return nil
}

// classification returns the classifier result, computing the no-signal
// default when the classify stage did not produce one.
func (o *Orchestrator) classification(r *run, pc *Context) *classifier.Result {
	if pc.Classification == nil {
		pc.Classification = o.classifier.Classify(r.gen.Catalog, "", nil, pc.Entities)
	}
	return pc.Classification
}

func (o *Orchestrator) mapperInput(r *run, pc *Context) mapper.Input {
	return mapper.Input{
		Query:          pc.Normalized,
		Catalog:        r.gen.Catalog,
		Exemplars:      pc.Exemplars,
		Entities:       pc.Entities,
		Classification: o.classification(r, pc),
	}
}

func (o *Orchestrator) mapIntent(ctx context.Context, r *run, pc *Context) error {
	if !o.mapper.Enabled() {
		o.fallback(r, pc)
		return apperror.New(apperror.CodeRemoteCallFailed, "remote model is disabled")
	}

	out, err := o.mapper.Map(ctx, o.mapperInput(r, pc))
	pc.LLMAttempts = len(out.Attempts)
	pc.RawOutput = out.Raw
	if err != nil {
		o.fallback(r, pc)
		return err
	}
	pc.Candidate = out.Candidate
	pc.LLMMapped = true
	return nil
}

// fallback synthesises the candidate from classifier output with the
// confidence capped at the fallback ceiling.
func (o *Orchestrator) fallback(r *run, pc *Context) {
	cls := o.classification(r, pc)
	pc.FallbackUsed = true
	pc.Candidate = schema.FromAnalysis(schema.IntentAnalysis{
		IntentType:      cls.Intent,
		Workspaces:      cls.Workspaces,
		Entities:        pc.Entities,
		Confidence:      math.Min(cls.Confidence, o.cfg.FallbackCeiling),
		Rationale:       FallbackRationalePrefix + cls.Summary(),
		QueryType:       cls.QueryType,
		TimeSensitivity: cls.TimeSensitivity,
	})
}

func (o *Orchestrator) defaults(r *run, pc *Context) schema.Defaults {
	cls := o.classification(r, pc)
	return schema.Defaults{
		IntentType:      cls.Intent,
		Workspaces:      cls.Workspaces,
		Entities:        pc.Entities,
		Rationale:       "Classifier hints: " + cls.Summary(),
		QueryType:       cls.QueryType,
		TimeSensitivity: cls.TimeSensitivity,
	}
}

func (o *Orchestrator) validate(ctx context.Context, r *run, pc *Context) error {
	v := r.contract.validator
	d := o.defaults(r, pc)

	c, changed := v.Repair(pc.Candidate, d)
	pc.Repaired = changed
	violations := v.Validate(c)

	for len(violations) > 0 && pc.RepairAttempts < o.cfg.RepairAttempts && o.mapper.Enabled() {
		pc.RepairAttempts++
		pc.degrade(StageValidate, apperror.New(apperror.CodeValidationViolation, "model output violates the contract").
			WithViolations(violations))

		fixed, raw, err := o.mapper.Repair(ctx, o.mapperInput(r, pc), c, violations)
		if raw != "" {
			pc.RawOutput = raw
		}
		if err != nil {
			pc.degrade(StageValidate, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		c, changed = v.Repair(fixed, d)
		pc.Repaired = mergeFields(pc.Repaired, changed)
		violations = v.Validate(c)
	}

	var stageErr error
	var analysis schema.IntentAnalysis
	if len(violations) > 0 {
		pc.Violations = violations
		pc.ValidationFailed = true
		analysis = v.BestEffort(c, d)
		stageErr = apperror.New(apperror.CodeRepairExhausted, "output could not be repaired, best-effort result returned").
			WithViolations(violations)
	} else {
		var err error
		analysis, err = v.Finalize(c)
		if err != nil {
			pc.ValidationFailed = true
			analysis = v.BestEffort(c, d)
			stageErr = apperror.Wrap(apperror.CodeValidationViolation, "failed to finalise analysis", err)
		}
	}

	if pc.FallbackUsed || !pc.LLMMapped {
		analysis.Confidence = math.Min(analysis.Confidence, o.cfg.FallbackCeiling)
	}

	// final guard against the generated JSON Schema
	docViolations, err := v.CheckDocument(analysis)
	if err != nil || len(docViolations) > 0 {
		o.log.Error("Analysis failed the JSON schema guard",
			zap.String("request_id", pc.RequestID),
			zap.Any("violations", docViolations),
			zap.Error(err),
		)
		pc.ValidationFailed = true
		analysis = v.BestEffort(nil, d)
		if stageErr == nil {
			stageErr = apperror.New(apperror.CodeValidationViolation, "analysis failed the schema guard").
				WithViolations(docViolations)
		}
	}

	pc.Analysis = &analysis
	return stageErr
}

func mergeFields(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, f := range b {
		found := false
		for _, x := range out {
			if x == f {
				found = true
				break
			}
		}
		if !found {
			out = append(out, f)
		}
	}
	return out
}

// rescue produces a best-effort analysis when the validate stage itself
// failed to leave one behind.
func (o *Orchestrator) rescue(r *run, pc *Context) {
	a := r.contract.validator.BestEffort(pc.Candidate, o.defaults(r, pc))
	pc.ValidationFailed = true
	pc.Analysis = &a
}
