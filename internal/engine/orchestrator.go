package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/yangwenmai/copydeck/internal/cache"
	"github.com/yangwenmai/copydeck/internal/grounding"
	"github.com/yangwenmai/copydeck/internal/guard"
	"github.com/yangwenmai/copydeck/internal/model"
	"github.com/yangwenmai/copydeck/internal/observability"
	"github.com/yangwenmai/copydeck/internal/progress"
)

// Run outcomes reported to metrics.
const (
	OutcomeGenerated = "generated"
	OutcomeDegraded  = "degraded"
	OutcomeCacheHit  = "cache_hit"
	OutcomeCancelled = "cancelled"
	OutcomeInvalid   = "invalid"
)

var (
	tracer   = otel.Tracer("copydeck/engine")
	validate = validator.New(validator.WithRequiredStructEnabled())
)

// ValidateRequest checks a normalized request.
func ValidateRequest(req model.GenerateRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// Options wires an Orchestrator. Provider is required; every other field
// has a usable default.
type Options struct {
	Provider     Provider
	Extractor    ContentExtractor
	Cache        *cache.Cache
	Guard        *guard.Guard
	Classifier   *grounding.Classifier
	Policy       guard.ConfidencePolicy
	QualityLevel guard.Level
	Plan         *Plan
	Retry        RetryPolicy
	Limiter      *rate.Limiter
	Metrics      *observability.Metrics
	Logger       *slog.Logger
	CacheTTL     time.Duration
	// MaxPrimaryText caps the product page text included in prompts, in runes.
	MaxPrimaryText int
	Now            func() time.Time
	NewID          func() string
}

// Orchestrator runs generation requests through the stage plan.
type Orchestrator struct {
	provider   Provider
	extractor  ContentExtractor
	cache      *cache.Cache
	guard      *guard.Guard
	classifier *grounding.Classifier
	policy     guard.ConfidencePolicy
	level      guard.Level
	plan       *Plan
	retry      RetryPolicy
	limiter    *rate.Limiter
	metrics    *observability.Metrics
	log        *slog.Logger
	cacheTTL   time.Duration
	maxPrimary int
	now        func() time.Time
	newID      func() string
}

// NewOrchestrator creates an orchestrator from opts.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Provider == nil {
		return nil, errors.New("orchestrator: provider is required")
	}
	o := &Orchestrator{
		provider:   opts.Provider,
		extractor:  opts.Extractor,
		cache:      opts.Cache,
		guard:      opts.Guard,
		classifier: opts.Classifier,
		policy:     opts.Policy,
		level:      opts.QualityLevel,
		plan:       opts.Plan,
		retry:      opts.Retry.withDefaults(),
		limiter:    opts.Limiter,
		metrics:    opts.Metrics,
		log:        opts.Logger,
		cacheTTL:   opts.CacheTTL,
		maxPrimary: opts.MaxPrimaryText,
		now:        opts.Now,
		newID:      opts.NewID,
	}
	if o.guard == nil {
		o.guard = guard.New(nil)
	}
	if o.classifier == nil {
		o.classifier = grounding.NewClassifier(grounding.DefaultAllowLists())
	}
	if o.policy == nil {
		o.policy = guard.GradedPolicy{}
	}
	if o.level == "" {
		o.level = guard.LevelStandard
	}
	if o.plan == nil {
		p, err := NewPlan(DefaultStages())
		if err != nil {
			return nil, err
		}
		o.plan = p
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.maxPrimary <= 0 {
		o.maxPrimary = DefaultMaxTextLength
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = func() string { return uuid.New().String() }
	}
	return o, nil
}

// Plan returns the stage plan the orchestrator runs.
func (o *Orchestrator) Plan() *Plan {
	return o.plan
}

// Outcome is a finished run. Raw holds the encoded Result exactly as it was
// cached, so cache hits are byte-identical to the original run.
type Outcome struct {
	Result    *model.Result
	Raw       []byte
	CacheHit  bool
	CacheTier cache.Tier
	State     progress.State
}

// stageOutcome is what one dispatched stage hands back to the group barrier.
type stageOutcome struct {
	result model.StageResult
	report *groundingReport
}

// groundingReport is produced by the local grounding stage.
type groundingReport struct {
	metadata   model.GroundingMetadata
	score      model.GroundingQualityScore
	confidence model.Confidence
}

// Run generates content for req, reporting progress to l (which may be nil).
// Stage failures degrade the stage and never fail the run; only an invalid
// request or cancellation returns an error, always a *RunError.
func (o *Orchestrator) Run(ctx context.Context, req model.GenerateRequest, l progress.Listener) (*Outcome, error) {
	started := o.now()
	runID := o.newID()
	tracker := progress.NewTracker(runID, o.plan.Weights(), l, progress.WithClock(o.now))
	log := o.log.With("run_id", runID)

	ctx, span := tracer.Start(ctx, "engine.Run", trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	req = req.Normalize()
	if err := ValidateRequest(req); err != nil {
		tracker.Error(err)
		o.metrics.ObserveRun(OutcomeInvalid)
		span.SetStatus(codes.Error, err.Error())
		return nil, &RunError{Err: err, State: tracker.Snapshot()}
	}

	key := cache.Fingerprint(req)
	span.SetAttributes(attribute.String("run.fingerprint", key))

	if out := o.lookup(ctx, key, tracker, log); out != nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return out, nil
	}

	var primary *ExtractedContent
	if req.ProductURL != "" && o.extractor != nil {
		primary = o.extract(ctx, req.ProductURL, log)
	}

	results := make(map[model.StageID]model.StageResult, len(o.plan.Stages()))
	var report *groundingReport
	for _, group := range o.plan.Groups() {
		if ctx.Err() != nil {
			return nil, o.cancelled(ctx, tracker, span, log)
		}

		outs := make([]stageOutcome, len(group))
		var g errgroup.Group
		for i, id := range group {
			spec, _ := o.plan.Spec(id)
			in := StageInput{Request: req, Deps: depsOf(spec, results), Primary: primary}
			g.Go(func() error {
				outs[i] = o.runStage(ctx, tracker, spec, in, log)
				return nil
			})
		}
		_ = g.Wait()

		if ctx.Err() != nil {
			return nil, o.cancelled(ctx, tracker, span, log)
		}
		for i, id := range group {
			results[id] = outs[i].result
			if outs[i].report != nil {
				report = outs[i].report
			}
		}
	}
	if report == nil {
		// Plans without a grounding stage are still scored.
		r := o.assessGrounding(results, primary)
		report = &r
	}

	res := &model.Result{
		RunID:       runID,
		Fingerprint: key,
		Request:     req,
		Stages:      completeStages(results),
		Grounding:   report.metadata,
		Score:       report.score,
		Confidence:  report.confidence,
		Degraded:    []model.StageID{},
		GeneratedAt: o.now().UTC().Format(time.RFC3339),
	}
	for _, id := range o.plan.Stages() {
		if res.Stages[id].Degraded() {
			res.Degraded = append(res.Degraded, id)
		}
	}
	res.DurationMS = o.now().Sub(started).Milliseconds()

	raw, err := json.Marshal(res)
	if err != nil {
		// Only reachable through a model change; the run itself succeeded.
		tracker.Error(err)
		return nil, &RunError{Err: fmt.Errorf("encode result: %w", err), State: tracker.Snapshot()}
	}
	if o.cache != nil {
		if err := o.cache.Set(ctx, key, raw, o.cacheTTL); err != nil {
			log.Warn("cache write failed", "fingerprint", key, "error", err)
		}
	}

	tracker.Complete(res)
	outcome := OutcomeGenerated
	if len(res.Degraded) > 0 {
		outcome = OutcomeDegraded
	}
	o.metrics.ObserveRun(outcome)
	span.SetAttributes(
		attribute.Bool("cache.hit", false),
		attribute.Int("run.degraded", len(res.Degraded)),
		attribute.Float64("grounding.score", res.Score.Total),
	)
	log.Info("run complete",
		"fingerprint", key,
		"degraded", len(res.Degraded),
		"score", res.Score.Total,
		"confidence", res.Confidence,
		"duration_ms", res.DurationMS,
	)
	return &Outcome{Result: res, Raw: raw, State: tracker.Snapshot()}, nil
}

// lookup returns the cached outcome for key, or nil on a miss. Lookup
// errors and undecodable entries are treated as misses.
func (o *Orchestrator) lookup(ctx context.Context, key string, tracker *progress.Tracker, log *slog.Logger) *Outcome {
	if o.cache == nil {
		return nil
	}
	look, err := o.cache.Get(ctx, key)
	if err != nil {
		log.Warn("cache lookup failed", "fingerprint", key, "error", err)
		return nil
	}
	if !look.Hit {
		return nil
	}
	var res model.Result
	if err := json.Unmarshal(look.Value, &res); err != nil {
		log.Warn("discarding undecodable cache entry", "fingerprint", key, "error", err)
		return nil
	}
	tracker.CacheHit(&res)
	o.metrics.ObserveRun(OutcomeCacheHit)
	log.Info("cache hit", "fingerprint", key, "tier", look.Tier)
	return &Outcome{
		Result:    &res,
		Raw:       look.Value,
		CacheHit:  true,
		CacheTier: look.Tier,
		State:     tracker.Snapshot(),
	}
}

func (o *Orchestrator) extract(ctx context.Context, url string, log *slog.Logger) *ExtractedContent {
	ctx, span := tracer.Start(ctx, "engine.extract")
	defer span.End()
	content, err := o.extractor.Extract(ctx, url)
	if err != nil {
		log.Warn("primary source extraction failed", "url", url, "error", err)
		span.SetStatus(codes.Error, err.Error())
		return nil
	}
	if content.URL == "" {
		content.URL = url
	}
	log.Info("primary source extracted", "url", url, "words", content.Meta.WordCount)
	return content
}

func (o *Orchestrator) cancelled(ctx context.Context, tracker *progress.Tracker, span trace.Span, log *slog.Logger) error {
	err := fmt.Errorf("%w: %w", ErrRunCancelled, context.Cause(ctx))
	tracker.Error(err)
	o.metrics.ObserveRun(OutcomeCancelled)
	span.SetStatus(codes.Error, err.Error())
	log.Info("run cancelled", "error", err)
	return &RunError{Err: err, State: tracker.Snapshot()}
}

// runStage executes one stage. A stage that fails after its retries
// degrades to the fallback payload; if the run was cancelled meanwhile the
// result is discarded by the caller.
func (o *Orchestrator) runStage(ctx context.Context, tracker *progress.Tracker, spec StageSpec, in StageInput, log *slog.Logger) stageOutcome {
	id := spec.ID
	start := o.now()
	ctx, span := tracer.Start(ctx, "engine.stage", trace.WithAttributes(attribute.String("stage", string(id))))
	defer span.End()

	tracker.StartStage(id)

	if spec.Local {
		report := o.assessGrounding(in.Deps, in.Primary)
		res := groundingStageResult(report)
		res.DurationMS = o.now().Sub(start).Milliseconds()
		tracker.CompleteStage(id, res)
		o.metrics.ObserveStage(string(id), res.Status, o.now().Sub(start), 0)
		return stageOutcome{result: res, report: &report}
	}

	prompt := buildStagePrompt(id, in, o.maxPrimary)
	tracker.UpdateProgress(id, 10, fmt.Sprintf("Generating %s", id))
	comp, attempts, err := callWithRetry(ctx, o.provider, prompt, o.retry, o.limiter, func(n retryNotice) {
		pct := 10 + 70*n.Attempt/o.retry.MaxAttempts
		tracker.UpdateProgress(id, pct, fmt.Sprintf("Retrying %s after attempt %d", id, n.Attempt))
		log.Warn("stage attempt failed, retrying",
			"stage", id,
			"attempt", n.Attempt,
			"wait", n.Wait,
			"error", n.Err,
		)
	})

	res := model.StageResult{
		Stage:    id,
		Sources:  []model.Citation{},
		Attempts: attempts,
		Retries:  max(attempts-1, 0),
	}
	if err != nil {
		if ctx.Err() != nil {
			res.Status = model.StatusFailed
			res.Error = err.Error()
			return stageOutcome{result: res}
		}
		stageErr := &StageError{Stage: id, Err: err}
		res.Status = model.StatusDegraded
		res.Error = stageErr.Error()
		res.Payload = Fallback(id, in.Request)
		tracker.FailStage(id, stageErr)
		span.SetStatus(codes.Error, stageErr.Error())
		log.Warn("stage degraded", "stage", id, "attempts", attempts, "error", err)
	} else {
		res.Status = model.StatusSucceeded
		res.Payload = model.StagePayload{Text: comp.Text, Items: comp.Items}
		if len(comp.Sources) > 0 {
			res.Sources = comp.Sources
		}
	}

	tracker.UpdateProgress(id, 90, fmt.Sprintf("Checking %s", id))
	o.applyGuard(&res)
	if res.Sanitized {
		log.Info("fabricated claims sanitized", "stage", id, "findings", len(res.Findings))
	}

	d := o.now().Sub(start)
	res.DurationMS = d.Milliseconds()
	span.SetAttributes(attribute.Int("stage.attempts", attempts), attribute.String("stage.status", res.Status))
	tracker.CompleteStage(id, res)
	o.metrics.ObserveStage(string(id), res.Status, d, res.Retries)
	return stageOutcome{result: res}
}

// applyGuard scans every text block of res. Blocks with hard findings are
// replaced by their sanitized form; the quality verdict is taken after.
func (o *Orchestrator) applyGuard(res *model.StageResult) {
	passed := true
	check := func(text string) string {
		if text == "" {
			return text
		}
		fc := o.guard.Check(text)
		res.Findings = append(res.Findings, fc.Violations...)
		if fc.HasHard() {
			if clean, changed, _ := o.guard.Sanitize(text); changed {
				text = clean
				res.Sanitized = true
			}
		}
		if !o.guard.PassesQualityGate(text, o.level) {
			passed = false
		}
		return text
	}

	res.Payload.Text = check(res.Payload.Text)
	if len(res.Payload.Items) > 0 {
		items := make([]model.PayloadItem, len(res.Payload.Items))
		for i, it := range res.Payload.Items {
			it.Title = check(it.Title)
			it.Body = check(it.Body)
			items[i] = it
		}
		res.Payload.Items = items
	}
	res.QualityPassed = passed
}

// assessGrounding aggregates the citations of the content stages, scores
// them and assigns the confidence label. A stage is grounded when it has
// stage-level sources or at least one item with source URLs; every item
// counts as a claim.
func (o *Orchestrator) assessGrounding(stages map[model.StageID]model.StageResult, primary *ExtractedContent) groundingReport {
	perStage := make(map[model.StageID][]model.Citation, len(model.ContentStages))
	in := grounding.Input{TotalSections: len(model.ContentStages)}
	sanitized := 0

	for _, id := range model.ContentStages {
		r, ok := stages[id]
		if !ok {
			continue
		}
		if r.Sanitized {
			sanitized++
		}
		cites := append([]model.Citation(nil), r.Sources...)
		length := r.Payload.RuneLength()
		in.ContentLength += length

		grounded := len(r.Sources) > 0
		if grounded {
			in.CitedLength += length
		}
		for _, it := range r.Payload.Items {
			in.TotalClaims++
			if len(it.SourceURLs) == 0 {
				continue
			}
			in.ClaimsWithSources++
			if len(r.Sources) == 0 {
				in.CitedLength += len([]rune(it.Title)) + len([]rune(it.Body))
			}
			grounded = true
			for _, u := range it.SourceURLs {
				cites = append(cites, model.Citation{URI: u})
			}
		}
		if grounded {
			in.SectionsGrounded++
		}
		if len(cites) > 0 {
			perStage[id] = cites
		}
	}

	meta := o.classifier.Aggregate(perStage)
	in.Sources = meta.Sources
	score := grounding.Score(in)

	evidence := guard.NewEvidence(meta.Sources, primary != nil && primary.NormalizedText != "")
	confidence := guard.AdjustForFindings(o.policy.Assess(evidence), sanitized)

	return groundingReport{metadata: meta, score: score, confidence: confidence}
}

func groundingStageResult(r groundingReport) model.StageResult {
	cites := make([]model.Citation, 0, len(r.metadata.Sources))
	for _, s := range r.metadata.Sources {
		cites = append(cites, model.Citation{URI: s.URI, Title: s.Title})
	}
	return model.StageResult{
		Stage:  model.StageGrounding,
		Status: model.StatusSucceeded,
		Payload: model.StagePayload{
			Text: fmt.Sprintf("%d sources, score %.2f/10, confidence %s",
				len(r.metadata.Sources), r.score.Total, r.confidence),
		},
		Sources:       cites,
		Attempts:      1,
		QualityPassed: true,
	}
}

func depsOf(spec StageSpec, results map[model.StageID]model.StageResult) map[model.StageID]model.StageResult {
	deps := make(map[model.StageID]model.StageResult, len(spec.DependsOn))
	for _, d := range spec.DependsOn {
		if r, ok := results[d]; ok {
			deps[d] = r
		}
	}
	return deps
}

// completeStages makes sure every known stage key is present in the result.
func completeStages(results map[model.StageID]model.StageResult) map[model.StageID]model.StageResult {
	out := make(map[model.StageID]model.StageResult, len(results)+1)
	for id, r := range results {
		out[id] = r
	}
	for _, id := range append(append([]model.StageID(nil), model.ContentStages...), model.StageGrounding) {
		if _, ok := out[id]; !ok {
			out[id] = model.StageResult{Stage: id, Status: model.StatusFailed, Sources: []model.Citation{}, Error: "stage not planned"}
		}
	}
	return out
}
