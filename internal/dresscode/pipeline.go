// Package dresscode decides whether a photographed student complies with the
// university dress code by chaining independently trained image classifiers.
//
// A run detects the gender on the full frame, gates on the gender-specific
// outer garment model and, unless the gate stops the run, evaluates every
// required accessory of that gender on its region of the photograph.
package dresscode

import (
	"context"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/dresscheck/internal/classifier"
	"github.com/example/dresscheck/internal/metrics"
)

// State is a step of a pipeline run.
type State string

const (
	StateIdle                   State = "idle"
	StateDetectingGender        State = "detecting_gender"
	StateEvaluatingOuterGarment State = "evaluating_outer_garment"
	StateStoppedEarly           State = "stopped_early"
	StateEvaluatingAccessories  State = "evaluating_accessories"
	StateDone                   State = "done"
)

// Pipeline runs the classification chain. It keeps no state between runs;
// model reuse is the concern of the classifier.Loader it is given.
type Pipeline struct {
	models   classifier.Loader
	table    *Table
	logger   *zap.Logger
	metrics  *metrics.Metrics
	parallel bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithParallelAccessories evaluates the accessory classifiers concurrently
// once the gender and outer garment gates have passed.
func WithParallelAccessories(enabled bool) Option {
	return func(p *Pipeline) {
		p.parallel = enabled
	}
}

// WithMetrics records run and classifier metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// NewPipeline builds a pipeline over a validated table.
func NewPipeline(models classifier.Loader, table *Table, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		models: models,
		table:  table,
		logger: logger.Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type run struct {
	id      string
	state   State
	gender  Gender
	regions *regionSet
	logger  *zap.Logger
}

func (r *run) enter(s State) {
	r.logger.Debug("pipeline transition", zap.String("from", string(r.state)), zap.String("to", string(s)))
	r.state = s
}

// Run evaluates one photograph. It returns either a complete Verdict or an
// error; results gathered before a failure are discarded.
func (p *Pipeline) Run(ctx context.Context, runID string, img image.Image) (*Verdict, error) {
	start := time.Now()
	r := &run{
		id:      runID,
		state:   StateIdle,
		regions: newRegionSet(img),
		logger:  p.logger.With(zap.String("run_id", runID)),
	}

	v, err := p.run(ctx, r)
	outcome := metrics.OutcomeError
	switch {
	case err != nil:
		r.logger.Warn("pipeline run failed", zap.String("state", string(r.state)), zap.Error(err))
	case v.StoppedEarly:
		outcome = metrics.OutcomeStopped
	case v.PassAll:
		outcome = metrics.OutcomePass
	default:
		outcome = metrics.OutcomeFail
	}
	p.metrics.ObserveRun(string(r.gender), outcome, time.Since(start))
	if err != nil {
		return nil, err
	}
	for key, f := range v.Features {
		p.metrics.ObserveFeature(string(v.Gender), string(key), f.Pass)
	}
	return v, nil
}

func (p *Pipeline) run(ctx context.Context, r *run) (*Verdict, error) {
	if _, err := r.regions.get(RegionFull); err != nil {
		return nil, err
	}

	r.enter(StateDetectingGender)
	genderPred, err := p.predict(ctx, p.table.Gender.Model, r, RegionFull)
	if err != nil {
		return nil, fmt.Errorf("gender: %w", err)
	}
	r.gender = p.decideGender(genderPred.Label)
	r.logger.Debug("gender detected",
		zap.String("gender", string(r.gender)),
		zap.String("label", genderPred.Label),
		zap.Float64("probability", genderPred.Probability))

	r.enter(StateEvaluatingOuterGarment)
	outerPred, err := p.predict(ctx, p.table.ModelFor(r.gender, FeatureOuter), r, p.table.RegionFor(FeatureOuter))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", FeatureOuter, err)
	}
	outer := EvaluateOuterGarment(outerPred, p.table.Features[FeatureOuter], p.table.outerThreshold())
	features := map[FeatureKey]FeatureResult{FeatureOuter: outer.FeatureResult}

	if outer.ShouldStop {
		r.enter(StateStoppedEarly)
		return newVerdict(r.gender, p.table.Label(r.gender), features, true), nil
	}

	r.enter(StateEvaluatingAccessories)
	accessories, err := p.evaluateAccessories(ctx, r)
	if err != nil {
		return nil, err
	}
	for key, res := range accessories {
		features[key] = res
	}

	r.enter(StateDone)
	return newVerdict(r.gender, p.table.Label(r.gender), features, false), nil
}

// decideGender trusts the winning label as-is: male when it matches the male
// keywords, female otherwise. Unlike a plain male-keyword match, a label that
// also matches a female keyword is female, so "female" and "woman" are not
// taken as male for containing "male" and "man".
func (p *Pipeline) decideGender(label string) Gender {
	if PassIfHas(label, p.table.Gender.Male, p.table.Gender.Female) {
		return Male
	}
	return Female
}

type accessoryJob struct {
	key    FeatureKey
	model  string
	region image.Image
}

func (p *Pipeline) evaluateAccessories(ctx context.Context, r *run) (map[FeatureKey]FeatureResult, error) {
	var jobs []accessoryJob
	for _, key := range p.table.RequiredFeatures(r.gender) {
		if key == FeatureOuter {
			continue
		}
		region, err := r.regions.get(p.table.RegionFor(key))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		jobs = append(jobs, accessoryJob{key: key, model: p.table.ModelFor(r.gender, key), region: region})
	}

	results := make([]FeatureResult, len(jobs))
	evaluate := func(ctx context.Context, i int) error {
		job := jobs[i]
		pred, err := p.classify(ctx, job.model, job.region)
		if err != nil {
			return fmt.Errorf("%s: %w", job.key, err)
		}
		results[i] = EvaluateAccessory(pred, p.table.Features[job.key])
		return nil
	}

	if p.parallel {
		g, gctx := errgroup.WithContext(ctx)
		for i := range jobs {
			i := i
			g.Go(func() error { return evaluate(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range jobs {
			if err := evaluate(ctx, i); err != nil {
				return nil, err
			}
		}
	}

	out := make(map[FeatureKey]FeatureResult, len(jobs))
	for i, job := range jobs {
		out[job.key] = results[i]
	}
	return out, nil
}

func (p *Pipeline) predict(ctx context.Context, modelID string, r *run, region Region) (classifier.Prediction, error) {
	img, err := r.regions.get(region)
	if err != nil {
		return classifier.Prediction{}, err
	}
	return p.classify(ctx, modelID, img)
}

func (p *Pipeline) classify(ctx context.Context, modelID string, img image.Image) (classifier.Prediction, error) {
	start := time.Now()
	pred, err := classifier.PredictTop(ctx, p.models, modelID, img)
	p.metrics.ObserveClassifier(modelID, time.Since(start), err)
	return pred, err
}
