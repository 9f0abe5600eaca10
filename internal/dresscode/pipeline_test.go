package dresscode

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/dresscheck/internal/classifier"
)

type scriptedModel struct {
	id     string
	loader *scriptedLoader
}

func (m *scriptedModel) Predict(ctx context.Context, img image.Image) ([]classifier.Prediction, error) {
	l := m.loader
	l.mu.Lock()
	defer l.mu.Unlock()
	l.predicts[m.id]++
	l.bounds[m.id] = img.Bounds()
	if err, ok := l.predictErrs[m.id]; ok {
		return nil, err
	}
	return l.outputs[m.id], nil
}

// scriptedLoader serves fixed predictions per model id and counts calls.
type scriptedLoader struct {
	mu          sync.Mutex
	outputs     map[string][]classifier.Prediction
	loadErrs    map[string]error
	predictErrs map[string]error
	predicts    map[string]int
	bounds      map[string]image.Rectangle
}

func newScriptedLoader() *scriptedLoader {
	return &scriptedLoader{
		outputs:     make(map[string][]classifier.Prediction),
		loadErrs:    make(map[string]error),
		predictErrs: make(map[string]error),
		predicts:    make(map[string]int),
		bounds:      make(map[string]image.Rectangle),
	}
}

func (l *scriptedLoader) set(model, label string, probability float64) *scriptedLoader {
	l.outputs[model] = []classifier.Prediction{
		{Label: "other", Probability: 1 - probability},
		{Label: label, Probability: probability},
	}
	return l
}

func (l *scriptedLoader) Load(ctx context.Context, modelID string) (classifier.Classifier, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, ok := l.loadErrs[modelID]; ok {
		return nil, err
	}
	return &scriptedModel{id: modelID, loader: l}, nil
}

func (l *scriptedLoader) totalCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.predicts {
		n += c
	}
	return n
}

func photo() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 60, 120))
}

func newTestPipeline(t *testing.T, loader classifier.Loader, opts ...Option) *Pipeline {
	t.Helper()
	return NewPipeline(loader, defaultTable(t), zap.NewNop(), opts...)
}

func maleScenario() *scriptedLoader {
	return newScriptedLoader().
		set("JwYPDXrEk", "male", 0.97).
		set("UsbrLeWWx", "student_uniform", 0.92).
		set("HWvWDge3a", "no_tie", 0.77).
		set("5caJRMJXa", "with_belt", 0.81)
}

func TestPipelineMaleScenario(t *testing.T) {
	loader := maleScenario()
	p := newTestPipeline(t, loader)

	v, err := p.Run(context.Background(), "run-1", photo())
	require.NoError(t, err)

	assert.Equal(t, Male, v.Gender)
	assert.Equal(t, "ชาย", v.GenderLabel)
	assert.False(t, v.PassAll)
	assert.False(t, v.StoppedEarly)
	require.Len(t, v.Features, 3)
	assert.True(t, v.Features[FeatureOuter].Pass)
	assert.False(t, v.Features[FeatureTie].Pass)
	assert.True(t, v.Features[FeatureBelt].Pass)
	assert.Equal(t, "no_tie", v.Features[FeatureTie].Label)
	assert.InDelta(t, 0.77, v.Features[FeatureTie].Probability, 1e-9)
	assert.Equal(t, []string{"ไม่มีเนคไทชาย"}, ExtractFailures(v, false))

	// dual region mode: tie on the upper half, belt on the lower half
	assert.Equal(t, image.Rect(0, 0, 60, 60), loader.bounds["HWvWDge3a"])
	assert.Equal(t, image.Rect(0, 60, 60, 120), loader.bounds["5caJRMJXa"])
	assert.Equal(t, image.Rect(0, 0, 60, 120), loader.bounds["UsbrLeWWx"])
}

func TestPipelineFemaleShortCircuit(t *testing.T) {
	loader := newScriptedLoader().
		set("JwYPDXrEk", "female", 0.88).
		set("B3q_-YwXk", "jacket", 0.81).
		set("BoL3rWSWX", "belt", 0.9).
		set("zfYzwSvRc", "pin", 0.9).
		set("dZQp1_1Cu", "earring", 0.9).
		set("iVj_HIvXI", "button", 0.9)
	p := newTestPipeline(t, loader)

	v, err := p.Run(context.Background(), "run-2", photo())
	require.NoError(t, err)

	assert.Equal(t, Female, v.Gender)
	assert.Equal(t, "หญิง", v.GenderLabel)
	assert.False(t, v.PassAll)
	assert.True(t, v.StoppedEarly)
	assert.Equal(t, map[FeatureKey]FeatureResult{
		FeatureOuter: {Label: "jacket", Probability: 0.81, Pass: false},
	}, v.Features)

	assert.Equal(t, 2, loader.totalCalls(), "only gender and outer classifiers run")
	for _, model := range []string{"BoL3rWSWX", "zfYzwSvRc", "dZQp1_1Cu", "iVj_HIvXI"} {
		assert.Zero(t, loader.predicts[model], model)
	}
}

func TestPipelineInconclusiveOuterContinues(t *testing.T) {
	loader := maleScenario().set("UsbrLeWWx", "unknown", 0.99).set("HWvWDge3a", "necktie", 0.7)
	p := newTestPipeline(t, loader)

	v, err := p.Run(context.Background(), "run-3", photo())
	require.NoError(t, err)

	assert.True(t, v.Features[FeatureOuter].Pass)
	assert.True(t, v.PassAll)
	assert.Equal(t, 1, loader.predicts["HWvWDge3a"])
	assert.Equal(t, 1, loader.predicts["5caJRMJXa"])
}

func TestPipelineGenderLabels(t *testing.T) {
	tests := []struct {
		label string
		want  Gender
	}{
		{label: "male", want: Male},
		{label: "ชาย", want: Male},
		{label: "Boy", want: Male},
		{label: "female", want: Female},
		{label: "woman", want: Female},
		{label: "หญิง", want: Female},
		{label: "Class 1", want: Female},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			loader := maleScenario().set("JwYPDXrEk", tt.label, 0.6).
				set("HWvWDge3a", "tie", 0.9).
				set("B3q_-YwXk", "uniform", 0.9).
				set("BoL3rWSWX", "belt", 0.9).
				set("zfYzwSvRc", "pin", 0.9).
				set("dZQp1_1Cu", "earring", 0.9).
				set("iVj_HIvXI", "button", 0.9)
			v, err := newTestPipeline(t, loader).Run(context.Background(), "g", photo())
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Gender)
			assert.True(t, v.PassAll)
			assert.Len(t, v.Features, len(defaultTable(t).RequiredFeatures(tt.want)))
		})
	}
}

func TestPipelineIsDeterministic(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		loader := maleScenario()
		p := newTestPipeline(t, loader, WithParallelAccessories(parallel))

		first, err := p.Run(context.Background(), "a", photo())
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			again, err := p.Run(context.Background(), "b", photo())
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	}
}

func TestPipelineAbortsOnClassifierFailure(t *testing.T) {
	t.Run("model unavailable", func(t *testing.T) {
		loader := maleScenario()
		loader.loadErrs["5caJRMJXa"] = errors.New("metadata.json: 404")

		v, err := newTestPipeline(t, loader).Run(context.Background(), "r", photo())
		assert.Nil(t, v)
		require.Error(t, err)
		assert.ErrorIs(t, err, classifier.ErrModelUnavailable)
		assert.Contains(t, err.Error(), "belt")
	})

	t.Run("inference failure", func(t *testing.T) {
		loader := maleScenario()
		loader.predictErrs["JwYPDXrEk"] = errors.New("webgl context lost")

		v, err := newTestPipeline(t, loader).Run(context.Background(), "r", photo())
		assert.Nil(t, v)
		assert.ErrorIs(t, err, classifier.ErrInferenceFailure)
		assert.Equal(t, 1, loader.totalCalls())
	})

	t.Run("empty predictions", func(t *testing.T) {
		loader := maleScenario()
		loader.outputs["HWvWDge3a"] = nil

		_, err := newTestPipeline(t, loader, WithParallelAccessories(true)).Run(context.Background(), "r", photo())
		assert.ErrorIs(t, err, classifier.ErrInferenceFailure)
	})
}

func TestPipelineRejectsMalformedImage(t *testing.T) {
	loader := maleScenario()
	p := newTestPipeline(t, loader)

	_, err := p.Run(context.Background(), "r", image.NewRGBA(image.Rect(0, 0, 10, 0)))
	assert.ErrorIs(t, err, ErrMalformedInput)
	assert.Zero(t, loader.totalCalls())

	// one row has no upper half for the tie model
	_, err = p.Run(context.Background(), "r", image.NewRGBA(image.Rect(0, 0, 10, 1)))
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestPipelineSingleRegionMode(t *testing.T) {
	table := defaultTable(t)
	table.RegionMode = RegionModeSingle
	table.ShoeEnabled = true
	table.Genders[Male].Models[FeatureShoe] = "shoe-male"

	loader := maleScenario().set("HWvWDge3a", "tie", 0.9).set("shoe-male", "shoes", 0.8)
	v, err := NewPipeline(loader, table, zap.NewNop()).Run(context.Background(), "r", photo())
	require.NoError(t, err)

	assert.True(t, v.PassAll)
	assert.Contains(t, v.Features, FeatureShoe)
	for _, model := range []string{"HWvWDge3a", "5caJRMJXa", "shoe-male"} {
		assert.Equal(t, image.Rect(0, 0, 60, 120), loader.bounds[model], model)
	}
}

func TestNewOutcome(t *testing.T) {
	v := &Verdict{Gender: Male}
	ok := NewOutcome("r", v, nil)
	assert.Equal(t, OutcomeResult, ok.Type)
	assert.Same(t, v, ok.Verdict)
	assert.Empty(t, ok.Message)

	failed := NewOutcome("r", nil, errors.New("boom"))
	assert.Equal(t, OutcomeError, failed.Type)
	assert.Nil(t, failed.Verdict)
	assert.Equal(t, "boom", failed.Message)
}
