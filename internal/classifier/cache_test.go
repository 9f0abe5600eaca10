package classifier

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedModel struct {
	predictions []Prediction
	err         error
}

func (m *fixedModel) Predict(ctx context.Context, img image.Image) ([]Prediction, error) {
	return m.predictions, m.err
}

type countingLoader struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (l *countingLoader) Load(ctx context.Context, modelID string) (Classifier, error) {
	l.calls.Add(1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.err != nil {
		return nil, l.err
	}
	return &fixedModel{predictions: []Prediction{{Label: modelID, Probability: 1}}}, nil
}

func TestCacheLoadsOncePerModel(t *testing.T) {
	loader := &countingLoader{}
	cache := NewCache(loader, zap.NewNop())

	first, err := cache.Load(context.Background(), "gender")
	require.NoError(t, err)
	second, err := cache.Load(context.Background(), "gender")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), loader.calls.Load())
	assert.Equal(t, 1, cache.Len())

	_, err = cache.Load(context.Background(), "belt-male")
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestCacheSharesConcurrentLoads(t *testing.T) {
	loader := &countingLoader{delay: 20 * time.Millisecond}
	cache := NewCache(loader, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Load(context.Background(), "outer-female")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), loader.calls.Load())
}

func TestCacheDoesNotRememberFailures(t *testing.T) {
	loader := &countingLoader{err: errors.New("artifact 404")}
	cache := NewCache(loader, zap.NewNop())

	_, err := cache.Load(context.Background(), "pin-female")
	require.Error(t, err)

	loader.err = nil
	_, err = cache.Load(context.Background(), "pin-female")
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestTopPicksHighestProbability(t *testing.T) {
	in := []Prediction{
		{Label: "no_tie", Probability: 0.2},
		{Label: "tie", Probability: 0.7},
		{Label: "other", Probability: 0.1},
	}
	top, err := Top(in)
	require.NoError(t, err)
	assert.Equal(t, "tie", top.Label)
	assert.Equal(t, "no_tie", in[0].Label, "input must not be reordered")

	_, err = Top(nil)
	assert.ErrorIs(t, err, ErrInferenceFailure)
}

type failingLoader struct{ err error }

func (l failingLoader) Load(ctx context.Context, modelID string) (Classifier, error) {
	return nil, l.err
}

type mapLoader map[string]Classifier

func (m mapLoader) Load(ctx context.Context, modelID string) (Classifier, error) {
	return m[modelID], nil
}

func TestPredictTopClassifiesErrors(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))

	_, err := PredictTop(context.Background(), failingLoader{err: errors.New("dial tcp: refused")}, "gender", img)
	assert.ErrorIs(t, err, ErrModelUnavailable)

	loader := mapLoader{"gender": &fixedModel{err: errors.New("tensor shape mismatch")}}
	_, err = PredictTop(context.Background(), loader, "gender", img)
	assert.ErrorIs(t, err, ErrInferenceFailure)

	loader = mapLoader{"gender": &fixedModel{predictions: []Prediction{{Label: "ชาย", Probability: 0.6}, {Label: "หญิง", Probability: 0.4}}}}
	top, err := PredictTop(context.Background(), loader, "gender", img)
	require.NoError(t, err)
	assert.Equal(t, "ชาย", top.Label)
}
