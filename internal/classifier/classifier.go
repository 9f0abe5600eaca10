package classifier

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
)

var (
	// ErrModelUnavailable reports that a model could not be loaded.
	ErrModelUnavailable = errors.New("classifier: model unavailable")
	// ErrInferenceFailure reports that a loaded model failed to predict.
	ErrInferenceFailure = errors.New("classifier: inference failed")
)

// Prediction is a single ranked entry returned by a model.
type Prediction struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Classifier runs one pre-trained image model.
type Classifier interface {
	Predict(ctx context.Context, img image.Image) ([]Prediction, error)
}

// Loader resolves a model identifier to a ready classifier.
type Loader interface {
	Load(ctx context.Context, modelID string) (Classifier, error)
}

// Top returns the highest-probability prediction. The input slice is not modified.
func Top(predictions []Prediction) (Prediction, error) {
	if len(predictions) == 0 {
		return Prediction{}, fmt.Errorf("%w: empty prediction list", ErrInferenceFailure)
	}
	ranked := make([]Prediction, len(predictions))
	copy(ranked, predictions)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Probability > ranked[j].Probability
	})
	return ranked[0], nil
}

// PredictTop loads modelID through loader and returns the top prediction for img.
// Load errors are reported as ErrModelUnavailable, prediction errors as ErrInferenceFailure.
func PredictTop(ctx context.Context, loader Loader, modelID string, img image.Image) (Prediction, error) {
	model, err := loader.Load(ctx, modelID)
	if err != nil {
		if errors.Is(err, ErrModelUnavailable) {
			return Prediction{}, err
		}
		return Prediction{}, fmt.Errorf("%w: %s: %v", ErrModelUnavailable, modelID, err)
	}
	predictions, err := model.Predict(ctx, img)
	if err != nil {
		if errors.Is(err, ErrInferenceFailure) {
			return Prediction{}, err
		}
		return Prediction{}, fmt.Errorf("%w: %s: %v", ErrInferenceFailure, modelID, err)
	}
	top, err := Top(predictions)
	if err != nil {
		return Prediction{}, fmt.Errorf("%s: %w", modelID, err)
	}
	return top, nil
}
