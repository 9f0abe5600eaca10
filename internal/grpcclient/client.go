// Package grpcclient talks to the inference service hosting the dress-code models.
//
// The service exposes two unary methods whose request and response messages are
// google.protobuf.Struct documents:
//
//	LoadModel {model_id}                        -> {model_id, labels[]}
//	Predict   {model_id, image, content_type}   -> {predictions: [{label, probability}]}
//
// image is the base64 encoded PNG of the region being classified, scaled down to
// the model input size.
package grpcclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/dresscheck/internal/classifier"
	"github.com/example/dresscheck/internal/imageprocessor"
	"github.com/example/dresscheck/internal/logging"
)

const (
	loadModelMethod = "/dresscheck.inference.v1.Classifier/LoadModel"
	predictMethod   = "/dresscheck.inference.v1.Classifier/Predict"
)

// DialInference returns a ready-to-use model loader for the inference service.
func DialInference(ctx context.Context, addr string, callTimeout time.Duration, logger *zap.Logger) (*Loader, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_inference", "", err)
		logger.Error("failed to dial inference service", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewLoader(conn, callTimeout, logger), conn, nil
}

// Loader implements classifier.Loader over a gRPC connection.
type Loader struct {
	conn        grpc.ClientConnInterface
	callTimeout time.Duration
	logger      *zap.Logger
}

// NewLoader wraps an existing connection. A zero callTimeout leaves deadlines to the caller.
func NewLoader(conn grpc.ClientConnInterface, callTimeout time.Duration, logger *zap.Logger) *Loader {
	return &Loader{conn: conn, callTimeout: callTimeout, logger: logger.Named("inference")}
}

// Load asks the service to make modelID resident and returns a handle to it.
func (l *Loader) Load(ctx context.Context, modelID string) (classifier.Classifier, error) {
	req, err := structpb.NewStruct(map[string]interface{}{"model_id": modelID})
	if err != nil {
		return nil, err
	}
	resp := &structpb.Struct{}
	if err := l.invoke(ctx, loadModelMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.load_model", modelID, err)
		l.logger.Error("model load failed", zap.Error(wrapped), zap.String("model_id", modelID))
		return nil, fmt.Errorf("%w: %v", classifier.ErrModelUnavailable, wrapped)
	}

	labels := resp.GetFields()["labels"].GetListValue().GetValues()
	l.logger.Debug("model ready", zap.String("model_id", modelID), zap.Int("labels", len(labels)))
	return &model{id: modelID, loader: l}, nil
}

func (l *Loader) invoke(ctx context.Context, method string, req, resp *structpb.Struct) error {
	if l.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.callTimeout)
		defer cancel()
	}
	return l.conn.Invoke(ctx, method, req, resp)
}

type model struct {
	id     string
	loader *Loader
}

// Predict sends img to the service and returns its ranked predictions.
func (m *model) Predict(ctx context.Context, img image.Image) ([]classifier.Prediction, error) {
	data, err := imageprocessor.EncodePNG(imageprocessor.Fit(img, imageprocessor.ModelInputSize))
	if err != nil {
		return nil, fmt.Errorf("%w: encode region: %v", classifier.ErrInferenceFailure, err)
	}
	req, err := structpb.NewStruct(map[string]interface{}{
		"model_id":     m.id,
		"image":        base64.StdEncoding.EncodeToString(data),
		"content_type": "image/png",
	})
	if err != nil {
		return nil, err
	}

	resp := &structpb.Struct{}
	if err := m.loader.invoke(ctx, predictMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.predict", m.id, err)
		m.loader.logger.Error("prediction failed", zap.Error(wrapped), zap.String("model_id", m.id))
		return nil, fmt.Errorf("%w: %v", classifier.ErrInferenceFailure, wrapped)
	}
	return decodePredictions(resp)
}

func decodePredictions(resp *structpb.Struct) ([]classifier.Prediction, error) {
	values := resp.GetFields()["predictions"].GetListValue().GetValues()
	out := make([]classifier.Prediction, 0, len(values))
	for i, v := range values {
		fields := v.GetStructValue().GetFields()
		label, ok := fields["label"].GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("%w: prediction %d has no label", classifier.ErrInferenceFailure, i)
		}
		prob, ok := fields["probability"].GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("%w: prediction %d has no probability", classifier.ErrInferenceFailure, i)
		}
		out = append(out, classifier.Prediction{Label: label.StringValue, Probability: prob.NumberValue})
	}
	return out, nil
}
