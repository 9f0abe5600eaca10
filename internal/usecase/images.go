package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/example/dresscheck/internal/blobstore"
	"github.com/example/dresscheck/internal/imageprocessor"
	"github.com/example/dresscheck/internal/logging"
)

// ErrUploadsDisabled is returned when no blob store is configured.
var ErrUploadsDisabled = errors.New("usecase: image uploads are not configured")

// BlobStore stores evidence photographs.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// UploadImage validates and stores an evidence photograph and returns its URL.
func (uc *CheckUseCase) UploadImage(ctx context.Context, inspectorID string, imageBytes []byte) (string, error) {
	if uc.blobs == nil {
		return "", ErrUploadsDisabled
	}
	photo, err := imageprocessor.DecodeLimited(imageBytes, uc.maxDimension)
	if err != nil {
		return "", err
	}

	key := blobstore.ObjectKey(inspectorID, photo.SHA1, photo.Format, uc.now())
	url, err := uc.blobs.Put(ctx, key, photo.ContentType, imageBytes)
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.upload_image", key).Error("failed to store photograph", zap.Error(err))
		return "", err
	}
	return url, nil
}
