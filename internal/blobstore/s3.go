// Package blobstore keeps evidence photographs in an S3 compatible bucket.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/example/dresscheck/internal/logging"
)

// Config locates the bucket.
type Config struct {
	// Endpoint of a MinIO or other S3 compatible server, e.g. "http://127.0.0.1:9000".
	// Empty uses AWS.
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// PublicBaseURL prefixes object keys in returned URLs. Defaults to Endpoint/Bucket.
	PublicBaseURL string
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store uploads photographs and returns their public URLs.
type Store struct {
	client  objectPutter
	bucket  string
	baseURL string
	logger  *zap.Logger
}

// Connect builds a Store for cfg.
func Connect(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("blobstore: bucket is required")
	}
	client := s3.NewFromConfig(aws.Config{Region: cfg.Region}, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.AccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		}
	})
	return newStore(client, cfg, logger), nil
}

func newStore(client objectPutter, cfg Config, logger *zap.Logger) *Store {
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		if cfg.Endpoint != "" {
			base = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
		} else {
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}
	return &Store{client: client, bucket: cfg.Bucket, baseURL: base, logger: logger.Named("blobstore")}
}

// ObjectKey names the object holding a photograph of inspectorID taken at t.
// The inspector id is escaped into a single segment under checks/.
func ObjectKey(inspectorID, sha1, format string, t time.Time) string {
	return strings.Join([]string{
		"checks",
		keySegment(inspectorID),
		t.UTC().Format("2006/01/02"),
		sha1 + "." + format,
	}, "/")
}

func keySegment(s string) string {
	seg := url.PathEscape(s)
	switch {
	case seg == "":
		return "_"
	case strings.Trim(seg, ".") == "":
		return strings.ReplaceAll(seg, ".", "%2E")
	}
	return seg
}

// Put stores data under key and returns its public URL.
func (s *Store) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		wrapped := logging.NewOperationError("blobstore.put_object", key, err)
		s.logger.Error("upload failed", zap.Error(wrapped), zap.String("bucket", s.bucket))
		return "", wrapped
	}
	s.logger.Debug("uploaded photograph", zap.String("key", key), zap.Int("bytes", len(data)))
	return s.objectURL(key), nil
}

func (s *Store) objectURL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.baseURL + "/" + strings.Join(parts, "/")
}
