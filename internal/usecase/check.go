package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/example/dresscheck/internal/dresscode"
	"github.com/example/dresscheck/internal/imageprocessor"
	"github.com/example/dresscheck/internal/logging"
	"github.com/example/dresscheck/internal/metrics"
	"github.com/example/dresscheck/internal/repository"
	"github.com/example/dresscheck/internal/runqueue"
)

var (
	// ErrRunNotFound is returned for unknown, expired or foreign run ids.
	ErrRunNotFound = errors.New("usecase: run not found")
	// ErrRunInProgress is returned while a run has not produced a verdict yet.
	ErrRunInProgress = errors.New("usecase: run still in progress")
	// ErrNothingToSave is returned when a passing run is submitted as a failure.
	ErrNothingToSave = errors.New("usecase: run has no failed features")
	// ErrStudentIDRequired is returned when a failure is saved without a student id.
	ErrStudentIDRequired = errors.New("usecase: student id is required")
	// ErrAlreadySaved is returned when the failures of a run were saved before.
	ErrAlreadySaved = errors.New("usecase: run already saved")
	// ErrRunFailed is returned when looking up a run that ended with an error.
	ErrRunFailed = errors.New("usecase: run failed")
)

const processingMarker = "processing"

// CheckRepository defines the persistence operations needed by the use case.
type CheckRepository interface {
	SaveCheck(ctx context.Context, record *repository.CheckRecord) error
	FindByRunID(ctx context.Context, runID, inspectorID string) (*repository.CheckRecord, error)
	ListBetween(ctx context.Context, inspectorID string, from, to time.Time) ([]*repository.CheckRecord, error)
}

// Runner executes one dress-code pipeline run.
type Runner interface {
	Run(ctx context.Context, runID string, img image.Image) (*dresscode.Verdict, error)
}

// Options tunes a CheckUseCase.
type Options struct {
	// OnlyHighestPriorityFailure reports a single failure per run.
	OnlyHighestPriorityFailure bool
	// ResultTTL bounds how long a verdict can be looked up or saved.
	ResultTTL time.Duration
	// Location defines the calendar day used by the history queries.
	Location *time.Location
	// MaxImageDimension caps the width and height of a photograph.
	// Zero uses imageprocessor.DefaultMaxDimension.
	MaxImageDimension int
	// Blobs stores evidence photographs. Nil disables uploads.
	Blobs   BlobStore
	Metrics *metrics.Metrics
}

// CheckUseCase encapsulates business logic for the dress-code check flow.
type CheckUseCase struct {
	repo           CheckRepository
	cache          Cache
	runner         Runner
	blobs          BlobStore
	queue          *runqueue.Group[*dresscode.Verdict]
	metrics        *metrics.Metrics
	logger         *zap.Logger
	onlyHighest    bool
	resultTTL      time.Duration
	location       *time.Location
	maxDimension   int
	now            func() time.Time
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// CheckResult is the outcome of a run as seen by an inspector.
type CheckResult struct {
	RunID     string             `json:"run_id"`
	Verdict   *dresscode.Verdict `json:"verdict"`
	Failures  []string           `json:"failures"`
	ImageSHA1 string             `json:"image_sha1,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

type cachedCheck struct {
	RunID       string             `json:"run_id"`
	InspectorID string             `json:"inspector_id"`
	Verdict     *dresscode.Verdict `json:"verdict"`
	Failures    []string           `json:"failures"`
	ImageSHA1   string             `json:"sha1_hash"`
	Error       string             `json:"error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// NewCheckUseCase constructs a new use case instance.
func NewCheckUseCase(repo CheckRepository, cache Cache, runner Runner, logger *zap.Logger, opts Options) *CheckUseCase {
	uc := &CheckUseCase{
		repo:           repo,
		cache:          cache,
		runner:         runner,
		blobs:          opts.Blobs,
		metrics:        opts.Metrics,
		logger:         logger.Named("check_usecase"),
		onlyHighest:    opts.OnlyHighestPriorityFailure,
		resultTTL:      opts.ResultTTL,
		location:       opts.Location,
		maxDimension:   opts.MaxImageDimension,
		now:            time.Now,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
	if uc.resultTTL <= 0 {
		uc.resultTTL = 30 * time.Minute
	}
	if uc.location == nil {
		uc.location = time.Local
	}
	if uc.maxDimension <= 0 {
		uc.maxDimension = imageprocessor.DefaultMaxDimension
	}
	uc.queue = &runqueue.Group[*dresscode.Verdict]{
		OnSuperseded: func(inspectorID string) {
			uc.logger.Info("waiting run superseded", zap.String("inspector_id", inspectorID))
			uc.metrics.ObserveSuperseded()
		},
	}
	return uc
}

// RunCheck decodes the photograph and evaluates it. Runs of one inspector are
// serialized; a run still waiting when a newer one arrives fails with
// runqueue.ErrSuperseded.
func (uc *CheckUseCase) RunCheck(ctx context.Context, inspectorID string, imageBytes []byte) (*CheckResult, error) {
	runID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.run_check", runID)

	photo, err := imageprocessor.DecodeLimited(imageBytes, uc.maxDimension)
	if err != nil {
		opLogger.Warn("rejected upload", zap.Error(err))
		return nil, err
	}

	cacheKey := checkCacheKey(runID)
	if err := uc.withRedisRetry(ctx, runID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, processingMarker, uc.resultTTL)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}

	verdict, err := uc.queue.Submit(ctx, inspectorID, func(ctx context.Context) (*dresscode.Verdict, error) {
		return uc.runner.Run(ctx, runID, photo.Image)
	})
	if err != nil {
		wrapped := logging.NewOperationError("usecase.pipeline_run", runID, err)
		if errors.Is(err, runqueue.ErrSuperseded) {
			opLogger.Info("run superseded before it started")
		} else {
			opLogger.Error("pipeline run failed", zap.Error(wrapped))
		}
		uc.storeFailedRun(ctx, runID, inspectorID, err)
		return nil, wrapped
	}

	cached := cachedCheck{
		RunID:       runID,
		InspectorID: inspectorID,
		Verdict:     verdict,
		Failures:    dresscode.ExtractFailures(verdict, uc.onlyHighest),
		ImageSHA1:   photo.SHA1,
		CreatedAt:   uc.now().UTC(),
	}
	serialized, err := json.Marshal(cached)
	if err != nil {
		opLogger.Error("failed to serialize check result", zap.Error(err))
		return nil, err
	}
	if err := uc.withRedisRetry(ctx, runID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), uc.resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache check result", zap.Error(err))
		return nil, err
	}

	opLogger.Info("check completed",
		zap.String("gender", string(verdict.Gender)),
		zap.Bool("pass_all", verdict.PassAll),
		zap.Strings("failures", cached.Failures),
	)
	return cached.result(), nil
}

// GetCheck returns the cached result of a run owned by inspectorID.
func (uc *CheckUseCase) GetCheck(ctx context.Context, inspectorID, runID string) (*CheckResult, error) {
	cached, err := uc.loadCached(ctx, inspectorID, runID)
	if err != nil {
		return nil, err
	}
	return cached.result(), nil
}

// SaveFailure persists the failures of a non-compliant run against a student.
func (uc *CheckUseCase) SaveFailure(ctx context.Context, inspectorID, runID, studentID, imageURL string) (*repository.CheckRecord, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, ErrStudentIDRequired
	}

	cached, err := uc.loadCached(ctx, inspectorID, runID)
	if err != nil {
		return nil, err
	}
	if len(cached.Failures) == 0 {
		return nil, ErrNothingToSave
	}
	if _, err := uc.repo.FindByRunID(ctx, runID, inspectorID); err == nil {
		return nil, ErrAlreadySaved
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	record := &repository.CheckRecord{
		RunID:       runID,
		StudentID:   studentID,
		InspectorID: inspectorID,
		Gender:      cached.Verdict.GenderLabel,
		Failed:      cached.Failures,
		PassAll:     false,
		ImageURL:    strings.TrimSpace(imageURL),
		ImageSHA1:   cached.ImageSHA1,
		CreatedAt:   uc.now().UTC(),
	}
	if err := uc.repo.SaveCheck(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicateRun) {
			return nil, ErrAlreadySaved
		}
		wrapped := logging.NewOperationError("usecase.save_failure", runID, err)
		logging.WithOperation(uc.logger, "usecase.save_failure", runID).Error("failed to persist check", zap.Error(wrapped))
		return nil, wrapped
	}
	uc.metrics.ObserveFailureRecord(string(cached.Verdict.Gender))
	return record, nil
}

func (uc *CheckUseCase) loadCached(ctx context.Context, inspectorID, runID string) (*cachedCheck, error) {
	value, err := uc.withRedisGet(ctx, runID, "cache.get.result", checkCacheKey(runID))
	if errors.Is(err, redis.Nil) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	if value == processingMarker {
		return nil, ErrRunInProgress
	}

	var cached cachedCheck
	if err := json.Unmarshal([]byte(value), &cached); err != nil {
		logging.WithOperation(uc.logger, "usecase.load_cached", runID).Warn("failed to decode cached result", zap.Error(err))
		return nil, fmt.Errorf("decode cached run %s: %w", runID, err)
	}
	if cached.InspectorID != inspectorID {
		return nil, ErrRunNotFound
	}
	if cached.Verdict == nil {
		if cached.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrRunFailed, cached.Error)
		}
		return nil, ErrRunNotFound
	}
	return &cached, nil
}

// storeFailedRun replaces the processing marker so lookups report the failure
// instead of a run in progress.
func (uc *CheckUseCase) storeFailedRun(ctx context.Context, runID, inspectorID string, runErr error) {
	serialized, err := json.Marshal(cachedCheck{
		RunID:       runID,
		InspectorID: inspectorID,
		Error:       runErr.Error(),
		CreatedAt:   uc.now().UTC(),
	})
	if err != nil {
		return
	}
	if err := uc.withRedisRetry(ctx, runID, "cache.set.failure", func() error {
		return uc.cache.Set(ctx, checkCacheKey(runID), string(serialized), uc.resultTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.run_check", runID).Warn("failed to record run failure", zap.Error(err))
	}
}

func (c *cachedCheck) result() *CheckResult {
	return &CheckResult{
		RunID:     c.RunID,
		Verdict:   c.Verdict,
		Failures:  c.Failures,
		ImageSHA1: c.ImageSHA1,
		CreatedAt: c.CreatedAt,
	}
}

func checkCacheKey(runID string) string {
	return fmt.Sprintf("check:%s", runID)
}

func (uc *CheckUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	attempts := uc.retryAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := retry.WithMaxRetries(uint64(attempts-1),
		retry.WithCappedDuration(uc.maxBackoff, retry.NewExponential(uc.initialBackoff)))

	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn()
		if err == nil {
			if attempt > 1 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}
		// a missing key is an answer, not a failure
		if errors.Is(err, redis.Nil) {
			return err
		}
		if logging.IsTransient(err) && attempt < attempts {
			opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt))
			return retry.RetryableError(err)
		}
		opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt))
		return err
	})
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *CheckUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}
