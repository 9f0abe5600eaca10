package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/dresscheck/internal/logging"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicateRun is returned when a run already has a record. It relies on
	// the gorm connection translating dialect errors.
	ErrDuplicateRun = errors.New("repository: run already recorded")
)

// CheckRecord is a persisted non-compliant check.
type CheckRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	RunID       string    `gorm:"column:run_id;uniqueIndex;size:64" json:"run_id"`
	StudentID   string    `gorm:"column:student_id;size:64;index" json:"student_id"`
	InspectorID string    `gorm:"column:inspector_id;size:64;index:idx_checks_inspector_created" json:"inspector_id"`
	Gender      string    `gorm:"column:gender;size:16" json:"gender"`
	Failed      []string  `gorm:"column:failed;serializer:json" json:"failed"`
	PassAll     bool      `gorm:"column:pass_all" json:"pass_all"`
	ImageURL    string    `gorm:"column:image_url;type:text" json:"image_url,omitempty"`
	ImageSHA1   string    `gorm:"column:image_sha1;size:40" json:"image_sha1,omitempty"`
	CreatedAt   time.Time `gorm:"column:created_at;index:idx_checks_inspector_created" json:"created_at"`
}

// TableName overrides the default table name.
func (CheckRecord) TableName() string {
	return "checks"
}

// CheckRepository provides persistence APIs for check records.
type CheckRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewCheckRepository creates a new repository instance.
func NewCheckRepository(db *gorm.DB, logger *zap.Logger) *CheckRepository {
	return &CheckRepository{
		db:             db,
		logger:         logger.Named("check_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *CheckRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&CheckRecord{})
}

// SaveCheck persists a check record. A second record for the same run fails
// with ErrDuplicateRun.
func (r *CheckRepository) SaveCheck(ctx context.Context, record *CheckRecord) error {
	err := r.executeWithRetry(ctx, "repository.save_check", record.RunID, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", ErrDuplicateRun, record.RunID)
	}
	return err
}

// FindByRunID retrieves the record of a run owned by inspectorID.
func (r *CheckRepository) FindByRunID(ctx context.Context, runID, inspectorID string) (*CheckRecord, error) {
	var record CheckRecord
	err := r.executeWithRetry(ctx, "repository.find_by_run_id", runID, func() error {
		return r.db.WithContext(ctx).First(&record, "run_id = ? AND inspector_id = ?", runID, inspectorID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListBetween returns the inspector's records created in [from, to), newest first.
func (r *CheckRepository) ListBetween(ctx context.Context, inspectorID string, from, to time.Time) ([]*CheckRecord, error) {
	var records []*CheckRecord
	err := r.executeWithRetry(ctx, "repository.list_between", "", func() error {
		records = nil
		return r.db.WithContext(ctx).
			Where("inspector_id = ? AND created_at >= ? AND created_at < ?", inspectorID, from, to).
			Order("created_at DESC").
			Find(&records).Error
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *CheckRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := retry.WithMaxRetries(uint64(attempts-1),
		retry.WithCappedDuration(r.maxBackoff, retry.NewExponential(r.initialBackoff)))

	opLogger := logging.WithOperation(r.logger, operation, requestID)
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn()
		if err == nil {
			if attempt > 1 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}
		if logging.IsTransient(err) && attempt < attempts {
			opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt))
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) && !errors.Is(err, gorm.ErrDuplicatedKey) {
		opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt))
	}
	return logging.NewOperationError(operation, requestID, err)
}
