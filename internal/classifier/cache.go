package classifier

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Cache memoizes loaded models by identifier for the lifetime of the process.
// Concurrent loads of the same identifier share one underlying call and
// failed loads are not remembered.
type Cache struct {
	loader Loader
	logger *zap.Logger

	group  singleflight.Group
	mu     sync.RWMutex
	models map[string]Classifier
}

// NewCache wraps loader with a process-wide memoization layer.
func NewCache(loader Loader, logger *zap.Logger) *Cache {
	return &Cache{
		loader: loader,
		logger: logger.Named("model_cache"),
		models: make(map[string]Classifier),
	}
}

// Load returns the cached model or loads it once.
func (c *Cache) Load(ctx context.Context, modelID string) (Classifier, error) {
	c.mu.RLock()
	model, ok := c.models[modelID]
	c.mu.RUnlock()
	if ok {
		return model, nil
	}

	v, err, shared := c.group.Do(modelID, func() (interface{}, error) {
		c.mu.RLock()
		cached, ok := c.models[modelID]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		loaded, err := c.loader.Load(ctx, modelID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.models[modelID] = loaded
		c.mu.Unlock()
		c.logger.Info("model loaded", zap.String("model_id", modelID))
		return loaded, nil
	})
	if err != nil {
		c.logger.Warn("model load failed", zap.String("model_id", modelID), zap.Bool("shared", shared), zap.Error(err))
		return nil, err
	}
	return v.(Classifier), nil
}

// Len reports how many models are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.models)
}
