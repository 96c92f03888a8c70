package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// defaultIdempotencyRetention applies when the payload does not set one.
const defaultIdempotencyRetention = 7 * 24 * time.Hour

// IdempotencyCleaner prunes idempotency keys past their retention window.
type IdempotencyCleaner struct {
	store  *shared.IdempotencyStore
	logger *slog.Logger
}

// NewIdempotencyCleaner builds IdempotencyCleaner.
func NewIdempotencyCleaner(store *shared.IdempotencyStore, logger *slog.Logger) *IdempotencyCleaner {
	return &IdempotencyCleaner{store: store, logger: logger}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (c *IdempotencyCleaner) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := payload.Retention
	if retention <= 0 {
		retention = defaultIdempotencyRetention
	}
	if err := c.store.Cleanup(ctx, retention); err != nil {
		c.logger.Error("idempotency cleanup failed", slog.Any("error", err))
		return err
	}
	c.logger.Info("idempotency cleanup finished", slog.Duration("retention", retention))
	return nil
}
