package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInventoryIntegrity triggers a ledger replay verification.
	TaskInventoryIntegrity = "inventory:integrity"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// InventoryIntegrityPayload carries scheduling metadata.
type InventoryIntegrityPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewInventoryIntegrityTask constructs the replay verification task.
func NewInventoryIntegrityTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(InventoryIntegrityPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload sets the retention window for the prune.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs the idempotency prune task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
