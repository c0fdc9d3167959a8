package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskQRRegenerate re-renders QR labels of one factory.
	TaskQRRegenerate = "qr:regenerate"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
	// IdempotencyCleanupCron runs the cleanup nightly.
	IdempotencyCleanupCron = "0 3 * * *"
)

// QRRegeneratePayload selects the labels to re-render. Empty MaterialIDs
// means every material of the factory.
type QRRegeneratePayload struct {
	FactoryCode string  `json:"factory_code" validate:"required"`
	MaterialIDs []int64 `json:"material_ids"`
}

// NewQRRegenerateTask constructs the Asynq task for payload.
func NewQRRegenerateTask(payload QRRegeneratePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskQRRegenerate, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// IdempotencyCleanupPayload carries scheduling metadata.
type IdempotencyCleanupPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
