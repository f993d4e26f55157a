package mailer

import (
	"context"
	"encoding/json"
	"fmt"

	"filevault/internal/util"
	"filevault/pkg/queue"
)

// TaskKindPasscode marks outbox tasks carrying a PasscodeMessage.
const TaskKindPasscode = "passcode_email"

// Enqueuer appends a task to an outbox.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload []byte) (queue.Task, error)
}

// QueueMailer hands passcode messages to a Redis stream outbox; a Worker
// delivers them.
type QueueMailer struct {
	outbox Enqueuer
}

// NewQueueMailer returns a mailer that writes to outbox.
func NewQueueMailer(outbox Enqueuer) *QueueMailer {
	return &QueueMailer{outbox: outbox}
}

// SendPasscode enqueues the message.
func (m *QueueMailer) SendPasscode(ctx context.Context, pm PasscodeMessage) error {
	if err := pm.validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(pm)
	if err != nil {
		return fmt.Errorf("encode mail task: %w", err)
	}
	if _, err := m.outbox.Enqueue(ctx, TaskKindPasscode, payload); err != nil {
		return fmt.Errorf("enqueue mail task: %w", err)
	}
	return nil
}

// Worker returns a queue handler that delivers outbox tasks through next.
// Unknown kinds and undecodable payloads are dropped with a log line so
// they are not retried forever.
func Worker(next Mailer) queue.Handler {
	return func(ctx context.Context, task queue.Task) error {
		logger := util.LoggerFromContext(ctx).With("component", "mail_worker", "task_id", task.ID)
		if task.Kind != TaskKindPasscode {
			logger.Warn("unknown mail task kind", "kind", task.Kind)
			return nil
		}
		var pm PasscodeMessage
		if err := json.Unmarshal(task.Payload, &pm); err != nil {
			logger.Warn("invalid mail task payload", "err", err)
			return nil
		}
		if err := next.SendPasscode(ctx, pm); err != nil {
			logger.Warn("mail delivery failed", "to", util.MaskEmail(pm.To), "attempt", task.Attempts, "err", err)
			return err
		}
		logger.Info("mail delivered", "to", util.MaskEmail(pm.To))
		return nil
	}
}
