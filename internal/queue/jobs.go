package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// SendEmailTask is scheduled whenever a state change needs an
	// outbound email (approval, rejection, welcome, payment receipt).
	SendEmailTask = "email:send"
)

// Email kinds the worker knows how to render.
const (
	EmailLawyerWelcome    = "lawyer_welcome"
	EmailRequestRejected  = "request_rejected"
	EmailPaymentReceipt   = "payment_receipt"
	EmailCaseAssigned     = "case_assigned"
)

// EmailPayload is serialized into the task so the worker can render and
// deliver the message without touching the originating request.
type EmailPayload struct {
	Kind   string            `json:"kind"`
	To     string            `json:"to"`
	Params map[string]string `json:"params,omitempty"`
}

// EnqueueEmail enqueues an outbound email job. Delivery is at-least-once:
// asynq retries failed sends so a provider hiccup never loses the message.
func EnqueueEmail(ctx context.Context, client *asynq.Client, payload EmailPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(SendEmailTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue email task: %w", err)
	}
	return nil
}
