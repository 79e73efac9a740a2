package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/klamai/klamai-backend/internal/mailer"
	"github.com/klamai/klamai-backend/internal/queue"
)

// Processor is plugged into the asynq worker loop.
type Processor struct {
	mail *mailer.Mailer
}

// NewProcessor constructs a worker processor.
func NewProcessor(mail *mailer.Mailer) *Processor {
	return &Processor{mail: mail}
}

// Handler registers the email job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.SendEmailTask, p.handleEmail)
	return mux
}

func (p *Processor) handleEmail(ctx context.Context, task *asynq.Task) error {
	var payload queue.EmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	email, err := Render(payload)
	if err != nil {
		// A render failure is permanent; retrying cannot fix it.
		log.Printf("render %s for %s failed: %v", payload.Kind, payload.To, err)
		return nil
	}

	if err := p.mail.Send(email); err != nil {
		log.Printf("send %s to %s failed: %v", payload.Kind, payload.To, err)
		return err
	}
	return nil
}
