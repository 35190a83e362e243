package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TypeEmailDeliver is the task type for outbound email delivery.
const TypeEmailDeliver = "email:deliver"

// EmailPayload is the serialized body of an email:deliver task.
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewEmailTask builds an email delivery task.
func NewEmailTask(p EmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal email payload: %w", err)
	}
	return asynq.NewTask(TypeEmailDeliver, data), nil
}

// NewWelcomeEmailTask builds the post-registration welcome email.
func NewWelcomeEmailTask(to, name string) (*asynq.Task, error) {
	return NewEmailTask(EmailPayload{
		To:      to,
		Subject: "Welcome to the course marketplace",
		Body:    fmt.Sprintf("Hi %s, your account is ready. Happy learning!", name),
	})
}

// Enqueuer is the slice of asynq.Client producers depend on.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Sender delivers a single email.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NopSender drops emails. Used until a real provider is configured.
type NopSender struct{}

func (NopSender) Send(context.Context, string, string, string) error { return nil }

// EmailHandler processes email:deliver tasks.
type EmailHandler struct {
	Sender Sender
	Log    zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h EmailHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p EmailPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal email payload: %w", err)
	}
	if err := h.Sender.Send(ctx, p.To, p.Subject, p.Body); err != nil {
		h.Log.Error().Err(err).Str("to", p.To).Msg("email delivery failed")
		return err
	}
	h.Log.Info().Str("to", p.To).Str("subject", p.Subject).Msg("email delivered")
	return nil
}
