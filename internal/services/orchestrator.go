package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindai/internal/aitime"
	"remindai/internal/logging"
	"remindai/internal/models"
)

// Session is one client connection as seen by the orchestrator.
type Session interface {
	models.Transport
	ID() string
}

// confirmationLayout renders "3:04 PM on Jan 02".
const confirmationLayout = "3:04 PM on Jan 02"

// Orchestrator runs the per-message pipeline: gate, extract, resolve, persist, confirm,
// arm, echo.
type Orchestrator struct {
	extraction *ExtractionService
	resolver   *aitime.Resolver
	reminders  *ReminderService
	delivery   *DeliveryScheduler
	now        func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(extraction *ExtractionService, resolver *aitime.Resolver, reminders *ReminderService, delivery *DeliveryScheduler) *Orchestrator {
	return &Orchestrator{
		extraction: extraction,
		resolver:   resolver,
		reminders:  reminders,
		delivery:   delivery,
		now:        time.Now,
	}
}

// HandleMessage processes one inbound chat message. Every failure is reported to the
// session as an error message; none of them ends the session. The original text is
// echoed back last.
func (o *Orchestrator) HandleMessage(ctx context.Context, session Session, text string) {
	reference := o.now()
	logger := logging.WithSession(session.ID(), "")

	defer o.send(session, models.ServerMessage{
		Type:  models.MessageTypeMessage,
		Text:  text,
		IsBot: models.Bool(false),
	})

	candidates, err := o.extraction.Extract(ctx, text, reference)
	if err != nil {
		if !errors.Is(err, ErrNoTask) {
			logger.Warn("extraction failed", "error", err)
		}
		o.sendError(session, err)
		return
	}

	for _, candidate := range candidates {
		o.handleCandidate(ctx, session, candidate, reference)
	}
}

func (o *Orchestrator) handleCandidate(ctx context.Context, session Session, candidate Candidate, reference time.Time) {
	resolution := o.resolver.ResolveDetailed(candidate.Descriptor, reference)
	logger := logging.WithSession(session.ID(), "").With(
		"task", candidate.Task,
		"descriptor", candidate.Descriptor,
		"rule", resolution.Kind,
	)

	if !resolution.At.After(reference) {
		o.sendError(session, &TimeResolutionRejected{
			Task:       candidate.Task,
			Descriptor: candidate.Descriptor,
			Resolved:   resolution.At,
			Reference:  reference,
		})
		return
	}

	reminder, err := o.reminders.Create(ctx, &models.Reminder{
		Task:         candidate.Task,
		ReminderTime: resolution.At,
		CreatedAt:    reference,
		SessionID:    session.ID(),
	})
	if err != nil {
		var perr *PersistenceError
		if !errors.As(err, &perr) {
			err = &PersistenceError{Op: "create", Err: err}
		}
		logger.Error("failed to persist reminder", "error", err)
		o.sendError(session, err)
		return
	}

	local := reminder.ReminderTime.In(o.resolver.Location())
	o.send(session, models.ServerMessage{
		Type:         models.MessageTypeConfirmation,
		Message:      fmt.Sprintf("Reminder set for '%s' at %s", reminder.Task, local.Format(confirmationLayout)),
		Task:         reminder.Task,
		ReminderID:   reminder.ID.Hex(),
		ReminderTime: &local,
	})

	if err := o.delivery.Arm(reminder, session); err != nil {
		logger.Error("failed to arm delivery", "reminder_id", reminder.ID.Hex(), "error", err)
		return
	}
	logger.Info("reminder armed", "reminder_id", reminder.ID.Hex(), "at", local.Format(time.RFC3339))
}

func (o *Orchestrator) sendError(session Session, err error) {
	o.send(session, models.ServerMessage{
		Type:    models.MessageTypeError,
		Message: UserMessage(err),
	})
}

func (o *Orchestrator) send(session Session, msg models.ServerMessage) {
	if err := session.Send(msg); err != nil {
		logging.WithSession(session.ID(), "").Debug("send failed", "type", msg.Type, "error", err)
		return
	}
	GetMetrics().RecordWebSocketMessage(msg.Type, "outbound")
}
