package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"remindai/internal/config"
	"remindai/internal/models"
)

// States reported for stored reminders that have no delivery unit.
const (
	StateUnarmed DeliveryState = "unarmed"
	// StateAwaitingSession marks an overdue reminder found at startup. It fires as soon as
	// its owning session reconnects.
	StateAwaitingSession DeliveryState = "awaiting_session"
	// StateSkippedOverdue marks an overdue reminder that will not be delivered.
	StateSkippedOverdue DeliveryState = "skipped_overdue"
)

// RehydrateSummary counts what Rehydrate did with each incomplete reminder.
type RehydrateSummary struct {
	Armed    int
	Awaiting int
	Skipped  int
}

type heldReminder struct {
	reminder *models.Reminder
	state    DeliveryState
	reason   string
}

// ReminderService applies reminder mutations and keeps delivery units in step with them.
type ReminderService struct {
	store       ReminderStore
	delivery    *DeliveryScheduler
	connections *ConnectionManager
	now         func() time.Time

	mu   sync.Mutex
	held map[string]*heldReminder
}

// NewReminderService creates a reminder service. connections may be nil, in which case
// reminders are only re-armed while their unit is still pending.
func NewReminderService(store ReminderStore, delivery *DeliveryScheduler, connections *ConnectionManager) *ReminderService {
	return &ReminderService{
		store:       store,
		delivery:    delivery,
		connections: connections,
		now:         time.Now,
		held:        make(map[string]*heldReminder),
	}
}

// Store returns the underlying store.
func (s *ReminderService) Store() ReminderStore {
	return s.store
}

// Create persists a reminder. It does not validate that the reminder time is in the future.
func (s *ReminderService) Create(ctx context.Context, reminder *models.Reminder) (*models.Reminder, error) {
	created, err := s.store.Create(ctx, reminder)
	if err != nil {
		return nil, err
	}
	GetMetrics().RecordReminderCreated()
	return created, nil
}

// Get returns a reminder by id.
func (s *ReminderService) Get(ctx context.Context, id string) (*models.Reminder, error) {
	return s.store.Get(ctx, id)
}

// List returns up to limit reminders.
func (s *ReminderService) List(ctx context.Context, limit int) ([]*models.Reminder, error) {
	return s.store.List(ctx, limit)
}

// Toggle flips completion. Completing cancels the pending delivery; reopening re-arms it.
func (s *ReminderService) Toggle(ctx context.Context, id string) (*models.Reminder, error) {
	reminder, err := s.store.ToggleCompletion(ctx, id, s.now())
	if err != nil {
		return nil, err
	}

	if reminder.Completed {
		s.release(id)
		s.delivery.Cancel(id)
	} else {
		s.rearm(reminder)
	}
	return reminder, nil
}

// Update applies patch and cancels, reschedules or re-arms the delivery to match.
func (s *ReminderService) Update(ctx context.Context, id string, patch models.ReminderPatch) (*models.Reminder, error) {
	reminder, err := s.store.Update(ctx, id, patch, s.now())
	if err != nil {
		return nil, err
	}

	switch {
	case reminder.Completed:
		s.release(id)
		s.delivery.Cancel(id)
	case patch.ReminderTime != nil:
		s.release(id)
		s.rearm(reminder)
	case patch.Completed != nil:
		s.rearm(reminder)
	case patch.Task != nil:
		s.delivery.Reschedule(reminder)
	}
	return reminder, nil
}

// Delete removes a reminder and cancels its pending delivery.
func (s *ReminderService) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.release(id)
	s.delivery.Cancel(id)
	return nil
}

// Delivery reports the delivery state of a reminder.
func (s *ReminderService) Delivery(ctx context.Context, id string) (*DeliveryOutcome, error) {
	if _, err := parseID(id); err != nil {
		return nil, err
	}
	if outcome, ok := s.delivery.Outcome(id); ok {
		return outcome, nil
	}

	reminder, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	outcome := &DeliveryOutcome{
		ReminderID:   id,
		Task:         reminder.Task,
		State:        StateUnarmed,
		ScheduledFor: reminder.ReminderTime,
	}

	s.mu.Lock()
	if h, ok := s.held[id]; ok {
		outcome.State = h.state
		outcome.Error = h.reason
	}
	s.mu.Unlock()
	return outcome, nil
}

// rearm moves a pending unit to the reminder's current values, or arms a new one for a
// future incomplete reminder on its owning session.
func (s *ReminderService) rearm(reminder *models.Reminder) {
	if reminder.Completed || !reminder.ReminderTime.After(s.now()) {
		return
	}
	if s.delivery.Reschedule(reminder) {
		return
	}

	transport := s.ownerTransport(reminder)
	if transport == nil {
		log.Printf("⚠️ Reminder %s has no owning session, leaving it unarmed", reminder.ID.Hex())
		return
	}
	if err := s.delivery.Arm(reminder, transport); err != nil {
		log.Printf("⚠️ Failed to re-arm reminder %s: %v", reminder.ID.Hex(), err)
	}
}

// ownerTransport returns the transport of the session that created reminder. It is nil
// when the reminder records no session. A transport for an offline session is returned
// as is, so the unit is dropped if nobody from that session is back by fire time.
func (s *ReminderService) ownerTransport(reminder *models.Reminder) models.Transport {
	if s.connections == nil || reminder.SessionID == "" {
		return nil
	}
	return s.connections.SessionTransport(reminder.SessionID)
}

func (s *ReminderService) hold(reminder *models.Reminder, state DeliveryState, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held[reminder.ID.Hex()] = &heldReminder{reminder: reminder, state: state, reason: reason}
}

func (s *ReminderService) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.held, id)
}

// Rehydrate re-arms every incomplete reminder after a restart. Future reminders are armed
// on their owning session. Overdue reminders are held until that session reconnects under
// OverduePolicyFire and flagged as skipped under OverduePolicySkip.
func (s *ReminderService) Rehydrate(ctx context.Context, overduePolicy string) (RehydrateSummary, error) {
	var summary RehydrateSummary
	if s.connections == nil {
		return summary, errors.New("rehydration requires a connection manager")
	}

	pending, err := s.store.ListPending(ctx, time.Time{})
	if err != nil {
		return summary, err
	}

	now := s.now()
	for _, reminder := range pending {
		id := reminder.ID.Hex()
		overdue := !reminder.ReminderTime.After(now)
		transport := s.ownerTransport(reminder)

		switch {
		case transport == nil:
			reason := "no owning session"
			state := StateUnarmed
			if overdue {
				state = StateSkippedOverdue
			}
			log.Printf("⏭️ Not re-arming reminder %s (%q): %s", id, reminder.Task, reason)
			s.hold(reminder, state, reason)
			summary.Skipped++
			continue
		case overdue && overduePolicy == config.OverduePolicySkip:
			log.Printf("⏭️ Skipping overdue reminder %s (%q, due %s)",
				id, reminder.Task, reminder.ReminderTime.Format(time.RFC3339))
			s.hold(reminder, StateSkippedOverdue, "overdue at startup")
			summary.Skipped++
			continue
		case overdue && !transport.IsConnected():
			s.hold(reminder, StateAwaitingSession, "")
			summary.Awaiting++
			continue
		}

		if err := s.delivery.Arm(reminder, transport); err != nil {
			log.Printf("⚠️ Failed to rehydrate reminder %s: %v", id, err)
			continue
		}
		summary.Armed++
	}

	log.Printf("✅ Rehydrated %d pending reminders (%d awaiting their session, %d skipped)",
		summary.Armed, summary.Awaiting, summary.Skipped)
	return summary, nil
}

// SessionConnected arms the overdue reminders held for sessionID. They fire immediately on
// the session's live connections.
func (s *ReminderService) SessionConnected(ctx context.Context, sessionID string) {
	if s.connections == nil || sessionID == "" {
		return
	}

	s.mu.Lock()
	var due []*heldReminder
	for id, h := range s.held {
		if h.state == StateAwaitingSession && h.reminder.SessionID == sessionID {
			due = append(due, h)
			delete(s.held, id)
		}
	}
	s.mu.Unlock()

	transport := s.connections.SessionTransport(sessionID)
	for _, h := range due {
		id := h.reminder.ID.Hex()
		current, err := s.store.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			log.Printf("⚠️ Failed to load held reminder %s, keeping it for the next reconnect: %v", id, err)
			s.hold(h.reminder, h.state, h.reason)
			continue
		}
		if current.Completed {
			continue
		}
		if err := s.delivery.Arm(current, transport); err != nil {
			log.Printf("⚠️ Failed to arm held reminder %s: %v", id, err)
			continue
		}
		log.Printf("🔔 Session %s is back, firing overdue reminder %s", sessionID, id)
	}
}
