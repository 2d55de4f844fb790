package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/patrickmn/go-cache"

	"remindai/internal/logging"
	"remindai/internal/models"
)

// DeliveryState is the lifecycle state of an armed reminder.
type DeliveryState string

const (
	StatePending   DeliveryState = "pending"
	StateFiring    DeliveryState = "firing"
	StateDelivered DeliveryState = "delivered"
	StateDropped   DeliveryState = "dropped"
	StateFailed    DeliveryState = "failed"
	StateCancelled DeliveryState = "cancelled"
)

// Terminal reports whether no further action occurs in this state.
func (s DeliveryState) Terminal() bool {
	switch s {
	case StateDelivered, StateDropped, StateFailed, StateCancelled:
		return true
	}
	return false
}

// DeliveryOutcome describes the current or final state of a delivery unit.
type DeliveryOutcome struct {
	ReminderID   string        `json:"reminder_id"`
	Task         string        `json:"task"`
	State        DeliveryState `json:"state"`
	ScheduledFor time.Time     `json:"scheduled_for"`
	FiredAt      *time.Time    `json:"fired_at,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// ReminderLookup fetches the current stored reminder at fire time.
type ReminderLookup func(ctx context.Context, id string) (*models.Reminder, error)

const (
	defaultOutcomeTTL = 24 * time.Hour
	fireTimeout       = 10 * time.Second
)

type deliveryUnit struct {
	reminderID string
	task       string
	fireAt     time.Time
	transport  models.Transport
	state      DeliveryState
	job        gocron.Job
}

// DeliveryScheduler arms one fire-once job per reminder and tracks it by reminder id so
// that store mutations can cancel or reschedule it.
type DeliveryScheduler struct {
	scheduler gocron.Scheduler
	loc       *time.Location
	now       func() time.Time

	mu       sync.Mutex
	units    map[string]*deliveryUnit
	guard    FireGuard
	lookup   ReminderLookup
	outcomes *cache.Cache
}

// NewDeliveryScheduler creates a scheduler. loc is used to render notification times.
func NewDeliveryScheduler(loc *time.Location) (*DeliveryScheduler, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}

	return &DeliveryScheduler{
		scheduler: scheduler,
		loc:       loc,
		now:       time.Now,
		units:     make(map[string]*deliveryUnit),
		outcomes:  cache.New(defaultOutcomeTTL, time.Hour),
	}, nil
}

// SetFireGuard installs a distributed fire-once guard. Nil disables it.
func (d *DeliveryScheduler) SetFireGuard(guard FireGuard) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.guard = guard
}

// SetReminderLookup installs the fire-time lookup used to suppress notifications for
// reminders deleted or completed after they were armed.
func (d *DeliveryScheduler) SetReminderLookup(lookup ReminderLookup) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookup = lookup
}

// Start starts the underlying scheduler.
func (d *DeliveryScheduler) Start() {
	log.Println("⏰ Starting delivery scheduler...")
	d.scheduler.Start()
}

// Stop shuts the scheduler down. Pending units are abandoned.
func (d *DeliveryScheduler) Stop() error {
	log.Println("⏹️ Stopping delivery scheduler...")
	return d.scheduler.Shutdown()
}

// Arm registers a single delivery attempt for reminder at its reminder time. Arming an id
// that already has a pending unit replaces that unit.
func (d *DeliveryScheduler) Arm(reminder *models.Reminder, transport models.Transport) error {
	if reminder == nil || reminder.ID.IsZero() {
		return ErrInvalidIdentifier
	}
	if transport == nil {
		return errors.New("delivery transport is required")
	}

	id := reminder.ID.Hex()
	unit := &deliveryUnit{
		reminderID: id,
		task:       reminder.Task,
		fireAt:     reminder.ReminderTime.UTC(),
		transport:  transport,
		state:      StatePending,
	}

	d.mu.Lock()
	replaced := d.units[id]
	superseded := replaced != nil && replaced.state == StatePending
	if superseded {
		replaced.state = StateCancelled
		d.record(replaced, nil, errors.New("replaced"))
	}
	d.units[id] = unit
	d.mu.Unlock()

	if superseded {
		GetMetrics().RecordDelivery(string(StateCancelled), -1)
	}
	if replaced != nil {
		d.removeJob(replaced.job)
	}

	job, err := d.newJob(unit)
	if err != nil {
		d.mu.Lock()
		if d.units[id] == unit {
			delete(d.units, id)
		}
		d.mu.Unlock()
		return fmt.Errorf("failed to arm reminder %s: %w", id, err)
	}

	d.mu.Lock()
	unit.job = job
	finished := unit.state.Terminal()
	d.mu.Unlock()

	// Immediate jobs can finish before NewJob returns.
	if finished {
		d.removeJob(job)
	}

	log.Printf("📅 [DELIVERY] Armed reminder %s for %s", id, unit.fireAt.In(d.loc).Format(time.RFC3339))
	return nil
}

func (d *DeliveryScheduler) newJob(unit *deliveryUnit) (gocron.Job, error) {
	task := gocron.NewTask(func() { d.fire(unit) })
	opts := []gocron.JobOption{
		gocron.WithName(unit.reminderID),
		gocron.WithTags("reminder"),
	}

	if !unit.fireAt.After(d.now()) {
		return d.scheduler.NewJob(gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()), task, opts...)
	}

	job, err := d.scheduler.NewJob(gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(unit.fireAt)), task, opts...)
	if errors.Is(err, gocron.ErrOneTimeJobStartDateTimePast) {
		// Fire time passed between the check and registration.
		return d.scheduler.NewJob(gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()), task, opts...)
	}
	return job, err
}

func (d *DeliveryScheduler) fire(unit *deliveryUnit) {
	d.mu.Lock()
	if unit.state != StatePending {
		d.mu.Unlock()
		return
	}
	unit.state = StateFiring
	guard, lookup := d.guard, d.lookup
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	firedAt := d.now()
	state, err := d.attempt(ctx, unit, guard, lookup)
	d.finish(unit, state, firedAt, err)
}

func (d *DeliveryScheduler) attempt(ctx context.Context, unit *deliveryUnit, guard FireGuard, lookup ReminderLookup) (DeliveryState, error) {
	logger := logging.WithReminder(nil, unit.reminderID, unit.task)

	if lookup != nil {
		current, err := lookup(ctx, unit.reminderID)
		switch {
		case errors.Is(err, ErrNotFound):
			return StateCancelled, errors.New("reminder deleted before delivery")
		case err != nil:
			logger.Warn("fire-time lookup failed, delivering anyway", "error", err)
		case current.Completed:
			return StateCancelled, errors.New("reminder completed before delivery")
		}
	}

	if !unit.transport.IsConnected() {
		return StateDropped, ErrDeliveryDropped
	}

	if guard != nil {
		claimed, err := guard.Claim(ctx, unit.reminderID, unit.fireAt)
		if err != nil {
			logger.Warn("fire guard unavailable, delivering anyway", "error", err)
		} else if !claimed {
			return StateDropped, fmt.Errorf("%w: claimed by another instance", ErrDeliveryDropped)
		}
	}

	fireAt := unit.fireAt.In(d.loc)
	msg := models.ServerMessage{
		Type:         models.MessageTypeNotification,
		Task:         unit.task,
		Message:      "⏰ Reminder: " + unit.task,
		ReminderID:   unit.reminderID,
		ReminderTime: &fireAt,
	}
	if err := unit.transport.Send(msg); err != nil {
		if guard != nil {
			if relErr := guard.Release(ctx, unit.reminderID, unit.fireAt); relErr != nil {
				logger.Warn("failed to release fire claim", "error", relErr)
			}
		}
		return StateFailed, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return StateDelivered, nil
}

func (d *DeliveryScheduler) finish(unit *deliveryUnit, state DeliveryState, firedAt time.Time, err error) {
	d.mu.Lock()
	unit.state = state
	if d.units[unit.reminderID] == unit {
		delete(d.units, unit.reminderID)
	}
	job := unit.job
	outcome := d.record(unit, &firedAt, err)
	d.mu.Unlock()

	lateness := firedAt.Sub(unit.fireAt)
	GetMetrics().RecordDelivery(string(state), float64(lateness.Milliseconds()))

	switch state {
	case StateDelivered:
		log.Printf("🔔 [DELIVERY] Delivered reminder %s (%q), %v late", unit.reminderID, unit.task, lateness.Round(time.Millisecond))
	case StateCancelled:
		log.Printf("⏭️ [DELIVERY] Skipped reminder %s: %s", unit.reminderID, outcome.Error)
	default:
		log.Printf("⚠️ [DELIVERY] Reminder %s %s: %s", unit.reminderID, state, outcome.Error)
	}

	d.removeJob(job)
}

// record stores a terminal outcome. Caller holds d.mu.
func (d *DeliveryScheduler) record(unit *deliveryUnit, firedAt *time.Time, err error) *DeliveryOutcome {
	outcome := &DeliveryOutcome{
		ReminderID:   unit.reminderID,
		Task:         unit.task,
		State:        unit.state,
		ScheduledFor: unit.fireAt,
		FiredAt:      firedAt,
	}
	if err != nil {
		outcome.Error = err.Error()
	}
	d.outcomes.SetDefault(unit.reminderID, outcome)
	return outcome
}

func (d *DeliveryScheduler) removeJob(job gocron.Job) {
	if job == nil {
		return
	}
	go func() {
		if err := d.scheduler.RemoveJob(job.ID()); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
			log.Printf("⚠️ [DELIVERY] Failed to remove job %s: %v", job.Name(), err)
		}
	}()
}

// Cancel withdraws a pending unit. It returns false when nothing is pending for id,
// including when the unit is already firing.
func (d *DeliveryScheduler) Cancel(id string) bool {
	d.mu.Lock()
	unit, ok := d.units[id]
	if !ok || unit.state != StatePending {
		d.mu.Unlock()
		return false
	}
	unit.state = StateCancelled
	delete(d.units, id)
	job := unit.job
	d.record(unit, nil, errors.New("cancelled"))
	d.mu.Unlock()

	GetMetrics().RecordDelivery(string(StateCancelled), -1)
	log.Printf("🗑️ [DELIVERY] Cancelled reminder %s", id)
	d.removeJob(job)
	return true
}

// Reschedule re-arms a pending unit with the reminder's current task and time on the same
// transport. It returns false when no unit is pending for the reminder.
func (d *DeliveryScheduler) Reschedule(reminder *models.Reminder) bool {
	id := reminder.ID.Hex()

	d.mu.Lock()
	unit, ok := d.units[id]
	if !ok || unit.state != StatePending {
		d.mu.Unlock()
		return false
	}
	transport := unit.transport
	d.mu.Unlock()

	if err := d.Arm(reminder, transport); err != nil {
		log.Printf("⚠️ [DELIVERY] Failed to reschedule reminder %s: %v", id, err)
		return false
	}
	return true
}

// IsArmed reports whether a unit is pending for id.
func (d *DeliveryScheduler) IsArmed(id string) bool {
	state, ok := d.State(id)
	return ok && state == StatePending
}

// State returns the state of the unit for id, or of its retained terminal outcome.
func (d *DeliveryScheduler) State(id string) (DeliveryState, bool) {
	outcome, ok := d.Outcome(id)
	if !ok {
		return "", false
	}
	return outcome.State, true
}

// Outcome returns the live or retained outcome for id.
func (d *DeliveryScheduler) Outcome(id string) (*DeliveryOutcome, bool) {
	d.mu.Lock()
	if unit, ok := d.units[id]; ok {
		outcome := &DeliveryOutcome{
			ReminderID:   unit.reminderID,
			Task:         unit.task,
			State:        unit.state,
			ScheduledFor: unit.fireAt,
		}
		d.mu.Unlock()
		return outcome, true
	}
	d.mu.Unlock()

	if cached, ok := d.outcomes.Get(id); ok {
		outcome := *cached.(*DeliveryOutcome)
		return &outcome, true
	}
	return nil, false
}

// Pending returns the number of units waiting to fire.
func (d *DeliveryScheduler) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	count := 0
	for _, unit := range d.units {
		if unit.state == StatePending {
			count++
		}
	}
	return count
}
