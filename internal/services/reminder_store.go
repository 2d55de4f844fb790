package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"remindai/internal/models"
)

// ReminderStore persists reminders. Implementations return ErrInvalidIdentifier for
// malformed ids, ErrNotFound for unknown ones and *PersistenceError for storage failures.
type ReminderStore interface {
	Create(ctx context.Context, reminder *models.Reminder) (*models.Reminder, error)
	Get(ctx context.Context, id string) (*models.Reminder, error)
	ToggleCompletion(ctx context.Context, id string, now time.Time) (*models.Reminder, error)
	Update(ctx context.Context, id string, patch models.ReminderPatch, now time.Time) (*models.Reminder, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit int) ([]*models.Reminder, error)
	// ListPending returns incomplete reminders due after the given instant, ordered by
	// reminder_time. A zero instant returns every incomplete reminder.
	ListPending(ctx context.Context, after time.Time) ([]*models.Reminder, error)
}

func parseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, ErrInvalidIdentifier
	}
	return oid, nil
}

// MemoryReminderStore is an in-process ReminderStore used for tests and for running
// without MongoDB.
type MemoryReminderStore struct {
	mu        sync.RWMutex
	reminders map[primitive.ObjectID]*models.Reminder
	order     []primitive.ObjectID
}

// NewMemoryReminderStore creates an empty store.
func NewMemoryReminderStore() *MemoryReminderStore {
	return &MemoryReminderStore{
		reminders: make(map[primitive.ObjectID]*models.Reminder),
	}
}

func cloneReminder(r *models.Reminder) *models.Reminder {
	c := *r
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

func (s *MemoryReminderStore) Create(ctx context.Context, reminder *models.Reminder) (*models.Reminder, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistenceError("create", err)
	}

	r := cloneReminder(reminder)
	if r.ID.IsZero() {
		r.ID = primitive.NewObjectID()
	}
	r.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reminders[r.ID]; exists {
		return nil, persistenceError("create", ErrDuplicateID)
	}
	s.reminders[r.ID] = r
	s.order = append(s.order, r.ID)
	return cloneReminder(r), nil
}

func (s *MemoryReminderStore) Get(ctx context.Context, id string) (*models.Reminder, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reminders[oid]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneReminder(r), nil
}

func (s *MemoryReminderStore) ToggleCompletion(ctx context.Context, id string, now time.Time) (*models.Reminder, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[oid]
	if !ok {
		return nil, ErrNotFound
	}
	r.SetCompleted(!r.Completed, now)
	r.UpdatedAt = now.UTC()
	return cloneReminder(r), nil
}

func (s *MemoryReminderStore) Update(ctx context.Context, id string, patch models.ReminderPatch, now time.Time) (*models.Reminder, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[oid]
	if !ok {
		return nil, ErrNotFound
	}
	patch.Apply(r, now)
	return cloneReminder(r), nil
}

func (s *MemoryReminderStore) Delete(ctx context.Context, id string) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reminders[oid]; !ok {
		return ErrNotFound
	}
	delete(s.reminders, oid)
	for i, existing := range s.order {
		if existing == oid {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryReminderStore) List(ctx context.Context, limit int) ([]*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}
	out := make([]*models.Reminder, 0, limit)
	for _, oid := range s.order {
		if len(out) >= limit {
			break
		}
		out = append(out, cloneReminder(s.reminders[oid]))
	}
	return out, nil
}

func (s *MemoryReminderStore) ListPending(ctx context.Context, after time.Time) ([]*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Reminder
	for _, oid := range s.order {
		r := s.reminders[oid]
		if r.Completed {
			continue
		}
		if !after.IsZero() && !r.ReminderTime.After(after) {
			continue
		}
		out = append(out, cloneReminder(r))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReminderTime.Before(out[j].ReminderTime)
	})
	return out, nil
}
