package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Reminder is a persisted task with an absolute delivery time.
// ReminderTime and CompletedAt are stored in UTC; display conversion happens at the edges.
type Reminder struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Task         string             `bson:"task" json:"task"`
	ReminderTime time.Time          `bson:"reminder_time" json:"reminder_time"`
	Completed    bool               `bson:"completed" json:"completed"`
	CompletedAt  *time.Time         `bson:"completed_at" json:"completed_at"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at,omitempty" json:"updated_at,omitempty"`

	// SessionID is the session that created the reminder. Delivery affinity only.
	SessionID string `bson:"session_id,omitempty" json:"session_id,omitempty"`
}

// Normalize converts all instants to UTC.
func (r *Reminder) Normalize() {
	r.ReminderTime = r.ReminderTime.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	if !r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.UpdatedAt.UTC()
	}
	if r.CompletedAt != nil {
		at := r.CompletedAt.UTC()
		r.CompletedAt = &at
	}
}

// SetCompleted flips completion and keeps CompletedAt consistent with it.
func (r *Reminder) SetCompleted(completed bool, now time.Time) {
	if completed == r.Completed {
		return
	}
	r.Completed = completed
	if completed {
		at := now.UTC()
		r.CompletedAt = &at
	} else {
		r.CompletedAt = nil
	}
}

// ReminderPatch holds the editable fields of a reminder. Nil fields are left untouched.
type ReminderPatch struct {
	Task         *string    `json:"task,omitempty"`
	ReminderTime *time.Time `json:"reminder_time,omitempty"`
	Completed    *bool      `json:"completed,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ReminderPatch) IsEmpty() bool {
	return p.Task == nil && p.ReminderTime == nil && p.Completed == nil
}

// Apply applies the patch to r in memory.
func (p ReminderPatch) Apply(r *Reminder, now time.Time) {
	if p.Task != nil {
		r.Task = *p.Task
	}
	if p.ReminderTime != nil {
		r.ReminderTime = p.ReminderTime.UTC()
	}
	if p.Completed != nil {
		r.SetCompleted(*p.Completed, now)
	}
	r.UpdatedAt = now.UTC()
}

// UpdateReminderRequest is the body of PUT /reminders/:id.
type UpdateReminderRequest struct {
	Task         *string `json:"task,omitempty"`
	ReminderTime *string `json:"reminder_time,omitempty"` // RFC 3339 with offset
	Completed    *bool   `json:"completed,omitempty"`
}

// ReminderResponse is the API representation of a reminder.
type ReminderResponse struct {
	ID           string     `json:"id"`
	LegacyID     string     `json:"_id"`
	Task         string     `json:"task"`
	ReminderTime time.Time  `json:"reminder_time"`
	Completed    bool       `json:"completed"`
	CompletedAt  *time.Time `json:"completed_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// ToResponse renders the reminder with instants in loc.
func (r *Reminder) ToResponse(loc *time.Location) *ReminderResponse {
	if loc == nil {
		loc = time.UTC
	}
	resp := &ReminderResponse{
		ID:           r.ID.Hex(),
		LegacyID:     r.ID.Hex(),
		Task:         r.Task,
		ReminderTime: r.ReminderTime.In(loc),
		Completed:    r.Completed,
		CreatedAt:    r.CreatedAt.In(loc),
	}
	if r.CompletedAt != nil {
		at := r.CompletedAt.In(loc)
		resp.CompletedAt = &at
	}
	if !r.UpdatedAt.IsZero() {
		at := r.UpdatedAt.In(loc)
		resp.UpdatedAt = &at
	}
	return resp
}
