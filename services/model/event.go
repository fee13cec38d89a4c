package model

import "time"

type EventStatus string

const (
	EventStatusDraft    EventStatus = "draft"
	EventStatusVisible  EventStatus = "visible"
	EventStatusActive   EventStatus = "active"
	EventStatusArchived EventStatus = "archived"
)

func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusDraft, EventStatusVisible, EventStatusActive, EventStatusArchived:
		return true
	}
	return false
}

type Event struct {
	ID               string      `gorm:"column:id;primaryKey" json:"id"`
	Code             string      `gorm:"column:code;uniqueIndex" json:"code"`
	Name             string      `gorm:"column:name" json:"name"`
	Status           EventStatus `gorm:"column:status;index" json:"status"`
	DisplayChannelID *string     `gorm:"column:display_channel_id" json:"display_channel_id,omitempty"`
	DisplayMessageID *string     `gorm:"column:display_message_id" json:"display_message_id,omitempty"`
	Priority         int         `gorm:"column:priority" json:"priority"`
	CreatedBy        string      `gorm:"column:created_by" json:"created_by"`
	CreatedAt        time.Time   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time   `gorm:"column:updated_at" json:"updated_at"`
}

func (Event) TableName() string { return "events" }

// HasDisplayReference reports whether both halves of the display pointer are set.
func (e *Event) HasDisplayReference() bool {
	return e.DisplayChannelID != nil && *e.DisplayChannelID != "" &&
		e.DisplayMessageID != nil && *e.DisplayMessageID != ""
}

type EventTransitionLog struct {
	ID         string      `gorm:"column:id;primaryKey" json:"id"`
	EventID    string      `gorm:"column:event_id;index" json:"event_id"`
	ActorID    string      `gorm:"column:actor_id" json:"actor_id"`
	FromStatus EventStatus `gorm:"column:from_status" json:"from_status"`
	ToStatus   EventStatus `gorm:"column:to_status" json:"to_status"`
	Reason     string      `gorm:"column:reason" json:"reason"`
	Forced     bool        `gorm:"column:forced" json:"forced"`
	CreatedAt  time.Time   `gorm:"column:created_at" json:"created_at"`
}

func (EventTransitionLog) TableName() string { return "event_transition_logs" }

// ForceConfirmation is the first half of a forced catalog mutation against an Active event.
type ForceConfirmation struct {
	ID         string     `gorm:"column:id;primaryKey" json:"token"`
	EventID    string     `gorm:"column:event_id;index" json:"event_id"`
	ActorID    string     `gorm:"column:actor_id" json:"actor_id"`
	Operation  string     `gorm:"column:operation" json:"operation"`
	Reason     string     `gorm:"column:reason" json:"reason"`
	ExpiresAt  time.Time  `gorm:"column:expires_at" json:"expires_at"`
	ConsumedAt *time.Time `gorm:"column:consumed_at" json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `gorm:"column:created_at" json:"created_at"`
}

func (ForceConfirmation) TableName() string { return "force_confirmations" }
