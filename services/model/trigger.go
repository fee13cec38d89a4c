package model

import (
	"time"

	"gorm.io/datatypes"
)

type TriggerKind string

const (
	TriggerKindSubmissionTagCount        TriggerKind = "submission_tag_count"
	TriggerKindDistinctSubItemCount      TriggerKind = "distinct_sub_item_count"
	TriggerKindNamedSubItemRepeat        TriggerKind = "named_sub_item_repeat"
	TriggerKindConsecutiveDayStreak      TriggerKind = "consecutive_day_streak"
	TriggerKindTotalSubmissionCount      TriggerKind = "total_submission_count"
	TriggerKindNamedBindingRepeat        TriggerKind = "named_binding_repeat"
	TriggerKindEventPointTotal           TriggerKind = "event_point_total"
	TriggerKindDistinctParticipationDays TriggerKind = "distinct_participation_days"
	TriggerKindGlobalSubmissionCount     TriggerKind = "global_submission_count"
	TriggerKindGlobalPointTotal          TriggerKind = "global_point_total"
)

// Trigger belongs to an event, or is global when EventID is nil.
type Trigger struct {
	ID              string         `gorm:"column:id;primaryKey" json:"id"`
	EventID         *string        `gorm:"column:event_id;index" json:"event_id,omitempty"`
	Kind            TriggerKind    `gorm:"column:kind" json:"kind"`
	Config          datatypes.JSON `gorm:"column:config" json:"config"`
	Condition       string         `gorm:"column:condition" json:"condition,omitempty"`
	PointsGranted   *int64         `gorm:"column:points_granted" json:"points_granted,omitempty"`
	RewardBindingID *string        `gorm:"column:reward_binding_id;index" json:"reward_binding_id,omitempty"`
	CreatedBy       string         `gorm:"column:created_by" json:"created_by"`
	CreatedAt       time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (Trigger) TableName() string { return "triggers" }

func (t *Trigger) IsGlobal() bool { return t.EventID == nil }

// GrantLog proves a trigger was granted to a participant. The unique index is the only guard.
type GrantLog struct {
	ID              string    `gorm:"column:id;primaryKey" json:"id"`
	ParticipantID   string    `gorm:"column:participant_id;uniqueIndex:idx_grant_log_participant_trigger" json:"participant_id"`
	TriggerID       string    `gorm:"column:trigger_id;uniqueIndex:idx_grant_log_participant_trigger" json:"trigger_id"`
	EventID         *string   `gorm:"column:event_id;index" json:"event_id,omitempty"`
	SubmissionID    *string   `gorm:"column:submission_id" json:"submission_id,omitempty"`
	Points          int64     `gorm:"column:points" json:"points"`
	RewardBindingID *string   `gorm:"column:reward_binding_id;index" json:"reward_binding_id,omitempty"`
	RewardID        *string   `gorm:"column:reward_id" json:"reward_id,omitempty"`
	Label           string    `gorm:"column:label" json:"label"`
	CreatedAt       time.Time `gorm:"column:created_at" json:"created_at"`
}

func (GrantLog) TableName() string { return "grant_logs" }
