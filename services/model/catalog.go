package model

import (
	"time"

	"gorm.io/datatypes"
)

type FieldKind string

const (
	FieldKindURL     FieldKind = "url"
	FieldKindNumeric FieldKind = "numeric"
	FieldKindText    FieldKind = "text"
	FieldKindBoolean FieldKind = "boolean"
	FieldKindDate    FieldKind = "date"
)

func (k FieldKind) Valid() bool {
	switch k {
	case FieldKindURL, FieldKindNumeric, FieldKindText, FieldKindBoolean, FieldKindDate:
		return true
	}
	return false
}

type ActionDefinition struct {
	ID          string                         `gorm:"column:id;primaryKey" json:"id"`
	Key         string                         `gorm:"column:key;uniqueIndex" json:"key"`
	Name        string                         `gorm:"column:name" json:"name"`
	Description string                         `gorm:"column:description" json:"description"`
	IsActive    bool                           `gorm:"column:is_active" json:"is_active"`
	FieldKinds  datatypes.JSONSlice[FieldKind] `gorm:"column:field_kinds" json:"field_kinds"`
	CreatedAt   time.Time                      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time                      `gorm:"column:updated_at" json:"updated_at"`
}

func (ActionDefinition) TableName() string { return "action_definitions" }

type ActionBinding struct {
	ID                     string    `gorm:"column:id;primaryKey" json:"id"`
	EventID                string    `gorm:"column:event_id;index" json:"event_id"`
	ActionDefinitionID     string    `gorm:"column:action_definition_id;index" json:"action_definition_id"`
	Variant                string    `gorm:"column:variant" json:"variant"`
	CompositeKey           string    `gorm:"column:composite_key;uniqueIndex" json:"composite_key"`
	PointsBase             int64     `gorm:"column:points_base" json:"points_base"`
	IsNumericMultiplier    bool      `gorm:"column:is_numeric_multiplier" json:"is_numeric_multiplier"`
	IsRepeatable           bool      `gorm:"column:is_repeatable" json:"is_repeatable"`
	IsSelfReportable       bool      `gorm:"column:is_self_reportable" json:"is_self_reportable"`
	IsAllowedDuringVisible bool      `gorm:"column:is_allowed_during_visible" json:"is_allowed_during_visible"`
	RewardBindingID        *string   `gorm:"column:reward_binding_id;index" json:"reward_binding_id,omitempty"`
	CreatedAt              time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt              time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (ActionBinding) TableName() string { return "action_bindings" }

type RewardKind string

const (
	RewardKindTitle   RewardKind = "title"
	RewardKindBadge   RewardKind = "badge"
	RewardKindPreset  RewardKind = "preset"
	RewardKindDynamic RewardKind = "dynamic"
)

func (k RewardKind) Valid() bool {
	switch k {
	case RewardKindTitle, RewardKindBadge, RewardKindPreset, RewardKindDynamic:
		return true
	}
	return false
}

// RequiresPublication reports whether rewards of this kind must be published
// before they can be attached to an event.
func (k RewardKind) RequiresPublication() bool {
	return k == RewardKindBadge || k == RewardKindPreset
}

type Reward struct {
	ID                 string     `gorm:"column:id;primaryKey" json:"id"`
	Key                string     `gorm:"column:key;uniqueIndex" json:"key"`
	Name               string     `gorm:"column:name" json:"name"`
	Description        string     `gorm:"column:description" json:"description"`
	Kind               RewardKind `gorm:"column:kind" json:"kind"`
	IsStackable        bool       `gorm:"column:is_stackable" json:"is_stackable"`
	GrantedCount       int64      `gorm:"column:granted_count" json:"granted_count"`
	PublishedChannelID *string    `gorm:"column:published_channel_id" json:"published_channel_id,omitempty"`
	PublishedMessageID *string    `gorm:"column:published_message_id" json:"published_message_id,omitempty"`
	CreatedAt          time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (Reward) TableName() string { return "rewards" }

func (r *Reward) IsPublished() bool {
	return r.PublishedMessageID != nil && *r.PublishedMessageID != ""
}

type Availability string

const (
	AvailabilityInShop    Availability = "in-shop"
	AvailabilityOnAction  Availability = "on-action"
	AvailabilityOnTrigger Availability = "on-trigger"
)

func (a Availability) Valid() bool {
	switch a {
	case AvailabilityInShop, AvailabilityOnAction, AvailabilityOnTrigger:
		return true
	}
	return false
}

type RewardBinding struct {
	ID           string       `gorm:"column:id;primaryKey" json:"id"`
	EventID      string       `gorm:"column:event_id;index" json:"event_id"`
	RewardID     string       `gorm:"column:reward_id;index" json:"reward_id"`
	Availability Availability `gorm:"column:availability" json:"availability"`
	Price        int64        `gorm:"column:price" json:"price"`
	CompositeKey string       `gorm:"column:composite_key;uniqueIndex" json:"composite_key"`
	CreatedAt    time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func (RewardBinding) TableName() string { return "reward_bindings" }

// CatalogAuditLog records every catalog mutation, tagged when it overrode an Active event.
type CatalogAuditLog struct {
	ID         string         `gorm:"column:id;primaryKey" json:"id"`
	EventID    string         `gorm:"column:event_id;index" json:"event_id"`
	ActorID    string         `gorm:"column:actor_id" json:"actor_id"`
	Operation  string         `gorm:"column:operation" json:"operation"`
	EntityType string         `gorm:"column:entity_type" json:"entity_type"`
	EntityID   string         `gorm:"column:entity_id" json:"entity_id"`
	Reason     string         `gorm:"column:reason" json:"reason"`
	Forced     bool           `gorm:"column:forced" json:"forced"`
	Before     datatypes.JSON `gorm:"column:before" json:"before,omitempty"`
	After      datatypes.JSON `gorm:"column:after" json:"after,omitempty"`
	CreatedAt  time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (CatalogAuditLog) TableName() string { return "catalog_audit_logs" }
