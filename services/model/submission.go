package model

import (
	"time"

	"gorm.io/datatypes"
)

// SubItem is an identifier tagged on a submission, optionally inside a named group.
type SubItem struct {
	ID    string `json:"id"`
	Group string `json:"group,omitempty"`
}

type FieldPayload map[FieldKind]string

type Submission struct {
	ID              string                           `gorm:"column:id;primaryKey" json:"id"`
	ParticipantID   string                           `gorm:"column:participant_id;index" json:"participant_id"`
	EventID         string                           `gorm:"column:event_id;index" json:"event_id"`
	ActionBindingID *string                          `gorm:"column:action_binding_id;index" json:"action_binding_id,omitempty"`
	RewardBindingID *string                          `gorm:"column:reward_binding_id;index" json:"reward_binding_id,omitempty"`
	UniqueKey       *string                          `gorm:"column:unique_key;uniqueIndex" json:"-"`
	Fields          datatypes.JSONType[FieldPayload] `gorm:"column:fields" json:"fields"`
	SubItems        datatypes.JSONSlice[SubItem]     `gorm:"column:sub_items" json:"sub_items"`
	PointsAwarded   int64                            `gorm:"column:points_awarded" json:"points_awarded"`
	CreatedAt       time.Time                        `gorm:"column:created_at;index" json:"created_at"`
}

func (Submission) TableName() string { return "submissions" }

// SubmissionUniqueKey is the storage-level guard for non-repeatable bindings.
func SubmissionUniqueKey(participantID, bindingID string) string {
	return participantID + ":" + bindingID
}
