package trigger

import (
	"encoding/json"

	"smallbiznis-engagement/services/catalog"
	"smallbiznis-engagement/services/model"
)

const (
	OpCreateTrigger = "create_trigger"
	OpDeleteTrigger = "delete_trigger"
)

// CreateTriggerRequest defines a milestone. Exactly one of PointsGranted and
// RewardBindingID must be set. An empty EventID creates a global trigger.
type CreateTriggerRequest struct {
	EventID         string            `json:"event_id"`
	Kind            model.TriggerKind `json:"kind"`
	Config          json.RawMessage   `json:"config"`
	Condition       string            `json:"condition"`
	PointsGranted   *int64            `json:"points_granted"`
	RewardBindingID *string           `json:"reward_binding_id"`
	catalog.Mutation
}

type DeleteTriggerRequest struct {
	TriggerID string `json:"-"`
	catalog.Mutation
}

// Grant is one trigger granted during an evaluation pass.
type Grant struct {
	TriggerID  string  `json:"trigger_id"`
	Label      string  `json:"label"`
	Points     int64   `json:"points,omitempty"`
	RewardName *string `json:"reward_name,omitempty"`
}

type EvaluatePayload struct {
	ParticipantID string `json:"participant_id"`
	EventID       string `json:"event_id"`
	SubmissionID  string `json:"submission_id,omitempty"`
	TraceID       string `json:"trace_id,omitempty"`
}
