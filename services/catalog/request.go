package catalog

import "smallbiznis-engagement/services/model"

const (
	OpLinkAction          = "link_action"
	OpEditActionBinding   = "edit_action_binding"
	OpUnlinkAction        = "unlink_action"
	OpLinkReward          = "link_reward"
	OpEditRewardBinding   = "edit_reward_binding"
	OpUnlinkReward        = "unlink_reward"
	entityActionBinding   = "action_binding"
	entityRewardBinding   = "reward_binding"
	existingIDDetailField = "existing_id"
)

// Mutation carries who is changing the catalog and, for Active events, the
// force flag with the token obtained from event.RequestForce.
type Mutation struct {
	ActorID           string `json:"actor_id"`
	Reason            string `json:"reason"`
	Force             bool   `json:"force"`
	ConfirmationToken string `json:"confirmation_token"`
}

type CreateActionDefinitionRequest struct {
	Key         string            `json:"key"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	FieldKinds  []model.FieldKind `json:"field_kinds"`
}

type DeprecateActionDefinitionRequest struct {
	ID      string `json:"-"`
	ActorID string `json:"actor_id"`
}

type DeprecateActionDefinitionResult struct {
	Definition *model.ActionDefinition `json:"definition,omitempty"`
	Deleted    bool                    `json:"deleted"`
}

type CreateRewardRequest struct {
	Key         string           `json:"key"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Kind        model.RewardKind `json:"kind"`
	IsStackable bool             `json:"is_stackable"`
}

type PublishRewardRequest struct {
	RewardID  string `json:"-"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

type LinkActionRequest struct {
	EventID                string  `json:"-"`
	ActionDefinitionID     string  `json:"action_definition_id"`
	Variant                string  `json:"variant"`
	PointsBase             int64   `json:"points_base"`
	IsNumericMultiplier    bool    `json:"is_numeric_multiplier"`
	IsRepeatable           bool    `json:"is_repeatable"`
	IsSelfReportable       bool    `json:"is_self_reportable"`
	IsAllowedDuringVisible bool    `json:"is_allowed_during_visible"`
	RewardBindingID        *string `json:"reward_binding_id"`
	Mutation
}

// EditActionBindingRequest changes only the fields that are set. An empty
// RewardBindingID detaches the direct reward.
type EditActionBindingRequest struct {
	BindingID              string  `json:"-"`
	PointsBase             *int64  `json:"points_base"`
	IsNumericMultiplier    *bool   `json:"is_numeric_multiplier"`
	IsRepeatable           *bool   `json:"is_repeatable"`
	IsSelfReportable       *bool   `json:"is_self_reportable"`
	IsAllowedDuringVisible *bool   `json:"is_allowed_during_visible"`
	RewardBindingID        *string `json:"reward_binding_id"`
	Mutation
}

type UnlinkRequest struct {
	BindingID string `json:"-"`
	Mutation
}

type LinkRewardRequest struct {
	EventID      string             `json:"-"`
	RewardID     string             `json:"reward_id"`
	Availability model.Availability `json:"availability"`
	Price        int64              `json:"price"`
	Mutation
}

type EditRewardBindingRequest struct {
	BindingID    string              `json:"-"`
	Availability *model.Availability `json:"availability"`
	Price        *int64              `json:"price"`
	Mutation
}
