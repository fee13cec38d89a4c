package inventory

import "smallbiznis-engagement/services/model"

type GrantResult struct {
	Reward  *model.Reward
	Entry   *model.InventoryEntry
	Granted bool
}

type PurchaseRequest struct {
	ParticipantID   string `json:"participant_id"`
	RewardBindingID string `json:"reward_binding_id"`
}

type PurchaseResult struct {
	Reward  *model.Reward         `json:"reward"`
	Entry   *model.InventoryEntry `json:"entry"`
	Spent   int64                 `json:"spent"`
	Balance int64                 `json:"balance"`
}

// Item is an owned reward as shown to its participant.
type Item struct {
	RewardID    string           `json:"reward_id"`
	Key         string           `json:"key"`
	Name        string           `json:"name"`
	Kind        model.RewardKind `json:"kind"`
	Quantity    int64            `json:"quantity"`
	IsEquipped  bool             `json:"is_equipped"`
	IsStackable bool             `json:"is_stackable"`
}
