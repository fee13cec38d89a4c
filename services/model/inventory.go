package model

import "time"

type InventoryEntry struct {
	ID            string    `gorm:"column:id;primaryKey" json:"id"`
	ParticipantID string    `gorm:"column:participant_id;uniqueIndex:idx_inventory_participant_reward" json:"participant_id"`
	RewardID      string    `gorm:"column:reward_id;uniqueIndex:idx_inventory_participant_reward" json:"reward_id"`
	Quantity      int64     `gorm:"column:quantity" json:"quantity"`
	IsEquipped    bool      `gorm:"column:is_equipped" json:"is_equipped"`
	CreatedAt     time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (InventoryEntry) TableName() string { return "inventory_entries" }
