package model

import (
	"time"

	"gorm.io/datatypes"
)

type Participant struct {
	ID             string    `gorm:"column:id;primaryKey" json:"id"`
	Balance        int64     `gorm:"column:balance" json:"balance"`
	LifetimeEarned int64     `gorm:"column:lifetime_earned" json:"lifetime_earned"`
	LifetimeSpent  int64     `gorm:"column:lifetime_spent" json:"lifetime_spent"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Participant) TableName() string { return "participants" }

// EventLedger is the per-event point total of one participant.
type EventLedger struct {
	ID            string    `gorm:"column:id;primaryKey" json:"id"`
	ParticipantID string    `gorm:"column:participant_id;uniqueIndex:idx_event_ledger_participant_event" json:"participant_id"`
	EventID       string    `gorm:"column:event_id;uniqueIndex:idx_event_ledger_participant_event" json:"event_id"`
	Points        int64     `gorm:"column:points" json:"points"`
	CreatedAt     time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (EventLedger) TableName() string { return "event_ledgers" }

type EntryType string

const (
	EntryTypeCredit EntryType = "credit"
	EntryTypeDebit  EntryType = "debit"
)

type LedgerEntry struct {
	ID            string         `gorm:"column:id;primaryKey" json:"id"`
	ParticipantID string         `gorm:"column:participant_id;uniqueIndex:idx_ledger_entry_participant_seq" json:"participant_id"`
	Sequence      int64          `gorm:"column:sequence;uniqueIndex:idx_ledger_entry_participant_seq" json:"sequence"`
	EventID       *string        `gorm:"column:event_id;index" json:"event_id,omitempty"`
	Type          EntryType      `gorm:"column:type" json:"type"`
	Amount        int64          `gorm:"column:amount" json:"amount"`
	BalanceAfter  int64          `gorm:"column:balance_after" json:"balance_after"`
	TransactionID string         `gorm:"column:transaction_id" json:"transaction_id"`
	ReferenceID   string         `gorm:"column:reference_id;index" json:"reference_id"`
	Description   string         `gorm:"column:description" json:"description"`
	PreviousHash  string         `gorm:"column:previous_hash" json:"previous_hash"`
	Hash          string         `gorm:"column:hash" json:"hash"`
	Metadata      datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }
