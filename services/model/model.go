// Package model holds the persisted entities shared by the engagement services.
package model

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&Event{},
		&EventTransitionLog{},
		&ForceConfirmation{},
		&Participant{},
		&EventLedger{},
		&LedgerEntry{},
		&ActionDefinition{},
		&ActionBinding{},
		&Reward{},
		&RewardBinding{},
		&CatalogAuditLog{},
		&Submission{},
		&Trigger{},
		&GrantLog{},
		&InventoryEntry{},
	}
}
