package ledger

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"smallbiznis-engagement/services/model"

	"gorm.io/datatypes"
)

const genesisHash = "GENESIS"

type CreditParams struct {
	ParticipantID string
	Amount        int64
	// EventID also bumps the participant's per-event total when set.
	EventID     string
	ReferenceID string
	Description string
	Metadata    map[string]any
}

type DebitParams struct {
	ParticipantID string
	Amount        int64
	EventID       string
	ReferenceID   string
	Description   string
	Metadata      map[string]any
}

type VerifyResult struct {
	ParticipantID string `json:"participant_id"`
	Valid         bool   `json:"valid"`
	Entries       int    `json:"entries"`
	BrokenAt      string `json:"broken_at,omitempty"`
}

type entryParams struct {
	ID            string
	ParticipantID string
	Sequence      int64
	EventID       string
	Type          model.EntryType
	Amount        int64
	BalanceAfter  int64
	ReferenceID   string
	TransactionID string
	Description   string
	PreviousHash  string
	Metadata      datatypes.JSON
	CreatedAt     time.Time
}

func newLedgerEntry(p entryParams) *model.LedgerEntry {
	e := &model.LedgerEntry{
		ID:            p.ID,
		ParticipantID: p.ParticipantID,
		Sequence:      p.Sequence,
		Type:          p.Type,
		Amount:        p.Amount,
		BalanceAfter:  p.BalanceAfter,
		TransactionID: p.TransactionID,
		ReferenceID:   p.ReferenceID,
		Description:   p.Description,
		PreviousHash:  p.PreviousHash,
		Metadata:      p.Metadata,
		CreatedAt:     p.CreatedAt,
	}
	if p.EventID != "" {
		eventID := p.EventID
		e.EventID = &eventID
	}
	e.Hash = GenerateHash(e)
	return e
}

func hashFields(m *model.LedgerEntry) map[string]string {
	eventID := ""
	if m.EventID != nil {
		eventID = *m.EventID
	}
	return map[string]string{
		"id":             m.ID,
		"participant_id": m.ParticipantID,
		"sequence":       fmt.Sprintf("%d", m.Sequence),
		"event_id":       eventID,
		"type":           string(m.Type),
		"amount":         fmt.Sprintf("%d", m.Amount),
		"balance_after":  fmt.Sprintf("%d", m.BalanceAfter),
		"transaction_id": m.TransactionID,
		"reference_id":   m.ReferenceID,
		"description":    m.Description,
		"created_at":     m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":  m.PreviousHash,
	}
}

// GenerateHash hashes the sorted key=value pairs of an entry together with its predecessor's hash.
func GenerateHash(l *model.LedgerEntry) string {
	fields := hashFields(l)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

func GenerateTransactionID(now time.Time) (string, error) {
	r := make([]byte, 3)
	if _, err := rand.Read(r); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", now.Format("20060102"), strings.ToUpper(hex.EncodeToString(r))), nil
}
