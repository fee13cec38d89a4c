// Package notify is the outbound boundary towards participants. Delivery is
// asynchronous and best effort: a notifier never reports failure to the caller.
package notify

import (
	"context"
	"fmt"
	"strings"
)

type SubmissionNotice struct {
	ParticipantID string  `json:"participant_id"`
	EventID       string  `json:"event_id"`
	SubmissionID  string  `json:"submission_id"`
	ActionName    string  `json:"action_name"`
	PointsAwarded int64   `json:"points_awarded"`
	RewardName    *string `json:"reward_name,omitempty"`
	TraceID       string  `json:"trace_id,omitempty"`
}

func (n SubmissionNotice) Message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Submission confirmed for %s", n.ActionName)
	if n.PointsAwarded > 0 {
		fmt.Fprintf(&b, ": +%d points", n.PointsAwarded)
	}
	if n.RewardName != nil {
		fmt.Fprintf(&b, ", received %s", *n.RewardName)
	}
	return b.String()
}

type GrantNotice struct {
	ParticipantID string  `json:"participant_id"`
	EventID       string  `json:"event_id,omitempty"`
	TriggerID     string  `json:"trigger_id"`
	Label         string  `json:"label"`
	Points        int64   `json:"points"`
	RewardName    *string `json:"reward_name,omitempty"`
	TraceID       string  `json:"trace_id,omitempty"`
}

func (n GrantNotice) Message() string {
	switch {
	case n.RewardName != nil:
		return fmt.Sprintf("Milestone reached: %s. You received %s", n.Label, *n.RewardName)
	case n.Points > 0:
		return fmt.Sprintf("Milestone reached: %s. +%d points", n.Label, n.Points)
	default:
		return "Milestone reached: " + n.Label
	}
}

type Notifier interface {
	SubmissionConfirmed(ctx context.Context, n SubmissionNotice)
	TriggerGranted(ctx context.Context, n GrantNotice)
}
