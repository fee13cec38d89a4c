package trigger

import (
	"strings"
	"time"

	"smallbiznis-engagement/services/model"
)

const dayLayout = "2006-01-02"

// EvalContext is the participant's history as seen by one evaluation pass.
type EvalContext struct {
	ParticipantID string
	EventID       string

	CurrentTags []model.SubItem
	// ItemCounts counts every tagged sub-item in the event, keyed case-insensitively.
	ItemCounts    map[string]int64
	BindingCounts map[string]int64
	// Days holds each calendar day with a submission, at midnight in the engine timezone.
	Days []time.Time

	EventSubmissions  int64
	EventPoints       int64
	LifetimeEarned    int64
	GlobalSubmissions int64

	groups map[string]map[string]struct{}
}

func newEvalContext(participantID, eventID string) *EvalContext {
	return &EvalContext{
		ParticipantID: participantID,
		EventID:       eventID,
		ItemCounts:    map[string]int64{},
		BindingCounts: map[string]int64{},
		groups:        map[string]map[string]struct{}{},
	}
}

// addSubmission folds one in-event submission into the context.
func (c *EvalContext) addSubmission(s *model.Submission, loc *time.Location) {
	c.EventSubmissions++
	if s.ActionBindingID != nil {
		c.BindingCounts[*s.ActionBindingID]++
	}
	for _, item := range s.SubItems {
		id := normalizeItem(item.ID)
		if id == "" {
			continue
		}
		c.ItemCounts[id]++
		group := strings.ToLower(strings.TrimSpace(item.Group))
		if c.groups[id] == nil {
			c.groups[id] = map[string]struct{}{}
		}
		c.groups[id][group] = struct{}{}
	}
	c.Days = addDay(c.Days, s.CreatedAt.In(loc))
}

// DistinctSubItems counts distinct sub-items, optionally only those tagged in group.
func (c *EvalContext) DistinctSubItems(group string) int64 {
	group = strings.ToLower(strings.TrimSpace(group))
	var n int64
	for _, groups := range c.groups {
		if group == "" {
			n++
			continue
		}
		if _, ok := groups[group]; ok {
			n++
		}
	}
	return n
}

// Attributes exposes the context to CEL conditions.
func (c *EvalContext) Attributes() map[string]any {
	tags := make([]string, 0, len(c.CurrentTags))
	for _, t := range c.CurrentTags {
		tags = append(tags, normalizeItem(t.ID))
	}
	items := make(map[string]int64, len(c.ItemCounts))
	for k, v := range c.ItemCounts {
		items[k] = v
	}
	return map[string]any{
		"participant_id":     c.ParticipantID,
		"event_id":           c.EventID,
		"current_tags":       tags,
		"item_counts":        items,
		"event_submissions":  c.EventSubmissions,
		"event_points":       c.EventPoints,
		"lifetime_earned":    c.LifetimeEarned,
		"global_submissions": c.GlobalSubmissions,
		"participation_days": int64(len(c.Days)),
		"streak":             int64(Streak(c.Days)),
	}
}

func addDay(days []time.Time, t time.Time) []time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	for _, existing := range days {
		if existing.Equal(d) {
			return days
		}
	}
	return append(days, d)
}

// Streak counts consecutive calendar days ending at the most recent day in days.
func Streak(days []time.Time) int {
	if len(days) == 0 {
		return 0
	}

	present := make(map[string]struct{}, len(days))
	var latest time.Time
	for _, d := range days {
		present[d.Format(dayLayout)] = struct{}{}
		if d.After(latest) {
			latest = d
		}
	}

	streak := 0
	for d := latest; ; d = d.AddDate(0, 0, -1) {
		if _, ok := present[d.Format(dayLayout)]; !ok {
			break
		}
		streak++
	}
	return streak
}
