package trigger

import (
	"encoding/json"
	"fmt"
	"strings"

	"smallbiznis-engagement/pkg/errutil"
	"smallbiznis-engagement/services/model"
)

// Spec is the typed configuration of one trigger kind.
type Spec interface {
	Kind() model.TriggerKind
	Validate() error
	Satisfied(c *EvalContext) bool
	Label() string
}

type threshold struct {
	Threshold int64 `json:"threshold"`
}

func (t threshold) validate() error {
	if t.Threshold < 1 {
		return errutil.Validation("threshold must be at least 1", errutil.Detail{Field: "config.threshold", Message: "must be >= 1"})
	}
	return nil
}

type SubmissionTagCount struct{ threshold }

func (SubmissionTagCount) Kind() model.TriggerKind { return model.TriggerKindSubmissionTagCount }
func (s SubmissionTagCount) Validate() error       { return s.validate() }
func (s SubmissionTagCount) Satisfied(c *EvalContext) bool {
	return int64(len(c.CurrentTags)) >= s.Threshold
}
func (s SubmissionTagCount) Label() string {
	return fmt.Sprintf("Tagged %d items in one submission", s.Threshold)
}

type DistinctSubItemCount struct {
	threshold
	SubGroup string `json:"sub_group,omitempty"`
}

func (DistinctSubItemCount) Kind() model.TriggerKind { return model.TriggerKindDistinctSubItemCount }
func (s DistinctSubItemCount) Validate() error       { return s.validate() }
func (s DistinctSubItemCount) Satisfied(c *EvalContext) bool {
	return c.DistinctSubItems(s.SubGroup) >= s.Threshold
}
func (s DistinctSubItemCount) Label() string {
	if s.SubGroup != "" {
		return fmt.Sprintf("Logged %d different %s", s.Threshold, s.SubGroup)
	}
	return fmt.Sprintf("Logged %d different items", s.Threshold)
}

type NamedSubItemRepeat struct {
	threshold
	Item string `json:"item"`
}

func (NamedSubItemRepeat) Kind() model.TriggerKind { return model.TriggerKindNamedSubItemRepeat }
func (s NamedSubItemRepeat) Validate() error {
	if strings.TrimSpace(s.Item) == "" {
		return errutil.Validation("item is required", errutil.Detail{Field: "config.item", Message: "required"})
	}
	return s.validate()
}
func (s NamedSubItemRepeat) Satisfied(c *EvalContext) bool {
	return c.ItemCounts[normalizeItem(s.Item)] >= s.Threshold
}
func (s NamedSubItemRepeat) Label() string {
	return fmt.Sprintf("Logged %s %d times", s.Item, s.Threshold)
}

type ConsecutiveDayStreak struct{ threshold }

func (ConsecutiveDayStreak) Kind() model.TriggerKind { return model.TriggerKindConsecutiveDayStreak }
func (s ConsecutiveDayStreak) Validate() error       { return s.validate() }
func (s ConsecutiveDayStreak) Satisfied(c *EvalContext) bool {
	return int64(Streak(c.Days)) >= s.Threshold
}
func (s ConsecutiveDayStreak) Label() string {
	return fmt.Sprintf("%d-day streak", s.Threshold)
}

type TotalSubmissionCount struct{ threshold }

func (TotalSubmissionCount) Kind() model.TriggerKind { return model.TriggerKindTotalSubmissionCount }
func (s TotalSubmissionCount) Validate() error       { return s.validate() }
func (s TotalSubmissionCount) Satisfied(c *EvalContext) bool {
	return c.EventSubmissions >= s.Threshold
}
func (s TotalSubmissionCount) Label() string {
	return fmt.Sprintf("%d submissions", s.Threshold)
}

type NamedBindingRepeat struct {
	threshold
	ActionBindingID string `json:"action_binding_id"`
}

func (NamedBindingRepeat) Kind() model.TriggerKind { return model.TriggerKindNamedBindingRepeat }
func (s NamedBindingRepeat) Validate() error {
	if s.ActionBindingID == "" {
		return errutil.Validation("action binding is required", errutil.Detail{Field: "config.action_binding_id", Message: "required"})
	}
	return s.validate()
}
func (s NamedBindingRepeat) Satisfied(c *EvalContext) bool {
	return c.BindingCounts[s.ActionBindingID] >= s.Threshold
}
func (s NamedBindingRepeat) Label() string {
	return fmt.Sprintf("Completed the same action %d times", s.Threshold)
}

type EventPointTotal struct{ threshold }

func (EventPointTotal) Kind() model.TriggerKind { return model.TriggerKindEventPointTotal }
func (s EventPointTotal) Validate() error       { return s.validate() }
func (s EventPointTotal) Satisfied(c *EvalContext) bool {
	return c.EventPoints >= s.Threshold
}
func (s EventPointTotal) Label() string {
	return fmt.Sprintf("Earned %d event points", s.Threshold)
}

type DistinctParticipationDays struct{ threshold }

func (DistinctParticipationDays) Kind() model.TriggerKind {
	return model.TriggerKindDistinctParticipationDays
}
func (s DistinctParticipationDays) Validate() error { return s.validate() }
func (s DistinctParticipationDays) Satisfied(c *EvalContext) bool {
	return int64(len(c.Days)) >= s.Threshold
}
func (s DistinctParticipationDays) Label() string {
	return fmt.Sprintf("Participated on %d days", s.Threshold)
}

type GlobalSubmissionCount struct{ threshold }

func (GlobalSubmissionCount) Kind() model.TriggerKind { return model.TriggerKindGlobalSubmissionCount }
func (s GlobalSubmissionCount) Validate() error       { return s.validate() }
func (s GlobalSubmissionCount) Satisfied(c *EvalContext) bool {
	return c.GlobalSubmissions >= s.Threshold
}
func (s GlobalSubmissionCount) Label() string {
	return fmt.Sprintf("%d submissions across all events", s.Threshold)
}

type GlobalPointTotal struct{ threshold }

func (GlobalPointTotal) Kind() model.TriggerKind { return model.TriggerKindGlobalPointTotal }
func (s GlobalPointTotal) Validate() error       { return s.validate() }
func (s GlobalPointTotal) Satisfied(c *EvalContext) bool {
	return c.LifetimeEarned >= s.Threshold
}
func (s GlobalPointTotal) Label() string {
	return fmt.Sprintf("Earned %d points overall", s.Threshold)
}

// IsGlobalKind reports whether a kind can be evaluated without an event.
func IsGlobalKind(k model.TriggerKind) bool {
	return k == model.TriggerKindGlobalSubmissionCount || k == model.TriggerKindGlobalPointTotal
}

// ParseSpec decodes and validates the configuration stored for kind.
func ParseSpec(kind model.TriggerKind, raw []byte) (Spec, error) {
	var spec Spec
	switch kind {
	case model.TriggerKindSubmissionTagCount:
		spec = &SubmissionTagCount{}
	case model.TriggerKindDistinctSubItemCount:
		spec = &DistinctSubItemCount{}
	case model.TriggerKindNamedSubItemRepeat:
		spec = &NamedSubItemRepeat{}
	case model.TriggerKindConsecutiveDayStreak:
		spec = &ConsecutiveDayStreak{}
	case model.TriggerKindTotalSubmissionCount:
		spec = &TotalSubmissionCount{}
	case model.TriggerKindNamedBindingRepeat:
		spec = &NamedBindingRepeat{}
	case model.TriggerKindEventPointTotal:
		spec = &EventPointTotal{}
	case model.TriggerKindDistinctParticipationDays:
		spec = &DistinctParticipationDays{}
	case model.TriggerKindGlobalSubmissionCount:
		spec = &GlobalSubmissionCount{}
	case model.TriggerKindGlobalPointTotal:
		spec = &GlobalPointTotal{}
	default:
		return nil, errutil.Validation("unknown trigger kind", errutil.Detail{Field: "kind", Message: string(kind)})
	}

	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, spec); err != nil {
		return nil, errutil.Validation("malformed trigger config", errutil.Detail{Field: "config", Message: err.Error()})
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func normalizeItem(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
