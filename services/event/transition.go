package event

import "smallbiznis-engagement/services/model"

// isTransitionAllowed reports whether the lifecycle graph has an edge from -> to.
// Archived is terminal.
func isTransitionAllowed(from, to model.EventStatus) bool {
	switch from {
	case model.EventStatusDraft:
		return to == model.EventStatusVisible
	case model.EventStatusVisible:
		return to == model.EventStatusActive || to == model.EventStatusDraft
	case model.EventStatusActive:
		return to == model.EventStatusArchived || to == model.EventStatusVisible
	default:
		return false
	}
}

// AllowsCatalogMutation reports whether bindings may change without a forced override.
func AllowsCatalogMutation(status model.EventStatus) bool {
	return status == model.EventStatusDraft || status == model.EventStatusVisible
}

// AllowsSubmissions reports whether a binding on e accepts submissions.
func AllowsSubmissions(e *model.Event, allowedDuringVisible bool) bool {
	if e == nil {
		return false
	}
	switch e.Status {
	case model.EventStatusActive:
		return true
	case model.EventStatusVisible:
		return allowedDuringVisible
	default:
		return false
	}
}
