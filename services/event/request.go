package event

import (
	"smallbiznis-engagement/pkg/db/pagination"
	"smallbiznis-engagement/services/model"
)

type CreateEventRequest struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	ActorID  string `json:"actor_id"`
}

type ListEventsRequest struct {
	Status     model.EventStatus     `form:"status"`
	Pagination pagination.Pagination `form:"-"`
}

type ListEventsResponse struct {
	Events   []*model.Event       `json:"events"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

type SetDisplayReferenceRequest struct {
	EventID   string `json:"-"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	ActorID   string `json:"actor_id"`
}

type TransitionRequest struct {
	EventID string            `json:"-"`
	To      model.EventStatus `json:"to"`
	ActorID string            `json:"actor_id"`
	Reason  string            `json:"reason"`
}

type DeleteEventRequest struct {
	EventID string `json:"-"`
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

type ForceRequest struct {
	EventID   string `json:"-"`
	ActorID   string `json:"actor_id"`
	Operation string `json:"operation"`
	Reason    string `json:"reason"`
}

// GuardRequest asks whether a catalog mutation may touch Event.
type GuardRequest struct {
	Event             *model.Event
	ActorID           string
	Operation         string
	Force             bool
	ConfirmationToken string
}
