package submission

import (
	"smallbiznis-engagement/pkg/db/pagination"
	"smallbiznis-engagement/services/model"
	"smallbiznis-engagement/services/trigger"
)

// SubmitRequest is a reported action with its fields already routed by kind.
type SubmitRequest struct {
	ParticipantID string                     `json:"participant_id"`
	BindingID     string                     `json:"binding_id"`
	Fields        map[model.FieldKind]string `json:"fields"`
	SubItems      []model.SubItem            `json:"sub_items"`
}

type SubmitResult struct {
	Submission      *model.Submission `json:"submission"`
	PointsAwarded   int64             `json:"points_awarded"`
	RewardName      *string           `json:"reward_name"`
	GrantedTriggers []trigger.Grant   `json:"granted_triggers"`
}

type ListSubmissionsRequest struct {
	ParticipantID string                `form:"participant_id"`
	EventID       string                `form:"event_id"`
	Pagination    pagination.Pagination `form:"-"`
}

type ListSubmissionsResponse struct {
	Submissions []*model.Submission  `json:"submissions"`
	PageInfo    *pagination.PageInfo `json:"page_info"`
}
