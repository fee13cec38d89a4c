package httpapi

import (
	"net/http"

	"smallbiznis-engagement/services/trigger"

	"github.com/gin-gonic/gin"
)

func (h *Handler) createTrigger(c *gin.Context) {
	var req trigger.CreateTriggerRequest
	if !bind(c, &req) {
		return
	}
	req.ActorID = actor(c, req.ActorID)
	t, err := h.triggers.CreateTrigger(c.Request.Context(), req)
	respond(c, http.StatusCreated, t, err)
}

func (h *Handler) listEventTriggers(c *gin.Context) {
	ts, err := h.triggers.ListTriggers(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, list(ts), err)
}

func (h *Handler) listGlobalTriggers(c *gin.Context) {
	ts, err := h.triggers.ListTriggers(c.Request.Context(), "")
	respond(c, http.StatusOK, list(ts), err)
}

func (h *Handler) deleteTrigger(c *gin.Context) {
	var req trigger.DeleteTriggerRequest
	if !bind(c, &req) {
		return
	}
	req.TriggerID = c.Param("id")
	req.ActorID = actor(c, req.ActorID)
	err := h.triggers.DeleteTrigger(c.Request.Context(), req)
	respond(c, http.StatusNoContent, nil, err)
}
