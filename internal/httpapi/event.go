package httpapi

import (
	"net/http"

	"smallbiznis-engagement/pkg/db/pagination"
	"smallbiznis-engagement/pkg/errutil"
	"smallbiznis-engagement/services/event"

	"github.com/gin-gonic/gin"
)

func (h *Handler) createEvent(c *gin.Context) {
	var req event.CreateEventRequest
	if !bind(c, &req) {
		return
	}
	req.ActorID = actor(c, req.ActorID)
	evt, err := h.events.CreateEvent(c.Request.Context(), req)
	respond(c, http.StatusCreated, evt, err)
}

func (h *Handler) listEvents(c *gin.Context) {
	var req event.ListEventsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}
	page, ok := pageFromQuery(c)
	if !ok {
		return
	}
	req.Pagination = page
	res, err := h.events.ListEvents(c.Request.Context(), req)
	respond(c, http.StatusOK, res, err)
}

func (h *Handler) getEvent(c *gin.Context) {
	evt, err := h.events.GetEvent(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, evt, err)
}

func (h *Handler) deleteEvent(c *gin.Context) {
	var req event.DeleteEventRequest
	if !bind(c, &req) {
		return
	}
	req.EventID = c.Param("id")
	req.ActorID = actor(c, req.ActorID)
	err := h.events.DeleteEvent(c.Request.Context(), req)
	respond(c, http.StatusNoContent, nil, err)
}

func (h *Handler) setDisplayReference(c *gin.Context) {
	var req event.SetDisplayReferenceRequest
	if !bind(c, &req) {
		return
	}
	req.EventID = c.Param("id")
	req.ActorID = actor(c, req.ActorID)
	evt, err := h.events.SetDisplayReference(c.Request.Context(), req)
	respond(c, http.StatusOK, evt, err)
}

func (h *Handler) transition(c *gin.Context) {
	var req event.TransitionRequest
	if !bind(c, &req) {
		return
	}
	req.EventID = c.Param("id")
	req.ActorID = actor(c, req.ActorID)
	evt, err := h.events.Transition(c.Request.Context(), req)
	respond(c, http.StatusOK, evt, err)
}

func (h *Handler) listTransitions(c *gin.Context) {
	logs, err := h.events.ListTransitions(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, list(logs), err)
}

func (h *Handler) requestForce(c *gin.Context) {
	var req event.ForceRequest
	if !bind(c, &req) {
		return
	}
	req.EventID = c.Param("id")
	req.ActorID = actor(c, req.ActorID)
	fc, err := h.events.RequestForce(c.Request.Context(), req)
	respond(c, http.StatusCreated, fc, err)
}

func (h *Handler) listAuditLogs(c *gin.Context) {
	logs, err := h.catalog.ListAuditLogs(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, list(logs), err)
}

func pageFromQuery(c *gin.Context) (pagination.Pagination, bool) {
	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return p, false
	}
	if _, err := p.After(); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err, errutil.WithDetails(errutil.Detail{Field: "cursor", Message: "malformed"})))
		return p, false
	}
	return p, true
}
