package httpapi

import (
	"net/http"

	"smallbiznis-engagement/services/catalog"

	"github.com/gin-gonic/gin"
)

func (h *Handler) createActionDefinition(c *gin.Context) {
	var req catalog.CreateActionDefinitionRequest
	if !bind(c, &req) {
		return
	}
	def, err := h.catalog.CreateActionDefinition(c.Request.Context(), req)
	respond(c, http.StatusCreated, def, err)
}

func (h *Handler) listActionDefinitions(c *gin.Context) {
	defs, err := h.catalog.ListActionDefinitions(c.Request.Context())
	respond(c, http.StatusOK, list(defs), err)
}

func (h *Handler) getActionDefinition(c *gin.Context) {
	def, err := h.catalog.GetActionDefinition(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, def, err)
}

func (h *Handler) deprecateActionDefinition(c *gin.Context) {
	var req catalog.DeprecateActionDefinitionRequest
	if !bind(c, &req) {
		return
	}
	req.ID = c.Param("id")
	req.ActorID = actor(c, req.ActorID)
	res, err := h.catalog.DeprecateActionDefinition(c.Request.Context(), req)
	respond(c, http.StatusOK, res, err)
}

func (h *Handler) createReward(c *gin.Context) {
	var req catalog.CreateRewardRequest
	if !bind(c, &req) {
		return
	}
	r, err := h.catalog.CreateReward(c.Request.Context(), req)
	respond(c, http.StatusCreated, r, err)
}

func (h *Handler) listRewards(c *gin.Context) {
	rewards, err := h.catalog.ListRewards(c.Request.Context())
	respond(c, http.StatusOK, list(rewards), err)
}

func (h *Handler) publishReward(c *gin.Context) {
	var req catalog.PublishRewardRequest
	if !bind(c, &req) {
		return
	}
	req.RewardID = c.Param("id")
	r, err := h.catalog.PublishReward(c.Request.Context(), req)
	respond(c, http.StatusOK, r, err)
}

func (h *Handler) linkAction(c *gin.Context) {
	var req catalog.LinkActionRequest
	if !bind(c, &req) {
		return
	}
	req.EventID = c.Param("id")
	req.ActorID = actor(c, req.ActorID)
	b, err := h.catalog.LinkAction(c.Request.Context(), req)
	respond(c, http.StatusCreated, b, err)
}

func (h *Handler) listActionBindings(c *gin.Context) {
	bindings, err := h.catalog.ListActionBindings(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, list(bindings), err)
}

func (h *Handler) editActionBinding(c *gin.Context) {
	var req catalog.EditActionBindingRequest
	if !bind(c, &req) {
		return
	}
	req.BindingID = c.Param("id")
	req.ActorID = actor(c, req.ActorID)
	b, err := h.catalog.EditActionBinding(c.Request.Context(), req)
	respond(c, http.StatusOK, b, err)
}

func (h *Handler) unlinkAction(c *gin.Context) {
	var req catalog.UnlinkRequest
	if !bind(c, &req) {
		return
	}
	req.BindingID = c.Param("id")
	req.ActorID = actor(c, req.ActorID)
	err := h.catalog.UnlinkAction(c.Request.Context(), req)
	respond(c, http.StatusNoContent, nil, err)
}

func (h *Handler) linkReward(c *gin.Context) {
	var req catalog.LinkRewardRequest
	if !bind(c, &req) {
		return
	}
	req.EventID = c.Param("id")
	req.ActorID = actor(c, req.ActorID)
	b, err := h.catalog.LinkReward(c.Request.Context(), req)
	respond(c, http.StatusCreated, b, err)
}

func (h *Handler) listRewardBindings(c *gin.Context) {
	bindings, err := h.catalog.ListRewardBindings(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, list(bindings), err)
}

func (h *Handler) editRewardBinding(c *gin.Context) {
	var req catalog.EditRewardBindingRequest
	if !bind(c, &req) {
		return
	}
	req.BindingID = c.Param("id")
	req.ActorID = actor(c, req.ActorID)
	b, err := h.catalog.EditRewardBinding(c.Request.Context(), req)
	respond(c, http.StatusOK, b, err)
}

func (h *Handler) unlinkReward(c *gin.Context) {
	var req catalog.UnlinkRequest
	if !bind(c, &req) {
		return
	}
	req.BindingID = c.Param("id")
	req.ActorID = actor(c, req.ActorID)
	err := h.catalog.UnlinkReward(c.Request.Context(), req)
	respond(c, http.StatusNoContent, nil, err)
}
