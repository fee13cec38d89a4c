package httpapi

import (
	"net/http"

	"smallbiznis-engagement/services/inventory"
	"smallbiznis-engagement/services/submission"

	"github.com/gin-gonic/gin"
)

func (h *Handler) submit(c *gin.Context) {
	var req submission.SubmitRequest
	if !bind(c, &req) {
		return
	}
	req.ParticipantID = actor(c, req.ParticipantID)
	res, err := h.submissions.Submit(c.Request.Context(), req)
	respond(c, http.StatusCreated, res, err)
}

func (h *Handler) listSubmissions(c *gin.Context) {
	page, ok := pageFromQuery(c)
	if !ok {
		return
	}
	res, err := h.submissions.ListSubmissions(c.Request.Context(), submission.ListSubmissionsRequest{
		ParticipantID: c.Param("id"),
		EventID:       c.Query("event_id"),
		Pagination:    page,
	})
	respond(c, http.StatusOK, res, err)
}

func (h *Handler) getBalance(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := h.ledger.GetBalance(ctx, c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	body := gin.H{
		"participant_id":  c.Param("id"),
		"balance":         p.Balance,
		"lifetime_earned": p.LifetimeEarned,
		"lifetime_spent":  p.LifetimeSpent,
	}
	if eventID := c.Query("event_id"); eventID != "" {
		total, err := h.ledger.EventTotal(ctx, c.Param("id"), eventID)
		if err != nil {
			_ = c.Error(err)
			return
		}
		body["event_total"] = total
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) listLedger(c *gin.Context) {
	page, ok := pageFromQuery(c)
	if !ok {
		return
	}
	entries, info, err := h.ledger.ListEntries(c.Request.Context(), c.Param("id"), page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries, "page_info": info})
}

func (h *Handler) verifyLedger(c *gin.Context) {
	res, err := h.ledger.VerifyChain(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, res, err)
}

func (h *Handler) listGrants(c *gin.Context) {
	grants, err := h.triggers.ListGrants(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, list(grants), err)
}

func (h *Handler) listInventory(c *gin.Context) {
	items, err := h.inventory.ListInventory(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, list(items), err)
}

func (h *Handler) equip(c *gin.Context) {
	entry, err := h.inventory.Equip(c.Request.Context(), c.Param("id"), c.Param("reward_id"))
	respond(c, http.StatusOK, entry, err)
}

func (h *Handler) unequip(c *gin.Context) {
	err := h.inventory.Unequip(c.Request.Context(), c.Param("id"), c.Param("reward_id"))
	respond(c, http.StatusNoContent, nil, err)
}

func (h *Handler) purchase(c *gin.Context) {
	var req inventory.PurchaseRequest
	if !bind(c, &req) {
		return
	}
	req.ParticipantID = c.Param("id")
	res, err := h.inventory.Purchase(c.Request.Context(), req)
	respond(c, http.StatusCreated, res, err)
}
