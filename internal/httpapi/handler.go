// Package httpapi exposes the engagement engine over HTTP. Handlers only bind
// requests and render results; every rule lives in the services.
package httpapi

import (
	"smallbiznis-engagement/pkg/errutil"
	"smallbiznis-engagement/pkg/middleware"
	"smallbiznis-engagement/services/catalog"
	"smallbiznis-engagement/services/event"
	"smallbiznis-engagement/services/inventory"
	"smallbiznis-engagement/services/ledger"
	"smallbiznis-engagement/services/submission"
	"smallbiznis-engagement/services/trigger"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi.routes",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

type Handler struct {
	events      *event.Service
	catalog     *catalog.Service
	triggers    *trigger.Service
	submissions *submission.Service
	inventory   *inventory.Service
	ledger      *ledger.Service
}

type HandlerParams struct {
	fx.In
	Events      *event.Service
	Catalog     *catalog.Service
	Triggers    *trigger.Service
	Submissions *submission.Service
	Inventory   *inventory.Service
	Ledger      *ledger.Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		events:      p.Events,
		catalog:     p.Catalog,
		triggers:    p.Triggers,
		submissions: p.Submissions,
		inventory:   p.Inventory,
		ledger:      p.Ledger,
	}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	v1 := r.Group("/v1")

	ev := v1.Group("/events")
	ev.POST("", h.createEvent)
	ev.GET("", h.listEvents)
	ev.GET("/:id", h.getEvent)
	ev.DELETE("/:id", h.deleteEvent)
	ev.PUT("/:id/display-reference", h.setDisplayReference)
	ev.POST("/:id/transitions", h.transition)
	ev.GET("/:id/transitions", h.listTransitions)
	ev.POST("/:id/force-tokens", h.requestForce)
	ev.GET("/:id/audit-logs", h.listAuditLogs)

	ev.POST("/:id/action-bindings", h.linkAction)
	ev.GET("/:id/action-bindings", h.listActionBindings)
	ev.POST("/:id/reward-bindings", h.linkReward)
	ev.GET("/:id/reward-bindings", h.listRewardBindings)
	ev.GET("/:id/triggers", h.listEventTriggers)

	v1.PATCH("/action-bindings/:id", h.editActionBinding)
	v1.DELETE("/action-bindings/:id", h.unlinkAction)
	v1.PATCH("/reward-bindings/:id", h.editRewardBinding)
	v1.DELETE("/reward-bindings/:id", h.unlinkReward)

	v1.POST("/action-definitions", h.createActionDefinition)
	v1.GET("/action-definitions", h.listActionDefinitions)
	v1.GET("/action-definitions/:id", h.getActionDefinition)
	v1.DELETE("/action-definitions/:id", h.deprecateActionDefinition)

	v1.POST("/rewards", h.createReward)
	v1.GET("/rewards", h.listRewards)
	v1.POST("/rewards/:id/publish", h.publishReward)

	v1.POST("/triggers", h.createTrigger)
	v1.GET("/triggers", h.listGlobalTriggers)
	v1.DELETE("/triggers/:id", h.deleteTrigger)

	v1.POST("/submissions", h.submit)

	p := v1.Group("/participants/:id")
	p.GET("/balance", h.getBalance)
	p.GET("/ledger", h.listLedger)
	p.GET("/ledger/verify", h.verifyLedger)
	p.GET("/submissions", h.listSubmissions)
	p.GET("/grants", h.listGrants)
	p.GET("/inventory", h.listInventory)
	p.POST("/inventory/:reward_id/equip", h.equip)
	p.DELETE("/inventory/:reward_id/equip", h.unequip)
	p.POST("/purchases", h.purchase)
}

// bind decodes an optional JSON body into v. It reports false after
// recording the error on c.
func bind(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return false
	}
	return true
}

// actor prefers the identity in the body and falls back to the X-Actor-ID header.
func actor(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return middleware.GetActor(c.Request.Context())
}

func respond(c *gin.Context, status int, v any, err error) {
	if err != nil {
		_ = c.Error(err)
		return
	}
	if v == nil {
		c.Status(status)
		return
	}
	c.JSON(status, v)
}

func list[T any](items []T) gin.H {
	if items == nil {
		items = []T{}
	}
	return gin.H{"data": items}
}
