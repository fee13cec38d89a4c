package httpapi

import (
	"smallbiznis-engagement/pkg/health"
	"smallbiznis-engagement/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/fx"
)

// Module installs the shared middleware and the operational endpoints on the gin engine.
var Module = fx.Module("httpapi",
	fx.Invoke(registerMiddleware, registerOperationalEndpoints),
)

func registerMiddleware(engine *gin.Engine) {
	engine.Use(otelgin.Middleware("engagement"), middleware.Actor(), middleware.Error())
}

func registerOperationalEndpoints(engine *gin.Engine, h health.HealthService) {
	engine.GET("/livez", h.Liveness)
	engine.GET("/readyz", h.Readiness)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
