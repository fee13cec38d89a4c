package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
)

const ActorHeader = "X-Actor-ID"

type actorKey struct{}

var ActorContextKey = actorKey{}

// Actor copies the caller identity header into the request context.
// Authentication happens upstream.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetHeader(ActorHeader); id != "" {
			ctx := context.WithValue(c.Request.Context(), ActorContextKey, id)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

// GetActor returns the actor stored by Actor, or "".
func GetActor(ctx context.Context) string {
	id, _ := ctx.Value(ActorContextKey).(string)
	return id
}
