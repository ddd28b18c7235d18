// README: Actor middleware: resolves the caller identity from request headers.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"taxidispatch/internal/types"
)

const (
	HeaderActorID   = "X-Actor-Id"
	HeaderActorRole = "X-Actor-Role"

	ActorIDKey   = "actor_id"
	ActorRoleKey = "actor_role"
)

// TODO(auth): replace header-trusting identity with signed tokens once the
// edge gateway issues them.

var knownRoles = map[types.Role]bool{
	types.RoleCustomer:   true,
	types.RoleDriver:     true,
	types.RoleDispatcher: true,
	types.RoleAdmin:      true,
}

// Actor stores the caller's id and role in the request context. Requests
// without an identity pass through; handlers that need one reject them.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderActorID)
		role := types.Role(c.GetHeader(HeaderActorRole))
		if role != "" && !knownRoles[role] {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown actor role"})
			return
		}
		if id != "" {
			c.Set(ActorIDKey, id)
		}
		if role != "" {
			c.Set(ActorRoleKey, string(role))
		}
		c.Next()
	}
}
