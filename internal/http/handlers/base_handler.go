// README: Shared handler helpers: actor resolution and error-to-status mapping.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"taxidispatch/internal/geo"
	"taxidispatch/internal/http/middleware"
	"taxidispatch/internal/intake"
	"taxidispatch/internal/ledger"
	"taxidispatch/internal/pricing"
	"taxidispatch/internal/registry"
	"taxidispatch/internal/types"
	"taxidispatch/internal/user"
)

func actorFrom(c *gin.Context) (ledger.Actor, bool) {
	id := c.GetString(middleware.ActorIDKey)
	role := c.GetString(middleware.ActorRoleKey)
	if id == "" || role == "" {
		return ledger.Actor{}, false
	}
	return ledger.Actor{ID: types.ID(id), Role: types.Role(role)}, true
}

func requireActor(c *gin.Context) (ledger.Actor, bool) {
	a, ok := actorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing actor identity"})
	}
	return a, ok
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrBadRequest),
		errors.Is(err, user.ErrBadRequest),
		errors.Is(err, intake.ErrBadRequest),
		errors.Is(err, pricing.ErrUnknownClass):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrForbidden), errors.Is(err, intake.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrUnknownOrder),
		errors.Is(err, user.ErrNotFound),
		errors.Is(err, geo.ErrUnknownDriver),
		errors.Is(err, intake.ErrCallMissing):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrStaleState),
		errors.Is(err, ledger.ErrIllegalTransition),
		errors.Is(err, ledger.ErrActiveOrder),
		errors.Is(err, user.ErrDuplicatePhone),
		errors.Is(err, registry.ErrDriverBusy),
		errors.Is(err, registry.ErrDriverOffline):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
