// README: User registry handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"taxidispatch/internal/types"
	"taxidispatch/internal/user"
)

type UserHandler struct {
	users *user.Service
}

func NewUserHandler(users *user.Service) *UserHandler {
	return &UserHandler{users: users}
}

type registerReq struct {
	Phone          string `json:"phone"`
	Name           string `json:"name"`
	Role           string `json:"role"`
	PremiumCapable bool   `json:"premium_capable"`
}

func (h *UserHandler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	u, err := h.users.Register(c.Request.Context(), user.RegisterCommand{
		Phone:          req.Phone,
		Name:           req.Name,
		Role:           types.Role(req.Role),
		PremiumCapable: req.PremiumCapable,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, userView(u))
}

func (h *UserHandler) Get(c *gin.Context) {
	u, err := h.users.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, userView(u))
}

type roleReq struct {
	Role string `json:"role"`
}

// SetRole is the admin override for role reassignment.
func (h *UserHandler) SetRole(c *gin.Context) {
	if !requireStaff(c) {
		return
	}
	var req roleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	id := types.ID(c.Param("id"))
	if err := h.users.SetRole(c.Request.Context(), id, types.Role(req.Role)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "role": req.Role})
}

type activeReq struct {
	Active bool `json:"active"`
}

func (h *UserHandler) SetActive(c *gin.Context) {
	if !requireStaff(c) {
		return
	}
	var req activeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	id := types.ID(c.Param("id"))
	if err := h.users.SetActive(c.Request.Context(), id, req.Active); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "active": req.Active})
}

type premiumReq struct {
	PremiumCapable bool `json:"premium_capable"`
}

func (h *UserHandler) SetPremiumCapable(c *gin.Context) {
	if !requireStaff(c) {
		return
	}
	var req premiumReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	id := types.ID(c.Param("id"))
	if err := h.users.SetPremiumCapable(c.Request.Context(), id, req.PremiumCapable); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "premium_capable": req.PremiumCapable})
}

func requireStaff(c *gin.Context) bool {
	a, ok := requireActor(c)
	if !ok {
		return false
	}
	if a.Role != types.RoleAdmin && a.Role != types.RoleDispatcher {
		c.JSON(http.StatusForbidden, gin.H{"error": "staff role required"})
		return false
	}
	return true
}

func userView(u *user.User) gin.H {
	return gin.H{
		"user_id":         u.ID,
		"phone":           u.Phone,
		"name":            u.Name,
		"role":            u.Role,
		"active":          u.Active,
		"premium_capable": u.PremiumCapable,
		"created_at":      u.CreatedAt,
	}
}
