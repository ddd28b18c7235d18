// README: Driver handlers: location reports, availability and the nearby query.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"taxidispatch/internal/geo"
	"taxidispatch/internal/registry"
	"taxidispatch/internal/types"
)

type DriverHandler struct {
	geo     *geo.Service
	drivers *registry.Service

	defaultRadiusKm float64
	defaultLimit    int
}

func NewDriverHandler(g *geo.Service, drivers *registry.Service, radiusKm float64, limit int) *DriverHandler {
	return &DriverHandler{geo: g, drivers: drivers, defaultRadiusKm: radiusKm, defaultLimit: limit}
}

type locationReq struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Available *bool   `json:"available"`
}

func (h *DriverHandler) ReportLocation(c *gin.Context) {
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	available := true
	if req.Available != nil {
		available = *req.Available
	}
	id := types.ID(c.Param("id"))
	err := h.geo.ReportLocation(c.Request.Context(), id, types.Point{Lat: req.Lat, Lng: req.Lng}, available)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"driver_id": id, "available": available})
}

type availabilityReq struct {
	Available bool `json:"available"`
}

func (h *DriverHandler) SetAvailability(c *gin.Context) {
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	id := types.ID(c.Param("id"))
	if err := h.geo.SetAvailability(c.Request.Context(), id, req.Available); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"driver_id": id, "available": req.Available})
}

func (h *DriverHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng are required"})
		return
	}
	radiusKm := h.defaultRadiusKm
	if v := c.Query("radius_km"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid radius_km"})
			return
		}
		radiusKm = r
	}
	limit := h.defaultLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	found, err := h.geo.NearestAvailable(c.Request.Context(), types.Point{Lat: lat, Lng: lng}, radiusKm, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]gin.H, 0, len(found))
	for _, n := range found {
		out = append(out, gin.H{
			"driver_id":   n.DriverID,
			"position":    n.Position,
			"distance_km": n.Distance,
		})
	}
	c.JSON(http.StatusOK, gin.H{"drivers": out})
}

// CurrentOrder reports the order the driver is locked to, if any.
func (h *DriverHandler) CurrentOrder(c *gin.Context) {
	id := types.ID(c.Param("id"))
	orderID, ok, err := h.drivers.CurrentOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"driver_id": id, "order_id": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"driver_id": id, "order_id": orderID})
}
