// README: Dispatcher handlers: phone calls, manual assignment, matching control.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"taxidispatch/internal/dispatch"
	"taxidispatch/internal/intake"
	"taxidispatch/internal/ledger"
	"taxidispatch/internal/registry"
	"taxidispatch/internal/types"
)

type DispatcherHandler struct {
	intake  *intake.Service
	orders  *ledger.Service
	drivers *registry.Service
	engine  *dispatch.Engine
}

func NewDispatcherHandler(in *intake.Service, orders *ledger.Service, drivers *registry.Service, engine *dispatch.Engine) *DispatcherHandler {
	return &DispatcherHandler{intake: in, orders: orders, drivers: drivers, engine: engine}
}

type callReq struct {
	CallerPhone     string     `json:"caller_phone"`
	CallerName      string     `json:"caller_name"`
	CallerLocation  string     `json:"caller_location"`
	DestinationText string     `json:"destination_text"`
	PickupPoint     *pointReq  `json:"pickup_point"`
	DestPoint       *pointReq  `json:"dest_point"`
	Passengers      int        `json:"passengers"`
	Class           string     `json:"class"`
	Notes           string     `json:"notes"`
	ScheduledFor    *time.Time `json:"scheduled_for"`
}

func (h *DispatcherHandler) SubmitCall(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req callReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	call, order, err := h.intake.SubmitDispatcherCall(c.Request.Context(), intake.DispatcherCallCommand{
		DispatcherID:    actor.ID,
		CallerPhone:     req.CallerPhone,
		CallerName:      req.CallerName,
		CallerLocation:  req.CallerLocation,
		DestinationText: req.DestinationText,
		PickupPoint:     req.PickupPoint.toPoint(),
		DestPoint:       req.DestPoint.toPoint(),
		Passengers:      req.Passengers,
		Class:           ledger.Class(req.Class),
		Notes:           req.Notes,
		ScheduledFor:    req.ScheduledFor,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"call": callView(call), "order": orderView(order)})
}

func (h *DispatcherHandler) GetCall(c *gin.Context) {
	call, err := h.intake.GetCall(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, callView(call))
}

func (h *DispatcherHandler) ListOpenCalls(c *gin.Context) {
	calls, err := h.intake.ListOpenCalls(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]gin.H, 0, len(calls))
	for _, call := range calls {
		out = append(out, callView(call))
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

type assignReq struct {
	DriverID string `json:"driver_id"`
}

// Assign binds a specific driver to a pending order, bypassing the matcher.
// The driver is locked first; if the transition loses, the lock is undone.
func (h *DispatcherHandler) Assign(c *gin.Context) {
	if !requireStaff(c) {
		return
	}
	actor, _ := actorFrom(c)
	var req assignReq
	if err := c.ShouldBindJSON(&req); err != nil || req.DriverID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "driver_id is required"})
		return
	}
	ctx := c.Request.Context()
	orderID := types.ID(c.Param("id"))
	driverID := types.ID(req.DriverID)

	if err := h.drivers.Lock(ctx, driverID, orderID); err != nil {
		respondError(c, err)
		return
	}
	err := h.orders.Transition(ctx, ledger.TransitionCommand{
		OrderID:  orderID,
		Expected: ledger.StatusPending,
		Next:     ledger.StatusAssigned,
		Actor:    actor,
		DriverID: &driverID,
	})
	if err != nil {
		if relErr := h.drivers.Release(ctx, driverID, orderID); relErr != nil {
			respondError(c, relErr)
			return
		}
		respondError(c, err)
		return
	}
	h.engine.ClearFlag(orderID)
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "driver_id": driverID, "status": ledger.StatusAssigned})
}

// Requeue pushes an assigned order back to pending; the transition event
// frees the driver via the bus subscriber.
func (h *DispatcherHandler) Requeue(c *gin.Context) {
	if !requireStaff(c) {
		return
	}
	actor, _ := actorFrom(c)
	orderID := types.ID(c.Param("id"))

	err := h.orders.Transition(c.Request.Context(), ledger.TransitionCommand{
		OrderID:  orderID,
		Expected: ledger.StatusAssigned,
		Next:     ledger.StatusPending,
		Actor:    actor,
		Reason:   "dispatcher requeue",
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "status": ledger.StatusPending})
}

type runPassReq struct {
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	RadiusKm *float64 `json:"radius_km"`
}

// RunPass triggers one matching pass, optionally restricted to a geographic scope.
func (h *DispatcherHandler) RunPass(c *gin.Context) {
	if !requireStaff(c) {
		return
	}
	var scope *dispatch.Scope
	if c.Request.ContentLength > 0 {
		var req runPassReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		if req.Lat != nil && req.Lng != nil && req.RadiusKm != nil {
			scope = &dispatch.Scope{
				Center:   types.Point{Lat: *req.Lat, Lng: *req.Lng},
				RadiusKm: *req.RadiusKm,
			}
		}
	}
	report, err := h.engine.RunMatchingPass(c.Request.Context(), scope)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"considered": report.Considered,
		"matched":    report.Matched,
		"unmatched":  report.Unmatched,
		"flagged":    report.Flagged,
	})
}

// Retry clears an order's escalation flag and attempts an immediate match.
func (h *DispatcherHandler) Retry(c *gin.Context) {
	if !requireStaff(c) {
		return
	}
	orderID := types.ID(c.Param("id"))
	h.engine.ClearFlag(orderID)
	err := h.engine.MatchOrder(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, dispatch.ErrNoCandidate) {
			c.JSON(http.StatusOK, gin.H{"order_id": orderID, "matched": false})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "matched": true})
}

// Sweep runs the acceptance-timeout sweep once.
func (h *DispatcherHandler) Sweep(c *gin.Context) {
	if !requireStaff(c) {
		return
	}
	n, err := h.engine.SweepAcceptanceTimeouts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"swept": n})
}

func callView(call *intake.DispatcherCall) gin.H {
	return gin.H{
		"call_id":         call.ID,
		"dispatcher_id":   call.DispatcherID,
		"order_id":        call.OrderID,
		"caller_phone":    call.CallerPhone,
		"caller_name":     call.CallerName,
		"caller_location": call.CallerLocation,
		"passengers":      call.Passengers,
		"notes":           call.Notes,
		"status":          call.Status,
		"received_at":     call.ReceivedAt,
		"completed_at":    call.CompletedAt,
	}
}
