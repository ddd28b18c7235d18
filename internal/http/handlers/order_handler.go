// README: Order handlers: creation, projections and lifecycle transitions.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"taxidispatch/internal/intake"
	"taxidispatch/internal/ledger"
	"taxidispatch/internal/maps"
	"taxidispatch/internal/types"
)

type OrderHandler struct {
	intake *intake.Service
	orders *ledger.Service
	// routes is optional; nil when no maps API key is configured.
	routes *maps.RouteService
}

func NewOrderHandler(in *intake.Service, orders *ledger.Service, routes *maps.RouteService) *OrderHandler {
	return &OrderHandler{intake: in, orders: orders, routes: routes}
}

type pointReq struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p *pointReq) toPoint() *types.Point {
	if p == nil {
		return nil
	}
	return &types.Point{Lat: p.Lat, Lng: p.Lng}
}

type createOrderReq struct {
	PickupText      string     `json:"pickup_text"`
	DestinationText string     `json:"destination_text"`
	PickupPoint     *pointReq  `json:"pickup_point"`
	DestPoint       *pointReq  `json:"dest_point"`
	Passengers      int        `json:"passengers"`
	Class           string     `json:"class"`
	Comment         string     `json:"comment"`
	ScheduledFor    *time.Time `json:"scheduled_for"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	o, err := h.intake.SubmitCustomerOrder(c.Request.Context(), intake.CustomerOrderCommand{
		CustomerID:      actor.ID,
		PickupText:      req.PickupText,
		DestinationText: req.DestinationText,
		PickupPoint:     req.PickupPoint.toPoint(),
		DestPoint:       req.DestPoint.toPoint(),
		Passengers:      req.Passengers,
		Class:           ledger.Class(req.Class),
		Comment:         req.Comment,
		ScheduledFor:    req.ScheduledFor,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, orderView(o))
}

func (h *OrderHandler) Get(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderView(o))
}

func (h *OrderHandler) History(c *gin.Context) {
	evs, err := h.orders.History(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]gin.H, 0, len(evs))
	for _, e := range evs {
		out = append(out, gin.H{
			"from":       e.From,
			"to":         e.To,
			"actor_role": e.ActorRole,
			"actor_id":   e.ActorID,
			"driver_id":  e.DriverID,
			"reason":     e.Reason,
			"created_at": e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"order_id": c.Param("id"), "events": out})
}

func (h *OrderHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		orders []*ledger.Order
		err    error
	)
	switch {
	case c.Query("customer_id") != "":
		orders, err = h.orders.ListByCustomer(ctx, types.ID(c.Query("customer_id")))
	case c.Query("driver_id") != "":
		orders, err = h.orders.ListByDriver(ctx, types.ID(c.Query("driver_id")))
	case c.Query("status") != "":
		orders, err = h.orders.ListByStatus(ctx, ledger.Status(c.Query("status")))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "one of status, customer_id, driver_id is required"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]gin.H, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderView(o))
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (h *OrderHandler) Stats(c *gin.Context) {
	counts, err := h.orders.CountByStatus(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

// Accept moves assigned→accepted for the driver bound to the order.
func (h *OrderHandler) Accept(c *gin.Context) {
	h.transition(c, ledger.StatusAssigned, ledger.StatusAccepted, nil)
}

func (h *OrderHandler) Start(c *gin.Context) {
	h.transition(c, ledger.StatusAccepted, ledger.StatusStarted, nil)
}

type completeReq struct {
	FinalAmount   *int64 `json:"final_amount"`
	FinalCurrency string `json:"final_currency"`
}

func (h *OrderHandler) Complete(c *gin.Context) {
	var req completeReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	var price *types.Money
	if req.FinalAmount != nil {
		cur := req.FinalCurrency
		if cur == "" {
			cur = "UZS"
		}
		price = &types.Money{Amount: *req.FinalAmount, Currency: cur}
	}
	h.transition(c, ledger.StatusStarted, ledger.StatusCompleted, func(cmd *ledger.TransitionCommand) {
		cmd.FinalPrice = price
	})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

// Cancel works from whatever non-terminal status the order currently holds.
func (h *OrderHandler) Cancel(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req cancelReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	ctx := c.Request.Context()
	id := types.ID(c.Param("id"))
	o, err := h.orders.Get(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	// The transition event frees any bound driver via the bus subscriber.
	err = h.orders.Transition(ctx, ledger.TransitionCommand{
		OrderID:  id,
		Expected: o.Status,
		Next:     ledger.StatusCancelled,
		Actor:    actor,
		Reason:   req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "status": ledger.StatusCancelled})
}

func (h *OrderHandler) transition(c *gin.Context, from, to ledger.Status, mut func(*ledger.TransitionCommand)) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id := types.ID(c.Param("id"))
	cmd := ledger.TransitionCommand{
		OrderID:  id,
		Expected: from,
		Next:     to,
		Actor:    actor,
	}
	if mut != nil {
		mut(&cmd)
	}
	if err := h.orders.Transition(c.Request.Context(), cmd); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "status": to})
}

// Route answers the dispatcher-console ETA question for an order's trip.
func (h *OrderHandler) Route(c *gin.Context) {
	if h.routes == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "route estimates not configured"})
		return
	}
	o, err := h.orders.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	dur, km, err := h.routes.TravelEstimate(c.Request.Context(), o.PickupText, o.DestinationText)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id":         o.ID,
		"duration_seconds": int(dur.Seconds()),
		"distance_km":      km,
	})
}

func orderView(o *ledger.Order) gin.H {
	v := gin.H{
		"order_id":         o.ID,
		"customer_id":      o.CustomerID,
		"driver_id":        o.DriverID,
		"dispatcher_id":    o.DispatcherID,
		"pickup_text":      o.PickupText,
		"destination_text": o.DestinationText,
		"pickup_point":     o.PickupPoint,
		"dest_point":       o.DestPoint,
		"passengers":       o.Passengers,
		"class":            o.Class,
		"status":           o.Status,
		"status_version":   o.StatusVersion,
		"comment":          o.Comment,
		"estimated_price":  o.EstimatedPrice,
		"final_price":      o.FinalPrice,
		"created_at":       o.CreatedAt,
		"scheduled_for":    o.ScheduledFor,
		"cancel_reason":    o.CancelReason,
	}
	return v
}
