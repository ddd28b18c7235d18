// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taxidispatch/internal/config"
	"taxidispatch/internal/dispatch"
	"taxidispatch/internal/geo"
	"taxidispatch/internal/http/handlers"
	"taxidispatch/internal/http/middleware"
	"taxidispatch/internal/intake"
	"taxidispatch/internal/ledger"
	"taxidispatch/internal/maps"
	"taxidispatch/internal/registry"
	"taxidispatch/internal/user"
)

type RouterDeps struct {
	Users    *user.Service
	Orders   *ledger.Service
	Geo      *geo.Service
	Drivers  *registry.Service
	Engine   *dispatch.Engine
	Intake   *intake.Service
	Routes   *maps.RouteService
	Dispatch config.DispatchConfig
	Log      *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log))
	r.Use(middleware.Logging(deps.Log))
	r.Use(middleware.Actor())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api")

	userHandler := handlers.NewUserHandler(deps.Users)
	api.POST("/users", userHandler.Register)
	api.GET("/users/:id", userHandler.Get)
	api.PUT("/users/:id/role", userHandler.SetRole)
	api.PUT("/users/:id/active", userHandler.SetActive)
	api.PUT("/users/:id/premium", userHandler.SetPremiumCapable)

	orderHandler := handlers.NewOrderHandler(deps.Intake, deps.Orders, deps.Routes)
	api.POST("/orders", orderHandler.Create)
	api.GET("/orders", orderHandler.List)
	api.GET("/orders/:id", orderHandler.Get)
	api.GET("/orders/:id/history", orderHandler.History)
	api.GET("/orders/:id/route", orderHandler.Route)
	api.POST("/orders/:id/accept", orderHandler.Accept)
	api.POST("/orders/:id/start", orderHandler.Start)
	api.POST("/orders/:id/complete", orderHandler.Complete)
	api.POST("/orders/:id/cancel", orderHandler.Cancel)

	driverHandler := handlers.NewDriverHandler(deps.Geo, deps.Drivers,
		deps.Dispatch.RadiusKm, deps.Dispatch.CandidateLimit)
	api.POST("/drivers/:id/location", driverHandler.ReportLocation)
	api.PUT("/drivers/:id/availability", driverHandler.SetAvailability)
	api.GET("/drivers/:id/order", driverHandler.CurrentOrder)

	dispatcherHandler := handlers.NewDispatcherHandler(deps.Intake, deps.Orders, deps.Drivers, deps.Engine)
	api.POST("/calls", dispatcherHandler.SubmitCall)
	api.GET("/calls", dispatcherHandler.ListOpenCalls)
	api.GET("/calls/:id", dispatcherHandler.GetCall)
	api.POST("/orders/:id/assign", dispatcherHandler.Assign)
	api.POST("/orders/:id/requeue", dispatcherHandler.Requeue)
	api.POST("/orders/:id/retry", dispatcherHandler.Retry)
	api.POST("/dispatch/run", dispatcherHandler.RunPass)
	api.POST("/dispatch/sweep", dispatcherHandler.Sweep)
	api.GET("/dispatch/stats", orderHandler.Stats)
	api.GET("/dispatch/nearby", driverHandler.Nearby)

	return r
}
