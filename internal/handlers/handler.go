package handlers

import (
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/logger"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/service"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/session"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services, the live event bus, and logging.
type Handler struct {
	services *service.Service
	bus      *session.Bus
	log      *logger.Logger
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, bus *session.Bus, log *logger.Logger) *Handler {
	return &Handler{services: services, bus: bus, log: log}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health endpoint
	router.GET("/health", h.health)

	// Auth endpoints
	h.registerAuthRoutes(router)

	// Versioned API endpoints (protected)
	h.registerAPIRoutes(router)

	// Live event stream (HTTP upgrade) — same port
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.userIdMiddleware)
	{
		h.registerRunRoutes(api)
		h.registerInstrumentRoutes(api)
		h.registerHistoryRoutes(api)
	}
}

func (h *Handler) registerRunRoutes(api *gin.RouterGroup) {
	run := api.Group("/run")
	{
		// Body example: {"sequence":[{"start":300,"stop":77,"step":5}]}
		run.POST("/start", h.startRun)
		run.POST("/stop", h.stopRun)
		run.GET("/state", h.getState)
		run.POST("/sequence/preview", h.previewSequence)
	}
}

func (h *Handler) registerInstrumentRoutes(api *gin.RouterGroup) {
	api.POST("/temperature", h.setTemperature)
	api.GET("/channels", h.getChannels)
	api.PUT("/channels", h.updateChannels)
	api.POST("/channels/:name/measure", h.measureChannel)
	api.POST("/config/pidramp/reload", h.reloadPidRamp)
}

func (h *Handler) registerHistoryRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("/", h.getLogs)
	}
	samples := api.Group("/samples")
	{
		samples.GET("/", h.getSamples)
	}
}
