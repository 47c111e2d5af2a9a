package rest

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robalyx/resonance/internal/rest/handler"
	"github.com/robalyx/resonance/internal/rest/middleware/apierror"
	"github.com/robalyx/resonance/internal/rest/middleware/auth"
	"github.com/robalyx/resonance/internal/rest/middleware/ratelimit"
	"github.com/robalyx/resonance/internal/setup/config"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// ProximityService is the proximity surface behind the REST routes.
type ProximityService interface {
	handler.NearbyFinder
	handler.LiveUsersLister
}

// Dependencies are the components the REST surface drives.
type Dependencies struct {
	Presence  handler.PresenceService
	Location  handler.LocationService
	Proximity ProximityService
	Find      handler.FindService
	Announcer handler.Announcer
	Stats     handler.StatsSource
	FastStore handler.Pinger
	Database  handler.Pinger
	Verifier  auth.Verifier
	Gateway   http.Handler
	Gatherer  prometheus.Gatherer
}

// Server implements the REST API service.
type Server struct {
	presenceHandler *handler.PresenceHandler
	locationHandler *handler.LocationHandler
	findHandler     *handler.FindHandler
	systemHandler   *handler.SystemHandler
	rateLimiter     *ratelimit.Middleware
	handler         http.Handler
}

// NewServer creates a new REST API server.
func NewServer(deps *Dependencies, config *config.ServerConfig, logger *zap.Logger) *Server {
	// Create server instance with handlers
	server := &Server{
		presenceHandler: handler.NewPresenceHandler(deps.Presence, deps.Proximity, deps.Announcer, logger),
		locationHandler: handler.NewLocationHandler(deps.Location, deps.Proximity, logger),
		findHandler:     handler.NewFindHandler(deps.Find, logger),
		systemHandler:   handler.NewSystemHandler(deps.FastStore, deps.Database, deps.Stats, logger),
		rateLimiter:     ratelimit.New(&config.RateLimit, logger.Named("rest_ratelimit")),
	}

	// Create middleware instances
	authMiddleware := auth.New(deps.Verifier, logger.Named("rest_auth"))
	errorMiddleware := apierror.New(logger.Named("rest"))

	// Create base router
	router := bunrouter.New()

	router.Use(errorMiddleware.AsRESTMiddleware).GET("/healthz", server.systemHandler.Health)

	// Authenticated routes; the limiter runs after auth so it can key by user
	api := router.Use(
		authMiddleware.AsRESTMiddleware,
		server.rateLimiter.AsRESTMiddleware,
		errorMiddleware.AsRESTMiddleware,
	)

	api.WithGroup("/presence", func(g *bunrouter.Group) {
		g.POST("/live", server.presenceHandler.GoLive)
		g.POST("/offline", server.presenceHandler.GoOffline)
		g.POST("/heartbeat", server.presenceHandler.Heartbeat)
		g.GET("/settings", server.presenceHandler.GetSettings)
		g.PATCH("/settings", server.presenceHandler.UpdateSettings)
		g.GET("/live-users", server.presenceHandler.LiveUsers)
	})

	api.WithGroup("/location", func(g *bunrouter.Group) {
		g.POST("/update", server.locationHandler.UpdateGeohash)
		g.DELETE("", server.locationHandler.Remove)
		g.GET("/nearby", server.locationHandler.Nearby)
		g.GET("/me", server.locationHandler.Me)
	})

	api.WithGroup("/geo", func(g *bunrouter.Group) {
		g.POST("/location", server.locationHandler.UpdateCoordinates)
		g.DELETE("/location", server.locationHandler.Remove)
		g.GET("/nearby", server.locationHandler.NearbyGeo)
		g.GET("/me", server.locationHandler.GeoMe)
	})

	api.WithGroup("/find", func(g *bunrouter.Group) {
		g.POST("/start", server.findHandler.Start)
		g.GET("/active", server.findHandler.Active)
		g.GET("/:id", server.findHandler.Get)
		g.POST("/:id/update", server.findHandler.Update)
		g.POST("/:id/complete", server.findHandler.Complete)
		g.DELETE("/:id", server.findHandler.Cancel)
	})

	api.GET("/realtime/stats", server.systemHandler.RealtimeStats)

	// The websocket upgrade needs the raw connection, so only the router is gzipped
	mux := http.NewServeMux()
	mux.Handle("/", gzhttp.GzipHandler(router))

	if deps.Gateway != nil {
		mux.Handle("/ws", deps.Gateway)
	}

	if deps.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	server.handler = mux

	return server
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Close releases the rate limiter state.
func (s *Server) Close() {
	s.rateLimiter.Close()
}
