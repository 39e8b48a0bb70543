package api

import (
	"net/http"

	"github.com/ferhates/earshot/internal/config"
	"github.com/ferhates/earshot/internal/session"
	"github.com/ferhates/earshot/internal/storage/sqlite"
	"github.com/ferhates/earshot/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// Router is the API router
type Router struct {
	handler    *Handler
	middleware *Middleware
	config     *config.Config
	logger     *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(manager *session.Manager, sessionStorage *sqlite.SessionStorage, config *config.Config, log *logger.Logger) *Router {
	return &Router{
		handler:    NewHandler(manager, sessionStorage, config, log),
		middleware: NewMiddleware(log),
		config:     config,
		logger:     log.Named("api-router"),
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.CORS(r.config.Server.CORSAllowedOrigins))

	// API routes
	router.Route("/api/v1", func(router chi.Router) {
		// Session lifecycle
		router.Get("/session", r.handler.GetSession)
		router.Post("/session", r.handler.LaunchSession)
		router.Delete("/session", r.handler.EndSession)

		// Reconciled session view
		router.Get("/state", r.handler.GetState)
		router.Get("/transcript", r.handler.GetTranscript)
		router.Get("/words", r.handler.GetWords)

		// Operator controls
		router.Post("/controls/bet-size", r.handler.SetBetSize)
		router.Post("/controls/dtmf", r.handler.SendDTMF)
		router.Post("/controls/detection-paused", r.handler.SetDetectionPaused)
		router.Post("/controls/qa-started", r.handler.SetQAStarted)
		router.Post("/controls/redial", r.handler.Redial)
		router.Post("/controls/force-call-end", r.handler.ForceCallEnd)
		router.Post("/controls/mute", r.handler.SetMuted)

		// Microphone pipeline
		router.Post("/mic/start", r.handler.StartMic)
		router.Post("/mic/stop", r.handler.StopMic)

		// Persisted history
		router.Get("/history/{sessionID}/transcript", r.handler.GetStoredTranscript)
		router.Get("/history/{sessionID}/word-events", r.handler.GetStoredWordEvents)

		// Health check
		router.Get("/health", r.handler.GetHealth)
	})

	return router
}
