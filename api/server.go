/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging through the application's zap logger
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for a frontend

ROUTE GROUPS:
  /api/users/{userID}/*  Hierarchy mutations, checks, per-user queries
  /api/rewards/*         Catalog
  /api/leaderboard       Ranking
  /api/scenarios/*       Demo scenarios
  /healthz               Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/achievement-engine/logger"
)

// DefaultOrigins are allowed when no CORS origins are configured.
var DefaultOrigins = []string{"http://localhost:5173", "http://localhost:3000"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultOrigins
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&requestLogFormatter{log: h.Log}))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/hierarchy", h.GetHierarchy)

			r.Post("/objectives", h.CreateObjective)
			r.Put("/objectives/{objectiveID}/status", h.UpdateObjectiveStatus)
			r.Post("/objectives/{objectiveID}/checkpoints", h.CreateCheckpoint)

			r.Put("/checkpoints/{checkpointID}/status", h.UpdateCheckpointStatus)
			r.Post("/checkpoints/{checkpointID}/actions", h.CreateAction)

			r.Post("/actions/{actionID}/complete", h.CompleteAction)
			r.Get("/actions/{actionID}/streak", h.GetActionStreak)

			r.Post("/check/{kind}", h.Check)
			r.Get("/achievements", h.ListUserAchievements)
			r.Get("/catalog", h.GetUserCatalog)
			r.Get("/stats", h.GetUserStats)
			r.Get("/position", h.GetUserPosition)
			r.Post("/notifications/flush", h.FlushNotifications)
		})

		r.Route("/rewards", func(r chi.Router) {
			r.Get("/", h.ListRewards)
			r.Post("/", h.CreateReward)
			r.Post("/seed", h.SeedRewards)
			r.Get("/recent", h.ListRecent)
		})

		r.Get("/leaderboard", h.GetLeaderboard)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// =============================================================================
// REQUEST LOGGING
// =============================================================================

// requestLogFormatter routes chi's per-request log lines into zap.
type requestLogFormatter struct {
	log *logger.Logger
}

func (f *requestLogFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	log := f.log
	if log == nil {
		log = logger.Nop()
	}
	return &requestLogEntry{log: log.With(
		"method", r.Method,
		"path", r.URL.Path,
		"remote", r.RemoteAddr,
		"request_id", middleware.GetReqID(r.Context()),
	)}
}

type requestLogEntry struct {
	log *logger.Logger
}

func (e *requestLogEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	kv := []interface{}{"status", status, "bytes", bytes, "elapsed", elapsed}
	if status >= http.StatusInternalServerError {
		e.log.Warn("http request", kv...)
		return
	}
	e.log.Info("http request", kv...)
}

func (e *requestLogEntry) Panic(v interface{}, stack []byte) {
	e.log.Error("http handler panic", "panic", v, "stack", string(stack))
}
