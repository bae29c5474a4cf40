package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dukerupert/lingo/internal/config"
	"github.com/dukerupert/lingo/internal/database"
	"github.com/dukerupert/lingo/internal/handler"
	"github.com/dukerupert/lingo/internal/middleware"
	"github.com/dukerupert/lingo/internal/push"
	"github.com/dukerupert/lingo/internal/reminder"
	"github.com/dukerupert/lingo/internal/store"
	ws "github.com/dukerupert/lingo/internal/websocket"
)

// Per-user request budget for the authenticated API.
const (
	apiRateLimit  = 60
	apiRateWindow = time.Minute
)

type Server struct {
	db          *sql.DB
	rdb         *redis.Client
	cfg         *config.Config
	hub         *ws.Hub
	pushH       *handler.PushHandler
	reminderH   *handler.ReminderHandler
	pushStore   *store.PushStore
	rateLimiter *middleware.RateLimiter
	pushService *push.Service
	deliverer   *push.Deliverer
	evaluator   *reminder.Evaluator
	outbox      *reminder.Outbox
	logger      *slog.Logger
}

// New wires the stores, delivery path, evaluator and HTTP handlers. When the
// marker backend is redis a client is created from cfg.Redis; Close releases it.
func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	pushSt := store.NewPushStore(db)
	learnerSt := store.NewLearnerStore(db)
	intentSt := store.NewIntentStore(db)

	var rdb *redis.Client
	var markers reminder.Markers
	if cfg.Reminder.MarkerBackend == config.MarkerBackendRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		markers = store.NewRedisMarkerStore(rdb, cfg.Reminder.MarkerRetention)
	} else {
		markers = store.NewMarkerStore(db)
	}

	pushSvc := push.NewService(push.Config{
		VAPIDPublicKey:  cfg.VAPID.PublicKey,
		VAPIDPrivateKey: cfg.VAPID.PrivateKey,
		Subject:         cfg.VAPID.Subject,
	})
	deliverer := push.NewDeliverer(pushSt, pushSvc, hub, logger.With("component", "push"))

	evaluator := reminder.NewEvaluator(reminder.Config{
		Interval:        cfg.Reminder.Interval,
		MarkerRetention: cfg.Reminder.MarkerRetention,
	}, learnerSt, pushSt, markers, intentSt, deliverer, logger.With("component", "reminder"))
	outbox := reminder.NewOutbox(intentSt, markers, deliverer, logger.With("component", "outbox"))

	return &Server{
		db:          db,
		rdb:         rdb,
		cfg:         cfg,
		hub:         hub,
		pushH:       handler.NewPushHandler(pushSt, deliverer, outbox, pushSvc.VAPIDPublicKey(), logger.With("component", "push_handler")),
		reminderH:   handler.NewReminderHandler(evaluator, logger.With("component", "reminder_handler")),
		pushStore:   pushSt,
		rateLimiter: middleware.NewRateLimiter(),
		pushService: pushSvc,
		deliverer:   deliverer,
		evaluator:   evaluator,
		outbox:      outbox,
		logger:      logger,
	}
}

// Close releases the redis client, if any. The database is owned by the caller.
func (s *Server) Close() error {
	if s.rdb != nil {
		return s.rdb.Close()
	}
	return nil
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Evaluator returns the reminder evaluator so the caller can start and stop it.
func (s *Server) Evaluator() *reminder.Evaluator {
	return s.evaluator
}

// Outbox returns the queued-reminder outbox.
func (s *Server) Outbox() *reminder.Outbox {
	return s.outbox
}

// PushStore returns the subscription registry.
func (s *Server) PushStore() *store.PushStore {
	return s.pushStore
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.Handle("GET /metrics", promhttp.Handler())
	outerMux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)

	// Protected routes wrapped with RequireAuth and a per-user rate limit
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.cfg.Auth.JWTSecret)
	rateLimit := middleware.RateLimit(s.rateLimiter, middleware.UserKey, apiRateLimit, apiRateWindow)
	outerMux.Handle("/", authMiddleware(rateLimit(protectedMux)))

	h := middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
	return otelhttp.NewHandler(h, "lingo")
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	resp := map[string]any{"status": "ok"}
	if v, err := database.SchemaVersion(r.Context(), s.db); err != nil {
		s.logger.Error("health check database", "error", err)
		status = http.StatusServiceUnavailable
		resp["status"] = "unavailable"
	} else {
		resp["schema_version"] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Subscription registry
	mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
	mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
	mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
	mux.HandleFunc("GET /api/push/preferences", s.pushH.GetPreferences)
	mux.HandleFunc("PUT /api/push/preferences", s.pushH.UpdatePreferences)
	mux.HandleFunc("POST /api/push/test", s.pushH.TestNotification)
	mux.HandleFunc("POST /api/push/sync", s.pushH.Sync)

	// Reminders
	mux.HandleFunc("POST /api/reminders/{kind}/trigger", s.reminderH.Trigger)

	// Live session events
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, originPatterns(s.cfg.App.Origin), s.logger.With("component", "websocket")))
}

// originPatterns allows cross-origin websocket connections from the app origin.
func originPatterns(origin string) []string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}
