package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/questboard/internal/handler"
	"github.com/dukerupert/questboard/internal/household"
	"github.com/dukerupert/questboard/internal/invite"
	"github.com/dukerupert/questboard/internal/middleware"
	"github.com/dukerupert/questboard/internal/notify"
	"github.com/dukerupert/questboard/internal/proof"
	"github.com/dukerupert/questboard/internal/push"
	"github.com/dukerupert/questboard/internal/quest"
	"github.com/dukerupert/questboard/internal/store"
)

// Config carries everything the server needs beyond the database handle.
type Config struct {
	BaseURL        string
	InviteSecret   string
	InviteLifetime time.Duration
	SweepInterval  time.Duration
	Proof          proof.Config
	Push           push.Config
}

type Server struct {
	db           *sql.DB
	authH        *handler.AuthHandler
	houseH       *handler.HouseHandler
	taskH        *handler.TaskHandler
	pushH        *handler.PushHandler
	sessionStore *store.SessionStore
	memberStore  *store.MemberStore
	rateLimiter  *middleware.RateLimiter
	sweeper      *quest.Sweeper
	logger       *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	userStore := store.NewUserStore(db)
	memberStore := store.NewMemberStore(db)
	houseStore := store.NewHouseStore(db)
	taskStore := store.NewTaskStore(db)
	sessionStore := store.NewSessionStore(db)
	pushStore := store.NewPushStore(db)

	pushSvc := push.NewService(cfg.Push)
	notifier := notify.NewPushNotifier(memberStore, pushStore, pushSvc, logger)

	proofStore := proof.NewStore(cfg.Proof)
	engine := quest.NewEngine(taskStore, memberStore, proofStore, notifier, logger)

	households := household.NewService(houseStore, memberStore, logger)
	invites := invite.NewManager(cfg.InviteSecret, cfg.BaseURL, cfg.InviteLifetime)

	sweepInterval := cfg.SweepInterval
	if sweepInterval == 0 {
		sweepInterval = time.Minute
	}

	return &Server{
		db:           db,
		authH:        handler.NewAuthHandler(userStore, memberStore, sessionStore, households, invites, logger),
		houseH:       handler.NewHouseHandler(households, invites, logger),
		taskH:        handler.NewTaskHandler(engine, logger),
		pushH:        handler.NewPushHandler(pushStore, pushSvc, logger),
		sessionStore: sessionStore,
		memberStore:  memberStore,
		rateLimiter:  middleware.NewRateLimiter(),
		sweeper:      quest.NewSweeper(taskStore, sweepInterval, logger),
		logger:       logger,
	}
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// Sweeper returns the deadline sweeper so main can start and stop it.
func (s *Server) Sweeper() *quest.Sweeper {
	return s.sweeper
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("POST /api/auth/register", s.rateLimitedHandler(s.authH.Register))
	outerMux.HandleFunc("POST /api/auth/login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.Handle("GET /metrics", promhttp.Handler())

	// Protected routes
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.sessionStore, s.memberStore)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	parent := middleware.RequireParent

	// Session
	mux.HandleFunc("POST /api/auth/logout", s.authH.Logout)
	mux.HandleFunc("GET /api/auth/me", s.authH.Me)

	// House
	mux.HandleFunc("POST /api/house", s.houseH.Create)
	mux.HandleFunc("GET /api/house", s.houseH.Get)
	mux.Handle("PUT /api/house", parent(http.HandlerFunc(s.houseH.Rename)))
	mux.HandleFunc("GET /api/house/members", s.houseH.Members)
	mux.Handle("POST /api/house/invites", parent(http.HandlerFunc(s.houseH.CreateInvite)))
	mux.HandleFunc("POST /api/house/join", s.houseH.Join)

	// Tasks
	mux.Handle("POST /api/tasks", parent(http.HandlerFunc(s.taskH.Create)))
	mux.HandleFunc("GET /api/tasks", s.taskH.List)
	mux.HandleFunc("GET /api/tasks/{id}", s.taskH.Get)
	mux.HandleFunc("POST /api/tasks/{id}/submit", s.taskH.Submit)
	mux.Handle("POST /api/tasks/{id}/approve", parent(http.HandlerFunc(s.taskH.Approve)))
	mux.Handle("POST /api/tasks/{id}/reject", parent(http.HandlerFunc(s.taskH.Reject)))
	mux.Handle("PUT /api/tasks/{id}/deadline", parent(http.HandlerFunc(s.taskH.ExtendDeadline)))
	mux.Handle("DELETE /api/tasks/{id}", parent(http.HandlerFunc(s.taskH.Delete)))

	// Push
	mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
	mux.HandleFunc("DELETE /api/push/subscribe", s.pushH.Unsubscribe)
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
}
