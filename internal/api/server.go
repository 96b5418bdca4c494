package api

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/david/deal-pulse/internal/auth"
	"github.com/david/deal-pulse/internal/config"
	"github.com/david/deal-pulse/internal/crm"
	"github.com/david/deal-pulse/internal/db"
	"github.com/david/deal-pulse/internal/notify"
	"github.com/david/deal-pulse/internal/pipeline"
	"github.com/david/deal-pulse/internal/secrets"
)

// SourceFactory opens the CRM deal source for one user.
type SourceFactory func(ctx context.Context, userID uuid.UUID) (pipeline.DealSource, error)

type Server struct {
	Store       *db.Store
	Tokens      *db.TokenStore
	AuthService *auth.Service
	Echo        *echo.Echo
	DB          *pgxpool.Pool
	Config      *config.Config
	Scorer      *pipeline.Scorer
	Emitter     *notify.Emitter
	Sources     SourceFactory

	logger     *zap.Logger
	runs       pipeline.RunRecorder
	recipients pipeline.RecipientResolver

	// Background scan jobs
	jobMu       sync.Mutex
	jobs        map[string]*backgroundJob
	activeScans map[uuid.UUID]*backgroundJob
}

var (
	adminSecretOnce    sync.Once
	adminSecretRuntime string
	adminSecretErr     error
)

// NewServer wires the HTTP API. An invalid scoring configuration is
// reported here so the process never starts with it.
func NewServer(pool *pgxpool.Pool, cfg *config.Config, box *secrets.Box, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	scorer, err := pipeline.NewScorer(cfg.Scoring)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))

	allowedOrigins := []string{"http://localhost:4200"}
	if extra := os.Getenv("CORS_ORIGINS"); extra != "" {
		for _, o := range strings.Split(extra, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	store := db.NewStore(pool).WithCooldown(cfg.Alerts.Cooldown())
	var tokens *db.TokenStore
	if box != nil {
		tokens = db.NewTokenStore(store, box, cfg.CRM.Provider)
	}

	s := &Server{
		DB:          pool,
		Store:       store,
		Tokens:      tokens,
		AuthService: auth.NewService(pool),
		Echo:        e,
		Config:      cfg,
		Scorer:      scorer,
		Emitter:     notify.NewEmitter(store, cfg.Alerts, logger.Named("notify")),
		logger:      logger,
		runs:        store,
		recipients:  store,
		jobs:        make(map[string]*backgroundJob),
		activeScans: make(map[uuid.UUID]*backgroundJob),
	}
	s.Sources = func(ctx context.Context, userID uuid.UUID) (pipeline.DealSource, error) {
		var ts crm.TokenStore
		if s.Tokens != nil {
			ts = s.Tokens
		}
		return crm.NewSource(ctx, cfg.CRM, ts, userID, logger.Named("crm"))
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")

	api.POST("/auth/signup", s.handleSignup)
	api.POST("/auth/login", s.handleLogin)

	user := api.Group("")
	user.Use(auth.Middleware)
	user.GET("/deals", s.handleListDeals)
	user.POST("/scans", s.handleStartScan)
	user.GET("/scans", s.handleListScans)
	user.GET("/scans/jobs/:id", s.handleUserJobStatus)
	user.GET("/scans/:id", s.handleGetScan)
	user.GET("/notifications", s.handleListNotifications)
	user.GET("/notifications/count", s.handleCountNotifications)
	user.POST("/notifications/read-all", s.handleMarkAllRead)
	user.POST("/notifications/:id/read", s.handleMarkRead)
	user.POST("/notifications/:id/dismiss", s.handleDismiss)
	user.GET("/announcements/active", s.handleActiveAnnouncements)
	user.POST("/announcements/:id/dismiss", s.handleDismissAnnouncement)

	admin := api.Group("/admin")
	admin.Use(s.adminMiddleware)
	admin.POST("/scans/:user_id", s.handleAdminScan)
	admin.GET("/job/:id", s.handleJobStatus)
	admin.POST("/notifications", s.handleAdminNotify)
	admin.POST("/announcements", s.handleCreateAnnouncement)
}

func (s *Server) Start(port string) error {
	s.logger.Info("server starting", zap.String("port", port))
	return s.Echo.Start(":" + port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.jobMu.Lock()
	for _, job := range s.activeScans {
		job.Cancel()
	}
	s.jobMu.Unlock()
	return s.Echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.DB != nil {
		if err := s.DB.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": "database unreachable"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSignup(c echo.Context) error {
	var req auth.SignupRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "Invalid request")
	}

	resp, err := s.AuthService.Signup(c.Request().Context(), req)
	switch {
	case errors.Is(err, auth.ErrUserExists):
		return jsonError(c, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrPasswordTooWeak):
		return jsonError(c, http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error("signup failed", zap.Error(err))
		return jsonError(c, http.StatusInternalServerError, "Signup failed")
	}
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "Invalid request")
	}

	resp, err := s.AuthService.Login(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCreds) {
			return jsonError(c, http.StatusUnauthorized, "Invalid credentials")
		}
		s.logger.Error("login failed", zap.Error(err))
		return jsonError(c, http.StatusInternalServerError, "Login failed")
	}
	return c.JSON(http.StatusOK, resp)
}

func jsonError(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

// requestLogger sends one structured line per request to zap.
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	httpLog := logger.Named("http")
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				httpLog.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			httpLog.Info("request", fields...)
			return nil
		},
	})
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret, err := adminSecret(s.logger)
		if err != nil {
			return jsonError(c, http.StatusInternalServerError, "Server admin configuration error")
		}

		presented := c.Request().Header.Get("X-Admin-Secret")
		if presented == "" {
			presented, _ = auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		}
		if presented != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1 {
			return next(c)
		}

		return jsonError(c, http.StatusUnauthorized, "Unauthorized admin access")
	}
}

func adminSecret(logger *zap.Logger) (string, error) {
	adminSecretOnce.Do(func() {
		secret := strings.TrimSpace(os.Getenv("ADMIN_SECRET"))
		if secret != "" {
			adminSecretRuntime = secret
			return
		}

		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			adminSecretErr = fmt.Errorf("failed to generate ADMIN_SECRET fallback: %w", err)
			return
		}

		adminSecretRuntime = base64.RawURLEncoding.EncodeToString(buf)
		logger.Warn("ADMIN_SECRET is not set; using ephemeral in-memory fallback secret")
	})

	if adminSecretErr != nil {
		return "", adminSecretErr
	}
	if adminSecretRuntime == "" {
		return "", fmt.Errorf("admin secret unavailable")
	}

	return adminSecretRuntime, nil
}
