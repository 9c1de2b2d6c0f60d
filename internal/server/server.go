package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/AtoyanMikhail/newsauth/internal/config"
	"github.com/AtoyanMikhail/newsauth/internal/logger"
	"github.com/AtoyanMikhail/newsauth/internal/repository/models"
	"github.com/AtoyanMikhail/newsauth/internal/session"
	"github.com/AtoyanMikhail/newsauth/internal/token"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
)

const maxBodyBytes = 1 << 20

// AuthService is what the HTTP layer needs from the session orchestrator.
type AuthService interface {
	Register(ctx context.Context, in session.RegisterInput, meta session.Meta) (*models.User, error)
	Login(ctx context.Context, in session.LoginInput) (*session.Result, error)
	Refresh(ctx context.Context, in session.RefreshInput) (*session.Result, error)
	Logout(ctx context.Context, identity *token.Claims, refreshToken string, meta session.Meta) error
	LogoutAll(ctx context.Context, identity *token.Claims, meta session.Meta) (int64, error)
	Authenticate(ctx context.Context, accessToken string) (*token.Claims, error)
	Identity(claims *token.Claims) (*token.Claims, error)
	Sessions(ctx context.Context, userID string) ([]*models.RefreshSession, error)
	SetUserActive(ctx context.Context, actor *token.Claims, userID string, active bool, meta session.Meta) error
}

type CookieConfig struct {
	Name   string
	Path   string
	Domain string
	Secure bool
}

type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	TrustProxy      bool
	Cookie          CookieConfig
}

// ConfigFrom derives the HTTP settings from the application config.
func ConfigFrom(c *config.Config) Config {
	return Config{
		Addr:            net.JoinHostPort(c.Server.Host, c.Server.Port),
		ReadTimeout:     c.Server.ReadTimeout.Std(),
		WriteTimeout:    c.Server.WriteTimeout.Std(),
		ShutdownTimeout: c.Server.ShutdownTimeout.Std(),
		AllowedOrigins:  c.Server.AllowedOrigins,
		TrustProxy:      c.Server.TrustProxy,
		Cookie: CookieConfig{
			Name:   c.Cookie.Name,
			Path:   c.Cookie.Path,
			Domain: c.Cookie.Domain,
			Secure: c.IsProduction(),
		},
	}
}

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

type Option func(*Server)

func WithReadyCheck(name string, check ReadyCheck) Option {
	return func(s *Server) {
		s.ready[name] = check
	}
}

// WithMetrics exposes g on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

type Server struct {
	mux      *http.ServeMux
	cfg      Config
	auth     AuthService
	validate *validator.Validate
	logger   logger.Logger
	ready    map[string]ReadyCheck
	gatherer prometheus.Gatherer
	origins  map[string]struct{}
}

func New(cfg Config, auth AuthService, l logger.Logger, opts ...Option) (*Server, error) {
	v, err := newValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to set up request validation: %w", err)
	}

	s := &Server{
		mux:      http.NewServeMux(),
		cfg:      cfg,
		auth:     auth,
		validate: v,
		logger:   l,
		ready:    make(map[string]ReadyCheck),
		origins:  make(map[string]struct{}, len(cfg.AllowedOrigins)),
	}
	for _, o := range cfg.AllowedOrigins {
		s.origins[o] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}

	s.initRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", logger.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}
