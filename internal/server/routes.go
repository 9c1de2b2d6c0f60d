package server

import (
	"net/http"

	"github.com/AtoyanMikhail/newsauth/internal/roles"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	RouteRegister  = "/api/auth/register"
	RouteLogin     = "/api/auth/login"
	RouteRefresh   = "/api/auth/refresh"
	RouteLogout    = "/api/auth/logout"
	RouteLogoutAll = "/api/auth/logout-all"
	RouteMe        = "/api/auth/me"
	RouteSessions  = "/api/auth/sessions"
	RouteSetActive = "/api/users/{id}/active"
)

func (s *Server) initRoutes() {
	public := s.APIMiddleware()
	authed := s.APIMiddleware(s.RequireAuth())
	admin := s.APIMiddleware(s.RequireAuth(), s.RequireRole(roles.Admin))

	s.RegisterRouteHandler("POST "+RouteRegister, ChainMiddleware(s.RegisterHandler(), public...))
	s.RegisterRouteHandler("POST "+RouteLogin, ChainMiddleware(s.LoginHandler(), public...))
	s.RegisterRouteHandler("POST "+RouteRefresh, ChainMiddleware(s.RefreshHandler(), public...))
	s.RegisterRouteHandler("POST "+RouteLogout, ChainMiddleware(s.LogoutHandler(), authed...))
	s.RegisterRouteHandler("POST "+RouteLogoutAll, ChainMiddleware(s.LogoutAllHandler(), authed...))
	s.RegisterRouteHandler("GET "+RouteMe, ChainMiddleware(s.MeHandler(), authed...))
	s.RegisterRouteHandler("GET "+RouteSessions, ChainMiddleware(s.SessionsHandler(), authed...))
	s.RegisterRouteHandler("PATCH "+RouteSetActive, ChainMiddleware(s.SetActiveHandler(), admin...))

	// preflight for every API route
	s.RegisterRouteHandler("OPTIONS /api/", ChainMiddleware(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, public...))

	s.RegisterRouteHandler("GET /healthz", http.HandlerFunc(s.HealthHandler))
	s.RegisterRouteHandler("GET /readyz", http.HandlerFunc(s.ReadyHandler))
	if s.gatherer != nil {
		s.RegisterRouteHandler("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}
