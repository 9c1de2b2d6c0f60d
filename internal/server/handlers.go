package server

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/AtoyanMikhail/newsauth/internal/logger"
	"github.com/AtoyanMikhail/newsauth/internal/models"
	repomodels "github.com/AtoyanMikhail/newsauth/internal/repository/models"
	"github.com/AtoyanMikhail/newsauth/internal/session"
)

func (s *Server) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.RegisterReq
		if !s.bind(w, r, &req) {
			return
		}

		user, err := s.auth.Register(r.Context(), session.RegisterInput{
			Username: req.Username,
			Email:    req.Email,
			Password: req.Password,
		}, s.meta(r))
		if err != nil {
			s.fail(w, r, err)
			return
		}

		writeData(w, http.StatusCreated, toUserRes(user), "registration successful")
	}
}

func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.LoginReq
		if !s.bind(w, r, &req) {
			return
		}

		res, err := s.auth.Login(r.Context(), session.LoginInput{
			Email:       req.Email,
			Password:    req.Password,
			Fingerprint: req.Fingerprint,
			Meta:        s.meta(r),
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}

		s.setRefreshCookie(w, res.RefreshToken, res.RefreshExpiresAt)
		writeData(w, http.StatusOK, models.LoginRes{
			AccessToken: res.AccessToken,
			Fingerprint: res.Fingerprint,
			User:        toUserRes(res.User),
		}, "login successful")
	}
}

// RefreshHandler rotates the refresh cookie. Every failure clears the cookie so the
// client stops presenting a token that can no longer work.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.RefreshReq
		if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
			s.clearRefreshCookie(w)
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}

		res, err := s.auth.Refresh(r.Context(), session.RefreshInput{
			RefreshToken: s.refreshCookie(r),
			Fingerprint:  req.Fingerprint,
			Meta:         s.meta(r),
		})
		if err != nil {
			s.clearRefreshCookie(w)
			s.fail(w, r, err)
			return
		}

		s.setRefreshCookie(w, res.RefreshToken, res.RefreshExpiresAt)
		writeData(w, http.StatusOK, models.RefreshRes{
			AccessToken: res.AccessToken,
			Fingerprint: res.Fingerprint,
		}, "")
	}
}

func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := s.auth.Logout(r.Context(), ClaimsFrom(r.Context()), s.refreshCookie(r), s.meta(r))
		s.clearRefreshCookie(w)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, nil, "logout successful")
	}
}

func (s *Server) LogoutAllHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := s.auth.LogoutAll(r.Context(), ClaimsFrom(r.Context()), s.meta(r))
		s.clearRefreshCookie(w)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, models.LogoutAllRes{Revoked: n}, "logged out on all devices")
	}
}

func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.auth.Identity(ClaimsFrom(r.Context()))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, models.MeRes{
			UserID:   claims.UserID,
			Username: claims.Username,
			Roles:    claims.Roles,
		}, "")
	}
}

func (s *Server) SessionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.auth.Identity(ClaimsFrom(r.Context()))
		if err != nil {
			s.fail(w, r, err)
			return
		}

		list, err := s.auth.Sessions(r.Context(), claims.UserID)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		out := make([]models.SessionRes, 0, len(list))
		for _, rs := range list {
			out = append(out, models.SessionRes{
				ID:        rs.ID,
				CreatedAt: rs.CreatedAt,
				ExpiresAt: rs.ExpiresAt,
				IPAddress: rs.IPAddress,
				UserAgent: rs.UserAgent,
			})
		}
		writeData(w, http.StatusOK, out, "")
	}
}

func (s *Server) SetActiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.SetActiveReq
		if !s.bind(w, r, &req) {
			return
		}

		userID := r.PathValue("id")
		if err := s.auth.SetUserActive(r.Context(), ClaimsFrom(r.Context()), userID, *req.Active, s.meta(r)); err != nil {
			s.fail(w, r, err)
			return
		}

		msg := "user activated"
		if !*req.Active {
			msg = "user deactivated"
		}
		s.logger.Info("User status changed by admin",
			logger.String("user_id", userID),
			logger.Bool("active", *req.Active))
		writeData(w, http.StatusOK, nil, msg)
	}
}

// bind decodes and validates the body, answering 400 itself on failure.
func (s *Server) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", describe(err))
		return false
	}
	return true
}

func (s *Server) meta(r *http.Request) session.Meta {
	return session.Meta{
		IPAddress: s.clientIP(r),
		UserAgent: strings.TrimSpace(r.UserAgent()),
	}
}

func (s *Server) clientIP(r *http.Request) string {
	if s.cfg.TrustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip.String()
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	return ""
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

func toUserRes(u *repomodels.User) models.UserRes {
	if u == nil {
		return models.UserRes{}
	}
	return models.UserRes{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Roles:     u.RoleNames(),
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}
