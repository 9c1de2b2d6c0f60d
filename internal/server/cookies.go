package server

import (
	"net/http"
	"time"
)

func (s *Server) setRefreshCookie(w http.ResponseWriter, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Cookie.Name,
		Value:    value,
		Path:     s.cfg.Cookie.Path,
		Domain:   s.cfg.Cookie.Domain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.cfg.Cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Cookie.Name,
		Value:    "",
		Path:     s.cfg.Cookie.Path,
		Domain:   s.cfg.Cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.Cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) refreshCookie(r *http.Request) string {
	c, err := r.Cookie(s.cfg.Cookie.Name)
	if err != nil {
		return ""
	}
	return c.Value
}
