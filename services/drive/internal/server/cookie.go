package server

import (
	"net/http"
	"strings"
	"time"
)

// SessionCookieName is the cookie carrying the opaque session token.
const SessionCookieName = "session"

func sessionToken(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// setSessionCookie stores token for ttl. Secure cookies use SameSite=None
// so a frontend on another origin can send them; plain HTTP development
// setups get Lax.
func (s *Server) setSessionCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(w, s.sessionCookie(token, int(ttl/time.Second)))
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, s.sessionCookie("", -1))
}

func (s *Server) sessionCookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if s.cookieSecure {
		c.SameSite = http.SameSiteNoneMode
	}
	return c
}
