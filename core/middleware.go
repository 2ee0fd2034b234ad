package core

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
)

const sessionName = "ppjudge_session"
const sessionMaxAge = 18000 // 5h

// SessionMiddleware ensures a session exists and applies consistent cookie options.
func SessionMiddleware(cfg Config, store *sessions.CookieStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := store.Get(c.Request, sessionName)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "session error")
			c.Abort()
			return
		}
		applySessionOptions(cfg, session)
		c.Set("session", session)
		c.Next()
	}
}

func applySessionOptions(cfg Config, session *sessions.Session) {
	if session.Options == nil {
		session.Options = &sessions.Options{}
	}
	session.Options.Path = "/"
	session.Options.MaxAge = sessionMaxAge
	session.Options.HttpOnly = true
	session.Options.Secure = cfg.CookieSecure
	session.Options.SameSite = sameSiteFromString(cfg.CookieSameSite)
}

func sameSiteFromString(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

// CSRFMiddleware issues and validates a per-session CSRF token. Unsafe
// methods must echo the token in X-CSRF-Token; login is exempt so a fresh
// client can obtain its first token.
func CSRFMiddleware(cfg Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessionOf(c)
		if session == nil {
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "session error")
			c.Abort()
			return
		}

		token, _ := session.Values["csrf_token"].(string)
		if token == "" {
			generated, err := generateCSRFToken()
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to issue csrf token")
				c.Abort()
				return
			}
			token = generated
			session.Values["csrf_token"] = token
			applySessionOptions(cfg, session)
			if err := session.Save(c.Request, c.Writer); err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to persist session")
				c.Abort()
				return
			}
		}

		if !isSafeMethod(c.Request.Method) && !csrfExemptPath(c.Request.URL.Path) {
			if header := c.GetHeader("X-CSRF-Token"); header == "" || header != token {
				respondError(c, http.StatusForbidden, "FORBIDDEN", "invalid csrf token")
				c.Abort()
				return
			}
		}

		// Expose token so clients can read and reuse it.
		c.Writer.Header().Set("X-CSRF-Token", token)
		c.Next()
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

// Paths that intentionally skip CSRF validation.
func csrfExemptPath(path string) bool {
	switch path {
	case "/api/v1/auth/login":
		return true
	default:
		return false
	}
}

func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// sessionOf pulls the gorilla session out of the gin context.
func sessionOf(c *gin.Context) *sessions.Session {
	sessionAny, _ := c.Get("session")
	sess, _ := sessionAny.(*sessions.Session)
	return sess
}

// requireLogin aborts with 401 unless the session carries a user id.
// Returns (userID, role, ok).
func requireLogin(c *gin.Context) (string, string, bool) {
	sess := sessionOf(c)
	if sess == nil {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "login required")
		c.Abort()
		return "", "", false
	}
	userID, _ := sess.Values["user_id"].(string)
	role, _ := sess.Values["role"].(string)
	if strings.TrimSpace(userID) == "" {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "login required")
		c.Abort()
		return "", "", false
	}
	return userID, role, true
}

// AdminOnly ensures the session role is admin.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, role, ok := requireLogin(c)
		if !ok {
			return
		}
		if role != "admin" {
			respondError(c, http.StatusForbidden, "FORBIDDEN", "admin role required")
			c.Abort()
			return
		}
		c.Next()
	}
}
