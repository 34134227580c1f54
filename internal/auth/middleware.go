package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const sessionIDKey contextKey = "sessionID"

// CookieName is the cookie carrying the signed session token.
const CookieName = "facematch_session"

// SessionConfig configures SessionMiddleware.
type SessionConfig struct {
	Secret string
	TTL    time.Duration
	Secure bool
}

// GetSessionID retrieves the session identifier from context.
func GetSessionID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(sessionIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// SessionMiddleware identifies the browser session. A valid token from the
// session cookie or a bearer header is reused; otherwise a new session is
// minted and its token set as cookie and echoed in the X-Session-Token header.
func SessionMiddleware(cfg SessionConfig) gin.HandlerFunc {
	secret := []byte(strings.TrimSpace(cfg.Secret))

	return func(c *gin.Context) {
		if len(secret) == 0 {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "missing session secret"})
			return
		}

		sessionID := ""
		if token := tokenFromRequest(c); token != "" {
			if subject, err := parseToken(token, secret); err == nil {
				sessionID = subject
			}
		}

		if sessionID == "" {
			sessionID = uuid.NewString()
			token, err := IssueToken(sessionID, secret, cfg.TTL, time.Now())
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to issue session"})
				return
			}
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(CookieName, token, int(cfg.TTL/time.Second), "/", "", cfg.Secure, true)
			c.Header("X-Session-Token", token)
		}

		ctx := context.WithValue(c.Request.Context(), sessionIDKey, sessionID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(sessionIDKey), sessionID)

		c.Next()
	}
}

// IssueToken signs a session token for sessionID valid for ttl from now.
func IssueToken(sessionID string, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func parseToken(tokenString string, secret []byte) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}

func tokenFromRequest(c *gin.Context) string {
	if token, err := extractBearerToken(c.Request.Header.Get("Authorization")); err == nil {
		return token
	}
	if cookie, err := c.Cookie(CookieName); err == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}
