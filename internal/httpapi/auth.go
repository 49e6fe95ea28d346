package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const userIDKey contextKey = "user_id"

// Authenticator validates bearer JWTs (HS256) and, as an alternative for
// machine callers, an API key checked against a bcrypt hash. With neither
// a secret nor a key hash configured, authentication is disabled.
type Authenticator struct {
	secret     []byte
	apiKeyHash []byte
	logger     *zap.Logger
}

func NewAuthenticator(jwtSecret, apiKeyHash string, logger *zap.Logger) *Authenticator {
	a := &Authenticator{logger: logger}
	if jwtSecret != "" {
		a.secret = []byte(jwtSecret)
	}
	if apiKeyHash != "" {
		a.apiKeyHash = []byte(apiKeyHash)
	}
	return a
}

// Enabled reports whether any credential check is configured.
func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0 || len(a.apiKeyHash) > 0
}

// Middleware rejects unauthenticated requests. On success the subject
// claim, when present, is attached to the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		if key := r.Header.Get("X-API-Key"); key != "" && len(a.apiKeyHash) > 0 {
			if err := bcrypt.CompareHashAndPassword(a.apiKeyHash, []byte(key)); err == nil {
				next.ServeHTTP(w, r)
				return
			}
			a.logger.Warn("API key rejected", zap.String("path", r.URL.Path))
			http.Error(w, "invalid API key", http.StatusUnauthorized)
			return
		}

		token := bearerToken(r)
		if token == "" || len(a.secret) == 0 {
			http.Error(w, "missing credentials", http.StatusUnauthorized)
			return
		}
		subject, err := a.verifyJWT(token)
		if err != nil {
			a.logger.Warn("JWT rejected", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if subject != "" {
			r = r.WithContext(context.WithValue(r.Context(), userIDKey, subject))
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) verifyJWT(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", fmt.Errorf("token not valid")
	}
	subject, err := parsed.Claims.GetSubject()
	if err != nil {
		return "", nil
	}
	return subject, nil
}

// bearerToken extracts the credential from the Authorization header, or
// from the access_token query parameter for WebSocket clients that
// cannot set headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return token
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// UserID returns the authenticated subject, if any.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
