package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AuthConfig controls bearer-token authentication for the RPC surface.
type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   []string
	ScopeClaim string
	// OptionalPaths are served without a token when AllowAnonymous is set.
	OptionalPaths  []string
	AllowAnonymous bool
	ClockSkew      time.Duration
}

type contextKey string

var (
	ErrMissingToken      = errors.New("missing bearer token")
	ErrInvalidToken      = errors.New("invalid token")
	ErrInsufficientScope = errors.New("insufficient scope")
)

const (
	ContextKeySubject contextKey = "rpc.subject"
	ContextKeyScopes  contextKey = "rpc.scopes"
)

// Authenticator validates HMAC signed JWTs.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
	}
}

func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.Disabled() || (a.cfg.AllowAnonymous && a.isOptional(r.URL.Path)) {
				next.ServeHTTP(w, r)
				return
			}
			ctx, status, err := a.Authenticate(r, requiredScopes...)
			if err != nil {
				http.Error(w, err.Error(), status)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Disabled reports whether requests pass without a token.
func (a *Authenticator) Disabled() bool {
	return a == nil || !a.cfg.Enabled
}

// Authenticate validates the bearer token on r and returns a context carrying
// the subject and scopes. On failure the HTTP status to report is returned.
func (a *Authenticator) Authenticate(r *http.Request, requiredScopes ...string) (context.Context, int, error) {
	if a.Disabled() {
		return r.Context(), http.StatusOK, nil
	}
	tokenString := extractBearer(r.Header.Get("Authorization"))
	if tokenString == "" {
		return nil, http.StatusUnauthorized, ErrMissingToken
	}
	claims, err := a.parseToken(tokenString)
	if err != nil {
		a.logger.Warn("rpc auth: token validation failed", slog.String("error", err.Error()))
		return nil, http.StatusUnauthorized, ErrInvalidToken
	}
	if err := validateClaims(claims, a.cfg.Issuer, a.cfg.Audience); err != nil {
		a.logger.Warn("rpc auth: claim validation failed", slog.String("error", err.Error()))
		return nil, http.StatusUnauthorized, ErrInvalidToken
	}
	scopes := extractScopes(claims, a.cfg.ScopeClaim)
	if !hasScopes(scopes, requiredScopes) {
		return nil, http.StatusForbidden, ErrInsufficientScope
	}
	subject, _ := claims["sub"].(string)
	ctx := context.WithValue(r.Context(), ContextKeySubject, subject)
	ctx = context.WithValue(ctx, ContextKeyScopes, scopes)
	return ctx, http.StatusOK, nil
}

// Subject returns the token subject stored by the middleware, if any.
func Subject(ctx context.Context) string {
	subject, _ := ctx.Value(ContextKeySubject).(string)
	return subject
}

func (a *Authenticator) isOptional(path string) bool {
	for _, prefix := range a.cfg.OptionalPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func validateClaims(claims jwt.MapClaims, issuer string, audience []string) error {
	if issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != issuer {
			return errors.New("issuer mismatch")
		}
	}
	if len(audience) > 0 {
		var presented []string
		switch val := claims["aud"].(type) {
		case string:
			presented = []string{val}
		case []interface{}:
			for _, entry := range val {
				if s, ok := entry.(string); ok {
					presented = append(presented, s)
				}
			}
		}
		if !intersects(presented, audience) {
			return errors.New("audience mismatch")
		}
	}
	if exp, ok := claims["exp"].(float64); ok {
		if int64(exp) < time.Now().Unix() {
			return errors.New("token expired")
		}
	}
	return nil
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	raw, ok := claims[scopeClaim]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScopes(scopes []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
	for _, req := range required {
		if _, ok := set[req]; !ok {
			return false
		}
	}
	return true
}

func extractBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
