package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domainerrors "github.com/davidleathers/risk-scoring-engine/internal/domain/errors"
)

// Scopes granted by risk API tokens
const (
	ScopeRiskRead  = "risk:read"
	ScopeRiskWrite = "risk:write"
)

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret   []byte
	Issuer      string
	TokenExpiry time.Duration
}

// Claims represents JWT claims
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

// HasScope reports whether the token grants scope. "*" grants everything.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope) || slices.Contains(c.Scopes, "*")
}

const contextKeyClaims contextKey = "claims"

// ClaimsFrom returns the authenticated claims, nil when auth is disabled
func ClaimsFrom(ctx context.Context) *Claims {
	c, _ := ctx.Value(contextKeyClaims).(*Claims)
	return c
}

// AuthMiddleware provides HS256 bearer token authentication
type AuthMiddleware struct {
	config *AuthConfig
	tracer trace.Tracer
	now    func() time.Time
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(config *AuthConfig) *AuthMiddleware {
	if config.TokenExpiry <= 0 {
		config.TokenExpiry = time.Hour
	}
	return &AuthMiddleware{
		config: config,
		tracer: otel.Tracer("api.rest.auth"),
		now:    time.Now,
	}
}

// Middleware rejects requests without a valid token carrying scope
func (a *AuthMiddleware) Middleware(scope string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := a.tracer.Start(r.Context(), "auth.middleware",
				trace.WithAttributes(attribute.String("required_scope", scope)))
			defer span.End()

			token, err := extractToken(r)
			if err != nil {
				span.RecordError(err)
				writeError(w, r, domainerrors.NewUnauthorizedError("Invalid authorization header"))
				return
			}

			claims, err := a.ValidateToken(token)
			if err != nil {
				span.RecordError(err)
				writeError(w, r, domainerrors.NewUnauthorizedError("Invalid or expired token"))
				return
			}

			if scope != "" && !claims.HasScope(scope) {
				writeError(w, r, &domainerrors.AppError{
					Type:       domainerrors.ErrorTypeUnauthorized,
					Code:       "FORBIDDEN",
					Message:    "Token lacks scope " + scope,
					StatusCode: http.StatusForbidden,
				})
				return
			}

			span.SetAttributes(attribute.String("auth.subject", claims.Subject))
			ctx = context.WithValue(ctx, contextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errors.New("invalid authorization header format")
	}
	return token, nil
}

// ValidateToken parses and verifies a token
func (a *AuthMiddleware) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.config.JWTSecret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// IssueToken signs a token for subject with the given scopes
func (a *AuthMiddleware) IssueToken(subject string, scopes ...string) (string, error) {
	now := a.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.TokenExpiry)),
		},
		Scopes: scopes,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.config.JWTSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
