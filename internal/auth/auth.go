// Package auth resolves request credentials into the organization a caller
// acts for.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chillerhub/internal/apperr"
	"chillerhub/internal/logger"
	"chillerhub/internal/metrics"
)

// ServiceTokenHeader carries the shared service credential.
const ServiceTokenHeader = "X-Service-Token"

var (
	ErrMissingCredentials = fmt.Errorf("%w: missing credentials", apperr.ErrUnauthenticated)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthenticated)
)

// Principal is the authenticated caller.
type Principal struct {
	OrganizationID int64
	UserID         int64
	Service        bool
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by the middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.OrganizationID > 0
}

// SessionVerifier turns a bearer token into a principal.
type SessionVerifier interface {
	Verify(token string) (Principal, error)
}

// Claims are the session token claims.
type Claims struct {
	UserID         int64 `json:"user_id"`
	OrganizationID int64 `json:"organization_id"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HMAC-signed session tokens.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier creates a verifier. An empty issuer accepts any issuer.
func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses and validates token.
func (v *JWTVerifier) Verify(token string) (Principal, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if claims.OrganizationID <= 0 {
		return Principal{}, fmt.Errorf("%w: token has no organization", ErrInvalidCredentials)
	}
	return Principal{OrganizationID: claims.OrganizationID, UserID: claims.UserID}, nil
}

// Sign issues a session token for p that expires after ttl.
func (v *JWTVerifier) Sign(p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:         p.UserID,
		OrganizationID: p.OrganizationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Authenticator checks the service credential first, then the session.
type Authenticator struct {
	serviceToken []byte
	serviceOrgID int64
	sessions     SessionVerifier
}

// NewAuthenticator creates an authenticator. An empty token disables the
// service credential; a nil verifier disables sessions.
func NewAuthenticator(serviceToken string, serviceOrgID int64, sessions SessionVerifier) *Authenticator {
	return &Authenticator{
		serviceToken: []byte(serviceToken),
		serviceOrgID: serviceOrgID,
		sessions:     sessions,
	}
}

// Authenticate resolves the caller of r.
func (a *Authenticator) Authenticate(r *http.Request) (Principal, error) {
	if tok := r.Header.Get(ServiceTokenHeader); tok != "" {
		if len(a.serviceToken) == 0 || a.serviceOrgID <= 0 ||
			subtle.ConstantTimeCompare([]byte(tok), a.serviceToken) != 1 {
			metrics.AuthFailuresTotal.WithLabelValues("service").Inc()
			return Principal{}, ErrInvalidCredentials
		}
		return Principal{OrganizationID: a.serviceOrgID, Service: true}, nil
	}

	bearer := bearerToken(r)
	if bearer == "" {
		return Principal{}, ErrMissingCredentials
	}
	if a.sessions == nil {
		metrics.AuthFailuresTotal.WithLabelValues("session").Inc()
		return Principal{}, ErrInvalidCredentials
	}
	p, err := a.sessions.Verify(bearer)
	if err != nil {
		metrics.AuthFailuresTotal.WithLabelValues("session").Inc()
		return Principal{}, err
	}
	return p, nil
}

// bearerToken reads the Authorization header, or the access_token query
// parameter that browsers use for WebSocket upgrades.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("access_token")
}

// Middleware authenticates every request and stores the principal in its
// context. Failures are rendered by onError.
func (a *Authenticator) Middleware(onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := a.Authenticate(r)
			if err != nil {
				logger.WithRequestID(r.Header.Get("X-Request-ID")).Debug().
					Err(err).
					Str("path", r.URL.Path).
					Msg("request not authenticated")
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequirePrincipal returns the caller or ErrMissingCredentials.
func RequirePrincipal(ctx context.Context) (Principal, error) {
	p, ok := FromContext(ctx)
	if !ok {
		return Principal{}, ErrMissingCredentials
	}
	return p, nil
}

// IsAuthError reports whether err rejects the caller's credentials.
func IsAuthError(err error) bool {
	return errors.Is(err, apperr.ErrUnauthenticated)
}
