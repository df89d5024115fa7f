package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chillerhub/internal/apperr"
)

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := NewJWTVerifier("secret", "chillerhub")
	token, err := v.Sign(Principal{OrganizationID: 7, UserID: 3}, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	p, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if p.OrganizationID != 7 || p.UserID != 3 || p.Service {
		t.Errorf("principal = %+v", p)
	}
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v := NewJWTVerifier("secret", "chillerhub")

	expired, _ := v.Sign(Principal{OrganizationID: 7}, -time.Minute)
	otherKey, _ := NewJWTVerifier("other", "chillerhub").Sign(Principal{OrganizationID: 7}, time.Hour)
	otherIssuer, _ := NewJWTVerifier("secret", "someone-else").Sign(Principal{OrganizationID: 7}, time.Hour)
	noOrg, _ := v.Sign(Principal{UserID: 1}, time.Hour)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{OrganizationID: 7}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := map[string]string{
		"expired":      expired,
		"wrong key":    otherKey,
		"wrong issuer": otherIssuer,
		"no org":       noOrg,
		"alg none":     none,
		"garbage":      "not-a-token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			if !errors.Is(err, apperr.ErrUnauthenticated) {
				t.Errorf("Verify() error = %v, want ErrUnauthenticated", err)
			}
		})
	}
}

func TestAuthenticator(t *testing.T) {
	v := NewJWTVerifier("secret", "")
	session, _ := v.Sign(Principal{OrganizationID: 2, UserID: 5}, time.Hour)
	a := NewAuthenticator("svc-token", 9, v)

	tests := []struct {
		name    string
		header  map[string]string
		query   string
		wantOrg int64
		wantSvc bool
		wantErr error
	}{
		{"service token", map[string]string{ServiceTokenHeader: "svc-token"}, "", 9, true, nil},
		{"service wins over bearer", map[string]string{ServiceTokenHeader: "svc-token", "Authorization": "Bearer " + session}, "", 9, true, nil},
		{"wrong service token", map[string]string{ServiceTokenHeader: "nope", "Authorization": "Bearer " + session}, "", 0, false, ErrInvalidCredentials},
		{"bearer", map[string]string{"Authorization": "Bearer " + session}, "", 2, false, nil},
		{"lowercase scheme", map[string]string{"Authorization": "bearer " + session}, "", 2, false, nil},
		{"query token", nil, "?access_token=" + session, 2, false, nil},
		{"basic scheme", map[string]string{"Authorization": "Basic abc"}, "", 0, false, ErrMissingCredentials},
		{"nothing", nil, "", 0, false, ErrMissingCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/x"+tt.query, nil)
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			p, err := a.Authenticate(r)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if p.OrganizationID != tt.wantOrg || p.Service != tt.wantSvc {
				t.Errorf("principal = %+v", p)
			}
		})
	}
}

func TestAuthenticator_ServiceTokenDisabled(t *testing.T) {
	a := NewAuthenticator("", 0, nil)
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set(ServiceTokenHeader, "")
	if _, err := a.Authenticate(r); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("empty header error = %v", err)
	}

	r.Header.Set(ServiceTokenHeader, "anything")
	if _, err := a.Authenticate(r); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("disabled service token error = %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	a := NewAuthenticator("svc", 4, nil)

	var got Principal
	h := a.Middleware(func(w http.ResponseWriter, r *http.Request, err error) {
		w.WriteHeader(apperr.Status(err))
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(ServiceTokenHeader, "svc")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	if rr.Code != http.StatusNoContent || got.OrganizationID != 4 || !got.Service {
		t.Errorf("status = %d principal = %+v", rr.Code, got)
	}
}

func TestRequirePrincipal(t *testing.T) {
	if _, err := RequirePrincipal(context.Background()); !IsAuthError(err) {
		t.Errorf("empty context error = %v", err)
	}
	ctx := WithPrincipal(context.Background(), Principal{OrganizationID: 1})
	if p, err := RequirePrincipal(ctx); err != nil || p.OrganizationID != 1 {
		t.Errorf("RequirePrincipal() = %+v, %v", p, err)
	}
}
