package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/AngelCh415/leadscore/internal/logging"
)

type fakeRoles map[string][]string

func (f fakeRoles) RolesForUser(_ context.Context, id string) ([]string, error) {
	return f[id], nil
}

func newMiddleware(t *testing.T, roles fakeRoles) (*Middleware, *JWTManager) {
	t.Helper()
	jm, err := NewJWTManager("test-secret")
	if err != nil {
		t.Fatal(err)
	}
	enf, err := NewEnforcer()
	if err != nil {
		t.Fatal(err)
	}
	return NewMiddleware(jm, roles, enf, logging.Discard()), jm
}

func TestValidateToken(t *testing.T) {
	jm, _ := NewJWTManager("test-secret")
	tok, err := jm.GenerateToken("user-1", "u@example.com", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	c, err := jm.ValidateToken(tok)
	if err != nil || c.Subject != "user-1" || c.Email != "u@example.com" {
		t.Fatalf("claims = %+v, %v", c, err)
	}

	other, _ := NewJWTManager("other-secret")
	if _, err := other.ValidateToken(tok); err == nil {
		t.Fatal("token signed with another secret should fail")
	}

	expired, _ := jm.GenerateToken("user-1", "", -time.Minute)
	if _, err := jm.ValidateToken(expired); err == nil {
		t.Fatal("expired token should fail")
	}
}

func TestValidateTokenRejectsNoneAlg(t *testing.T) {
	jm, _ := NewJWTManager("test-secret")
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := jm.ValidateToken(s); err == nil {
		t.Fatal("alg none must be rejected")
	}
}

func TestNewJWTManagerRequiresSecret(t *testing.T) {
	if _, err := NewJWTManager(""); err == nil {
		t.Fatal("empty secret should be rejected")
	}
}

func TestEnforcerPolicy(t *testing.T) {
	enf, err := NewEnforcer()
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		roles    []string
		obj, act string
		want     bool
	}{
		{[]string{RoleAdmin}, ObjIngest, ActWrite, true},
		{[]string{RoleMarketing}, ObjReports, ActRead, true},
		{[]string{RoleMarketing}, ObjSpend, ActWrite, true},
		{[]string{RoleMarketing}, ObjSpend, ActRead, true},
		{[]string{RoleMarketing}, ObjDeals, ActWrite, false},
		{[]string{RoleSales}, ObjLeads, ActRead, true},
		{[]string{RoleSales}, ObjDeals, ActWrite, true},
		{[]string{RoleSales}, ObjIngest, ActWrite, false},
		{[]string{RoleSales, RoleMarketing}, ObjSpend, ActWrite, true},
		{nil, ObjReports, ActRead, false},
		{[]string{"viewer"}, ObjReports, ActRead, false},
	}
	for _, c := range cases {
		got, err := enf.Allowed(c.roles, c.obj, c.act)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Errorf("Allowed(%v, %s, %s) = %v want %v", c.roles, c.obj, c.act, got, c.want)
		}
	}
}

func TestMiddlewareStatuses(t *testing.T) {
	m, jm := newMiddleware(t, fakeRoles{"boss": {RoleAdmin}, "rep": {RoleSales}})
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFrom(r.Context())
		_, _ = w.Write([]byte(p.UserID))
	})
	h := m.Authenticate(m.Require(ObjIngest, ActWrite)(ok))

	bossTok, _ := jm.GenerateToken("boss", "", time.Hour)
	repTok, _ := jm.GenerateToken("rep", "", time.Hour)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"basic", "Basic Zm9vOmJhcg==", http.StatusUnauthorized},
		{"forbidden", "Bearer " + repTok, http.StatusForbidden},
		{"allowed", "Bearer " + bossTok, http.StatusOK},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/ingest/run", nil)
			if c.header != "" {
				req.Header.Set("Authorization", c.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != c.want {
				t.Fatalf("status = %d want %d (%s)", rec.Code, c.want, rec.Body.String())
			}
			if c.want == http.StatusOK && rec.Body.String() != "boss" {
				t.Fatalf("principal not propagated: %q", rec.Body.String())
			}
			if c.want == http.StatusForbidden && !strings.Contains(rec.Body.String(), `"FORBIDDEN"`) {
				t.Fatalf("body = %s", rec.Body.String())
			}
		})
	}
}
