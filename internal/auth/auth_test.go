package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewServiceValidatesConfig(t *testing.T) {
	svc, err := NewService(Config{})
	if err != nil || svc.Mode() != ModeDisabled {
		t.Fatalf("expected disabled service, got %v / %v", svc, err)
	}
	if _, err := NewService(Config{Mode: "oauth"}); err == nil {
		t.Fatalf("expected unknown mode error")
	}
	if _, err := NewService(Config{Mode: ModeToken}); err == nil {
		t.Fatalf("expected missing token error")
	}
	if _, err := NewService(Config{Mode: ModeToken, Tokens: []TokenConfig{{Subject: "ops", TokenSHA256: "zz"}}}); err == nil {
		t.Fatalf("expected invalid digest error")
	}
	if _, err := NewService(Config{Mode: ModeToken, Tokens: []TokenConfig{{Subject: "ops", TokenEnv: "NEXUS_TEST_UNSET_TOKEN"}}}); err == nil {
		t.Fatalf("expected unset env error")
	}
}

func TestAuthenticateRequest(t *testing.T) {
	t.Setenv("NEXUS_TEST_TOKEN", "s3cret")
	svc, err := NewService(Config{Mode: ModeToken, Tokens: []TokenConfig{
		{Subject: "ops", TokenEnv: "NEXUS_TEST_TOKEN", Permissions: []string{"*"}},
		{Subject: "viewer", TokenSHA256: HashToken("look")},
	}})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, err := svc.AuthenticateRequest(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
	if _, err := svc.AuthenticateRequest("Bearer nope"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}

	ops, err := svc.AuthenticateRequest("bearer s3cret")
	if err != nil || ops.Name != "ops" || !ops.HasPermission(PermissionHire) {
		t.Fatalf("unexpected ops subject %+v (%v)", ops, err)
	}
	viewer, err := svc.AuthenticateRequest("Bearer look")
	if err != nil {
		t.Fatalf("viewer: %v", err)
	}
	if !viewer.HasPermission(PermissionRead) || viewer.HasPermission(PermissionHire) {
		t.Fatalf("viewer should default to read only: %+v", viewer.Permissions)
	}
	if err := viewer.Authorize(PermissionHire); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestMiddlewareStoresSubject(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeToken, Tokens: []TokenConfig{
		{Subject: "ops", TokenSHA256: HashToken("t"), Permissions: []string{PermissionRead, PermissionHire}},
	}})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	var seen *Subject
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := svc.Middleware(MiddlewareConfig{
		RequiredPermissions: DefaultPermissions(),
		Public:              []string{"/healthz"},
	})(next)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hire", nil)
	req.Header.Set("Authorization", "Bearer t")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || seen == nil || seen.Name != "ops" {
		t.Fatalf("expected authorised request, got %d / %+v", rec.Code, seen)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("public path should bypass auth, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/state", nil))
	if rec.Code != http.StatusUnauthorized || rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected 401 challenge, got %d", rec.Code)
	}
}

func TestSubjectContextRoundTrip(t *testing.T) {
	if SubjectFromContext(context.Background()) != nil {
		t.Fatalf("expected no subject")
	}
	ctx := WithSubject(context.Background(), &Subject{Name: "ops", Permissions: []string{PermissionRead}})
	if s := SubjectFromContext(ctx); s == nil || !s.HasPermission(PermissionRead) {
		t.Fatalf("subject lost in context: %+v", s)
	}
}
