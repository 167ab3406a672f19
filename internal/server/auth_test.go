package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mackeh/WardClaw/internal/config"
)

func TestAuthMiddleware(t *testing.T) {
	keys := []config.APIKey{
		{Name: "root", Token: "admin-tok", Role: "admin"},
		{Name: "ops", Token: "ops-tok", Role: "operator"},
		{Name: "dash", Token: "view-tok", Role: "viewer"},
		// TokenSecret set but never resolved, so Token stays empty.
		{Name: "unresolved", TokenSecret: "api-key", Role: "admin"},
	}

	tests := []struct {
		name     string
		enabled  bool
		need     Role
		target   string
		decorate func(*http.Request)
		want     int
	}{
		{
			name:    "disabled auth passes without credentials",
			enabled: false,
			need:    RoleAdmin,
			want:    http.StatusOK,
		},
		{
			name:    "missing token",
			enabled: true,
			need:    RoleViewer,
			want:    http.StatusUnauthorized,
		},
		{
			name:    "wrong token",
			enabled: true,
			need:    RoleViewer,
			decorate: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer nope")
			},
			want: http.StatusUnauthorized,
		},
		{
			name:    "unresolved key matches nothing",
			enabled: true,
			need:    RoleViewer,
			decorate: func(r *http.Request) {
				r.Header.Set("X-API-Key", "anything")
			},
			want: http.StatusUnauthorized,
		},
		{
			name:    "bearer header",
			enabled: true,
			need:    RoleViewer,
			decorate: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer admin-tok")
			},
			want: http.StatusOK,
		},
		{
			name:    "x-api-key header",
			enabled: true,
			need:    RoleOperator,
			decorate: func(r *http.Request) {
				r.Header.Set("X-API-Key", "ops-tok")
			},
			want: http.StatusOK,
		},
		{
			name:    "api_key query parameter",
			enabled: true,
			need:    RoleViewer,
			target:  "/api/ws?api_key=view-tok",
			want:    http.StatusOK,
		},
		{
			name:    "viewer blocked from admin route",
			enabled: true,
			need:    RoleAdmin,
			decorate: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer view-tok")
			},
			want: http.StatusForbidden,
		},
		{
			name:    "operator blocked from admin route",
			enabled: true,
			need:    RoleAdmin,
			decorate: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer ops-tok")
			},
			want: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := AuthMiddleware(config.AuthConfig{Enabled: tt.enabled, Keys: keys}, tt.need,
				func(w http.ResponseWriter, r *http.Request) {
					called = true
					w.WriteHeader(http.StatusOK)
				})

			target := tt.target
			if target == "" {
				target = "/"
			}
			req := httptest.NewRequest("GET", target, nil)
			if tt.decorate != nil {
				tt.decorate(req)
			}
			w := httptest.NewRecorder()
			handler(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if wantCalled := tt.want == http.StatusOK; called != wantCalled {
				t.Errorf("handler called = %v, want %v", called, wantCalled)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
	}{
		{"admin", RoleAdmin},
		{"ADMIN", RoleAdmin},
		{"operator", RoleOperator},
		{"viewer", RoleViewer},
		{"", RoleViewer},
		{"superuser", RoleViewer}, // unknown roles get least privilege
	}

	for _, tt := range tests {
		if got := ParseRole(tt.in); got != tt.want {
			t.Errorf("ParseRole(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestRoleOrdering(t *testing.T) {
	order := []Role{RoleViewer, RoleOperator, RoleAdmin}

	for i, have := range order {
		for j, need := range order {
			want := i >= j
			if got := hasPermission(have, need); got != want {
				t.Errorf("hasPermission(%s, %s) = %v, want %v", have, need, got, want)
			}
		}
	}
}
