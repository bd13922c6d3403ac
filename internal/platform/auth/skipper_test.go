package auth

import "testing"

func TestIsPublicPath(t *testing.T) {
	for _, p := range []string{"/health", "/health/db", "/metrics"} {
		if !IsPublicPath(p) {
			t.Errorf("expected %s to be public", p)
		}
	}
	for _, p := range []string{"/api/v1/bills", "/api/v1/claims/:id/settle", ""} {
		if IsPublicPath(p) {
			t.Errorf("expected %s to require auth", p)
		}
	}
}
