//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestLiveness(t *testing.T) {
	resp, err := httpClient.Get(baseURL + "/livez")
	if err != nil {
		t.Fatalf("GET /livez: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestReadiness(t *testing.T) {
	resp, err := httpClient.Get(baseURL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		userID string
		want   int
	}{
		{name: "missing API key", apiKey: "", userID: testUser, want: http.StatusUnauthorized},
		{name: "unknown API key", apiKey: "no-such-key", userID: testUser, want: http.StatusUnauthorized},
		{name: "missing user header", apiKey: testAPIKey, userID: "", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodGet, "/api/cart", nil, tt.apiKey, tt.userID)
			defer resp.Body.Close()

			if resp.StatusCode != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}
