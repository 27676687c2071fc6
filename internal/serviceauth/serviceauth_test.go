package serviceauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenSourceMissingFields(t *testing.T) {
	_, err := TokenSource(context.Background(), Config{}, nil)
	if err == nil {
		t.Fatal("TokenSource accepted an empty Config")
	}
}

func TestTokenSourceAndBearerHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	cfg := Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     srv.URL,
	}
	src, err := TokenSource(context.Background(), cfg, srv.Client())
	if err != nil {
		t.Fatalf("TokenSource: %v", err)
	}
	header, err := BearerHeader(context.Background(), src)
	if err != nil {
		t.Fatalf("BearerHeader: %v", err)
	}
	if header != "Bearer test-token" {
		t.Fatalf("header = %q, want %q", header, "Bearer test-token")
	}
}
