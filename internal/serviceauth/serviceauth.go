// Package serviceauth provides the optional OAuth2 client-credentials
// connection mode: an alternative to a static apiKey for hosts that
// authenticate to the service as a confidential client.
package serviceauth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Config names the fields a host supplies to authenticate via client
// credentials instead of a static apiKey.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// TokenSource returns an oauth2.TokenSource that lazily acquires and
// refreshes a bearer token for cfg, using httpClient for the token request
// if non-nil.
func TokenSource(ctx context.Context, cfg Config, httpClient *http.Client) (oauth2.TokenSource, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.TokenURL == "" {
		return nil, fmt.Errorf("serviceauth: clientId, clientSecret and tokenUrl are all required")
	}
	ccCfg := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}
	return ccCfg.TokenSource(ctx), nil
}

// BearerHeader resolves a fresh token from src and renders it as the value
// of an HTTP Authorization header.
func BearerHeader(ctx context.Context, src oauth2.TokenSource) (string, error) {
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("serviceauth: token: %w", err)
	}
	return "Bearer " + tok.AccessToken, nil
}
