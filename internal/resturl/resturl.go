// Package resturl builds the host's HTTP sibling endpoints: the transaction
// dashboard link and the completed-action callback URL, both addressed
// relative to the service's REST API rather than the duplex socket.
package resturl

import (
	"fmt"

	"github.com/yosida95/uritemplate/v3"
)

var (
	dashboardTemplate = uritemplate.MustNew("{scheme}://{host}/dashboard/actions/{slug}/transactions/{transactionId}")
	callbackTemplate  = uritemplate.MustNew("{scheme}://{host}/api/hosts/{instanceId}/actions/{slug}/complete")
)

// Origin identifies the service's HTTP API, separate from its websocket
// Endpoint (the two commonly share a host but differ in scheme/path).
type Origin struct {
	Scheme string
	Host   string
}

// Dashboard builds the human-facing transaction URL surfaced in host logs.
func Dashboard(origin Origin, slug, transactionID string) (string, error) {
	vars := uritemplate.Values{}
	vars.Set("scheme", uritemplate.String(origin.Scheme))
	vars.Set("host", uritemplate.String(origin.Host))
	vars.Set("slug", uritemplate.String(slug))
	vars.Set("transactionId", uritemplate.String(transactionID))
	u, err := dashboardTemplate.Expand(vars)
	if err != nil {
		return "", fmt.Errorf("resturl: expand dashboard template: %w", err)
	}
	return u, nil
}

// Callback builds the URL the service polls (or the host pushes to) when an
// action finishes outside the duplex socket's lifetime, e.g. after a host
// process restart mid-transaction.
func Callback(origin Origin, instanceID, slug string) (string, error) {
	vars := uritemplate.Values{}
	vars.Set("scheme", uritemplate.String(origin.Scheme))
	vars.Set("host", uritemplate.String(origin.Host))
	vars.Set("instanceId", uritemplate.String(instanceID))
	vars.Set("slug", uritemplate.String(slug))
	u, err := callbackTemplate.Expand(vars)
	if err != nil {
		return "", fmt.Errorf("resturl: expand callback template: %w", err)
	}
	return u, nil
}
