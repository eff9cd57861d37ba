// Package oidc implements the agent's flows against the provider:
// refresh, resource-owner password, authorization code with PKCE, device
// authorization, dynamic client registration, and revocation. Each entry
// point mutates the given account on success; committing the account
// back to the registry is the caller's job.
package oidc

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alexjbarnes/oidcd/internal/discovery"
)

// Flow names as they appear in gen requests and registration flow lists.
const (
	FlowRefresh  = "refresh"
	FlowPassword = "password"
	FlowCode     = "code"
	FlowDevice   = "device"
)

// ParseFlowList splits a comma-joined flow list, normalizing case and
// whitespace. Validation happens when the flow runs.
func ParseFlowList(s string) []string {
	var flows []string
	for _, f := range strings.Split(s, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			flows = append(flows, f)
		}
	}
	return flows
}

// Engine drives the provider-facing flows.
type Engine struct {
	httpClient *http.Client
	issuers    *discovery.Cache
	logger     *slog.Logger
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error
}

// NewEngine creates a flow engine. timeout bounds each provider round
// trip.
func NewEngine(issuers *discovery.Cache, timeout time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		httpClient: &http.Client{Timeout: timeout},
		issuers:    issuers,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
