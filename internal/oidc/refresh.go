package oidc

import (
	"context"
	"net/url"
	"time"

	"github.com/alexjbarnes/oidcd/internal/account"
	"github.com/alexjbarnes/oidcd/internal/oidcerr"
)

// Refresh returns an access token for the account that is valid for at
// least minValid and covers scope. The cached token is handed out
// without a network call when it satisfies both; otherwise the refresh
// grant runs against the token endpoint, rotating the stored refresh
// token if the provider issues a new one.
//
// A scoped request (scope non-empty) returns its token without
// overwriting the cached default-scope token.
func (e *Engine) Refresh(ctx context.Context, a *account.Account, minValid time.Duration, scope string) (string, int64, error) {
	if !a.RefreshTokenIsValid() {
		return "", 0, oidcerr.ErrNoRefreshToken
	}

	now := e.now()
	if a.AccessTokenValid(now, minValid, scope) {
		e.logger.Debug("serving cached access token", "account", a.Shortname)
		return a.AccessToken.Value(), a.ExpiresAt, nil
	}

	cfg, err := e.issuers.Get(ctx, a.IssuerURL)
	if err != nil {
		return "", 0, err
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", a.RefreshToken.Value())
	if scope != "" {
		form.Set("scope", scope)
	}

	body, err := e.postForm(ctx, cfg.TokenEndpoint, form, clientAuth{id: a.ClientID, secret: a.ClientSecret})
	if err != nil {
		return "", 0, err
	}
	tr, err := parseTokenResponse(body)
	if err != nil {
		return "", 0, err
	}

	expiresAt := now.Unix() + int64(tr.ExpiresIn)
	if scope == "" {
		a.SetTokens(tr.AccessToken, tr.RefreshToken, tr.Scope, int64(tr.ExpiresIn), now)
	} else if tr.RefreshToken != "" {
		// Keep the rotated refresh token even for a scoped request; the
		// provider may have invalidated the old one.
		a.SetRefreshToken(tr.RefreshToken)
	}

	e.logger.Debug("obtained access token via refresh flow",
		"account", a.Shortname, "expires_in", int64(tr.ExpiresIn))
	return tr.AccessToken, expiresAt, nil
}
