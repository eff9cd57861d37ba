package oidc

import (
	"context"
	"net/url"

	"github.com/alexjbarnes/oidcd/internal/account"
	"github.com/alexjbarnes/oidcd/internal/oidcerr"
)

// Revoke invalidates the account's refresh token at the issuer, falling
// back to the access token when no refresh token is held. On success the
// revoked token is wiped from the account so it can never be handed out
// again.
func (e *Engine) Revoke(ctx context.Context, a *account.Account) error {
	cfg, err := e.issuers.Get(ctx, a.IssuerURL)
	if err != nil {
		return err
	}
	if cfg.RevocationEndpoint == "" {
		return &oidcerr.ProviderError{
			Code:        "revocation_not_supported",
			Description: "issuer advertises no revocation_endpoint",
		}
	}

	token := a.RefreshToken
	hint := "refresh_token"
	if token.IsEmpty() {
		token = a.AccessToken
		hint = "access_token"
	}
	if token.IsEmpty() {
		return oidcerr.ErrNoRefreshToken
	}

	form := url.Values{}
	form.Set("token", token.Value())
	form.Set("token_type_hint", hint)

	if _, err := e.postForm(ctx, cfg.RevocationEndpoint, form, clientAuth{id: a.ClientID, secret: a.ClientSecret}); err != nil {
		return err
	}

	if hint == "refresh_token" {
		a.RefreshToken.Wipe()
		a.RefreshToken = nil
	} else {
		a.AccessToken.Wipe()
		a.AccessToken = nil
	}
	e.logger.Debug("revoked token", "account", a.Shortname, "token_type", hint)
	return nil
}
