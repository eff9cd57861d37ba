package oidc

import (
	"context"
	"fmt"
	"net/url"

	"github.com/alexjbarnes/oidcd/internal/account"
	"github.com/alexjbarnes/oidcd/internal/oidcerr"
	"github.com/alexjbarnes/oidcd/internal/secret"
)

// InitCodeFlow prepares the authorization-code flow with PKCE: it
// generates state and code verifier, records both on the account, and
// returns the authorization URL for the user's browser together with the
// state. The flow does not block; completion arrives later as a
// code_exchange or state_lookup request.
func (e *Engine) InitCodeFlow(ctx context.Context, a *account.Account) (authURL, state string, err error) {
	if len(a.RedirectURIs) == 0 {
		return "", "", oidcerr.ErrNoRedirectURIs
	}

	cfg, err := e.issuers.Get(ctx, a.IssuerURL)
	if err != nil {
		return "", "", err
	}
	if cfg.AuthorizationEndpoint == "" {
		return "", "", &oidcerr.ProviderError{
			Code:        "invalid_discovery_document",
			Description: "issuer advertises no authorization_endpoint",
		}
	}

	state, err = NewState()
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", oidcerr.ErrInternal, err)
	}
	verifier, err := NewCodeVerifier()
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", oidcerr.ErrInternal, err)
	}

	u, err := url.Parse(cfg.AuthorizationEndpoint)
	if err != nil {
		return "", "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", a.ClientID)
	q.Set("redirect_uri", a.RedirectURIs[0])
	if a.Scope != "" {
		q.Set("scope", a.Scope)
	}
	q.Set("state", state)
	q.Set("code_challenge", CodeChallengeS256(verifier))
	q.Set("code_challenge_method", "S256")
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	u.RawQuery = q.Encode()

	a.UsedState = state
	a.CodeVerifier.Wipe()
	a.CodeVerifier = secret.FromString(verifier)

	e.logger.Debug("initiated code flow", "account", a.Shortname, "state", state)
	return u.String(), state, nil
}

// ExchangeCode finalizes the code flow by exchanging the authorization
// code at the token endpoint. The PKCE scratch is cleared regardless of
// outcome; the state stays on the account for the later state_lookup.
func (e *Engine) ExchangeCode(ctx context.Context, a *account.Account, code, redirectURI, verifier string) error {
	defer func() {
		a.CodeVerifier.Wipe()
		a.CodeVerifier = nil
	}()

	cfg, err := e.issuers.Get(ctx, a.IssuerURL)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("code_verifier", verifier)

	body, err := e.postForm(ctx, cfg.TokenEndpoint, form, clientAuth{id: a.ClientID, secret: a.ClientSecret})
	if err != nil {
		return err
	}
	tr, err := parseTokenResponse(body)
	if err != nil {
		return err
	}

	a.SetTokens(tr.AccessToken, tr.RefreshToken, tr.Scope, int64(tr.ExpiresIn), e.now())
	e.logger.Debug("exchanged authorization code", "account", a.Shortname)
	return nil
}
