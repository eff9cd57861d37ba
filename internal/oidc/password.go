package oidc

import (
	"context"
	"net/url"

	"github.com/alexjbarnes/oidcd/internal/account"
	"github.com/alexjbarnes/oidcd/internal/frontend"
	"github.com/alexjbarnes/oidcd/internal/secret"
)

// Password runs the resource-owner password grant. Credentials missing
// from the account are requested from the frontend. Whatever the
// outcome, the credentials are wiped after the single POST attempt.
func (e *Engine) Password(ctx context.Context, a *account.Account, ch frontend.Channel) error {
	if a.Username == "" || a.Password.IsEmpty() {
		username, password, err := ch.PromptCredentials(a.Shortname)
		if err != nil {
			return err
		}
		a.Username = username
		a.Password.Wipe()
		a.Password = secret.FromString(password)
	}
	defer a.WipeCredentials()

	cfg, err := e.issuers.Get(ctx, a.IssuerURL)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", a.Username)
	form.Set("password", a.Password.Value())
	if a.Scope != "" {
		form.Set("scope", a.Scope)
	}

	body, err := e.postForm(ctx, cfg.TokenEndpoint, form, clientAuth{id: a.ClientID, secret: a.ClientSecret})
	if err != nil {
		return err
	}
	tr, err := parseTokenResponse(body)
	if err != nil {
		return err
	}

	a.SetTokens(tr.AccessToken, tr.RefreshToken, tr.Scope, int64(tr.ExpiresIn), e.now())
	e.logger.Debug("obtained tokens via password flow", "account", a.Shortname)
	return nil
}
