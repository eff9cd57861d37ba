package oidc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/alexjbarnes/oidcd/internal/account"
	"github.com/alexjbarnes/oidcd/internal/oidcerr"
)

// registrationRequest is the RFC 7591 registration document.
type registrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	ApplicationType         string   `json:"application_type"`
}

// RegistrationResult carries the provider's raw client document plus the
// agent's verdicts on it.
type RegistrationResult struct {
	// ClientJSON is the provider response, forwarded verbatim.
	ClientJSON string

	// Note is set when the client could only be registered with a
	// reduced flow list.
	Note string

	// ScopeWarning is oidcerr.ErrInsufficientScope when the granted
	// scope does not cover both openid and offline_access; the caller
	// decides whether the client is still usable.
	ScopeWarning error
}

// grantTypesFor maps flow names to RFC 7591 grant type identifiers.
// refresh_token is always requested.
func grantTypesFor(flows []string) ([]string, []string, error) {
	grants := []string{"refresh_token"}
	responses := []string{}
	for _, f := range flows {
		switch f {
		case FlowRefresh:
			// covered by the always-present refresh_token grant
		case FlowPassword:
			grants = append(grants, "password")
		case FlowCode:
			grants = append(grants, "authorization_code")
			responses = append(responses, "code")
		case FlowDevice:
			grants = append(grants, deviceGrantType)
		default:
			return nil, nil, oidcerr.UnknownFlow(f)
		}
	}
	return grants, responses, nil
}

// Register performs dynamic client registration for the account. When
// the provider rejects a request that includes the password grant, one
// retry without it is attempted; a successful retry is annotated so the
// caller can tell the user the password flow is unavailable.
func (e *Engine) Register(ctx context.Context, a *account.Account, flows []string, accessToken string) (*RegistrationResult, error) {
	cfg, err := e.issuers.Get(ctx, a.IssuerURL)
	if err != nil {
		return nil, err
	}
	if cfg.RegistrationEndpoint == "" {
		return nil, &oidcerr.ProviderError{
			Code:        "registration_not_supported",
			Description: "issuer advertises no registration_endpoint",
		}
	}

	grants, responses, err := grantTypesFor(flows)
	if err != nil {
		return nil, err
	}

	body, err := e.postJSON(ctx, cfg.RegistrationEndpoint, e.registrationBody(a, grants, responses), accessToken)
	if err == nil {
		return e.checkGrantedScopes(body), nil
	}

	var pe *oidcerr.ProviderError
	if !asProviderError(err, &pe) || !contains(grants, "password") {
		return nil, err
	}

	// The provider may refuse clients asking for the password grant.
	// Retry once without it.
	reduced := remove(grants, "password")
	retryBody, retryErr := e.postJSON(ctx, cfg.RegistrationEndpoint, e.registrationBody(a, reduced, responses), accessToken)
	if retryErr != nil {
		return nil, err // report the original rejection
	}

	result := e.checkGrantedScopes(retryBody)
	result.Note = fmt.Sprintf(
		"The client was registered without the password grant; the provider rejected it (%s). "+
			"Contact the provider to add the grant to client %s if the password flow is needed.",
		pe.Error(), gjson.GetBytes(retryBody, "client_id").String())
	e.logger.Debug("registered client without password grant", "account", a.Shortname)
	return result, nil
}

func (e *Engine) registrationBody(a *account.Account, grants, responses []string) registrationRequest {
	scope := a.Scope
	for _, required := range []string{"openid", "offline_access"} {
		if !account.ScopeSubset(required, scope) {
			scope = strings.TrimSpace(scope + " " + required)
		}
	}
	return registrationRequest{
		ClientName:              "oidcd:" + a.Shortname,
		RedirectURIs:            a.RedirectURIs,
		GrantTypes:              grants,
		ResponseTypes:           responses,
		Scope:                   scope,
		TokenEndpointAuthMethod: "client_secret_basic",
		ApplicationType:         "web",
	}
}

// checkGrantedScopes inspects the granted scope in a successful
// registration response.
func (e *Engine) checkGrantedScopes(body []byte) *RegistrationResult {
	result := &RegistrationResult{ClientJSON: string(body)}
	granted := gjson.GetBytes(body, "scope").String()
	if granted != "" && !account.ScopeSubset("openid offline_access", granted) {
		result.ScopeWarning = oidcerr.ErrInsufficientScope
	}
	return result
}

func asProviderError(err error, target **oidcerr.ProviderError) bool {
	return errors.As(err, target)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
