// Package account holds the in-memory representation of configured
// identities and the registry that owns them. Secret fields live in
// wipeable buffers and are kept AES-GCM sealed while at rest in the
// registry; see registry.go.
package account

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alexjbarnes/oidcd/internal/oidcerr"
	"github.com/alexjbarnes/oidcd/internal/secret"
)

// Account is one configured identity: the binding of an issuer and client
// credentials to a local shortname, plus its current token material and
// per-account agent settings.
type Account struct {
	Shortname    string
	IssuerURL    string
	ClientID     string
	ClientSecret *secret.Secret
	Scope        string // whitespace-separated, e.g. "openid profile offline_access"
	RedirectURIs []string

	RefreshToken *secret.Secret
	AccessToken  *secret.Secret
	// ExpiresAt is the absolute unix time the cached access token expires.
	ExpiresAt int64
	// TokenScope is the scope the cached access token was granted for.
	TokenScope string

	// Username and Password are held only for the duration of a single
	// password-flow attempt.
	Username string
	Password *secret.Secret

	// CodeVerifier and UsedState are scratch for an in-flight code flow.
	CodeVerifier *secret.Secret
	UsedState    string

	// Death is the absolute unix time after which the reaper evicts this
	// record; 0 means never.
	Death int64

	ConfirmationRequired bool
}

// configJSON is the wire form of an account config as exchanged with
// clients and the frontend.
type configJSON struct {
	Name         string   `json:"name"`
	IssuerURL    string   `json:"issuer_url"`
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
	Scope        string   `json:"scope,omitempty"`
	RedirectURIs []string `json:"redirect_uris,omitempty"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	Username     string   `json:"username,omitempty"`
	Password     string   `json:"password,omitempty"`
}

// ParseConfig decodes an account config JSON document. The shortname and
// issuer url are required; everything else may be filled in later by a
// flow or registration.
func ParseConfig(data []byte) (*Account, error) {
	var cj configJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return nil, fmt.Errorf("%w: invalid account config: %v", oidcerr.ErrBadRequest, err)
	}
	if cj.Name == "" {
		return nil, fmt.Errorf("%w: account config has no name", oidcerr.ErrBadRequest)
	}
	if cj.IssuerURL == "" {
		return nil, fmt.Errorf("%w: account config has no issuer_url", oidcerr.ErrBadRequest)
	}

	a := &Account{
		Shortname:    cj.Name,
		IssuerURL:    strings.TrimSuffix(cj.IssuerURL, "/"),
		ClientID:     cj.ClientID,
		Scope:        cj.Scope,
		RedirectURIs: cj.RedirectURIs,
		Username:     cj.Username,
	}
	if cj.ClientSecret != "" {
		a.ClientSecret = secret.FromString(cj.ClientSecret)
	}
	if cj.RefreshToken != "" {
		a.RefreshToken = secret.FromString(cj.RefreshToken)
	}
	if cj.Password != "" {
		a.Password = secret.FromString(cj.Password)
	}
	return a, nil
}

// ConfigJSON encodes the account back into its config document, including
// the current refresh token so a client can persist the updated config.
// Username and password are never written out.
func (a *Account) ConfigJSON() (string, error) {
	cj := configJSON{
		Name:         a.Shortname,
		IssuerURL:    a.IssuerURL,
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret.Value(),
		Scope:        a.Scope,
		RedirectURIs: a.RedirectURIs,
		RefreshToken: a.RefreshToken.Value(),
	}
	out, err := json.Marshal(cj)
	if err != nil {
		return "", fmt.Errorf("encoding account config: %w", err)
	}
	return string(out), nil
}

// RefreshTokenIsValid reports whether the account holds a usable refresh
// token. A token known to be revoked is wiped, so non-empty is the whole
// predicate.
func (a *Account) RefreshTokenIsValid() bool {
	return !a.RefreshToken.IsEmpty()
}

// AccessTokenValid reports whether the cached access token satisfies a
// request at time now for the given minimum validity and scope.
func (a *Account) AccessTokenValid(now time.Time, minValid time.Duration, scope string) bool {
	if a.AccessToken.IsEmpty() {
		return false
	}
	if a.ExpiresAt-now.Unix() < int64(minValid.Seconds()) {
		return false
	}
	return ScopeSubset(scope, a.TokenScope)
}

// SetTokens records a token response on the account. A new refresh token
// rotates the stored one; an empty newRefresh keeps it.
func (a *Account) SetTokens(accessToken, newRefresh, scope string, expiresIn int64, now time.Time) {
	a.AccessToken.Wipe()
	a.AccessToken = secret.FromString(accessToken)
	a.ExpiresAt = now.Unix() + expiresIn
	if scope != "" {
		a.TokenScope = scope
	} else {
		a.TokenScope = a.Scope
	}
	if newRefresh != "" {
		a.RefreshToken.Wipe()
		a.RefreshToken = secret.FromString(newRefresh)
	}
}

// SetRefreshToken rotates the stored refresh token.
func (a *Account) SetRefreshToken(token string) {
	a.RefreshToken.Wipe()
	a.RefreshToken = secret.FromString(token)
}

// WipeCredentials drops username and password after a password-flow
// attempt.
func (a *Account) WipeCredentials() {
	a.Username = ""
	a.Password.Wipe()
	a.Password = nil
}

// ClearCodeFlow drops the PKCE scratch. Every transition out of an
// initiated code flow goes through here.
func (a *Account) ClearCodeFlow() {
	a.CodeVerifier.Wipe()
	a.CodeVerifier = nil
	a.UsedState = ""
}

// Wipe zeroizes every secret field. The account must not be used after.
func (a *Account) Wipe() {
	a.ClientSecret.Wipe()
	a.RefreshToken.Wipe()
	a.AccessToken.Wipe()
	a.Password.Wipe()
	a.CodeVerifier.Wipe()
	a.ClientSecret = nil
	a.RefreshToken = nil
	a.AccessToken = nil
	a.Password = nil
	a.CodeVerifier = nil
	a.Username = ""
	a.UsedState = ""
}

// Clone returns a deep copy with independent secret buffers.
func (a *Account) Clone() *Account {
	c := *a
	c.ClientSecret = a.ClientSecret.Clone()
	c.RefreshToken = a.RefreshToken.Clone()
	c.AccessToken = a.AccessToken.Clone()
	c.Password = a.Password.Clone()
	c.CodeVerifier = a.CodeVerifier.Clone()
	c.RedirectURIs = append([]string(nil), a.RedirectURIs...)
	return &c
}

// ScopeSubset reports whether every scope in want also appears in got.
// An empty want is a subset of anything.
func ScopeSubset(want, got string) bool {
	if want == "" {
		return true
	}
	have := make(map[string]bool)
	for _, s := range strings.Fields(got) {
		have[s] = true
	}
	for _, s := range strings.Fields(want) {
		if !have[s] {
			return false
		}
	}
	return true
}
