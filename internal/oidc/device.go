package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/alexjbarnes/oidcd/internal/account"
	"github.com/alexjbarnes/oidcd/internal/oidcerr"
)

// deviceGrantType is the RFC 8628 grant type URN.
const deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// maxDevicePollTime caps how long a single device_lookup request polls,
// independent of what the provider put into expires_in.
const maxDevicePollTime = 5 * time.Minute

// slowDownIncrement is added to the polling interval on a slow_down
// response, per RFC 8628.
const slowDownIncrement = 5 * time.Second

// DeviceCode is the device authorization response handed back to the
// caller, who displays user_code and verification_uri and later issues a
// device_lookup.
type DeviceCode struct {
	DeviceCode              string        `json:"device_code"`
	UserCode                string        `json:"user_code"`
	VerificationURI         string        `json:"verification_uri"`
	VerificationURIComplete string        `json:"verification_uri_complete,omitempty"`
	ExpiresIn               flexibleInt64 `json:"expires_in"`
	Interval                flexibleInt64 `json:"interval,omitempty"`

	// Some providers use the non-standard verification_url spelling;
	// it is folded into VerificationURI after decoding.
	VerificationURLAlias string `json:"verification_url,omitempty"`
}

// ParseDeviceCode decodes a device authorization document as received
// from the provider or echoed back by a client.
func ParseDeviceCode(data []byte) (*DeviceCode, error) {
	var dc DeviceCode
	if err := json.Unmarshal(data, &dc); err != nil {
		return nil, fmt.Errorf("%w: invalid device code: %v", oidcerr.ErrBadRequest, err)
	}
	if dc.VerificationURI == "" {
		dc.VerificationURI = dc.VerificationURLAlias
	}
	dc.VerificationURLAlias = ""
	if dc.DeviceCode == "" {
		return nil, fmt.Errorf("%w: device code document has no device_code", oidcerr.ErrBadRequest)
	}
	return &dc, nil
}

// JSON encodes the device code for the wire.
func (dc *DeviceCode) JSON() (string, error) {
	out, err := json.Marshal(dc)
	if err != nil {
		return "", fmt.Errorf("encoding device code: %w", err)
	}
	return string(out), nil
}

// InitDeviceFlow requests a device and user code pair from the issuer.
func (e *Engine) InitDeviceFlow(ctx context.Context, a *account.Account) (*DeviceCode, error) {
	cfg, err := e.issuers.Get(ctx, a.IssuerURL)
	if err != nil {
		return nil, err
	}
	if cfg.DeviceAuthorizationEndpoint == "" {
		return nil, &oidcerr.ProviderError{
			Code:        "unsupported_grant_type",
			Description: "issuer advertises no device_authorization_endpoint",
		}
	}

	form := url.Values{}
	if a.Scope != "" {
		form.Set("scope", a.Scope)
	}

	body, err := e.postForm(ctx, cfg.DeviceAuthorizationEndpoint, form, clientAuth{id: a.ClientID, secret: a.ClientSecret})
	if err != nil {
		return nil, err
	}

	dc, err := ParseDeviceCode(body)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("initiated device flow",
		"account", a.Shortname, "verification_uri", dc.VerificationURI)
	return dc, nil
}

// PollDevice polls the token endpoint until the user approves or the
// flow dies. authorization_pending keeps polling; slow_down additionally
// widens the interval. The poll is bounded by the code's expires_in and
// by maxDevicePollTime.
func (e *Engine) PollDevice(ctx context.Context, a *account.Account, dc *DeviceCode) error {
	cfg, err := e.issuers.Get(ctx, a.IssuerURL)
	if err != nil {
		return err
	}

	interval := time.Duration(dc.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	limit := maxDevicePollTime
	if dc.ExpiresIn > 0 {
		if lifetime := time.Duration(dc.ExpiresIn) * time.Second; lifetime < limit {
			limit = lifetime
		}
	}
	deadline := e.now().Add(limit)

	form := url.Values{}
	form.Set("grant_type", deviceGrantType)
	form.Set("device_code", dc.DeviceCode)

	for {
		body, err := e.postForm(ctx, cfg.TokenEndpoint, form, clientAuth{id: a.ClientID, secret: a.ClientSecret})
		switch {
		case err == nil:
			tr, err := parseTokenResponse(body)
			if err != nil {
				return err
			}
			a.SetTokens(tr.AccessToken, tr.RefreshToken, tr.Scope, int64(tr.ExpiresIn), e.now())
			e.logger.Debug("obtained tokens via device flow", "account", a.Shortname)
			return nil
		case oidcerr.IsProviderError(err, "authorization_pending"):
			// keep waiting
		case oidcerr.IsProviderError(err, "slow_down"):
			interval += slowDownIncrement
		default:
			return err
		}

		if e.now().Add(interval).After(deadline) {
			return oidcerr.ErrTimeout
		}
		if err := e.sleep(ctx, interval); err != nil {
			return oidcerr.Network("polling device flow", err)
		}
	}
}
