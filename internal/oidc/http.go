package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/alexjbarnes/oidcd/internal/oidcerr"
	"github.com/alexjbarnes/oidcd/internal/secret"
)

// maxResponseBody bounds how much of a provider response is read.
const maxResponseBody = 1 << 20

// clientAuth carries the client credentials for a token-endpoint call.
// With a secret present HTTP Basic is used; otherwise the client_id goes
// into the form body (public client).
type clientAuth struct {
	id     string
	secret *secret.Secret
}

// postForm POSTs a form to an OAuth endpoint and returns the response
// body. A body carrying an `error` member becomes a ProviderError no
// matter the HTTP status; provider error bodies are public and forwarded
// verbatim.
func (e *Engine) postForm(ctx context.Context, endpoint string, form url.Values, auth clientAuth) ([]byte, error) {
	if auth.id != "" && auth.secret.IsEmpty() {
		form.Set("client_id", auth.id)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if auth.id != "" && !auth.secret.IsEmpty() {
		req.SetBasicAuth(auth.id, auth.secret.Value())
	}

	return e.do(req)
}

// postJSON POSTs a JSON document (dynamic client registration), with an
// optional bearer token.
func (e *Engine) postJSON(ctx context.Context, endpoint string, body interface{}, bearer string) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request for %s: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	return e.do(req)
}

func (e *Engine) do(req *http.Request) ([]byte, error) {
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, oidcerr.Network("reaching "+req.URL.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, oidcerr.Network("reading response from "+req.URL.Host, err)
	}

	if errField := gjson.GetBytes(body, "error"); errField.Exists() {
		return body, &oidcerr.ProviderError{
			Code:        errField.String(),
			Description: gjson.GetBytes(body, "error_description").String(),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, &oidcerr.ProviderError{
			Code:        "http_" + strconv.Itoa(resp.StatusCode),
			Description: truncate(string(body), 200),
		}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// tokenResponse is the standard token endpoint success body.
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    flexibleInt64 `json:"expires_in"`
	Scope        string        `json:"scope"`
}

func parseTokenResponse(body []byte) (*tokenResponse, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, &oidcerr.ProviderError{
			Code:        "invalid_response",
			Description: "token response carries no access_token",
		}
	}
	return &tr, nil
}

// flexibleInt64 tolerates providers that serialize numeric fields as
// strings.
type flexibleInt64 int64

func (f *flexibleInt64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing numeric field %q: %w", s, err)
	}
	*f = flexibleInt64(v)
	return nil
}
