// Package discovery fetches and caches OIDC discovery documents. Entries
// are immutable after fetch; Invalidate drops an entry so the next Get
// refetches, but a cached entry is never partially mutated.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alexjbarnes/oidcd/internal/oidcerr"
)

// ProviderConfig is the subset of the OIDC discovery document the agent
// uses. Discovery documents are public metadata.
type ProviderConfig struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	DeviceAuthorizationEndpoint   string   `json:"device_authorization_endpoint,omitempty"`
	RegistrationEndpoint          string   `json:"registration_endpoint,omitempty"`
	RevocationEndpoint            string   `json:"revocation_endpoint,omitempty"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	GrantTypesSupported           []string `json:"grant_types_supported,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// cacheTTL is how long a fetched document is served without refetching.
// Endpoint sets change rarely; a day keeps restarts cheap without letting
// stale endpoints linger forever.
const cacheTTL = 24 * time.Hour

type entry struct {
	cfg       *ProviderConfig
	fetchedAt time.Time
}

// Cache memoizes discovery documents per issuer URL in memory, with an
// optional bbolt store underneath so a restarted agent avoids refetching.
type Cache struct {
	httpClient *http.Client
	logger     *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	group singleflight.Group

	store *Store // nil means memory only
	now   func() time.Time
}

// NewCache creates a cache backed by store (which may be nil for memory
// only operation, e.g. in tests).
func NewCache(httpClient *http.Client, store *Store, logger *slog.Logger) *Cache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Cache{
		httpClient: httpClient,
		logger:     logger,
		entries:    make(map[string]*entry),
		store:      store,
		now:        time.Now,
	}
}

// Get returns the discovery document for an issuer, fetching it at most
// once per TTL. Concurrent calls for the same issuer share one fetch.
func (c *Cache) Get(ctx context.Context, issuer string) (*ProviderConfig, error) {
	issuer = strings.TrimSuffix(issuer, "/")

	c.mu.RLock()
	if e, ok := c.entries[issuer]; ok && c.now().Sub(e.fetchedAt) < cacheTTL {
		c.mu.RUnlock()
		return e.cfg, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.group.Do(issuer, func() (interface{}, error) {
		c.mu.RLock()
		if e, ok := c.entries[issuer]; ok && c.now().Sub(e.fetchedAt) < cacheTTL {
			c.mu.RUnlock()
			return e.cfg, nil
		}
		c.mu.RUnlock()

		if c.store != nil {
			if cfg, fetchedAt, err := c.store.Get(issuer); err == nil && cfg != nil &&
				c.now().Sub(fetchedAt) < cacheTTL {
				c.remember(issuer, cfg, fetchedAt)
				return cfg, nil
			}
		}

		cfg, err := c.fetch(ctx, issuer)
		if err != nil {
			return nil, err
		}

		fetchedAt := c.now()
		c.remember(issuer, cfg, fetchedAt)
		if c.store != nil {
			if err := c.store.Put(issuer, cfg, fetchedAt); err != nil {
				c.logger.Warn("persisting discovery document failed",
					slog.String("issuer", issuer), slog.Any("error", err))
			}
		}
		return cfg, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*ProviderConfig), nil
}

// Invalidate drops the cached document for an issuer, in memory and on
// disk.
func (c *Cache) Invalidate(issuer string) {
	issuer = strings.TrimSuffix(issuer, "/")

	c.mu.Lock()
	delete(c.entries, issuer)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Delete(issuer); err != nil {
			c.logger.Warn("dropping persisted discovery document failed",
				slog.String("issuer", issuer), slog.Any("error", err))
		}
	}
}

func (c *Cache) remember(issuer string, cfg *ProviderConfig, fetchedAt time.Time) {
	c.mu.Lock()
	c.entries[issuer] = &entry{cfg: cfg, fetchedAt: fetchedAt}
	c.mu.Unlock()
}

func (c *Cache) fetch(ctx context.Context, issuer string) (*ProviderConfig, error) {
	wellKnown := issuer + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, fmt.Errorf("building discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, oidcerr.Network("fetching discovery document", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, oidcerr.Network("reading discovery document", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &oidcerr.ProviderError{
			Code:        "discovery_failed",
			Description: fmt.Sprintf("issuer returned status %d", resp.StatusCode),
		}
	}

	var cfg ProviderConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("parsing discovery document: %w", err)
	}
	if cfg.TokenEndpoint == "" {
		return nil, &oidcerr.ProviderError{
			Code:        "invalid_discovery_document",
			Description: "no token_endpoint for issuer " + issuer,
		}
	}

	c.logger.Debug("fetched discovery document",
		slog.String("issuer", issuer),
		slog.String("token_endpoint", cfg.TokenEndpoint))
	return &cfg, nil
}
