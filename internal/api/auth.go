package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"slotter/internal/config"
	"slotter/internal/domain"
)

const (
	apiKeyHeaderDefault = "x-api-key"
	permRead            = "read"
	permWrite           = "write"
)

// auth guards the API with per-client keys and a per-key rate limit. The
// limit is counted in the shared block cache when one is wired, so it holds
// across replicas; a local token bucket is the fallback.
type auth struct {
	cfg             *config.APIConfig
	clientsByAPIKey map[string]config.APIClientKey
	limiter         *rateLimiter
	cache           domain.BlockCache
}

func newAuth(cfg *config.APIConfig, cache domain.BlockCache) *auth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &auth{
		cfg:             cfg,
		clientsByAPIKey: m,
		limiter:         newRateLimiter(cfg),
		cache:           cache,
	}
}

func (a *auth) headerName() string {
	h := strings.ToLower(strings.TrimSpace(a.cfg.Auth.HeaderAPIKey))
	if h == "" {
		h = apiKeyHeaderDefault
	}
	return h
}

// wrap applies auth and rate limiting in front of the API routes. /healthz
// and /metrics stay open.
func (a *auth) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		clientKey := a.clientKey(r)
		if a.cfg.Auth.Enabled {
			client, ok := a.authenticate(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
			if !permitted(client, r.Method) {
				writeError(w, http.StatusForbidden, "permission denied")
				return
			}
		}

		if !a.allow(r.Context(), clientKey) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// allow applies the per-client rate limit. The shared counter in the block
// cache wins when it answers; a cache error falls back to the local token
// bucket, so a dead redis never opens or closes the gate on its own.
func (a *auth) allow(ctx context.Context, key string) bool {
	if a.cfg.RateLimit.RPS <= 0 {
		return true
	}
	if a.cache != nil {
		limit := int(a.cfg.RateLimit.RPS * 60)
		if limit < 1 {
			limit = 1
		}
		if ok, err := a.cache.CheckRateLimit(ctx, "api:"+key, limit, time.Minute); err == nil {
			return ok
		}
	}
	return a.limiter.allow(key)
}

func (a *auth) authenticate(r *http.Request) (config.APIClientKey, bool) {
	apiKey := strings.TrimSpace(r.Header.Get(a.headerName()))
	if apiKey == "" {
		return config.APIClientKey{}, false
	}

	// Constant-time scan so key comparison does not leak prefixes.
	var found config.APIClientKey
	ok := false
	for key, client := range a.clientsByAPIKey {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			found = client
			ok = true
		}
	}
	return found, ok
}

func (a *auth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.headerName())); apiKey != "" {
		return apiKey
	}
	return r.RemoteAddr
}

// permitted checks the client's permission list: empty means allow-all,
// otherwise GET needs "read" and everything else needs "write".
func permitted(client config.APIClientKey, method string) bool {
	if len(client.Permissions) == 0 {
		return true
	}
	required := permWrite
	if method == http.MethodGet {
		required = permRead
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return true
		}
	}
	return false
}
