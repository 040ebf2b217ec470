// Copyright (C) 2025 lode contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package suppliers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"

	"go.lode.sh/lode/pkg/recipe"
	"go.lode.sh/lode/pkg/slogext"
	"go.lode.sh/lode/pkg/version"
)

// registryCacheTTL is how long per-package metadata stays fresh.
const registryCacheTTL = 24 * time.Hour

// RateLimit is the rate-limit state a registry reported on its last
// response, surfaced from the x-ratelimit-* headers.
type RateLimit struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// RegistrySupplier talks to an HTTP+JSON package registry. Package
// metadata is cached in memory for 24 hours; conditional requests
// revalidate expired entries where the server supports ETags. The
// HTTP client honors the standard proxy environment variables.
type RegistrySupplier struct {
	base   *url.URL
	token  string
	client *http.Client
	log    slogext.Logger

	// now is the clock, replaceable in tests.
	now func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	cache     map[recipe.PackageName]*registryCacheEntry
	rateLimit *RateLimit
}

type registryCacheEntry struct {
	info      *registryPackageInfo
	etag      string
	fetchedAt time.Time
}

// registryPackageInfo is the document served per package.
type registryPackageInfo struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Versions    []registryVersionInfo `json:"versions"`
}

type registryVersionInfo struct {
	Version string          `json:"version"`
	Recipe  json.RawMessage `json:"recipe,omitempty"`
}

type registrySearchResult struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

var _ PackageSupplier = &RegistrySupplier{}

// RegistryOptions configures a RegistrySupplier.
type RegistryOptions struct {
	// Token is an optional bearer token sent with every request.
	Token string

	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// NewRegistrySupplier creates a supplier for the registry at baseURL.
func NewRegistrySupplier(log slogext.Logger, baseURL string, opts RegistryOptions) (*RegistrySupplier, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid registry url %q: %w", baseURL, err)
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &RegistrySupplier{
		base:   u,
		token:  opts.Token,
		client: client,
		log:    log,
		now:    time.Now,
		cache:  map[recipe.PackageName]*registryCacheEntry{},
	}, nil
}

// Description implements PackageSupplier.
func (r *RegistrySupplier) Description() string {
	return fmt.Sprintf("registry %q", r.base)
}

// ClearCache drops the metadata cache. Wired to the store's refresh
// hook so stale metadata does not outlive a rescan.
func (r *RegistrySupplier) ClearCache() {
	r.mu.Lock()
	r.cache = map[recipe.PackageName]*registryCacheEntry{}
	r.mu.Unlock()
}

// LastRateLimit returns the rate-limit state of the most recent
// response, if the registry reported one.
func (r *RegistrySupplier) LastRateLimit() *RateLimit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rateLimit
}

// endpoint renders a URL under the registry base.
func (r *RegistrySupplier) endpoint(format string, args ...any) string {
	u := *r.base
	u.Path = strings.TrimSuffix(u.Path, "/") + fmt.Sprintf(format, args...)
	return u.String()
}

// get performs one GET, classifying failures into the uniform error
// kinds. A 304 returns (nil, "", nil).
func (r *RegistrySupplier) get(ctx context.Context, rawURL, etag string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	r.recordRateLimit(resp)

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return nil, etag, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, "", fmt.Errorf("%w: %s", ErrPackageNotFound, rawURL)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, "", fmt.Errorf("%w: %s: %s", ErrAuth, rawURL, resp.Status)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, "", fmt.Errorf("%w: %s: %s", ErrTransient, rawURL, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, "", fmt.Errorf("%w: %s: %s", ErrProtocol, rawURL, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading %s: %v", ErrTransient, rawURL, err)
	}
	return data, resp.Header.Get("ETag"), nil
}

// recordRateLimit surfaces x-ratelimit-* headers.
func (r *RegistrySupplier) recordRateLimit(resp *http.Response) {
	limit := resp.Header.Get("X-Ratelimit-Limit")
	if limit == "" {
		return
	}

	rl := &RateLimit{}
	rl.Limit, _ = strconv.Atoi(limit)
	rl.Remaining, _ = strconv.Atoi(resp.Header.Get("X-Ratelimit-Remaining"))
	if sec, err := strconv.ParseInt(resp.Header.Get("X-Ratelimit-Reset"), 10, 64); err == nil {
		rl.Reset = time.Unix(sec, 0)
	}

	r.mu.Lock()
	r.rateLimit = rl
	r.mu.Unlock()

	if rl.Remaining == 0 {
		r.log.With("registry", r.base.String()).With("reset", rl.Reset).
			Warn("Registry rate limit exhausted")
	}
}

// packageInfo returns the cached metadata for name, fetching or
// revalidating when stale. Concurrent misses for the same name are
// collapsed into one request.
func (r *RegistrySupplier) packageInfo(ctx context.Context, name recipe.PackageName) (*registryPackageInfo, error) {
	name = name.Main()

	r.mu.Lock()
	entry, ok := r.cache[name]
	fresh := ok && r.now().Sub(entry.fetchedAt) < registryCacheTTL
	r.mu.Unlock()
	if fresh {
		return entry.info, nil
	}

	info, err, _ := r.group.Do(string(name), func() (any, error) {
		etag := ""
		if ok {
			etag = entry.etag
		}

		data, newETag, err := r.get(ctx, r.endpoint("/api/packages/%s/info", name), etag)
		if err != nil {
			return nil, err
		}

		var info *registryPackageInfo
		if data == nil {
			// 304: the cached document is still current.
			info = entry.info
		} else {
			info = &registryPackageInfo{}
			if err := json.Unmarshal(data, info); err != nil {
				return nil, fmt.Errorf("%w: decoding metadata for %s: %v", ErrProtocol, name, err)
			}
		}

		r.mu.Lock()
		r.cache[name] = &registryCacheEntry{info: info, etag: newETag, fetchedAt: r.now()}
		r.mu.Unlock()
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return info.(*registryPackageInfo), nil
}

// GetVersions implements PackageSupplier.
func (r *RegistrySupplier) GetVersions(ctx context.Context, name recipe.PackageName) ([]version.Version, error) {
	info, err := r.packageInfo(ctx, name)
	if err != nil {
		return nil, err
	}

	out := make([]version.Version, 0, len(info.Versions))
	for _, vi := range info.Versions {
		v, err := version.Parse(vi.Version)
		if err != nil {
			r.log.With("package", name).With("version", vi.Version).
				Debug("Skipping unparsable registry version")
			continue
		}
		out = append(out, v)
	}

	version.Sort(out)
	return out, nil
}

// FetchPackageArchive implements PackageSupplier.
func (r *RegistrySupplier) FetchPackageArchive(ctx context.Context, name recipe.PackageName, rng version.Range, allowPrerelease bool) ([]byte, error) {
	vs, err := r.GetVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	best, err := bestVersion(vs, rng, allowPrerelease)
	if err != nil {
		return nil, err
	}

	data, _, err := r.get(ctx, r.endpoint("/packages/%s/%s.zip", name.Main(), best), "")
	if err != nil {
		return nil, err
	}

	r.log.With("package", name).With("version", best).
		With("size", humanize.Bytes(uint64(len(data)))).Debug("Downloaded archive")
	return data, nil
}

// FetchPackageRecipe implements PackageSupplier. The registry embeds
// recipes in its metadata document, so no archive download happens.
func (r *RegistrySupplier) FetchPackageRecipe(ctx context.Context, name recipe.PackageName, rng version.Range, allowPrerelease bool) (*recipe.Recipe, error) {
	info, err := r.packageInfo(ctx, name)
	if err != nil {
		return nil, err
	}

	vs, err := r.GetVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	best, err := bestVersion(vs, rng, allowPrerelease)
	if err != nil {
		return nil, err
	}

	for _, vi := range info.Versions {
		if vi.Version != best.String() || len(vi.Recipe) == 0 {
			continue
		}
		rec, err := recipe.Parse(vi.Recipe)
		if err != nil {
			return nil, fmt.Errorf("%w: recipe for %s@%s: %v", ErrProtocol, name, best, err)
		}
		return rec, nil
	}
	return nil, fmt.Errorf("%w: registry carries no recipe for %s@%s", ErrUnsupported, name, best)
}

// SearchPackages implements PackageSupplier.
func (r *RegistrySupplier) SearchPackages(ctx context.Context, query string) ([]SearchResult, error) {
	u := *r.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/packages/search"
	u.RawQuery = url.Values{"q": []string{query}}.Encode()

	data, _, err := r.get(ctx, u.String(), "")
	if err != nil {
		return nil, err
	}

	var raw []registrySearchResult
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: decoding search results: %v", ErrProtocol, err)
	}

	out := make([]SearchResult, 0, len(raw))
	for _, sr := range raw {
		name, err := recipe.ParseName(sr.Name)
		if err != nil {
			continue
		}
		v, _ := version.Parse(sr.Version)
		out = append(out, SearchResult{Name: name, Description: sr.Description, Version: v})
	}
	return out, nil
}
