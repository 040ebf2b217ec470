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
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.lode.sh/lode/pkg/recipe"
	"go.lode.sh/lode/pkg/slogext"
	"go.lode.sh/lode/pkg/version"
)

// MavenSupplier serves packages out of a Maven-style repository:
// version metadata as XML at a conventional URL, archives at a
// derived URL. Metadata caching follows the registry supplier's
// contract (24 hours, per process).
type MavenSupplier struct {
	base   string
	client *http.Client
	log    slogext.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[recipe.PackageName]*mavenCacheEntry
}

type mavenCacheEntry struct {
	versions  []version.Version
	fetchedAt time.Time
}

// mavenMetadata mirrors maven-metadata.xml.
type mavenMetadata struct {
	XMLName    xml.Name `xml:"metadata"`
	Versioning struct {
		Latest   string   `xml:"latest"`
		Release  string   `xml:"release"`
		Versions []string `xml:"versions>version"`
	} `xml:"versioning"`
}

var _ PackageSupplier = &MavenSupplier{}

// NewMavenSupplier creates a supplier for the repository at baseURL.
func NewMavenSupplier(log slogext.Logger, baseURL string, client *http.Client) *MavenSupplier {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &MavenSupplier{
		base:   strings.TrimSuffix(baseURL, "/"),
		client: client,
		log:    log,
		now:    time.Now,
		cache:  map[recipe.PackageName]*mavenCacheEntry{},
	}
}

// Description implements PackageSupplier.
func (m *MavenSupplier) Description() string {
	return fmt.Sprintf("maven repository %q", m.base)
}

// ClearCache drops the metadata cache.
func (m *MavenSupplier) ClearCache() {
	m.mu.Lock()
	m.cache = map[recipe.PackageName]*mavenCacheEntry{}
	m.mu.Unlock()
}

// get fetches one URL with the uniform error classification.
func (m *MavenSupplier) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, rawURL)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s: %s", ErrAuth, rawURL, resp.Status)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s: %s", ErrTransient, rawURL, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s: %s", ErrProtocol, rawURL, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrTransient, rawURL, err)
	}
	return data, nil
}

// GetVersions implements PackageSupplier.
func (m *MavenSupplier) GetVersions(ctx context.Context, name recipe.PackageName) ([]version.Version, error) {
	name = name.Main()

	m.mu.Lock()
	entry, ok := m.cache[name]
	fresh := ok && m.now().Sub(entry.fetchedAt) < registryCacheTTL
	m.mu.Unlock()
	if fresh {
		return entry.versions, nil
	}

	data, err := m.get(ctx, fmt.Sprintf("%s/%s/maven-metadata.xml", m.base, name))
	if err != nil {
		return nil, err
	}

	var meta mavenMetadata
	if err := xml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: decoding metadata for %s: %v", ErrProtocol, name, err)
	}

	out := make([]version.Version, 0, len(meta.Versioning.Versions))
	for _, s := range meta.Versioning.Versions {
		v, err := version.Parse(s)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	version.Sort(out)

	m.mu.Lock()
	m.cache[name] = &mavenCacheEntry{versions: out, fetchedAt: m.now()}
	m.mu.Unlock()
	return out, nil
}

// FetchPackageArchive implements PackageSupplier.
func (m *MavenSupplier) FetchPackageArchive(ctx context.Context, name recipe.PackageName, rng version.Range, allowPrerelease bool) ([]byte, error) {
	vs, err := m.GetVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	best, err := bestVersion(vs, rng, allowPrerelease)
	if err != nil {
		return nil, err
	}

	main := name.Main()
	return m.get(ctx, fmt.Sprintf("%s/%s/%s/%s-%s.zip", m.base, main, best, main, best))
}

// FetchPackageRecipe implements PackageSupplier by reading the recipe
// out of the archive; Maven metadata carries none.
func (m *MavenSupplier) FetchPackageRecipe(ctx context.Context, name recipe.PackageName, rng version.Range, allowPrerelease bool) (*recipe.Recipe, error) {
	data, err := m.FetchPackageArchive(ctx, name, rng, allowPrerelease)
	if err != nil {
		return nil, err
	}
	return recipeFromArchive(data)
}

// SearchPackages implements PackageSupplier. Maven repositories have
// no search endpoint.
func (m *MavenSupplier) SearchPackages(context.Context, string) ([]SearchResult, error) {
	return nil, fmt.Errorf("%w: maven repositories cannot be searched", ErrUnsupported)
}
