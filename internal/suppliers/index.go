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
	"path"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"go.lode.sh/lode/internal/gitutil"
	"go.lode.sh/lode/pkg/recipe"
	"go.lode.sh/lode/pkg/slogext"
	"go.lode.sh/lode/pkg/version"
)

// IndexSupplier serves packages out of a git-cloned metadata index.
// Each package has one JSON document in the clone, placed by the
// sharding scheme <name[0:2]>/<reverse(name[-2:])>/<name>. Archives
// are fetched from a code-hosting API keyed by entries in the index.
type IndexSupplier struct {
	// fs and dir locate the index working tree.
	fs  billy.Filesystem
	dir string

	// mirror keeps the working tree cloned and updated. Nil when the
	// caller manages the tree itself (tests).
	mirror *gitutil.Mirror

	// forgeURL is the archive URL template; the single %s is replaced
	// with the index entry's archive key.
	forgeURL string

	client *http.Client
	log    slogext.Logger
}

// indexEntry is one package's document in the index.
type indexEntry struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Versions    []indexVersionEntry `json:"versions"`
}

type indexVersionEntry struct {
	Version string `json:"version"`
	// Archive is the forge API key the archive is downloaded by.
	Archive string `json:"archive"`
}

var _ PackageSupplier = &IndexSupplier{}

// IndexOptions configures an IndexSupplier.
type IndexOptions struct {
	// Filesystem and Dir locate the index working tree.
	Filesystem billy.Filesystem
	Dir        string

	// Mirror, when set, keeps the tree cloned and updated.
	Mirror *gitutil.Mirror

	// ForgeURL is the archive URL template with one %s placeholder.
	ForgeURL string

	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// NewIndexSupplier creates a supplier over a metadata index.
func NewIndexSupplier(log slogext.Logger, opts IndexOptions) *IndexSupplier {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &IndexSupplier{
		fs:       opts.Filesystem,
		dir:      opts.Dir,
		mirror:   opts.Mirror,
		forgeURL: opts.ForgeURL,
		client:   client,
		log:      log,
	}
}

// Description implements PackageSupplier.
func (s *IndexSupplier) Description() string {
	if s.mirror != nil {
		return fmt.Sprintf("package index %q", s.mirror.URL)
	}
	return fmt.Sprintf("package index at %q", s.dir)
}

// shardPath places a package document in the index tree: the first
// two characters, then the last two reversed, then the full name.
// Short names use the whole name for the missing shard.
func shardPath(name recipe.PackageName) string {
	n := string(name.Main())

	head := n
	if len(n) > 2 {
		head = n[:2]
	}
	tail := n
	if len(n) >= 2 {
		tail = string([]byte{n[len(n)-1], n[len(n)-2]})
	}
	return path.Join(head, tail, n)
}

// entry loads the index document for name.
func (s *IndexSupplier) entry(ctx context.Context, name recipe.PackageName) (*indexEntry, error) {
	if s.mirror != nil {
		if err := s.mirror.Ensure(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
	}

	data, err := util.ReadFile(s.fs, path.Join(s.dir, shardPath(name)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s not in index", ErrPackageNotFound, name.Main())
	}

	var e indexEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: index entry for %s: %v", ErrProtocol, name.Main(), err)
	}
	return &e, nil
}

// GetVersions implements PackageSupplier.
func (s *IndexSupplier) GetVersions(ctx context.Context, name recipe.PackageName) ([]version.Version, error) {
	e, err := s.entry(ctx, name)
	if err != nil {
		return nil, err
	}

	out := make([]version.Version, 0, len(e.Versions))
	for _, ve := range e.Versions {
		v, err := version.Parse(ve.Version)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	version.Sort(out)
	return out, nil
}

// FetchPackageArchive implements PackageSupplier by downloading from
// the forge API.
func (s *IndexSupplier) FetchPackageArchive(ctx context.Context, name recipe.PackageName, rng version.Range, allowPrerelease bool) ([]byte, error) {
	e, err := s.entry(ctx, name)
	if err != nil {
		return nil, err
	}

	vs, err := s.GetVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	best, err := bestVersion(vs, rng, allowPrerelease)
	if err != nil {
		return nil, err
	}

	var key string
	for _, ve := range e.Versions {
		if ve.Version == best.String() {
			key = ve.Archive
			break
		}
	}
	if key == "" {
		return nil, fmt.Errorf("%w: index entry for %s@%s has no archive key", ErrProtocol, name, best)
	}

	return s.download(ctx, fmt.Sprintf(s.forgeURL, key))
}

// download fetches one archive URL with the uniform error
// classification.
func (s *IndexSupplier) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, rawURL)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s: %s", ErrTransient, rawURL, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s: %s", ErrProtocol, rawURL, resp.Status)
	}

	return io.ReadAll(resp.Body)
}

// FetchPackageRecipe implements PackageSupplier by reading the recipe
// out of the archive.
func (s *IndexSupplier) FetchPackageRecipe(ctx context.Context, name recipe.PackageName, rng version.Range, allowPrerelease bool) (*recipe.Recipe, error) {
	data, err := s.FetchPackageArchive(ctx, name, rng, allowPrerelease)
	if err != nil {
		return nil, err
	}
	return recipeFromArchive(data)
}

// SearchPackages implements PackageSupplier by scanning the shard
// tree. The index is local, so a full walk is acceptable.
func (s *IndexSupplier) SearchPackages(ctx context.Context, query string) ([]SearchResult, error) {
	if s.mirror != nil {
		if err := s.mirror.Ensure(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
	}

	query = strings.ToLower(query)
	out := []SearchResult{}

	heads, err := s.fs.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading index: %v", ErrTransient, err)
	}
	for _, head := range heads {
		if !head.IsDir() || strings.HasPrefix(head.Name(), ".") {
			continue
		}
		tails, err := s.fs.ReadDir(path.Join(s.dir, head.Name()))
		if err != nil {
			continue
		}
		for _, tail := range tails {
			if !tail.IsDir() {
				continue
			}
			entries, err := s.fs.ReadDir(path.Join(s.dir, head.Name(), tail.Name()))
			if err != nil {
				continue
			}
			for _, e := range entries {
				if !strings.Contains(strings.ToLower(e.Name()), query) {
					continue
				}
				name, err := recipe.ParseName(e.Name())
				if err != nil {
					continue
				}
				ie, err := s.entry(ctx, name)
				if err != nil {
					continue
				}
				vs, err := s.GetVersions(ctx, name)
				if err != nil || len(vs) == 0 {
					continue
				}
				best, err := bestVersion(vs, version.AnyRange, false)
				if err != nil {
					best = vs[len(vs)-1]
				}
				out = append(out, SearchResult{
					Name:        name,
					Description: ie.Description,
					Version:     best,
				})
			}
		}
	}
	return out, nil
}
