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
	"fmt"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"go.lode.sh/lode/internal/archive"
	"go.lode.sh/lode/pkg/recipe"
	"go.lode.sh/lode/pkg/version"
)

// FilesystemSupplier serves archives out of a directory whose entries
// are named "<name>-<version>.<ext>".
type FilesystemSupplier struct {
	fs  billy.Filesystem
	dir string
}

var _ PackageSupplier = &FilesystemSupplier{}

// NewFilesystemSupplier creates a supplier over dir on fs.
func NewFilesystemSupplier(fs billy.Filesystem, dir string) *FilesystemSupplier {
	return &FilesystemSupplier{fs: fs, dir: path.Clean(dir)}
}

// Description implements PackageSupplier.
func (f *FilesystemSupplier) Description() string {
	return fmt.Sprintf("file repository %q", f.dir)
}

// GetVersions implements PackageSupplier by enumerating the
// directory.
func (f *FilesystemSupplier) GetVersions(_ context.Context, name recipe.PackageName) ([]version.Version, error) {
	entries, err := f.fs.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrTransient, f.dir, err)
	}

	prefix := string(name.Main()) + "-"
	out := []version.Version{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || !archive.HasSupportedExtension(e.Name()) {
			continue
		}
		v, err := version.Parse(strings.TrimPrefix(archive.TrimExtension(e.Name()), prefix))
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s in %s", ErrPackageNotFound, name, f.dir)
	}

	version.Sort(out)
	return out, nil
}

// FetchPackageArchive implements PackageSupplier by copying the
// archive file of the best matching version.
func (f *FilesystemSupplier) FetchPackageArchive(ctx context.Context, name recipe.PackageName, rng version.Range, allowPrerelease bool) ([]byte, error) {
	vs, err := f.GetVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	best, err := bestVersion(vs, rng, allowPrerelease)
	if err != nil {
		return nil, err
	}

	for _, ext := range archive.Extensions {
		file := path.Join(f.dir, fmt.Sprintf("%s-%s%s", name.Main(), best, ext))
		data, err := util.ReadFile(f.fs, file)
		if err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("%w: archive for %s@%s vanished", ErrTransient, name, best)
}

// FetchPackageRecipe implements PackageSupplier by reading the recipe
// out of the archive.
func (f *FilesystemSupplier) FetchPackageRecipe(ctx context.Context, name recipe.PackageName, rng version.Range, allowPrerelease bool) (*recipe.Recipe, error) {
	data, err := f.FetchPackageArchive(ctx, name, rng, allowPrerelease)
	if err != nil {
		return nil, err
	}
	return recipeFromArchive(data)
}

// SearchPackages implements PackageSupplier with a substring match
// over the directory listing.
func (f *FilesystemSupplier) SearchPackages(ctx context.Context, query string) ([]SearchResult, error) {
	entries, err := f.fs.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrTransient, f.dir, err)
	}

	query = strings.ToLower(query)
	seen := map[recipe.PackageName]bool{}
	out := []SearchResult{}
	for _, e := range entries {
		if e.IsDir() || !archive.HasSupportedExtension(e.Name()) {
			continue
		}
		name, _, ok := splitArchiveName(archive.TrimExtension(e.Name()))
		if !ok || seen[name] || !strings.Contains(string(name), query) {
			continue
		}

		vs, err := f.GetVersions(ctx, name)
		if err != nil {
			continue
		}
		seen[name] = true
		best, err := bestVersion(vs, version.AnyRange, false)
		if err != nil {
			best = vs[len(vs)-1]
		}
		out = append(out, SearchResult{Name: name, Version: best})
	}
	return out, nil
}

// splitArchiveName splits "<name>-<version>" at the first dash whose
// remainder parses as a version; package names may themselves contain
// dashes.
func splitArchiveName(base string) (recipe.PackageName, version.Version, bool) {
	for i := 0; i < len(base); i++ {
		if base[i] != '-' {
			continue
		}
		v, err := version.Parse(base[i+1:])
		if err != nil {
			continue
		}
		name, err := recipe.ParseName(base[:i])
		if err != nil {
			continue
		}
		return name, v, true
	}
	return "", version.Version{}, false
}

// recipeFromArchive extracts an archive in memory and loads the
// recipe of the package inside.
func recipeFromArchive(data []byte) (*recipe.Recipe, error) {
	fs, root, err := extractToMemory(data)
	if err != nil {
		return nil, err
	}
	r, err := recipe.Load(fs, root)
	if err != nil {
		return nil, fmt.Errorf("%w: archive carries no recipe: %v", ErrProtocol, err)
	}
	return r, nil
}
