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

// Package suppliers implements the pluggable sources packages are
// fetched from: a filesystem directory, an HTTP registry, a
// Maven-style repository, a git-cloned index, and a fallback composer
// delegating across an ordered list with per-entry cooldown.
package suppliers

import (
	"context"
	"fmt"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"

	"go.lode.sh/lode/internal/archive"
	"go.lode.sh/lode/pkg/recipe"
	"go.lode.sh/lode/pkg/version"
)

// Supplier failure kinds, uniform across variants. Check with
// [errors.Is]; every returned error wraps exactly one of these.
var (
	// ErrPackageNotFound means the supplier definitely does not carry
	// the package. Distinguished from transient failures so retry
	// logic can give up immediately.
	ErrPackageNotFound = fmt.Errorf("package not found")

	// ErrTransient covers network and I/O failures worth retrying.
	ErrTransient = fmt.Errorf("transient failure")

	// ErrAuth means the supplier rejected our credentials.
	ErrAuth = fmt.Errorf("authentication failed")

	// ErrProtocol means the supplier answered with something the
	// client does not understand.
	ErrProtocol = fmt.Errorf("protocol error")

	// ErrUnsupported means the supplier cannot perform the operation
	// at all.
	ErrUnsupported = fmt.Errorf("operation not supported")

	// ErrNoMatchingVersion means the supplier carries the package but
	// no version satisfies the requested range.
	ErrNoMatchingVersion = fmt.Errorf("no matching version")
)

// SearchResult is one hit of a package search.
type SearchResult struct {
	// Name is the package name.
	Name recipe.PackageName

	// Description is the package's own description, when known.
	Description string

	// Version is the best known version under the shared selection
	// rule (the highest release, or the highest pre-release when there
	// is no release).
	Version version.Version
}

// PackageSupplier is the capability a package source exposes. All
// operations take a context; any of them may block on I/O.
type PackageSupplier interface {
	// Description returns a human-readable description of the source.
	Description() string

	// GetVersions returns the known versions of a package, sorted
	// ascending. A package the supplier does not carry is
	// ErrPackageNotFound.
	GetVersions(ctx context.Context, name recipe.PackageName) ([]version.Version, error)

	// FetchPackageArchive downloads the archive of the best version
	// matching rng under the pre-release preference rule.
	FetchPackageArchive(ctx context.Context, name recipe.PackageName, rng version.Range, allowPrerelease bool) ([]byte, error)

	// FetchPackageRecipe returns the recipe of the best version
	// matching rng without downloading the package, when the supplier
	// carries recipe metadata.
	FetchPackageRecipe(ctx context.Context, name recipe.PackageName, rng version.Range, allowPrerelease bool) (*recipe.Recipe, error)

	// SearchPackages queries the supplier for packages matching a
	// free-form query.
	SearchPackages(ctx context.Context, query string) ([]SearchResult, error)
}

// bestVersion applies the selection rule shared by every supplier:
// among the candidates matching rng, the highest, preferring
// non-pre-releases unless allowPrerelease is set or only pre-releases
// match.
func bestVersion(candidates []version.Version, rng version.Range, allowPrerelease bool) (version.Version, error) {
	best := version.BestMatch(candidates, []version.Range{rng}, allowPrerelease)
	if best.IsZero() {
		return best, fmt.Errorf("%w: range %s", ErrNoMatchingVersion, rng)
	}
	return best, nil
}

// extractToMemory unpacks an archive into a fresh in-memory
// filesystem and returns the package root inside it.
func extractToMemory(data []byte) (billy.Filesystem, string, error) {
	fs := memfs.New()
	if err := archive.Extract(fs, "pkg", data); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	entries, err := fs.ReadDir("pkg")
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return fs, "pkg/" + entries[0].Name(), nil
	}
	return fs, "pkg", nil
}
