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

// Package store implements the three-tier filesystem-backed catalog
// of unpacked packages. A Store is an explicit value handed to the
// resolver, fetcher and project; there are no module-level singletons.
//
// In-tier layout is packages/<main>/<version>/<main>/, the last level
// being the package root so that archives carrying a top-level
// directory extract without special casing.
package store

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/pkg/errors"

	"go.lode.sh/lode/internal/archive"
	"go.lode.sh/lode/pkg/recipe"
	"go.lode.sh/lode/pkg/slogext"
	"go.lode.sh/lode/pkg/version"
)

// Tier names a store scope.
type Tier string

const (
	// TierSystem is the machine-wide store.
	TierSystem Tier = "system"
	// TierUser is the per-user store.
	TierUser Tier = "user"
	// TierProject is the project-local store.
	TierProject Tier = "project"
)

// lookupOrder is the tier precedence when a lookup does not fix a
// tier. Registered search paths are consulted before any tier.
var lookupOrder = []Tier{TierProject, TierUser, TierSystem}

// Store errors. Check with [errors.Is].
var (
	// ErrCorruptArchive is an alias of the extractor's error.
	ErrCorruptArchive = archive.ErrCorrupt

	// ErrDestinationOccupied is returned when a store destination is
	// blocked by something that is not a package directory.
	ErrDestinationOccupied = fmt.Errorf("store destination occupied")

	// ErrLockTimeout is returned when the destination lock cannot be
	// acquired.
	ErrLockTimeout = fmt.Errorf("timed out waiting for store lock")
)

// Roots are the filesystem roots of the three tiers. Empty roots
// disable their tier.
type Roots struct {
	System  string
	User    string
	Project string
}

// DefaultRoots returns the conventional tier roots: the project-local
// ".lode" directory, the XDG data directory for the user tier, and
// /var/lib/lode for the system tier.
func DefaultRoots(projectDir string) Roots {
	return Roots{
		System:  "/var/lib/lode",
		User:    filepath.ToSlash(filepath.Join(xdg.DataHome, "lode")),
		Project: path.Join(projectDir, ".lode"),
	}
}

type searchPath struct {
	tier Tier
	dir  string
}

// Store is the package catalog.
type Store struct {
	fs  billy.Filesystem
	log slogext.Logger

	roots map[Tier]string

	mu          sync.Mutex
	searchPaths []searchPath // most recently added first
	packages    []*Package
	scanned     bool
	onRefresh   []func()
}

// New creates a store over fs with the given tier roots.
func New(fs billy.Filesystem, log slogext.Logger, roots Roots) *Store {
	m := map[Tier]string{}
	if roots.System != "" {
		m[TierSystem] = roots.System
	}
	if roots.User != "" {
		m[TierUser] = roots.User
	}
	if roots.Project != "" {
		m[TierProject] = roots.Project
	}
	return &Store{fs: fs, log: log, roots: m}
}

// Filesystem exposes the store's filesystem for collaborators that
// load recipes out of stored packages.
func (s *Store) Filesystem() billy.Filesystem {
	return s.fs
}

// OnRefresh registers a hook run by Refresh. Suppliers register their
// cache invalidation here so stale metadata does not outlive a
// rescan.
func (s *Store) OnRefresh(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRefresh = append(s.onRefresh, fn)
}

// Refresh rescans every tier and search path and runs the registered
// invalidation hooks. Idempotent; cheap when the filesystem has not
// changed.
func (s *Store) Refresh() {
	s.mu.Lock()
	s.scanned = false
	s.packages = nil
	hooks := append([]func(){}, s.onRefresh...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// AddSearchPath registers an ad-hoc directory of packages for a tier.
// Packages found there take priority over every tier; the most
// recently added path wins on duplicate (name, version).
func (s *Store) AddSearchPath(tier Tier, dir string) {
	s.mu.Lock()
	s.searchPaths = append([]searchPath{{tier: tier, dir: path.Clean(dir)}}, s.searchPaths...)
	s.scanned = false
	s.packages = nil
	s.mu.Unlock()
}

// RemoveSearchPath unregisters a search path.
func (s *Store) RemoveSearchPath(tier Tier, dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir = path.Clean(dir)
	kept := s.searchPaths[:0]
	for _, sp := range s.searchPaths {
		if sp.tier != tier || sp.dir != dir {
			kept = append(kept, sp)
		}
	}
	s.searchPaths = kept
	s.scanned = false
	s.packages = nil
}

// GetPackage looks up (name, version). With tier == "" the priority
// order applies: search paths first, then project, user, system.
func (s *Store) GetPackage(name recipe.PackageName, v version.Version, tier Tier) *Package {
	for _, p := range s.list() {
		if p.Name != name.Main() || !p.Version.Equal(v) {
			continue
		}
		if tier != "" && (p.Tier != tier || p.SearchPath != "") {
			continue
		}
		return p
	}
	return nil
}

// Iter returns every stored copy of name, in lookup priority order.
func (s *Store) Iter(name recipe.PackageName) []*Package {
	out := []*Package{}
	for _, p := range s.list() {
		if p.Name == name.Main() {
			out = append(out, p)
		}
	}
	return out
}

// IterAll returns every stored package in lookup priority order.
func (s *Store) IterAll() []*Package {
	return append([]*Package{}, s.list()...)
}

// Versions returns the distinct stored versions of name, ascending.
func (s *Store) Versions(name recipe.PackageName) []version.Version {
	seen := map[string]bool{}
	out := []version.Version{}
	for _, p := range s.Iter(name) {
		if seen[p.Version.String()] {
			continue
		}
		seen[p.Version.String()] = true
		out = append(out, p.Version)
	}
	version.Sort(out)
	return out
}

// list returns the scanned package cache, scanning on first use. The
// slice is ordered by lookup priority.
func (s *Store) list() []*Package {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scanned {
		return s.packages
	}

	pkgs := []*Package{}
	for _, sp := range s.searchPaths {
		pkgs = append(pkgs, s.scanSearchPath(sp)...)
	}
	for _, tier := range lookupOrder {
		root, ok := s.roots[tier]
		if !ok {
			continue
		}
		pkgs = append(pkgs, s.scanTier(tier, root)...)
	}

	s.packages = pkgs
	s.scanned = true
	return s.packages
}

// scanTier walks packages/<main>/<version>/<main>/ under a tier root.
func (s *Store) scanTier(tier Tier, root string) []*Package {
	out := []*Package{}
	mains, err := s.fs.ReadDir(path.Join(root, "packages"))
	if err != nil {
		return out
	}

	for _, mainDir := range mains {
		if !mainDir.IsDir() {
			continue
		}
		name := recipe.PackageName(mainDir.Name())

		versions, err := s.fs.ReadDir(path.Join(root, "packages", mainDir.Name()))
		if err != nil {
			continue
		}
		for _, vdir := range versions {
			if !vdir.IsDir() {
				continue
			}
			v, err := version.Parse(vdir.Name())
			if err != nil {
				// Partial extractions and lock droppings live next to
				// version directories; skip anything unparsable.
				continue
			}

			pkgRoot := path.Join(root, "packages", mainDir.Name(), vdir.Name(), mainDir.Name())
			r, err := recipe.Load(s.fs, pkgRoot)
			if err != nil {
				s.log.With("path", pkgRoot).WithError(err).Debug("Skipping unreadable package")
				continue
			}

			out = append(out, &Package{
				Recipe:  r,
				Name:    name,
				Version: v,
				Root:    pkgRoot,
				Tier:    tier,
			})
		}
	}
	return out
}

// scanSearchPath treats every subdirectory carrying a recipe as a
// package; the version is whatever the recipe declares.
func (s *Store) scanSearchPath(sp searchPath) []*Package {
	out := []*Package{}
	entries, err := s.fs.ReadDir(sp.dir)
	if err != nil {
		return out
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pkgRoot := path.Join(sp.dir, e.Name())
		r, err := recipe.Load(s.fs, pkgRoot)
		if err != nil {
			continue
		}

		out = append(out, &Package{
			Recipe:     r,
			Name:       r.Name,
			Version:    r.Version,
			Root:       pkgRoot,
			Tier:       sp.tier,
			SearchPath: sp.dir,
		})
	}
	return out
}

// StoreArchive unpacks an archive into the tier's canonical location
// for (name, version) and returns the stored package. The destination
// is locked for the duration; a concurrent store of the same package
// turns into a no-op returning the already-present copy. A partial
// directory left by a crashed run is overwritten.
func (s *Store) StoreArchive(data []byte, tier Tier, name recipe.PackageName, v version.Version) (*Package, error) {
	root, ok := s.roots[tier]
	if !ok {
		return nil, fmt.Errorf("tier %q has no root configured", tier)
	}

	name = name.Main()
	versionDir := path.Join(root, "packages", string(name), v.String())
	pkgRoot := path.Join(versionDir, string(name))

	if err := s.fs.MkdirAll(path.Join(root, "packages", string(name)), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create store directory")
	}

	unlock, err := s.lockDestination(versionDir)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Another process may have finished the same store while we were
	// waiting on the lock.
	if r, err := recipe.Load(s.fs, pkgRoot); err == nil {
		s.log.With("package", name).With("version", v).Debug("Already stored")
		s.invalidate()
		return &Package{Recipe: r, Name: name, Version: v, Root: pkgRoot, Tier: tier}, nil
	}

	if info, err := s.fs.Stat(versionDir); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a file", ErrDestinationOccupied, versionDir)
	}

	partial := versionDir + ".partial"
	_ = util.RemoveAll(s.fs, partial)
	if err := archive.Extract(s.fs, partial, data); err != nil {
		_ = util.RemoveAll(s.fs, partial)
		return nil, err
	}

	src, err := s.findPackageRoot(partial)
	if err != nil {
		_ = util.RemoveAll(s.fs, partial)
		return nil, err
	}

	// Commit: clear any partial previous extraction, then move the
	// extracted root into place.
	_ = util.RemoveAll(s.fs, versionDir)
	if err := s.fs.MkdirAll(versionDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create destination")
	}
	if err := s.fs.Rename(src, pkgRoot); err != nil {
		return nil, errors.Wrap(err, "failed to commit package")
	}
	_ = util.RemoveAll(s.fs, partial)

	r, err := recipe.Load(s.fs, pkgRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: stored package has no recipe: %v", ErrCorruptArchive, err)
	}

	s.log.With("package", name).With("version", v).With("tier", tier).Debug("Stored package")
	s.invalidate()
	return &Package{Recipe: r, Name: name, Version: v, Root: pkgRoot, Tier: tier}, nil
}

// findPackageRoot locates the package root inside an extracted
// archive: either the extraction directory itself or its single
// top-level directory.
func (s *Store) findPackageRoot(dir string) (string, error) {
	if _, err := recipe.Load(s.fs, dir); err == nil {
		return dir, nil
	}

	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		return "", errors.Wrap(err, "failed to read extraction")
	}
	if len(entries) == 1 && entries[0].IsDir() {
		sub := path.Join(dir, entries[0].Name())
		if _, err := recipe.Load(s.fs, sub); err == nil {
			return sub, nil
		}
	}
	return "", fmt.Errorf("%w: no recipe in archive", ErrCorruptArchive)
}

// lockDestination takes an exclusive advisory lock on the
// destination's lock file.
func (s *Store) lockDestination(dest string) (func(), error) {
	lockPath := dest + ".lock"
	f, err := s.fs.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open lock file")
	}
	if err := f.Lock(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, lockPath, err)
	}

	return func() {
		_ = f.Unlock()
		f.Close()
		_ = s.fs.Remove(lockPath)
	}, nil
}

// invalidate drops the scan cache after a mutation.
func (s *Store) invalidate() {
	s.mu.Lock()
	s.scanned = false
	s.packages = nil
	s.mu.Unlock()
}
