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

// Package resolver computes a single consistent version assignment
// for the transitive dependencies of a root recipe, reconciling the
// recipe's constraints, already-selected versions, the package store,
// and the ordered supplier list.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/hashicorp/go-multierror"

	"go.lode.sh/lode/internal/fetcher"
	"go.lode.sh/lode/internal/store"
	"go.lode.sh/lode/internal/suppliers"
	"go.lode.sh/lode/pkg/recipe"
	"go.lode.sh/lode/pkg/selections"
	"go.lode.sh/lode/pkg/slogext"
	"go.lode.sh/lode/pkg/version"
)

// UpgradeOptions steer one resolver run.
type UpgradeOptions struct {
	// Select persists the resulting selections. The resolver does not
	// read it; the caller writes the file when it is set.
	Select bool

	// Upgrade ignores existing selections and picks the best
	// available candidates.
	Upgrade bool

	// Prerelease admits pre-release versions as candidates.
	Prerelease bool

	// ForceRemoveMissing re-resolves dependencies whose selected
	// version has vanished from every source instead of failing.
	ForceRemoveMissing bool
}

// RepositoryFetcher materializes repository dependencies into the
// store. Network access lives behind this capability, matching the
// supplier model.
type RepositoryFetcher interface {
	// Fetch materializes (name, ref) into tier and returns the stored
	// package.
	Fetch(ctx context.Context, name recipe.PackageName, ref recipe.RepositoryRef, tier store.Tier) (*store.Package, error)
}

// Options configures a Resolver. Store and Log are required; the rest
// have working defaults.
type Options struct {
	Log   slogext.Logger
	Store *store.Store

	// Suppliers are consulted in declaration order; the order fixes
	// tie-breaks for the whole run.
	Suppliers []suppliers.PackageSupplier

	// Fetcher downloads supplier archives into the store. Defaults to
	// a fetcher over Store.
	Fetcher *fetcher.Fetcher

	// Repositories materializes repository dependencies. Nil disables
	// them.
	Repositories RepositoryFetcher

	// RootDir is the root package's directory on the store
	// filesystem; path dependencies resolve relative to it.
	RootDir string

	// Configuration and Platform select which dependency sets apply.
	Configuration string
	Platform      recipe.Platform

	// TargetTier is where fetched packages land. Defaults to user.
	TargetTier store.Tier
}

// ResolvedPackage is one node of the resolved graph. Sub-packages get
// their own node keyed by their full name, sharing the main package's
// materialization.
type ResolvedPackage struct {
	Name      recipe.PackageName
	Recipe    *recipe.Recipe
	Package   *store.Package
	Selection selections.SelectedVersion
}

// Result is a successful resolution: fresh selections plus the loaded
// package graph reachable from the root.
type Result struct {
	Root       *recipe.Recipe
	Selections *selections.Selections
	Packages   map[recipe.PackageName]*ResolvedPackage

	// OptionalFailures aggregates optional dependencies that could
	// not be fetched; they are reported, not fatal.
	OptionalFailures error
}

// Package returns the resolved node for a (possibly sub-) package
// name, or nil.
func (r *Result) Package(name recipe.PackageName) *ResolvedPackage {
	return r.Packages[name]
}

// Resolver runs resolutions against one store and supplier set.
type Resolver struct {
	opts Options
}

// New creates a resolver.
func New(opts Options) *Resolver {
	if opts.Fetcher == nil {
		opts.Fetcher = fetcher.New(opts.Store, opts.Log)
	}
	if opts.TargetTier == "" {
		opts.TargetTier = store.TierUser
	}
	return &Resolver{opts: opts}
}

// work is one queued dependency edge.
type work struct {
	dep recipe.Dependency

	// parent labels the declaring recipe for diagnostics.
	parent string

	// parentDir is the declaring package root, for resolving relative
	// path dependencies.
	parentDir string
}

// state tracks one main package name across the run.
type state struct {
	history []constraint
	sel     selections.SelectedVersion
	pkg     *store.Package
	done    bool
	skipped bool
}

// run carries the mutable state of one resolution.
type run struct {
	r        *Resolver
	ctx      context.Context
	existing *selections.Selections
	up       UpgradeOptions

	queue     []work
	states    map[recipe.PackageName]*state
	result    *Result
	subLoaded map[recipe.PackageName]bool
}

// Resolve computes a fresh selection set for root. existing may be
// nil. With no Upgrade flag, resolving twice on unchanged inputs
// produces identical selections.
func (r *Resolver) Resolve(ctx context.Context, root *recipe.Recipe, existing *selections.Selections, up UpgradeOptions) (*Result, error) {
	if existing == nil {
		existing = selections.New()
	}

	rn := &run{
		r:        r,
		ctx:      ctx,
		existing: existing,
		up:       up,
		states:   map[recipe.PackageName]*state{},
		result: &Result{
			Root:       root,
			Selections: selections.New(),
			Packages:   map[recipe.PackageName]*ResolvedPackage{},
		},
		subLoaded: map[recipe.PackageName]bool{},
	}

	rootLabel := fmt.Sprintf("%s (root)", root.Name)
	for _, d := range root.GetDependencies(r.opts.Configuration, r.opts.Platform) {
		rn.queue = append(rn.queue, work{dep: d, parent: rootLabel, parentDir: r.opts.RootDir})
	}

	for len(rn.queue) > 0 {
		w := rn.queue[0]
		rn.queue = rn.queue[1:]

		if err := rn.step(w); err != nil {
			return nil, err
		}
	}

	return rn.result, nil
}

// step processes one dependency edge.
func (rn *run) step(w work) error {
	opts := &rn.r.opts
	main := w.dep.Name.Main()

	st, ok := rn.states[main]
	if !ok {
		st = &state{}
		rn.states[main] = st
	}
	st.history = append(st.history, constraint{parent: w.parent, source: w.dep.Source, dir: w.parentDir})

	if st.done {
		// Never resolve a name twice; check the new constraint against
		// the choice already made.
		if !rn.selectionSatisfies(st, w) {
			return unresolvable(main, st.history,
				fmt.Sprintf("already selected %s does not satisfy the new constraint", st.sel))
		}
		return rn.loadSubPackages(w.dep.Name, st)
	}
	if st.skipped && (w.dep.Optional && !w.dep.Default) {
		return nil
	}

	// Optional dependencies are only pulled in when marked default or
	// already selected.
	if w.dep.Optional && !w.dep.Default {
		if _, selected := rn.existing.Get(main); !selected {
			opts.Log.With("dependency", main).Debug("Skipping optional dependency")
			st.skipped = true
			st.history = st.history[:len(st.history)-1]
			return nil
		}
	}
	st.skipped = false

	paths, repos, ranges, err := rn.partition(main, st)
	if err != nil {
		return err
	}

	switch {
	case len(paths) > 0:
		err = rn.resolvePath(w, st, paths[0])
	case len(repos) > 0:
		err = rn.resolveRepository(w, st, repos[0])
	default:
		err = rn.resolveVersion(w, st, ranges)
	}
	if err != nil {
		return err
	}
	if !st.done {
		// An optional dependency failed softly.
		return nil
	}

	rn.result.Selections.Set(main, st.sel)
	rn.result.Packages[main] = &ResolvedPackage{
		Name:      main,
		Recipe:    st.pkg.Recipe,
		Package:   st.pkg,
		Selection: st.sel,
	}

	rn.enqueueDependencies(st.pkg.Recipe, st.label(main), st.pkg.Root)
	return rn.loadSubPackages(w.dep.Name, st)
}

// label renders "name@selection" for diagnostics.
func (st *state) label(name recipe.PackageName) string {
	return fmt.Sprintf("%s@%s", name, st.sel)
}

// partition splits the recorded constraints by kind and verifies the
// identity-matched kinds unify. Mixing kinds is a conflict.
func (rn *run) partition(name recipe.PackageName, st *state) (paths []string, repos []recipe.RepositoryRef, ranges []version.Range, err error) {
	for _, c := range st.history {
		switch {
		case c.source.IsPath():
			paths = append(paths, normalizePath(c.dir, c.source.Path()))
		case c.source.IsRepository():
			repos = append(repos, c.source.Repository())
		default:
			ranges = append(ranges, c.source.Range())
		}
	}

	if len(paths) > 0 && (len(repos) > 0 || len(ranges) > 0) ||
		len(repos) > 0 && len(ranges) > 0 {
		return nil, nil, nil, unresolvable(name, st.history, "conflicting dependency kinds")
	}
	for i := 1; i < len(paths); i++ {
		if paths[i] != paths[0] {
			return nil, nil, nil, unresolvable(name, st.history,
				fmt.Sprintf("path dependencies disagree (%s vs %s)", paths[0], paths[i]))
		}
	}
	for i := 1; i < len(repos); i++ {
		if !repos[i].Equal(repos[0]) {
			return nil, nil, nil, unresolvable(name, st.history, "repository dependencies disagree")
		}
	}
	return paths, repos, ranges, nil
}

// selectionSatisfies checks a new constraint against an already-made
// choice.
func (rn *run) selectionSatisfies(st *state, w work) bool {
	src := w.dep.Source
	switch {
	case src.IsPath():
		return st.sel.IsPath() &&
			normalizePath(rn.r.opts.RootDir, st.sel.Path) == normalizePath(w.parentDir, src.Path())
	case src.IsRepository():
		return st.sel.IsRepository() && st.sel.Repository.Equal(src.Repository())
	}
	if st.sel.IsPath() || st.sel.IsRepository() {
		// A path or repository choice overrides version constraints.
		return true
	}
	return src.Range().Matches(st.sel.Version)
}

// resolvePath materializes a path dependency.
func (rn *run) resolvePath(w work, st *state, dir string) error {
	opts := &rn.r.opts

	rec, err := recipe.Load(opts.Store.Filesystem(), dir)
	if err != nil {
		ferr := fmt.Errorf("%w: %s: path %s: %v", ErrUnableToFetch, w.dep.Name, dir, err)
		if w.dep.Optional {
			rn.recordOptionalFailure(ferr)
			return nil
		}
		return ferr
	}

	st.pkg = &store.Package{
		Recipe:  rec,
		Name:    w.dep.Name.Main(),
		Version: rec.Version,
		Root:    dir,
		Tier:    store.TierProject,
	}
	st.sel = selections.SelectPath(relativePath(opts.RootDir, dir))
	st.done = true
	return nil
}

// resolveRepository materializes a repository dependency: the store
// copy at the pinned ref when present, an SCM fetch otherwise.
func (rn *run) resolveRepository(w work, st *state, ref recipe.RepositoryRef) error {
	opts := &rn.r.opts
	main := w.dep.Name.Main()
	pinned := version.MustParse("~" + ref.Ref)

	pkg := opts.Store.GetPackage(main, pinned, "")
	if pkg != nil && pkg.Repository != nil && !pkg.Repository.Equal(ref) {
		pkg = nil
	}

	if pkg == nil {
		if opts.Repositories == nil {
			return fmt.Errorf("%w: %s: no repository access configured for %s",
				ErrUnableToFetch, w.dep.Name, ref)
		}
		var err error
		pkg, err = opts.Repositories.Fetch(rn.ctx, main, ref, opts.TargetTier)
		if err != nil {
			ferr := fmt.Errorf("%w: %s: %s: %v", ErrUnableToFetch, w.dep.Name, ref, err)
			if w.dep.Optional {
				rn.recordOptionalFailure(ferr)
				return nil
			}
			return ferr
		}
	}

	pkg.Repository = &ref
	st.pkg = pkg
	st.sel = selections.SelectRepository(ref)
	st.done = true
	return nil
}

// resolveVersion picks a version for a range-constrained dependency:
// reuse a matching existing selection unless upgrading, otherwise the
// best candidate offered by the store and the suppliers in order.
func (rn *run) resolveVersion(w work, st *state, ranges []version.Range) error {
	main := w.dep.Name.Main()

	if !rn.up.Upgrade {
		if sel, ok := rn.existing.Get(main); ok {
			reused, err := rn.reuseSelection(w, st, sel, ranges)
			if err != nil || reused {
				return err
			}
		}
	}

	chosen, origin, err := rn.pickCandidate(main, st, ranges)
	if err != nil {
		if w.dep.Optional {
			rn.recordOptionalFailure(err)
			return nil
		}
		return err
	}
	return rn.materializeVersion(w, st, chosen, origin)
}

// reuseSelection tries to keep an existing selection. Returns true
// when the selection was applied.
func (rn *run) reuseSelection(w work, st *state, sel selections.SelectedVersion, ranges []version.Range) (bool, error) {
	switch {
	case sel.IsPath():
		// A recorded path override wins over version constraints.
		err := rn.resolvePath(w, st, normalizePath(rn.r.opts.RootDir, sel.Path))
		return true, err
	case sel.IsRepository():
		err := rn.resolveRepository(w, st, *sel.Repository)
		return true, err
	case !version.MatchesAll(ranges, sel.Version):
		return false, nil
	}

	err := rn.materializeVersion(w, st, sel.Version, nil)
	if err != nil && errors.Is(err, ErrMissingDependency) && rn.up.ForceRemoveMissing {
		// The pinned version is gone everywhere; fall back to a fresh
		// pick.
		rn.r.opts.Log.With("dependency", w.dep.Name).With("version", sel.Version).
			Warn("Selected version no longer available, re-resolving")
		return false, nil
	}
	return true, err
}

// candidateOrigin says where a candidate version came from: nil for
// the store, otherwise the supplier.
type candidateOrigin = suppliers.PackageSupplier

// pickCandidate enumerates candidates store-first and picks the best
// match. Ties go to the store, then to the earlier-listed supplier.
func (rn *run) pickCandidate(main recipe.PackageName, st *state, ranges []version.Range) (version.Version, candidateOrigin, error) {
	opts := &rn.r.opts

	storeVersions := opts.Store.Versions(main)
	all := append([]version.Version{}, storeVersions...)

	supplierVersions := make([][]version.Version, len(opts.Suppliers))
	for i, s := range opts.Suppliers {
		vs, err := s.GetVersions(rn.ctx, main)
		if err != nil {
			if errors.Is(err, suppliers.ErrPackageNotFound) {
				continue
			}
			return version.Version{}, nil, fmt.Errorf("querying %s for %s: %w", s.Description(), main, err)
		}
		supplierVersions[i] = vs
		all = append(all, vs...)
	}

	best := version.BestMatch(all, ranges, rn.up.Prerelease)
	if best.IsZero() {
		reason := "no version satisfies the combined constraints"
		if len(all) == 0 {
			reason = "no versions found in the store or any supplier"
		}
		return version.Version{}, nil, unresolvable(main, st.history, reason)
	}

	for _, v := range storeVersions {
		if v.Equal(best) {
			return best, nil, nil
		}
	}
	for i, vs := range supplierVersions {
		for _, v := range vs {
			if v.Equal(best) {
				return best, opts.Suppliers[i], nil
			}
		}
	}
	// Unreachable: best came out of the candidate lists.
	return version.Version{}, nil, unresolvable(main, st.history, "candidate vanished during selection")
}

// materializeVersion ensures (name, v) is present in the store. With
// a known origin only that supplier is asked; otherwise the store and
// then every supplier is tried.
func (rn *run) materializeVersion(w work, st *state, v version.Version, origin candidateOrigin) error {
	opts := &rn.r.opts
	main := w.dep.Name.Main()

	pkg := opts.Store.GetPackage(main, v, "")
	if pkg == nil {
		candidates := opts.Suppliers
		if origin != nil {
			candidates = []suppliers.PackageSupplier{origin}
		}

		var lastErr error
		for _, s := range candidates {
			p, err := opts.Fetcher.Fetch(rn.ctx, s, main, version.ExactRange(v), true, opts.TargetTier)
			if err == nil {
				pkg = p
				break
			}
			lastErr = err
			if !errors.Is(err, suppliers.ErrPackageNotFound) && !errors.Is(err, suppliers.ErrNoMatchingVersion) {
				return fmt.Errorf("fetching %s@%s from %s: %w", main, v, s.Description(), err)
			}
		}

		if pkg == nil {
			err := fmt.Errorf("%w: %s@%s not available from any source", ErrMissingDependency, main, v)
			if lastErr != nil {
				err = fmt.Errorf("%w (last failure: %v)", err, lastErr)
			}
			if w.dep.Optional {
				rn.recordOptionalFailure(err)
				return nil
			}
			return err
		}
	}

	st.pkg = pkg
	st.sel = selections.Select(v)
	st.done = true
	return nil
}

// enqueueDependencies pushes a resolved package's own dependencies.
func (rn *run) enqueueDependencies(rec *recipe.Recipe, parent, parentDir string) {
	opts := &rn.r.opts
	for _, d := range rec.GetDependencies(opts.Configuration, opts.Platform) {
		opts.Log.With("package", parent).With("dependency", d.Name).Debug("Adding dependency")
		rn.queue = append(rn.queue, work{dep: d, parent: parent, parentDir: parentDir})
	}
}

// loadSubPackages registers the sub-recipe node when a dependency
// addresses a sub-package, and enqueues the sub-recipe's own
// dependencies.
func (rn *run) loadSubPackages(name recipe.PackageName, st *state) error {
	if !name.IsSubPackage() || rn.subLoaded[name] {
		return nil
	}

	sub, err := st.pkg.SubRecipe(rn.r.opts.Store, name)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnableToFetch, name, err)
	}

	rn.subLoaded[name] = true
	rn.result.Packages[name] = &ResolvedPackage{
		Name:      name,
		Recipe:    sub,
		Package:   st.pkg,
		Selection: st.sel,
	}
	rn.enqueueDependencies(sub, st.label(name), st.pkg.Root)
	return nil
}

// recordOptionalFailure reports a failed optional dependency without
// aborting the resolve.
func (rn *run) recordOptionalFailure(err error) {
	rn.r.opts.Log.WithError(err).Warn("Optional dependency unavailable")
	rn.result.OptionalFailures = multierror.Append(rn.result.OptionalFailures, err)
}

// normalizePath resolves a relative dependency path against the
// declaring package's root.
func normalizePath(base, rel string) string {
	if path.IsAbs(rel) {
		return path.Clean(rel)
	}
	return path.Clean(path.Join(base, rel))
}

// relativePath renders target relative to base when possible, for
// stable selections files.
func relativePath(base, target string) string {
	base = path.Clean(base)
	target = path.Clean(target)
	if base == target {
		return "."
	}
	if base == "." {
		return target
	}
	if strings.HasPrefix(target, base+"/") {
		return target[len(base)+1:]
	}

	baseParts := strings.Split(base, "/")
	targetParts := strings.Split(target, "/")
	common := 0
	for common < len(baseParts) && common < len(targetParts) && baseParts[common] == targetParts[common] {
		common++
	}

	up := make([]string, 0, len(baseParts)-common)
	for range baseParts[common:] {
		up = append(up, "..")
	}
	return path.Join(append(up, targetParts[common:]...)...)
}
