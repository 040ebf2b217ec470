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

package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"gotest.tools/v3/assert"

	"go.lode.sh/lode/internal/archive"
	"go.lode.sh/lode/internal/store"
	"go.lode.sh/lode/pkg/recipe"
	"go.lode.sh/lode/pkg/selections"
	"go.lode.sh/lode/pkg/slogext"
	"go.lode.sh/lode/pkg/version"
)

type fixture struct {
	fs    billy.Filesystem
	store *store.Store
	root  *recipe.Recipe
}

func newFixture(t *testing.T, rootDoc string) *fixture {
	t.Helper()

	fs := memfs.New()
	st := store.New(fs, slogext.NewDiscard(), store.Roots{
		User:    "/user",
		Project: "/project/.lode",
	})

	root, err := recipe.Parse([]byte(rootDoc))
	assert.NilError(t, err)

	return &fixture{fs: fs, store: st, root: root}
}

// addPackage stores a package built from a recipe document.
func (f *fixture) addPackage(t *testing.T, name, ver, doc string) {
	t.Helper()

	data, err := archive.Zip(map[string][]byte{name + "/lode.yaml": []byte(doc)})
	assert.NilError(t, err)
	_, err = f.store.StoreArchive(data, store.TierUser, recipe.PackageName(name), version.MustParse(ver))
	assert.NilError(t, err)
}

func (f *fixture) resolver(opts ...func(*Options)) *Resolver {
	o := Options{
		Log:     slogext.NewDiscard(),
		Store:   f.store,
		RootDir: "/project",
	}
	for _, fn := range opts {
		fn(&o)
	}
	return New(o)
}

func (f *fixture) resolve(t *testing.T, existing *selections.Selections, up UpgradeOptions, opts ...func(*Options)) *Result {
	t.Helper()
	res, err := f.resolver(opts...).Resolve(context.Background(), f.root, existing, up)
	assert.NilError(t, err)
	return res
}

func selectionString(t *testing.T, res *Result, name recipe.PackageName) string {
	t.Helper()
	sel, ok := res.Selections.Get(name)
	assert.Assert(t, ok, "no selection for %s", name)
	return sel.String()
}

// Simple dependency: root depends on b, the store has b@1.0.0.
func TestResolveSimple(t *testing.T) {
	f := newFixture(t, "name: a\ndependencies:\n  b: \"*\"\n")
	f.addPackage(t, "b", "1.0.0", "name: b\nversion: 1.0.0\n")

	res := f.resolve(t, nil, UpgradeOptions{})

	assert.Equal(t, "1.0.0", selectionString(t, res, "b"))
	assert.Assert(t, res.Package("b") != nil)
	assert.Assert(t, res.Package("no") == nil)
	_, ok := res.Selections.Get("no")
	assert.Assert(t, !ok)
}

// Transitive dependency: b pulls in c.
func TestResolveTransitive(t *testing.T) {
	f := newFixture(t, "name: a\ndependencies:\n  b: \"*\"\n")
	f.addPackage(t, "b", "1.0.0", "name: b\nversion: 1.0.0\ndependencies:\n  c: \"*\"\n")
	f.addPackage(t, "c", "1.0.0", "name: c\nversion: 1.0.0\n")

	res := f.resolve(t, nil, UpgradeOptions{})

	assert.Equal(t, "1.0.0", selectionString(t, res, "b"))
	assert.Equal(t, "1.0.0", selectionString(t, res, "c"))
	assert.Equal(t, 2, len(res.Selections.Versions))
}

// Diamond: b and c both depend on d; d is selected exactly once.
func TestResolveDiamond(t *testing.T) {
	f := newFixture(t, "name: a\ndependencies:\n  b: \"*\"\n  c: \"*\"\n")
	f.addPackage(t, "b", "1.0.0", "name: b\nversion: 1.0.0\ndependencies:\n  d: \"*\"\n")
	f.addPackage(t, "c", "1.0.0", "name: c\nversion: 1.0.0\ndependencies:\n  d: \"*\"\n")
	f.addPackage(t, "d", "1.0.0", "name: d\nversion: 1.0.0\n")

	res := f.resolve(t, nil, UpgradeOptions{})

	assert.Equal(t, 3, len(res.Selections.Versions))
	assert.Equal(t, "1.0.0", selectionString(t, res, "d"))
}

// Missing dependency: resolution fails identifying b, then succeeds
// once b is added.
func TestResolveMissing(t *testing.T) {
	f := newFixture(t, "name: a\nversion: 0.1.0\ndependencies:\n  b: \"*\"\n")

	_, err := f.resolver().Resolve(context.Background(), f.root, nil, UpgradeOptions{})
	assert.Assert(t, errors.Is(err, ErrUnresolvable))

	var ue *UnresolvableError
	assert.Assert(t, errors.As(err, &ue))
	assert.Equal(t, recipe.PackageName("b"), ue.Name)
	assert.Equal(t, 1, len(ue.Constraints))
	assert.Equal(t, "a (root)", ue.Constraints[0].Parent)

	f.addPackage(t, "b", "1.0.0", "name: b\nversion: 1.0.0\n")
	res := f.resolve(t, nil, UpgradeOptions{})
	assert.Equal(t, "1.0.0", selectionString(t, res, "b"))
}

// Upgrade: selections pin until upgrade is requested; upgrades are
// monotone.
func TestResolveUpgrade(t *testing.T) {
	f := newFixture(t, "name: a\ndependencies:\n  b: \"*\"\n")
	for _, v := range []string{"1.0.0", "1.1.0", "1.2.0"} {
		f.addPackage(t, "b", v, fmt.Sprintf("name: b\nversion: %s\n", v))
	}

	pinned := selections.New()
	pinned.Set("b", selections.Select(version.MustParse("1.1.0")))

	res := f.resolve(t, pinned, UpgradeOptions{})
	assert.Equal(t, "1.1.0", selectionString(t, res, "b"))

	res = f.resolve(t, pinned, UpgradeOptions{Upgrade: true})
	assert.Equal(t, "1.2.0", selectionString(t, res, "b"))

	f.addPackage(t, "b", "1.3.0", "name: b\nversion: 1.3.0\n")
	f.store.Refresh()
	res = f.resolve(t, res.Selections, UpgradeOptions{Upgrade: true})
	assert.Equal(t, "1.3.0", selectionString(t, res, "b"))
}

// Resolver stability: identical inputs, identical selections files.
func TestResolveStability(t *testing.T) {
	f := newFixture(t, "name: a\ndependencies:\n  b: \"^1.0.0\"\n  c: \"*\"\n")
	f.addPackage(t, "b", "1.0.0", "name: b\nversion: 1.0.0\n")
	f.addPackage(t, "b", "1.1.0", "name: b\nversion: 1.1.0\n")
	f.addPackage(t, "c", "2.0.0", "name: c\nversion: 2.0.0\n")

	first := f.resolve(t, nil, UpgradeOptions{})
	assert.NilError(t, first.Selections.Save(f.fs, "/project"))
	firstDoc, err := util.ReadFile(f.fs, "/project/"+selections.FileName)
	assert.NilError(t, err)

	second := f.resolve(t, first.Selections, UpgradeOptions{})
	assert.NilError(t, second.Selections.Save(f.fs, "/project"))
	secondDoc, err := util.ReadFile(f.fs, "/project/"+selections.FileName)
	assert.NilError(t, err)

	assert.Equal(t, string(firstDoc), string(secondDoc))
}

// Constraint intersection across dependents.
func TestResolveIntersection(t *testing.T) {
	f := newFixture(t, "name: a\ndependencies:\n  b: \"*\"\n  c: \"*\"\n")
	f.addPackage(t, "b", "1.0.0", "name: b\nversion: 1.0.0\ndependencies:\n  d: \">=1.0.0 <2.0.0\"\n")
	f.addPackage(t, "c", "1.0.0", "name: c\nversion: 1.0.0\ndependencies:\n  d: \">=1.5.0\"\n")
	f.addPackage(t, "d", "1.4.0", "name: d\nversion: 1.4.0\n")
	f.addPackage(t, "d", "1.6.0", "name: d\nversion: 1.6.0\n")
	f.addPackage(t, "d", "2.1.0", "name: d\nversion: 2.1.0\n")

	res := f.resolve(t, nil, UpgradeOptions{})
	assert.Equal(t, "1.6.0", selectionString(t, res, "d"))
}

// A constraint arriving after the name is resolved conflicts when the
// chosen version cannot satisfy it.
func TestResolveLateConflict(t *testing.T) {
	f := newFixture(t, "name: a\ndependencies:\n  d: \">=2.0.0\"\n  b: \"*\"\n")
	f.addPackage(t, "b", "1.0.0", "name: b\nversion: 1.0.0\ndependencies:\n  d: \"<2.0.0\"\n")
	f.addPackage(t, "d", "1.0.0", "name: d\nversion: 1.0.0\n")
	f.addPackage(t, "d", "2.0.0", "name: d\nversion: 2.0.0\n")

	_, err := f.resolver().Resolve(context.Background(), f.root, nil, UpgradeOptions{})
	assert.Assert(t, errors.Is(err, ErrUnresolvable))

	var ue *UnresolvableError
	assert.Assert(t, errors.As(err, &ue))
	assert.Equal(t, recipe.PackageName("d"), ue.Name)
	assert.Equal(t, 2, len(ue.Constraints))
}

// Dependency cycles resolve as long as constraints are satisfiable.
func TestResolveCycle(t *testing.T) {
	f := newFixture(t, "name: a\ndependencies:\n  b: \"*\"\n")
	f.addPackage(t, "b", "1.0.0", "name: b\nversion: 1.0.0\ndependencies:\n  c: \"*\"\n")
	f.addPackage(t, "c", "1.0.0", "name: c\nversion: 1.0.0\ndependencies:\n  b: \"*\"\n")

	res := f.resolve(t, nil, UpgradeOptions{})
	assert.Equal(t, 2, len(res.Selections.Versions))
}

// Path dependency: materialized from disk, recorded as a path
// selection.
func TestResolvePathDependency(t *testing.T) {
	f := newFixture(t, "name: a\ndependencies:\n  helper: {path: ../helper}\n")
	assert.NilError(t, util.WriteFile(f.fs, "/helper/lode.yaml",
		[]byte("name: helper\nversion: 0.1.0\n"), 0o644))

	res := f.resolve(t, nil, UpgradeOptions{})

	sel, ok := res.Selections.Get("helper")
	assert.Assert(t, ok)
	assert.Assert(t, sel.IsPath())
	assert.Equal(t, "../helper", sel.Path)
	assert.Equal(t, "/helper", res.Package("helper").Package.Root)
}

func TestResolvePathMissing(t *testing.T) {
	f := newFixture(t, "name: a\ndependencies:\n  helper: {path: ../nowhere}\n")

	_, err := f.resolver().Resolve(context.Background(), f.root, nil, UpgradeOptions{})
	assert.Assert(t, errors.Is(err, ErrUnableToFetch))
}

// fakeRepoFetcher serves repository dependencies from a canned set of
// (url, ref) entries.
type fakeRepoFetcher struct {
	store    *store.Store
	archives map[string][]byte // keyed by url + "#" + ref
}

func (f *fakeRepoFetcher) Fetch(ctx context.Context, name recipe.PackageName, ref recipe.RepositoryRef, tier store.Tier) (*store.Package, error) {
	data, ok := f.archives[ref.URL+"#"+ref.Ref]
	if !ok {
		return nil, fmt.Errorf("repository %s has no ref %s", ref.URL, ref.Ref)
	}
	return f.store.StoreArchive(data, tier, name, version.MustParse("~"+ref.Ref))
}

// Repository dependency: success on a matching (url, commit), failure
// on mismatches.
func TestResolveRepositoryDependency(t *testing.T) {
	const commit = "54339dffa4f1ee2a2f9d01ec215b6c2c4eda1e2b"

	rootDoc := fmt.Sprintf(
		"name: a\ndependencies:\n  dep1: {repository: \"git+https://example.com/x/y\", version: %q}\n", commit)
	f := newFixture(t, rootDoc)

	data, err := archive.Zip(map[string][]byte{"dep1/lode.yaml": []byte("name: dep1\n")})
	assert.NilError(t, err)
	repos := &fakeRepoFetcher{
		store:    f.store,
		archives: map[string][]byte{"https://example.com/x/y#" + commit: data},
	}

	withRepos := func(o *Options) { o.Repositories = repos }
	res := f.resolve(t, nil, UpgradeOptions{}, withRepos)

	sel, ok := res.Selections.Get("dep1")
	assert.Assert(t, ok)
	assert.Assert(t, sel.IsRepository())
	assert.Equal(t, commit, sel.Repository.Ref)
	assert.Assert(t, res.Package("dep1").Package.Repository != nil)

	// Commit mismatch.
	f2 := newFixture(t, fmt.Sprintf(
		"name: a\ndependencies:\n  dep1: {repository: \"git+https://example.com/x/y\", version: %q}\n",
		"0000000000000000000000000000000000000000"))
	repos.store = f2.store
	_, err = f2.resolver(func(o *Options) { o.Repositories = repos }).
		Resolve(context.Background(), f2.root, nil, UpgradeOptions{})
	assert.Assert(t, errors.Is(err, ErrUnableToFetch))

	// URL mismatch.
	f3 := newFixture(t, fmt.Sprintf(
		"name: a\ndependencies:\n  dep1: {repository: \"git+https://example.com/other/repo\", version: %q}\n", commit))
	repos.store = f3.store
	_, err = f3.resolver(func(o *Options) { o.Repositories = repos }).
		Resolve(context.Background(), f3.root, nil, UpgradeOptions{})
	assert.Assert(t, errors.Is(err, ErrUnableToFetch))
}

// Optional dependencies are skipped unless default, and failures on
// optional dependencies do not abort the resolve.
func TestResolveOptional(t *testing.T) {
	f := newFixture(t, `name: a
dependencies:
  extras: {version: "*", optional: true}
  feature: {version: "*", optional: true, default: true}
`)
	f.addPackage(t, "extras", "1.0.0", "name: extras\nversion: 1.0.0\n")
	f.addPackage(t, "feature", "1.0.0", "name: feature\nversion: 1.0.0\n")

	res := f.resolve(t, nil, UpgradeOptions{})
	_, ok := res.Selections.Get("extras")
	assert.Assert(t, !ok)
	_, ok = res.Selections.Get("feature")
	assert.Assert(t, ok)

	// A previously selected optional dependency stays selected.
	prev := selections.New()
	prev.Set("extras", selections.Select(version.MustParse("1.0.0")))
	res = f.resolve(t, prev, UpgradeOptions{})
	_, ok = res.Selections.Get("extras")
	assert.Assert(t, ok)
}

func TestResolveOptionalFetchFailure(t *testing.T) {
	f := newFixture(t, "name: a\ndependencies:\n  ghost: {version: \"*\", optional: true, default: true}\n")

	res := f.resolve(t, nil, UpgradeOptions{})
	_, ok := res.Selections.Get("ghost")
	assert.Assert(t, !ok)
	assert.Assert(t, res.OptionalFailures != nil)
}

// Sub-package dependencies load the sub-recipe and its dependencies.
func TestResolveSubPackage(t *testing.T) {
	f := newFixture(t, "name: a\ndependencies:\n  b:util: \"*\"\n")

	data, err := archive.Zip(map[string][]byte{
		"b/lode.yaml":      []byte("name: b\nversion: 1.0.0\nsubPackages:\n  - ./util\n"),
		"b/util/lode.yaml": []byte("name: util\ndependencies:\n  c: \"*\"\n"),
	})
	assert.NilError(t, err)
	_, err = f.store.StoreArchive(data, store.TierUser, "b", version.MustParse("1.0.0"))
	assert.NilError(t, err)
	f.addPackage(t, "c", "1.0.0", "name: c\nversion: 1.0.0\n")

	res := f.resolve(t, nil, UpgradeOptions{})

	assert.Equal(t, "1.0.0", selectionString(t, res, "b"))
	assert.Equal(t, "1.0.0", selectionString(t, res, "c"))
	assert.Assert(t, res.Package("b:util") != nil)
	assert.Equal(t, recipe.PackageName("util"), res.Package("b:util").Recipe.Name)
}

// Prerelease candidates only win when asked for.
func TestResolvePrerelease(t *testing.T) {
	f := newFixture(t, "name: a\ndependencies:\n  b: \"*\"\n")
	f.addPackage(t, "b", "1.0.0", "name: b\nversion: 1.0.0\n")
	f.addPackage(t, "b", "1.1.0-rc.1", "name: b\nversion: 1.1.0-rc.1\n")

	res := f.resolve(t, nil, UpgradeOptions{})
	assert.Equal(t, "1.0.0", selectionString(t, res, "b"))

	res = f.resolve(t, nil, UpgradeOptions{Prerelease: true})
	assert.Equal(t, "1.1.0-rc.1", selectionString(t, res, "b"))
}

// A recorded path override wins over a version constraint.
func TestResolvePathOverride(t *testing.T) {
	f := newFixture(t, "name: a\ndependencies:\n  b: \"^1.0.0\"\n")
	f.addPackage(t, "b", "1.0.0", "name: b\nversion: 1.0.0\n")
	assert.NilError(t, util.WriteFile(f.fs, "/work/b/lode.yaml",
		[]byte("name: b\nversion: 1.0.0\n"), 0o644))

	prev := selections.New()
	prev.Set("b", selections.SelectPath("../work/b"))

	res := f.resolve(t, prev, UpgradeOptions{})
	sel, _ := res.Selections.Get("b")
	assert.Assert(t, sel.IsPath())
	assert.Equal(t, "/work/b", res.Package("b").Package.Root)
}

// A selected version that has vanished fails, unless
// ForceRemoveMissing re-resolves it.
func TestResolveForceRemoveMissing(t *testing.T) {
	f := newFixture(t, "name: a\ndependencies:\n  b: \"*\"\n")
	f.addPackage(t, "b", "1.0.0", "name: b\nversion: 1.0.0\n")

	prev := selections.New()
	prev.Set("b", selections.Select(version.MustParse("0.9.0")))

	_, err := f.resolver().Resolve(context.Background(), f.root, prev, UpgradeOptions{})
	assert.Assert(t, errors.Is(err, ErrMissingDependency))

	res := f.resolve(t, prev, UpgradeOptions{ForceRemoveMissing: true})
	assert.Equal(t, "1.0.0", selectionString(t, res, "b"))
}
