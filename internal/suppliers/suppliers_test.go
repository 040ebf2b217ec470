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
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"gotest.tools/v3/assert"

	"go.lode.sh/lode/internal/archive"
	"go.lode.sh/lode/pkg/recipe"
	"go.lode.sh/lode/pkg/slogext"
	"go.lode.sh/lode/pkg/version"
)

func fixtureArchive(t *testing.T, name, ver string) []byte {
	t.Helper()
	data, err := archive.Zip(map[string][]byte{
		name + "/lode.yaml": []byte(fmt.Sprintf("name: %s\nversion: %s\n", name, ver)),
	})
	assert.NilError(t, err)
	return data
}

func TestFilesystemSupplier(t *testing.T) {
	ctx := context.Background()
	fs := memfs.New()

	for _, ver := range []string{"1.0.0", "1.1.0", "2.0.0-rc.1"} {
		assert.NilError(t, util.WriteFile(fs,
			"repo/b-"+ver+".zip", fixtureArchive(t, "b", ver), 0o644))
	}

	s := NewFilesystemSupplier(fs, "repo")

	vs, err := s.GetVersions(ctx, "b")
	assert.NilError(t, err)
	got := []string{}
	for _, v := range vs {
		got = append(got, v.String())
	}
	assert.DeepEqual(t, []string{"1.0.0", "1.1.0", "2.0.0-rc.1"}, got)

	_, err = s.GetVersions(ctx, "nope")
	assert.Assert(t, errors.Is(err, ErrPackageNotFound))

	// Best match prefers the release over the higher pre-release.
	data, err := s.FetchPackageArchive(ctx, "b", version.AnyRange, false)
	assert.NilError(t, err)
	r, err := recipeFromArchive(data)
	assert.NilError(t, err)
	assert.Equal(t, "1.1.0", r.Version.String())

	rec, err := s.FetchPackageRecipe(ctx, "b", version.AnyRange, true)
	assert.NilError(t, err)
	assert.Equal(t, "2.0.0-rc.1", rec.Version.String())

	results, err := s.SearchPackages(ctx, "b")
	assert.NilError(t, err)
	assert.Equal(t, 1, len(results))
	assert.Equal(t, recipe.PackageName("b"), results[0].Name)
	assert.Equal(t, "1.1.0", results[0].Version.String())
}

type scriptedSupplier struct {
	desc  string
	calls int
	err   error
}

func (s *scriptedSupplier) Description() string { return s.desc }

func (s *scriptedSupplier) GetVersions(context.Context, recipe.PackageName) ([]version.Version, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []version.Version{version.MustParse("1.0.0")}, nil
}

func (s *scriptedSupplier) FetchPackageArchive(context.Context, recipe.PackageName, version.Range, bool) ([]byte, error) {
	s.calls++
	return nil, s.err
}

func (s *scriptedSupplier) FetchPackageRecipe(context.Context, recipe.PackageName, version.Range, bool) (*recipe.Recipe, error) {
	s.calls++
	return nil, s.err
}

func (s *scriptedSupplier) SearchPackages(context.Context, string) ([]SearchResult, error) {
	s.calls++
	return nil, s.err
}

func TestFallbackSupplier(t *testing.T) {
	ctx := context.Background()

	primary := &scriptedSupplier{desc: "primary", err: fmt.Errorf("%w: boom", ErrTransient)}
	secondary := &scriptedSupplier{desc: "secondary"}

	f := NewFallbackSupplier(slogext.NewDiscard(), primary, secondary)

	now := time.Now()
	f.now = func() time.Time { return now }

	// Primary fails, secondary answers.
	vs, err := f.GetVersions(ctx, "b")
	assert.NilError(t, err)
	assert.Equal(t, 1, len(vs))
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)

	// Secondary now fails too: the primary's error is the one
	// reported.
	secondary.err = fmt.Errorf("%w: also boom", ErrAuth)
	_, err = f.GetVersions(ctx, "b")
	assert.Assert(t, errors.Is(err, ErrTransient))

	// Within the cooldown the secondary is skipped; the primary is
	// always tried.
	secondaryCalls := secondary.calls
	_, err = f.GetVersions(ctx, "b")
	assert.Assert(t, err != nil)
	assert.Equal(t, secondaryCalls, secondary.calls)

	// After the cooldown the secondary is eligible again.
	now = now.Add(FallbackCooldown + time.Minute)
	secondary.err = nil
	_, err = f.GetVersions(ctx, "b")
	assert.NilError(t, err)
	assert.Equal(t, secondaryCalls+1, secondary.calls)
}

func TestRegistrySupplier(t *testing.T) {
	ctx := context.Background()

	infoCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/packages/b/info", func(w http.ResponseWriter, r *http.Request) {
		infoCalls++
		w.Header().Set("X-Ratelimit-Limit", "100")
		w.Header().Set("X-Ratelimit-Remaining", "42")
		fmt.Fprint(w, `{"name": "b", "versions": [
			{"version": "1.0.0", "recipe": {"name": "b", "version": "1.0.0"}},
			{"version": "1.1.0", "recipe": {"name": "b", "version": "1.1.0"}}
		]}`)
	})
	mux.HandleFunc("/packages/b/1.1.0.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(fixtureArchive(t, "b", "1.1.0"))
	})
	mux.HandleFunc("/api/packages/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "btree", r.URL.Query().Get("q"))
		fmt.Fprint(w, `[{"name": "btree", "description": "a btree", "version": "0.3.0"}]`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s, err := NewRegistrySupplier(slogext.NewDiscard(), srv.URL, RegistryOptions{Client: srv.Client()})
	assert.NilError(t, err)

	vs, err := s.GetVersions(ctx, "b")
	assert.NilError(t, err)
	assert.Equal(t, 2, len(vs))

	// Metadata is cached: a second lookup does not hit the server.
	_, err = s.GetVersions(ctx, "b")
	assert.NilError(t, err)
	assert.Equal(t, 1, infoCalls)

	// An expired entry is fetched again.
	s.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	_, err = s.GetVersions(ctx, "b")
	assert.NilError(t, err)
	assert.Equal(t, 2, infoCalls)

	data, err := s.FetchPackageArchive(ctx, "b", version.MustParseRange("^1.0.0"), false)
	assert.NilError(t, err)
	assert.Assert(t, len(data) > 0)

	rec, err := s.FetchPackageRecipe(ctx, "b", version.AnyRange, false)
	assert.NilError(t, err)
	assert.Equal(t, "1.1.0", rec.Version.String())

	rl := s.LastRateLimit()
	assert.Assert(t, rl != nil)
	assert.Equal(t, 100, rl.Limit)
	assert.Equal(t, 42, rl.Remaining)

	results, err := s.SearchPackages(ctx, "btree")
	assert.NilError(t, err)
	assert.Equal(t, 1, len(results))
	assert.Equal(t, "a btree", results[0].Description)

	// A name the registry does not know is NotFound, not transient.
	_, err = s.GetVersions(ctx, "missing")
	assert.Assert(t, errors.Is(err, ErrPackageNotFound))
}

func TestRegistrySupplierTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := NewRegistrySupplier(slogext.NewDiscard(), srv.URL, RegistryOptions{Client: srv.Client()})
	assert.NilError(t, err)

	_, err = s.GetVersions(context.Background(), "b")
	assert.Assert(t, errors.Is(err, ErrTransient))
}

func TestMavenSupplier(t *testing.T) {
	ctx := context.Background()

	mux := http.NewServeMux()
	mux.HandleFunc("/repo/b/maven-metadata.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<metadata>
  <versioning>
    <latest>1.1.0</latest>
    <release>1.1.0</release>
    <versions>
      <version>1.0.0</version>
      <version>1.1.0</version>
    </versions>
  </versioning>
</metadata>`)
	})
	mux.HandleFunc("/repo/b/1.1.0/b-1.1.0.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(fixtureArchive(t, "b", "1.1.0"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewMavenSupplier(slogext.NewDiscard(), srv.URL+"/repo", srv.Client())

	vs, err := s.GetVersions(ctx, "b")
	assert.NilError(t, err)
	assert.Equal(t, 2, len(vs))
	assert.Equal(t, "1.1.0", vs[len(vs)-1].String())

	rec, err := s.FetchPackageRecipe(ctx, "b", version.AnyRange, false)
	assert.NilError(t, err)
	assert.Equal(t, recipe.PackageName("b"), rec.Name)

	_, err = s.GetVersions(ctx, "missing")
	assert.Assert(t, errors.Is(err, ErrPackageNotFound))

	_, err = s.SearchPackages(ctx, "b")
	assert.Assert(t, errors.Is(err, ErrUnsupported))
}

func TestIndexSupplier(t *testing.T) {
	ctx := context.Background()

	archiveSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/archive/bloom-key-1.0.0" {
			http.NotFound(w, r)
			return
		}
		w.Write(fixtureArchive(t, "bloom", "1.0.0"))
	}))
	defer archiveSrv.Close()

	fs := memfs.New()
	entry := `{"name": "bloom", "description": "bloom filters",
		"versions": [{"version": "1.0.0", "archive": "bloom-key-1.0.0"}]}`
	assert.NilError(t, util.WriteFile(fs, "index/bl/mo/bloom", []byte(entry), 0o644))

	s := NewIndexSupplier(slogext.NewDiscard(), IndexOptions{
		Filesystem: fs,
		Dir:        "index",
		ForgeURL:   archiveSrv.URL + "/archive/%s",
		Client:     archiveSrv.Client(),
	})

	vs, err := s.GetVersions(ctx, "bloom")
	assert.NilError(t, err)
	assert.Equal(t, 1, len(vs))

	rec, err := s.FetchPackageRecipe(ctx, "bloom", version.AnyRange, false)
	assert.NilError(t, err)
	assert.Equal(t, recipe.PackageName("bloom"), rec.Name)

	_, err = s.GetVersions(ctx, "nope")
	assert.Assert(t, errors.Is(err, ErrPackageNotFound))

	results, err := s.SearchPackages(ctx, "blo")
	assert.NilError(t, err)
	assert.Equal(t, 1, len(results))
	assert.Equal(t, "bloom filters", results[0].Description)
}

func TestShardPath(t *testing.T) {
	assert.Equal(t, "bl/mo/bloom", shardPath("bloom"))
	assert.Equal(t, "ab/ba/ab", shardPath("ab"))
	assert.Equal(t, "a/a/a", shardPath("a"))
}
