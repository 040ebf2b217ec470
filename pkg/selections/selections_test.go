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

package selections

import (
	"errors"
	"io"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"gotest.tools/v3/assert"

	"go.lode.sh/lode/pkg/recipe"
	"go.lode.sh/lode/pkg/version"
)

func TestRoundTrip(t *testing.T) {
	fs := memfs.New()

	s := New()
	s.Set("b", Select(version.MustParse("1.0.0")))
	s.Set("tracking", Select(version.MustParse("~master")))
	s.Set("local", SelectPath("../local"))
	s.Set("pinned", SelectRepository(recipe.RepositoryRef{
		Kind: "git",
		URL:  "https://example.com/x/y",
		Ref:  "54339dffa4f1ee2a2f9d01ec215b6c2c4eda1e2b",
	}))

	assert.NilError(t, s.Save(fs, "."))

	loaded, err := Load(fs, ".")
	assert.NilError(t, err)
	assert.Assert(t, loaded.Equal(s))
	assert.Assert(t, s.Equal(loaded))

	sel, ok := loaded.Get("pinned")
	assert.Assert(t, ok)
	assert.Assert(t, sel.IsRepository())
	assert.Equal(t, "https://example.com/x/y", sel.Repository.URL)

	sel, ok = loaded.Get("tracking")
	assert.Assert(t, ok)
	assert.Assert(t, sel.Version.IsBranch())
}

func TestSaveIsDeterministic(t *testing.T) {
	fs := memfs.New()

	s := New()
	s.Set("zeta", Select(version.MustParse("2.0.0")))
	s.Set("alpha", Select(version.MustParse("1.0.0")))

	assert.NilError(t, s.Save(fs, "."))
	first := readFile(t, fs, FileName)

	assert.NilError(t, s.Save(fs, "."))
	second := readFile(t, fs, FileName)

	assert.Equal(t, string(first), string(second))
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(memfs.New(), ".")
	assert.Assert(t, errors.Is(err, ErrNoSelections))
}

func TestLoadUnsupportedVersion(t *testing.T) {
	fs := memfs.New()
	doc := "formatVersion: 99\nversions:\n  b: 1.0.0\n"
	assert.NilError(t, util.WriteFile(fs, FileName, []byte(doc), 0o644))

	_, err := Load(fs, ".")
	assert.Assert(t, errors.Is(err, ErrUnsupportedVersion))
}

func TestLoadJSONDialect(t *testing.T) {
	fs := memfs.New()
	doc := `{"formatVersion": 1, "versions": {"b": "1.0.0", "local": {"path": "../x"}}}`
	assert.NilError(t, util.WriteFile(fs, FileName, []byte(doc), 0o644))

	s, err := Load(fs, ".")
	assert.NilError(t, err)

	sel, ok := s.Get("b")
	assert.Assert(t, ok)
	assert.Equal(t, "1.0.0", sel.Version.String())

	sel, ok = s.Get("local")
	assert.Assert(t, ok)
	assert.Equal(t, "../x", sel.Path)
}

func TestSetGetRemove(t *testing.T) {
	s := New()
	assert.Assert(t, !s.HasSelections())

	s.Set("b", Select(version.MustParse("1.0.0")))
	assert.Assert(t, s.HasSelections())

	// Sub-package names resolve to their main package entry.
	sel, ok := s.Get("b:util")
	assert.Assert(t, ok)
	assert.Equal(t, "1.0.0", sel.Version.String())

	s.Remove("b")
	assert.Assert(t, !s.HasSelections())
}

func readFile(t *testing.T, fs billy.Filesystem, name string) []byte {
	t.Helper()
	f, err := fs.Open(name)
	assert.NilError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	assert.NilError(t, err)
	return data
}
