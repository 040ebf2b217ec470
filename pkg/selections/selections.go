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

// Package selections implements the persisted mapping from dependency
// name to selected version, the file that makes builds reproducible.
// The file is format-versioned; loading an unknown version is a fatal
// error rather than a silent field drop.
package selections

import (
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	intyaml "go.lode.sh/lode/internal/yaml"
	"go.lode.sh/lode/pkg/recipe"
	"go.lode.sh/lode/pkg/version"
)

// FileName is the selections file name in a project root.
const FileName = "lode.selections.yaml"

// FormatVersion is the file format written by this release.
const FormatVersion = 1

// ErrUnsupportedVersion is returned when the file carries a
// formatVersion this release does not understand.
var ErrUnsupportedVersion = fmt.Errorf("unsupported selections format version")

// ErrNoSelections is returned by Load when the file does not exist.
var ErrNoSelections = fmt.Errorf("no selections file")

// SelectedVersion is the concrete choice recorded for one dependency:
// a version, a path, or a repository at a commit. Exactly one member
// is set.
type SelectedVersion struct {
	Version    version.Version
	Path       string
	Repository *recipe.RepositoryRef
}

// Select builds a version selection.
func Select(v version.Version) SelectedVersion {
	return SelectedVersion{Version: v}
}

// SelectPath builds a path selection.
func SelectPath(p string) SelectedVersion {
	return SelectedVersion{Path: p}
}

// SelectRepository builds a repository selection.
func SelectRepository(ref recipe.RepositoryRef) SelectedVersion {
	return SelectedVersion{Repository: &ref}
}

// IsVersion reports whether the selection is a plain version.
func (s SelectedVersion) IsVersion() bool { return !s.Version.IsZero() }

// IsPath reports whether the selection is a path.
func (s SelectedVersion) IsPath() bool { return s.Path != "" }

// IsRepository reports whether the selection is a repository commit.
func (s SelectedVersion) IsRepository() bool { return s.Repository != nil }

// Equal reports whether two selections pick the same thing.
func (s SelectedVersion) Equal(o SelectedVersion) bool {
	switch {
	case s.IsRepository() != o.IsRepository():
		return false
	case s.IsRepository():
		return s.Repository.Equal(*o.Repository)
	case s.IsPath() || o.IsPath():
		return s.Path == o.Path
	}
	return s.Version.Equal(o.Version) && s.Version.String() == o.Version.String()
}

// String renders the selection the way the file spells it.
func (s SelectedVersion) String() string {
	switch {
	case s.IsPath():
		return "path " + s.Path
	case s.IsRepository():
		return s.Repository.String()
	}
	return s.Version.String()
}

// selectedVersionDoc is the object form in the file.
type selectedVersionDoc struct {
	Path       string `yaml:"path,omitempty"`
	Repository string `yaml:"repository,omitempty"`
	Version    string `yaml:"version,omitempty"`
}

// MarshalYAML serializes a bare version as a scalar and the other
// forms as small objects.
func (s SelectedVersion) MarshalYAML() (any, error) {
	switch {
	case s.IsPath():
		return selectedVersionDoc{Path: s.Path}, nil
	case s.IsRepository():
		return selectedVersionDoc{
			Repository: s.Repository.Kind + "+" + s.Repository.URL,
			Version:    s.Repository.Ref,
		}, nil
	}
	return s.Version.String(), nil
}

// UnmarshalYAML decodes either spelling.
func (s *SelectedVersion) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		v, err := version.Parse(node.Value)
		if err != nil {
			return err
		}
		*s = SelectedVersion{Version: v}
		return nil
	}

	var doc selectedVersionDoc
	if err := node.Decode(&doc); err != nil {
		return err
	}

	switch {
	case doc.Path != "":
		*s = SelectedVersion{Path: doc.Path}
	case doc.Repository != "":
		if doc.Version == "" {
			return fmt.Errorf("repository selection without a commit")
		}
		*s = SelectedVersion{Repository: &recipe.RepositoryRef{
			Kind: "git",
			URL:  trimKind(doc.Repository),
			Ref:  doc.Version,
		}}
	default:
		return fmt.Errorf("selection must carry a version, path or repository")
	}
	return nil
}

// trimKind strips the "git+" prefix from a repository URL.
func trimKind(s string) string {
	if len(s) > 4 && s[:4] == "git+" {
		return s[4:]
	}
	return s
}

// Selections is the persisted set of selected versions for a project.
type Selections struct {
	// FormatVersion tags the file format.
	FormatVersion int `yaml:"formatVersion"`

	// Versions maps dependency main-package names to their selection.
	Versions map[recipe.PackageName]SelectedVersion `yaml:"versions"`
}

// New returns an empty selection set at the current format version.
func New() *Selections {
	return &Selections{
		FormatVersion: FormatVersion,
		Versions:      map[recipe.PackageName]SelectedVersion{},
	}
}

// Load reads the selections file at dir/FileName on fs. Returns
// ErrNoSelections when the file does not exist and
// ErrUnsupportedVersion on unknown format versions.
func Load(fs billy.Filesystem, dir string) (*Selections, error) {
	file := path.Join(dir, FileName)
	f, err := fs.Open(file)
	if err != nil {
		return nil, fmt.Errorf("%w at %s", ErrNoSelections, file)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", file)
	}

	var s Selections
	if err := intyaml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", file)
	}
	if s.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: %d (supported: %d)",
			ErrUnsupportedVersion, s.FormatVersion, FormatVersion)
	}
	if s.Versions == nil {
		s.Versions = map[recipe.PackageName]SelectedVersion{}
	}
	return &s, nil
}

// Save writes the selections file atomically: the document is written
// to a sibling temp file and renamed into place. Entries are emitted
// in sorted name order so identical selections serialize identically.
func (s *Selections) Save(fs billy.Filesystem, dir string) error {
	data, err := s.marshal()
	if err != nil {
		return err
	}

	file := path.Join(dir, FileName)
	tmp := file + ".tmp"
	if err := util.WriteFile(fs, tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", tmp)
	}
	if err := fs.Rename(tmp, file); err != nil {
		return errors.Wrapf(err, "failed to rename %s", tmp)
	}
	return nil
}

// marshal renders the document. yaml.v3 emits map keys sorted, which
// is what keeps consecutive saves byte-identical.
func (s *Selections) marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

// Get returns the selection for name, if any.
func (s *Selections) Get(name recipe.PackageName) (SelectedVersion, bool) {
	sel, ok := s.Versions[name.Main()]
	return sel, ok
}

// Set records the selection for name.
func (s *Selections) Set(name recipe.PackageName, sel SelectedVersion) {
	s.Versions[name.Main()] = sel
}

// Remove drops the selection for name.
func (s *Selections) Remove(name recipe.PackageName) {
	delete(s.Versions, name.Main())
}

// HasSelections reports whether any selection is recorded.
func (s *Selections) HasSelections() bool {
	return len(s.Versions) > 0
}

// Names returns the selected names in sorted order.
func (s *Selections) Names() []recipe.PackageName {
	names := make([]recipe.PackageName, 0, len(s.Versions))
	for n := range s.Versions {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Equal reports whether two selection sets are identical.
func (s *Selections) Equal(o *Selections) bool {
	if s.FormatVersion != o.FormatVersion || len(s.Versions) != len(o.Versions) {
		return false
	}
	for n, sel := range s.Versions {
		osel, ok := o.Versions[n]
		if !ok || !sel.Equal(osel) {
			return false
		}
	}
	return true
}
