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

// Package recipe implements the in-memory model of a package recipe:
// name, version, dependencies, configurations, build settings and
// sub-packages. Recipes load from a format-neutral document; both the
// YAML and the JSON spellings are accepted.
package recipe

import (
	"fmt"
	"io"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go.lode.sh/lode/pkg/version"
)

// FileNames are the recipe file names probed in a package root, in
// order of precedence.
var FileNames = []string{"lode.yaml", "lode.json"}

// ErrInvalidRecipe is returned when a recipe document is present but
// malformed. Use [errors.Is] to check for it.
var ErrInvalidRecipe = fmt.Errorf("invalid recipe")

// ErrNoRecipe is returned when a package root carries no recipe file.
var ErrNoRecipe = fmt.Errorf("no recipe found")

// Recipe is the declarative description of a package. Recipes are
// materialized on load and treated as immutable afterwards.
type Recipe struct {
	// Name is the package name. Required.
	Name PackageName `yaml:"name"`

	// Version is the package's own version, when declared. Packages
	// under SCM control usually leave it to be inferred from tags.
	Version version.Version `yaml:"version,omitempty"`

	// Description is shown in search results.
	Description string `yaml:"description,omitempty"`

	// Dependencies lists the packages required by every
	// configuration, in declaration order.
	Dependencies Dependencies `yaml:"dependencies,omitempty"`

	// Configurations are the named build variants of this package.
	Configurations []ConfigurationInfo `yaml:"configurations,omitempty"`

	// BuildSettings are the package's unconditional build settings.
	BuildSettings BuildSettings `yaml:"buildSettings,omitempty"`

	// SubPackages declares packages owned by this one, addressable as
	// "main:sub". Entries are inline recipes or paths relative to the
	// package root.
	SubPackages []SubPackage `yaml:"subPackages,omitempty"`
}

// ConfigurationInfo is a named variant of a package's build settings,
// possibly introducing additional dependencies.
type ConfigurationInfo struct {
	// Name identifies the configuration, e.g. "library".
	Name string `yaml:"name"`

	// Platforms restricts the configuration to matching platforms.
	// Empty means every platform.
	Platforms []string `yaml:"platforms,omitempty"`

	// Dependencies are added to the root dependency list when this
	// configuration is selected.
	Dependencies Dependencies `yaml:"dependencies,omitempty"`

	// BuildSettings are merged on top of the package's own.
	BuildSettings BuildSettings `yaml:"buildSettings,omitempty"`
}

// SubPackage is either an inline recipe or a path to a directory
// (relative to the containing package root) holding its own recipe.
type SubPackage struct {
	Path   string
	Recipe *Recipe
}

// UnmarshalYAML decodes a sub-package entry: a scalar is a path, a
// mapping is an inline recipe.
func (s *SubPackage) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Path = path.Clean(node.Value)
		return nil
	}

	var r Recipe
	if err := node.Decode(&r); err != nil {
		return err
	}
	s.Recipe = &r
	return nil
}

// Parse decodes a recipe document. The document may be YAML or JSON;
// dependency declaration order is preserved.
func Parse(data []byte) (*Recipe, error) {
	var r Recipe
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecipe, err)
	}
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecipe, err)
	}
	return &r, nil
}

// validate checks the invariants the rest of the system relies on.
func (r *Recipe) validate() error {
	name, err := ParseName(string(r.Name))
	if err != nil {
		return err
	}
	if name.IsSubPackage() {
		return fmt.Errorf("recipe name %q must not address a sub-package", name)
	}
	r.Name = name

	seen := map[string]bool{}
	for i := range r.SubPackages {
		sp := &r.SubPackages[i]
		if sp.Recipe == nil {
			continue
		}
		if seen[string(sp.Recipe.Name)] {
			return fmt.Errorf("duplicate sub-package %q", sp.Recipe.Name)
		}
		seen[string(sp.Recipe.Name)] = true
	}

	names := map[string]bool{}
	for _, c := range r.Configurations {
		if c.Name == "" {
			return fmt.Errorf("configuration with empty name")
		}
		if names[c.Name] {
			return fmt.Errorf("duplicate configuration %q", c.Name)
		}
		names[c.Name] = true
	}
	return nil
}

// Load reads the recipe of the package rooted at dir on fs, probing
// the known recipe file names.
func Load(fs billy.Filesystem, dir string) (*Recipe, error) {
	for _, name := range FileNames {
		f, err := fs.Open(path.Join(dir, name))
		if err != nil {
			continue
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", name)
		}

		r, err := Parse(data)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s", path.Join(dir, name))
		}
		return r, nil
	}

	return nil, fmt.Errorf("%w in %s (looked for %v)", ErrNoRecipe, dir, FileNames)
}

// Configuration returns the named configuration, or nil. The empty
// name selects the first configuration matching the platform, if any.
func (r *Recipe) Configuration(name string, p Platform) *ConfigurationInfo {
	for i := range r.Configurations {
		c := &r.Configurations[i]
		if name == "" {
			if p.MatchesAny(c.Platforms) {
				return c
			}
			continue
		}
		if c.Name == name {
			return c
		}
	}
	return nil
}

// GetDependencies returns the union of the root dependencies and those
// introduced by the selected configuration, filtered by platform, in
// declaration order. A dependency re-declared by the configuration
// overrides the root declaration.
func (r *Recipe) GetDependencies(configuration string, p Platform) Dependencies {
	deps := make(Dependencies, 0, len(r.Dependencies))
	deps = append(deps, r.Dependencies...)

	if c := r.Configuration(configuration, p); c != nil && p.MatchesAny(c.Platforms) {
		for _, d := range c.Dependencies {
			if have := deps.Get(d.Name); have != nil {
				*have = d
				continue
			}
			deps = append(deps, d)
		}
	}
	return deps
}

// MergedBuildSettings flattens the package's build settings for one
// configuration and platform: the unconditional settings first, then
// the configuration's, both platform-filtered.
func (r *Recipe) MergedBuildSettings(configuration string, p Platform) BuildSettings {
	out := r.BuildSettings.ForPlatform(p)
	if c := r.Configuration(configuration, p); c != nil && p.MatchesAny(c.Platforms) {
		out.Merge(c.BuildSettings.ForPlatform(p))
	}
	return out
}

// SubPackage returns the sub-recipe for the given sub-path. Inline
// recipes win over path-based entries; path entries are loaded from
// the package root on fs. Returns ErrNoRecipe when the sub-package
// does not exist.
func (r *Recipe) SubPackage(fs billy.Filesystem, root, sub string) (*Recipe, error) {
	// Inline wins on name collision; ambiguity between two inline
	// recipes is rejected at validate time.
	for _, sp := range r.SubPackages {
		if sp.Recipe != nil && string(sp.Recipe.Name) == sub {
			return r.adoptSubRecipe(*sp.Recipe), nil
		}
	}

	for _, sp := range r.SubPackages {
		if sp.Recipe != nil || path.Base(sp.Path) != sub {
			continue
		}
		sr, err := Load(fs, path.Join(root, sp.Path))
		if err != nil {
			return nil, err
		}
		if string(sr.Name) != sub {
			return nil, fmt.Errorf("%w: sub-package at %q declares name %q, want %q",
				ErrInvalidRecipe, sp.Path, sr.Name, sub)
		}
		return r.adoptSubRecipe(*sr), nil
	}

	return nil, fmt.Errorf("%w: no sub-package %q in %q", ErrNoRecipe, sub, r.Name)
}

// adoptSubRecipe returns a copy of a sub-recipe with the version
// inherited from the containing package when the sub-recipe does not
// declare one. Sub-packages always version with their main package.
func (r *Recipe) adoptSubRecipe(sr Recipe) *Recipe {
	if sr.Version.IsZero() {
		sr.Version = r.Version
	}
	return &sr
}
