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

package recipe

import (
	"fmt"
	"path"
	"strings"

	giturls "github.com/whilp/git-urls"
	"gopkg.in/yaml.v3"

	"go.lode.sh/lode/pkg/version"
)

// RepositoryRef identifies a package living in a source repository at
// a fixed commit or ref.
type RepositoryRef struct {
	// Kind is the SCM kind, currently always "git".
	Kind string

	// URL is the repository location. A "git+" scheme prefix from the
	// recipe is stripped during parsing.
	URL string

	// Ref is the commit hash or ref to check out.
	Ref string
}

// String renders the reference the way recipes spell it.
func (r RepositoryRef) String() string {
	return r.Kind + "+" + r.URL + "#" + r.Ref
}

// Equal reports whether two references address the same snapshot.
func (r RepositoryRef) Equal(o RepositoryRef) bool {
	return r.Kind == o.Kind && r.URL == o.URL && r.Ref == o.Ref
}

// parseRepositoryURL validates and canonicalizes a repository URL,
// stripping a "kind+" prefix if present.
func parseRepositoryURL(s string) (kind, url string, err error) {
	kind = "git"
	// A kind prefix sits before the scheme, "git+https://...".
	if i := strings.Index(s, "+"); i >= 0 && i < strings.IndexByte(s, ':') {
		kind, s = s[:i], s[i+1:]
	}
	if kind != "git" {
		return "", "", fmt.Errorf("unsupported repository kind %q", kind)
	}
	if _, err := giturls.Parse(s); err != nil {
		return "", "", fmt.Errorf("invalid repository url %q: %w", s, err)
	}
	return kind, s, nil
}

// DependencySource says where a dependency comes from: a version
// range, a path relative to the depending package, or a repository at
// a fixed ref. Exactly one is set; the zero value is invalid and is
// rejected at parse time.
type DependencySource struct {
	rng  version.Range
	path string
	repo *RepositoryRef
}

// VersionSource builds a range-constrained source.
func VersionSource(r version.Range) DependencySource {
	return DependencySource{rng: r}
}

// PathSource builds a path source. The path is slash-normalized and
// kept relative to the depending package's root.
func PathSource(p string) DependencySource {
	return DependencySource{path: path.Clean(strings.ReplaceAll(p, "\\", "/"))}
}

// RepositorySource builds a repository source.
func RepositorySource(ref RepositoryRef) DependencySource {
	return DependencySource{repo: &ref}
}

// IsVersion reports whether the source is a version range.
func (s DependencySource) IsVersion() bool { return !s.rng.IsZero() }

// IsPath reports whether the source is a relative path.
func (s DependencySource) IsPath() bool { return s.path != "" }

// IsRepository reports whether the source is a repository ref.
func (s DependencySource) IsRepository() bool { return s.repo != nil }

// Range returns the version range for version sources.
func (s DependencySource) Range() version.Range { return s.rng }

// Path returns the normalized relative path for path sources.
func (s DependencySource) Path() string { return s.path }

// Repository returns the repository reference for repository sources.
func (s DependencySource) Repository() RepositoryRef {
	if s.repo == nil {
		return RepositoryRef{}
	}
	return *s.repo
}

// String renders the source for diagnostics.
func (s DependencySource) String() string {
	switch {
	case s.IsPath():
		return "path " + s.path
	case s.IsRepository():
		return "repository " + s.repo.String()
	case s.IsVersion():
		return s.rng.String()
	}
	return "(unset)"
}

// Dependency is one entry of a recipe's dependency list.
type Dependency struct {
	// Name is the depended-upon package, possibly a sub-package.
	Name PackageName

	// Source says where the dependency comes from.
	Source DependencySource

	// Optional dependencies are only built when present; a fetch
	// failure is reported but does not abort a resolve.
	Optional bool

	// Default marks an optional dependency that is still selected by
	// default.
	Default bool
}

// String renders the dependency for diagnostics.
func (d Dependency) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.Source)
}

// Dependencies is an ordered dependency list. It decodes from a
// mapping of name to source, preserving declaration order.
type Dependencies []Dependency

// Get returns the dependency with the given name, or nil.
func (ds Dependencies) Get(name PackageName) *Dependency {
	for i := range ds {
		if ds[i].Name == name {
			return &ds[i]
		}
	}
	return nil
}

// UnmarshalYAML decodes the dependency mapping in declaration order.
func (ds *Dependencies) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("dependencies must be a mapping")
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		name, err := ParseName(node.Content[i].Value)
		if err != nil {
			return err
		}

		dep, err := decodeDependency(name, node.Content[i+1])
		if err != nil {
			return fmt.Errorf("dependency %q: %w", name, err)
		}
		*ds = append(*ds, dep)
	}
	return nil
}

// dependencyDoc is the object form of a dependency value.
type dependencyDoc struct {
	Version    string `yaml:"version"`
	Path       string `yaml:"path"`
	Repository string `yaml:"repository"`
	Optional   *bool  `yaml:"optional"`
	Default    *bool  `yaml:"default"`
}

// decodeDependency decodes a dependency value, which is either a bare
// range string or an object carrying exactly one of version, path or
// repository.
func decodeDependency(name PackageName, node *yaml.Node) (Dependency, error) {
	dep := Dependency{Name: name}

	if node.Kind == yaml.ScalarNode {
		rng, err := version.ParseRange(node.Value)
		if err != nil {
			return Dependency{}, err
		}
		dep.Source = VersionSource(rng)
		return dep, nil
	}

	var doc dependencyDoc
	if err := node.Decode(&doc); err != nil {
		return Dependency{}, err
	}
	if doc.Optional != nil {
		dep.Optional = *doc.Optional
	}
	if doc.Default != nil {
		dep.Default = *doc.Default
	}

	switch {
	case doc.Path != "":
		if doc.Repository != "" {
			return Dependency{}, fmt.Errorf("path and repository are mutually exclusive")
		}
		dep.Source = PathSource(doc.Path)
	case doc.Repository != "":
		kind, url, err := parseRepositoryURL(doc.Repository)
		if err != nil {
			return Dependency{}, err
		}
		if doc.Version == "" {
			return Dependency{}, fmt.Errorf("repository dependency requires a version (commit or ref)")
		}
		dep.Source = RepositorySource(RepositoryRef{Kind: kind, URL: url, Ref: doc.Version})
	case doc.Version != "":
		rng, err := version.ParseRange(doc.Version)
		if err != nil {
			return Dependency{}, err
		}
		dep.Source = VersionSource(rng)
	default:
		return Dependency{}, fmt.Errorf("no version, path or repository given")
	}

	return dep, nil
}
