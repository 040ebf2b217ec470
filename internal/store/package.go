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

package store

import (
	"fmt"
	"strings"

	"go.lode.sh/lode/pkg/recipe"
	"go.lode.sh/lode/pkg/version"
)

// Package is a stored, unpacked package: its recipe, its on-disk
// root, and where it was found.
type Package struct {
	// Recipe is the package's materialized recipe.
	Recipe *recipe.Recipe

	// Name is the main package name. Sub-packages are never stored
	// independently; they are addressed through their main package.
	Name recipe.PackageName

	// Version is the stored version. For packages found through a
	// search path it is the version the recipe declares.
	Version version.Version

	// Root is the package root directory on the store's filesystem.
	Root string

	// Tier is the tier the package was found in.
	Tier Tier

	// SearchPath is the registered search path the package was found
	// under, when it was not found in the tier's canonical layout.
	SearchPath string

	// Repository records the SCM origin for packages materialized
	// from a repository dependency.
	Repository *recipe.RepositoryRef
}

// String renders "name@version" for diagnostics.
func (p *Package) String() string {
	return fmt.Sprintf("%s@%s", p.Name, p.Version)
}

// SubRecipe resolves the recipe of a sub-package addressed inside
// this package, walking one colon segment at a time.
func (p *Package) SubRecipe(s *Store, name recipe.PackageName) (*recipe.Recipe, error) {
	if name.Main() != p.Name {
		return nil, fmt.Errorf("package %s cannot provide %s", p.Name, name)
	}

	r := p.Recipe
	root := p.Root
	rest := name.SubPath()
	for rest != "" {
		seg := rest
		if i := strings.IndexByte(rest, ':'); i >= 0 {
			seg, rest = rest[:i], rest[i+1:]
		} else {
			rest = ""
		}

		sub, err := r.SubPackage(s.fs, root, seg)
		if err != nil {
			return nil, err
		}
		r = sub
	}
	return r, nil
}
