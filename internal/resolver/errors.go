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
	"fmt"
	"strings"

	"go.lode.sh/lode/pkg/recipe"
)

// Resolution failure kinds. Check with [errors.Is].
var (
	// ErrUnresolvable means the constraints on a dependency cannot be
	// satisfied together, or no candidate satisfies them.
	ErrUnresolvable = fmt.Errorf("unresolvable dependency")

	// ErrMissingDependency means a selected dependency has vanished
	// from every source.
	ErrMissingDependency = fmt.Errorf("missing dependency")

	// ErrUnableToFetch means a path or repository dependency could
	// not be materialized.
	ErrUnableToFetch = fmt.Errorf("unable to fetch dependency")
)

// constraint is one requirement recorded against a dependency name:
// who wants it, and what they want.
type constraint struct {
	// parent identifies the recipe that declared the dependency, as
	// "name@version" or "<root> (root)".
	parent string

	// source is the declared dependency source.
	source recipe.DependencySource

	// dir is the declaring package's root, for resolving relative
	// path sources.
	dir string
}

// UnresolvableError carries every constraint contributing to a failed
// resolution, suitable for human diagnosis.
type UnresolvableError struct {
	// Name is the dependency that failed to resolve.
	Name recipe.PackageName

	// Constraints are all requirements recorded against the name, in
	// the order they were discovered.
	Constraints []Constraint

	// Reason says what went wrong, e.g. "no version satisfies the
	// combined constraints".
	Reason string
}

// Constraint is the exported view of one recorded requirement.
type Constraint struct {
	// Parent is the recipe that declared the dependency.
	Parent string

	// Wants renders the declared source.
	Wants string
}

// Error renders the failure with an indented constraint tree, one
// line per requirement.
func (e *UnresolvableError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "failed to resolve dependency %q: %s", e.Name, e.Reason)

	if len(e.Constraints) > 0 {
		sb.WriteString("\n\nConstraints:\n")
		for i, c := range e.Constraints {
			sb.WriteString(strings.Repeat(" ", i*2) + "└─ ")
			sb.WriteString(fmt.Sprintf("%s wants %s\n", c.Parent, c.Wants))
		}
	}
	return sb.String()
}

// Unwrap ties the error into the ErrUnresolvable kind.
func (e *UnresolvableError) Unwrap() error {
	return ErrUnresolvable
}

// unresolvable builds an UnresolvableError from the recorded history.
func unresolvable(name recipe.PackageName, history []constraint, reason string) error {
	cs := make([]Constraint, 0, len(history))
	for _, h := range history {
		cs = append(cs, Constraint{Parent: h.parent, Wants: h.source.String()})
	}
	return &UnresolvableError{Name: name, Constraints: cs, Reason: reason}
}
