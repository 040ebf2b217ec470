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

// Package version implements semantic versions and version ranges for
// packages. Note that only semantic versioning is supported for
// releases; a branch form written "~name" tracks a moving reference
// and is matched by equality only.
package version

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// ErrInvalidVersion is returned when a version string cannot be
// parsed. Use [errors.Is] to check for it.
var ErrInvalidVersion = fmt.Errorf("invalid version")

// Version is either a semantic version or a branch identifier.
//
// Branch versions compare equal only to themselves. For sorting
// purposes they order before every numeric version and among
// themselves by name, which keeps version lists deterministic; they
// are never picked over a numeric version unless explicitly named.
type Version struct {
	// raw preserves the original text, including build metadata that
	// is ignored for ordering.
	raw string

	// branch is the branch name for branch versions, without the "~"
	// prefix. Empty for numeric versions.
	branch string

	sv *semver.Version
}

// Parse parses s as a version. A string starting with "~" is a branch
// version (in version position the tilde is unambiguous, commit-named
// branches like "~1a2b3c" included); everything else must be a
// semantic version.
func Parse(s string) (Version, error) {
	if s == "" {
		return Version{}, fmt.Errorf("%w: empty string", ErrInvalidVersion)
	}

	if strings.HasPrefix(s, "~") && len(s) > 1 {
		return Version{raw: s, branch: s[1:]}, nil
	}

	sv, err := semver.NewVersion(strings.TrimPrefix(s, "v"))
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, s, err)
	}

	return Version{raw: s, sv: sv}, nil
}

// MustParse parses s and panics on failure. For tests and constants.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// branchName returns the branch name if s is in the branch form
// ("~name") in range position. "~1.2.3" is not a branch there, it is
// a tilde range, so a digit after the prefix disqualifies the string.
// So does a '>': "~>1.2.3" is the approximate operator.
func branchName(s string) (string, bool) {
	if !strings.HasPrefix(s, "~") || len(s) < 2 {
		return "", false
	}
	if unicode.IsDigit(rune(s[1])) || s[1] == '>' {
		return "", false
	}
	return s[1:], true
}

// String returns the original text the version was parsed from.
func (v Version) String() string {
	return v.raw
}

// IsBranch reports whether v is a branch version.
func (v Version) IsBranch() bool {
	return v.branch != ""
}

// Branch returns the branch name, without the "~" prefix. Empty for
// numeric versions.
func (v Version) Branch() string {
	return v.branch
}

// IsPreRelease reports whether any pre-release identifier is present.
// Branch versions are considered pre-release for selection purposes.
func (v Version) IsPreRelease() bool {
	if v.IsBranch() {
		return true
	}
	return v.sv.Prerelease() != ""
}

// IsZero reports whether v is the zero value rather than a parsed
// version.
func (v Version) IsZero() bool {
	return v.sv == nil && v.branch == ""
}

// Semver exposes the underlying semantic version. Nil for branch
// versions.
func (v Version) Semver() *semver.Version {
	return v.sv
}

// Compare returns -1, 0 or 1. Ordering follows semver rules for
// numeric versions (build metadata ignored). Branch versions order
// before all numeric versions and among themselves by name.
func (v Version) Compare(o Version) int {
	switch {
	case v.IsBranch() && o.IsBranch():
		return strings.Compare(v.branch, o.branch)
	case v.IsBranch():
		return -1
	case o.IsBranch():
		return 1
	}
	return v.sv.Compare(o.sv)
}

// Equal reports whether two versions are the same point. Build
// metadata is ignored, matching the ordering rules.
func (v Version) Equal(o Version) bool {
	if v.IsZero() || o.IsZero() {
		return v.IsZero() == o.IsZero()
	}
	return v.Compare(o) == 0
}

// LessThan reports v < o under Compare's ordering.
func (v Version) LessThan(o Version) bool {
	return v.Compare(o) < 0
}

// MarshalYAML serializes the version as its original string.
func (v Version) MarshalYAML() (any, error) {
	return v.raw, nil
}

// UnmarshalYAML parses a version from a scalar string node.
func (v *Version) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
