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

package version

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// ErrInvalidRange is returned when a range expression cannot be
// parsed. Use [errors.Is] to check for it.
var ErrInvalidRange = fmt.Errorf("invalid version range")

// Range is a version range: the sentinel Any, a branch, or a semver
// constraint expression (exact versions, intervals, carets, tildes and
// "||" disjunctions, stored normalized).
//
// Matches is defined for every (range, version) pair. Any matches
// every version, branch versions included. A branch range matches only
// the identical branch. Branch versions never match constraint ranges,
// and a pre-release version matches only ranges that themselves carry
// a pre-release identifier.
type Range struct {
	raw string

	// any is the sentinel range matching everything.
	any bool

	// branch is set for branch ranges ("~name").
	branch string

	c *semver.Constraints
}

// AnyRange is the sentinel range matching every version.
var AnyRange = Range{raw: "*", any: true}

// ParseRange parses a range expression. The empty string and "*" are
// the Any range. "~name" is a branch range. "~>x.y.z" is accepted as
// the approximate operator and normalized to a tilde range. Everything
// else is a semver constraint expression.
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return AnyRange, nil
	}

	if branch, ok := branchName(s); ok {
		return Range{raw: s, branch: branch}, nil
	}

	expr := strings.ReplaceAll(s, "~>", "~")
	c, err := semver.NewConstraint(expr)
	if err != nil {
		return Range{}, fmt.Errorf("%w: %q: %v", ErrInvalidRange, s, err)
	}

	return Range{raw: s, c: c}, nil
}

// MustParseRange parses s and panics on failure. For tests.
func MustParseRange(s string) Range {
	r, err := ParseRange(s)
	if err != nil {
		panic(err)
	}
	return r
}

// ExactRange returns a range matching only v. For branch versions the
// result is the corresponding branch range.
func ExactRange(v Version) Range {
	if v.IsBranch() {
		return Range{raw: v.String(), branch: v.Branch()}
	}
	// The constraint was built from a parsed version, it cannot fail
	// to parse again.
	return MustParseRange("=" + v.sv.String())
}

// String returns the expression the range was parsed from.
func (r Range) String() string {
	return r.raw
}

// IsAny reports whether r is the sentinel Any range.
func (r Range) IsAny() bool {
	return r.any
}

// IsBranch reports whether r is a branch range.
func (r Range) IsBranch() bool {
	return r.branch != ""
}

// Branch returns the branch name for branch ranges.
func (r Range) Branch() string {
	return r.branch
}

// IsZero reports whether r is the zero value rather than a parsed
// range.
func (r Range) IsZero() bool {
	return !r.any && r.branch == "" && r.c == nil
}

// Matches reports whether v satisfies the range.
func (r Range) Matches(v Version) bool {
	switch {
	case r.any:
		return true
	case r.branch != "":
		return v.IsBranch() && v.Branch() == r.branch
	case v.IsBranch():
		return false
	case r.c == nil:
		return false
	}
	return r.c.Check(v.sv)
}

// MatchesAll reports whether v satisfies every range in rs. An empty
// slice matches everything.
func MatchesAll(rs []Range, v Version) bool {
	for _, r := range rs {
		if !r.Matches(v) {
			return false
		}
	}
	return true
}

// MarshalYAML serializes the range as its original expression.
func (r Range) MarshalYAML() (any, error) {
	return r.raw, nil
}

// UnmarshalYAML parses a range from a scalar string node.
func (r *Range) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseRange(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// BestMatch picks the version a supplier should serve for the given
// ranges: the highest candidate matching all of them, preferring
// non-pre-release candidates unless allowPrerelease is set or every
// matching candidate is a pre-release. Branch versions are only picked
// when a range names them. Returns the zero Version when nothing
// matches.
func BestMatch(candidates []Version, rs []Range, allowPrerelease bool) Version {
	for _, r := range rs {
		if r.IsBranch() {
			for _, v := range candidates {
				if MatchesAll(rs, v) {
					return v
				}
			}
			return Version{}
		}
	}

	matching := make([]Version, 0, len(candidates))
	for _, v := range candidates {
		if v.IsBranch() {
			// Never implicitly selected.
			continue
		}
		if MatchesAll(rs, v) {
			matching = append(matching, v)
		}
	}
	if len(matching) == 0 {
		return Version{}
	}

	sort.Slice(matching, func(i, j int) bool {
		return matching[j].LessThan(matching[i])
	})

	if !allowPrerelease {
		for _, v := range matching {
			if !v.IsPreRelease() {
				return v
			}
		}
	}

	return matching[0]
}

// Sort orders versions ascending in place under Compare's ordering.
func Sort(versions []Version) {
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].LessThan(versions[j])
	})
}
