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
	"errors"
	"testing"

	"gotest.tools/v3/assert"
)

func TestParseVersion(t *testing.T) {
	v, err := Parse("1.2.3")
	assert.NilError(t, err)
	assert.Equal(t, "1.2.3", v.String())
	assert.Assert(t, !v.IsBranch())
	assert.Assert(t, !v.IsPreRelease())

	v, err = Parse("1.0.0-beta.2")
	assert.NilError(t, err)
	assert.Assert(t, v.IsPreRelease())

	v, err = Parse("~master")
	assert.NilError(t, err)
	assert.Assert(t, v.IsBranch())
	assert.Equal(t, "master", v.Branch())

	_, err = Parse("not a version")
	assert.Assert(t, errors.Is(err, ErrInvalidVersion))

	_, err = Parse("")
	assert.Assert(t, errors.Is(err, ErrInvalidVersion))
}

func TestVersionOrdering(t *testing.T) {
	ordered := []string{
		"~feature",
		"~master",
		"0.9.0",
		"1.0.0-alpha",
		"1.0.0-alpha.1",
		"1.0.0-beta",
		"1.0.0",
		"1.0.1",
		"1.10.0",
		"2.0.0",
	}

	for i := 1; i < len(ordered); i++ {
		lo := MustParse(ordered[i-1])
		hi := MustParse(ordered[i])
		assert.Assert(t, lo.LessThan(hi), "%s < %s", lo, hi)
		assert.Assert(t, !hi.LessThan(lo), "%s >= %s", hi, lo)
	}
}

func TestVersionBuildMetadata(t *testing.T) {
	a := MustParse("1.0.0+build.1")
	b := MustParse("1.0.0+build.2")

	// Equal for ordering, distinct on construction.
	assert.Assert(t, a.Equal(b))
	assert.Assert(t, a.String() != b.String())
}

func TestBranchEquality(t *testing.T) {
	a := MustParse("~master")
	b := MustParse("~master")
	c := MustParse("~develop")

	assert.Assert(t, a.Equal(b))
	assert.Assert(t, !a.Equal(c))
	assert.Assert(t, !a.Equal(MustParse("1.0.0")))
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		rng     string
		version string
		want    bool
	}{
		{"*", "1.0.0", true},
		{"*", "~master", true},
		{"*", "1.0.0-rc.1", true},
		{"", "0.0.1", true},
		{">=1.0.0", "1.0.0", true},
		{">=1.0.0", "0.9.9", false},
		{">=1.0.0 <2.0.0", "1.5.0", true},
		{">=1.0.0 <2.0.0", "2.0.0", false},
		{"^1.2.0", "1.9.9", true},
		{"^1.2.0", "2.0.0", false},
		{"~>1.2.3", "1.2.9", true},
		{"~>1.2.3", "1.3.0", false},
		{"1.2.3", "1.2.3", true},
		{"1.2.3", "1.2.4", false},
		{"=1.2.3", "1.2.3", true},
		{"<1.0.0 || >2.0.0", "2.1.0", true},
		{"<1.0.0 || >2.0.0", "1.5.0", false},
		{"~master", "~master", true},
		{"~master", "~develop", false},
		{"~master", "1.0.0", false},
		{">=0.0.0", "~master", false},
		// Pre-releases only match ranges that mention one.
		{">=1.0.0", "1.5.0-beta.1", false},
		{">=1.0.0-0", "1.5.0-beta.1", true},
		{">=1.5.0-alpha", "1.5.0-beta.1", true},
	}

	for _, tt := range tests {
		r, err := ParseRange(tt.rng)
		assert.NilError(t, err, "range %q", tt.rng)
		got := r.Matches(MustParse(tt.version))
		assert.Equal(t, tt.want, got, "%q matches %q", tt.rng, tt.version)
	}
}

func TestParseRangeInvalid(t *testing.T) {
	_, err := ParseRange(">=not.a.version")
	assert.Assert(t, errors.Is(err, ErrInvalidRange))
}

func TestEmptyRangeMatchesNothing(t *testing.T) {
	// Collapses to empty but parses successfully.
	r, err := ParseRange(">2.0.0 <1.0.0")
	assert.NilError(t, err)

	for _, s := range []string{"0.1.0", "1.5.0", "2.5.0"} {
		assert.Assert(t, !r.Matches(MustParse(s)), "%s", s)
	}
}

func TestExactRange(t *testing.T) {
	r := ExactRange(MustParse("1.2.3"))
	assert.Assert(t, r.Matches(MustParse("1.2.3")))
	assert.Assert(t, !r.Matches(MustParse("1.2.4")))

	r = ExactRange(MustParse("~master"))
	assert.Assert(t, r.IsBranch())
	assert.Assert(t, r.Matches(MustParse("~master")))
}

func versions(ss ...string) []Version {
	vs := make([]Version, 0, len(ss))
	for _, s := range ss {
		vs = append(vs, MustParse(s))
	}
	return vs
}

func TestBestMatch(t *testing.T) {
	tests := []struct {
		name       string
		candidates []string
		ranges     []string
		allowPre   bool
		want       string
	}{
		{
			name:       "highest matching",
			candidates: []string{"1.0.0", "1.1.0", "2.0.0"},
			ranges:     []string{"^1.0.0"},
			want:       "1.1.0",
		},
		{
			name:       "prefers release over higher prerelease",
			candidates: []string{"1.0.0", "1.1.0-rc.1"},
			ranges:     []string{">=1.0.0-0"},
			want:       "1.0.0",
		},
		{
			name:       "prerelease allowed",
			candidates: []string{"1.0.0", "1.1.0-rc.1"},
			ranges:     []string{">=1.0.0-0"},
			allowPre:   true,
			want:       "1.1.0-rc.1",
		},
		{
			name:       "all prerelease",
			candidates: []string{"1.0.0-alpha", "1.0.0-beta"},
			ranges:     []string{">=1.0.0-0"},
			want:       "1.0.0-beta",
		},
		{
			name:       "branch only when named",
			candidates: []string{"~master", "1.0.0"},
			ranges:     []string{"*"},
			want:       "1.0.0",
		},
		{
			name:       "branch range",
			candidates: []string{"1.0.0", "~master"},
			ranges:     []string{"~master"},
			want:       "~master",
		},
		{
			name:       "intersection of ranges",
			candidates: []string{"1.0.0", "1.5.0", "2.0.0"},
			ranges:     []string{">=1.0.0", "<2.0.0"},
			want:       "1.5.0",
		},
		{
			name:       "nothing matches",
			candidates: []string{"0.1.0"},
			ranges:     []string{">=1.0.0"},
			want:       "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := make([]Range, 0, len(tt.ranges))
			for _, s := range tt.ranges {
				rs = append(rs, MustParseRange(s))
			}

			got := BestMatch(versions(tt.candidates...), rs, tt.allowPre)
			if tt.want == "" {
				assert.Assert(t, got.IsZero())
				return
			}
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestSort(t *testing.T) {
	vs := versions("2.0.0", "~master", "1.0.0-beta", "1.0.0")
	Sort(vs)

	got := make([]string, 0, len(vs))
	for _, v := range vs {
		got = append(got, v.String())
	}
	assert.DeepEqual(t, []string{"~master", "1.0.0-beta", "1.0.0", "2.0.0"}, got)
}
