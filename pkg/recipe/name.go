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
	"regexp"
	"strings"
)

// nameSegment validates a single name segment. Names are lower-case
// identifiers so that packages cannot collide in the store on
// case-insensitive filesystems.
var nameSegment = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// PackageName is a package name of the form "main[:sub[:sub...]]"
// where colons address sub-packages inside the main package.
type PackageName string

// ParseName validates and canonicalizes a package name. Upper-case
// input is lowered; invalid segments are an error.
func ParseName(s string) (PackageName, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", fmt.Errorf("empty package name")
	}

	for _, seg := range strings.Split(s, ":") {
		if !nameSegment.MatchString(seg) {
			return "", fmt.Errorf("invalid package name %q: segment %q", s, seg)
		}
	}

	return PackageName(s), nil
}

// String returns the full name, sub-package path included.
func (n PackageName) String() string {
	return string(n)
}

// Main returns the root package component of the name.
func (n PackageName) Main() PackageName {
	if i := strings.IndexByte(string(n), ':'); i >= 0 {
		return n[:i]
	}
	return n
}

// SubPath returns the colon-separated sub-package path, or the empty
// string for a main package name.
func (n PackageName) SubPath() string {
	if i := strings.IndexByte(string(n), ':'); i >= 0 {
		return string(n[i+1:])
	}
	return ""
}

// IsSubPackage reports whether the name addresses a sub-package.
func (n PackageName) IsSubPackage() bool {
	return strings.IndexByte(string(n), ':') >= 0
}

// Sub returns the name of a sub-package inside n.
func (n PackageName) Sub(sub string) PackageName {
	return PackageName(string(n) + ":" + sub)
}
