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
	"runtime"
	"strings"
)

// Platform identifies a build target platform.
type Platform struct {
	// OS is the operating system, e.g. "linux", "windows", "darwin".
	OS string

	// Arch is the processor architecture, e.g. "x86_64", "aarch64".
	Arch string
}

// posixOSes are operating systems covered by the "posix" specifier.
var posixOSes = map[string]bool{
	"linux":   true,
	"darwin":  true,
	"freebsd": true,
	"netbsd":  true,
	"openbsd": true,
	"solaris": true,
}

// goArchNames maps Go architecture names to the names used in
// platform specifiers.
var goArchNames = map[string]string{
	"amd64": "x86_64",
	"386":   "x86",
	"arm64": "aarch64",
}

// CurrentPlatform returns the platform of the running process.
func CurrentPlatform() Platform {
	arch := runtime.GOARCH
	if n, ok := goArchNames[arch]; ok {
		arch = n
	}
	return Platform{OS: runtime.GOOS, Arch: arch}
}

// Matches reports whether the platform satisfies a specifier such as
// "windows", "posix" or "linux-x86_64". Every dash-separated part of
// the specifier must match either the OS (or an OS group) or the
// architecture. The empty specifier matches everything.
func (p Platform) Matches(spec string) bool {
	if spec == "" {
		return true
	}

	for _, part := range strings.Split(spec, "-") {
		switch {
		case part == p.OS || part == p.Arch:
		case part == "posix" && posixOSes[p.OS]:
		default:
			return false
		}
	}
	return true
}

// MatchesAny reports whether any of the specifiers match. An empty
// list matches everything.
func (p Platform) MatchesAny(specs []string) bool {
	if len(specs) == 0 {
		return true
	}
	for _, spec := range specs {
		if p.Matches(spec) {
			return true
		}
	}
	return false
}

// String renders the platform in specifier form.
func (p Platform) String() string {
	return p.OS + "-" + p.Arch
}
