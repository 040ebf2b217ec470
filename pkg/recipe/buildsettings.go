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
	"strings"

	"gopkg.in/yaml.v3"
)

// TargetType describes what a package builds into.
type TargetType string

const (
	// TargetAutodetect picks a target type based on the package layout.
	TargetAutodetect TargetType = "autodetect"
	// TargetExecutable builds a runnable binary.
	TargetExecutable TargetType = "executable"
	// TargetLibrary builds a linkable library.
	TargetLibrary TargetType = "library"
	// TargetSourceLibrary contributes sources to dependents without
	// producing an artifact of its own.
	TargetSourceLibrary TargetType = "sourceLibrary"
	// TargetNone produces nothing; used for dependency-only packages.
	TargetNone TargetType = "none"
)

// BuildSettings is the typed record of build inputs a package
// contributes. All list fields preserve insertion order; merging
// appends in traversal order and drops duplicates, keeping the first
// occurrence.
//
// In recipe documents every list field may carry a platform filter
// suffix ("linkerFlags-windows"); filtered entries only apply when the
// requested platform matches.
type BuildSettings struct {
	ImportPaths         []string
	CImportPaths        []string
	SourcePaths         []string
	SourceFiles         []string
	ExcludedSourceFiles []string
	CopyFiles           []string
	Libraries           []string
	VersionIdentifiers  []string
	CompilerFlags       []string
	LinkerFlags         []string

	TargetType TargetType
	TargetName string
	TargetPath string

	// filtered holds platform-conditional settings in declaration
	// order.
	filtered []filteredSettings
}

type filteredSettings struct {
	spec     string
	settings *BuildSettings
}

// listFields enumerates the list-valued fields by document key. The
// returned pointers index into b.
func (b *BuildSettings) listFields() map[string]*[]string {
	return map[string]*[]string{
		"importPaths":         &b.ImportPaths,
		"cImportPaths":        &b.CImportPaths,
		"sourcePaths":         &b.SourcePaths,
		"sourceFiles":         &b.SourceFiles,
		"excludedSourceFiles": &b.ExcludedSourceFiles,
		"copyFiles":           &b.CopyFiles,
		"libraries":           &b.Libraries,
		"versions":            &b.VersionIdentifiers,
		"compilerFlags":       &b.CompilerFlags,
		"linkerFlags":         &b.LinkerFlags,
	}
}

// UnmarshalYAML decodes build settings from a mapping whose keys are
// the field names, optionally suffixed with "-<platform specifier>".
func (b *BuildSettings) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("build settings must be a mapping")
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		value := node.Content[i+1]

		base, spec := splitFieldKey(key)
		target := b
		if spec != "" {
			target = b.forSpec(spec)
		}

		switch base {
		case "targetType":
			if err := value.Decode(&target.TargetType); err != nil {
				return err
			}
		case "targetName":
			if err := value.Decode(&target.TargetName); err != nil {
				return err
			}
		case "targetPath":
			if err := value.Decode(&target.TargetPath); err != nil {
				return err
			}
		default:
			dst, ok := target.listFields()[base]
			if !ok {
				// Unknown fields are tolerated so that recipes written
				// for newer versions still load.
				continue
			}
			var entries []string
			if err := value.Decode(&entries); err != nil {
				return err
			}
			*dst = append(*dst, entries...)
		}
	}
	return nil
}

// splitFieldKey splits "linkerFlags-windows-x86_64" into the field
// name and the platform specifier.
func splitFieldKey(key string) (base, spec string) {
	if i := strings.IndexByte(key, '-'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

// forSpec returns the settings bucket for a platform specifier,
// creating it on first use.
func (b *BuildSettings) forSpec(spec string) *BuildSettings {
	for _, f := range b.filtered {
		if f.spec == spec {
			return f.settings
		}
	}
	s := &BuildSettings{}
	b.filtered = append(b.filtered, filteredSettings{spec: spec, settings: s})
	return s
}

// ForPlatform flattens the settings for one platform: the unfiltered
// fields plus every filtered bucket whose specifier matches, in
// declaration order.
func (b *BuildSettings) ForPlatform(p Platform) BuildSettings {
	out := BuildSettings{}
	out.Merge(b.base())
	for _, f := range b.filtered {
		if p.Matches(f.spec) {
			out.Merge(f.settings.base())
		}
	}
	return out
}

// base returns a copy of b without the filtered buckets.
func (b *BuildSettings) base() BuildSettings {
	out := *b
	out.filtered = nil
	return out
}

// Merge appends other's entries onto b, deduplicating while keeping
// first-seen order. Scalar target fields are only taken when unset so
// that the first writer wins.
func (b *BuildSettings) Merge(other BuildSettings) {
	dst := b.listFields()
	for key, src := range other.listFields() {
		*dst[key] = appendUnique(*dst[key], *src...)
	}

	if b.TargetType == "" {
		b.TargetType = other.TargetType
	}
	if b.TargetName == "" {
		b.TargetName = other.TargetName
	}
	if b.TargetPath == "" {
		b.TargetPath = other.TargetPath
	}
}

// appendUnique appends entries not already present, preserving order.
func appendUnique(dst []string, entries ...string) []string {
	for _, e := range entries {
		seen := false
		for _, have := range dst {
			if have == e {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, e)
		}
	}
	return dst
}
