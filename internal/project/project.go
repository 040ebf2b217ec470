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

// Package project ties a root recipe, its selections file and the
// package store into one view: resolve the dependency graph, answer
// dependency lookups, and produce the merged build settings a
// compiler driver consumes.
package project

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"

	"go.lode.sh/lode/internal/resolver"
	"go.lode.sh/lode/internal/store"
	"go.lode.sh/lode/pkg/recipe"
	"go.lode.sh/lode/pkg/selections"
	"go.lode.sh/lode/pkg/slogext"
)

// Project is a loaded root package plus everything needed to build
// it.
type Project struct {
	// Root is the root package's recipe.
	Root *recipe.Recipe

	// RootDir is the root package directory on fs.
	RootDir string

	// Selections is the last loaded or resolved selection set. Nil
	// until loaded.
	Selections *selections.Selections

	fs    billy.Filesystem
	log   slogext.Logger
	store *store.Store

	resolved *resolver.Result
}

// Load reads the root recipe and, when present, the selections file
// from dir.
func Load(fs billy.Filesystem, log slogext.Logger, st *store.Store, dir string) (*Project, error) {
	root, err := recipe.Load(fs, dir)
	if err != nil {
		return nil, err
	}

	p := &Project{
		Root:    root,
		RootDir: path.Clean(dir),
		fs:      fs,
		log:     log,
		store:   st,
	}

	sel, err := selections.Load(fs, dir)
	if err == nil {
		p.Selections = sel
	} else if !errors.Is(err, selections.ErrNoSelections) {
		return nil, err
	}
	return p, nil
}

// Resolve runs the resolver and keeps the result. With Select set the
// new selections are persisted (atomically) when they changed.
func (p *Project) Resolve(ctx context.Context, opts resolver.Options, up resolver.UpgradeOptions) error {
	opts.Log = p.log
	opts.Store = p.store
	opts.RootDir = p.RootDir

	res, err := resolver.New(opts).Resolve(ctx, p.Root, p.Selections, up)
	if err != nil {
		return err
	}
	p.resolved = res

	if up.Select {
		if p.Selections == nil || !p.Selections.Equal(res.Selections) {
			if err := res.Selections.Save(p.fs, p.RootDir); err != nil {
				return err
			}
			p.log.With("file", path.Join(p.RootDir, selections.FileName)).Debug("Wrote selections")
		}
	}
	p.Selections = res.Selections
	return nil
}

// GetDependency returns the resolved node for a dependency name, or
// nil when it is unknown or the project has not been resolved.
func (p *Project) GetDependency(name recipe.PackageName) *resolver.ResolvedPackage {
	if p.resolved == nil {
		return nil
	}
	return p.resolved.Package(name)
}

// HasAllDependencies reports whether the dependency graph is fully
// materialized.
func (p *Project) HasAllDependencies() bool {
	return p.resolved != nil
}

// Dependencies returns the resolved nodes in deterministic traversal
// order (depth-first post-order by declaration, root excluded).
func (p *Project) Dependencies() []*resolver.ResolvedPackage {
	if p.resolved == nil {
		return nil
	}

	out := []*resolver.ResolvedPackage{}
	p.walk("", recipe.Platform{}, func(node *resolver.ResolvedPackage) {
		out = append(out, node)
	})
	return out
}

// walk visits the resolved graph depth-first post-order, each package
// once in first-seen order. cfg selects the root's configuration;
// dependencies contribute their default configuration.
func (p *Project) walk(cfg string, platform recipe.Platform, visit func(*resolver.ResolvedPackage)) {
	visited := map[recipe.PackageName]bool{}

	var rec func(r *recipe.Recipe, depCfg string)
	rec = func(r *recipe.Recipe, depCfg string) {
		for _, d := range r.GetDependencies(depCfg, platform) {
			if visited[d.Name] {
				continue
			}
			node := p.resolved.Package(d.Name)
			if node == nil {
				// Skipped optional dependency.
				continue
			}
			visited[d.Name] = true
			rec(node.Recipe, "")
			visit(node)
		}
	}
	rec(p.Root, cfg)
}

// GenerateBuildSettings merges the platform-filtered build settings
// of every package in the resolved graph for one (configuration,
// platform) pair: dependencies in depth-first post-order keyed by
// declaration order, the root last, lists deduplicated in first-seen
// order. Path-like entries are rebased onto each package's root.
func (p *Project) GenerateBuildSettings(configuration string, platform recipe.Platform) (recipe.BuildSettings, error) {
	if p.resolved == nil {
		return recipe.BuildSettings{}, fmt.Errorf("project has not been resolved")
	}
	if configuration != "" && p.Root.Configuration(configuration, platform) == nil {
		return recipe.BuildSettings{}, fmt.Errorf("unknown configuration %q", configuration)
	}

	out := recipe.BuildSettings{}
	p.walk(configuration, platform, func(node *resolver.ResolvedPackage) {
		bs := node.Recipe.MergedBuildSettings("", platform)
		rebaseSettings(&bs, node.Package.Root)
		out.Merge(bs)
	})

	rootSettings := p.Root.MergedBuildSettings(configuration, platform)
	rebaseSettings(&rootSettings, p.RootDir)
	out.Merge(rootSettings)

	// The root's target identity always wins.
	if rootSettings.TargetType != "" {
		out.TargetType = rootSettings.TargetType
	}
	out.TargetName = rootSettings.TargetName
	if out.TargetName == "" {
		out.TargetName = string(p.Root.Name)
	}
	out.TargetPath = rootSettings.TargetPath
	return out, nil
}

// rebaseSettings joins path-valued list entries onto root so the
// merged record is meaningful outside the package's own directory.
func rebaseSettings(bs *recipe.BuildSettings, root string) {
	for _, field := range []*[]string{
		&bs.ImportPaths, &bs.CImportPaths, &bs.SourcePaths,
		&bs.SourceFiles, &bs.ExcludedSourceFiles, &bs.CopyFiles,
	} {
		for i, entry := range *field {
			if !path.IsAbs(entry) {
				(*field)[i] = path.Join(root, entry)
			}
		}
	}
}

// Describe renders the resolved graph for human consumption.
func (p *Project) Describe() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s", p.Root.Name)
	if !p.Root.Version.IsZero() {
		fmt.Fprintf(&sb, " %s", p.Root.Version)
	}
	sb.WriteString("\n")

	for _, node := range p.Dependencies() {
		fmt.Fprintf(&sb, "  %s %s (%s)\n", node.Name, node.Selection, node.Package.Root)
	}
	return sb.String()
}
