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

package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"go.lode.sh/lode/internal/resolver"
	"go.lode.sh/lode/pkg/recipe"
	"go.lode.sh/lode/pkg/slogext"
)

// parsePlatform turns a "--platform os-arch" flag into a Platform,
// defaulting to the running machine.
func parsePlatform(spec string) (recipe.Platform, error) {
	if spec == "" {
		return recipe.CurrentPlatform(), nil
	}

	parts := strings.SplitN(spec, "-", 2)
	p := recipe.Platform{OS: parts[0]}
	if len(parts) == 2 {
		p.Arch = parts[1]
	}
	if p.OS == "" {
		return recipe.Platform{}, fmt.Errorf("invalid platform %q", spec)
	}
	return p, nil
}

// resolveProject runs the standard non-upgrading resolve a build-like
// command needs.
func resolveProject(c *cli.Context, e *env) error {
	return e.project.Resolve(c.Context, resolver.Options{
		Suppliers:    e.supplier,
		Repositories: e.repositories(),
	}, resolver.UpgradeOptions{
		// Write selections on first resolve so the build is
		// reproducible from then on.
		Select: e.project.Selections == nil,
	})
}

// NewBuildCommand returns a new urfave/cli.Command for the build
// command. It produces the merged build settings a compiler driver
// consumes; invoking compilers is outside lode's concern.
func NewBuildCommand(log slogext.Logger) *cli.Command {
	return &cli.Command{
		Name:        "build",
		Usage:       "resolve dependencies and emit merged build settings",
		Description: "Ensures every dependency is present in the store and prints the merged build settings for the selected configuration and platform.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "configuration",
				Aliases: []string{"c"},
				Usage:   "Build configuration to use",
			},
			&cli.StringFlag{
				Name:  "platform",
				Usage: "Target platform (e.g. linux-x86_64); defaults to the host",
			},
		},
		Action: func(c *cli.Context) error {
			platform, err := parsePlatform(c.String("platform"))
			if err != nil {
				return err
			}

			e, err := newEnv(c, log, true)
			if err != nil {
				return err
			}
			if err := resolveProject(c, e); err != nil {
				return err
			}

			bs, err := e.project.GenerateBuildSettings(c.String("configuration"), platform)
			if err != nil {
				return err
			}

			out, err := yaml.Marshal(map[string]any{
				"targetType":          bs.TargetType,
				"targetName":          bs.TargetName,
				"targetPath":          bs.TargetPath,
				"importPaths":         bs.ImportPaths,
				"cImportPaths":        bs.CImportPaths,
				"sourcePaths":         bs.SourcePaths,
				"sourceFiles":         bs.SourceFiles,
				"excludedSourceFiles": bs.ExcludedSourceFiles,
				"copyFiles":           bs.CopyFiles,
				"libraries":           bs.Libraries,
				"versions":            bs.VersionIdentifiers,
				"compilerFlags":       bs.CompilerFlags,
				"linkerFlags":         bs.LinkerFlags,
			})
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}
