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
	"github.com/urfave/cli/v2"

	"go.lode.sh/lode/internal/resolver"
	"go.lode.sh/lode/pkg/slogext"
)

// NewUpgradeCommand returns a new urfave/cli.Command for the upgrade
// command.
func NewUpgradeCommand(log slogext.Logger) *cli.Command {
	return &cli.Command{
		Name:        "upgrade",
		Usage:       "upgrade the project's dependencies",
		Description: "Re-resolves the dependency graph against the newest matching versions and rewrites the selections file.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "prerelease",
				Usage: "Consider pre-release versions",
			},
			&cli.BoolFlag{
				Name:  "force-remove-missing",
				Usage: "Re-resolve dependencies whose selected version is no longer available",
			},
		},
		Action: func(c *cli.Context) error {
			e, err := newEnv(c, log, true)
			if err != nil {
				return err
			}

			err = e.project.Resolve(c.Context, resolver.Options{
				Suppliers:    e.supplier,
				Repositories: e.repositories(),
			}, resolver.UpgradeOptions{
				Select:             true,
				Upgrade:            true,
				Prerelease:         c.Bool("prerelease"),
				ForceRemoveMissing: c.Bool("force-remove-missing"),
			})
			if err != nil {
				return err
			}

			for _, node := range e.project.Dependencies() {
				log.Infof("%s %s", node.Name, node.Selection)
			}
			return nil
		},
	}
}
