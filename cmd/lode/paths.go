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

	"go.lode.sh/lode/internal/store"
	"go.lode.sh/lode/pkg/slogext"
)

// tierFlag selects which tier a search path registers with.
func tierFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "tier",
		Usage: "Store tier the path applies to (project, user, system)",
		Value: string(store.TierUser),
	}
}

// NewAddPathCommand returns a new urfave/cli.Command for the add-path
// command.
func NewAddPathCommand(log slogext.Logger) *cli.Command {
	return &cli.Command{
		Name:        "add-path",
		Usage:       "register a directory of packages with the store",
		ArgsUsage:   "<dir>",
		Description: "Packages under the directory take priority over stored copies on future resolves.",
		Flags:       []cli.Flag{tierFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("add-path requires exactly one directory argument", 1)
			}

			e, err := newEnv(c, log, false)
			if err != nil {
				return err
			}

			dir := c.Args().First()
			e.store.AddSearchPath(store.Tier(c.String("tier")), dir)
			e.settings.SearchPaths = append(e.settings.SearchPaths, searchPathEntry{
				Tier: c.String("tier"),
				Dir:  dir,
			})
			return e.settings.save(e.fs, e.dir)
		},
	}
}

// NewRemovePathCommand returns a new urfave/cli.Command for the
// remove-path command.
func NewRemovePathCommand(log slogext.Logger) *cli.Command {
	return &cli.Command{
		Name:      "remove-path",
		Usage:     "unregister a search path",
		ArgsUsage: "<dir>",
		Flags:     []cli.Flag{tierFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("remove-path requires exactly one directory argument", 1)
			}

			e, err := newEnv(c, log, false)
			if err != nil {
				return err
			}

			dir := c.Args().First()
			tier := c.String("tier")
			e.store.RemoveSearchPath(store.Tier(tier), dir)

			kept := e.settings.SearchPaths[:0]
			for _, sp := range e.settings.SearchPaths {
				if sp.Tier != tier || sp.Dir != dir {
					kept = append(kept, sp)
				}
			}
			e.settings.SearchPaths = kept
			return e.settings.save(e.fs, e.dir)
		},
	}
}
