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

	"go.lode.sh/lode/internal/fetcher"
	"go.lode.sh/lode/internal/store"
	"go.lode.sh/lode/pkg/recipe"
	"go.lode.sh/lode/pkg/slogext"
	"go.lode.sh/lode/pkg/version"
)

// splitNameRange parses "name[@range]" command arguments.
func splitNameRange(arg string) (recipe.PackageName, version.Range, error) {
	spec := "*"
	if i := strings.IndexByte(arg, '@'); i >= 0 {
		arg, spec = arg[:i], arg[i+1:]
	}

	name, err := recipe.ParseName(arg)
	if err != nil {
		return "", version.Range{}, err
	}
	rng, err := version.ParseRange(spec)
	if err != nil {
		return "", version.Range{}, err
	}
	return name, rng, nil
}

// NewFetchCommand returns a new urfave/cli.Command for the fetch
// command.
func NewFetchCommand(log slogext.Logger) *cli.Command {
	return &cli.Command{
		Name:        "fetch",
		Usage:       "fetch a package into the local store",
		ArgsUsage:   "<name>[@<range>]",
		Description: "Downloads the best matching version of a package into the user store without touching any project.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "prerelease",
				Usage: "Consider pre-release versions",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("fetch requires exactly one package argument", 1)
			}
			name, rng, err := splitNameRange(c.Args().First())
			if err != nil {
				return err
			}

			e, err := newEnv(c, log, false)
			if err != nil {
				return err
			}

			f := fetcher.New(e.store, log)
			var p *store.Package
			for _, s := range e.supplier {
				if p, err = f.Fetch(c.Context, s, name, rng, c.Bool("prerelease"), store.TierUser); err == nil {
					break
				}
			}
			if err != nil {
				return err
			}

			fmt.Printf("%s %s (%s)\n", p.Name, p.Version, p.Root)
			return nil
		},
	}
}
