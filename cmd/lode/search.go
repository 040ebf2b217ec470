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

	"github.com/urfave/cli/v2"

	"go.lode.sh/lode/pkg/slogext"
)

// NewSearchCommand returns a new urfave/cli.Command for the search
// command.
func NewSearchCommand(log slogext.Logger) *cli.Command {
	return &cli.Command{
		Name:        "search",
		Usage:       "search the configured suppliers for packages",
		ArgsUsage:   "<query>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("search requires exactly one query argument", 1)
			}

			e, err := newEnv(c, log, false)
			if err != nil {
				return err
			}

			found := false
			for _, s := range e.supplier {
				results, err := s.SearchPackages(c.Context, c.Args().First())
				if err != nil {
					log.With("supplier", s.Description()).WithError(err).Warn("Search failed")
					continue
				}
				for _, r := range results {
					found = true
					fmt.Printf("%s (%s) %s\n", r.Name, r.Version, r.Description)
				}
			}
			if !found {
				log.Infof("No packages matching %q found", c.Args().First())
			}
			return nil
		},
	}
}
