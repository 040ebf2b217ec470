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

// NewListCommand returns a new urfave/cli.Command for the list
// command.
func NewListCommand(log slogext.Logger) *cli.Command {
	return &cli.Command{
		Name:        "list",
		Usage:       "list packages present in the store",
		Description: "Prints every stored package with its version, tier and location.",
		Action: func(c *cli.Context) error {
			e, err := newEnv(c, log, false)
			if err != nil {
				return err
			}

			pkgs := e.store.IterAll()
			if len(pkgs) == 0 {
				log.Info("No packages stored")
				return nil
			}
			for _, p := range pkgs {
				fmt.Printf("%s %s [%s] %s\n", p.Name, p.Version, p.Tier, p.Root)
			}
			return nil
		},
	}
}
