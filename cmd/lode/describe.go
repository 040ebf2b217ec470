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

// NewDescribeCommand returns a new urfave/cli.Command for the
// describe command.
func NewDescribeCommand(log slogext.Logger) *cli.Command {
	return &cli.Command{
		Name:        "describe",
		Usage:       "print the resolved dependency graph",
		Description: "Resolves the project and prints every dependency with its selected version and store location.",
		Action: func(c *cli.Context) error {
			e, err := newEnv(c, log, true)
			if err != nil {
				return err
			}
			if err := resolveProject(c, e); err != nil {
				return err
			}

			fmt.Print(e.project.Describe())
			return nil
		},
	}
}
