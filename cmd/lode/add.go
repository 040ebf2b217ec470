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
	"io"
	"path"

	"github.com/go-git/go-billy/v5/util"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"go.lode.sh/lode/pkg/recipe"
	"go.lode.sh/lode/pkg/slogext"
	"go.lode.sh/lode/pkg/version"
)

// NewAddCommand returns a new urfave/cli.Command for the add command.
func NewAddCommand(log slogext.Logger) *cli.Command {
	return &cli.Command{
		Name:        "add",
		Usage:       "add a dependency to the project recipe",
		ArgsUsage:   "<name>[@<range>]",
		Description: "Appends a dependency to the recipe. Without a range, a caret range of the best available version is recorded.",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("add requires exactly one package argument", 1)
			}
			name, rng, err := splitNameRange(c.Args().First())
			if err != nil {
				return err
			}

			e, err := newEnv(c, log, true)
			if err != nil {
				return err
			}

			spec := rng.String()
			if rng.IsAny() {
				// Pin to a caret range of the best version any
				// supplier offers.
				var best version.Version
				for _, s := range e.supplier {
					vs, err := s.GetVersions(c.Context, name)
					if err != nil {
						continue
					}
					if v := version.BestMatch(vs, []version.Range{version.AnyRange}, false); !v.IsZero() {
						best = v
						break
					}
				}
				if best.IsZero() {
					return fmt.Errorf("no versions of %q found", name)
				}
				spec = "^" + best.Semver().String()
			}

			if err := addDependency(e, name, spec); err != nil {
				return err
			}
			log.Infof("Added %s %s", name, spec)
			return nil
		},
	}
}

// addDependency rewrites the recipe document with the new dependency,
// preserving key order and comments via the YAML node tree.
func addDependency(e *env, name recipe.PackageName, spec string) error {
	file := ""
	for _, candidate := range recipe.FileNames {
		if _, err := e.fs.Stat(path.Join(e.dir, candidate)); err == nil {
			file = path.Join(e.dir, candidate)
			break
		}
	}
	if file == "" {
		return fmt.Errorf("%w in %s", recipe.ErrNoRecipe, e.dir)
	}

	f, err := e.fs.Open(file)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	root := doc.Content[0]

	deps := findMappingValue(root, "dependencies")
	if deps == nil {
		deps = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "dependencies"}, deps)
	}

	for i := 0; i+1 < len(deps.Content); i += 2 {
		if deps.Content[i].Value == string(name) {
			deps.Content[i+1] = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: spec}
			return writeDoc(e, file, &doc)
		}
	}
	deps.Content = append(deps.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(name)},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: spec})
	return writeDoc(e, file, &doc)
}

func findMappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func writeDoc(e *env, file string, doc *yaml.Node) error {
	out, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return util.WriteFile(e.fs, file, out, 0o644)
}
