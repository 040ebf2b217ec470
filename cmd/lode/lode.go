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
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/urfave/cli/v2"

	"go.lode.sh/lode/internal/fetcher"
	"go.lode.sh/lode/internal/project"
	"go.lode.sh/lode/internal/store"
	"go.lode.sh/lode/internal/suppliers"
	"go.lode.sh/lode/pkg/slogext"
)

// Version is the lode CLI version, stamped by the release build.
var Version = "dev"

// DefaultRegistry is the registry consulted when none is configured.
const DefaultRegistry = "https://registry.lode.sh"

// NewLode builds the CLI application.
func NewLode(log slogext.Logger) *cli.App {
	return &cli.App{
		Version:     Version,
		Name:        "lode",
		Usage:       "package manager and build orchestrator",
		Description: "Resolves, fetches and locks package dependencies and produces merged build settings.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Enables debug logging for version resolution and supplier traffic",
				Aliases: []string{"d"},
			},
			&cli.StringSliceFlag{
				Name:  "registry",
				Usage: "Registry URL(s) to consult, in order; later entries are fallbacks",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				log.SetLevel(slogext.DebugLevel)
				log.Debug("Debug logging enabled")
			}
			return nil
		},
		Commands: []*cli.Command{
			NewUpgradeCommand(log),
			NewFetchCommand(log),
			NewBuildCommand(log),
			NewDescribeCommand(log),
			NewSearchCommand(log),
			NewAddCommand(log),
			NewListCommand(log),
			NewAddPathCommand(log),
			NewRemovePathCommand(log),
		},
	}
}

// env wires the collaborators a command needs: the store, the
// ordered supplier list, and (optionally) the loaded project.
type env struct {
	log      slogext.Logger
	dir      string
	fs       billy.Filesystem
	store    *store.Store
	supplier []suppliers.PackageSupplier
	settings *settings
	project  *project.Project
}

// newEnv builds the environment for one command invocation.
// needProject controls whether a missing root recipe is an error.
func newEnv(c *cli.Context, log slogext.Logger, needProject bool) (*env, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	dir := filepath.ToSlash(wd)

	fs := osfs.New("/")

	cfg, err := loadSettings(fs, dir)
	if err != nil {
		return nil, err
	}

	st := store.New(fs, log, store.DefaultRoots(dir))
	for _, sp := range cfg.SearchPaths {
		st.AddSearchPath(store.Tier(sp.Tier), sp.Dir)
	}

	registries := c.StringSlice("registry")
	if len(registries) == 0 {
		registries = cfg.Registries
	}
	if len(registries) == 0 {
		registries = []string{DefaultRegistry}
	}

	regs := make([]suppliers.PackageSupplier, 0, len(registries))
	for _, u := range registries {
		r, err := suppliers.NewRegistrySupplier(log, u, suppliers.RegistryOptions{
			Token: os.Getenv("LODE_REGISTRY_TOKEN"),
		})
		if err != nil {
			return nil, err
		}
		st.OnRefresh(r.ClearCache)
		regs = append(regs, r)
	}

	e := &env{
		log:      log,
		dir:      dir,
		fs:       fs,
		store:    st,
		supplier: []suppliers.PackageSupplier{suppliers.NewFallbackSupplier(log, regs...)},
		settings: cfg,
	}

	if needProject {
		p, err := project.Load(fs, log, st, dir)
		if err != nil {
			return nil, err
		}
		e.project = p
	}
	return e, nil
}

// repositories returns the SCM fetcher for repository dependencies.
func (e *env) repositories() *fetcher.GitRepositoryFetcher {
	return fetcher.NewGitRepositoryFetcher(e.store, e.log)
}
