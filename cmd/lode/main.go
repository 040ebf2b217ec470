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

// Package main contains the implementation for the lode CLI.
package main

import (
	"context"
	"errors"
	"os"

	"go.lode.sh/lode/internal/resolver"
	"go.lode.sh/lode/internal/store"
	"go.lode.sh/lode/internal/suppliers"
	"go.lode.sh/lode/pkg/recipe"
	"go.lode.sh/lode/pkg/selections"
	"go.lode.sh/lode/pkg/slogext"
	"go.lode.sh/lode/pkg/version"
)

// entrypoint is the main entrypoint for the lode CLI. It is separated
// from main to allow for defers to run before exiting on error, which
// main handles.
func entrypoint(log slogext.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := NewLode(log)
	return app.RunContext(ctx, os.Args)
}

// main calls the entrypoint, logs errors, and exits with a non-zero
// status code if an error occurs. Logic should be in entrypoint.
func main() {
	log := slogext.New()

	if err := entrypoint(log); err != nil {
		log.WithError(err).Error("failed to run")
		os.Exit(exitCode(err))
	}
}

// exitCode maps failures onto the documented exit codes: 2 for
// package and recipe failures (resolver errors included), 1 for
// everything else.
func exitCode(err error) int {
	for _, kind := range []error{
		recipe.ErrInvalidRecipe,
		recipe.ErrNoRecipe,
		version.ErrInvalidVersion,
		version.ErrInvalidRange,
		selections.ErrUnsupportedVersion,
		resolver.ErrUnresolvable,
		resolver.ErrMissingDependency,
		resolver.ErrUnableToFetch,
		suppliers.ErrPackageNotFound,
		suppliers.ErrNoMatchingVersion,
		store.ErrCorruptArchive,
	} {
		if errors.Is(err, kind) {
			return 2
		}
	}
	return 1
}
