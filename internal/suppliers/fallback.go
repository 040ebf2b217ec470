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

package suppliers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.lode.sh/lode/pkg/recipe"
	"go.lode.sh/lode/pkg/slogext"
	"go.lode.sh/lode/pkg/version"
)

// FallbackCooldown is how long a failed fallback entry is skipped
// before it is tried again.
const FallbackCooldown = 10 * time.Minute

// FallbackSupplier delegates to an ordered list of suppliers. The
// first entry is always tried; later entries are only consulted when
// the previous ones fail and their own last failure is older than the
// cooldown. When everything fails, the first supplier's error is the
// one reported.
type FallbackSupplier struct {
	log slogext.Logger

	// now is the clock, replaceable in tests.
	now func() time.Time

	mu      sync.Mutex
	entries []*fallbackEntry
}

type fallbackEntry struct {
	s           PackageSupplier
	lastFailure time.Time
}

var _ PackageSupplier = &FallbackSupplier{}

// NewFallbackSupplier composes the given suppliers. The first one is
// the primary.
func NewFallbackSupplier(log slogext.Logger, ss ...PackageSupplier) *FallbackSupplier {
	entries := make([]*fallbackEntry, 0, len(ss))
	for _, s := range ss {
		entries = append(entries, &fallbackEntry{s: s})
	}
	return &FallbackSupplier{log: log, now: time.Now, entries: entries}
}

// Description implements PackageSupplier.
func (f *FallbackSupplier) Description() string {
	descs := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		descs = append(descs, e.s.Description())
	}
	return fmt.Sprintf("fallback(%s)", strings.Join(descs, ", "))
}

// try runs op against each eligible supplier in order.
func (f *FallbackSupplier) try(op string, fn func(PackageSupplier) error) error {
	var firstErr error
	for i, e := range f.entries {
		f.mu.Lock()
		skip := i > 0 && !e.lastFailure.IsZero() && f.now().Sub(e.lastFailure) < FallbackCooldown
		f.mu.Unlock()
		if skip {
			f.log.With("supplier", e.s.Description()).Debug("Skipping supplier in cooldown")
			continue
		}

		err := fn(e.s)
		f.mu.Lock()
		if err != nil {
			e.lastFailure = f.now()
		} else {
			e.lastFailure = time.Time{}
		}
		f.mu.Unlock()

		if err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
		f.log.With("supplier", e.s.Description()).With("operation", op).
			WithError(err).Debug("Supplier failed, trying fallback")
	}

	if firstErr == nil {
		firstErr = fmt.Errorf("%w: no suppliers configured", ErrUnsupported)
	}
	return firstErr
}

// GetVersions implements PackageSupplier.
func (f *FallbackSupplier) GetVersions(ctx context.Context, name recipe.PackageName) ([]version.Version, error) {
	var out []version.Version
	err := f.try("getVersions", func(s PackageSupplier) error {
		vs, err := s.GetVersions(ctx, name)
		if err != nil {
			return err
		}
		out = vs
		return nil
	})
	return out, err
}

// FetchPackageArchive implements PackageSupplier.
func (f *FallbackSupplier) FetchPackageArchive(ctx context.Context, name recipe.PackageName, rng version.Range, allowPrerelease bool) ([]byte, error) {
	var out []byte
	err := f.try("fetchPackageArchive", func(s PackageSupplier) error {
		data, err := s.FetchPackageArchive(ctx, name, rng, allowPrerelease)
		if err != nil {
			return err
		}
		out = data
		return nil
	})
	return out, err
}

// FetchPackageRecipe implements PackageSupplier.
func (f *FallbackSupplier) FetchPackageRecipe(ctx context.Context, name recipe.PackageName, rng version.Range, allowPrerelease bool) (*recipe.Recipe, error) {
	var out *recipe.Recipe
	err := f.try("fetchPackageRecipe", func(s PackageSupplier) error {
		r, err := s.FetchPackageRecipe(ctx, name, rng, allowPrerelease)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// SearchPackages implements PackageSupplier.
func (f *FallbackSupplier) SearchPackages(ctx context.Context, query string) ([]SearchResult, error) {
	var out []SearchResult
	err := f.try("searchPackages", func(s PackageSupplier) error {
		rs, err := s.SearchPackages(ctx, query)
		if err != nil {
			return err
		}
		out = rs
		return nil
	})
	return out, err
}
