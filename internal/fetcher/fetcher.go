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

// Package fetcher materializes packages into the store: pick the best
// version a supplier offers, download the archive unless the store
// already holds that version, and extract under the destination lock.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"go.lode.sh/lode/internal/store"
	"go.lode.sh/lode/internal/suppliers"
	"go.lode.sh/lode/pkg/recipe"
	"go.lode.sh/lode/pkg/slogext"
	"go.lode.sh/lode/pkg/version"
)

// ErrNoMatchingVersion is an alias of the supplier-level error for
// callers that only import the fetcher.
var ErrNoMatchingVersion = suppliers.ErrNoMatchingVersion

const (
	// retryAttempts bounds retries of transient supplier failures.
	retryAttempts = 3

	// retryBaseDelay is doubled after every failed attempt.
	retryBaseDelay = 250 * time.Millisecond
)

// Fetcher downloads packages through suppliers into a store.
type Fetcher struct {
	store *store.Store
	log   slogext.Logger

	// sleep is replaceable in tests so backoff does not slow them.
	sleep func(time.Duration)
}

// New creates a fetcher writing into st.
func New(st *store.Store, log slogext.Logger) *Fetcher {
	return &Fetcher{store: st, log: log, sleep: time.Sleep}
}

// Fetch materializes the best version of name matching rng from the
// supplier into targetTier. The store is consulted first: a version
// already present in any visible tier is returned without
// downloading.
func (f *Fetcher) Fetch(ctx context.Context, supplier suppliers.PackageSupplier, name recipe.PackageName,
	rng version.Range, allowPrerelease bool, targetTier store.Tier,
) (*store.Package, error) {
	var versions []version.Version
	err := f.withRetry(ctx, "getVersions", func() error {
		var err error
		versions, err = supplier.GetVersions(ctx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s offers no versions of %s", ErrNoMatchingVersion, supplier.Description(), name)
	}

	best := version.BestMatch(versions, []version.Range{rng}, allowPrerelease)
	if best.IsZero() {
		return nil, fmt.Errorf("%w: %s has no version of %s matching %s",
			ErrNoMatchingVersion, supplier.Description(), name, rng)
	}

	if p := f.store.GetPackage(name, best, ""); p != nil {
		f.log.With("package", p.String()).Debug("Already in store")
		return p, nil
	}

	var data []byte
	err = f.withRetry(ctx, "fetchPackageArchive", func() error {
		var err error
		data, err = supplier.FetchPackageArchive(ctx, name, version.ExactRange(best), allowPrerelease)
		return err
	})
	if err != nil {
		return nil, err
	}

	f.log.With("package", name).With("version", best).
		With("size", humanize.Bytes(uint64(len(data)))).
		Infof("Fetched %s %s", name, best)

	// StoreArchive re-checks presence under the destination lock, so
	// racing processes collapse into one extraction.
	return f.store.StoreArchive(data, targetTier, name, best)
}

// withRetry runs fn, retrying transient failures with exponential
// backoff. Definite failures (package not found, auth, protocol)
// surface immediately.
func (f *Fetcher) withRetry(ctx context.Context, op string, fn func() error) error {
	delay := retryBaseDelay

	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, suppliers.ErrTransient) {
			return err
		}
		if attempt == retryAttempts {
			break
		}

		f.log.With("operation", op).With("attempt", attempt).WithError(err).
			Debug("Transient supplier failure, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.after(delay):
		}
		delay *= 2
	}
	return err
}

// after sleeps via the injectable clock and closes the returned
// channel.
func (f *Fetcher) after(d time.Duration) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		f.sleep(d)
		close(ch)
	}()
	return ch
}
