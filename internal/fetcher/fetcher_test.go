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

package fetcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"gotest.tools/v3/assert"

	"go.lode.sh/lode/internal/archive"
	"go.lode.sh/lode/internal/store"
	"go.lode.sh/lode/internal/suppliers"
	"go.lode.sh/lode/pkg/slogext"
	"go.lode.sh/lode/pkg/version"
)

func testSetup(t *testing.T) (*store.Store, *Fetcher, *suppliers.FilesystemSupplier) {
	t.Helper()

	fs := memfs.New()
	st := store.New(fs, slogext.NewDiscard(), store.Roots{User: "/user", Project: "/project"})

	for _, ver := range []string{"1.0.0", "1.1.0", "1.2.0-beta.1"} {
		data, err := archive.Zip(map[string][]byte{
			"b/lode.yaml": []byte(fmt.Sprintf("name: b\nversion: %s\n", ver)),
		})
		assert.NilError(t, err)
		assert.NilError(t, util.WriteFile(fs, "repo/b-"+ver+".zip", data, 0o644))
	}

	f := New(st, slogext.NewDiscard())
	f.sleep = func(time.Duration) {}
	return st, f, suppliers.NewFilesystemSupplier(fs, "repo")
}

func TestFetch(t *testing.T) {
	st, f, sup := testSetup(t)

	p, err := f.Fetch(context.Background(), sup, "b", version.AnyRange, false, store.TierUser)
	assert.NilError(t, err)
	assert.Equal(t, "1.1.0", p.Version.String())
	assert.Equal(t, store.TierUser, p.Tier)

	// The stored copy satisfies later lookups without a download.
	assert.Assert(t, st.GetPackage("b", version.MustParse("1.1.0"), "") != nil)
}

func TestFetchPrerelease(t *testing.T) {
	_, f, sup := testSetup(t)

	p, err := f.Fetch(context.Background(), sup, "b", version.AnyRange, true, store.TierUser)
	assert.NilError(t, err)
	assert.Equal(t, "1.2.0-beta.1", p.Version.String())
}

func TestFetchPrefersStore(t *testing.T) {
	st, f, sup := testSetup(t)

	// b@1.1.0 is already stored; Fetch must return that copy.
	data, err := archive.Zip(map[string][]byte{
		"b/lode.yaml": []byte("name: b\nversion: 1.1.0\n"),
		"b/marker":    []byte("stored"),
	})
	assert.NilError(t, err)
	stored, err := st.StoreArchive(data, store.TierProject, "b", version.MustParse("1.1.0"))
	assert.NilError(t, err)

	p, err := f.Fetch(context.Background(), sup, "b", version.AnyRange, false, store.TierUser)
	assert.NilError(t, err)
	assert.Equal(t, stored.Root, p.Root)
	assert.Equal(t, store.TierProject, p.Tier)
}

func TestFetchNoMatchingVersion(t *testing.T) {
	_, f, sup := testSetup(t)

	_, err := f.Fetch(context.Background(), sup, "b", version.MustParseRange(">=9.0.0"), false, store.TierUser)
	assert.Assert(t, errors.Is(err, ErrNoMatchingVersion))
}

func TestRetryOnTransient(t *testing.T) {
	_, f, _ := testSetup(t)

	calls := 0
	err := f.withRetry(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: flaky", suppliers.ErrTransient)
		}
		return nil
	})
	assert.NilError(t, err)
	assert.Equal(t, 3, calls)
}

func TestNoRetryOnNotFound(t *testing.T) {
	_, f, _ := testSetup(t)

	calls := 0
	err := f.withRetry(context.Background(), "op", func() error {
		calls++
		return fmt.Errorf("%w: gone", suppliers.ErrPackageNotFound)
	})
	assert.Assert(t, errors.Is(err, suppliers.ErrPackageNotFound))
	assert.Equal(t, 1, calls)
}

func TestRetryGivesUp(t *testing.T) {
	_, f, _ := testSetup(t)

	calls := 0
	err := f.withRetry(context.Background(), "op", func() error {
		calls++
		return fmt.Errorf("%w: still flaky", suppliers.ErrTransient)
	})
	assert.Assert(t, errors.Is(err, suppliers.ErrTransient))
	assert.Equal(t, 3, calls)
}
