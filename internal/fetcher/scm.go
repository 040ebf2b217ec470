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
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5/osfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/pkg/errors"

	"go.lode.sh/lode/internal/archive"
	"go.lode.sh/lode/internal/store"
	"go.lode.sh/lode/pkg/recipe"
	"go.lode.sh/lode/pkg/slogext"
	"go.lode.sh/lode/pkg/version"
)

// GitRepositoryFetcher materializes repository dependencies by
// cloning the repository at the pinned ref and storing the working
// tree like any other archive. Stored repository packages live under
// the branch-form version "~<ref>".
type GitRepositoryFetcher struct {
	store *store.Store
	log   slogext.Logger
}

// NewGitRepositoryFetcher creates a fetcher storing into st.
func NewGitRepositoryFetcher(st *store.Store, log slogext.Logger) *GitRepositoryFetcher {
	return &GitRepositoryFetcher{store: st, log: log}
}

// Fetch clones (url, ref) and stores the checkout.
func (g *GitRepositoryFetcher) Fetch(ctx context.Context, name recipe.PackageName, ref recipe.RepositoryRef, tier store.Tier) (*store.Package, error) {
	if ref.Kind != "git" {
		return nil, fmt.Errorf("unsupported repository kind %q", ref.Kind)
	}

	tmp, err := os.MkdirTemp("", "lode-git-*")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create clone directory")
	}
	defer os.RemoveAll(tmp)

	g.log.With("url", ref.URL).With("ref", ref.Ref).Debug("Cloning repository dependency")
	repo, err := gogit.PlainCloneContext(ctx, tmp, false, &gogit.CloneOptions{URL: ref.URL})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to clone %s", ref.URL)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open worktree")
	}

	// The ref is a commit hash or a named ref; try both.
	if err := wt.Checkout(&gogit.CheckoutOptions{Hash: plumbing.NewHash(ref.Ref)}); err != nil {
		if err := wt.Checkout(&gogit.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(ref.Ref)}); err != nil {
			return nil, errors.Wrapf(err, "failed to check out %s", ref.Ref)
		}
	}

	data, err := archive.PackDir(osfs.New(tmp), ".")
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack checkout")
	}

	p, err := g.store.StoreArchive(data, tier, name, version.MustParse("~"+ref.Ref))
	if err != nil {
		return nil, err
	}
	p.Repository = &ref
	return p, nil
}
