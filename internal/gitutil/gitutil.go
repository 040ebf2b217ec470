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

// Package gitutil implements the small amount of git plumbing the
// index supplier needs: keep a metadata repository cloned and pulled.
package gitutil

import (
	"context"
	"sync"

	gogit "github.com/go-git/go-git/v5"
	"github.com/pkg/errors"

	"go.lode.sh/lode/pkg/slogext"
)

// Mirror is a local working tree tracking a remote repository. The
// clone happens on first use; the tree is updated at most once per
// process.
type Mirror struct {
	// URL is the remote repository.
	URL string

	// Dir is the local working tree location.
	Dir string

	log slogext.Logger

	updateOnce sync.Once
	updateErr  error
}

// NewMirror creates a mirror of url at dir.
func NewMirror(log slogext.Logger, url, dir string) *Mirror {
	return &Mirror{URL: url, Dir: dir, log: log}
}

// Ensure makes sure the working tree exists and has been updated this
// process. Safe to call before every read.
func (m *Mirror) Ensure(ctx context.Context) error {
	m.updateOnce.Do(func() {
		m.updateErr = m.cloneOrPull(ctx)
	})
	return m.updateErr
}

func (m *Mirror) cloneOrPull(ctx context.Context) error {
	repo, err := gogit.PlainOpen(m.Dir)
	if err == gogit.ErrRepositoryNotExists {
		m.log.With("url", m.URL).With("dir", m.Dir).Debug("Cloning repository")
		_, err := gogit.PlainCloneContext(ctx, m.Dir, false, &gogit.CloneOptions{
			URL:   m.URL,
			Depth: 1,
		})
		return errors.Wrapf(err, "failed to clone %s", m.URL)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", m.Dir)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return errors.Wrap(err, "failed to open worktree")
	}

	m.log.With("dir", m.Dir).Debug("Updating repository")
	err = wt.PullContext(ctx, &gogit.PullOptions{Depth: 1})
	if err != nil && err != gogit.NoErrAlreadyUpToDate {
		return errors.Wrapf(err, "failed to update %s", m.Dir)
	}
	return nil
}
