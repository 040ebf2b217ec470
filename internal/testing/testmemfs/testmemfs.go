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

// Package testmemfs is a helper for tests that rely on the
// filesystem.
package testmemfs

import (
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
)

// WithRecipe creates a new in-memory filesystem with a lode.yaml in
// the given directory.
func WithRecipe(dir, doc string) (billy.Filesystem, error) {
	fs := memfs.New()
	if err := util.WriteFile(fs, dir+"/lode.yaml", []byte(doc), 0o644); err != nil {
		return nil, err
	}
	return fs, nil
}
