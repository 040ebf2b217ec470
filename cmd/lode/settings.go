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
	"io"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"gopkg.in/yaml.v3"

	intyaml "go.lode.sh/lode/internal/yaml"
)

// settingsFile is the per-project driver configuration, relative to
// the project root.
const settingsFile = ".lode/settings.yaml"

// settings is driver configuration that outlives one invocation:
// registered search paths and preferred registries.
type settings struct {
	// SearchPaths are ad-hoc package directories registered with
	// add-path.
	SearchPaths []searchPathEntry `yaml:"searchPaths,omitempty"`

	// Registries overrides the default registry list.
	Registries []string `yaml:"registries,omitempty"`
}

type searchPathEntry struct {
	Tier string `yaml:"tier"`
	Dir  string `yaml:"dir"`
}

// loadSettings reads the settings file, returning empty settings when
// there is none.
func loadSettings(fs billy.Filesystem, dir string) (*settings, error) {
	f, err := fs.Open(path.Join(dir, settingsFile))
	if err != nil {
		return &settings{}, nil
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	var s settings
	if err := intyaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// save writes the settings file.
func (s *settings) save(fs billy.Filesystem, dir string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return util.WriteFile(fs, path.Join(dir, settingsFile), data, 0o644)
}
