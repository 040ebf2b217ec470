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

package yaml

import (
	"testing"

	"gotest.tools/v3/assert"
)

type doc struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`
}

func TestUnmarshalYAML(t *testing.T) {
	var d doc
	assert.NilError(t, Unmarshal([]byte("name: a\ncount: 2\n"), &d))
	assert.Equal(t, "a", d.Name)
	assert.Equal(t, 2, d.Count)
}

func TestUnmarshalJSON(t *testing.T) {
	var d doc
	assert.NilError(t, Unmarshal([]byte(`{"name": "a", "count": 2}`), &d))
	assert.Equal(t, "a", d.Name)
	assert.Equal(t, 2, d.Count)
}

func TestUnmarshalInvalid(t *testing.T) {
	var d doc
	assert.Assert(t, Unmarshal([]byte("name: [unclosed"), &d) != nil)
}
