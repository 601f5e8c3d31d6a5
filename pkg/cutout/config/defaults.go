// Copyright 2024 The cutout.io Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Document is a normalized job config.
type Document map[string]interface{}

func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}

func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func (d Document) YAML() ([]byte, error) {
	return yaml.Marshal(map[string]interface{}(d))
}

// DefaultDocument is used when no defaults file is configured. It carries no
// cutout sizes, those must come from the user.
func DefaultDocument() map[string]interface{} {
	return map[string]interface{}{
		KeyInputCSV: "",
		KeyBands:    "all",
		KeyColorset: "i r g",
	}
}

// LoadDefaults reads a YAML mapping of default config values.
func LoadDefaults(path string) (map[string]interface{}, error) {
	if path == "" {
		return DefaultDocument(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defaults := map[string]interface{}{}
	if err := yaml.Unmarshal(content, &defaults); err != nil {
		return nil, err
	}
	return defaults, nil
}
