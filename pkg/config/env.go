// Copyright 2025 Kadir Pekel
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
	"regexp"
	"strings"
)

// envPattern matches ${VAR} and ${VAR:-default} references in config files.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv substitutes ${VAR} and ${VAR:-default} references with values
// from the environment. Unset variables without a default expand to "".
func ExpandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(ref string) string {
		m := envPattern.FindStringSubmatch(ref)
		name, def := m[1], m[3]
		if val, ok := os.LookupEnv(name); ok && strings.TrimSpace(val) != "" {
			return val
		}
		return def
	})
}
