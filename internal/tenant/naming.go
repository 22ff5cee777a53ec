// Copyright 2026 The Pollify Authors
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

package tenant

import (
	"strings"
	"unicode"
)

// tenantIDPrefix is the abbreviation part of a tenant id, derived from the
// capitals of the school name: "University of Ghana" gives "ug". The
// result always starts with a letter and never with "pg", which
// PostgreSQL reserves for system schemas.
func tenantIDPrefix(name string) string {
	var capitals []rune
	for _, r := range name {
		if r >= 'A' && r <= 'Z' {
			capitals = append(capitals, r)
		}
	}

	abbr := string(capitals)
	switch {
	case len(abbr) < 2:
		abbr = firstN(strings.TrimSpace(name), 3)
	case len(abbr) > 4:
		abbr = abbr[:4]
	}

	var b strings.Builder
	for _, r := range strings.ToLower(abbr) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	prefix := b.String()
	if prefix == "" || !unicode.IsLetter(rune(prefix[0])) || strings.HasPrefix(prefix, "pg") {
		prefix = "t" + prefix
	}
	return prefix
}

// schoolCodeBase takes the initials of a multi-word name, skipping OF and
// THE, or the first six letters of a single word.
func schoolCodeBase(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, strings.ToUpper(name))

	words := strings.Fields(cleaned)
	if len(words) >= 2 {
		var code strings.Builder
		for _, w := range words {
			if w == "OF" || w == "THE" {
				continue
			}
			code.WriteByte(w[0])
		}
		if code.Len() > 0 {
			return code.String()
		}
	}
	joined := strings.Join(words, "")
	if joined == "" {
		return "SCH"
	}
	return firstN(joined, 6)
}

func firstN(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}
