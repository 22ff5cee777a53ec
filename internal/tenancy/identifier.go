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

package tenancy

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
)

// MaxIdentifierLength is the PostgreSQL identifier length limit (NAMEDATALEN - 1).
const MaxIdentifierLength = 63

var (
	// ErrInvalidIdentifier is returned for any string that is not a safe SQL identifier.
	ErrInvalidIdentifier = errors.New("invalid schema identifier")

	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// ValidateSchemaName rejects anything that is not a letter or underscore
// followed by letters, digits or underscores, up to 63 bytes.
// It must run before a name reaches any schema-qualifying statement.
func ValidateSchemaName(identifier string) error {
	if identifier == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	if len(identifier) > MaxIdentifierLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidIdentifier, MaxIdentifierLength)
	}
	if !identifierPattern.MatchString(identifier) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, identifier)
	}
	return nil
}

// QuoteIdentifier validates the name and returns its double-quoted form.
func QuoteIdentifier(identifier string) (string, error) {
	if err := ValidateSchemaName(identifier); err != nil {
		return "", err
	}
	return pgx.Identifier{identifier}.Sanitize(), nil
}

// SearchPath builds the search_path value that puts schema first and public second.
func SearchPath(schema string) (string, error) {
	quoted, err := QuoteIdentifier(schema)
	if err != nil {
		return "", err
	}
	return quoted + ", public", nil
}
