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

package credential

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cheap parameters keep the suite fast
var testParams = Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

// TestPurpose: Validates Argon2id hashing round-trips and rejects wrong passwords.
// Scope: Unit Test
// Security: Credential storage (CWE-916)
// Expected: Correct password verifies, wrong password does not, salts differ per hash.
// Test Case ID: CRD-01
func TestHasher_HashAndVerify(t *testing.T) {
	h := NewHasher(testParams)

	encoded, err := h.Hash("correct-horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$"))

	ok, err := h.Verify("correct-horse", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong-horse", encoded)
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := h.Hash("correct-horse")
	require.NoError(t, err)
	assert.NotEqual(t, encoded, again)
}

func TestHasher_VerifyUsesStoredParameters(t *testing.T) {
	encoded, err := NewHasher(testParams).Hash("correct-horse")
	require.NoError(t, err)

	ok, err := NewHasher(Params{Memory: 2048, Iterations: 2}).Verify("correct-horse", encoded)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHasher_VerifyRejectsMalformedHashes(t *testing.T) {
	h := NewHasher(testParams)
	for _, bad := range []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$garbage$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1024,t=1,p=1$!!!$aGFzaA",
	} {
		_, err := h.Verify("x", bad)
		assert.ErrorIs(t, err, ErrInvalidHash, bad)
	}
}
