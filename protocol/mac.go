// mac.go - Symmetric-key authenticated payloads.
// Copyright (C) 2026  David Stainton.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package protocol

import (
	"crypto/subtle"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// MacKeySize is the size of a Mac key in bytes.
const MacKeySize = 32

// MacKey derives a Mac key from a pre-shared secret, so the raw secret is
// never used as key material directly.
func MacKey(secret string) [MacKeySize]byte {
	return blake3.Sum256([]byte(secret))
}

// Mac is a payload authenticated with a keyed BLAKE3 tag.  The payload is
// kept in serialized form, and is only handed out by Verify.
type Mac[T any] struct {
	Body cbor.RawMessage
	Tag  [MacKeySize]byte
}

// NewMac serializes v and tags it under key.
func NewMac[T any](v *T, key [MacKeySize]byte) (*Mac[T], error) {
	body, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Mac[T]{
		Body: body,
		Tag:  macTag(key, body),
	}, nil
}

// Verify checks the tag under key and returns the payload.
func (m *Mac[T]) Verify(key [MacKeySize]byte) (*T, error) {
	expected := macTag(key, m.Body)
	if subtle.ConstantTimeCompare(expected[:], m.Tag[:]) != 1 {
		return nil, fmt.Errorf("%w: mac mismatch", ErrAuthenticationFailed)
	}
	v := new(T)
	if err := Unmarshal(m.Body, v); err != nil {
		return nil, NewGenericError(fmt.Sprintf("malformed payload: %v", err))
	}
	return v, nil
}

func macTag(key [MacKeySize]byte, body []byte) [MacKeySize]byte {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		// Only possible with a key of the wrong size.
		panic(err)
	}
	h.Write(body)

	var tag [MacKeySize]byte
	copy(tag[:], h.Sum(nil))
	return tag
}
