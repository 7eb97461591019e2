// signed.go - Domain separated self-signed payloads.
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
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/katzenpost/hpqc/sign"
	"github.com/katzenpost/hpqc/sign/ed25519"
)

// SignatureScheme is the scheme that Signed payloads are signed with.
var SignatureScheme sign.Scheme = ed25519.Scheme()

// Signed is a payload signed by the key embedded alongside it, under a
// domain separation tag.
type Signed[T any] struct {
	Body      cbor.RawMessage
	PublicKey []byte
	Signature []byte
}

// NewSigned serializes v and signs it with sk under domain.
func NewSigned[T any](v *T, domain string, sk sign.PrivateKey) (*Signed[T], error) {
	body, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	pk, err := sk.Public().(sign.PublicKey).MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &Signed[T]{
		Body:      body,
		PublicKey: pk,
		Signature: SignatureScheme.Sign(sk, signedMessage(domain, body), nil),
	}, nil
}

// Signer returns the public key the payload claims to be signed by.  The
// key is not authenticated until Verify succeeds.
func (s *Signed[T]) Signer() (sign.PublicKey, error) {
	pk, err := SignatureScheme.UnmarshalBinaryPublicKey(s.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid public key: %v", ErrAuthenticationFailed, err)
	}
	return pk, nil
}

// Verify checks the signature under domain, then applies predicate to the
// signing key, and only then returns the payload.  A nil predicate accepts
// any signer.
func (s *Signed[T]) Verify(domain string, predicate func(sign.PublicKey) bool) (*T, error) {
	pk, err := s.Signer()
	if err != nil {
		return nil, err
	}
	if !SignatureScheme.Verify(pk, signedMessage(domain, s.Body), s.Signature, nil) {
		return nil, fmt.Errorf("%w: bad signature", ErrAuthenticationFailed)
	}
	if predicate != nil && !predicate(pk) {
		return nil, fmt.Errorf("%w: signer rejected", ErrAuthenticationFailed)
	}
	v := new(T)
	if err := Unmarshal(s.Body, v); err != nil {
		return nil, NewGenericError(fmt.Sprintf("malformed payload: %v", err))
	}
	return v, nil
}

// SignedBy returns a Verify predicate accepting only the key pk.
func SignedBy(pk sign.PublicKey) func(sign.PublicKey) bool {
	return func(signer sign.PublicKey) bool {
		return signer.Equal(pk)
	}
}

func signedMessage(domain string, body []byte) []byte {
	h := blake3.New()
	h.WriteString(domain)
	h.Write([]byte{0})
	h.Write(body)
	return h.Sum(nil)
}
