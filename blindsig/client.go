// client.go - Client side blinding.
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

package blindsig

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/blindsign/blindrsa"
)

var errWrongSubkey = errors.New("blindsig: signature is not under the blinded subkey")

// BlindingState holds what a client needs to unblind the signature over
// one BlindedClientToken.
type BlindingState struct {
	client blindrsa.Client
	state  blindrsa.State

	epoch   uint16
	usedKey []byte
}

// Blind blinds token for the PKCS #1 DER encoded subkey of epoch.
func Blind(r io.Reader, subkeyDER []byte, epoch uint16, token ClientToken) (BlindedClientToken, *BlindingState, error) {
	subPub, err := parseSubkey(subkeyDER)
	if err != nil {
		return nil, nil, err
	}
	client, err := blindrsa.NewClient(Variant, subPub)
	if err != nil {
		return nil, nil, err
	}
	prepared, err := client.Prepare(r, token[:])
	if err != nil {
		return nil, nil, err
	}
	blinded, state, err := client.Blind(r, prepared)
	if err != nil {
		return nil, nil, err
	}
	return blinded, &BlindingState{
		client:  client,
		state:   state,
		epoch:   epoch,
		usedKey: append([]byte{}, subkeyDER...),
	}, nil
}

// Unblind turns the signer's response into an UnblindedSignature.  The
// caller should still check the result with PublicKey.BlindVerify, since
// only that authenticates the subkey.
func (s *BlindingState) Unblind(sig *BlindedSignature) (*UnblindedSignature, error) {
	if sig.Epoch != s.epoch || !bytes.Equal(sig.UsedKey, s.usedKey) {
		return nil, errWrongSubkey
	}
	unblinded, err := s.client.Finalize(s.state, sig.BlindedSig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return &UnblindedSignature{
		Epoch:      sig.Epoch,
		UsedKey:    sig.UsedKey,
		UsedKeySig: sig.UsedKeySig,
		Sig:        unblinded,
	}, nil
}

func parseSubkey(der []byte) (*rsa.PublicKey, error) {
	pk, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubkey, err)
	}
	return pk, nil
}
