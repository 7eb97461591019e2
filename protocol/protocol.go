// protocol.go - Broker RPC contract.
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

// Package protocol defines the broker's RPC contract, the descriptors
// that relays announce, and the authenticated wrappers they travel in.
package protocol

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/fxamacker/cbor/v2"

	"github.com/katzenpost/broker/blindsig"
)

const (
	// DomainExitDescriptor separates exit self-signatures.
	DomainExitDescriptor = "exit-descriptor"

	// DomainExitList separates broker signatures over the exit catalog.
	DomainExitList = "exit-list"
)

// TestDummyUserID is the user id every TestDummy credential maps to.
const TestDummyUserID uint64 = 42

var ccbor cbor.EncMode

// AccountLevel selects which blind signing key family a credential is
// issued under.
type AccountLevel uint8

const (
	// Free is the unpaid account level.
	Free AccountLevel = iota

	// Plus is the paid account level.
	Plus
)

// String returns the human readable account level.
func (l AccountLevel) String() string {
	switch l {
	case Free:
		return "free"
	case Plus:
		return "plus"
	default:
		return fmt.Sprintf("[invalid account level: %d]", uint8(l))
	}
}

// Valid returns true iff l is a known account level.
func (l AccountLevel) Valid() bool {
	return l == Free || l == Plus
}

// CredentialKind identifies how a user proves eligibility.
type CredentialKind uint8

const (
	// CredentialTestDummy is a placeholder identity used until real
	// credential kinds land.
	CredentialTestDummy CredentialKind = iota
)

// Credential is presented to obtain a bearer token.
type Credential struct {
	Kind    CredentialKind
	Payload []byte `cbor:",omitempty"`
}

// UserID maps the credential to a stable user identifier.
func (c *Credential) UserID() (uint64, error) {
	switch c.Kind {
	case CredentialTestDummy:
		return TestDummyUserID, nil
	default:
		return 0, fmt.Errorf("%w: unknown credential kind %d", ErrForbidden, c.Kind)
	}
}

// Broker is the operation set the broker exposes to clients and relays.
type Broker interface {
	// GetSubkey returns the PKCS #1 DER encoded blind signing subkey for the
	// account level and epoch.
	GetSubkey(ctx context.Context, level AccountLevel, epoch uint16) ([]byte, error)

	// GetAuthToken exchanges a credential for a bearer token.
	GetAuthToken(ctx context.Context, credential *Credential) (string, error)

	// GetConnectToken blind signs a blinded client token for the holder
	// of a valid bearer token.
	GetConnectToken(ctx context.Context, authToken string, level AccountLevel, epoch uint16, blinded blindsig.BlindedClientToken) (*blindsig.BlindedSignature, error)

	// GetExits returns the broker signed exit catalog.
	GetExits(ctx context.Context) (*Signed[ExitList], error)

	// GetRoutes authenticates an unblinded credential and returns the
	// candidate paths to the given exit.
	GetRoutes(ctx context.Context, token blindsig.ClientToken, sig *blindsig.UnblindedSignature, exit netip.AddrPort) (*RouteSet, error)

	// InsertExit registers or refreshes an exit.
	InsertExit(ctx context.Context, descriptor *Mac[Signed[ExitDescriptor]]) error

	// InsertBridge registers or refreshes a bridge.
	InsertBridge(ctx context.Context, descriptor *Mac[BridgeDescriptor]) error
}

// Marshal serializes v with the canonical CBOR encoding every
// authenticated wrapper is computed over.
func Marshal(v interface{}) ([]byte, error) {
	return ccbor.Marshal(v)
}

// Unmarshal deserializes CBOR encoded data into v.
func Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}

func init() {
	var err error
	opts := cbor.CanonicalEncOptions()
	ccbor, err = opts.EncMode()
	if err != nil {
		panic(err)
	}
}
