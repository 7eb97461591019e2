// glue.go - Broker subsystem glue.
// Copyright (C) 2017  Yawning Angel, David Stainton.
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

// Package glue implements the glue structure that ties all the internal
// subpackages together.  It is the explicit broker context handed to every
// subsystem in place of process wide state.
package glue

import (
	"context"
	"net/netip"

	"github.com/katzenpost/hpqc/sign"

	"github.com/katzenpost/broker/blindsig"
	"github.com/katzenpost/broker/core/log"
	"github.com/katzenpost/broker/protocol"
	"github.com/katzenpost/broker/server/config"
	"github.com/katzenpost/broker/server/internal/store"
)

// Glue is the structure that binds the internal components together.
type Glue interface {
	Config() *config.Config
	LogBackend() *log.Backend
	Store() store.Store

	Keyring() Keyring
	Tokens() Tokens
	Catalog() Catalog
	Registry() Registry
	Routes() Routes
}

// Keyring holds the blind signing key families and the broker master key.
type Keyring interface {
	SubkeyPublicKey(protocol.AccountLevel, uint16) []byte
	BlindSign(protocol.AccountLevel, uint16, blindsig.BlindedClientToken) (*blindsig.BlindedSignature, error)
	PublicKey(protocol.AccountLevel) *blindsig.PublicKey
	Authenticate(blindsig.ClientToken, *blindsig.UnblindedSignature) (protocol.AccountLevel, error)
	MasterKey() sign.PrivateKey
	MasterPublicKey() sign.PublicKey
}

type Tokens interface {
	IssueBearer(context.Context, *protocol.Credential) (string, error)
	Exchange(context.Context, string, protocol.AccountLevel, uint16, blindsig.BlindedClientToken) (*blindsig.BlindedSignature, error)
	Prune(context.Context) error
}

type Catalog interface {
	Snapshot(context.Context) (*protocol.Signed[protocol.ExitList], error)
}

type Registry interface {
	RegisterExit(context.Context, *protocol.Mac[protocol.Signed[protocol.ExitDescriptor]]) error
	RegisterBridge(context.Context, *protocol.Mac[protocol.BridgeDescriptor]) error
	QueryBridges(context.Context, string) ([]*protocol.BridgeDescriptor, error)
}

type Routes interface {
	Resolve(context.Context, blindsig.ClientToken, *blindsig.UnblindedSignature, netip.AddrPort) (*protocol.RouteSet, error)
}
