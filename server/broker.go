// broker.go - Broker RPC operations.
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

package server

import (
	"context"
	"errors"
	"net/netip"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/broker/blindsig"
	"github.com/katzenpost/broker/core/epochtime"
	"github.com/katzenpost/broker/protocol"
	"github.com/katzenpost/broker/server/internal/glue"
	"github.com/katzenpost/broker/server/internal/instrument"
)

var (
	errInternal     = protocol.NewGenericError("internal error")
	errTimeout      = protocol.NewGenericError("request timed out")
	errInvalidLevel = protocol.NewGenericError("invalid account level")
	errInvalidEpoch = protocol.NewGenericError("epoch out of range")
)

// Broker is the protocol.Broker served over RPC.  It delegates every
// operation to the subsystem owning it, and makes sure that whatever goes
// wrong is reported to the caller in terms of the protocol errors only.
type Broker struct {
	glue glue.Glue
	log  *logging.Logger

	epoch func() uint16
}

var _ protocol.Broker = (*Broker)(nil)

// GetSubkey implements protocol.Broker.
func (b *Broker) GetSubkey(ctx context.Context, level protocol.AccountLevel, epoch uint16) ([]byte, error) {
	if err := b.checkLevelAndEpoch(level, epoch); err != nil {
		return nil, b.finish(ctx, "get_subkey", err)
	}
	return b.glue.Keyring().SubkeyPublicKey(level, epoch), b.finish(ctx, "get_subkey", nil)
}

// GetAuthToken implements protocol.Broker.
func (b *Broker) GetAuthToken(ctx context.Context, credential *protocol.Credential) (string, error) {
	token, err := b.glue.Tokens().IssueBearer(ctx, credential)
	return token, b.finish(ctx, "get_auth_token", err)
}

// GetConnectToken implements protocol.Broker.
func (b *Broker) GetConnectToken(ctx context.Context, authToken string, level protocol.AccountLevel, epoch uint16, blinded blindsig.BlindedClientToken) (*blindsig.BlindedSignature, error) {
	if err := b.checkLevelAndEpoch(level, epoch); err != nil {
		return nil, b.finish(ctx, "get_connect_token", err)
	}
	sig, err := b.glue.Tokens().Exchange(ctx, authToken, level, epoch, blinded)
	if err != nil {
		return nil, b.finish(ctx, "get_connect_token", err)
	}
	return sig, b.finish(ctx, "get_connect_token", nil)
}

// GetExits implements protocol.Broker.
func (b *Broker) GetExits(ctx context.Context) (*protocol.Signed[protocol.ExitList], error) {
	exits, err := b.glue.Catalog().Snapshot(ctx)
	if err != nil {
		return nil, b.finish(ctx, "get_exits", err)
	}
	return exits, b.finish(ctx, "get_exits", nil)
}

// GetRoutes implements protocol.Broker.
func (b *Broker) GetRoutes(ctx context.Context, token blindsig.ClientToken, sig *blindsig.UnblindedSignature, exit netip.AddrPort) (*protocol.RouteSet, error) {
	routes, err := b.glue.Routes().Resolve(ctx, token, sig, exit)
	if err != nil {
		return nil, b.finish(ctx, "get_routes", err)
	}
	return routes, b.finish(ctx, "get_routes", nil)
}

// InsertExit implements protocol.Broker.
func (b *Broker) InsertExit(ctx context.Context, descriptor *protocol.Mac[protocol.Signed[protocol.ExitDescriptor]]) error {
	return b.finish(ctx, "insert_exit", b.glue.Registry().RegisterExit(ctx, descriptor))
}

// InsertBridge implements protocol.Broker.
func (b *Broker) InsertBridge(ctx context.Context, descriptor *protocol.Mac[protocol.BridgeDescriptor]) error {
	return b.finish(ctx, "insert_bridge", b.glue.Registry().RegisterBridge(ctx, descriptor))
}

func (b *Broker) checkLevelAndEpoch(level protocol.AccountLevel, epoch uint16) error {
	if !level.Valid() {
		return errInvalidLevel
	}

	// Subkeys are derived on demand, so don't let callers have arbitrary
	// epochs derived.
	skew := b.glue.Config().Keys.EpochSkew()
	if skew >= 0 && int(epochtime.Distance(epoch, b.epoch())) > skew {
		return errInvalidEpoch
	}
	return nil
}

// finish accounts for a finished operation, and replaces errors that are
// not part of the protocol with ones that do not leak internal state.
func (b *Broker) finish(ctx context.Context, op string, err error) error {
	var generic *protocol.GenericError
	switch {
	case err == nil:
		instrument.RPCRequest(op, "ok")
		return nil
	case errors.Is(err, protocol.ErrRateLimited):
		instrument.RPCRequest(op, "rate_limited")
	case errors.Is(err, protocol.ErrForbidden):
		instrument.RPCRequest(op, "forbidden")
	case errors.Is(err, protocol.ErrAuthenticationFailed):
		instrument.RPCRequest(op, "authentication")
	case errors.As(err, &generic):
		instrument.RPCRequest(op, "generic")
	case ctx.Err() != nil:
		b.log.Debugf("%v: %v", op, err)
		instrument.RPCRequest(op, "timeout")
		return errTimeout
	default:
		b.log.Errorf("%v: %v", op, err)
		instrument.RPCRequest(op, "internal")
		return errInternal
	}
	b.log.Debugf("%v: %v", op, err)
	return err
}

// NewBroker returns a Broker serving the subsystems of g.
func NewBroker(g glue.Glue) *Broker {
	return &Broker{
		glue:  g,
		log:   g.LogBackend().GetLogger("broker"),
		epoch: epochtime.Current,
	}
}
