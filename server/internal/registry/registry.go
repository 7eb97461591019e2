// registry.go - Exit and bridge descriptor registry.
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

// Package registry authenticates and stores relay descriptors.
package registry

import (
	"context"
	"fmt"
	"math"
	"net/netip"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/broker/protocol"
	"github.com/katzenpost/broker/server/internal/glue"
	"github.com/katzenpost/broker/server/internal/instrument"
	"github.com/katzenpost/broker/server/internal/store"
)

// Registry accepts descriptors from relay operators.  Exits must hold the
// exit token and self-sign their descriptor, bridges need only hold the
// bridge token.
type Registry struct {
	glue glue.Glue
	log  *logging.Logger

	exitKey   [protocol.MacKeySize]byte
	bridgeKey [protocol.MacKeySize]byte

	now func() time.Time
}

// RegisterExit verifies and stores an exit descriptor, replacing any prior
// descriptor from the same exit key.
func (r *Registry) RegisterExit(ctx context.Context, m *protocol.Mac[protocol.Signed[protocol.ExitDescriptor]]) error {
	signed, err := m.Verify(r.exitKey)
	if err != nil {
		instrument.Registration("exit", "bad_mac")
		return err
	}
	desc, err := signed.Verify(protocol.DomainExitDescriptor, nil)
	if err != nil {
		instrument.Registration("exit", "bad_signature")
		return err
	}
	if err = desc.Validate(); err != nil {
		instrument.Registration("exit", "invalid")
		return protocol.NewGenericError(err.Error())
	}
	if desc.Expiry > math.MaxInt64 {
		instrument.Registration("exit", "invalid")
		return protocol.NewGenericError("expiry out of range")
	}

	row := &store.ExitRow{
		PubKey:    signed.PublicKey,
		C2EListen: desc.C2EListen.String(),
		B2EListen: desc.B2EListen.String(),
		Country:   desc.Country,
		City:      desc.City,
		Load:      desc.Load,
		Expiry:    int64(desc.Expiry),
	}
	if err = r.glue.Store().UpsertExit(ctx, row); err != nil {
		instrument.Registration("exit", "store_error")
		return err
	}

	instrument.Registration("exit", "ok")
	r.log.Debugf("Registered exit %x at %v.", row.PubKey, row.C2EListen)
	return nil
}

// RegisterBridge verifies and stores a bridge descriptor, replacing any
// prior descriptor for the same control listener.
func (r *Registry) RegisterBridge(ctx context.Context, m *protocol.Mac[protocol.BridgeDescriptor]) error {
	desc, err := m.Verify(r.bridgeKey)
	if err != nil {
		instrument.Registration("bridge", "bad_mac")
		return err
	}
	if !desc.ControlListen.IsValid() {
		instrument.Registration("bridge", "invalid")
		return protocol.NewGenericError("invalid control listen address")
	}
	if desc.Expiry > math.MaxInt64 {
		instrument.Registration("bridge", "invalid")
		return protocol.NewGenericError("expiry out of range")
	}

	row := &store.BridgeRow{
		Listen: desc.ControlListen.String(),
		Cookie: desc.ControlCookie,
		Pool:   desc.Pool,
		Expiry: int64(desc.Expiry),
	}
	if err = r.glue.Store().UpsertBridge(ctx, row); err != nil {
		instrument.Registration("bridge", "store_error")
		return err
	}

	instrument.Registration("bridge", "ok")
	r.log.Debugf("Registered bridge %v in pool '%v'.", row.Listen, row.Pool)
	return nil
}

// QueryBridges returns one live bridge per pool.  Within a pool the bridge
// is picked by rendezvous hashing on selectionKey, so the same key keeps
// landing on the same bridge while the pool is stable.
func (r *Registry) QueryBridges(ctx context.Context, selectionKey string) ([]*protocol.BridgeDescriptor, error) {
	rows, err := r.glue.Store().Bridges(ctx, r.now().Unix())
	if err != nil {
		return nil, err
	}

	type pick struct {
		row   *store.BridgeRow
		score [32]byte
	}
	best := make(map[string]*pick)
	var pools []string
	for _, row := range rows {
		score := rendezvousScore(row.Listen, selectionKey)
		p, ok := best[row.Pool]
		switch {
		case !ok:
			pools = append(pools, row.Pool)
			best[row.Pool] = &pick{row, score}
		case lessScore(score, p.score):
			p.row, p.score = row, score
		}
	}

	descs := make([]*protocol.BridgeDescriptor, 0, len(pools))
	for _, pool := range pools {
		row := best[pool].row
		listen, err := netip.ParseAddrPort(row.Listen)
		if err != nil {
			r.log.Errorf("Corrupted bridge row '%v': %v", row.Listen, err)
			continue
		}
		descs = append(descs, &protocol.BridgeDescriptor{
			ControlListen: listen,
			ControlCookie: row.Cookie,
			Pool:          row.Pool,
			Expiry:        uint64(row.Expiry),
		})
	}
	return descs, nil
}

func rendezvousScore(listen, key string) [32]byte {
	h := blake3.New()
	h.WriteString(listen)
	h.Write([]byte{0})
	h.WriteString(key)

	var score [32]byte
	copy(score[:], h.Sum(nil))
	return score
}

func lessScore(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// New constructs a new Registry.
func New(g glue.Glue) (*Registry, error) {
	exitKey, bridgeKey := g.Config().MacKeys()
	if exitKey == bridgeKey {
		return nil, fmt.Errorf("registry: exit and bridge keys must differ")
	}
	return &Registry{
		glue:      g,
		log:       g.LogBackend().GetLogger("registry"),
		exitKey:   exitKey,
		bridgeKey: bridgeKey,
		now:       time.Now,
	}, nil
}
