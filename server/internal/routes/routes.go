// routes.go - Route assembly.
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

// Package routes assembles candidate paths from a client to an exit.
package routes

import (
	"context"
	"encoding/hex"
	"net/netip"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/broker/blindsig"
	"github.com/katzenpost/broker/protocol"
	"github.com/katzenpost/broker/server/internal/glue"
	"github.com/katzenpost/broker/server/internal/instrument"
	"github.com/katzenpost/broker/server/internal/ttlcache"
)

// Resolver assembles route sets for authenticated clients.
type Resolver struct {
	glue    glue.Glue
	log     *logging.Logger
	builder PathBuilder

	timeout time.Duration
	cache   *ttlcache.Cache[*protocol.RouteCandidate]
}

// Resolve authenticates the client credential, then asks every bridge
// selected for the client to forward to exit.  Bridges that fail are left
// out of the returned set, which may be empty.
func (r *Resolver) Resolve(ctx context.Context, token blindsig.ClientToken, sig *blindsig.UnblindedSignature, exit netip.AddrPort) (*protocol.RouteSet, error) {
	level, err := r.glue.Keyring().Authenticate(token, sig)
	if err != nil {
		return nil, err
	}
	if !exit.IsValid() {
		return nil, protocol.NewGenericError("invalid exit address")
	}

	key := blake3.Sum256(token[:])
	bridges, err := r.glue.Registry().QueryBridges(ctx, hex.EncodeToString(key[:]))
	if err != nil {
		return nil, err
	}
	bridges = r.filterPools(level, bridges)

	var (
		wg         sync.WaitGroup
		candidates = make([]*protocol.RouteCandidate, len(bridges))
	)
	for i, bridge := range bridges {
		wg.Add(1)
		go func() {
			defer wg.Done()
			candidates[i] = r.convert(ctx, bridge, exit)
		}()
	}
	wg.Wait()

	set := &protocol.RouteSet{
		Candidates: make([]protocol.RouteCandidate, 0, len(candidates)),
	}
	for _, c := range candidates {
		if c != nil {
			set.Candidates = append(set.Candidates, *c)
		}
	}
	r.log.Debugf("Assembled %d/%d routes to %v.", len(set.Candidates), len(bridges), exit)
	return set, nil
}

func (r *Resolver) filterPools(level protocol.AccountLevel, bridges []*protocol.BridgeDescriptor) []*protocol.BridgeDescriptor {
	if level == protocol.Plus {
		return bridges
	}
	cfg := r.glue.Config()
	allowed := bridges[:0:0]
	for _, b := range bridges {
		if !cfg.IsPlusOnlyPool(b.Pool) {
			allowed = append(allowed, b)
		}
	}
	return allowed
}

func (r *Resolver) convert(ctx context.Context, bridge *protocol.BridgeDescriptor, exit netip.AddrPort) *protocol.RouteCandidate {
	c, err := r.cache.Get(ctx, routeCacheKey(bridge, exit), func(ctx context.Context) (*protocol.RouteCandidate, error) {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return r.builder.BuildRoute(ctx, bridge, exit)
	})
	if err != nil {
		instrument.RouteConversion("error")
		r.log.Warningf("Failed to build route via bridge %v (pool '%v'): %v", bridge.ControlListen, bridge.Pool, err)
		return nil
	}
	instrument.RouteConversion("ok")
	return c
}

// routeCacheKey identifies a forward by the bridge run that set it up.  A
// restarted bridge registers a fresh cookie and has lost its old forwards.
func routeCacheKey(bridge *protocol.BridgeDescriptor, exit netip.AddrPort) string {
	cookie := blake3.Sum256([]byte(bridge.ControlCookie))
	return bridge.ControlListen.String() + "|" + hex.EncodeToString(cookie[:8]) + "|" + exit.String()
}

// New constructs a new Resolver using builder to reach bridges.
func New(g glue.Glue, builder PathBuilder) *Resolver {
	cfg := g.Config().Routes
	return &Resolver{
		glue:    g,
		log:     g.LogBackend().GetLogger("routes"),
		builder: builder,
		timeout: time.Duration(cfg.BridgeTimeoutSec) * time.Second,
		cache:   ttlcache.New[*protocol.RouteCandidate](cfg.RouteCacheSize, time.Duration(cfg.RouteCacheTTLSec)*time.Second),
	}
}
