// routes_test.go - Route assembly tests.
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

package routes

import (
	"context"
	"crypto/rand"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/broker/blindsig"
	"github.com/katzenpost/broker/core/epochtime"
	"github.com/katzenpost/broker/protocol"
	"github.com/katzenpost/broker/server/internal/glue"
	"github.com/katzenpost/broker/server/internal/glue/gluetest"
)

var testExit = netip.MustParseAddrPort("198.51.100.7:8443")

type fakeRegistry struct {
	glue.Registry

	bridges []*protocol.BridgeDescriptor
	queries atomic.Int32
}

func (r *fakeRegistry) QueryBridges(context.Context, string) ([]*protocol.BridgeDescriptor, error) {
	r.queries.Add(1)
	return r.bridges, nil
}

type fakeBuilder struct {
	sync.Mutex

	calls   int
	failing map[string]bool
}

func (b *fakeBuilder) BuildRoute(_ context.Context, bridge *protocol.BridgeDescriptor, exit netip.AddrPort) (*protocol.RouteCandidate, error) {
	b.Lock()
	defer b.Unlock()
	b.calls++
	if b.failing[bridge.ControlListen.String()] {
		return nil, errors.New("connection refused")
	}
	return &protocol.RouteCandidate{
		Transport: protocol.TransportTCP,
		Address:   netip.AddrPortFrom(bridge.ControlListen.Addr(), exit.Port()),
		Pool:      bridge.Pool,
	}, nil
}

func (b *fakeBuilder) numCalls() int {
	b.Lock()
	defer b.Unlock()
	return b.calls
}

func testBridges() []*protocol.BridgeDescriptor {
	return []*protocol.BridgeDescriptor{
		{ControlListen: netip.MustParseAddrPort("203.0.113.1:9000"), ControlCookie: "a", Pool: "pool-a"},
		{ControlListen: netip.MustParseAddrPort("203.0.113.2:9000"), ControlCookie: "b", Pool: "pool-b"},
		{ControlListen: netip.MustParseAddrPort("203.0.113.3:9000"), ControlCookie: "c", Pool: "premium"},
	}
}

func newTestResolver(t *testing.T) (*Resolver, *fakeRegistry, *fakeBuilder, *gluetest.Glue) {
	g := gluetest.New(t)
	g.Cfg.Routes.PlusOnlyPools = []string{"premium"}
	reg := &fakeRegistry{bridges: testBridges()}
	g.R = reg
	b := &fakeBuilder{failing: make(map[string]bool)}
	r := New(g, b)
	g.Rt = r
	return r, reg, b, g
}

func credential(t *testing.T, k glue.Keyring, level protocol.AccountLevel) (blindsig.ClientToken, *blindsig.UnblindedSignature) {
	require := require.New(t)

	var token blindsig.ClientToken
	_, err := rand.Read(token[:])
	require.NoError(err)

	epoch := epochtime.Current()
	blinded, state, err := blindsig.Blind(rand.Reader, k.SubkeyPublicKey(level, epoch), epoch, token)
	require.NoError(err)
	blindSig, err := k.BlindSign(level, epoch, blinded)
	require.NoError(err)
	sig, err := state.Unblind(blindSig)
	require.NoError(err)
	return token, sig
}

func TestResolve(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	r, _, b, g := newTestResolver(t)

	token, sig := credential(t, g.K, protocol.Plus)
	set, err := r.Resolve(ctx, token, sig, testExit)
	require.NoError(err)
	require.Len(set.Candidates, 3)
	require.Equal(3, b.numCalls())
	for _, c := range set.Candidates {
		require.Equal(protocol.TransportTCP, c.Transport)
		require.Equal(testExit.Port(), c.Address.Port())
	}

	// Routes are reused while cached.
	set, err = r.Resolve(ctx, token, sig, testExit)
	require.NoError(err)
	require.Len(set.Candidates, 3)
	require.Equal(3, b.numCalls())
}

func TestResolveBridgeRestart(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	r, reg, b, g := newTestResolver(t)

	token, sig := credential(t, g.K, protocol.Plus)
	_, err := r.Resolve(ctx, token, sig, testExit)
	require.NoError(err)
	require.Equal(3, b.numCalls())

	// The first bridge came back with a new cookie, so its cached route
	// points at a forward that no longer exists.
	restarted := *reg.bridges[0]
	restarted.ControlCookie = "a, again"
	reg.bridges = []*protocol.BridgeDescriptor{&restarted, reg.bridges[1], reg.bridges[2]}

	set, err := r.Resolve(ctx, token, sig, testExit)
	require.NoError(err)
	require.Len(set.Candidates, 3)
	require.Equal(4, b.numCalls())
}

func TestResolvePlusOnlyPools(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	r, _, _, g := newTestResolver(t)

	token, sig := credential(t, g.K, protocol.Free)
	set, err := r.Resolve(ctx, token, sig, testExit)
	require.NoError(err)
	require.Len(set.Candidates, 2)
	for _, c := range set.Candidates {
		require.NotEqual("premium", c.Pool)
	}
}

func TestResolveInvalidCredential(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	r, reg, b, g := newTestResolver(t)

	token, sig := credential(t, g.K, protocol.Plus)
	var otherToken blindsig.ClientToken
	otherToken[0] = 1

	_, err := r.Resolve(ctx, otherToken, sig, testExit)
	require.ErrorIs(err, protocol.ErrAuthenticationFailed)
	_, err = r.Resolve(ctx, token, nil, testExit)
	require.ErrorIs(err, protocol.ErrAuthenticationFailed)

	require.Zero(reg.queries.Load())
	require.Zero(b.numCalls())
}

func TestResolvePartialFailure(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	r, _, b, g := newTestResolver(t)

	b.failing["203.0.113.1:9000"] = true
	token, sig := credential(t, g.K, protocol.Plus)
	set, err := r.Resolve(ctx, token, sig, testExit)
	require.NoError(err)
	require.Len(set.Candidates, 2)

	// Failures are not cached.
	delete(b.failing, "203.0.113.1:9000")
	set, err = r.Resolve(ctx, token, sig, testExit)
	require.NoError(err)
	require.Len(set.Candidates, 3)
}

func TestResolveAllFail(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	r, _, b, g := newTestResolver(t)

	for _, bridge := range testBridges() {
		b.failing[bridge.ControlListen.String()] = true
	}
	token, sig := credential(t, g.K, protocol.Plus)
	set, err := r.Resolve(ctx, token, sig, testExit)
	require.NoError(err)
	require.NotNil(set)
	require.Empty(set.Candidates)
	require.Equal(3, b.numCalls())
}
