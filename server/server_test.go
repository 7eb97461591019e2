// server_test.go - Broker server tests.
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
	"crypto/rand"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	signpem "github.com/katzenpost/hpqc/sign/pem"

	"github.com/katzenpost/broker/blindsig"
	"github.com/katzenpost/broker/core/epochtime"
	"github.com/katzenpost/broker/core/utils"
	"github.com/katzenpost/broker/protocol"
	"github.com/katzenpost/broker/rpc"
	"github.com/katzenpost/broker/server/config"
)

const (
	testExitToken   = "exit secret"
	testBridgeToken = "bridge secret"
)

func testConfig(t *testing.T, generateOnly bool) *config.Config {
	dataDir := filepath.Join(t.TempDir(), "broker")
	cfg, err := config.Load([]byte(fmt.Sprintf(`
[Server]
  Addresses = ["127.0.0.1:0"]
  DataDir = %q

[Logging]
  Level = "DEBUG"

[Secrets]
  ExitToken = %q
  BridgeToken = %q

[Keys]
  SubkeyBits = 1024

[Debug]
  GenerateOnly = %v
`, dataDir, testExitToken, testBridgeToken, generateOnly)), false)
	require.NoError(t, err)
	return cfg
}

// forwardingBridge answers forward requests the way a bridge does.
func forwardingBridge(t *testing.T, cookie string) netip.AddrPort {
	key := protocol.MacKey(cookie)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var m protocol.Mac[protocol.ForwardRequest]
		if err = protocol.Unmarshal(b, &m); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req, err := m.Verify(key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		resp, err := protocol.NewMac(&protocol.ForwardResponse{
			Listen: netip.AddrPortFrom(netip.MustParseAddr("192.0.2.50"), req.Exit.Port()),
		}, key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out, err := protocol.Marshal(resp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/cbor")
		w.Write(out)
	}))
	t.Cleanup(srv.Close)
	return netip.MustParseAddrPort(srv.Listener.Addr().String())
}

func TestGenerateOnly(t *testing.T) {
	require := require.New(t)
	cfg := testConfig(t, true)

	_, err := New(cfg)
	require.ErrorIs(err, ErrGenerateOnly)

	for _, f := range []string{"master.private.pem", "master.public.pem", "free.seed.pem", "plus.seed.pem"} {
		ok, err := utils.Exists(filepath.Join(cfg.Server.DataDir, f))
		require.NoError(err)
		require.True(ok, f)
	}
	ok, err := utils.Exists(cfg.Database.BoltFile)
	require.NoError(err)
	require.False(ok)
}

func TestServer(t *testing.T) {
	require := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg := testConfig(t, false)
	s, err := New(cfg)
	require.NoError(err)
	defer func() {
		s.Shutdown()
		s.Wait()
	}()

	require.Len(s.Addrs(), 1)
	c := rpc.NewClient("http://"+s.Addrs()[0].String(), nil)

	// Obtain a credential.
	bearer, err := c.GetAuthToken(ctx, &protocol.Credential{Kind: protocol.CredentialTestDummy})
	require.NoError(err)

	epoch := epochtime.Current()
	subkey, err := c.GetSubkey(ctx, protocol.Plus, epoch)
	require.NoError(err)
	var token blindsig.ClientToken
	_, err = rand.Read(token[:])
	require.NoError(err)
	blinded, state, err := blindsig.Blind(rand.Reader, subkey, epoch, token)
	require.NoError(err)
	blindSig, err := c.GetConnectToken(ctx, bearer, protocol.Plus, epoch, blinded)
	require.NoError(err)
	sig, err := state.Unblind(blindSig)
	require.NoError(err)
	require.NoError(s.keyring.PublicKey(protocol.Plus).BlindVerify(token, sig))

	_, err = c.GetConnectToken(ctx, "not a bearer token", protocol.Plus, epoch, blinded)
	require.ErrorIs(err, protocol.ErrForbidden)

	// Announce a bridge and an exit.
	bridge, err := protocol.NewMac(&protocol.BridgeDescriptor{
		ControlListen: forwardingBridge(t, "cookie"),
		ControlCookie: "cookie",
		Pool:          "pool-a",
		Expiry:        uint64(time.Now().Add(time.Hour).Unix()),
	}, protocol.MacKey(testBridgeToken))
	require.NoError(err)
	require.NoError(c.InsertBridge(ctx, bridge))

	exit := &protocol.ExitDescriptor{
		C2EListen: netip.MustParseAddrPort("198.51.100.20:443"),
		B2EListen: netip.MustParseAddrPort("198.51.100.20:8443"),
		Country:   "NL",
		City:      "Amsterdam",
		Expiry:    uint64(time.Now().Add(time.Hour).Unix()),
	}
	_, exitSk, err := protocol.SignatureScheme.GenerateKey()
	require.NoError(err)
	signedExit, err := protocol.NewSigned(exit, protocol.DomainExitDescriptor, exitSk)
	require.NoError(err)
	exitReg, err := protocol.NewMac(signedExit, protocol.MacKey(testExitToken))
	require.NoError(err)
	require.NoError(c.InsertExit(ctx, exitReg))

	badReg, err := protocol.NewMac(signedExit, protocol.MacKey(testBridgeToken))
	require.NoError(err)
	require.ErrorIs(c.InsertExit(ctx, badReg), protocol.ErrAuthenticationFailed)

	// The catalog is signed by the master key on disk.
	masterPub, err := signpem.FromPublicPEMFile(filepath.Join(cfg.Server.DataDir, "master.public.pem"), protocol.SignatureScheme)
	require.NoError(err)
	signedList, err := c.GetExits(ctx)
	require.NoError(err)
	list, err := signedList.Verify(protocol.DomainExitList, protocol.SignedBy(masterPub))
	require.NoError(err)
	require.Len(list.AllExits, 1)
	require.Equal(signedExit.PublicKey, list.AllExits[0].PublicKey)
	require.Equal(exit.C2EListen, list.AllExits[0].Descriptor.C2EListen)

	// And the bridge forwards to the exit.
	routes, err := c.GetRoutes(ctx, token, sig, exit.B2EListen)
	require.NoError(err)
	require.Len(routes.Candidates, 1)
	require.Equal(netip.MustParseAddrPort("192.0.2.50:8443"), routes.Candidates[0].Address)
	require.Equal("pool-a", routes.Candidates[0].Pool)

	token[0] ^= 1
	_, err = c.GetRoutes(ctx, token, sig, exit.B2EListen)
	require.ErrorIs(err, protocol.ErrAuthenticationFailed)
}
