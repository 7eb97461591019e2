// boltstore_test.go - bbolt store tests.
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

package boltstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/broker/server/internal/store"
)

func newTestStore(t *testing.T) (store.Store, string) {
	f := filepath.Join(t.TempDir(), "broker.db")
	s, err := New(f)
	require.NoError(t, err)
	return s, f
}

func TestExitUpsertIsIdempotent(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	s, _ := newTestStore(t)
	defer s.Close()

	row := &store.ExitRow{
		PubKey:    []byte("exit-key"),
		C2EListen: "192.0.2.1:443",
		B2EListen: "192.0.2.1:8443",
		Country:   "CA",
		City:      "Toronto",
		Load:      0.5,
		Expiry:    100,
	}
	require.NoError(s.UpsertExit(ctx, row))

	updated := *row
	updated.City = "Montreal"
	updated.Load = 0.1
	updated.Expiry = 200
	require.NoError(s.UpsertExit(ctx, &updated))

	exits, err := s.Exits(ctx)
	require.NoError(err)
	require.Len(exits, 1)
	require.Equal(&updated, exits[0])

	require.Error(s.UpsertExit(ctx, &store.ExitRow{}))
}

func TestBridgeUpsertIsIdempotent(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	s, _ := newTestStore(t)
	defer s.Close()

	require.NoError(s.UpsertBridge(ctx, &store.BridgeRow{Listen: "192.0.2.2:9000", Cookie: "a", Pool: "p1", Expiry: 100}))
	require.NoError(s.UpsertBridge(ctx, &store.BridgeRow{Listen: "192.0.2.2:9000", Cookie: "b", Pool: "p2", Expiry: 200}))
	require.NoError(s.UpsertBridge(ctx, &store.BridgeRow{Listen: "192.0.2.3:9000", Cookie: "c", Pool: "p1", Expiry: 50}))

	bridges, err := s.Bridges(ctx, 60)
	require.NoError(err)
	require.Len(bridges, 1)
	require.Equal(&store.BridgeRow{Listen: "192.0.2.2:9000", Cookie: "b", Pool: "p2", Expiry: 200}, bridges[0])

	bridges, err = s.Bridges(ctx, 10)
	require.NoError(err)
	require.Len(bridges, 2)
}

func TestAuthTokens(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	s, f := newTestStore(t)

	require.NoError(s.PutAuthToken(ctx, "live", 42, 100))
	require.NoError(s.PutAuthToken(ctx, "dead", 43, 10))

	id, err := s.AuthTokenUser(ctx, "live", 50)
	require.NoError(err)
	require.Equal(uint64(42), id)

	_, err = s.AuthTokenUser(ctx, "dead", 50)
	require.ErrorIs(err, store.ErrNoSuchToken)
	_, err = s.AuthTokenUser(ctx, "missing", 50)
	require.ErrorIs(err, store.ErrNoSuchToken)

	n, err := s.PruneAuthTokens(ctx, 50)
	require.NoError(err)
	require.Equal(1, n)

	// State survives a reopen.
	s.Close()
	s, err = New(f)
	require.NoError(err)
	defer s.Close()

	id, err = s.AuthTokenUser(ctx, "live", 50)
	require.NoError(err)
	require.Equal(uint64(42), id)
}

func TestCancelledContext(t *testing.T) {
	s, _ := newTestStore(t)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Exits(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
