// catalog_test.go - Signed exit catalog tests.
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

package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/broker/protocol"
	"github.com/katzenpost/broker/server/internal/glue/gluetest"
	"github.com/katzenpost/broker/server/internal/store"
)

type countingStore struct {
	store.Store
	exits atomic.Int32
}

func (s *countingStore) Exits(ctx context.Context) ([]*store.ExitRow, error) {
	s.exits.Add(1)
	return s.Store.Exits(ctx)
}

func testRow(pk byte, country string) *store.ExitRow {
	return &store.ExitRow{
		PubKey:    []byte{pk, pk, pk},
		C2EListen: "192.0.2.1:443",
		B2EListen: "192.0.2.1:8443",
		Country:   country,
		City:      "Somewhere",
		Load:      0.5,
		Expiry:    1700000000,
	}
}

func TestSnapshot(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	g := gluetest.New(t)
	s := &countingStore{Store: g.S}
	g.S = s

	require.NoError(s.UpsertExit(ctx, testRow(1, "CA")))
	require.NoError(s.UpsertExit(ctx, testRow(2, "jp")))

	c, err := New(g)
	require.NoError(err)

	const n = 64
	var wg sync.WaitGroup
	results := make([]*protocol.Signed[protocol.ExitList], n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Snapshot(ctx)
		}(i)
	}
	wg.Wait()

	require.Equal(int32(1), s.exits.Load())
	for i := 0; i < n; i++ {
		require.NoError(errs[i])
		require.Same(results[0], results[i])
	}

	list, err := results[0].Verify(protocol.DomainExitList, protocol.SignedBy(g.K.MasterPublicKey()))
	require.NoError(err)
	require.Len(list.AllExits, 2)
	require.Equal("Tokyo", list.CityNames["JP"])

	countries := make(map[string]bool)
	for _, e := range list.AllExits {
		countries[e.Descriptor.Country] = true
		require.Equal(uint16(443), e.Descriptor.C2EListen.Port())
	}
	require.True(countries["CA"])
	require.True(countries["JP"])

	// The exit descriptor domain must not verify a catalog.
	_, err = results[0].Verify(protocol.DomainExitDescriptor, nil)
	require.ErrorIs(err, protocol.ErrAuthenticationFailed)
}

func TestRebuildErrorsNotCached(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	g := gluetest.New(t)
	require.NoError(g.S.UpsertExit(ctx, testRow(1, "not a country")))

	c, err := New(g)
	require.NoError(err)

	_, err = c.Snapshot(ctx)
	require.Error(err)

	require.NoError(g.S.UpsertExit(ctx, testRow(1, "SE")))
	signed, err := c.Snapshot(ctx)
	require.NoError(err)

	list, err := signed.Verify(protocol.DomainExitList, nil)
	require.NoError(err)
	require.Len(list.AllExits, 1)
	require.Equal("SE", list.AllExits[0].Descriptor.Country)
}

func TestCityNamesFile(t *testing.T) {
	require := require.New(t)

	f := filepath.Join(t.TempDir(), "cities.yaml")
	require.NoError(os.WriteFile(f, []byte("NZ: Auckland\n"), 0600))
	names, err := loadCityNames(f)
	require.NoError(err)
	require.Equal(map[string]string{"NZ": "Auckland"}, names)

	require.NoError(os.WriteFile(f, []byte("ZZ: Nowhere\n"), 0600))
	_, err = loadCityNames(f)
	require.Error(err)

	_, err = loadCityNames(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(err)

	names, err = loadCityNames("")
	require.NoError(err)
	require.NotEmpty(names)
}
