// catalog.go - Signed exit catalog.
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

// Package catalog maintains the signed snapshot of every known exit.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"net/netip"
	"os"
	"time"

	"gopkg.in/op/go-logging.v1"
	"gopkg.in/yaml.v3"

	"github.com/katzenpost/broker/protocol"
	"github.com/katzenpost/broker/server/internal/glue"
	"github.com/katzenpost/broker/server/internal/instrument"
	"github.com/katzenpost/broker/server/internal/store"
	"github.com/katzenpost/broker/server/internal/ttlcache"
)

const snapshotKey = "exits"

//go:embed city_names.yaml
var builtinCityNames []byte

// Catalog serves the exit list signed by the broker master key.  Snapshots
// are rebuilt at most once per TTL, no matter how many callers miss at once.
type Catalog struct {
	glue glue.Glue
	log  *logging.Logger

	cityNames map[string]string
	cache     *ttlcache.Cache[*protocol.Signed[protocol.ExitList]]
}

// Snapshot returns the current signed exit list.
func (c *Catalog) Snapshot(ctx context.Context) (*protocol.Signed[protocol.ExitList], error) {
	return c.cache.Get(ctx, snapshotKey, c.rebuild)
}

func (c *Catalog) rebuild(ctx context.Context) (*protocol.Signed[protocol.ExitList], error) {
	rows, err := c.glue.Store().Exits(ctx)
	if err != nil {
		c.log.Errorf("Failed to load exits: %v", err)
		return nil, err
	}

	list := &protocol.ExitList{
		AllExits:  make([]protocol.ExitEntry, 0, len(rows)),
		CityNames: c.cityNames,
	}
	for _, row := range rows {
		desc, err := descriptorFromRow(row)
		if err != nil {
			// Only the registry writes rows, after validating them.
			c.log.Errorf("Corrupted exit row %x: %v", row.PubKey, err)
			return nil, err
		}
		list.AllExits = append(list.AllExits, protocol.ExitEntry{
			PublicKey:  row.PubKey,
			Descriptor: *desc,
		})
	}

	signed, err := protocol.NewSigned(list, protocol.DomainExitList, c.glue.Keyring().MasterKey())
	if err != nil {
		c.log.Errorf("Failed to sign exit list: %v", err)
		return nil, err
	}

	instrument.CatalogRebuild()
	c.log.Debugf("Rebuilt exit list with %d exits.", len(list.AllExits))
	return signed, nil
}

func descriptorFromRow(row *store.ExitRow) (*protocol.ExitDescriptor, error) {
	c2e, err := netip.ParseAddrPort(row.C2EListen)
	if err != nil {
		return nil, fmt.Errorf("catalog: c2e listen: %w", err)
	}
	b2e, err := netip.ParseAddrPort(row.B2EListen)
	if err != nil {
		return nil, fmt.Errorf("catalog: b2e listen: %w", err)
	}
	country, err := protocol.ParseCountry(row.Country)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if row.Expiry < 0 {
		return nil, fmt.Errorf("catalog: negative expiry %d", row.Expiry)
	}
	return &protocol.ExitDescriptor{
		C2EListen: c2e,
		B2EListen: b2e,
		Country:   country,
		City:      row.City,
		Load:      row.Load,
		Expiry:    uint64(row.Expiry),
	}, nil
}

func loadCityNames(f string) (map[string]string, error) {
	b := builtinCityNames
	if f != "" {
		var err error
		if b, err = os.ReadFile(f); err != nil {
			return nil, err
		}
	}

	names := make(map[string]string)
	if err := yaml.Unmarshal(b, &names); err != nil {
		return nil, fmt.Errorf("catalog: invalid city names: %w", err)
	}
	for k := range names {
		if _, err := protocol.ParseCountry(k); err != nil {
			return nil, fmt.Errorf("catalog: invalid city names: %w", err)
		}
	}
	return names, nil
}

// New constructs a new Catalog.
func New(g glue.Glue) (*Catalog, error) {
	cfg := g.Config().Catalog

	cityNames, err := loadCityNames(cfg.CityNamesFile)
	if err != nil {
		return nil, err
	}

	return &Catalog{
		glue:      g,
		log:       g.LogBackend().GetLogger("catalog"),
		cityNames: cityNames,
		cache:     ttlcache.New[*protocol.Signed[protocol.ExitList]](1, time.Duration(cfg.CacheTTLSec)*time.Second),
	}, nil
}
