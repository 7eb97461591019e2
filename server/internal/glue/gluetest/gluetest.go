// gluetest.go - Broker glue for tests.
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

// Package gluetest provides a glue.Glue backed by real key material and a
// temporary bbolt store, for subsystem tests.
package gluetest

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/broker/core/log"
	"github.com/katzenpost/broker/server/config"
	"github.com/katzenpost/broker/server/internal/glue"
	"github.com/katzenpost/broker/server/internal/keyring"
	"github.com/katzenpost/broker/server/internal/store"
	"github.com/katzenpost/broker/server/internal/store/boltstore"
)

const (
	// ExitToken is the exit registration secret of test configs.
	ExitToken = "test exit token"

	// BridgeToken is the bridge registration secret of test configs.
	BridgeToken = "test bridge token"

	testConfig = `
[Server]
  DataDir = %q

[Logging]
  Level = "DEBUG"

[Secrets]
  ExitToken = %q
  BridgeToken = %q

[Keys]
  SubkeyBits = 1024
`
)

// Glue is a glue.Glue whose subsystems may be swapped by tests.
type Glue struct {
	Cfg     *config.Config
	Backend *log.Backend

	S  store.Store
	K  glue.Keyring
	T  glue.Tokens
	C  glue.Catalog
	R  glue.Registry
	Rt glue.Routes
}

func (g *Glue) Config() *config.Config   { return g.Cfg }
func (g *Glue) LogBackend() *log.Backend { return g.Backend }
func (g *Glue) Store() store.Store       { return g.S }
func (g *Glue) Keyring() glue.Keyring    { return g.K }
func (g *Glue) Tokens() glue.Tokens      { return g.T }
func (g *Glue) Catalog() glue.Catalog    { return g.C }
func (g *Glue) Registry() glue.Registry  { return g.R }
func (g *Glue) Routes() glue.Routes      { return g.Rt }

// Config returns a validated config rooted in a temporary directory.
func Config(t testing.TB) *config.Config {
	cfg, err := config.Load([]byte(fmt.Sprintf(testConfig, t.TempDir(), ExitToken, BridgeToken)), false)
	require.NoError(t, err)
	return cfg
}

// New returns a Glue with a config, a log backend, a bbolt store and a
// keyring.  The remaining subsystems are left for the test to fill in.
func New(t testing.TB) *Glue {
	require := require.New(t)

	cfg := Config(t)
	backend, err := log.NewWithWriter(os.Stderr, cfg.Logging.Level)
	require.NoError(err)

	s, err := boltstore.New(cfg.Database.BoltFile)
	require.NoError(err)
	t.Cleanup(s.Close)

	k, err := keyring.New(cfg.Server.DataDir, cfg.Keys.SubkeyBits, cfg.Keys.EpochSkew(), backend.GetLogger("keyring"))
	require.NoError(err)

	return &Glue{
		Cfg:     cfg,
		Backend: backend,
		S:       s,
		K:       k,
	}
}
