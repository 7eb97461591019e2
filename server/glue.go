// glue.go - Server glue.
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
	"github.com/katzenpost/broker/core/log"
	"github.com/katzenpost/broker/server/config"
	"github.com/katzenpost/broker/server/internal/glue"
	"github.com/katzenpost/broker/server/internal/store"
)

type serverGlue struct {
	s *Server
}

func (g *serverGlue) Config() *config.Config {
	return g.s.cfg
}

func (g *serverGlue) LogBackend() *log.Backend {
	return g.s.logBackend
}

func (g *serverGlue) Store() store.Store {
	return g.s.store
}

func (g *serverGlue) Keyring() glue.Keyring {
	return g.s.keyring
}

func (g *serverGlue) Tokens() glue.Tokens {
	return g.s.tokens
}

func (g *serverGlue) Catalog() glue.Catalog {
	return g.s.catalog
}

func (g *serverGlue) Registry() glue.Registry {
	return g.s.registry
}

func (g *serverGlue) Routes() glue.Routes {
	return g.s.routes
}
