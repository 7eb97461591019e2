// routes.go - Route candidates.
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

package protocol

import (
	"fmt"
	"net/netip"
)

// TransportTCP is the only transport bridges currently forward over.
const TransportTCP = "tcp"

// RouteCandidate is one independently viable path to an exit.
type RouteCandidate struct {
	// Transport names the transport used to reach Address.
	Transport string

	// Address is the bridge side listener forwarding to the exit.
	Address netip.AddrPort

	// Pool is the pool of the bridge providing the candidate.
	Pool string
}

func (c *RouteCandidate) String() string {
	return fmt.Sprintf("%s://%s (pool %q)", c.Transport, c.Address, c.Pool)
}

// RouteSet is a race set: callers should attempt every candidate
// concurrently and keep the first that completes a handshake.  The order of
// Candidates carries no meaning.
type RouteSet struct {
	Candidates []RouteCandidate
}
