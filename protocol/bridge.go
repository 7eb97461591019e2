// bridge.go - Bridge control protocol.
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

import "net/netip"

// BridgeForwardPath is the HTTP path of the bridge control endpoint that
// opens a forwarding listener towards an exit.
const BridgeForwardPath = "/forward"

// ForwardRequest asks a bridge to forward a fresh listener to Exit.  It is
// sent as a Mac keyed with MacKey of the bridge's control cookie.
type ForwardRequest struct {
	Exit netip.AddrPort

	// Expiry is the UNIX time after which the bridge may tear the
	// listener down.
	Expiry uint64
}

// ForwardResponse carries the listener a bridge opened for a
// ForwardRequest.  It is sent back as a Mac under the same key.
type ForwardResponse struct {
	Listen netip.AddrPort
}
