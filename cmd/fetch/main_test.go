// main_test.go - Exit catalog printing tests.
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

package main

import (
	"bytes"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/broker/protocol"
)

func TestPrintExits(t *testing.T) {
	require := require.New(t)
	now := time.Unix(1700000000, 0)

	list := &protocol.ExitList{
		AllExits: []protocol.ExitEntry{
			{
				PublicKey: []byte{0xbe, 0xef},
				Descriptor: protocol.ExitDescriptor{
					C2EListen: netip.MustParseAddrPort("192.0.2.2:443"),
					Country:   "SE",
					Expiry:    uint64(now.Add(-time.Hour).Unix()),
				},
			},
			{
				PublicKey: []byte{0xca, 0xfe},
				Descriptor: protocol.ExitDescriptor{
					C2EListen: netip.MustParseAddrPort("192.0.2.1:443"),
					Country:   "CA",
					City:      "Montreal",
					Load:      0.5,
					Expiry:    uint64(now.Add(time.Hour).Unix()),
				},
			},
		},
		CityNames: map[string]string{"SE": "Stockholm", "CA": "Toronto"},
	}

	var buf bytes.Buffer
	printExits(&buf, list, now)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(lines, 3)
	require.Equal("CA\tMontreal\t192.0.2.1:443\tload 0.50\tlive\tcafe", lines[0])
	require.Equal("SE\tStockholm\t192.0.2.2:443\tload 0.00\tstale\tbeef", lines[1])
	require.Equal("2 exits", lines[2])

	// The caller's list is left alone.
	require.Equal("SE", list.AllExits[0].Descriptor.Country)
}
