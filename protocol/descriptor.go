// descriptor.go - Exit and bridge descriptors.
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
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"golang.org/x/text/language"
)

var (
	errInvalidCountry = errors.New("protocol: invalid country code")
	errInvalidListen  = errors.New("protocol: invalid listen address")
)

// ExitDescriptor is what an exit announces about itself.  Exits are
// identified by the public key that self-signs the descriptor.
type ExitDescriptor struct {
	// C2EListen is the address clients connect to.
	C2EListen netip.AddrPort

	// B2EListen is the address bridges connect to.
	B2EListen netip.AddrPort

	// Country is the ISO 3166-1 alpha-2 country code of the exit.
	Country string

	// City is a free form city label.
	City string

	// Load is the current load of the exit, from 0 to 1.
	Load float32

	// Expiry is the UNIX time after which the descriptor is stale.
	Expiry uint64
}

// Validate checks the descriptor fields that are later parsed back out of
// storage.
func (d *ExitDescriptor) Validate() error {
	if !d.C2EListen.IsValid() || !d.B2EListen.IsValid() {
		return errInvalidListen
	}
	country, err := ParseCountry(d.Country)
	if err != nil {
		return err
	}
	if country != d.Country {
		return fmt.Errorf("%w: '%v' is not canonical", errInvalidCountry, d.Country)
	}
	return nil
}

// BridgeDescriptor is what a bridge announces about itself.  Bridges have
// no identity key and are identified by their control listener.
type BridgeDescriptor struct {
	// ControlListen is the address of the bridge control endpoint.
	ControlListen netip.AddrPort

	// ControlCookie is the secret the broker authenticates control
	// requests to the bridge with.
	ControlCookie string

	// Pool groups interchangeable bridges.
	Pool string

	// Expiry is the UNIX time after which the descriptor is stale.
	Expiry uint64
}

// ExitEntry pairs an exit's identity key with its descriptor.
type ExitEntry struct {
	PublicKey  []byte
	Descriptor ExitDescriptor
}

// ExitList is the exit catalog the broker serves to clients.
type ExitList struct {
	AllExits []ExitEntry

	// CityNames maps country codes to display names of cities.
	CityNames map[string]string
}

// ParseCountry parses a case insensitive ISO 3166-1 alpha-2 code and
// returns it in canonical upper case form.
func ParseCountry(s string) (string, error) {
	if len(s) != 2 {
		return "", fmt.Errorf("%w: '%v'", errInvalidCountry, s)
	}
	region, err := language.ParseRegion(strings.ToUpper(s))
	if err != nil {
		return "", fmt.Errorf("%w: '%v': %v", errInvalidCountry, s, err)
	}
	if !region.IsCountry() {
		return "", fmt.Errorf("%w: '%v' is not a country", errInvalidCountry, s)
	}
	return region.String(), nil
}
