// time.go - Credential epoch time.
// Copyright (C) 2017  Yawning Angel.
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

// Package epochtime implements the coarse time buckets that blind
// signature subkeys rotate on.
package epochtime

import "time"

// Period is the duration of a credential epoch.
const Period = 24 * time.Hour

// Epoch is the start of epoch zero, expressed in UTC.
var Epoch = time.Unix(0, 0).UTC()

// Current returns the current credential epoch.
func Current() uint16 {
	return At(time.Now())
}

// At returns the credential epoch containing t.  Epoch numbers wrap
// around every 65536 periods.
func At(t time.Time) uint16 {
	fromEpoch := t.Sub(Epoch)
	if fromEpoch < 0 {
		panic("epochtime: BUG: time appears to predate the epoch")
	}
	return uint16(fromEpoch / Period)
}

// Distance returns the number of epochs between a and b, taking the
// shorter way around the uint16 wrap.
func Distance(a, b uint16) uint16 {
	d, e := a-b, b-a
	if e < d {
		return e
	}
	return d
}
