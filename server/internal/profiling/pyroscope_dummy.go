//go:build !pyroscope

// pyroscope_dummy.go - Continuous profiling stub.
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

package profiling

import "gopkg.in/op/go-logging.v1"

// Start does nothing, as the broker was built without the pyroscope tag.
func Start(log *logging.Logger) error {
	log.Debug("Pyroscope is disabled")
	return nil
}
