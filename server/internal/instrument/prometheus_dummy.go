//go:build noprometheus

// prometheus_dummy.go - Broker metrics stubs.
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

package instrument

import "net/http"

// RPCRequest does nothing
func RPCRequest(operation, result string) {}

// AuthTokenIssued does nothing
func AuthTokenIssued() {}

// ConnectTokenIssued does nothing
func ConnectTokenIssued(level string) {}

// RateLimited does nothing
func RateLimited(limiter string) {}

// CatalogRebuild does nothing
func CatalogRebuild() {}

// Registration does nothing
func Registration(kind, result string) {}

// RouteConversion does nothing
func RouteConversion(result string) {}

// Handler returns a handler that serves nothing
func Handler() http.Handler {
	return http.NotFoundHandler()
}
