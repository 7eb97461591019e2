// errors.go - Broker error taxonomy.
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

import "errors"

var (
	// ErrAuthenticationFailed is returned when a credential, signature or
	// MAC does not verify.
	ErrAuthenticationFailed = errors.New("protocol: authentication failed")

	// ErrRateLimited is returned when the caller is being rate limited,
	// or when the broker cannot currently service the request.
	ErrRateLimited = errors.New("protocol: rate limited")

	// ErrForbidden is returned for bearer tokens that are malformed,
	// unknown or expired.
	ErrForbidden = errors.New("protocol: forbidden")
)

// GenericError is an operational failure described only as much as is safe
// to tell an untrusted caller.
type GenericError struct {
	Msg string
}

// NewGenericError returns a GenericError with the given message.
func NewGenericError(msg string) *GenericError {
	return &GenericError{Msg: msg}
}

func (e *GenericError) Error() string {
	return e.Msg
}
