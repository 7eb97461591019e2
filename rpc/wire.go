// wire.go - Broker RPC wire format.
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

// Package rpc carries the broker operations over HTTP, as POST requests
// with canonical CBOR bodies.
package rpc

import (
	"errors"
	"net/netip"

	"github.com/fxamacker/cbor/v2"

	"github.com/katzenpost/broker/blindsig"
	"github.com/katzenpost/broker/protocol"
)

// Operation names, each served at "/" + name.
const (
	OpGetSubkey       = "get_subkey"
	OpGetAuthToken    = "get_auth_token"
	OpGetConnectToken = "get_connect_token"
	OpGetExits        = "get_exits"
	OpGetRoutes       = "get_routes"
	OpInsertExit      = "insert_exit"
	OpInsertBridge    = "insert_bridge"
)

// ContentType is the media type of every request and response body.
const ContentType = "application/cbor"

// Error codes carried on the wire.
const (
	codeRateLimited    = "rate_limited"
	codeForbidden      = "forbidden"
	codeAuthentication = "authentication"
	codeGeneric        = "generic"
)

var errMalformed = errors.New("rpc: malformed request")

type response struct {
	Result cbor.RawMessage `cbor:",omitempty"`
	Error  *wireError      `cbor:",omitempty"`
}

type wireError struct {
	Code    string
	Message string `cbor:",omitempty"`
}

type getSubkeyRequest struct {
	Level protocol.AccountLevel
	Epoch uint16
}

type getAuthTokenRequest struct {
	Credential protocol.Credential
}

type getConnectTokenRequest struct {
	AuthToken string
	Level     protocol.AccountLevel
	Epoch     uint16
	Blinded   blindsig.BlindedClientToken
}

type getExitsRequest struct{}

type getRoutesRequest struct {
	Token blindsig.ClientToken
	Sig   blindsig.UnblindedSignature
	Exit  netip.AddrPort
}

type empty struct{}

// toWireError maps an error onto the client facing taxonomy.  Anything
// that is not already part of it is reported as an internal error.
func toWireError(err error) *wireError {
	var generic *protocol.GenericError
	switch {
	case errors.Is(err, protocol.ErrRateLimited):
		return &wireError{Code: codeRateLimited}
	case errors.Is(err, protocol.ErrForbidden):
		return &wireError{Code: codeForbidden}
	case errors.Is(err, protocol.ErrAuthenticationFailed):
		return &wireError{Code: codeAuthentication}
	case errors.As(err, &generic):
		return &wireError{Code: codeGeneric, Message: generic.Msg}
	case errors.Is(err, errMalformed):
		return &wireError{Code: codeGeneric, Message: "malformed request"}
	default:
		return &wireError{Code: codeGeneric, Message: "internal error"}
	}
}

func (e *wireError) toError() error {
	switch e.Code {
	case codeRateLimited:
		return protocol.ErrRateLimited
	case codeForbidden:
		return protocol.ErrForbidden
	case codeAuthentication:
		return protocol.ErrAuthenticationFailed
	default:
		return protocol.NewGenericError(e.Message)
	}
}
