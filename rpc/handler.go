// handler.go - Broker RPC server side.
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

package rpc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/broker/protocol"
)

type opFunc func(ctx context.Context, body []byte) (interface{}, error)

func decodeAnd[Req any](fn func(context.Context, *Req) (interface{}, error)) opFunc {
	return func(ctx context.Context, body []byte) (interface{}, error) {
		req := new(Req)
		if err := protocol.Unmarshal(body, req); err != nil {
			return nil, errMalformed
		}
		return fn(ctx, req)
	}
}

type handler struct {
	log             *logging.Logger
	maxRequestBytes int64
	ops             map[string]opFunc
}

func (h *handler) logInvalidRequest(req *http.Request, err error) {
	h.log.Debugf("Peer %v: %v Invalid request: '%v' (%v)", req.RemoteAddr, req.Method, req.URL, err)
}

func (h *handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	op, ok := h.ops[strings.TrimPrefix(req.URL.Path, "/")]
	if !ok {
		h.logInvalidRequest(req, errors.New("unknown operation"))
		http.NotFound(w, req)
		return
	}
	if req.Method != http.MethodPost {
		h.logInvalidRequest(req, errors.New("invalid method"))
		http.Error(w, "invalid HTTP method for URL", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, h.maxRequestBytes))
	if err != nil {
		h.logInvalidRequest(req, err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}

	status := http.StatusOK
	resp := new(response)
	result, err := op(req.Context(), body)
	if err == nil {
		resp.Result, err = protocol.Marshal(result)
	}
	if err != nil {
		if errors.Is(err, errMalformed) {
			h.logInvalidRequest(req, err)
			status = http.StatusBadRequest
		}
		resp.Result = nil
		resp.Error = toWireError(err)
	}

	b, err := protocol.Marshal(resp)
	if err != nil {
		h.log.Errorf("Failed to serialize response: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	w.Write(b)
}

// NewHandler returns the http.Handler serving every operation of b.
// Request bodies larger than maxRequestBytes are refused.
func NewHandler(b protocol.Broker, log *logging.Logger, maxRequestBytes int64) http.Handler {
	h := &handler{
		log:             log,
		maxRequestBytes: maxRequestBytes,
	}
	h.ops = map[string]opFunc{
		OpGetSubkey: decodeAnd(func(ctx context.Context, req *getSubkeyRequest) (interface{}, error) {
			return b.GetSubkey(ctx, req.Level, req.Epoch)
		}),
		OpGetAuthToken: decodeAnd(func(ctx context.Context, req *getAuthTokenRequest) (interface{}, error) {
			return b.GetAuthToken(ctx, &req.Credential)
		}),
		OpGetConnectToken: decodeAnd(func(ctx context.Context, req *getConnectTokenRequest) (interface{}, error) {
			return b.GetConnectToken(ctx, req.AuthToken, req.Level, req.Epoch, req.Blinded)
		}),
		OpGetExits: decodeAnd(func(ctx context.Context, _ *getExitsRequest) (interface{}, error) {
			return b.GetExits(ctx)
		}),
		OpGetRoutes: decodeAnd(func(ctx context.Context, req *getRoutesRequest) (interface{}, error) {
			return b.GetRoutes(ctx, req.Token, &req.Sig, req.Exit)
		}),
		OpInsertExit: decodeAnd(func(ctx context.Context, req *protocol.Mac[protocol.Signed[protocol.ExitDescriptor]]) (interface{}, error) {
			return &empty{}, b.InsertExit(ctx, req)
		}),
		OpInsertBridge: decodeAnd(func(ctx context.Context, req *protocol.Mac[protocol.BridgeDescriptor]) (interface{}, error) {
			return &empty{}, b.InsertBridge(ctx, req)
		}),
	}
	return h
}
