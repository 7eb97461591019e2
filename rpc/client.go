// client.go - Broker RPC client side.
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
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"

	"github.com/katzenpost/broker/blindsig"
	"github.com/katzenpost/broker/protocol"
)

const maxResponseBytes = 16 * 1024 * 1024

// Client is a protocol.Broker that forwards every call to a remote broker.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ protocol.Broker = (*Client)(nil)

func call[Resp any](ctx context.Context, c *Client, op string, req interface{}) (*Resp, error) {
	body, err := protocol.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+op, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", ContentType)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if !strings.HasPrefix(httpResp.Header.Get("Content-Type"), ContentType) {
		return nil, fmt.Errorf("rpc: %v: unexpected response: %v", op, httpResp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	var resp response
	if err = protocol.Unmarshal(b, &resp); err != nil {
		return nil, fmt.Errorf("rpc: %v: malformed response: %w", op, err)
	}
	if resp.Error != nil {
		return nil, resp.Error.toError()
	}
	result := new(Resp)
	if err = protocol.Unmarshal(resp.Result, result); err != nil {
		return nil, fmt.Errorf("rpc: %v: malformed result: %w", op, err)
	}
	return result, nil
}

// GetSubkey implements protocol.Broker.
func (c *Client) GetSubkey(ctx context.Context, level protocol.AccountLevel, epoch uint16) ([]byte, error) {
	resp, err := call[[]byte](ctx, c, OpGetSubkey, &getSubkeyRequest{Level: level, Epoch: epoch})
	if err != nil {
		return nil, err
	}
	return *resp, nil
}

// GetAuthToken implements protocol.Broker.
func (c *Client) GetAuthToken(ctx context.Context, credential *protocol.Credential) (string, error) {
	resp, err := call[string](ctx, c, OpGetAuthToken, &getAuthTokenRequest{Credential: *credential})
	if err != nil {
		return "", err
	}
	return *resp, nil
}

// GetConnectToken implements protocol.Broker.
func (c *Client) GetConnectToken(ctx context.Context, authToken string, level protocol.AccountLevel, epoch uint16, blinded blindsig.BlindedClientToken) (*blindsig.BlindedSignature, error) {
	return call[blindsig.BlindedSignature](ctx, c, OpGetConnectToken, &getConnectTokenRequest{
		AuthToken: authToken,
		Level:     level,
		Epoch:     epoch,
		Blinded:   blinded,
	})
}

// GetExits implements protocol.Broker.  The caller is responsible for
// verifying the catalog against the broker master key.
func (c *Client) GetExits(ctx context.Context) (*protocol.Signed[protocol.ExitList], error) {
	return call[protocol.Signed[protocol.ExitList]](ctx, c, OpGetExits, &getExitsRequest{})
}

// GetRoutes implements protocol.Broker.
func (c *Client) GetRoutes(ctx context.Context, token blindsig.ClientToken, sig *blindsig.UnblindedSignature, exit netip.AddrPort) (*protocol.RouteSet, error) {
	if sig == nil {
		return nil, protocol.ErrAuthenticationFailed
	}
	return call[protocol.RouteSet](ctx, c, OpGetRoutes, &getRoutesRequest{
		Token: token,
		Sig:   *sig,
		Exit:  exit,
	})
}

// InsertExit implements protocol.Broker.
func (c *Client) InsertExit(ctx context.Context, descriptor *protocol.Mac[protocol.Signed[protocol.ExitDescriptor]]) error {
	_, err := call[empty](ctx, c, OpInsertExit, descriptor)
	return err
}

// InsertBridge implements protocol.Broker.
func (c *Client) InsertBridge(ctx context.Context, descriptor *protocol.Mac[protocol.BridgeDescriptor]) error {
	_, err := call[empty](ctx, c, OpInsertBridge, descriptor)
	return err
}

// NewClient returns a Client for the broker at baseURL, such as
// "http://127.0.0.1:8080".  A nil httpClient selects http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
	}
}
