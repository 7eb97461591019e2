// bridge.go - Bridge control client.
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

package routes

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"time"

	"github.com/katzenpost/broker/protocol"
)

const (
	cborContentType  = "application/cbor"
	maxResponseBytes = 64 * 1024
)

// PathBuilder turns a bridge and an exit into a route candidate, by asking
// the bridge to forward to the exit.
type PathBuilder interface {
	BuildRoute(ctx context.Context, bridge *protocol.BridgeDescriptor, exit netip.AddrPort) (*protocol.RouteCandidate, error)
}

// BridgeControlClient is the PathBuilder that talks to the control endpoint
// of real bridges.
type BridgeControlClient struct {
	client   *http.Client
	lifetime time.Duration
	now      func() time.Time
}

// BuildRoute asks bridge to open a listener forwarding to exit, kept open
// for the client's lifetime.
func (c *BridgeControlClient) BuildRoute(ctx context.Context, bridge *protocol.BridgeDescriptor, exit netip.AddrPort) (*protocol.RouteCandidate, error) {
	key := protocol.MacKey(bridge.ControlCookie)
	req, err := protocol.NewMac(&protocol.ForwardRequest{
		Exit:   exit,
		Expiry: uint64(c.now().Add(c.lifetime).Unix()),
	}, key)
	if err != nil {
		return nil, err
	}
	body, err := protocol.Marshal(req)
	if err != nil {
		return nil, err
	}

	url := "http://" + bridge.ControlListen.String() + protocol.BridgeForwardPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", cborContentType)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("routes: bridge %v: unexpected status: %v", bridge.ControlListen, resp.Status)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	var m protocol.Mac[protocol.ForwardResponse]
	if err = protocol.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("routes: bridge %v: malformed response: %w", bridge.ControlListen, err)
	}
	fwd, err := m.Verify(key)
	if err != nil {
		return nil, fmt.Errorf("routes: bridge %v: %w", bridge.ControlListen, err)
	}
	if !fwd.Listen.IsValid() {
		return nil, fmt.Errorf("routes: bridge %v: invalid listener", bridge.ControlListen)
	}

	return &protocol.RouteCandidate{
		Transport: protocol.TransportTCP,
		Address:   fwd.Listen,
		Pool:      bridge.Pool,
	}, nil
}

// NewBridgeControlClient returns a BridgeControlClient whose forwarding
// listeners are requested to live for lifetime.
func NewBridgeControlClient(lifetime time.Duration) *BridgeControlClient {
	return &BridgeControlClient{
		client: &http.Client{
			Transport: &http.Transport{
				DisableKeepAlives: true,
			},
		},
		lifetime: lifetime,
		now:      time.Now,
	}
}
