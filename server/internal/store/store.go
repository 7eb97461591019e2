// store.go - Broker persistent state.
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

// Package store defines the persistent state the broker keeps about exits,
// bridges and bearer tokens.
package store

import (
	"context"
	"errors"
)

// ErrNoSuchToken is returned when a bearer token is unknown or expired.
var ErrNoSuchToken = errors.New("store: no such token")

// ExitRow is the stored form of an exit descriptor, keyed by PubKey.
type ExitRow struct {
	PubKey    []byte
	C2EListen string
	B2EListen string
	Country   string
	City      string
	Load      float32
	Expiry    int64
}

// BridgeRow is the stored form of a bridge descriptor, keyed by Listen.
type BridgeRow struct {
	Listen string
	Cookie string
	Pool   string
	Expiry int64
}

// Store is the interface provided by all broker storage backends.
// Upserts replace the whole prior row for the same key.
type Store interface {
	// UpsertExit inserts or replaces the row for e.PubKey.
	UpsertExit(ctx context.Context, e *ExitRow) error

	// Exits returns every stored exit, expired or not.
	Exits(ctx context.Context) ([]*ExitRow, error)

	// UpsertBridge inserts or replaces the row for b.Listen.
	UpsertBridge(ctx context.Context, b *BridgeRow) error

	// Bridges returns every bridge that has not expired at now.
	Bridges(ctx context.Context, now int64) ([]*BridgeRow, error)

	// PutAuthToken binds a bearer token to a user until expiry.
	PutAuthToken(ctx context.Context, token string, userID uint64, expiry int64) error

	// AuthTokenUser returns the user a bearer token is bound to, or
	// ErrNoSuchToken if it is unknown or has expired at now.
	AuthTokenUser(ctx context.Context, token string, now int64) (uint64, error)

	// PruneAuthTokens deletes every bearer token that has expired at
	// now, and returns how many were deleted.
	PruneAuthTokens(ctx context.Context, now int64) (int, error)

	// Close closes the store.
	Close()
}
