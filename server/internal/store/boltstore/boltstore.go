// boltstore.go - bbolt backed broker store.
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

// Package boltstore implements the broker store with a simple boltdb based
// backend.
package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/katzenpost/broker/server/internal/store"
)

const (
	metadataBucket   = "metadata"
	versionKey       = "version"
	exitsBucket      = "exits"
	bridgesBucket    = "bridges"
	authTokensBucket = "auth_tokens"

	schemaVersion = 0
)

type authTokenRow struct {
	UserID uint64
	Expiry int64
}

type boltStore struct {
	db *bolt.DB
}

func (s *boltStore) UpsertExit(ctx context.Context, e *store.ExitRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(e.PubKey) == 0 {
		return fmt.Errorf("boltstore: exit row without a public key")
	}
	v, err := cbor.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(exitsBucket)).Put(e.PubKey, v)
	})
}

func (s *boltStore) Exits(ctx context.Context) ([]*store.ExitRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var exits []*store.ExitRow
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(exitsBucket)).ForEach(func(k, v []byte) error {
			e := new(store.ExitRow)
			if err := cbor.Unmarshal(v, e); err != nil {
				return fmt.Errorf("boltstore: corrupted exit row %x: %v", k, err)
			}
			exits = append(exits, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return exits, nil
}

func (s *boltStore) UpsertBridge(ctx context.Context, b *store.BridgeRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.Listen == "" {
		return fmt.Errorf("boltstore: bridge row without a listen address")
	}
	v, err := cbor.Marshal(b)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bridgesBucket)).Put([]byte(b.Listen), v)
	})
}

func (s *boltStore) Bridges(ctx context.Context, now int64) ([]*store.BridgeRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var bridges []*store.BridgeRow
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bridgesBucket)).ForEach(func(k, v []byte) error {
			b := new(store.BridgeRow)
			if err := cbor.Unmarshal(v, b); err != nil {
				return fmt.Errorf("boltstore: corrupted bridge row '%s': %v", k, err)
			}
			if b.Expiry > now {
				bridges = append(bridges, b)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return bridges, nil
}

func (s *boltStore) PutAuthToken(ctx context.Context, token string, userID uint64, expiry int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := cbor.Marshal(&authTokenRow{UserID: userID, Expiry: expiry})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(authTokensBucket)).Put([]byte(token), v)
	})
}

func (s *boltStore) AuthTokenUser(ctx context.Context, token string, now int64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	row := new(authTokenRow)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(authTokensBucket)).Get([]byte(token))
		if v == nil {
			return store.ErrNoSuchToken
		}
		return cbor.Unmarshal(v, row)
	})
	if err != nil {
		return 0, err
	}
	if row.Expiry <= now {
		return 0, store.ErrNoSuchToken
	}
	return row.UserID, nil
}

func (s *boltStore) PruneAuthTokens(ctx context.Context, now int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	pruned := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(authTokensBucket))
		var expired [][]byte
		if err := bkt.ForEach(func(k, v []byte) error {
			row := new(authTokenRow)
			if err := cbor.Unmarshal(v, row); err != nil || row.Expiry <= now {
				expired = append(expired, bytes.Clone(k))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range expired {
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}
		pruned = len(expired)
		return nil
	})
	return pruned, err
}

func (s *boltStore) Close() {
	s.db.Sync()
	s.db.Close()
}

// New creates (or loads) a broker store with the given file name f.
func New(f string) (store.Store, error) {
	db, err := bolt.Open(f, 0600, nil)
	if err != nil {
		return nil, err
	}
	s := &boltStore{db: db}

	if err = s.db.Update(func(tx *bolt.Tx) error {
		// Ensure that all the buckets exists, and grab the metadata bucket.
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		for _, name := range []string{exitsBucket, bridgesBucket, authTokensBucket} {
			if _, err = tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}

		var want [8]byte
		binary.BigEndian.PutUint64(want[:], schemaVersion)
		if b := bkt.Get([]byte(versionKey)); b != nil {
			if !bytes.Equal(b, want[:]) {
				return fmt.Errorf("boltstore: incompatible version: %x", b)
			}
			return nil
		}

		// We created a new database, so populate the new `metadata` bucket.
		return bkt.Put([]byte(versionKey), want[:])
	}); err != nil {
		// The struct isn't getting returned so clean up the database.
		s.db.Close()
		return nil, err
	}

	return s, nil
}
