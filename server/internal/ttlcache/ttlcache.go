// ttlcache.go - Single flight TTL cache.
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

// Package ttlcache provides a size bounded cache whose entries expire after
// a fixed TTL, and which collapses concurrent misses for the same key into a
// single computation.
package ttlcache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	v        V
	deadline time.Time
}

// Cache is a single flight TTL cache.  It is safe for concurrent use.
type Cache[V any] struct {
	entries *lru.Cache[string, entry[V]]
	group   singleflight.Group
	ttl     time.Duration
	now     func() time.Time
}

// New returns a Cache holding at most size entries, each for ttl.
// Expired entries are dropped when next looked up or when pushed out by
// newer ones, so a Cache owns no background go routine and needs no
// closing.
func New[V any](size int, ttl time.Duration) *Cache[V] {
	if size < 1 {
		size = 1
	}
	entries, err := lru.New[string, entry[V]](size)
	if err != nil {
		panic("ttlcache: BUG: " + err.Error())
	}
	return &Cache[V]{
		entries: entries,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *Cache[V]) lookup(key string) (V, bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(e.deadline) {
		c.entries.Remove(key)
		var zero V
		return zero, false
	}
	return e.v, true
}

// Get returns the cached value for key, or computes it with fn.  Concurrent
// callers that miss on the same key share one invocation of fn and its
// result.  Errors are returned to every waiting caller but never cached.
//
// fn runs detached from the cancellation of ctx, since other callers may be
// waiting on it; a caller whose ctx is done stops waiting and returns.
func (c *Cache[V]) Get(ctx context.Context, key string, fn func(context.Context) (V, error)) (V, error) {
	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// A flight that finished between the lookup above and this one
		// already populated the cache.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		v, err := fn(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, entry[V]{v: v, deadline: c.now().Add(c.ttl)})
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Purge drops every cached entry.
func (c *Cache[V]) Purge() {
	c.entries.Purge()
}

// Len returns the number of cached entries, including ones that expired
// but have not been evicted yet.
func (c *Cache[V]) Len() int {
	return c.entries.Len()
}
