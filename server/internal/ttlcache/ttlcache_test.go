// ttlcache_test.go - Single flight TTL cache tests.
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

package ttlcache

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConcurrentMissesCoalesce(t *testing.T) {
	require := require.New(t)

	c := New[int](8, time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	}

	const n = 32
	var wg sync.WaitGroup
	results := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Get(context.Background(), "k", fn)
		}(i)
	}

	// Give every caller a chance to attach to the flight.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(int32(1), calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(errs[i])
		require.Equal(7, results[i])
	}

	v, err := c.Get(context.Background(), "k", fn)
	require.NoError(err)
	require.Equal(7, v)
	require.Equal(int32(1), calls.Load())
}

func TestErrorsAreNotCached(t *testing.T) {
	require := require.New(t)

	c := New[string](8, time.Minute)
	errBoom := errors.New("boom")
	fail := true
	calls := 0
	fn := func(context.Context) (string, error) {
		calls++
		if fail {
			return "", errBoom
		}
		return "ok", nil
	}

	_, err := c.Get(context.Background(), "k", fn)
	require.ErrorIs(err, errBoom)

	fail = false
	v, err := c.Get(context.Background(), "k", fn)
	require.NoError(err)
	require.Equal("ok", v)
	require.Equal(2, calls)
}

func TestExpiry(t *testing.T) {
	require := require.New(t)

	c := New[int](8, 50*time.Millisecond)
	calls := 0
	fn := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}

	v, err := c.Get(context.Background(), "k", fn)
	require.NoError(err)
	require.Equal(1, v)

	time.Sleep(100 * time.Millisecond)
	v, err = c.Get(context.Background(), "k", fn)
	require.NoError(err)
	require.Equal(2, v)
}

func TestExpiryClock(t *testing.T) {
	require := require.New(t)

	now := time.Unix(1700000000, 0)
	c := New[int](8, 10*time.Second)
	c.now = func() time.Time { return now }
	calls := 0
	fn := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}

	v, err := c.Get(context.Background(), "k", fn)
	require.NoError(err)
	require.Equal(1, v)

	now = now.Add(9 * time.Second)
	v, err = c.Get(context.Background(), "k", fn)
	require.NoError(err)
	require.Equal(1, v)

	now = now.Add(time.Second)
	v, err = c.Get(context.Background(), "k", fn)
	require.NoError(err)
	require.Equal(2, v)
	require.Equal(1, c.Len())
}

func TestNoBackgroundGoroutines(t *testing.T) {
	require := require.New(t)

	before := runtime.NumGoroutine()
	caches := make([]*Cache[int], 0, 64)
	for i := 0; i < 64; i++ {
		caches = append(caches, New[int](8, time.Minute))
	}
	require.Len(caches, 64)
	require.Less(runtime.NumGoroutine(), before+8)
}

func TestCallerCancellation(t *testing.T) {
	require := require.New(t)

	c := New[int](8, time.Minute)
	release := make(chan struct{})
	fn := func(ctx context.Context) (int, error) {
		<-release
		// The computation itself is not cancelled.
		return 1, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, "k", fn)
	require.ErrorIs(err, context.Canceled)

	close(release)
	v, err := c.Get(context.Background(), "k", fn)
	require.NoError(err)
	require.Equal(1, v)
}
