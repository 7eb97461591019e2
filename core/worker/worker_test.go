// worker_test.go - Background worker tests.
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

package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHalt(t *testing.T) {
	require := require.New(t)

	var w Worker
	var stopped atomic.Int32
	for i := 0; i < 4; i++ {
		w.Go(func() {
			<-w.HaltCh()
			stopped.Add(1)
		})
	}
	w.Go(func() {
		<-w.Context().Done()
		stopped.Add(1)
	})

	w.Halt()
	require.Equal(int32(5), stopped.Load())
	require.Error(w.Context().Err())

	// Halting twice is harmless.
	w.Halt()
}

func TestEvery(t *testing.T) {
	require := require.New(t)

	var w Worker
	ticks := make(chan struct{}, 16)
	w.Every(time.Millisecond, func(ctx context.Context) {
		require.NoError(ctx.Err())
		select {
		case ticks <- struct{}{}:
		default:
		}
	})

	for i := 0; i < 3; i++ {
		select {
		case <-ticks:
		case <-time.After(5 * time.Second):
			t.Fatal("periodic task never ran")
		}
	}
	w.Halt()
}
