// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb), mr
}

func TestFilter_OnceExpires(t *testing.T) {
	store, mr := newRedisStore(t)
	f := NewFilter(store)
	ctx := context.Background()

	ok, err := f.Once(ctx, "marker", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.Once(ctx, "marker", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(time.Hour + time.Second)

	ok, err = f.Once(ctx, "marker", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFilter_ForgetReleasesOnce(t *testing.T) {
	store, mr := newRedisStore(t)
	f := NewFilter(store)
	ctx := context.Background()

	ok, err := f.Once(ctx, "marker", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.Forget(ctx, "marker"))
	assert.False(t, mr.Exists("receiver:marker"))

	ok, err = f.Once(ctx, "marker", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFilter_LockRedis(t *testing.T) {
	store, mr := newRedisStore(t)
	f := NewFilter(store, WithLockWait(50*time.Millisecond))
	ctx := context.Background()

	release, err := f.Lock(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("receiver:lock:msg-1"))

	_, err = f.Lock(ctx, "msg-1")
	assert.ErrorIs(t, err, ErrLockTimeout)

	release()
	assert.False(t, mr.Exists("receiver:lock:msg-1"))

	release2, err := f.Lock(ctx, "msg-1")
	require.NoError(t, err)
	release2()
}

func TestFilter_ReleaseKeepsForeignLock(t *testing.T) {
	store, mr := newRedisStore(t)
	f := NewFilter(store)
	ctx := context.Background()

	release, err := f.Lock(ctx, "msg-2")
	require.NoError(t, err)

	// The lock expired and someone else took the key.
	require.NoError(t, mr.Set("receiver:lock:msg-2", "other-holder"))
	release()

	v, err := mr.Get("receiver:lock:msg-2")
	require.NoError(t, err)
	assert.Equal(t, "other-holder", v)
}

func TestFilter_LockSerializesHolders(t *testing.T) {
	f := NewFilter(NewMemoryStore(), WithLockWait(5*time.Second))
	ctx := context.Background()

	var (
		inside  int32
		overlap int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := f.Lock(ctx, "same")
			if err != nil {
				t.Error(err)
				return
			}
			if atomic.AddInt32(&inside, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Zero(t, atomic.LoadInt32(&overlap))
}

func TestFilter_LockContextCancelled(t *testing.T) {
	f := NewFilter(NewMemoryStore(), WithLockWait(time.Minute))
	release, err := f.Lock(context.Background(), "busy")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Lock(ctx, "busy")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := s.SetNX(ctx, "k", "a", time.Minute)
	assert.True(t, ok)
	ok, _ = s.SetNX(ctx, "k", "b", time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = s.SetNX(ctx, "k", "b", time.Minute)
	assert.True(t, ok)

	require.NoError(t, s.CompareAndDelete(ctx, "k", "a"))
	ok, _ = s.SetNX(ctx, "k", "c", time.Minute)
	assert.False(t, ok)

	require.NoError(t, s.CompareAndDelete(ctx, "k", "b"))
	ok, _ = s.SetNX(ctx, "k", "c", time.Minute)
	assert.True(t, ok)
}
