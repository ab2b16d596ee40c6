package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStore(filepath.Join(t.TempDir(), "cache"), logger)
}

func TestDigest_Stable(t *testing.T) {
	sum := sha256.Sum256([]byte("transcript-https://example.com/ep1.mp3"))
	want := hex.EncodeToString(sum[:])

	assert.Equal(t, want, Digest("transcript-https://example.com/ep1.mp3"))
	assert.Equal(t, Digest("k"), Digest("k"))
	assert.NotEqual(t, Digest("k1"), Digest("k2"))
	assert.Len(t, Digest(""), 64)
}

func TestGetOrCompute_ComputesOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var calls int
	compute := func(context.Context) (string, error) {
		calls++
		return "hello<0.00s> world<0.40s>", nil
	}

	first, err := GetOrCompute(ctx, store, "k", StringCodec{}, compute)
	require.NoError(t, err)
	second, err := GetOrCompute(ctx, store, "k", StringCodec{}, compute)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	assert.FileExists(t, store.Path("k"))
}

func TestGetOrCompute_CreatesDirectoryOnFirstUse(t *testing.T) {
	store := newTestStore(t)
	_, err := os.Stat(store.Dir())
	require.True(t, os.IsNotExist(err))

	_, err = GetOrCompute(context.Background(), store, "k", JSONCodec[int]{}, func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.DirExists(t, store.Dir())
}

func TestGetOrCompute_PersistsAcrossStores(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	ctx := context.Background()

	type payload struct {
		Values []float64 `json:"values"`
	}

	_, err := GetOrCompute(ctx, NewStore(dir, nil), "stage-a", JSONCodec[payload]{}, func(context.Context) (payload, error) {
		return payload{Values: []float64{1.5, 2.5}}, nil
	})
	require.NoError(t, err)

	got, err := GetOrCompute(ctx, NewStore(dir, nil), "stage-a", JSONCodec[payload]{}, func(context.Context) (payload, error) {
		t.Fatal("compute must not run on a warm cache")
		return payload{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 2.5}, got.Values)
}

func TestGetOrCompute_FailureIsNotCached(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("upstream down")

	var calls int
	_, err := GetOrCompute(ctx, store, "k", StringCodec{}, func(context.Context) (string, error) {
		calls++
		return "", boom
	})
	require.ErrorIs(t, err, boom)
	assert.NoFileExists(t, store.Path("k"))

	v, err := GetOrCompute(ctx, store, "k", StringCodec{}, func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, calls)
}

func TestGetOrCompute_WriteErrorKeepsValue(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	store := NewStore(filepath.Join(blocker, "cache"), nil)

	v, err := GetOrCompute(context.Background(), store, "k", StringCodec{}, func(context.Context) (string, error) {
		return "computed", nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWrite)
	assert.Equal(t, "computed", v)

	var we *WriteError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, "k", we.Key)
}

func TestGetOrCompute_CodecMismatchRecomputes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := GetOrCompute(ctx, store, "k", StringCodec{}, func(context.Context) (string, error) {
		return "text", nil
	})
	require.NoError(t, err)

	v, err := GetOrCompute(ctx, store, "k", JSONCodec[[]int]{}, func(context.Context) ([]int, error) {
		return []int{1, 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, v)
}

func TestGetOrCompute_CorruptRecordRecomputes(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.MkdirAll(store.Dir(), 0o755))
	require.NoError(t, os.WriteFile(store.Path("k"), []byte("{not json"), 0o600))

	v, err := GetOrCompute(context.Background(), store, "k", StringCodec{}, func(context.Context) (string, error) {
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}

func TestGetOrCompute_ConcurrentCallersComputeOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var calls atomic.Int32
	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := GetOrCompute(ctx, store, "shared", StringCodec{}, func(context.Context) (string, error) {
				calls.Add(1)
				time.Sleep(20 * time.Millisecond)
				return "value", nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "value", r)
	}
}

func TestGetOrCompute_CancelledWhileLocked(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.MkdirAll(store.Dir(), 0o755))

	release := make(chan struct{})
	started := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_, _ = GetOrCompute(context.Background(), store, "slow", StringCodec{}, func(context.Context) (string, error) {
			close(started)
			<-release
			return "done", nil
		})
	}()
	<-started
	defer func() {
		close(release)
		<-finished
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err := GetOrCompute(ctx, store, "slow", StringCodec{}, func(context.Context) (string, error) {
		return "second", nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStore_ListAndRemove(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entries, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, entries)

	for _, key := range []string{"transcript-a", "advert_timestamps-a"} {
		_, err := GetOrCompute(ctx, store, key, StringCodec{}, func(context.Context) (string, error) {
			return key, nil
		})
		require.NoError(t, err)
	}

	entries, err = store.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	keys := []string{entries[0].Key, entries[1].Key}
	assert.ElementsMatch(t, []string{"transcript-a", "advert_timestamps-a"}, keys)
	for _, e := range entries {
		assert.Equal(t, Digest(e.Key), e.Digest)
		assert.Equal(t, "text", e.Codec)
		assert.Positive(t, e.SizeBytes)
	}

	require.NoError(t, store.Remove("transcript-a"))
	assert.NoFileExists(t, store.Path("transcript-a"))
	assert.ErrorIs(t, store.Remove("transcript-a"), ErrNotCached)

	entries, err = store.List()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
