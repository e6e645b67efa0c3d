package store_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/artfain/triad-credits/internal/store"
)

type record struct {
	Name  string
	Count int
}

func open(t *testing.T, buckets ...string) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "state.db"), buckets...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPutGetRoundTrip(t *testing.T) {
	db := open(t, "widgets")

	err := db.Update(func(tx *store.Tx) error {
		return tx.Put("widgets", "a", record{Name: "alpha", Count: 3})
	})
	require.NoError(t, err)

	var got record
	err = db.View(func(tx *store.Tx) error {
		return tx.Get("widgets", "a", &got)
	})
	require.NoError(t, err)
	require.Equal(t, record{Name: "alpha", Count: 3}, got)
}

func TestGetMissingKeyReturnsErrNotFound(t *testing.T) {
	db := open(t, "widgets")

	var got record
	err := db.View(func(tx *store.Tx) error {
		return tx.Get("widgets", "missing", &got)
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestHasAndDelete(t *testing.T) {
	db := open(t, "widgets")

	err := db.Update(func(tx *store.Tx) error {
		if tx.Has("widgets", "a") {
			t.Fatal("key should not exist yet")
		}
		return tx.Put("widgets", "a", record{Name: "alpha"})
	})
	require.NoError(t, err)

	err = db.Update(func(tx *store.Tx) error {
		require.True(t, tx.Has("widgets", "a"))
		return tx.Delete("widgets", "a")
	})
	require.NoError(t, err)

	err = db.View(func(tx *store.Tx) error {
		require.False(t, tx.Has("widgets", "a"))
		return nil
	})
	require.NoError(t, err)
}

func TestForEachVisitsEveryEntry(t *testing.T) {
	db := open(t, "widgets")

	err := db.Update(func(tx *store.Tx) error {
		if err := tx.Put("widgets", "a", record{Name: "alpha", Count: 1}); err != nil {
			return err
		}
		return tx.Put("widgets", "b", record{Name: "beta", Count: 2})
	})
	require.NoError(t, err)

	seen := map[string]int{}
	err = db.View(func(tx *store.Tx) error {
		return tx.ForEach("widgets", func() any { return &record{} }, func(key string, value any) error {
			seen[key] = value.(*record).Count
			return nil
		})
	})
	require.NoError(t, err)
	require.Equal(t, map[string]int{"a": 1, "b": 2}, seen)
}

func TestNextSequenceIsMonotonicAndStartsAtOne(t *testing.T) {
	db := open(t, "seq")

	var first, second uint64
	err := db.Update(func(tx *store.Tx) error {
		var err error
		first, err = tx.NextSequence("seq")
		return err
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), first)

	err = db.Update(func(tx *store.Tx) error {
		var err error
		second, err = tx.NextSequence("seq")
		return err
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), second)
}

func TestOperationsOnMissingBucketFail(t *testing.T) {
	db := open(t) // no buckets created

	err := db.Update(func(tx *store.Tx) error {
		return tx.Put("nope", "a", record{})
	})
	require.Error(t, err)
}
