package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Database {
	t.Helper()
	dir := t.TempDir()
	level, err := NewLevelDB(filepath.Join(dir, "level"))
	require.NoError(t, err)
	bolt, err := NewBoltDB(filepath.Join(dir, "bolt.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		level.Close()
		bolt.Close()
	})
	return map[string]Database{
		"memory":  NewMemDB(),
		"leveldb": level,
		"bolt":    bolt,
	}
}

func TestDatabaseContract(t *testing.T) {
	for name, db := range backends(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			_, err := db.Get([]byte("missing"))
			require.True(t, errors.Is(err, ErrNotFound), "missing key must report ErrNotFound, got %v", err)

			require.NoError(t, db.Put([]byte("a"), []byte("1")))
			got, err := db.Get([]byte("a"))
			require.NoError(t, err)
			require.Equal(t, []byte("1"), got)

			require.NoError(t, db.WriteBatch([]KV{
				{Key: []byte("a"), Value: []byte("2")},
				{Key: []byte("b"), Value: []byte("3")},
			}))
			got, err = db.Get([]byte("a"))
			require.NoError(t, err)
			require.Equal(t, []byte("2"), got)

			got, err = db.Get([]byte("b"))
			require.NoError(t, err)
			require.Equal(t, []byte("3"), got)
		})
	}
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	value := []byte("abc")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'z'
	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), got)
	got[1] = 'z'
	again, _ := db.Get([]byte("k"))
	require.Equal(t, []byte("abc"), again)
}

func TestOverlayCommitAndDiscard(t *testing.T) {
	base := NewMemDB()
	require.NoError(t, base.Put([]byte("seed"), []byte("0")))

	overlay := NewOverlay(base)
	require.NoError(t, overlay.Put([]byte("seed"), []byte("1")))
	require.NoError(t, overlay.Put([]byte("new"), []byte("x")))
	require.Equal(t, 2, overlay.Pending())

	got, err := overlay.Get([]byte("seed"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got, "overlay reads its own writes")

	baseValue, err := base.Get([]byte("seed"))
	require.NoError(t, err)
	require.Equal(t, []byte("0"), baseValue, "base untouched before commit")

	overlay.Discard()
	require.Equal(t, 0, overlay.Pending())
	_, err = base.Get([]byte("new"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, overlay.Put([]byte("new"), []byte("y")))
	require.NoError(t, overlay.Commit())
	committed, err := base.Get([]byte("new"))
	require.NoError(t, err)
	require.Equal(t, []byte("y"), committed)
	require.Equal(t, 0, overlay.Pending())
}

type failingDB struct{ *MemDB }

func (f failingDB) WriteBatch([]KV) error { return errors.New("disk full") }

func TestOverlayCommitFailureKeepsBaseClean(t *testing.T) {
	base := failingDB{NewMemDB()}
	overlay := NewOverlay(base)
	require.NoError(t, overlay.Put([]byte("k"), []byte("v")))
	require.Error(t, overlay.Commit())
	_, err := base.Get([]byte("k"))
	require.ErrorIs(t, err, ErrNotFound)
}
