package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_PutGetDelete(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(EventsBucket, []byte("k1"), []byte("v1")))

	got, err := s.Get(EventsBucket, []byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got)

	missing, err := s.Get(EventsBucket, []byte("nope"))
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, s.Delete(EventsBucket, []byte("k1")))
	got, err = s.Get(EventsBucket, []byte("k1"))
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestStore_BucketsIsolated(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(SplitsBucket, []byte("k"), []byte("split")))
	require.NoError(t, s.Put(VerificationsBucket, []byte("k"), []byte("verif")))

	got, err := s.Get(SplitsBucket, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("split"), got)

	got, err = s.Get(VerificationsBucket, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("verif"), got)
}

func TestStore_ForEachKeyOrder(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(EventsBucket, []byte{0x02}, []byte("b")))
	require.NoError(t, s.Put(EventsBucket, []byte{0x01}, []byte("a")))
	require.NoError(t, s.Put(EventsBucket, []byte{0x03}, []byte("c")))

	var values []string
	err = s.ForEach(EventsBucket, func(key, value []byte) error {
		values = append(values, string(value))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, values)
}

func TestStore_ReopenPreservesData(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(SplitsBucket, []byte("k"), []byte("v")))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(SplitsBucket, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
}
