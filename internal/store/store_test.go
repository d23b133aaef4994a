package store

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertGetRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Insert([]byte("foo"), []byte("bar")))

	value, err := s.Get([]byte("foo"))
	require.NoError(t, err)
	require.Equal(t, "bar", string(value))
}

func TestDeleteRemovesKey(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Insert([]byte("foo"), []byte("bar")))
	require.NoError(t, s.Delete([]byte("foo")))

	_, err := s.Get([]byte("foo"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestDeleteAbsentKeyReportsNotFound(t *testing.T) {
	s := openTestStore(t)

	err := s.Delete([]byte("missing"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRepeatInsertReturnsLatestValue(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Insert([]byte("k"), []byte("v1")))
	require.NoError(t, s.Insert([]byte("k"), []byte("v2")))

	value, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(value))
}

func TestDeleteThenReinsertIsVisible(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Insert([]byte("k"), []byte("v1")))
	require.NoError(t, s.Delete([]byte("k")))
	require.NoError(t, s.Insert([]byte("k"), []byte("v2")))

	value, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(value))
}

func TestEmptyValueDistinctFromNotFound(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Insert([]byte("empty_value_key"), []byte("")))

	value, err := s.Get([]byte("empty_value_key"))
	require.NoError(t, err)
	require.Equal(t, "", string(value))
}

func TestRotationProducesMultipleSegments(t *testing.T) {
	s := openTestStore(t, WithMaxSegmentBytes(512))

	for i := 0; i < 25; i++ {
		value := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("rotation-value-%02d-padding", i)))
		require.NoError(t, s.Insert([]byte(fmt.Sprintf("rotation_key_%d", i)), []byte(value)))
	}

	ids, err := listSegmentIDs(s.dir)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(ids), 2)

	value, err := s.Get([]byte("rotation_key_10"))
	require.NoError(t, err)
	require.NotEmpty(t, value)
}

func TestDeleteHeavyWorkloadStillRotates(t *testing.T) {
	s := openTestStore(t, WithMaxSegmentBytes(512))

	for i := 0; i < 25; i++ {
		key := []byte(fmt.Sprintf("delete_key_%d", i))
		require.NoError(t, s.Insert(key, []byte("v")))
	}
	afterInserts, err := listSegmentIDs(s.dir)
	require.NoError(t, err)
	for i := 0; i < 25; i++ {
		key := []byte(fmt.Sprintf("delete_key_%d", i))
		require.NoError(t, s.Delete(key))
	}

	ids, err := listSegmentIDs(s.dir)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(ids), 2)
	require.Greater(t, len(ids), len(afterInserts))

	for i := 0; i < 25; i++ {
		_, err := s.Get([]byte(fmt.Sprintf("delete_key_%d", i)))
		require.ErrorIs(t, err, ErrKeyNotFound)
	}
}

func TestMergePreservesValuesAndReducesSealedSegments(t *testing.T) {
	s := openTestStore(t, WithMaxSegmentBytes(512))

	for i := 0; i < 25; i++ {
		value := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("rotation-value-%02d-padding", i)))
		require.NoError(t, s.Insert([]byte(fmt.Sprintf("rotation_key_%d", i)), []byte(value)))
	}

	before := len(s.sealedIDs)
	require.Greater(t, before, 0)

	want, err := s.Get([]byte("rotation_key_15"))
	require.NoError(t, err)

	require.NoError(t, s.Merge())

	require.LessOrEqual(t, len(s.sealedIDs), before)

	got, err := s.Get([]byte("rotation_key_15"))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestMergeAbortsAndKeepsSegmentsOnUnreadableEntry(t *testing.T) {
	s := openTestStore(t, WithMaxSegmentBytes(64))

	require.NoError(t, s.Insert([]byte("a"), []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")))
	require.NoError(t, s.Insert([]byte("b"), []byte("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")))
	require.Greater(t, len(s.sealedIDs), 0)

	sealedBefore := append([]int(nil), s.sealedIDs...)

	// Corrupt a sealed segment on disk so its value can no longer be read,
	// without touching the index that still points into it.
	victim := sealedBefore[0]
	require.NoError(t, os.Truncate(segmentPath(s.dir, victim), 0))

	err := s.Merge()
	require.Error(t, err)

	// Nothing should have been deleted or rewritten.
	require.Equal(t, sealedBefore, s.sealedIDs)
	for _, id := range sealedBefore {
		_, statErr := os.Stat(segmentPath(s.dir, id))
		require.NoError(t, statErr)
	}
}

func TestMergeWithNoSealedSegmentsIsNoOp(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Insert([]byte("k"), []byte("v")))
	require.NoError(t, s.Merge())

	value, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v", string(value))
}

func TestMergeDropsTombstonedKeys(t *testing.T) {
	s := openTestStore(t, WithMaxSegmentBytes(64))

	require.NoError(t, s.Insert([]byte("a"), []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")))
	require.NoError(t, s.Insert([]byte("b"), []byte("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")))
	require.NoError(t, s.Delete([]byte("a")))
	require.NoError(t, s.Insert([]byte("c"), []byte("cccccccccccccccccccccccccccccccccccccc")))

	require.Greater(t, len(s.sealedIDs), 0)
	require.NoError(t, s.Merge())

	_, err := s.Get([]byte("a"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	value, err := s.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", string(value))
}

func TestRestartEquivalence(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, WithMaxSegmentBytes(512))
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		value := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("restart-value-%02d-padding", i)))
		require.NoError(t, s.Insert([]byte(fmt.Sprintf("restart_key_%d", i)), []byte(value)))
	}
	require.NoError(t, s.Delete([]byte("restart_key_3")))

	want := map[string]string{}
	for i := 0; i < 25; i++ {
		key := fmt.Sprintf("restart_key_%d", i)
		if i == 3 {
			continue
		}
		v, err := s.Get([]byte(key))
		require.NoError(t, err)
		want[key] = string(v)
	}
	require.NoError(t, s.Close())

	reopened, err := Open(dir, WithMaxSegmentBytes(512))
	require.NoError(t, err)
	defer reopened.Close()

	for key, value := range want {
		got, err := reopened.Get([]byte(key))
		require.NoError(t, err)
		require.Equal(t, value, string(got))
	}

	_, err = reopened.Get([]byte("restart_key_3"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestOpenFailsWhenDirectoryAlreadyLocked(t *testing.T) {
	dir := t.TempDir()

	first, err := Open(dir)
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(dir)
	require.ErrorIs(t, err, ErrDirectoryLocked)
}

func TestRecoveryTruncatesCorruptTail(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, WithMaxSegmentBytes(4096))
	require.NoError(t, err)
	require.NoError(t, s.Insert([]byte("safe_key"), []byte("safe_value")))
	require.NoError(t, s.Close())

	path := filepath.Join(dir, "segment_0.dat")
	info, err := os.Stat(path)
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xDE, 0xAD, 0xBE, 0xEF}, info.Size())
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(dir, WithMaxSegmentBytes(4096))
	require.NoError(t, err)
	defer reopened.Close()

	value, err := reopened.Get([]byte("safe_key"))
	require.NoError(t, err)
	require.Equal(t, "safe_value", string(value))

	truncatedInfo, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, info.Size(), truncatedInfo.Size())
}

func TestStatsReportsCounts(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Insert([]byte("a"), []byte("1")))
	require.NoError(t, s.Insert([]byte("b"), []byte("2")))

	stats, err := s.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, stats.Segments)
	require.Equal(t, 2, stats.Entries)
	require.EqualValues(t, 2, stats.Ops)
	require.Greater(t, stats.Bytes, int64(0))
}

func TestFatalIOErrorsAreWrapped(t *testing.T) {
	require.True(t, errors.Is(fmt.Errorf("%w: x", ErrFatalIO), ErrFatalIO))
}
