package bstore

import (
	"testing"

	"github.com/guildkv/guildkv/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, "n1")
	require.NoError(t, err)
	return s, dir
}

func TestPutGet(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	rec, err := s.Put("guild-42", []byte("payload"), "n1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Version)
	assert.Equal(t, "n1", rec.Owner)

	got, found, err := s.Get("guild-42")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec, got)
}

func TestGetMissing(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	_, found, err := s.Get("guild-404")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestVersionMonotonic(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	var last uint64
	for i := 0; i < 5; i++ {
		rec, err := s.Put("guild-42", []byte{byte(i)}, "n1")
		require.NoError(t, err)
		assert.Greater(t, rec.Version, last)
		last = rec.Version
	}
}

func TestDelete(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	_, err := s.Put("guild-42", []byte("payload"), "n1")
	require.NoError(t, err)

	require.NoError(t, s.Delete("guild-42"))

	_, found, err := s.Get("guild-42")
	require.NoError(t, err)
	assert.False(t, found)

	// deleting an absent guild is not an error
	assert.NoError(t, s.Delete("guild-42"))
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, "n1")
	require.NoError(t, err)
	put, err := s.Put("guild-42", []byte("payload"), "n1")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// same node id reattaches to the same data
	s, err = Open(dir, "n1")
	require.NoError(t, err)
	defer s.Close()

	got, found, err := s.Get("guild-42")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, put, got)

	// the version counter continues instead of restarting
	next, err := s.Put("guild-7", []byte("x"), "n1")
	require.NoError(t, err)
	assert.Greater(t, next.Version, put.Version)
}

func TestHealthy(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	assert.NoError(t, s.Healthy())

	s.failures.Store(unhealthyAfter)
	err := s.Healthy()
	require.Error(t, err)
	assert.Equal(t, store.KindPersistenceFailure, store.KindOf(err))
}

func TestRecordEncodingRoundTrip(t *testing.T) {
	rec := store.Record{GuildID: "guild-42", Payload: []byte("data"), Version: 9, Owner: "node-a"}
	got, err := decodeRecord("guild-42", encodeRecord(rec))
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	// empty payload stays empty but non-nil after decode
	rec = store.Record{GuildID: "g", Payload: []byte{}, Version: 1, Owner: "n"}
	got, err = decodeRecord("g", encodeRecord(rec))
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}
