package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nyzoverifier/types"
)

func TestMemoryStorePutGetBlock(t *testing.T) {
	s := NewMemoryStore()
	block := &types.Block{Height: 5, StartTimestamp: 1234}

	require.NoError(t, s.PutBlock(block))

	got, ok, err := s.GetBlock(5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, block.StartTimestamp, got.StartTimestamp)

	_, ok, err = s.GetBlock(6)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreHighestHeightTracksPuts(t *testing.T) {
	s := NewMemoryStore()
	_, ok, err := s.HighestHeight()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.PutBlock(&types.Block{Height: 3}))
	require.NoError(t, s.PutBlock(&types.Block{Height: 1}))

	h, ok, err := s.HighestHeight()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(3), h)
}

func TestMemoryStoreGenesisStartTimestamp(t *testing.T) {
	s := NewMemoryStore()
	_, ok, err := s.GenesisStartTimestamp()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetGenesisStartTimestamp(types.Timestamp(42)))
	ts, ok, err := s.GenesisStartTimestamp()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.Timestamp(42), ts)
}

func TestMemoryStoreSnapshotRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	snap := &types.BalanceSnapshot{BlockHeight: 7, RolloverFees: 1}
	require.NoError(t, s.PutSnapshot(snap))

	got, ok, err := s.GetSnapshot(7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint8(1), got.RolloverFees)
}
