package pdrstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Store {
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetCycle(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	started := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	c := &Cycle{
		ID:         "cycle-1",
		StartedAt:  started,
		DurationMS: 42,
		Outcome:    "complete",
		Changed:    []uint32{1, 2, 3},
		Records: []*Record{
			{HostHandle: 10, RepoHandle: 2, Type: 4, Data: []byte{0xAA}},
			{HostHandle: 11, RepoHandle: 3, Type: 1, Data: []byte{0xBB, 0xCC}},
		},
	}
	require.NoError(t, s.SaveCycle(ctx, c))

	got, err := s.GetCycle(ctx, "cycle-1")
	require.NoError(t, err)
	assert.Equal(t, "complete", got.Outcome)
	assert.Equal(t, []uint32{1, 2, 3}, got.Changed)
	assert.True(t, started.Equal(got.StartedAt))
	require.Len(t, got.Records, 2)
	assert.Equal(t, uint32(10), got.Records[0].HostHandle)
	assert.Equal(t, []byte{0xBB, 0xCC}, got.Records[1].Data)
	assert.Equal(t, "cycle-1", got.Records[1].CycleID)

	_, err = s.GetCycle(ctx, "missing")
	assert.Error(t, err)
}

func TestSaveCycleWithoutRecords(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCycle(ctx, &Cycle{ID: "empty", StartedAt: time.Now(), Outcome: "timeout"}))
	got, err := s.GetCycle(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, got.Records)

	assert.Error(t, s.SaveCycle(ctx, &Cycle{ID: "empty", StartedAt: time.Now(), Outcome: "timeout"}), "duplicate id")
}

func TestListAndPrune(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveCycle(ctx, &Cycle{
			ID:        fmt.Sprintf("c%d", i),
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Outcome:   "complete",
			Records:   []*Record{{HostHandle: uint32(i + 1), Type: 2}},
		}))
	}

	cycles, err := s.ListCycles(ctx, 2)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, "c4", cycles[0].ID)
	assert.Equal(t, "c3", cycles[1].ID)

	removed, err := s.Prune(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	cycles, err = s.ListCycles(ctx, 0)
	require.NoError(t, err)
	require.Len(t, cycles, 3)
	assert.Equal(t, "c2", cycles[2].ID)

	_, err = s.GetCycle(ctx, "c0")
	assert.Error(t, err)

	removed, err = s.Prune(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
