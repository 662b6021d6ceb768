package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/nodekeeper/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteSink_RoundTripNewestFirst(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	sink, err := New("sqlite://" + dbPath)
	require.NoError(t, err)
	defer func() { assert.NoError(t, sink.Close()) }()

	ctx := context.Background()
	t0 := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	require.NoError(t, sink.Send(ctx, history.Event{
		Type: history.EventLaunch, OccurredAt: t0, Name: "node", Role: "daemon",
		PID: 4242, CommandLine: "--testnet",
	}))
	require.NoError(t, sink.Send(ctx, history.Event{
		Type: history.EventExit, OccurredAt: t0.Add(time.Second), Name: "node", Role: "daemon",
		PID: 4242, ExitCode: history.IntPtr(1),
	}))
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventLaunch, Name: "other", Role: "account_manager"}))

	evs, err := sink.Recent(ctx, "node", 10)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, history.EventExit, evs[0].Type)
	require.NotNil(t, evs[0].ExitCode)
	assert.Equal(t, 1, *evs[0].ExitCode)
	assert.Equal(t, history.EventLaunch, evs[1].Type)
	assert.Nil(t, evs[1].ExitCode)
	assert.Equal(t, "--testnet", evs[1].CommandLine)
	assert.Equal(t, 4242, evs[1].PID)
	assert.True(t, evs[1].OccurredAt.Equal(t0), "got %v want %v", evs[1].OccurredAt, t0)

	all, err := sink.Recent(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLiteSink_InMemoryLimit(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventAvailable, Name: "n"}))
	}
	evs, err := sink.Recent(ctx, "n", 2)
	require.NoError(t, err)
	assert.Len(t, evs, 2)
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}
