package runlog

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/adform-extractor/internal/model"
)

func openTestLog(t *testing.T) (*Log, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	l, err := OpenWithClock(context.Background(), ":memory:", clock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, clock
}

func TestOpenEmptyPathDisables(t *testing.T) {
	l, err := Open(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, l)

	ctx := context.Background()
	id, err := l.Start(ctx, "S1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, l.RecordTable(ctx, id, model.OutputTable{Name: "Click"}))
	assert.NoError(t, l.Complete(ctx, id, nil))
	assert.NoError(t, l.Fail(ctx, id, "boom"))

	entries, err := l.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, l.Close())
}

func TestRunLifecycle(t *testing.T) {
	l, clock := openTestLog(t)
	ctx := context.Background()

	id, err := l.Start(ctx, "S1")
	require.NoError(t, err)

	require.NoError(t, l.RecordTable(ctx, id, model.OutputTable{Name: "Click", Rows: 3, PrimaryKey: []string{"GUID"}, Incremental: true}))
	require.NoError(t, l.RecordTable(ctx, id, model.OutputTable{Name: "meta_campaign", Rows: 2, PrimaryKey: []string{}}))

	clock.Advance(time.Minute)
	require.NoError(t, l.Complete(ctx, id, &Summary{Metadata: map[string]any{"files": 2}}))

	entries, err := l.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, id, e.ID)
	assert.Equal(t, "S1", e.SetupID)
	assert.Equal(t, StatusComplete, e.Status)
	assert.Equal(t, 2, e.Tables)
	assert.Equal(t, int64(5), e.Rows)
	require.NotNil(t, e.CompletedAt)
	assert.True(t, e.CompletedAt.Equal(time.Date(2024, 3, 1, 12, 1, 0, 0, time.UTC)))
	assert.Equal(t, float64(2), e.Metadata["files"])

	tables, err := l.Tables(ctx, id)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "Click", tables[0].Name)
	assert.Equal(t, []string{"GUID"}, tables[0].PrimaryKey)
	assert.True(t, tables[0].Incremental)
	assert.Equal(t, "meta_campaign", tables[1].Name)
	assert.Empty(t, tables[1].PrimaryKey)
}

func TestRecordTableReplaces(t *testing.T) {
	l, _ := openTestLog(t)
	ctx := context.Background()

	id, err := l.Start(ctx, "S1")
	require.NoError(t, err)
	require.NoError(t, l.RecordTable(ctx, id, model.OutputTable{Name: "Click", Rows: 3}))
	require.NoError(t, l.RecordTable(ctx, id, model.OutputTable{Name: "Click", Rows: 4}))

	entries, err := l.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Tables)
	assert.Equal(t, int64(4), entries[0].Rows)
}

func TestFail(t *testing.T) {
	l, _ := openTestLog(t)
	ctx := context.Background()

	id, err := l.Start(ctx, "S1")
	require.NoError(t, err)
	require.NoError(t, l.Fail(ctx, id, "Failed to fetch token"))

	entries, err := l.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, StatusFailed, entries[0].Status)
	assert.Equal(t, "Failed to fetch token", entries[0].Error)
}

func TestUnknownRun(t *testing.T) {
	l, _ := openTestLog(t)
	ctx := context.Background()

	err := l.Complete(ctx, "missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	assert.Error(t, l.Fail(ctx, "missing", "x"))
}

func TestListOrderAndLimit(t *testing.T) {
	l, clock := openTestLog(t)
	ctx := context.Background()

	var ids []string
	for range 3 {
		id, err := l.Start(ctx, "S1")
		require.NoError(t, err)
		ids = append(ids, id)
		clock.Advance(time.Hour)
	}

	entries, err := l.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ids[2], entries[0].ID)
	assert.Equal(t, ids[1], entries[1].ID)
	assert.Equal(t, StatusRunning, entries[0].Status)
	assert.Nil(t, entries[0].CompletedAt)
}
