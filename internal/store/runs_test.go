package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runlog/internal/event"
)

func TestCreateRun_ReadBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run := createOpenRun(t, s, testUUID(1))

	got, err := s.ReadRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.True(t, run.Start.Equal(got.Start))
	assert.Equal(t, testHash, got.ConfigHash)
	assert.False(t, got.Closed())
}

func TestCreateRun_Duplicate(t *testing.T) {
	s := createTestStore(t)
	run := createOpenRun(t, s, testUUID(1))

	err := s.CreateRun(context.Background(), run)
	assert.ErrorIs(t, err, ErrRunExists)
}

func TestCreateRun_RejectsClosedRun(t *testing.T) {
	s := createTestStore(t)
	run := event.Run{ID: testUUID(1), Start: testStart, End: testStart.Add(time.Hour), ConfigHash: testHash}

	assert.Error(t, s.CreateRun(context.Background(), run))
}

func TestCreateRun_RejectsMalformedHash(t *testing.T) {
	s := createTestStore(t)
	run := event.Run{ID: testUUID(1), Start: testStart, ConfigHash: "short"}

	assert.Error(t, s.CreateRun(context.Background(), run))
}

func TestCloseRun(t *testing.T) {
	ctx := context.Background()

	t.Run("records end", func(t *testing.T) {
		s := createTestStore(t)
		run := createOpenRun(t, s, testUUID(1))
		end := testStart.Add(6 * time.Hour)

		require.NoError(t, s.CloseRun(ctx, run.ID, end))

		got, err := s.ReadRun(ctx, run.ID)
		require.NoError(t, err)
		assert.True(t, got.Closed())
		assert.True(t, end.Equal(got.End))
	})

	t.Run("end equal to start", func(t *testing.T) {
		s := createTestStore(t)
		run := createOpenRun(t, s, testUUID(1))
		assert.NoError(t, s.CloseRun(ctx, run.ID, testStart))
	})

	t.Run("end before start", func(t *testing.T) {
		s := createTestStore(t)
		run := createOpenRun(t, s, testUUID(1))
		assert.ErrorIs(t, s.CloseRun(ctx, run.ID, testStart.Add(-time.Second)), ErrInvalidEnd)
	})

	t.Run("end before latest event", func(t *testing.T) {
		s := createTestStore(t)
		run := createOpenRun(t, s, testUUID(1))
		require.NoError(t, s.AppendBatch(ctx, run.ID, []event.Event{
			testEvent(run.ID, 10, 10*time.Second, event.TypeMarketDataEvent, `{}`),
			testEvent(run.ID, 11, 50*time.Second, event.TypeMarketDataEvent, `{}`),
		}))

		assert.ErrorIs(t, s.CloseRun(ctx, run.ID, testStart.Add(30*time.Second)), ErrInvalidEnd)
		got, err := s.ReadRun(ctx, run.ID)
		require.NoError(t, err)
		assert.False(t, got.Closed())

		assert.NoError(t, s.CloseRun(ctx, run.ID, testStart.Add(50*time.Second)))
	})

	t.Run("already closed", func(t *testing.T) {
		s := createTestStore(t)
		run := createOpenRun(t, s, testUUID(1))
		require.NoError(t, s.CloseRun(ctx, run.ID, testStart.Add(time.Hour)))
		assert.ErrorIs(t, s.CloseRun(ctx, run.ID, testStart.Add(2*time.Hour)), ErrRunClosed)
	})

	t.Run("unknown run", func(t *testing.T) {
		s := createTestStore(t)
		assert.ErrorIs(t, s.CloseRun(ctx, testUUID(9), testStart), ErrRunNotFound)
	})
}

func TestQueryableRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run := createOpenRun(t, s, testUUID(1))

	_, err := s.QueryableRun(ctx, run.ID)
	assert.ErrorIs(t, err, ErrRunOpen)

	require.NoError(t, s.CloseRun(ctx, run.ID, testStart.Add(time.Hour)))
	got, err := s.QueryableRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)

	_, err = s.QueryableRun(ctx, testUUID(2))
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)

	later := event.Run{ID: testUUID(1), Start: testStart.Add(time.Hour), ConfigHash: testHash}
	require.NoError(t, s.CreateRun(ctx, later))
	createOpenRun(t, s, testUUID(2))

	runs, err = s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, testUUID(2), runs[0].ID)
	assert.Equal(t, testUUID(1), runs[1].ID)
}

func TestDeleteRun_Cascades(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run := createOpenRun(t, s, testUUID(1))
	other := createOpenRun(t, s, testUUID(2))

	require.NoError(t, s.AppendBatch(ctx, run.ID, []event.Event{
		testEvent(run.ID, 10, time.Second, event.TypeMarketDataEvent, `{}`),
		testEvent(run.ID, 11, 2*time.Second, event.TypeMarketDataEvent, `{}`),
	}))
	require.NoError(t, s.AppendBatch(ctx, other.ID, []event.Event{
		testEvent(other.ID, 20, time.Second, event.TypeMarketDataEvent, `{}`),
	}))

	n, err := s.DeleteRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.ReadRun(ctx, run.ID)
	assert.ErrorIs(t, err, ErrRunNotFound)

	var remaining int
	require.NoError(t, s.reader.QueryRow("SELECT COUNT(*) FROM events").Scan(&remaining))
	assert.Equal(t, 1, remaining)

	_, err = s.DeleteRun(ctx, run.ID)
	assert.ErrorIs(t, err, ErrRunNotFound)
}
