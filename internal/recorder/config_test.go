package recorder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runlog/internal/config"
	"github.com/roach88/runlog/internal/schema"
	"github.com/roach88/runlog/internal/testutil"
)

func TestConfigOptions_FlushThreshold(t *testing.T) {
	ctx := context.Background()
	st := testutil.OpenStore(t)

	cfg := config.Default()
	cfg.Writer.FlushThreshold = 2
	rec := newRecorder(t, st, ConfigOptions(cfg)...)
	run, err := rec.OpenRun(ctx, testutil.ConfigHash, testutil.Start)
	require.NoError(t, err)

	clock := testutil.NewBacktestClock(testutil.Start, time.Second)
	for i := 0; i < 5; i++ {
		_, err := rec.Record(ctx, testutil.MarketData(t, run.ID, clock.Next(), "AAPL", 100))
		require.NoError(t, err)
	}
	require.NoError(t, rec.CloseRun(ctx, run.ID, clock.Next()))

	stats := rec.writer.Stats()
	assert.Equal(t, int64(3), stats.Commits)
	assert.Equal(t, int64(5), stats.Committed)
}

func TestConfigOptions_PayloadCap(t *testing.T) {
	ctx := context.Background()
	st := testutil.OpenStore(t)

	cfg := config.Default()
	cfg.Validation.MaxPayloadBytes = 64
	rec := newRecorder(t, st, ConfigOptions(cfg)...)
	run, err := rec.OpenRun(ctx, testutil.ConfigHash, testutil.Start)
	require.NoError(t, err)

	c := testutil.MarketData(t, run.ID, testutil.Start, strings.Repeat("X", 100), 100)
	_, err = rec.Record(ctx, c)
	require.Error(t, err)

	var reject *schema.RejectError
	require.True(t, errors.As(err, &reject))
	assert.Equal(t, "payload", reject.Field)
	assert.ErrorIs(t, err, schema.ErrRejected)
}
