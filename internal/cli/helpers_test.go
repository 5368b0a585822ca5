package cli

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/runlog/internal/event"
	"github.com/roach88/runlog/internal/recorder"
	"github.com/roach88/runlog/internal/schema"
	"github.com/roach88/runlog/internal/store"
	"github.com/roach88/runlog/internal/testutil"
	"github.com/roach88/runlog/internal/writer"
)

// seedDB records a closed run of three trades (two AAPL, one MSFT) into a
// fresh database file and returns its path.
func seedDB(t *testing.T) (string, event.Run) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runlog.db")

	st, err := store.Open(path)
	require.NoError(t, err)
	contracts, err := schema.LoadContracts()
	require.NoError(t, err)

	rec := recorder.New(st, contracts,
		recorder.WithIDGenerator(testutil.NewSequentialIDs(1)),
		recorder.WithWriterOptions(writer.WithInterval(time.Hour)),
	)
	run, err := rec.OpenRun(ctx, testutil.ConfigHash, testutil.Start)
	require.NoError(t, err)

	at := func(sec int) time.Time { return run.Start.Add(time.Duration(sec) * time.Second) }
	for _, c := range []event.Candidate{
		testutil.Trade(t, run.ID, at(1), "O-1", "AAPL", 100, 100),
		testutil.Trade(t, run.ID, at(2), "O-2", "AAPL", 100, 110),
		testutil.Trade(t, run.ID, at(3), "O-3", "MSFT", 50, 300),
	} {
		_, err := rec.Record(ctx, c)
		require.NoError(t, err)
	}
	require.NoError(t, rec.CloseRun(ctx, run.ID, at(60)))
	run.End = at(60)

	require.NoError(t, st.Close())
	return path, run
}

// execute runs the root command with args and stdin, returning stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
