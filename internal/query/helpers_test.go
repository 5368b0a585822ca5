package query

import (
	"context"
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

// runBuilder records the events of one test run through the producer path.
type runBuilder struct {
	t   *testing.T
	rec *recorder.Recorder
	run event.Run
}

// newRun opens a run whose id is testutil.ID(firstID); its events take the
// following ids in record order.
func newRun(t *testing.T, st *store.Store, firstID int) *runBuilder {
	t.Helper()
	contracts, err := schema.LoadContracts()
	require.NoError(t, err)
	rec := recorder.New(st, contracts,
		recorder.WithIDGenerator(testutil.NewSequentialIDs(firstID)),
		recorder.WithWriterOptions(writer.WithInterval(time.Hour)),
	)
	run, err := rec.OpenRun(context.Background(), testutil.ConfigHash, testutil.Start)
	require.NoError(t, err)
	return &runBuilder{t: t, rec: rec, run: run}
}

func (b *runBuilder) at(seconds int) time.Time {
	return b.run.Start.Add(time.Duration(seconds) * time.Second)
}

func (b *runBuilder) record(c event.Candidate) event.Event {
	b.t.Helper()
	ev, err := b.rec.Record(context.Background(), c)
	require.NoError(b.t, err)
	return ev
}

// close ends the run endSeconds after its start and returns it.
func (b *runBuilder) close(endSeconds int) event.Run {
	b.t.Helper()
	end := b.at(endSeconds)
	require.NoError(b.t, b.rec.CloseRun(context.Background(), b.run.ID, end))
	b.run.End = end
	return b.run
}

func ids(events []event.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}

// storeAccessFails returns an engine over a closed store, so any store access
// errors out.
func storeAccessFails(t *testing.T) *Engine {
	t.Helper()
	st := testutil.OpenStore(t)
	require.NoError(t, st.Close())
	return New(st)
}
