package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/runlog/internal/event"
)

var testStart = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

const testHash = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// createOpenRun creates an open run starting at testStart.
func createOpenRun(t *testing.T, s *Store, id string) event.Run {
	t.Helper()
	run := event.Run{ID: id, Start: testStart, ConfigHash: testHash, CreatedAt: testStart}
	require.NoError(t, s.CreateRun(context.Background(), run))
	return run
}

// testUUID returns a deterministic UUID-shaped id ending in n.
func testUUID(n int) string {
	return fmt.Sprintf("00000000-0000-7000-8000-%012d", n)
}

// testEvent builds a valid event offset from testStart.
func testEvent(runID string, n int, offset time.Duration, typ event.Type, payload string) event.Event {
	return event.Event{
		ID:        testUUID(n),
		RunID:     runID,
		Timestamp: testStart.Add(offset),
		Type:      typ,
		Severity:  event.SeverityInfo,
		Category:  event.CategoryExecution,
		Payload:   json.RawMessage(payload),
	}
}

func withParent(ev event.Event, parentID string) event.Event {
	ev.ParentID = parentID
	return ev
}
