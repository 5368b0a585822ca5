package cli

import (
	"bufio"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runlog/internal/testutil"
	"github.com/roach88/runlog/internal/tools"
)

// callResult mirrors a tools.Response with the result left raw.
type callResult struct {
	ID     json.RawMessage  `json:"id"`
	Tool   string           `json:"tool"`
	Status string           `json:"status"`
	Result json.RawMessage  `json:"result"`
	Error  *tools.ErrorInfo `json:"error"`
}

type eventsResult struct {
	Events []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"events"`
	Meta struct {
		ReturnedCount int  `json:"returned_count"`
		HasMore       bool `json:"has_more"`
	} `json:"meta"`
}

func TestToolsCommand_Text(t *testing.T) {
	db, _ := seedDB(t)

	out, err := execute(t, "", "--db", db, "tools")
	require.NoError(t, err)
	for _, name := range []string{"filter_events", "event_sequence", "state_delta", "list_runs"} {
		assert.Contains(t, out, name)
	}
}

func TestToolsCommand_JSON(t *testing.T) {
	db, _ := seedDB(t)

	out, err := execute(t, "", "--db", db, "--format", "json", "tools")
	require.NoError(t, err)

	var resp struct {
		Status string             `json:"status"`
		Data   []tools.Definition `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 10)
	assert.Equal(t, "filter_events", resp.Data[0].Name)
	assert.True(t, json.Valid(resp.Data[0].InputSchema))
}

func TestCallCommand_Success(t *testing.T) {
	db, run := seedDB(t)

	args := `{"run_id":"` + run.ID + `","types":["TradeExecution"]}`
	out, err := execute(t, "", "--db", db, "--format", "json", "call", "filter_events", "--args", args)
	require.NoError(t, err)

	var resp callResult
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "filter_events", resp.Tool)
	assert.Equal(t, tools.StatusOK, resp.Status)

	var result eventsResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Events, 3)
	assert.Equal(t, testutil.ID(2), result.Events[0].ID)
	assert.Equal(t, 3, result.Meta.ReturnedCount)
	assert.False(t, result.Meta.HasMore)
}

func TestCallCommand_ToolErrorExitsWithFailure(t *testing.T) {
	db, run := seedDB(t)

	args := `{"run_id":"` + run.ID + `","event_id":"not-a-uuid"}`
	out, err := execute(t, "", "--db", db, "--format", "json", "call", "get_event", "--args", args)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp callResult
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, tools.StatusError, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, tools.CodeInvalidParams, resp.Error.Code)
	assert.Equal(t, "event_id", resp.Error.Field)
}

func TestCallCommand_UnknownTool(t *testing.T) {
	db, _ := seedDB(t)

	out, err := execute(t, "", "--db", db, "--format", "json", "call", "drop_tables")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, tools.CodeUnknownTool)
}

func TestCallCommand_InvalidArgsJSON(t *testing.T) {
	db, _ := seedDB(t)

	_, err := execute(t, "", "--db", db, "call", "list_runs", "--args", "{")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestServeCommand(t *testing.T) {
	db, run := seedDB(t)

	stdin := strings.Join([]string{
		`{"id":1,"tool":"list_runs"}`,
		`{"id":2,"tool":"events_by_entity","arguments":{"run_id":"` + run.ID + `","entity":"SecuritySymbol","value":"AAPL"}}`,
		``,
		`this is not json`,
		`{"id":"three","tool":"drop_tables"}`,
	}, "\n")

	out, err := execute(t, stdin, "--db", db, "serve", "--concurrency", "2")
	require.NoError(t, err)

	byID := map[string]callResult{}
	var malformed []callResult
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		var resp callResult
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp), "each response is one JSON line")
		if len(resp.ID) == 0 {
			malformed = append(malformed, resp)
			continue
		}
		byID[string(resp.ID)] = resp
	}
	require.NoError(t, scanner.Err())

	require.Len(t, byID, 3)
	assert.Equal(t, tools.StatusOK, byID["1"].Status)

	entity := byID["2"]
	require.Equal(t, tools.StatusOK, entity.Status)
	var result eventsResult
	require.NoError(t, json.Unmarshal(entity.Result, &result))
	assert.Len(t, result.Events, 2)

	unknown := byID[`"three"`]
	assert.Equal(t, tools.StatusError, unknown.Status)
	require.NotNil(t, unknown.Error)
	assert.Equal(t, tools.CodeUnknownTool, unknown.Error.Code)

	require.Len(t, malformed, 1)
	assert.Equal(t, tools.StatusError, malformed[0].Status)
	assert.Equal(t, tools.CodeInvalidParams, malformed[0].Error.Code)
}

func TestServeCommand_EmptyInput(t *testing.T) {
	db, _ := seedDB(t)

	out, err := execute(t, "", "--db", db, "serve")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDeleteRunCommand(t *testing.T) {
	db, run := seedDB(t)

	out, err := execute(t, "", "--db", db, "--format", "json", "delete-run", run.ID)
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			RunID         string `json:"run_id"`
			EventsRemoved int64  `json:"events_removed"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, run.ID, resp.Data.RunID)
	assert.Equal(t, int64(3), resp.Data.EventsRemoved)

	out, err = execute(t, "", "--db", db, "--format", "json", "call", "list_runs")
	require.NoError(t, err)
	var list callResult
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Contains(t, string(list.Result), `"runs":[]`)
}

func TestDeleteRunCommand_UnknownRun(t *testing.T) {
	db, _ := seedDB(t)

	out, err := execute(t, "", "--db", db, "delete-run", testutil.ID(999))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [not_found]")
}
