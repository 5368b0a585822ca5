package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/runlog/internal/tools"
)

// maxRequestBytes bounds one request line.
const maxRequestBytes = 4 << 20

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Concurrency int
}

type serveRequest struct {
	ID        json.RawMessage `json:"id,omitempty"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type serveResponse struct {
	ID json.RawMessage `json:"id,omitempty"`
	tools.Response
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer tool calls read as JSON lines from stdin",
		Long: `Read one JSON request per line from stdin and write one JSON response per
line to stdout. Requests run concurrently; match responses to requests by id.

Request:  {"id": 1, "tool": "filter_events", "arguments": {"run_id": "..."}}
Response: {"id": 1, "tool": "filter_events", "status": "ok", "result": {...}}

Example:
  runlog serve --db ./runlog.db < requests.jsonl`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.logger.Info("serving tool calls", "db", a.cfg.Store.Path, "concurrency", opts.Concurrency)
			if err := serve(ctx, a.surface, cmd.InOrStdin(), cmd.OutOrStdout(), opts.Concurrency); err != nil {
				return WrapExitError(ExitCommandError, "serve failed", err)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 16, "maximum tool calls in flight")

	return cmd
}

// serve answers every request line of in on out until in is exhausted.
func serve(ctx context.Context, surface *tools.Surface, in io.Reader, out io.Writer, concurrency int) error {
	var mu sync.Mutex
	enc := json.NewEncoder(out)
	write := func(r serveResponse) error {
		mu.Lock()
		defer mu.Unlock()
		return enc.Encode(r)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64<<10), maxRequestBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var req serveRequest
		if err := json.Unmarshal(line, &req); err != nil {
			err := write(serveResponse{Response: tools.Response{
				Status: tools.StatusError,
				Error:  &tools.ErrorInfo{Code: tools.CodeInvalidParams, Message: "request is not valid JSON"},
			}})
			if err != nil {
				return err
			}
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return write(serveResponse{ID: req.ID, Response: surface.Call(gctx, req.Tool, req.Arguments)})
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return scanner.Err()
}
