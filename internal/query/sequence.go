package query

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/runlog/internal/event"
	"github.com/roach88/runlog/internal/store"
)

// SequenceParams selects the causal subtree under a root event.
type SequenceParams struct {
	RunID  string `json:"run_id"`
	RootID string `json:"root_id"`
	// MaxDepth bounds the traversal; zero means the engine default.
	MaxDepth int  `json:"max_depth,omitempty"`
	Page     Page `json:"page"`
}

// EventSequence returns the root event and all of its transitive
// descendants in chronological order.
//
// The walk is breadth-first, one store read per level, with a visited set,
// so a cyclic parent chain terminates. Meta.Truncated is set when the depth
// bound or the node cap left descendants unvisited.
func (e *Engine) EventSequence(ctx context.Context, p SequenceParams) (EventsResult, error) {
	if err := requireRunID(p.RunID); err != nil {
		return EventsResult{}, err
	}
	if !event.ValidID(p.RootID) {
		return EventsResult{}, &ParamError{Field: "root_id", Message: "must be a UUID"}
	}
	maxDepth, err := e.depth(p.MaxDepth)
	if err != nil {
		return EventsResult{}, err
	}
	page, err := e.page(p.Page)
	if err != nil {
		return EventsResult{}, err
	}

	var tree []event.Event
	var truncated bool
	elapsed, err := e.execute(ctx, "event_sequence", func(ctx context.Context) error {
		if _, err := e.queryableRun(ctx, p.RunID, time.Time{}, ""); err != nil {
			return err
		}
		var err error
		tree, truncated, err = e.walk(ctx, p.RunID, p.RootID, maxDepth)
		return err
	})
	if err != nil {
		return EventsResult{}, err
	}

	start := min(page.Index*page.Size, len(tree))
	end := min(start+page.Size, len(tree))
	events := tree[start:end]
	return EventsResult{
		Events: events,
		Meta: Meta{
			ReturnedCount: len(events),
			PageIndex:     page.Index,
			PageSize:      page.Size,
			HasMore:       end < len(tree),
			ElapsedTime:   elapsed,
			Truncated:     truncated,
		},
	}, nil
}

// walk collects the subtree rooted at rootID, sorted by (ts, seq).
func (e *Engine) walk(ctx context.Context, runID, rootID string, maxDepth int) ([]event.Event, bool, error) {
	root, err := e.store.ReadEvent(ctx, runID, rootID)
	if err != nil {
		return nil, false, err
	}

	tree := []event.Event{root}
	visited := map[string]struct{}{root.ID: {}}
	frontier := []string{root.ID}
	truncated := false

	for depth := 0; len(frontier) > 0; depth++ {
		children, err := e.store.ReadChildren(ctx, runID, frontier)
		if err != nil {
			return nil, false, err
		}
		var next []string
		for _, child := range children {
			if _, seen := visited[child.ID]; seen {
				continue
			}
			if depth >= maxDepth || len(tree) >= e.maxNodes {
				truncated = true
				break
			}
			visited[child.ID] = struct{}{}
			tree = append(tree, child)
			next = append(next, child.ID)
		}
		if truncated {
			break
		}
		frontier = next
	}

	slices.SortFunc(tree, func(a, b event.Event) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return tree, truncated, nil
}

// IncompleteParams selects entry events that never got their follow-up.
type IncompleteParams struct {
	RunID      string     `json:"run_id"`
	StartType  event.Type `json:"start_type"`
	FollowType event.Type `json:"follow_type"`
	// Window bounds how long after the entry the follow-up may occur.
	// Zero means any time later in the run.
	Window time.Duration `json:"window,omitempty"`
	Range  TimeRange     `json:"range"`
	Page   Page          `json:"page"`
}

// IncompleteSequences returns events of StartType that have no descendant of
// FollowType within Window, such as position entries with no exit.
func (e *Engine) IncompleteSequences(ctx context.Context, p IncompleteParams) (EventsResult, error) {
	if err := requireRunID(p.RunID); err != nil {
		return EventsResult{}, err
	}
	if err := checkTypes("start_type", []event.Type{p.StartType}); err != nil {
		return EventsResult{}, err
	}
	if err := checkTypes("follow_type", []event.Type{p.FollowType}); err != nil {
		return EventsResult{}, err
	}
	if err := checkWindow("window", p.Window); err != nil {
		return EventsResult{}, err
	}
	if err := checkRange(p.Range); err != nil {
		return EventsResult{}, err
	}
	page, err := e.page(p.Page)
	if err != nil {
		return EventsResult{}, err
	}

	limit, offset := limitOffset(page)
	var events []event.Event
	elapsed, err := e.execute(ctx, "incomplete_sequences", func(ctx context.Context) error {
		if _, err := e.queryableRun(ctx, p.RunID, p.Range.From, "from"); err != nil {
			return err
		}
		var err error
		events, err = e.store.FindIncomplete(ctx, store.IncompleteFilter{
			RunID:      p.RunID,
			StartType:  p.StartType,
			FollowType: p.FollowType,
			Window:     p.Window,
			From:       p.Range.From,
			To:         p.Range.To,
			MaxDepth:   e.maxDepth,
			Limit:      limit,
			Offset:     offset,
		})
		return err
	})
	if err != nil {
		return EventsResult{}, err
	}

	events, meta := trimPage(events, page)
	meta.ElapsedTime = elapsed
	return EventsResult{Events: events, Meta: meta}, nil
}

func (e *Engine) depth(requested int) (int, error) {
	switch {
	case requested < 0:
		return 0, &ParamError{Field: "max_depth", Message: "must not be negative"}
	case requested == 0:
		return e.maxDepth, nil
	case requested > e.maxDepth:
		return 0, &ParamError{Field: "max_depth", Message: fmt.Sprintf("must be at most %d", e.maxDepth)}
	}
	return requested, nil
}
