package broadcaster

import (
	"bufio"
	"context"
	"strings"
	"time"

	"github.com/nikitakiselev/pushbot/internal/core"
	"github.com/nikitakiselev/pushbot/internal/runner"
)

// Store is the subset of the persistence gateway the broadcaster needs
// to replay a terminated deployment's logs.
type Store interface {
	GetDeployment(ctx context.Context, id int64) (*core.Deployment, error)
}

// Runners resolves the live Runner for a deployment, if one exists.
type Runners interface {
	Runner(deploymentID int64) (*runner.Runner, bool)
}

// Event is one SSE payload emitted by Subscribe (spec.md §4.F).
type Event struct {
	Type     string `json:"type"`
	Line     string `json:"line,omitempty"`
	Status   string `json:"status,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// Broadcaster implements subscribe(deployment_id) -> event_stream,
// fanning out live Runner output or, for terminated deployments,
// replaying the persisted stdout/stderr blobs merged by timestamp.
type Broadcaster struct {
	store   Store
	runners Runners
}

func New(store Store, runners Runners) *Broadcaster {
	return &Broadcaster{store: store, runners: runners}
}

// Subscribe streams Events for one deployment to fn until the deployment
// reaches a terminal status or ctx is cancelled. fn returning false stops
// the stream early (mirrors gin's c.Stream callback convention).
func (b *Broadcaster) Subscribe(ctx context.Context, deploymentID int64, fn func(Event) bool) error {
	if r, ok := b.runners.Runner(deploymentID); ok {
		return b.streamLive(ctx, deploymentID, r, fn)
	}
	return b.replayTerminal(ctx, deploymentID, fn)
}

// streamLive replays a live Runner's current ring, then tails new lines
// as they arrive, polling at least every 500ms until the deployment
// reaches a terminal status (spec.md §4.F).
func (b *Broadcaster) streamLive(ctx context.Context, deploymentID int64, r *runner.Runner, fn func(Event) bool) error {
	snapshot, live, cancel := r.Subscribe()
	defer cancel()

	for _, l := range snapshot {
		if !fn(lineEvent(l)) {
			return nil
		}
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l := <-live:
			if !fn(lineEvent(l)) {
				return nil
			}
		case <-ticker.C:
			d, err := b.store.GetDeployment(ctx, deploymentID)
			if err != nil {
				return err
			}
			if d.Status.Terminal() {
				fn(statusEvent(d))
				return nil
			}
		}
	}
}

// replayTerminal reads the persisted stdout/stderr blobs, parses each
// line's timestamp prefix, merges the two streams in order, and emits a
// final status event (spec.md §4.F, else-branch).
func (b *Broadcaster) replayTerminal(ctx context.Context, deploymentID int64, fn func(Event) bool) error {
	d, err := b.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return err
	}

	lines := append(parseBlob(d.Stdout, core.StreamStdout), parseBlob(d.Stderr, core.StreamStderr)...)
	sortStable(lines)

	for _, l := range lines {
		if !fn(lineEvent(l)) {
			return nil
		}
	}
	fn(statusEvent(d))
	return nil
}

const timestampLayout = "2006-01-02 15:04:05"

// parseBlob splits a persisted text blob into lines, recovering each
// line's timestamp from its "[YYYY-MM-DD HH:MM:SS]" prefix. A line
// without a recognizable prefix sorts first, stably, per spec.md §4.F.
func parseBlob(blob string, stream core.LogStream) []core.LogLine {
	if blob == "" {
		return nil
	}

	var out []core.LogLine
	scanner := bufio.NewScanner(strings.NewReader(blob))
	for scanner.Scan() {
		text := scanner.Text()
		ts, rest := splitTimestamp(text)
		out = append(out, core.LogLine{Timestamp: ts, Stream: stream, Text: rest})
	}
	return out
}

func splitTimestamp(line string) (time.Time, string) {
	if len(line) < 2 || line[0] != '[' {
		return time.Time{}, line
	}
	end := strings.IndexByte(line, ']')
	if end < 0 {
		return time.Time{}, line
	}
	ts, err := time.Parse(timestampLayout, line[1:end])
	if err != nil {
		return time.Time{}, line
	}
	rest := strings.TrimPrefix(line[end+1:], " ")
	return ts, rest
}

func sortStable(lines []core.LogLine) {
	// insertion sort: input is two already-increasing runs merged, and
	// the set is small enough that O(n^2) in the worst case is fine.
	for i := 1; i < len(lines); i++ {
		for j := i; j > 0 && lines[j].Timestamp.Before(lines[j-1].Timestamp); j-- {
			lines[j], lines[j-1] = lines[j-1], lines[j]
		}
	}
}

func lineEvent(l core.LogLine) Event {
	t := "stdout"
	if l.Stream == core.StreamStderr {
		t = "stderr"
	}
	return Event{Type: t, Line: l.Text}
}

func statusEvent(d *core.Deployment) Event {
	ev := Event{Type: "status", Status: string(d.Status)}
	if d.ExitCode != nil {
		ev.ExitCode = d.ExitCode
	}
	return ev
}
