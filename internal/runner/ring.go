package runner

import (
	"sort"
	"sync"
	"time"

	"github.com/nikitakiselev/pushbot/internal/core"
)

// ring is the in-memory, append-only log buffer for one live deployment.
// Readers take a sorted snapshot; writers only ever append (spec.md §4.D.6).
type ring struct {
	mu    sync.Mutex
	lines []core.LogLine
	subs  map[chan core.LogLine]struct{}
}

func newRing() *ring {
	return &ring{subs: make(map[chan core.LogLine]struct{})}
}

func (r *ring) append(line core.LogLine) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	subs := make([]chan core.LogLine, 0, len(r.subs))
	for ch := range r.subs {
		subs = append(subs, ch)
	}
	r.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// snapshot returns every captured line sorted stably by timestamp.
func (r *ring) snapshot() []core.LogLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.LogLine, len(r.lines))
	copy(out, r.lines)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// subscribe registers a channel that receives every line appended from
// now on. The returned func unregisters it.
func (r *ring) subscribe() (chan core.LogLine, func()) {
	ch := make(chan core.LogLine, 64)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()
	return ch, func() {
		r.mu.Lock()
		delete(r.subs, ch)
		r.mu.Unlock()
	}
}

// splitBlobs renders the sorted ring into persisted stdout/stderr text
// blobs, one timestamped line per entry (spec.md §4.D.7).
func (r *ring) splitBlobs() (stdout, stderr string) {
	var out, errb []byte
	for _, l := range r.snapshot() {
		formatted := formatLine(l)
		if l.Stream == core.StreamStdout {
			out = append(out, formatted...)
		} else {
			errb = append(errb, formatted...)
		}
	}
	return string(out), string(errb)
}

const timestampLayout = "2006-01-02 15:04:05"

func formatLine(l core.LogLine) string {
	return "[" + l.Timestamp.Format(timestampLayout) + "] " + l.Text + "\n"
}

func now() time.Time { return time.Now() }
