package runner

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nikitakiselev/pushbot/internal/core"
)

type fakeStore struct {
	mu   sync.Mutex
	id   int64
	st   core.DeploymentStatus
	code int
	out  string
	errb string
}

func (f *fakeStore) Finalize(ctx context.Context, id int64, status core.DeploymentStatus, finishedAt time.Time, exitCode int, stdout, stderr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.id, f.st, f.code, f.out, f.errb = id, status, exitCode, stdout, stderr
	return nil
}

func (f *fakeStore) snapshot() (core.DeploymentStatus, int, string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st, f.code, f.out, f.errb
}

func TestRun_Success(t *testing.T) {
	fs := &fakeStore{}
	svc := &core.Service{ID: 1, Name: "web", Path: "."}
	r := New(42, svc, "echo hello", core.TriggeredByManual, fs, zap.NewNop())

	code := r.Run(context.Background())
	assert.Equal(t, 0, code)

	status, exitCode, stdout, _ := fs.snapshot()
	assert.Equal(t, core.StatusSuccess, status)
	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout, "hello")
	assert.Contains(t, stdout, "DEPLOY START")
	assert.Contains(t, stdout, "DEPLOY END")
}

func TestRun_NonZeroExit(t *testing.T) {
	fs := &fakeStore{}
	svc := &core.Service{ID: 1, Name: "web", Path: "."}
	r := New(1, svc, "exit 3", core.TriggeredByWebhook, fs, zap.NewNop())

	code := r.Run(context.Background())
	assert.Equal(t, 3, code)

	status, exitCode, _, _ := fs.snapshot()
	assert.Equal(t, core.StatusFailed, status)
	assert.Equal(t, 3, exitCode)
}

func TestRun_StderrCaptured(t *testing.T) {
	fs := &fakeStore{}
	svc := &core.Service{ID: 1, Name: "web", Path: "."}
	r := New(2, svc, "echo oops 1>&2", core.TriggeredByManual, fs, zap.NewNop())

	r.Run(context.Background())
	_, _, _, stderr := fs.snapshot()
	assert.Contains(t, stderr, "oops")
}

func TestRun_SpawnFailure(t *testing.T) {
	fs := &fakeStore{}
	svc := &core.Service{ID: 1, Name: "web", Path: "/nonexistent/path/that/does/not/exist"}
	r := New(3, svc, "echo hi", core.TriggeredByManual, fs, zap.NewNop())

	code := r.Run(context.Background())
	assert.Equal(t, -1, code)

	status, exitCode, _, _ := fs.snapshot()
	assert.Equal(t, core.StatusFailed, status)
	assert.Equal(t, -1, exitCode)
}

func TestSubscribe_ReplaysAndTails(t *testing.T) {
	fs := &fakeStore{}
	svc := &core.Service{ID: 1, Name: "web", Path: "."}
	r := New(4, svc, "sh -c 'echo one; sleep 0.05; echo two'", core.TriggeredByManual, fs, zap.NewNop())

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	snapshot, live, cancel := r.Subscribe()
	defer cancel()

	var seen []string
	for _, l := range snapshot {
		seen = append(seen, l.Text)
	}
	timeout := time.After(2 * time.Second)
	for {
		select {
		case l := <-live:
			seen = append(seen, l.Text)
			if strings.Contains(l.Text, "DEPLOY END") {
				goto done
			}
		case <-timeout:
			t.Fatal("timed out waiting for lines")
		}
	}
done:
	<-done
	joined := strings.Join(seen, "\n")
	assert.Contains(t, joined, "DEPLOY START")
	assert.Contains(t, joined, "two")
}

func TestStop_ForceKillsAfterGrace(t *testing.T) {
	fs := &fakeStore{}
	svc := &core.Service{ID: 1, Name: "web", Path: "."}
	r := New(5, svc, "trap '' TERM INT; sleep 30", core.TriggeredByManual, fs, zap.NewNop())

	started := make(chan struct{})
	doneCh := make(chan int, 1)
	go func() {
		close(started)
		doneCh <- r.Run(context.Background())
	}()

	<-started
	time.Sleep(50 * time.Millisecond)

	stopStart := time.Now()
	r.Stop()
	require.Less(t, time.Since(stopStart), 10*time.Second)

	select {
	case <-doneCh:
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not exit after Stop")
	}
}
