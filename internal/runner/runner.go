package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nikitakiselev/pushbot/internal/core"
	"github.com/nikitakiselev/pushbot/internal/metrics"
)

// Store is the subset of the persistence gateway a Runner needs to
// record its terminal outcome.
type Store interface {
	Finalize(ctx context.Context, id int64, status core.DeploymentStatus, finishedAt time.Time, exitCode int, stdout, stderr string) error
}

// Runner supervises exactly one deployment's child process (spec.md §4.D).
// One instance lives for the duration of one running Deployment.
type Runner struct {
	DeploymentID int64

	service     *core.Service
	command     string
	triggeredBy core.TriggerSource
	store       Store
	log         *zap.Logger

	ring *ring

	mu   sync.Mutex
	cmd  *exec.Cmd
	exit chan struct{}
}

// New constructs a Runner for a not-yet-started deployment.
func New(deploymentID int64, service *core.Service, command string, triggeredBy core.TriggerSource, store Store, log *zap.Logger) *Runner {
	return &Runner{
		DeploymentID: deploymentID,
		service:      service,
		command:      command,
		triggeredBy:  triggeredBy,
		store:        store,
		log:          log.With(zap.Int64("deployment_id", deploymentID), zap.String("service", service.Name)),
		ring:         newRing(),
		exit:         make(chan struct{}),
	}
}

// Subscribe exposes this Runner's live ring to the log broadcaster.
func (r *Runner) Subscribe() (snapshot []core.LogLine, live chan core.LogLine, cancel func()) {
	snapshot = r.ring.snapshot()
	live, cancel = r.ring.subscribe()
	return snapshot, live, cancel
}

// Run spawns the child process, streams its output into the ring, waits
// for it to exit, persists the outcome, and returns the exit code
// (spec.md §4.D.1-6).
func (r *Runner) Run(ctx context.Context) int {
	start := now()
	metrics.ActiveRunners.Inc()
	defer metrics.ActiveRunners.Dec()

	r.emit(core.StreamStdout, fmt.Sprintf(
		"[DEPLOY START] Service: %s, Command: %s, triggered by %s",
		r.service.Name, r.command, r.triggeredBy,
	))

	cmd := exec.CommandContext(ctx, "sh", "-c", r.command)
	cmd.Dir = r.service.Path
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return r.failSpawn(start, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return r.failSpawn(start, err)
	}

	if err := cmd.Start(); err != nil {
		return r.failSpawn(start, err)
	}

	r.mu.Lock()
	r.cmd = cmd
	r.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go r.drain(&wg, cmd, stdout, core.StreamStdout)
	go r.drain(&wg, cmd, stderr, core.StreamStderr)

	waitErr := cmd.Wait()
	close(r.exit)
	wg.Wait()

	exitCode := exitCodeOf(cmd, waitErr)
	status := core.StatusSuccess
	if exitCode != 0 {
		status = core.StatusFailed
	}

	duration := time.Since(start).Seconds()
	r.emit(core.StreamStdout, fmt.Sprintf(
		"[DEPLOY END] Status: %s, Exit Code: %d, Duration: %.2fs",
		statusWord(status), exitCode, duration,
	))

	metrics.DeploymentsTotal.WithLabelValues(r.service.Name, string(status)).Inc()
	metrics.DeploymentDuration.WithLabelValues(r.service.Name).Observe(duration)

	r.finalize(status, exitCode)
	return exitCode
}

// drain reads one stream until EOF or a read error, appending each line
// to the ring, including a final line that has no trailing newline. A
// read error other than EOF is recorded as a synthetic [ERROR] line and
// ends this reader (spec.md §4.D.3).
func (r *Runner) drain(wg *sync.WaitGroup, cmd *exec.Cmd, pipe io.Reader, stream core.LogStream) {
	defer wg.Done()

	reader := bufio.NewReader(pipe)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			r.emit(stream, trimNewline(line))
		}
		if err != nil {
			if err != io.EOF {
				r.emit(stream, fmt.Sprintf("[ERROR] Stream read error: %s", err))
			}
			return
		}
	}
}

func (r *Runner) emit(stream core.LogStream, text string) {
	r.ring.append(core.LogLine{Timestamp: now(), Stream: stream, Text: text})
}

func (r *Runner) failSpawn(start time.Time, err error) int {
	r.emit(core.StreamStderr, err.Error())
	duration := time.Since(start).Seconds()
	r.emit(core.StreamStdout, fmt.Sprintf("[DEPLOY END] Status: FAILED, Exit Code: -1, Duration: %.2fs", duration))
	metrics.DeploymentsTotal.WithLabelValues(r.service.Name, string(core.StatusFailed)).Inc()
	metrics.DeploymentDuration.WithLabelValues(r.service.Name).Observe(duration)
	r.finalize(core.StatusFailed, -1)
	return -1
}

func (r *Runner) finalize(status core.DeploymentStatus, exitCode int) {
	stdout, stderr := r.ring.splitBlobs()
	if err := r.store.Finalize(context.Background(), r.DeploymentID, status, now(), exitCode, stdout, stderr); err != nil {
		r.log.Error("finalize deployment", zap.Error(err))
	}
}

// Stop sends a graceful termination signal and force-kills after a 5s
// grace period if the child has not exited (spec.md §4.D).
func (r *Runner) Stop() {
	r.mu.Lock()
	cmd := r.cmd
	r.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}

	_ = cmd.Process.Signal(os.Interrupt)

	select {
	case <-r.exit:
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
	}
}

func exitCodeOf(cmd *exec.Cmd, waitErr error) int {
	if waitErr == nil {
		return 0
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func statusWord(s core.DeploymentStatus) string {
	if s == core.StatusSuccess {
		return "SUCCESS"
	}
	return "FAILED"
}

func trimNewline(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\n' {
		s = s[:n-1]
	}
	if n := len(s); n > 0 && s[n-1] == '\r' {
		s = s[:n-1]
	}
	return s
}
