package scheduler

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/nikitakiselev/pushbot/internal/core"
	"github.com/nikitakiselev/pushbot/internal/metrics"
	"github.com/nikitakiselev/pushbot/internal/runner"
	"github.com/nikitakiselev/pushbot/internal/store"
	"github.com/nikitakiselev/pushbot/internal/telemetry"
)

// Store is the subset of the persistence gateway the scheduler drives.
type Store interface {
	EnqueueOrRun(ctx context.Context, req store.CreateDeploymentRequest) (id int64, status core.DeploymentStatus, err error)
	PopNextQueued(ctx context.Context, serviceID int64) (*core.Deployment, error)
	GetServiceByID(ctx context.Context, id int64) (*core.Service, error)
}

// TriggerRequest is the input to Enqueue.
type TriggerRequest struct {
	Service       *core.Service
	Command       string
	CommitSHA     *string
	CommitMessage *string
	Branch        *string
	TriggeredBy   core.TriggerSource
}

// Scheduler owns the in-memory active-runner registry and the
// per-service hand-off from one finished deployment to the next queued
// one (spec.md §4.E). It never holds a queue data structure in memory:
// the queue is the set of `status=queued` rows in the store.
type Scheduler struct {
	store runner.Store
	db    Store
	log   *zap.Logger

	mu     sync.Mutex
	active map[int64]*runner.Runner
}

func New(db Store, deploymentStore runner.Store, log *zap.Logger) *Scheduler {
	return &Scheduler{
		store:  deploymentStore,
		db:     db,
		log:    log,
		active: make(map[int64]*runner.Runner),
	}
}

// Enqueue creates a Deployment for the given service: runs it
// immediately if the service is idle, or leaves it queued if another
// deployment is already running (spec.md §4.E.enqueue).
func (s *Scheduler) Enqueue(ctx context.Context, req TriggerRequest) (int64, core.DeploymentStatus, error) {
	ctx, span := telemetry.StartEnqueueSpan(ctx, req.Service.Name)
	var spanErr error
	defer func() { telemetry.EndWithStatus(span, spanErr) }()

	id, status, err := s.db.EnqueueOrRun(ctx, store.CreateDeploymentRequest{
		ServiceID:     req.Service.ID,
		CommitSHA:     req.CommitSHA,
		CommitMessage: req.CommitMessage,
		Branch:        req.Branch,
		TriggeredBy:   req.TriggeredBy,
	})
	if err != nil {
		spanErr = err
		return 0, "", err
	}

	if status == core.StatusRunning {
		s.start(id, req.Service, req.Command, req.TriggeredBy)
	} else {
		metrics.QueueDepth.WithLabelValues(req.Service.Name).Inc()
	}
	return id, status, nil
}

// start launches a Runner for an already-running Deployment row and
// arranges for onRunnerDone to fire when it exits.
func (s *Scheduler) start(deploymentID int64, service *core.Service, command string, triggeredBy core.TriggerSource) {
	r := runner.New(deploymentID, service, command, triggeredBy, s.store, s.log)

	s.mu.Lock()
	s.active[deploymentID] = r
	s.mu.Unlock()

	go func() {
		ctx, span := telemetry.StartRunnerSpan(context.Background(), service.Name, deploymentID, string(triggeredBy))
		r.Run(ctx)
		telemetry.EndWithStatus(span, nil)

		s.mu.Lock()
		delete(s.active, deploymentID)
		s.mu.Unlock()

		s.onRunnerDone(context.Background(), service.ID)
	}()
}

// onRunnerDone promotes the next queued Deployment for a service to
// running and starts it, re-reading the Service so a config change
// between enqueue and dequeue takes effect (spec.md §4.E.on_runner_done).
func (s *Scheduler) onRunnerDone(ctx context.Context, serviceID int64) {
	next, err := s.db.PopNextQueued(ctx, serviceID)
	if err != nil {
		s.log.Error("pop next queued deployment", zap.Int64("service_id", serviceID), zap.Error(err))
		return
	}
	if next == nil {
		return
	}

	svc, err := s.db.GetServiceByID(ctx, serviceID)
	if err != nil {
		s.log.Error("reload service for queued deployment", zap.Int64("service_id", serviceID), zap.Error(err))
		return
	}

	metrics.QueueDepth.WithLabelValues(svc.Name).Dec()
	s.start(next.ID, svc, svc.DeployCommand, next.TriggeredBy)
}

// Runner returns the live Runner for a deployment, if any.
func (s *Scheduler) Runner(deploymentID int64) (*runner.Runner, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.active[deploymentID]
	return r, ok
}

// StopAll terminates every live Runner. Called on process shutdown.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	runners := make([]*runner.Runner, 0, len(s.active))
	for _, r := range s.active {
		runners = append(runners, r)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r *runner.Runner) {
			defer wg.Done()
			r.Stop()
		}(r)
	}
	wg.Wait()
}
