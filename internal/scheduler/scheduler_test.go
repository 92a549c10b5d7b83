package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nikitakiselev/pushbot/internal/core"
	"github.com/nikitakiselev/pushbot/internal/store"
)

type fakeDB struct {
	mu         sync.Mutex
	services   map[int64]*core.Service
	running    map[int64]bool
	queued     map[int64][]*core.Deployment
	nextID     int64
}

func newFakeDB(svc *core.Service) *fakeDB {
	return &fakeDB{
		services: map[int64]*core.Service{svc.ID: svc},
		running:  map[int64]bool{},
		queued:   map[int64][]*core.Deployment{},
	}
}

func (f *fakeDB) EnqueueOrRun(ctx context.Context, req store.CreateDeploymentRequest) (int64, core.DeploymentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := f.nextID
	status := core.StatusRunning
	if f.running[req.ServiceID] {
		status = core.StatusQueued
	} else {
		f.running[req.ServiceID] = true
	}

	d := &core.Deployment{ID: id, ServiceID: req.ServiceID, Status: status, TriggeredBy: req.TriggeredBy, StartedAt: time.Now()}
	if status == core.StatusQueued {
		f.queued[req.ServiceID] = append(f.queued[req.ServiceID], d)
	}
	return id, status, nil
}

func (f *fakeDB) PopNextQueued(ctx context.Context, serviceID int64) (*core.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	q := f.queued[serviceID]
	if len(q) == 0 {
		f.running[serviceID] = false
		return nil, nil
	}
	next := q[0]
	f.queued[serviceID] = q[1:]
	next.Status = core.StatusRunning
	f.running[serviceID] = true
	return next, nil
}

func (f *fakeDB) GetServiceByID(ctx context.Context, id int64) (*core.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.services[id], nil
}

type fakeRunnerStore struct{}

func (fakeRunnerStore) Finalize(ctx context.Context, id int64, status core.DeploymentStatus, finishedAt time.Time, exitCode int, stdout, stderr string) error {
	return nil
}

func TestEnqueue_SerializesPerService(t *testing.T) {
	svc := &core.Service{ID: 1, Name: "web", Path: ".", DeployCommand: "sleep 0.1"}
	db := newFakeDB(svc)
	sched := New(db, fakeRunnerStore{}, zap.NewNop())

	id1, status1, err := sched.Enqueue(context.Background(), TriggerRequest{
		Service: svc, Command: svc.DeployCommand, TriggeredBy: core.TriggeredByWebhook,
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusRunning, status1)

	id2, status2, err := sched.Enqueue(context.Background(), TriggerRequest{
		Service: svc, Command: svc.DeployCommand, TriggeredBy: core.TriggeredByWebhook,
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, status2)
	assert.NotEqual(t, id1, id2)

	deadline := time.After(3 * time.Second)
	for {
		_, ok1 := sched.Runner(id1)
		_, ok2 := sched.Runner(id2)
		if !ok1 && !ok2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("deployments never settled")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
