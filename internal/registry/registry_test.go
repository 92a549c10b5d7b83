package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nikitakiselev/pushbot/internal/core"
)

type fakeStore struct {
	persisted []*core.Service
	deleted   []int64
	upserted  []core.ServiceConfig
	nextID    int64
}

func (f *fakeStore) ListServices(ctx context.Context) ([]*core.Service, error) {
	return f.persisted, nil
}

func (f *fakeStore) UpsertService(ctx context.Context, def core.ServiceConfig) (*core.Service, error) {
	f.upserted = append(f.upserted, def)
	f.nextID++
	return &core.Service{
		ID: f.nextID, Name: def.Name, Repository: def.Repository,
		Path: def.Path, Branch: def.Branch, DeployCommand: def.DeployCommand,
	}, nil
}

func (f *fakeStore) DeleteServiceCascade(ctx context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func TestReconcile_InsertsAndDeletes(t *testing.T) {
	fs := &fakeStore{
		persisted: []*core.Service{{ID: 1, Name: "stale"}},
	}
	reg := New(fs, zap.NewNop())

	configured := []core.ServiceConfig{
		{Name: "web", Repository: "alice/site", Branch: "main", Path: "/srv/web", DeployCommand: "echo hi"},
	}

	err := reg.Reconcile(context.Background(), configured)
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, fs.deleted)
	require.Len(t, fs.upserted, 1)
	assert.Equal(t, "web", fs.upserted[0].Name)

	svc, ok := reg.ByName("web")
	require.True(t, ok)
	assert.Equal(t, "alice/site", svc.Repository)

	_, ok = reg.ByName("stale")
	assert.False(t, ok)
}

func TestReconcile_WaitReadyUnblocks(t *testing.T) {
	fs := &fakeStore{}
	reg := New(fs, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- reg.WaitReady(context.Background()) }()

	require.NoError(t, reg.Reconcile(context.Background(), nil))
	require.NoError(t, <-done)
}

func TestFindByRepoAndBranch(t *testing.T) {
	fs := &fakeStore{}
	reg := New(fs, zap.NewNop())

	require.NoError(t, reg.Reconcile(context.Background(), []core.ServiceConfig{
		{Name: "web", Repository: "alice/site", Branch: "main", Path: "/srv/web", DeployCommand: "echo hi"},
	}))

	svc, ok := reg.FindByRepoAndBranch("alice/site", "main")
	require.True(t, ok)
	assert.Equal(t, "web", svc.Name)

	_, ok = reg.FindByRepoAndBranch("alice/site", "dev")
	assert.False(t, ok)
}

func TestFindByRepoAndBranch_DuplicatePairPicksFirstConfigured(t *testing.T) {
	fs := &fakeStore{}
	reg := New(fs, zap.NewNop())

	configured := []core.ServiceConfig{
		{Name: "web-a", Repository: "alice/site", Branch: "main", Path: "/srv/a", DeployCommand: "echo a"},
		{Name: "web-b", Repository: "alice/site", Branch: "main", Path: "/srv/b", DeployCommand: "echo b"},
	}

	for i := 0; i < 20; i++ {
		require.NoError(t, reg.Reconcile(context.Background(), configured))
		svc, ok := reg.FindByRepoAndBranch("alice/site", "main")
		require.True(t, ok)
		assert.Equal(t, "web-a", svc.Name)
	}
}
