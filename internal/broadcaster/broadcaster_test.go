package broadcaster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikitakiselev/pushbot/internal/core"
	"github.com/nikitakiselev/pushbot/internal/runner"
)

type fakeStore struct {
	deployment *core.Deployment
}

func (f *fakeStore) GetDeployment(ctx context.Context, id int64) (*core.Deployment, error) {
	return f.deployment, nil
}

type fakeRunners struct{}

func (fakeRunners) Runner(deploymentID int64) (*runner.Runner, bool) {
	return nil, false
}

func TestReplayTerminal_MergesByTimestamp(t *testing.T) {
	exitCode := 0
	d := &core.Deployment{
		ID:       1,
		Status:   core.StatusSuccess,
		ExitCode: &exitCode,
		Stdout:   "[2026-01-01 10:00:00] first\n[2026-01-01 10:00:02] third\n",
		Stderr:   "[2026-01-01 10:00:01] second\n",
	}
	bc := New(&fakeStore{deployment: d}, fakeRunners{})

	var got []Event
	err := bc.Subscribe(context.Background(), 1, func(ev Event) bool {
		got = append(got, ev)
		return true
	})
	require.NoError(t, err)

	require.Len(t, got, 4)
	assert.Equal(t, "first", got[0].Line)
	assert.Equal(t, "second", got[1].Line)
	assert.Equal(t, "third", got[2].Line)
	assert.Equal(t, "status", got[3].Type)
	assert.Equal(t, "success", got[3].Status)
}

func TestReplayTerminal_MissingPrefixSortsFirst(t *testing.T) {
	exitCode := 1
	d := &core.Deployment{
		ID:       2,
		Status:   core.StatusFailed,
		ExitCode: &exitCode,
		Stdout:   "[2026-01-01 10:00:05] later\n",
		Stderr:   "no timestamp here\n",
	}
	bc := New(&fakeStore{deployment: d}, fakeRunners{})

	var got []Event
	err := bc.Subscribe(context.Background(), 2, func(ev Event) bool {
		got = append(got, ev)
		return true
	})
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, "no timestamp here", got[0].Line)
	assert.Equal(t, "later", got[1].Line)
}

func TestSubscribe_StopsEarlyWhenCallbackReturnsFalse(t *testing.T) {
	d := &core.Deployment{
		ID:     3,
		Status: core.StatusSuccess,
		Stdout: "[2026-01-01 10:00:00] a\n[2026-01-01 10:00:01] b\n",
	}
	bc := New(&fakeStore{deployment: d}, fakeRunners{})

	count := 0
	err := bc.Subscribe(context.Background(), 3, func(ev Event) bool {
		count++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
