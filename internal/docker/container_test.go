package docker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/corpusprep/internal/model"
)

func makeSummary(id, name, runID string, createdAt time.Time) container.Summary {
	return container.Summary{
		ID:     id,
		Names:  []string{"/" + name},
		Labels: BuildLabels(runID, "/srv/corpus", "python:3.11-slim", createdAt),
	}
}

// TestListSandboxes verifies label filtering is requested server-side,
// results are sorted oldest first, and malformed containers are skipped.
func TestListSandboxes(t *testing.T) {
	older := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)

	running := makeSummary("bbb", "corpusprep-run-b", "run-b", newer)
	running.State = "running"

	broken := makeSummary("ccc", "corpusprep-broken", "run-c", newer)
	delete(broken.Labels, LabelWorkDir)

	exited := makeSummary("aaa", "corpusprep-run-a", "run-a", older)
	exited.State = "exited"

	api := &fakeAPI{summaries: []container.Summary{running, broken, exited}}

	got, err := ListSandboxes(context.Background(), &Client{inner: api})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "aaa", got[0].ContainerID)
	assert.Equal(t, "corpusprep-run-a", got[0].ContainerName, "leading slash is stripped")
	assert.Equal(t, "exited", got[0].State)
	assert.Equal(t, "run-a", got[0].RunID)
	assert.Equal(t, "bbb", got[1].ContainerID)

	assert.True(t, api.listOpts.All, "stopped containers must be listed too")
	assert.Equal(t, []string{LabelManagedBy + "=" + ManagedByValue}, api.listOpts.Filters.Get("label"))
}

func TestListSandboxes_DaemonError(t *testing.T) {
	api := &fakeAPI{listErr: errors.New("connection refused")}

	_, err := ListSandboxes(context.Background(), &Client{inner: api})
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitSandboxUnavailable, cliErr.Code)
}

func TestRemoveContainer(t *testing.T) {
	api := &fakeAPI{}
	require.NoError(t, RemoveContainer(context.Background(), &Client{inner: api}, "aaa"))
	assert.Equal(t, []string{"aaa"}, api.removed)
}

func TestClientPing(t *testing.T) {
	ok := &Client{inner: &fakeAPI{}}
	assert.NoError(t, ok.Ping(context.Background()))

	down := &Client{inner: &fakeAPI{pingErr: errors.New("no such file")}}
	err := down.Ping(context.Background())

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitSandboxUnavailable, cliErr.Code)
}

func TestDetectUnixSocket(t *testing.T) {
	dir := t.TempDir()

	_, err := detectUnixSocket([]string{dir + "/missing.sock"})
	assert.Error(t, err)

	host, err := detectUnixSocket([]string{dir + "/missing.sock", dir})
	require.NoError(t, err)
	assert.Equal(t, "unix://"+dir, host)
}
