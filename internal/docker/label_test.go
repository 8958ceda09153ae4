package docker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBuildLabels verifies every sandbox label is set and the timestamp is
// normalised to UTC.
func TestBuildLabels(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	createdAt := time.Date(2026, 10, 19, 19, 0, 0, 0, jst)

	labels := BuildLabels("3f2c9a7e-1111-2222-3333-444455556666", "/home/u/corpus", "python:3.11-slim", createdAt)

	assert.Equal(t, ManagedByValue, labels[LabelManagedBy])
	assert.Equal(t, "3f2c9a7e-1111-2222-3333-444455556666", labels[LabelRunID])
	assert.Equal(t, "/home/u/corpus", labels[LabelWorkDir])
	assert.Equal(t, "python:3.11-slim", labels[LabelImage])
	assert.Equal(t, "2026-10-19T10:00:00Z", labels[LabelCreatedAt])
	assert.Len(t, labels, 5)
}

// TestParseLabels_RoundTrip verifies ParseLabels is the inverse of
// BuildLabels for the label-derived fields.
func TestParseLabels_RoundTrip(t *testing.T) {
	createdAt := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	labels := BuildLabels("run-1", "/srv/corpus", "python:3.12", createdAt)

	info, err := ParseLabels(labels)
	require.NoError(t, err)

	assert.Equal(t, "run-1", info.RunID)
	assert.Equal(t, "/srv/corpus", info.WorkDir)
	assert.Equal(t, "python:3.12", info.Image)
	assert.True(t, createdAt.Equal(info.CreatedAt))
	assert.Empty(t, info.ContainerID, "container fields come from the API, not labels")
}

func TestParseLabels_Errors(t *testing.T) {
	valid := func() map[string]string {
		return BuildLabels("run-1", "/srv/corpus", "python:3.12", time.Now())
	}

	tests := []struct {
		name    string
		mutate  func(map[string]string)
		wantMsg string
	}{
		{
			name: "missing keys are all listed",
			mutate: func(l map[string]string) {
				delete(l, LabelRunID)
				delete(l, LabelImage)
			},
			wantMsg: LabelRunID + ", " + LabelImage,
		},
		{
			name:    "foreign manager",
			mutate:  func(l map[string]string) { l[LabelManagedBy] = "someone-else" },
			wantMsg: "unexpected value",
		},
		{
			name:    "bad timestamp",
			mutate:  func(l map[string]string) { l[LabelCreatedAt] = "yesterday" },
			wantMsg: LabelCreatedAt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			labels := valid()
			tt.mutate(labels)

			_, err := ParseLabels(labels)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "corpusprep-3f2c9a7e", ContainerName("3f2c9a7e-1111-2222-3333-444455556666"))
	assert.Equal(t, "corpusprep-abc", ContainerName("abc"))
}
