package docker

import (
	"fmt"
	"strings"
	"time"

	"github.com/shinji-kodama/corpusprep/internal/model"
)

// Label keys recorded on every sandbox container. Labels are the only
// record of past sandboxes; `corpusprep prune` rediscovers leftovers from
// them without any state file.
const (
	// LabelPrefix namespaces corpusprep labels away from Compose or
	// editor-set labels.
	LabelPrefix = "corpusprep."

	// LabelManagedBy marks containers created by corpusprep. It is the
	// label used for server-side filtering.
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelRunID is the bootstrap run that created the container.
	LabelRunID = LabelPrefix + "run-id"

	// LabelWorkDir is the absolute host directory bind-mounted into the
	// container.
	LabelWorkDir = LabelPrefix + "workdir"

	// LabelImage is the image reference the sandbox was started from, as
	// configured (the container's own Image field may be a digest).
	LabelImage = LabelPrefix + "image"

	// LabelCreatedAt is the RFC3339 UTC creation time.
	LabelCreatedAt = LabelPrefix + "created-at"
)

// ManagedByValue is the value of LabelManagedBy on every sandbox.
const ManagedByValue = "corpusprep"

// BuildLabels returns the labels for a sandbox container.
func BuildLabels(runID, workDir, imageRef string, createdAt time.Time) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelRunID:     runID,
		LabelWorkDir:   workDir,
		LabelImage:     imageRef,
		LabelCreatedAt: createdAt.UTC().Format(time.RFC3339),
	}
}

// ParseLabels rebuilds the label-derived fields of a SandboxInfo. Container
// ID, name and state come from the Docker API and are filled by the caller.
//
// All labels are required; the error lists every missing key at once.
func ParseLabels(labels map[string]string) (*model.SandboxInfo, error) {
	required := []string{LabelManagedBy, LabelRunID, LabelWorkDir, LabelImage, LabelCreatedAt}

	var missing []string
	for _, key := range required {
		if _, ok := labels[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required Docker labels: %s", strings.Join(missing, ", "))
	}

	if labels[LabelManagedBy] != ManagedByValue {
		return nil, fmt.Errorf(
			"label %s has unexpected value %q (expected %q)",
			LabelManagedBy, labels[LabelManagedBy], ManagedByValue,
		)
	}

	createdAt, err := time.Parse(time.RFC3339, labels[LabelCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("invalid label %s: %w", LabelCreatedAt, err)
	}

	return &model.SandboxInfo{
		RunID:     labels[LabelRunID],
		WorkDir:   labels[LabelWorkDir],
		Image:     labels[LabelImage],
		CreatedAt: createdAt,
	}, nil
}

// ContainerName returns the Docker container name for a run. Only the
// first eight characters of the run ID are used to keep `docker ps`
// readable.
func ContainerName(runID string) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return "corpusprep-" + short
}
