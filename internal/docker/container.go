package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"

	"github.com/shinji-kodama/corpusprep/internal/model"
)

// ListSandboxes returns every container carrying the corpusprep
// managed-by label, including stopped ones, oldest first. Containers whose
// labels cannot be parsed are logged and left out.
func ListSandboxes(ctx context.Context, cli *Client) ([]model.SandboxInfo, error) {
	containers, err := cli.inner.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", LabelManagedBy+"="+ManagedByValue),
		),
	})
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitSandboxUnavailable,
			"failed to list Docker containers",
			err,
		)
	}

	result := make([]model.SandboxInfo, 0, len(containers))
	for _, c := range containers {
		info, err := summaryToInfo(c)
		if err != nil {
			slog.WarnContext(ctx, "ignoring container with malformed labels", "container", c.ID, "err", err)
			continue
		}
		result = append(result, *info)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// summaryToInfo maps a Docker container summary onto SandboxInfo.
func summaryToInfo(c container.Summary) (*model.SandboxInfo, error) {
	info, err := ParseLabels(c.Labels)
	if err != nil {
		return nil, err
	}

	info.ContainerID = c.ID
	if len(c.Names) > 0 {
		// The API reports names with a leading "/".
		info.ContainerName = strings.TrimPrefix(c.Names[0], "/")
	}
	info.State = string(c.State)
	return info, nil
}

// RemoveContainer force-removes a container by ID, killing it first if it
// is still running.
func RemoveContainer(ctx context.Context, cli *Client, containerID string) error {
	if err := removeContainer(ctx, cli.inner, containerID); err != nil {
		return model.WrapCLIError(
			model.ExitSandboxUnavailable,
			fmt.Sprintf("failed to remove container %q", containerID),
			err,
		)
	}
	return nil
}

func removeContainer(ctx context.Context, api apiClient, containerID string) error {
	return api.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
}
