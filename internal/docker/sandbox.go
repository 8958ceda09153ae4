package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/shinji-kodama/corpusprep/internal/executor"
	"github.com/shinji-kodama/corpusprep/internal/model"
)

// removeTimeout bounds container removal in Close, which runs after the
// run context may already be cancelled.
const removeTimeout = 30 * time.Second

// SandboxOptions configures StartSandbox.
type SandboxOptions struct {
	// Image is the container image, e.g. "python:3.11-slim".
	Image string

	// HostDir is the absolute host directory bind-mounted at MountPath.
	HostDir string

	// MountPath is the absolute container path of the bind mount.
	MountPath string

	// RunID labels and names the container.
	RunID string

	// Pull pulls Image before creating the container.
	Pull bool

	// Stdout and Stderr receive exec output. nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	Logger *slog.Logger
}

// Sandbox is an executor.Executor that runs commands inside a long-lived
// container. The work directory is shared through a bind mount, so files
// written by host-side steps (the downloaded archive, the extracted
// corpus) and by container-side steps (the venv) land in the same tree.
type Sandbox struct {
	api       apiClient
	id        string
	name      string
	hostDir   string
	mountPath string
	stdout    io.Writer
	stderr    io.Writer
	logger    *slog.Logger
}

var (
	_ executor.Executor   = (*Sandbox)(nil)
	_ executor.PathMapper = (*Sandbox)(nil)
)

// StartSandbox pulls the image if requested, then creates and starts an
// idle container with opts.HostDir mounted at opts.MountPath. The caller
// must Close the returned Sandbox to remove the container.
func StartSandbox(ctx context.Context, cli *Client, opts SandboxOptions) (*Sandbox, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Pull {
		logger.InfoContext(ctx, "pulling sandbox image", "image", opts.Image)
		rc, err := cli.inner.ImagePull(ctx, opts.Image, image.PullOptions{})
		if err != nil {
			return nil, model.WrapCLIError(
				model.ExitSandboxUnavailable,
				fmt.Sprintf("failed to pull image %q", opts.Image),
				err,
			)
		}
		// The pull only completes once the progress stream is drained.
		_, err = io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return nil, model.WrapCLIError(
				model.ExitSandboxUnavailable,
				fmt.Sprintf("failed to pull image %q", opts.Image),
				err,
			)
		}
	}

	name := ContainerName(opts.RunID)
	created, err := cli.inner.ContainerCreate(ctx,
		&container.Config{
			Image:      opts.Image,
			Cmd:        []string{"sleep", "infinity"},
			WorkingDir: opts.MountPath,
			Labels:     BuildLabels(opts.RunID, opts.HostDir, opts.Image, time.Now()),
		},
		&container.HostConfig{
			Binds: []string{opts.HostDir + ":" + opts.MountPath},
		},
		nil, nil, name,
	)
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitSandboxUnavailable,
			fmt.Sprintf("failed to create sandbox container %q", name),
			err,
		)
	}

	sb := &Sandbox{
		api:       cli.inner,
		id:        created.ID,
		name:      name,
		hostDir:   opts.HostDir,
		mountPath: opts.MountPath,
		stdout:    opts.Stdout,
		stderr:    opts.Stderr,
		logger:    logger,
	}

	if err := cli.inner.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = sb.Close()
		return nil, model.WrapCLIError(
			model.ExitSandboxUnavailable,
			fmt.Sprintf("failed to start sandbox container %q", name),
			err,
		)
	}

	logger.InfoContext(ctx, "sandbox started", "container", name, "image", opts.Image, "mount", opts.MountPath)
	return sb, nil
}

// ID returns the container ID.
func (s *Sandbox) ID() string { return s.id }

// Name returns the container name.
func (s *Sandbox) Name() string { return s.name }

// MapPath converts a host path under the bind-mounted directory to its
// container path. Paths outside the mount are returned unchanged.
func (s *Sandbox) MapPath(hostPath string) string {
	abs, err := filepath.Abs(hostPath)
	if err != nil {
		return hostPath
	}
	rel, err := filepath.Rel(s.hostDir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return hostPath
	}
	return path.Join(s.mountPath, filepath.ToSlash(rel))
}

// Run executes cmd inside the container and waits for it to exit. Output
// is demultiplexed onto the sandbox's writers as it arrives.
func (s *Sandbox) Run(ctx context.Context, cmd executor.Command) error {
	dir := s.mountPath
	if cmd.Dir != "" {
		dir = s.MapPath(cmd.Dir)
	}

	s.logger.DebugContext(ctx, "running command in sandbox", "cmd", cmd.String(), "dir", dir, "container", s.name)

	created, err := s.api.ContainerExecCreate(ctx, s.id, container.ExecOptions{
		Cmd:          append([]string{cmd.Name}, cmd.Args...),
		Env:          cmd.EnvList(),
		WorkingDir:   dir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return fmt.Errorf("creating exec for %s: %w", cmd.String(), err)
	}

	attach, err := s.api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return fmt.Errorf("attaching to %s: %w", cmd.String(), err)
	}
	defer attach.Close()

	tail := executor.NewTailBuffer(executor.StderrTailSize)
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(orDiscard(s.stdout), io.MultiWriter(orDiscard(s.stderr), tail), attach.Reader)
		copied <- err
	}()

	select {
	case err = <-copied:
	case <-ctx.Done():
		// Closing the hijacked connection unblocks StdCopy. The process
		// inside the container keeps running until Close removes it.
		attach.Close()
		<-copied
		return fmt.Errorf("%s: %w", cmd.String(), ctx.Err())
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading output of %s: %w", cmd.String(), err)
	}

	inspect, err := s.api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", cmd.String(), err)
	}
	if inspect.ExitCode != 0 {
		return &executor.ExitError{
			Command: cmd.String(),
			Code:    inspect.ExitCode,
			Stderr:  tail.String(),
		}
	}
	return nil
}

// Close force-removes the sandbox container.
func (s *Sandbox) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()

	if err := removeContainer(ctx, s.api, s.id); err != nil {
		return fmt.Errorf("removing sandbox container %s: %w", s.name, err)
	}
	s.logger.Debug("sandbox removed", "container", s.name)
	return nil
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
