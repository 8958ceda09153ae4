package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/shinji-kodama/corpusprep/internal/archive"
	"github.com/shinji-kodama/corpusprep/internal/config"
	"github.com/shinji-kodama/corpusprep/internal/executor"
	"github.com/shinji-kodama/corpusprep/internal/model"
	"github.com/shinji-kodama/corpusprep/internal/venv"
)

// containerPath is the PATH seen by processes in the sandbox image.
const containerPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// Fetcher downloads a URL to a file. *fetch.Downloader implements it.
type Fetcher interface {
	Download(ctx context.Context, url, dest string) (int64, error)
}

// Extractor unpacks a tar-gzip archive. *archive.Extractor implements it.
type Extractor interface {
	ExtractTarGz(ctx context.Context, src, destDir string) (archive.Stats, error)
}

// Deps are the collaborators the steps act through.
type Deps struct {
	// Exec runs the package manager, python and pip. It may be nil when the
	// steps are only built for display.
	Exec      executor.Executor
	Fetcher   Fetcher
	Extractor Extractor
	Logger    *slog.Logger

	// RecreateVenv removes an existing virtual environment before
	// create-venv instead of skipping the step.
	RecreateVenv bool

	// Sandboxed is set when Exec runs commands inside a container. sudo is
	// never used there and the venv always has the POSIX layout.
	Sandboxed bool

	// Geteuid reports the effective user ID. nil uses os.Geteuid.
	Geteuid func() int
}

// packageManager knows the argument vectors of one system package manager.
type packageManager struct {
	refresh []string
	install []string
	// rootless managers refuse to run under sudo.
	rootless bool
}

var packageManagers = map[string]packageManager{
	"apt-get": {refresh: []string{"update"}, install: []string{"install", "-y"}},
	"apt":     {refresh: []string{"update"}, install: []string{"install", "-y"}},
	"dnf":     {refresh: []string{"makecache"}, install: []string{"install", "-y"}},
	"yum":     {refresh: []string{"makecache"}, install: []string{"install", "-y"}},
	"apk":     {refresh: []string{"update"}, install: []string{"add", "--no-cache"}},
	"brew":    {refresh: []string{"update"}, install: []string{"install"}, rootless: true},
}

// Steps builds the bootstrap sequence for cfg, in execution order.
func Steps(cfg *config.Config, deps Deps) ([]Step, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Geteuid == nil {
		deps.Geteuid = os.Geteuid
	}

	pm, ok := packageManagers[cfg.System.PackageManager]
	if !ok {
		return nil, fmt.Errorf("unsupported package manager %q", cfg.System.PackageManager)
	}

	layout := venv.HostLayout()
	if deps.Sandboxed {
		layout = venv.LayoutPOSIX
	}

	// hostEnv is where the venv lives on this machine; cmdEnv is how the
	// executing process addresses the same directory.
	venvDir := cfg.Path(cfg.Venv.Dir)
	hostEnv := venv.Environment{Dir: venvDir, Layout: layout}
	cmdEnv := venv.Environment{Dir: executor.MapPath(deps.Exec, venvDir), Layout: layout}

	basePath := os.Getenv("PATH")
	if deps.Sandboxed {
		basePath = containerPath
	}
	pyEnv := cmdEnv.Env(basePath)

	manifest := cfg.Path(cfg.Venv.Requirements)
	archivePath := cfg.Path(cfg.Dataset.Archive)
	targetDir := cfg.Path(cfg.Dataset.TargetDir)

	refreshCmd := packageCommand(cfg, deps, pm, pm.refresh)
	installCmd := packageCommand(cfg, deps, pm, append(append([]string{}, pm.install...), cfg.System.Packages...))

	venvCmd := executor.Command{
		Name: cfg.Venv.Python,
		Args: []string{"-m", "venv", cmdEnv.Dir},
	}
	toolingCmd := executor.Command{
		Name: cmdEnv.Python(),
		Args: append([]string{"-m", "pip", "install", "--upgrade"}, cfg.Venv.Tooling...),
		Env:  pyEnv,
	}
	requirementsCmd := executor.Command{
		Name: cmdEnv.Python(),
		Args: []string{"-m", "pip", "install", "-r", executor.MapPath(deps.Exec, manifest)},
		Env:  pyEnv,
	}
	modelCmd := executor.Command{
		Name: cmdEnv.Python(),
		Args: []string{"-m", cfg.Model.Module, "download", cfg.Model.Name},
		Env:  pyEnv,
	}

	steps := []Step{
		{
			Name:        model.StepSystemPackages,
			Description: "Install system packages with " + cfg.System.PackageManager,
			Commands:    []string{refreshCmd.String(), installCmd.String()},
			Action: func(ctx context.Context) (Outcome, error) {
				if len(cfg.System.Packages) == 0 {
					return Outcome{Skipped: true, Detail: "no packages configured"}, nil
				}
				if err := deps.Exec.Run(ctx, refreshCmd); err != nil {
					return Outcome{}, err
				}
				if err := deps.Exec.Run(ctx, installCmd); err != nil {
					return Outcome{}, err
				}
				return Outcome{Detail: strings.Join(cfg.System.Packages, ", ")}, nil
			},
		},
		{
			Name:        model.StepCreateVenv,
			Description: "Create the Python virtual environment at " + venvDir,
			Commands:    []string{venvCmd.String()},
			Action: func(ctx context.Context) (Outcome, error) {
				if hostEnv.Exists() {
					if !deps.RecreateVenv {
						return Outcome{Skipped: true, Detail: "virtual environment already present"}, nil
					}
					deps.Logger.InfoContext(ctx, "removing existing virtual environment", "dir", venvDir)
					if err := hostEnv.Remove(); err != nil {
						return Outcome{}, err
					}
				}
				if err := deps.Exec.Run(ctx, venvCmd); err != nil {
					return Outcome{}, err
				}
				return Outcome{Detail: venvDir}, nil
			},
		},
		{
			Name:        model.StepUpgradeTooling,
			Description: "Upgrade " + strings.Join(cfg.Venv.Tooling, ", ") + " inside the virtual environment",
			Commands:    []string{toolingCmd.String()},
			Action: func(ctx context.Context) (Outcome, error) {
				if err := deps.Exec.Run(ctx, toolingCmd); err != nil {
					return Outcome{}, err
				}
				return Outcome{Detail: strings.Join(cfg.Venv.Tooling, ", ")}, nil
			},
		},
		{
			Name:        model.StepInstallRequirements,
			Description: "Install dependencies from " + manifest,
			Commands:    []string{requirementsCmd.String()},
			Action: func(ctx context.Context) (Outcome, error) {
				info, err := os.Stat(manifest)
				if err != nil {
					return Outcome{}, fmt.Errorf("requirements manifest: %w", err)
				}
				if info.IsDir() {
					return Outcome{}, fmt.Errorf("requirements manifest %s is a directory", manifest)
				}
				if err := deps.Exec.Run(ctx, requirementsCmd); err != nil {
					return Outcome{}, err
				}
				return Outcome{Detail: manifest}, nil
			},
		},
		{
			Name:        model.StepDownloadModel,
			Description: "Download the " + cfg.Model.Name + " language model",
			Commands:    []string{modelCmd.String()},
			Action: func(ctx context.Context) (Outcome, error) {
				if err := deps.Exec.Run(ctx, modelCmd); err != nil {
					return Outcome{}, err
				}
				return Outcome{Detail: cfg.Model.Name}, nil
			},
		},
		{
			Name:        model.StepFetchArchive,
			Description: "Download the corpus archive",
			Commands:    []string{fmt.Sprintf("GET %s -> %s", cfg.Dataset.URL, archivePath)},
			Action: func(ctx context.Context) (Outcome, error) {
				if cfg.Dataset.Timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, cfg.Dataset.Timeout)
					defer cancel()
				}
				n, err := deps.Fetcher.Download(ctx, cfg.Dataset.URL, archivePath)
				if err != nil {
					return Outcome{}, err
				}
				return Outcome{Detail: formatBytes(n)}, nil
			},
		},
		{
			Name:        model.StepEnsureTarget,
			Description: "Create the extraction directory " + targetDir,
			Commands:    []string{"mkdir -p " + targetDir},
			Action: func(ctx context.Context) (Outcome, error) {
				if info, err := os.Stat(targetDir); err == nil {
					if !info.IsDir() {
						return Outcome{}, fmt.Errorf("%s exists and is not a directory", targetDir)
					}
					return Outcome{Detail: "already present"}, nil
				}
				if err := os.MkdirAll(targetDir, 0o755); err != nil {
					return Outcome{}, fmt.Errorf("creating extraction directory: %w", err)
				}
				return Outcome{Detail: "created"}, nil
			},
		},
		{
			Name:        model.StepExtractArchive,
			Description: "Extract the corpus archive into " + targetDir,
			Commands:    []string{fmt.Sprintf("tar -xzf %s -C %s", archivePath, targetDir)},
			Action: func(ctx context.Context) (Outcome, error) {
				stats, err := deps.Extractor.ExtractTarGz(ctx, archivePath, targetDir)
				if err != nil {
					return Outcome{}, err
				}
				return Outcome{Detail: fmt.Sprintf("%d files, %d directories, %s", stats.Files, stats.Dirs, formatBytes(stats.Bytes))}, nil
			},
		},
		{
			Name:        model.StepCleanupArchive,
			Description: "Delete the downloaded archive",
			Commands:    []string{"rm " + archivePath},
			Action: func(ctx context.Context) (Outcome, error) {
				if err := os.Remove(archivePath); err != nil {
					if errors.Is(err, fs.ErrNotExist) {
						return Outcome{Detail: "already removed"}, nil
					}
					return Outcome{}, fmt.Errorf("removing archive: %w", err)
				}
				return Outcome{Detail: archivePath}, nil
			},
		},
	}
	return steps, nil
}

// packageCommand prefixes args with the package manager and, when needed,
// sudo.
func packageCommand(cfg *config.Config, deps Deps, pm packageManager, args []string) executor.Command {
	name := cfg.System.PackageManager
	useSudo := cfg.System.UseSudo && !deps.Sandboxed && !pm.rootless && deps.Geteuid() != 0
	if !useSudo {
		return executor.Command{Name: name, Args: args}
	}
	return executor.Command{Name: "sudo", Args: append([]string{name}, args...)}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
