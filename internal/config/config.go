package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tidwall/jsonc"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// CORPUSPREP_DATASET_URL overrides dataset.url.
const EnvPrefix = "CORPUSPREP"

// Config is the root configuration for corpusprep.
type Config struct {
	// WorkDir anchors every relative path below. Defaults to the current
	// directory.
	WorkDir string `mapstructure:"work_dir"`

	System     SystemConfig     `mapstructure:"system"`
	Venv       VenvConfig       `mapstructure:"venv"`
	Model      ModelConfig      `mapstructure:"model"`
	Dataset    DatasetConfig    `mapstructure:"dataset"`
	Sandbox    SandboxConfig    `mapstructure:"sandbox"`
	Preprocess PreprocessConfig `mapstructure:"preprocess"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

type SystemConfig struct {
	PackageManager string   `mapstructure:"package_manager"`
	Packages       []string `mapstructure:"packages"`
	UseSudo        bool     `mapstructure:"use_sudo"`
}

type VenvConfig struct {
	Dir          string   `mapstructure:"dir"`
	Python       string   `mapstructure:"python"`
	Tooling      []string `mapstructure:"tooling"`
	Requirements string   `mapstructure:"requirements"`
}

type ModelConfig struct {
	// Module is the Python module whose "download" subcommand fetches the
	// model, i.e. `python -m <module> download <name>`.
	Module string `mapstructure:"module"`
	Name   string `mapstructure:"name"`
}

type DatasetConfig struct {
	URL              string        `mapstructure:"url"`
	Archive          string        `mapstructure:"archive"`
	TargetDir        string        `mapstructure:"target_dir"`
	Timeout          time.Duration `mapstructure:"timeout"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
}

type SandboxConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Image   string `mapstructure:"image"`
	Mount   string `mapstructure:"mount"`
	Pull    bool   `mapstructure:"pull"`
}

type PreprocessConfig struct {
	Input       string `mapstructure:"input"`
	Output      string `mapstructure:"output"`
	Workers     int    `mapstructure:"workers"`
	Replacement string `mapstructure:"replacement"`
}

type TelemetryConfig struct {
	LogLevel     string `mapstructure:"log_level"`
	LogFormat    string `mapstructure:"log_format"`
	LogFile      string `mapstructure:"log_file"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	ServiceName  string `mapstructure:"service_name"`
}

// Load reads config from the optional file at path, then overlays
// environment variables with the CORPUSPREP_ prefix. YAML, TOML and JSON
// files are read by viper directly; files ending in .jsonc have their
// comments and trailing commas stripped first.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if err := readFile(v, path); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return &cfg, nil
}

func readFile(v *viper.Viper, path string) error {
	if strings.EqualFold(filepath.Ext(path), ".jsonc") {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading config file %s: %w", path, err)
		}
		v.SetConfigType("json")
		if err := v.ReadConfig(bytes.NewReader(jsonc.ToJSON(raw))); err != nil {
			return fmt.Errorf("parsing config file %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("work_dir", ".")

	v.SetDefault("system.package_manager", "apt-get")
	v.SetDefault("system.packages", []string{"python3-venv", "python3-pip"})
	v.SetDefault("system.use_sudo", true)

	v.SetDefault("venv.dir", "venv")
	v.SetDefault("venv.python", "python3")
	v.SetDefault("venv.tooling", []string{"pip", "setuptools", "wheel"})
	v.SetDefault("venv.requirements", "requirements.txt")

	v.SetDefault("model.module", "spacy")
	v.SetDefault("model.name", "en_core_web_lg")

	v.SetDefault("dataset.url", "https://www.cs.cmu.edu/~enron/enron_mail_20150507.tar.gz")
	v.SetDefault("dataset.archive", "enron_mail_20150507.tar.gz")
	v.SetDefault("dataset.target_dir", "data")
	// Zero leaves the download unbounded; the archive is large and mirrors are slow.
	v.SetDefault("dataset.timeout", time.Duration(0))
	v.SetDefault("dataset.progress_interval", 5*time.Second)

	v.SetDefault("sandbox.enabled", false)
	v.SetDefault("sandbox.image", "python:3.11-slim")
	v.SetDefault("sandbox.mount", "/workspace")
	v.SetDefault("sandbox.pull", true)

	v.SetDefault("preprocess.input", "data/maildir")
	v.SetDefault("preprocess.output", "enron_anonymized.jsonl")
	v.SetDefault("preprocess.workers", 0)
	v.SetDefault("preprocess.replacement", "<REDACTED>")

	v.SetDefault("telemetry.log_level", "info")
	v.SetDefault("telemetry.log_format", "text")
	v.SetDefault("telemetry.log_file", "")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.service_name", "corpusprep")
}

// Validate checks the values the bootstrap sequence cannot run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Venv.Dir) == "" {
		return fmt.Errorf("venv.dir must not be empty")
	}
	if strings.TrimSpace(c.Venv.Python) == "" {
		return fmt.Errorf("venv.python must not be empty")
	}
	if strings.TrimSpace(c.Dataset.Archive) == "" {
		return fmt.Errorf("dataset.archive must not be empty")
	}
	if strings.TrimSpace(c.Dataset.TargetDir) == "" {
		return fmt.Errorf("dataset.target_dir must not be empty")
	}

	u, err := url.Parse(c.Dataset.URL)
	if err != nil {
		return fmt.Errorf("dataset.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("dataset.url: unsupported scheme %q (valid: http, https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("dataset.url: missing host")
	}

	if c.Preprocess.Workers < 0 {
		return fmt.Errorf("preprocess.workers must not be negative")
	}
	if c.Sandbox.Enabled && strings.TrimSpace(c.Sandbox.Image) == "" {
		return fmt.Errorf("sandbox.image must be set when the sandbox is enabled")
	}
	if c.Sandbox.Enabled && !strings.HasPrefix(c.Sandbox.Mount, "/") {
		return fmt.Errorf("sandbox.mount must be an absolute container path, got %q", c.Sandbox.Mount)
	}
	return nil
}

// Path resolves p against WorkDir. Absolute paths are returned unchanged.
func (c *Config) Path(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	base := c.WorkDir
	if base == "" {
		base = "."
	}
	return filepath.Join(base, p)
}

// AbsWorkDir returns the absolute form of WorkDir.
func (c *Config) AbsWorkDir() (string, error) {
	base := c.WorkDir
	if base == "" {
		base = "."
	}
	return filepath.Abs(base)
}
