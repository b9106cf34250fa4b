package svcd

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/axondata/go-svcd/internal/logging"
)

// Default listen addresses
const (
	DefaultWebListen       = "127.0.0.1:8125"
	DefaultDiscoveryListen = ":8124"
)

// Config is the daemon configuration file
type Config struct {
	Log       logging.Config  `yaml:"log"`
	Web       WebConfig       `yaml:"web"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Auth      AuthConfig      `yaml:"auth"`
	// JobsDir holds additional *.yaml files, each with a "jobs" list
	JobsDir string      `yaml:"jobs_dir"`
	Jobs    []JobConfig `yaml:"jobs"`
}

// WebConfig configures the HTTP interface
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// DiscoveryConfig configures the UDP discovery responder and scanner
type DiscoveryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// ScanTimeout is how long a scan collects replies
	ScanTimeout time.Duration `yaml:"scan_timeout"`
}

// AuthConfig configures client authentication
type AuthConfig struct {
	// Unauthenticated is the level of clients without credentials
	Unauthenticated string       `yaml:"unauthenticated"`
	Users           []UserConfig `yaml:"users"`
}

// UserConfig is one user of the simple authenticator. Password is either a
// bcrypt hash or, prefixed with "plain:", a clear-text password.
type UserConfig struct {
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
	Level    string `yaml:"level"`
}

// DefaultConfig returns the configuration used when no file exists
func DefaultConfig() Config {
	return Config{
		Log:       logging.DefaultConfig(),
		Web:       WebConfig{Enabled: true, Listen: DefaultWebListen},
		Discovery: DiscoveryConfig{Listen: DefaultDiscoveryListen, ScanTimeout: 2 * time.Second},
		Auth:      AuthConfig{Unauthenticated: LevelDisplay.String()},
	}
}

// LoadConfig reads the configuration file at path and the job fragments of
// its jobs directory. A missing file yields DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(content, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = DefaultWebListen
	}
	if cfg.Discovery.Listen == "" {
		cfg.Discovery.Listen = DefaultDiscoveryListen
	}
	if cfg.Discovery.ScanTimeout <= 0 {
		cfg.Discovery.ScanTimeout = 2 * time.Second
	}
	if cfg.Auth.Unauthenticated == "" {
		cfg.Auth.Unauthenticated = LevelDisplay.String()
	}
	if _, err := ParseLevel(cfg.Auth.Unauthenticated); err != nil {
		return Config{}, fmt.Errorf("auth.unauthenticated: %w", err)
	}

	if cfg.JobsDir != "" {
		dir := cfg.JobsDir
		if !filepath.IsAbs(dir) && path != "" {
			dir = filepath.Join(filepath.Dir(path), dir)
		}
		cfg.JobsDir = dir
		jobs, err := LoadJobsDir(dir)
		if err != nil {
			return Config{}, err
		}
		cfg.Jobs = append(cfg.Jobs, jobs...)
	}
	return cfg, nil
}

// LoadJobs re-reads only the job definitions of the configuration at path.
// It is the reload source of a running daemon.
func LoadJobs(path string) ([]JobConfig, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return cfg.Jobs, nil
}

// LoadJobsDir reads the "jobs" list of every *.yaml file in dir in file name
// order. A missing directory yields no jobs.
func LoadJobsDir(dir string) ([]JobConfig, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("jobs dir %s: %w", dir, err)
	}
	sort.Strings(matches)

	var jobs []JobConfig
	for _, m := range matches {
		content, err := os.ReadFile(m)
		if err != nil {
			return nil, fmt.Errorf("read jobs file: %w", err)
		}
		var frag struct {
			Jobs []JobConfig `yaml:"jobs"`
		}
		if err := yaml.Unmarshal(content, &frag); err != nil {
			return nil, fmt.Errorf("parse jobs file %s: %w", m, err)
		}
		jobs = append(jobs, frag.Jobs...)
	}
	return jobs, nil
}

// JobConfig is one configured job. Besides the common keys it keeps the raw
// YAML mapping so the backend can decode its own options.
type JobConfig struct {
	Name string
	Type string
	// Permissions is an override string such as "display=control"
	Permissions string
	// PollInterval is in seconds; empty means DefaultPollInterval, 0 disables polling
	PollInterval string

	raw yaml.Node
}

type jobConfigKeys struct {
	Name         string    `yaml:"name"`
	Type         string    `yaml:"type"`
	Permissions  string    `yaml:"permissions"`
	PollInterval yaml.Node `yaml:"pollinterval"`
}

// UnmarshalYAML decodes the common keys and keeps the node
func (c *JobConfig) UnmarshalYAML(n *yaml.Node) error {
	var keys jobConfigKeys
	if err := n.Decode(&keys); err != nil {
		return err
	}
	if keys.PollInterval.Kind != 0 && keys.PollInterval.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: pollinterval must be a number of seconds", keys.PollInterval.Line)
	}
	*c = JobConfig{
		Name:         keys.Name,
		Type:         keys.Type,
		Permissions:  keys.Permissions,
		PollInterval: keys.PollInterval.Value,
		raw:          *n,
	}
	return nil
}

// NewJobConfig builds a JobConfig in code. options is encoded as if it had
// been read from the job's YAML mapping; it may be nil.
func NewJobConfig(name, jobType string, options any) (JobConfig, error) {
	c := JobConfig{Name: name, Type: jobType}
	if options != nil {
		if err := c.raw.Encode(options); err != nil {
			return JobConfig{}, &ConfigError{Job: name, Err: err}
		}
	}
	return c, nil
}

// DecodeOptions decodes the job's YAML mapping into v. Unknown keys are ignored.
func (c JobConfig) DecodeOptions(v any) error {
	if c.raw.Kind == 0 {
		return nil
	}
	if err := c.raw.Decode(v); err != nil {
		return &ConfigError{Job: c.Name, Err: err}
	}
	return nil
}

// maxIntervalSeconds bounds intervals to what a time.Duration holds
const maxIntervalSeconds = float64(math.MaxInt64) / float64(time.Second)

// Interval parses PollInterval
func (c JobConfig) Interval() (time.Duration, error) {
	s := strings.TrimSpace(c.PollInterval)
	if s == "" {
		return DefaultPollInterval, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(secs) || secs < 0 || secs >= maxIntervalSeconds {
		return 0, fmt.Errorf("invalid pollinterval %q", c.PollInterval)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// ParsedPermissions parses the permission override string
func (c JobConfig) ParsedPermissions() (Permissions, error) {
	return ParsePermissions(c.Permissions)
}
