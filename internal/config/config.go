package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	LogLevel string        `yaml:"logLevel"` // debug|info|warn|error
	Backend  BackendConfig `yaml:"backend"`
	Agent    AgentConfig   `yaml:"agent"`
	Journal  JournalConfig `yaml:"journal"`
	Server   ServerConfig  `yaml:"server"`
}

// BackendConfig holds the REST backend connection settings.
type BackendConfig struct {
	BaseURL        string        `yaml:"baseUrl"`
	RequestTimeout time.Duration `yaml:"requestTimeout"` // per-call HTTP timeout
}

// AgentConfig holds the poll-loop and exchange-folder settings.
type AgentConfig struct {
	ExchangeDir        string        `yaml:"exchangeDir"`        // shared folder watched by the automation tool
	StagingDir         string        `yaml:"stagingDir"`         // local dir for downloaded trigger payloads
	PDFDir             string        `yaml:"pdfDir"`             // fallback output dir for document artifacts
	PollInterval       time.Duration `yaml:"pollInterval"`       // backend fetch cadence
	ResultPollInterval time.Duration `yaml:"resultPollInterval"` // exchange dir re-list cadence
	ResultTimeout      time.Duration `yaml:"resultTimeout"`      // default wait bound for a result file
	PDFResultTimeout   time.Duration `yaml:"pdfResultTimeout"`   // wait bound for print jobs (secondary artifact is slow)
	SettleDelay        time.Duration `yaml:"settleDelay"`        // pause before reading a freshly-appeared result
	CompanionWait      time.Duration `yaml:"companionWait"`      // extra window to wait for a companion artifact
	ResultExtensions   []string      `yaml:"resultExtensions"`   // allowed result file extensions
	MaxResultSize      ByteSize      `yaml:"maxResultSize"`      // cap on result bytes read into memory
	VerifyWorkbooks    bool          `yaml:"verifyWorkbooks"`    // warn-only integrity probe of downloaded workbooks
}

// JournalConfig holds run-history persistence settings.
type JournalConfig struct {
	DatabasePath string `yaml:"databasePath"` // optional, overrides default stagingDir/dropagent.db
}

// ServerConfig holds the status HTTP endpoint settings.
type ServerConfig struct {
	Addr         string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// ByteSize represents a size in bytes that unmarshals from strings like "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		str := strings.TrimSpace(value.Value)
		parsed, err := ParseByteSize(str)
		if err != nil {
			return err
		}
		*b = ByteSize(parsed)
		return nil
	}
	return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
}

var reNumeric = regexp.MustCompile(`^\d+$`)

// ParseByteSize parses a string like "10Mi", "20MB", "512KiB", "1024" into bytes.
// Supports Kubernetes-style quantities for binary units: Ki, Mi, Gi (case-insensitive).
// Also accepts KiB/MiB/GiB and decimal KB/MB/GB, and bare bytes.
func ParseByteSize(s string) (uint64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	if reNumeric.MatchString(s) {
		val, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size number: %w", err)
		}
		return val, nil
	}

	// Normalize to upper for suffix matching but keep numeric part as-is
	up := strings.ToUpper(s)

	type unit struct {
		suffix string
		value  uint64
	}
	units := []unit{
		// Kubernetes binary-style without 'B'
		{"KI", 1024},
		{"MI", 1024 * 1024},
		{"GI", 1024 * 1024 * 1024},
		// Binary with B
		{"KIB", 1024},
		{"MIB", 1024 * 1024},
		{"GIB", 1024 * 1024 * 1024},
		// Decimal
		{"KB", 1000},
		{"MB", 1000 * 1000},
		{"GB", 1000 * 1000 * 1000},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(up, u.suffix) {
			num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size number in %q: %w", orig, err)
			}
			return uint64(val * float64(u.value)), nil
		}
	}
	return 0, fmt.Errorf("unknown size suffix in %q", orig)
}

// Load reads YAML config from path, expands environment variables, and validates it.
// If path is empty, it will attempt to read from env var DROPAGENT_CONFIG, then default to "config.yaml".
func Load(path string) (*Config, error) {
	if path == "" {
		if env := os.Getenv("DROPAGENT_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	// Expand environment variables in file content.
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	// Ensure the local staging dir exists; the exchange dir belongs to the
	// automation tool's host and is not created here.
	if err := os.MkdirAll(cfg.Agent.StagingDir, 0o750); err != nil {
		return nil, fmt.Errorf("ensure stagingDir: %w", err)
	}
	// Default DB path under the staging dir if not set.
	if cfg.Journal.DatabasePath == "" {
		cfg.Journal.DatabasePath = filepath.Join(cfg.Agent.StagingDir, "dropagent.db")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}

	// Backend defaults
	cfg.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Backend.BaseURL), "/")
	if cfg.Backend.RequestTimeout == 0 {
		cfg.Backend.RequestTimeout = 30 * time.Second
	}

	// Agent defaults
	if cfg.Agent.PollInterval == 0 {
		cfg.Agent.PollInterval = 5 * time.Second
	}
	if cfg.Agent.ResultPollInterval == 0 {
		cfg.Agent.ResultPollInterval = 2 * time.Second
	}
	if cfg.Agent.ResultTimeout == 0 {
		cfg.Agent.ResultTimeout = 5 * time.Minute
	}
	if cfg.Agent.PDFResultTimeout == 0 {
		cfg.Agent.PDFResultTimeout = 10 * time.Minute
	}
	if cfg.Agent.SettleDelay == 0 {
		cfg.Agent.SettleDelay = 2 * time.Second
	}
	if cfg.Agent.CompanionWait == 0 {
		cfg.Agent.CompanionWait = 15 * time.Second
	}
	if len(cfg.Agent.ResultExtensions) == 0 {
		cfg.Agent.ResultExtensions = []string{".xml"}
	}
	for i, ext := range cfg.Agent.ResultExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		cfg.Agent.ResultExtensions[i] = ext
	}
	if cfg.Agent.MaxResultSize == 0 {
		cfg.Agent.MaxResultSize = ByteSize(50 * 1024 * 1024) // 50 MiB default
	}
	if cfg.Agent.PDFDir == "" && cfg.Agent.StagingDir != "" {
		cfg.Agent.PDFDir = filepath.Join(cfg.Agent.StagingDir, "pdf")
	}

	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8085"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Backend.BaseURL) == "" {
		return errors.New("backend.baseUrl is required")
	}
	if strings.TrimSpace(cfg.Agent.ExchangeDir) == "" {
		return errors.New("agent.exchangeDir is required")
	}
	if strings.TrimSpace(cfg.Agent.StagingDir) == "" {
		return errors.New("agent.stagingDir is required")
	}
	if cfg.Agent.ResultPollInterval <= 0 {
		return fmt.Errorf("agent.resultPollInterval must be positive")
	}
	if cfg.Agent.ResultTimeout < cfg.Agent.ResultPollInterval {
		return fmt.Errorf("agent.resultTimeout must not be shorter than agent.resultPollInterval")
	}
	return nil
}
