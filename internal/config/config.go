package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/nodekeeper/internal/detector"
	"github.com/loykin/nodekeeper/internal/logger"
	"github.com/loykin/nodekeeper/internal/process"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. NODEKEEPER_DAEMON_RPC_PORT.
const EnvPrefix = "NODEKEEPER"

// Config is the top-level TOML structure.
type Config struct {
	Log            LogConfig     `mapstructure:"log"`
	Daemon         NodeConfig    `mapstructure:"daemon"`
	AccountManager NodeConfig    `mapstructure:"account_manager"`
	Server         ServerConfig  `mapstructure:"server"`
	Metrics        MetricsConfig `mapstructure:"metrics"`
	History        HistoryConfig `mapstructure:"history"`
	RPC            RPCConfig     `mapstructure:"rpc"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // text, json or color
	Dir        string `mapstructure:"dir"`    // console and supervisor log files
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// NodeConfig is one role section.
type NodeConfig struct {
	Name         string        `mapstructure:"name"`
	Executable   string        `mapstructure:"executable"`
	Args         []string      `mapstructure:"args"`
	WorkDir      string        `mapstructure:"workdir"`
	Env          []string      `mapstructure:"env"`
	EnvFiles     []string      `mapstructure:"env_files"`
	RPCHost      string        `mapstructure:"rpc_host"`
	RPCPort      int           `mapstructure:"rpc_port"`
	PollDueTime  time.Duration `mapstructure:"poll_due_time"`
	PollPeriod   time.Duration `mapstructure:"poll_period"`
	ProbeCommand string        `mapstructure:"probe_command"` // replaces the TCP probe when set
	KillPolicy   string        `mapstructure:"kill_policy"`
	StopGrace    time.Duration `mapstructure:"stop_grace"`
	StopCommand  string        `mapstructure:"stop_command"`
	PIDFile      string        `mapstructure:"pidfile"`
}

type ServerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
	LogTail  int    `mapstructure:"log_tail"` // lines kept for GET /logs
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"` // sqlite file path or sqlite:// URL
}

type RPCConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Path    string        `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	for role, port := range map[string]int{"daemon": 11898, "account_manager": 8070} {
		v.SetDefault(role+".name", role)
		v.SetDefault(role+".executable", "")
		v.SetDefault(role+".rpc_host", process.DefaultRPCHost)
		v.SetDefault(role+".rpc_port", port)
		v.SetDefault(role+".poll_due_time", process.DefaultPollDueTime)
		v.SetDefault(role+".poll_period", process.DefaultPollPeriod)
		v.SetDefault(role+".probe_command", "")
		v.SetDefault(role+".kill_policy", string(process.KillPolicyTerminate))
		v.SetDefault(role+".stop_grace", process.DefaultStopGrace)
		v.SetDefault(role+".stop_command", "")
		v.SetDefault(role+".pidfile", "")
		v.SetDefault(role+".workdir", "")
	}

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.log_tail", 500)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "")
	v.SetDefault("rpc.timeout", 10*time.Second)
	v.SetDefault("rpc.path", "/json_rpc")
}

// Load reads the TOML file at path (optional) and applies NODEKEEPER_*
// environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.Log.Format {
	case "text", "json", "color":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be one of: text, json, color", c.Log.Format))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Server.Enabled && c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required when the server is enabled"))
	}
	if c.History.Enabled && c.History.DSN == "" {
		errs = append(errs, errors.New("history.dsn is required when history is enabled"))
	}
	return errors.Join(errs...)
}

// Node returns the section for role.
func (c *Config) Node(role process.Role) (NodeConfig, error) {
	switch role {
	case process.RoleDaemon:
		return c.Daemon, nil
	case process.RoleAccountManager:
		return c.AccountManager, nil
	default:
		return NodeConfig{}, fmt.Errorf("unknown role %q", role)
	}
}

// Spec turns the role section into a validated process.Spec.
func (c *Config) Spec(role process.Role) (process.Spec, error) {
	n, err := c.Node(role)
	if err != nil {
		return process.Spec{}, err
	}
	env, err := mergeEnv(n.EnvFiles, n.Env)
	if err != nil {
		return process.Spec{}, fmt.Errorf("%s: %w", role, err)
	}
	s := process.Spec{
		Name:        n.Name,
		Role:        role,
		Executable:  n.Executable,
		Args:        n.Args,
		WorkDir:     n.WorkDir,
		Env:         env,
		RPCHost:     n.RPCHost,
		RPCPort:     n.RPCPort,
		PollDueTime: n.PollDueTime,
		PollPeriod:  n.PollPeriod,
		KillPolicy:  process.KillPolicy(n.KillPolicy),
		StopGrace:   n.StopGrace,
		StopCommand: n.StopCommand,
		PIDFile:     n.PIDFile,
		Log: logger.Config{
			Dir:        c.Log.Dir,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
	if n.ProbeCommand != "" {
		s.Probe = detector.CommandDetector{Command: n.ProbeCommand}
	}
	if err := s.Validate(); err != nil {
		return process.Spec{}, fmt.Errorf("%s: %w", role, err)
	}
	return s.WithDefaults(), nil
}

// mergeEnv applies env files in order, then the inline list. Later keys win.
func mergeEnv(files, inline []string) ([]string, error) {
	var out []string
	idx := make(map[string]int)
	put := func(kv string) {
		k, _, _ := strings.Cut(kv, "=")
		if i, ok := idx[k]; ok {
			out[i] = kv
			return
		}
		idx[k] = len(out)
		out = append(out, kv)
	}
	for _, f := range files {
		pairs, err := loadEnvFile(f)
		if err != nil {
			return nil, err
		}
		for _, kv := range pairs {
			put(kv)
		}
	}
	for _, kv := range inline {
		put(kv)
	}
	return out, nil
}

// loadEnvFile parses KEY=VALUE lines (no export, no quotes). Lines starting
// with # are ignored.
func loadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("env file: %w", err)
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			out = append(out, strings.TrimSpace(k)+"="+strings.TrimSpace(v))
		}
	}
	return out, nil
}
